package platform

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDummynetRules(t *testing.T) {
	pipes := map[string]int{
		"192.168.1.60": dummynetPipe(net.ParseIP("192.168.1.60")),
		"192.168.1.50": dummynetPipe(net.ParseIP("192.168.1.50")),
	}
	assert.Equal(t, 10306, pipes["192.168.1.50"])

	expected := "dummynet in quick from 192.168.1.50 to any pipe 10306\n" +
		"dummynet out quick from any to 192.168.1.50 pipe 10306\n" +
		"dummynet in quick from 192.168.1.60 to any pipe 10316\n" +
		"dummynet out quick from any to 192.168.1.60 pipe 10316\n"
	assert.Equal(t, expected, renderAnchorRules(pipes, nil))
	assert.Empty(t, renderAnchorRules(nil, nil))
}

func TestRenderAnchorRulesBlocksFirst(t *testing.T) {
	pipes := map[string]int{"192.168.1.50": dummynetPipe(net.ParseIP("192.168.1.50"))}
	blocked := map[string]struct{}{"192.168.1.70": {}}

	expected := "block drop in quick from 192.168.1.70 to any\n" +
		"block drop out quick from any to 192.168.1.70\n" +
		"dummynet in quick from 192.168.1.50 to any pipe 10306\n" +
		"dummynet out quick from any to 192.168.1.50 pipe 10306\n"
	assert.Equal(t, expected, renderAnchorRules(pipes, blocked))
}

func TestIptablesRules(t *testing.T) {
	rules := iptablesRules("eth0", net.ParseIP("192.168.1.50"))
	require.Len(t, rules, 4)

	assert.Equal(t, "INPUT", rules[0].Chain)
	assert.Equal(t, []string{"-i", "eth0", "-s", "192.168.1.50", "-m", "comment", "--comment", "netwarden", "-j", "DROP"}, rules[0].Spec)
	assert.Equal(t, "OUTPUT", rules[1].Chain)
	assert.Equal(t, []string{"-o", "eth0", "-d", "192.168.1.50"}, rules[1].Spec[:4])
	assert.Equal(t, "FORWARD", rules[2].Chain)
	assert.Equal(t, "FORWARD", rules[3].Chain)
	assert.Equal(t, "-d", rules[3].Spec[2])
}
