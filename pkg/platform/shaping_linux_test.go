//go:build linux

package platform

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

func TestClassMinor(t *testing.T) {
	seen := make(map[uint16]string)
	for _, ip := range []string{"192.168.0.1", "192.168.1.1", "192.168.2.1", "192.168.3.254", "192.168.1.50"} {
		minor := classMinor(net.ParseIP(ip))
		assert.GreaterOrEqual(t, minor, uint16(0x100))
		assert.NotEqual(t, uint16(htbDefaultMin), minor)
		prev, dup := seen[minor]
		assert.False(t, dup, "%s collides with %s", ip, prev)
		seen[minor] = ip
	}
}

func TestNewU32Filter(t *testing.T) {
	link := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 7, Name: "eth0"}}
	filter := newU32Filter(link, net.ParseIP("192.168.1.50"), u32OffsetDst, netlink.MakeHandle(1, 0x132))

	assert.Equal(t, 7, filter.LinkIndex)
	assert.Equal(t, netlink.MakeHandle(1, 0), filter.Parent)
	require.Len(t, filter.Sel.Keys, 1)
	assert.Equal(t, uint32(0xc0a80132), filter.Sel.Keys[0].Val)
	assert.Equal(t, int32(16), filter.Sel.Keys[0].Off)
	assert.Equal(t, netlink.MakeHandle(1, 0x132), filter.ClassId)
}
