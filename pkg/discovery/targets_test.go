package discovery

import (
	"net"
	"testing"

	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iface(cidr, ip string) *types.Interface {
	_, network, _ := net.ParseCIDR(cidr)
	return &types.Interface{Name: "eth0", IP: net.ParseIP(ip).To4(), Network: network}
}

func TestSweepNetwork(t *testing.T) {
	tests := []struct {
		name  string
		iface *types.Interface
		want  string
	}{
		{name: "/24 kept", iface: iface("192.168.1.0/24", "192.168.1.10"), want: "192.168.1.0/24"},
		{name: "/22 kept", iface: iface("10.0.4.0/22", "10.0.5.20"), want: "10.0.4.0/22"},
		{name: "/28 kept", iface: iface("192.168.1.16/28", "192.168.1.20"), want: "192.168.1.16/28"},
		{name: "/16 reduced", iface: iface("172.16.0.0/16", "172.16.9.3"), want: "172.16.9.0/24"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, err := SweepNetwork(tt.iface)
			require.NoError(t, err)
			assert.Equal(t, tt.want, network.String())
		})
	}

	_, err := SweepNetwork(&types.Interface{Name: "tun0"})
	assert.ErrorIs(t, err, types.ErrInterfaceNotFound)
}

func TestSweepTargets(t *testing.T) {
	targets, network, err := SweepTargets(iface("192.168.1.0/24", "192.168.1.10"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", network.String())
	assert.Len(t, targets, 253)

	seen := make(map[string]bool)
	for _, ip := range targets {
		seen[ip.String()] = true
	}
	assert.False(t, seen["192.168.1.0"])
	assert.False(t, seen["192.168.1.255"])
	assert.False(t, seen["192.168.1.10"])

	// .1 and .254 lead, then .2-.5 and .250-.253
	assert.Equal(t, "192.168.1.1", targets[0].String())
	assert.Equal(t, "192.168.1.254", targets[1].String())
	assert.Equal(t, "192.168.1.2", targets[2].String())
	assert.Equal(t, PriorityTail, priority(targets[len(targets)-1]))
}

func TestPriority(t *testing.T) {
	tests := []struct {
		ip   string
		want int
	}{
		{ip: "192.168.1.1", want: PriorityGateway},
		{ip: "192.168.1.254", want: PriorityGateway},
		{ip: "192.168.1.3", want: PriorityReserved},
		{ip: "192.168.1.7", want: PriorityEarly},
		{ip: "192.168.1.100", want: PriorityPeak},
		{ip: "192.168.1.120", want: PriorityPool},
		{ip: "192.168.1.30", want: PriorityTail},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, priority(net.ParseIP(tt.ip)))
		})
	}
}
