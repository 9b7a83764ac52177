package platform

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/projectdiscovery/netwarden/pkg/arp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arpPacket(t *testing.T) gopacket.Packet {
	t.Helper()
	data, err := arp.Request(net.HardwareAddr{0x02, 0, 0, 0, 0, 0x10}, net.ParseIP("192.168.1.10"), net.ParseIP("192.168.1.1"))
	require.NoError(t, err)
	return gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
}

func TestFanoutFiltersAndDrops(t *testing.T) {
	fanout := NewFanout()
	arpSub := fanout.Subscribe(ARPOnly, 1)
	ipSub := fanout.Subscribe(IPv4Only, 1)

	fanout.Publish(arpPacket(t))
	fanout.Publish(arpPacket(t))

	assert.Len(t, arpSub.Packets(), 1)
	assert.Equal(t, uint64(1), arpSub.Dropped())
	assert.Len(t, ipSub.Packets(), 0)

	arpSub.Close()
	arpSub.Close()
	_, open := <-arpSub.Packets()
	assert.True(t, open, "buffered packet is still delivered")
	_, open = <-arpSub.Packets()
	assert.False(t, open)

	fanout.Close()
	_, open = <-ipSub.Packets()
	assert.False(t, open)

	late := fanout.Subscribe(nil, 4)
	_, open = <-late.Packets()
	assert.False(t, open)
	late.Close()
}
