package traffic

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/projectdiscovery/netwarden/pkg/platform/platformtest"
	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	segment   = &net.IPNet{IP: net.IPv4(192, 168, 1, 0).To4(), Mask: net.CIDRMask(24, 32)}
	deviceMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
)

func ipFrame(t *testing.T, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP string, payload int) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(make([]byte, payload))))
	return buf.Bytes()
}

func decode(frame []byte) gopacket.Packet {
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
}

func TestComputeSpeed(t *testing.T) {
	tests := []struct {
		name    string
		prev    Counters
		cur     Counters
		elapsed time.Duration
		want    types.Speed
	}{
		{name: "idle", prev: Counters{1000, 1000}, cur: Counters{1000, 1000}, elapsed: 5 * time.Second, want: types.Speed{}},
		{name: "delta", prev: Counters{1000, 2000}, cur: Counters{2000, 4000}, elapsed: time.Second, want: types.Speed{Upload: 8000, Download: 16000}},
		{name: "over five seconds", prev: Counters{0, 0}, cur: Counters{5000, 0}, elapsed: 5 * time.Second, want: types.Speed{Upload: 8000}},
		{name: "counter reset", prev: Counters{5000, 5000}, cur: Counters{10, 6000}, elapsed: time.Second, want: types.Speed{Download: 8000}},
		{name: "no elapsed time", prev: Counters{0, 0}, cur: Counters{100, 100}, elapsed: 0, want: types.Speed{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeSpeed(tt.prev, tt.cur, tt.elapsed))
		})
	}
}

func TestMeterObserve(t *testing.T) {
	m := NewMeter(segment, platformtest.HostIP, platformtest.HostMAC)

	m.Observe(decode(ipFrame(t, deviceMAC, platformtest.GatewayMAC, "192.168.1.50", "8.8.8.8", 100)))
	m.Observe(decode(ipFrame(t, platformtest.GatewayMAC, deviceMAC, "8.8.8.8", "192.168.1.50", 80)))
	// host traffic and frames we relayed are not device traffic
	m.Observe(decode(ipFrame(t, platformtest.HostMAC, platformtest.GatewayMAC, "192.168.1.10", "8.8.8.8", 500)))
	m.Observe(decode(ipFrame(t, platformtest.HostMAC, platformtest.GatewayMAC, "192.168.1.50", "8.8.8.8", 500)))

	assert.Equal(t, Counters{Upload: 120, Download: 100}, m.Read("192.168.1.50"))
	assert.Equal(t, Counters{}, m.Read("192.168.1.10"))
	assert.Len(t, m.Snapshot(), 1)

	m.Forget("192.168.1.50")
	assert.Empty(t, m.Snapshot())
}

func TestMeterOnLink(t *testing.T) {
	link := platformtest.NewLink(platformtest.HostMAC)
	m := NewMeter(segment, platformtest.HostIP, platformtest.HostMAC)
	m.Start(link)
	defer m.Close()

	frame := ipFrame(t, deviceMAC, platformtest.GatewayMAC, "192.168.1.50", "1.1.1.1", 30)
	link.Inject(frame)
	require.Eventually(t, func() bool {
		return m.Read("192.168.1.50").Upload == 50
	}, time.Second, 5*time.Millisecond)
}

func TestShaper(t *testing.T) {
	s := NewShaper()
	assert.True(t, s.Allow("192.168.1.50", 1<<20), "uncapped devices pass")

	s.SetLimit("192.168.1.50", 8000)
	bps, ok := s.Limit("192.168.1.50")
	require.True(t, ok)
	assert.Equal(t, uint64(8000), bps)
	assert.Equal(t, []string{"192.168.1.50"}, s.Limited())

	assert.True(t, s.Allow("192.168.1.50", minBurst))
	assert.False(t, s.Allow("192.168.1.50", minBurst))

	s.SetLimit("192.168.1.50", 0)
	_, ok = s.Limit("192.168.1.50")
	assert.False(t, ok)
	assert.Empty(t, s.Limited())
}

func newTestRelay(t *testing.T) (*Relay, *Shaper, *platformtest.Link) {
	t.Helper()
	link := platformtest.NewLink(platformtest.HostMAC)
	shaper := NewShaper()
	relay := NewRelay(link, shaper, RelayConfig{
		Network: segment,
		HostIP:  platformtest.HostIP,
		Lookup: func(ip string) (net.HardwareAddr, bool) {
			if ip == "192.168.1.50" {
				return deviceMAC, true
			}
			return nil, false
		},
		Gateway: func() (net.HardwareAddr, bool) {
			return platformtest.GatewayMAC, true
		},
	})
	return relay, shaper, link
}

func TestRelayForwardsCappedDevice(t *testing.T) {
	relay, shaper, link := newTestRelay(t)
	shaper.SetLimit("192.168.1.50", 8_000_000)

	upload := decode(ipFrame(t, deviceMAC, platformtest.HostMAC, "192.168.1.50", "8.8.8.8", 64))
	require.True(t, relay.Handle(upload))
	download := decode(ipFrame(t, platformtest.GatewayMAC, platformtest.HostMAC, "8.8.8.8", "192.168.1.50", 64))
	require.True(t, relay.Handle(download))

	frames := link.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte(platformtest.GatewayMAC), frames[0][0:6])
	assert.Equal(t, []byte(platformtest.HostMAC), frames[0][6:12])
	assert.Equal(t, []byte(deviceMAC), frames[1][0:6])

	forwarded, dropped := relay.Stats()
	assert.Equal(t, uint64(2), forwarded)
	assert.Equal(t, uint64(0), dropped)
}

func TestRelayIgnoresOtherTraffic(t *testing.T) {
	relay, shaper, link := newTestRelay(t)
	shaper.SetLimit("192.168.1.50", 8_000_000)

	// uncapped device
	assert.False(t, relay.Handle(decode(ipFrame(t, deviceMAC, platformtest.HostMAC, "192.168.1.60", "8.8.8.8", 64))))
	// addressed to the host itself
	assert.False(t, relay.Handle(decode(ipFrame(t, deviceMAC, platformtest.HostMAC, "192.168.1.50", "192.168.1.10", 64))))
	// not sent to our MAC
	assert.False(t, relay.Handle(decode(ipFrame(t, deviceMAC, platformtest.GatewayMAC, "192.168.1.50", "8.8.8.8", 64))))
	assert.Empty(t, link.Frames())
}

func TestRelayDropsOverBudget(t *testing.T) {
	relay, shaper, link := newTestRelay(t)
	shaper.SetLimit("192.168.1.50", 8000)

	frame := ipFrame(t, deviceMAC, platformtest.HostMAC, "192.168.1.50", "8.8.8.8", 1400)
	assert.True(t, relay.Handle(decode(frame)))
	assert.False(t, relay.Handle(decode(frame)))
	assert.Len(t, link.Frames(), 1)

	_, dropped := relay.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestRelayDropsCutDevice(t *testing.T) {
	relay, shaper, link := newTestRelay(t)
	shaper.SetLimit("192.168.1.50", 8_000_000)
	cut := map[string]bool{"192.168.1.50": true}
	relay.config.Blocked = func(ip string) bool {
		return cut[ip]
	}

	upload := decode(ipFrame(t, deviceMAC, platformtest.HostMAC, "192.168.1.50", "8.8.8.8", 64))
	assert.False(t, relay.Handle(upload))
	download := decode(ipFrame(t, platformtest.GatewayMAC, platformtest.HostMAC, "8.8.8.8", "192.168.1.50", 64))
	assert.False(t, relay.Handle(download))
	assert.Empty(t, link.Frames())

	_, dropped := relay.Stats()
	assert.Equal(t, uint64(2), dropped)

	delete(cut, "192.168.1.50")
	assert.True(t, relay.Handle(upload))
}
