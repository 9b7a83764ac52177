// Package traffic accounts and shapes the IPv4 traffic the host sees for
// devices on the monitored segment.
package traffic

import (
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// Counters are cumulative byte counts of one device
type Counters struct {
	Upload   uint64
	Download uint64
}

// Sample is a counter reading taken at a point in time
type Sample struct {
	Counters
	At time.Time
}

// Meter accumulates per-device byte counters from captured frames.
// Uploads are bytes the device sent, downloads bytes addressed to it.
type Meter struct {
	network *net.IPNet
	hostIP  net.IP
	own     net.HardwareAddr

	mu       sync.Mutex
	counters map[string]*Counters

	sub  *platform.Subscription
	done chan struct{}
}

// NewMeter creates a meter for devices inside network. Frames sent by own
// are skipped so relayed traffic is not counted twice.
func NewMeter(network *net.IPNet, hostIP net.IP, own net.HardwareAddr) *Meter {
	return &Meter{
		network:  network,
		hostIP:   hostIP,
		own:      own,
		counters: make(map[string]*Counters),
	}
}

// Start consumes IPv4 frames from link until Close
func (m *Meter) Start(link platform.Link) {
	m.sub = link.Subscribe(platform.IPv4Only, 4096)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		for packet := range m.sub.Packets() {
			m.Observe(packet)
		}
	}()
}

// Observe counts one captured packet
func (m *Meter) Observe(packet gopacket.Packet) {
	if ethLayer := packet.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		if eth, ok := ethLayer.(*layers.Ethernet); ok && len(m.own) > 0 && eth.SrcMAC.String() == m.own.String() {
			return
		}
	}
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return
	}
	ip, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return
	}
	size := uint64(ip.Length)
	if size == 0 {
		size = uint64(len(ip.Contents) + len(ip.Payload))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracked(ip.SrcIP) {
		m.entry(ip.SrcIP.String()).Upload += size
	}
	if m.tracked(ip.DstIP) {
		m.entry(ip.DstIP.String()).Download += size
	}
}

func (m *Meter) tracked(ip net.IP) bool {
	if m.network == nil || !m.network.Contains(ip) {
		return false
	}
	return !ip.Equal(m.hostIP)
}

func (m *Meter) entry(ip string) *Counters {
	c, ok := m.counters[ip]
	if !ok {
		c = &Counters{}
		m.counters[ip] = c
	}
	return c
}

// Add credits bytes to ip directly
func (m *Meter) Add(ip string, upload, download uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.entry(ip)
	c.Upload += upload
	c.Download += download
}

// Read returns the cumulative counters of ip
func (m *Meter) Read(ip string) Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[ip]; ok {
		return *c
	}
	return Counters{}
}

// Snapshot returns the counters of every device seen
func (m *Meter) Snapshot() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counters, len(m.counters))
	for ip, c := range m.counters {
		out[ip] = *c
	}
	return out
}

// Forget drops the counters of ip
func (m *Meter) Forget(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, ip)
}

// Close stops consuming frames
func (m *Meter) Close() {
	if m.sub == nil {
		return
	}
	m.sub.Close()
	<-m.done
}

// ComputeSpeed converts two cumulative readings into bits per second. A
// counter that went backwards is treated as a reset and yields zero.
func ComputeSpeed(prev, cur Counters, elapsed time.Duration) types.Speed {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return types.Speed{}
	}
	return types.Speed{
		Upload:   bitsPerSecond(prev.Upload, cur.Upload, seconds),
		Download: bitsPerSecond(prev.Download, cur.Download, seconds),
	}
}

func bitsPerSecond(prev, cur uint64, seconds float64) uint64 {
	if cur <= prev {
		return 0
	}
	return uint64(float64(cur-prev) * 8 / seconds)
}
