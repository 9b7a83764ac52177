package traffic

import (
	"net"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/platform"
)

// NeighborLookup returns the hardware address of an on-link IP
type NeighborLookup func(ip string) (net.HardwareAddr, bool)

// RelayConfig describes the segment a Relay forwards on
type RelayConfig struct {
	Network *net.IPNet
	HostIP  net.IP
	// Lookup resolves devices, Gateway the next hop for off-link traffic
	Lookup  NeighborLookup
	Gateway func() (net.HardwareAddr, bool)
	// Blocked reports devices that are cut; their frames are never relayed
	Blocked func(ip string) bool
}

// Relay forwards transit frames of capped devices that reach the host,
// enforcing the Shaper buckets. Frames of uncapped devices are left to the
// host stack. Traffic that never reaches the host cannot be shaped.
type Relay struct {
	link   platform.Link
	shaper *Shaper
	config RelayConfig
	own    net.HardwareAddr

	forwarded atomic.Uint64
	dropped   atomic.Uint64

	sub  *platform.Subscription
	done chan struct{}
}

// NewRelay creates a relay writing on link
func NewRelay(link platform.Link, shaper *Shaper, config RelayConfig) *Relay {
	return &Relay{
		link:   link,
		shaper: shaper,
		config: config,
		own:    link.HardwareAddr(),
	}
}

// Start consumes transit frames until Close
func (r *Relay) Start() {
	r.sub = r.link.Subscribe(r.transit, 1024)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		for packet := range r.sub.Packets() {
			r.Handle(packet)
		}
	}()
}

// transit accepts IPv4 frames sent to our MAC by someone else
func (r *Relay) transit(packet gopacket.Packet) bool {
	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return false
	}
	return eth.DstMAC.String() == r.own.String() && eth.SrcMAC.String() != r.own.String() && packet.Layer(layers.LayerTypeIPv4) != nil
}

// Handle forwards packet if it belongs to a capped device that is not cut
// and its bucket allows it. It reports whether the frame was written.
func (r *Relay) Handle(packet gopacket.Packet) bool {
	if !r.transit(packet) {
		return false
	}
	ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok || ip.DstIP.Equal(r.config.HostIP) {
		return false
	}

	var device string
	switch {
	case r.capped(ip.SrcIP):
		device = ip.SrcIP.String()
	case r.capped(ip.DstIP):
		device = ip.DstIP.String()
	default:
		return false
	}
	if r.blocked(ip.SrcIP) || r.blocked(ip.DstIP) {
		r.dropped.Add(1)
		return false
	}

	nextHop, ok := r.nextHop(ip.DstIP)
	if !ok {
		r.dropped.Add(1)
		return false
	}
	data := packet.Data()
	if !r.shaper.Allow(device, len(data)) {
		r.dropped.Add(1)
		return false
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	copy(frame[0:6], nextHop)
	copy(frame[6:12], r.own)
	if err := r.link.WriteFrame(frame); err != nil {
		gologger.Debug().Msgf("relay of %s -> %s failed: %s", ip.SrcIP, ip.DstIP, err)
		r.dropped.Add(1)
		return false
	}
	r.forwarded.Add(1)
	return true
}

func (r *Relay) blocked(ip net.IP) bool {
	if r.config.Blocked == nil || r.config.Network == nil || !r.config.Network.Contains(ip) {
		return false
	}
	return r.config.Blocked(ip.String())
}

func (r *Relay) capped(ip net.IP) bool {
	if r.config.Network == nil || !r.config.Network.Contains(ip) {
		return false
	}
	_, ok := r.shaper.Limit(ip.String())
	return ok
}

func (r *Relay) nextHop(dst net.IP) (net.HardwareAddr, bool) {
	if r.config.Network != nil && r.config.Network.Contains(dst) {
		if r.config.Lookup == nil {
			return nil, false
		}
		return r.config.Lookup(dst.String())
	}
	if r.config.Gateway == nil {
		return nil, false
	}
	return r.config.Gateway()
}

// Stats returns the forwarded and dropped frame counts
func (r *Relay) Stats() (forwarded, dropped uint64) {
	return r.forwarded.Load(), r.dropped.Load()
}

// Close stops forwarding
func (r *Relay) Close() {
	if r.sub == nil {
		return
	}
	r.sub.Close()
	<-r.done
}
