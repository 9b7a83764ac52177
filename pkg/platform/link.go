package platform

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Link is a raw Ethernet frame capability bound to one interface
type Link interface {
	// WriteFrame injects a complete Ethernet frame. Calls are serialized.
	WriteFrame(frame []byte) error
	// Subscribe receives captured frames accepted by filter. A nil filter
	// accepts everything. Frames are dropped when the buffer is full.
	Subscribe(filter Filter, buffer int) *Subscription
	// HardwareAddr is the MAC of the bound interface
	HardwareAddr() net.HardwareAddr
	Close() error
}

// Filter selects captured packets for a subscriber
type Filter func(packet gopacket.Packet) bool

// ARPOnly accepts ARP frames
func ARPOnly(packet gopacket.Packet) bool {
	return packet.Layer(layers.LayerTypeARP) != nil
}

// IPv4Only accepts IPv4 frames
func IPv4Only(packet gopacket.Packet) bool {
	return packet.Layer(layers.LayerTypeIPv4) != nil
}

// Subscription is a stream of captured packets
type Subscription struct {
	id      uint64
	filter  Filter
	packets chan gopacket.Packet
	fanout  *Fanout
	dropped atomic.Uint64
	once    sync.Once
}

// Packets returns the receive channel, closed when the subscription ends
func (s *Subscription) Packets() <-chan gopacket.Packet {
	return s.packets
}

// Dropped returns the number of packets lost to a full buffer
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.fanout.remove(s.id)
	})
}

// Fanout distributes captured packets to subscribers without blocking the
// capture loop
type Fanout struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]*Subscription
	closed bool
}

// NewFanout creates an empty fanout
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber
func (f *Fanout) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	sub := &Subscription{
		id:      f.next,
		filter:  filter,
		packets: make(chan gopacket.Packet, buffer),
		fanout:  f,
	}
	if f.closed {
		close(sub.packets)
		return sub
	}
	f.subs[sub.id] = sub
	return sub
}

// Publish offers packet to every matching subscriber
func (f *Fanout) Publish(packet gopacket.Packet) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subs {
		if sub.filter != nil && !sub.filter(packet) {
			continue
		}
		select {
		case sub.packets <- packet:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close ends every subscription
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		close(sub.packets)
		delete(f.subs, id)
	}
}

func (f *Fanout) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sub, ok := f.subs[id]; ok {
		close(sub.packets)
		delete(f.subs, id)
	}
}

// sharedLink is one capture handle used by several owners
type sharedLink struct {
	Link
	refs    int
	release func()
}

// linkRef is a handle on a shared link; closing it drops one reference
type linkRef struct {
	*sharedLink
	once sync.Once
}

func (l *linkRef) Close() error {
	l.once.Do(l.release)
	return nil
}
