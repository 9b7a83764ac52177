// Package platformtest provides in-memory platform and link fakes.
package platformtest

import (
	"context"
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/projectdiscovery/netwarden/pkg/arp"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// Defaults of the simulated segment
var (
	HostIP     = net.IPv4(192, 168, 1, 10).To4()
	HostMAC    = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x10}
	GatewayIP  = net.IPv4(192, 168, 1, 1).To4()
	GatewayMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xfe}
)

// Link records written frames and lets tests inject captured ones
type Link struct {
	mac    net.HardwareAddr
	fanout *platform.Fanout

	mu        sync.Mutex
	frames    [][]byte
	responder func(frame []byte) [][]byte
	writeErr  error
	closed    bool
	wg        sync.WaitGroup
}

// NewLink creates a fake link with the given hardware address
func NewLink(mac net.HardwareAddr) *Link {
	return &Link{mac: mac, fanout: platform.NewFanout()}
}

// SetResponder installs a hook whose returned frames are injected
// asynchronously after each write
func (l *Link) SetResponder(fn func(frame []byte) [][]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responder = fn
}

// SetWriteError makes every write fail with err
func (l *Link) SetWriteError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErr = err
}

func (l *Link) WriteFrame(frame []byte) error {
	l.mu.Lock()
	if l.writeErr != nil {
		err := l.writeErr
		l.mu.Unlock()
		return err
	}
	data := make([]byte, len(frame))
	copy(data, frame)
	l.frames = append(l.frames, data)
	responder := l.responder
	if responder != nil {
		l.wg.Add(1)
	}
	l.mu.Unlock()

	if responder != nil {
		go func() {
			defer l.wg.Done()
			for _, reply := range responder(data) {
				l.Inject(reply)
			}
		}()
	}
	return nil
}

// Inject publishes frame to subscribers as if it was captured
func (l *Link) Inject(frame []byte) {
	l.fanout.Publish(gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default))
}

// Wait blocks until pending responder injections are done
func (l *Link) Wait() {
	l.wg.Wait()
}

func (l *Link) Subscribe(filter platform.Filter, buffer int) *platform.Subscription {
	return l.fanout.Subscribe(filter, buffer)
}

func (l *Link) HardwareAddr() net.HardwareAddr {
	return l.mac
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close was called
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Frames returns a copy of every written frame
func (l *Link) Frames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.frames))
	copy(out, l.frames)
	return out
}

// ARPFrames decodes the written ARP frames
func (l *Link) ARPFrames() []*arp.Packet {
	var packets []*arp.Packet
	for _, frame := range l.Frames() {
		if p, err := arp.Decode(frame); err == nil {
			packets = append(packets, p)
		}
	}
	return packets
}

// Replies returns the written ARP replies
func (l *Link) Replies() []*arp.Packet {
	var replies []*arp.Packet
	for _, p := range l.ARPFrames() {
		if p.IsReply() {
			replies = append(replies, p)
		}
	}
	return replies
}

// Reset forgets the written frames
func (l *Link) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = nil
}

// Responder answers ARP requests for the given hosts, keyed by IP
func Responder(hosts map[string]net.HardwareAddr) func(frame []byte) [][]byte {
	return func(frame []byte) [][]byte {
		request, err := arp.Decode(frame)
		if err != nil || request.IsReply() {
			return nil
		}
		mac, ok := hosts[request.TargetIP.String()]
		if !ok {
			return nil
		}
		reply, err := arp.Reply(mac, request.TargetIP, mac, request.SenderIP, request.SenderMAC)
		if err != nil {
			return nil
		}
		return [][]byte{reply}
	}
}

// Platform is an in-memory platform.Platform
type Platform struct {
	mu sync.Mutex

	Interfaces   []types.Interface
	Default      *types.Interface
	GatewayValue *types.Gateway
	GatewayErr   error
	Neighbors    []types.Neighbor
	LinkValue    *Link
	RateLimitErr error
	Limits       map[string]uint64
	BlockErr     error
	Blocked      map[string]bool
	LinkErrs     map[string]error
	IsPrivileged bool
}

// New returns a privileged platform on 192.168.1.0/24 with host 192.168.1.10
// and gateway 192.168.1.1
func New() *Platform {
	iface := Interface()
	return &Platform{
		Interfaces:   []types.Interface{iface},
		Default:      &iface,
		GatewayValue: &types.Gateway{IP: GatewayIP.String(), MAC: types.NormalizeMAC(GatewayMAC)},
		LinkValue:    NewLink(HostMAC),
		Limits:       make(map[string]uint64),
		Blocked:      make(map[string]bool),
		LinkErrs:     make(map[string]error),
		IsPrivileged: true,
	}
}

// Interface returns the simulated host interface
func Interface() types.Interface {
	return types.Interface{
		Name:         "eth0",
		Index:        2,
		HardwareAddr: HostMAC,
		MAC:          types.NormalizeMAC(HostMAC),
		IP:           HostIP,
		Network:      &net.IPNet{IP: net.IPv4(192, 168, 1, 0).To4(), Mask: net.CIDRMask(24, 32)},
		PrefixLen:    24,
		Up:           true,
	}
}

func (p *Platform) ListInterfaces() ([]types.Interface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Interface, len(p.Interfaces))
	copy(out, p.Interfaces)
	return out, nil
}

func (p *Platform) DefaultInterface() (*types.Interface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Default == nil {
		return nil, types.NewError(types.KindInterfaceNotFound, "default interface", "", nil)
	}
	iface := *p.Default
	return &iface, nil
}

func (p *Platform) GatewayInfo(ctx context.Context, iface *types.Interface) (*types.Gateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GatewayErr != nil {
		return nil, p.GatewayErr
	}
	if p.GatewayValue == nil {
		return nil, types.NewError(types.KindGatewayUnresolved, "gateway", "", nil)
	}
	gw := *p.GatewayValue
	return &gw, nil
}

func (p *Platform) ReadNeighborTable() ([]types.Neighbor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Neighbor, len(p.Neighbors))
	copy(out, p.Neighbors)
	return out, nil
}

// SetNeighbors replaces the neighbor table
func (p *Platform) SetNeighbors(neighbors []types.Neighbor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Neighbors = neighbors
}

func (p *Platform) OpenLink(iface *types.Interface) (platform.Link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if iface == nil {
		return nil, types.NewError(types.KindInterfaceNotFound, "open link", "", nil)
	}
	if err := p.LinkErrs[iface.Name]; err != nil {
		return nil, err
	}
	return p.LinkValue, nil
}

// SetLinkError makes OpenLink of the named interface fail with err
func (p *Platform) SetLinkError(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LinkErrs[name] = err
}

func (p *Platform) ApplyRateLimit(iface *types.Interface, ip net.IP, bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RateLimitErr != nil {
		return p.RateLimitErr
	}
	p.Limits[ip.String()] = bps
	return nil
}

func (p *Platform) RemoveRateLimit(iface *types.Interface, ip net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RateLimitErr != nil {
		return p.RateLimitErr
	}
	delete(p.Limits, ip.String())
	return nil
}

// SetRateLimitError makes the native shaper fail with err
func (p *Platform) SetRateLimitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RateLimitErr = err
}

// Limit returns the native limit installed for ip
func (p *Platform) Limit(ip string) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bps, ok := p.Limits[ip]
	return bps, ok
}

func (p *Platform) BlockDevice(iface *types.Interface, ip net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BlockErr != nil {
		return p.BlockErr
	}
	p.Blocked[ip.String()] = true
	return nil
}

func (p *Platform) UnblockDevice(iface *types.Interface, ip net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Blocked, ip.String())
	return nil
}

// IsBlocked reports whether ip is blocked by the packet filter
func (p *Platform) IsBlocked(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Blocked[ip]
}

func (p *Platform) Privileged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.IsPrivileged
}
