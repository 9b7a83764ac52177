package platform

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// DefaultProbeTimeout bounds the ARP probe used to resolve a gateway MAC.
// Longer configured timeouts are capped to it.
const DefaultProbeTimeout = 2 * time.Second

// Platform is the set of OS capabilities the engine relies on
type Platform interface {
	// ListInterfaces returns the IPv4 capable interfaces of the host
	ListInterfaces() ([]types.Interface, error)
	// DefaultInterface returns the interface owning the default route
	DefaultInterface() (*types.Interface, error)
	// GatewayInfo resolves the default gateway IP and MAC for iface
	GatewayInfo(ctx context.Context, iface *types.Interface) (*types.Gateway, error)
	// ReadNeighborTable returns the usable entries of the OS neighbor cache
	ReadNeighborTable() ([]types.Neighbor, error)
	// OpenLink returns the shared raw frame link of iface
	OpenLink(iface *types.Interface) (Link, error)
	// ApplyRateLimit shapes traffic to and from ip to bps bits per second
	ApplyRateLimit(iface *types.Interface, ip net.IP, bps uint64) error
	// RemoveRateLimit removes any shaping installed for ip
	RemoveRateLimit(iface *types.Interface, ip net.IP) error
	// BlockDevice drops traffic from and to ip that reaches the host
	BlockDevice(iface *types.Interface, ip net.IP) error
	// UnblockDevice removes the drop rules of ip
	UnblockDevice(iface *types.Interface, ip net.IP) error
	// Privileged reports whether the process may inject frames and shape traffic
	Privileged() bool
}

// Options tunes the OS backed platform
type Options struct {
	ProbeTimeout time.Duration
}

type osPlatform struct {
	options Options

	mu    sync.Mutex
	links map[string]*sharedLink
}

// New returns the platform implementation for the running OS
func New(options Options) Platform {
	if options.ProbeTimeout <= 0 || options.ProbeTimeout > DefaultProbeTimeout {
		options.ProbeTimeout = DefaultProbeTimeout
	}
	return &osPlatform{
		options: options,
		links:   make(map[string]*sharedLink),
	}
}

func (p *osPlatform) ListInterfaces() ([]types.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	counters := make(map[string]psnet.IOCountersStat)
	if stats, err := psnet.IOCounters(true); err == nil {
		for _, stat := range stats {
			counters[stat.Name] = stat
		}
	} else {
		gologger.Debug().Msgf("could not read interface counters: %s", err)
	}

	var result []types.Interface
	var names []string
	for _, iface := range ifaces {
		converted, ok := convertInterface(iface)
		if !ok {
			continue
		}
		if stat, ok := counters[iface.Name]; ok {
			converted.BytesSent = stat.BytesSent
			converted.BytesRecv = stat.BytesRecv
		}
		result = append(result, converted)
		names = append(names, iface.Name)
	}

	wireless := wirelessInfo(names)
	for i := range result {
		result[i].Wireless = wireless[result[i].Name]
	}
	return result, nil
}

// convertInterface keeps interfaces with a hardware address and an IPv4 address
func convertInterface(iface net.Interface) (types.Interface, bool) {
	if len(iface.HardwareAddr) != 6 {
		return types.Interface{}, false
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return types.Interface{}, false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLinkLocalUnicast() {
			continue
		}
		ones, _ := ipNet.Mask.Size()
		return types.Interface{
			Name:         iface.Name,
			Index:        iface.Index,
			HardwareAddr: iface.HardwareAddr,
			MAC:          types.NormalizeMAC(iface.HardwareAddr),
			IP:           ip4,
			Network:      &net.IPNet{IP: ip4.Mask(ipNet.Mask), Mask: ipNet.Mask},
			PrefixLen:    ones,
			Up:           iface.Flags&net.FlagUp != 0,
			Loopback:     iface.Flags&net.FlagLoopback != 0,
		}, true
	}
	return types.Interface{}, false
}

func (p *osPlatform) DefaultInterface() (*types.Interface, error) {
	ifaces, err := p.ListInterfaces()
	if err != nil {
		return nil, types.NewError(types.KindInterfaceNotFound, "default interface", "", err)
	}

	if route, err := defaultRoute(); err == nil {
		for i := range ifaces {
			if ifaces[i].Name == route.Interface || (route.Index > 0 && ifaces[i].Index == route.Index) {
				return &ifaces[i], nil
			}
		}
		gologger.Debug().Msgf("default route points at %s which has no usable IPv4 address", route.Interface)
	} else {
		gologger.Debug().Msgf("could not read default route: %s", err)
	}

	neighbors, _ := p.ReadNeighborTable()
	if iface := pickFallbackInterface(ifaces, neighbors); iface != nil {
		return iface, nil
	}
	return nil, types.NewError(types.KindInterfaceNotFound, "default interface", "", nil)
}

// pickFallbackInterface returns the first up, non-loopback interface that has
// at least one neighbor inside its network
func pickFallbackInterface(ifaces []types.Interface, neighbors []types.Neighbor) *types.Interface {
	for i := range ifaces {
		iface := &ifaces[i]
		if !iface.Up || iface.Loopback || iface.IP.IsLoopback() {
			continue
		}
		for _, n := range neighbors {
			if n.Interface == iface.Name || (n.Interface == "" && iface.Network.Contains(n.IP)) {
				return iface
			}
		}
	}
	return nil
}

func (p *osPlatform) GatewayInfo(ctx context.Context, iface *types.Interface) (*types.Gateway, error) {
	if iface == nil {
		return nil, types.NewError(types.KindInterfaceNotFound, "gateway", "", nil)
	}
	route, err := defaultRoute()
	if err != nil || route.Gateway == nil {
		return nil, types.NewError(types.KindGatewayUnresolved, "gateway", iface.Name, err)
	}
	gwIP := route.Gateway.To4()
	if gwIP == nil || !iface.Network.Contains(gwIP) {
		return nil, types.NewError(types.KindGatewayUnresolved, "gateway", iface.Name, fmt.Errorf("gateway %s is not on %s", route.Gateway, iface.Network))
	}

	if neighbors, err := p.ReadNeighborTable(); err == nil {
		for _, n := range neighbors {
			if n.IP.Equal(gwIP) {
				return &types.Gateway{IP: gwIP.String(), MAC: types.NormalizeMAC(n.MAC)}, nil
			}
		}
	}

	link, err := p.OpenLink(iface)
	if err != nil {
		return nil, types.NewError(types.KindGatewayUnresolved, "gateway", gwIP.String(), err)
	}
	defer func() {
		_ = link.Close()
	}()

	mac, err := Probe(ctx, link, iface.IP, gwIP, p.options.ProbeTimeout)
	if err != nil {
		return nil, types.NewError(types.KindGatewayUnresolved, "gateway", gwIP.String(), err)
	}
	return &types.Gateway{IP: gwIP.String(), MAC: types.NormalizeMAC(mac)}, nil
}

func (p *osPlatform) ReadNeighborTable() ([]types.Neighbor, error) {
	neighbors, err := readNeighbors()
	if err != nil {
		return nil, err
	}
	return FilterNeighbors(neighbors), nil
}

func (p *osPlatform) OpenLink(iface *types.Interface) (Link, error) {
	if iface == nil {
		return nil, types.NewError(types.KindInterfaceNotFound, "open link", "", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if shared, ok := p.links[iface.Name]; ok {
		shared.refs++
		return &linkRef{sharedLink: shared}, nil
	}

	link, err := openPcapLink(iface)
	if err != nil {
		return nil, err
	}
	shared := &sharedLink{Link: link, refs: 1}
	shared.release = func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		shared.refs--
		if shared.refs > 0 {
			return
		}
		delete(p.links, iface.Name)
		_ = shared.Link.Close()
	}
	p.links[iface.Name] = shared
	return &linkRef{sharedLink: shared}, nil
}

func (p *osPlatform) ApplyRateLimit(iface *types.Interface, ip net.IP, bps uint64) error {
	if iface == nil {
		return types.NewError(types.KindInterfaceNotFound, "rate limit", "", nil)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return types.NewError(types.KindInvalidInput, "rate limit", ip.String(), nil)
	}
	if bps == 0 {
		return p.RemoveRateLimit(iface, ip4)
	}
	return applyRateLimit(iface, ip4, bps)
}

func (p *osPlatform) RemoveRateLimit(iface *types.Interface, ip net.IP) error {
	if iface == nil {
		return types.NewError(types.KindInterfaceNotFound, "rate limit", "", nil)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return types.NewError(types.KindInvalidInput, "rate limit", ip.String(), nil)
	}
	return removeRateLimit(iface, ip4)
}

func (p *osPlatform) BlockDevice(iface *types.Interface, ip net.IP) error {
	if iface == nil {
		return types.NewError(types.KindInterfaceNotFound, "block", "", nil)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return types.NewError(types.KindInvalidInput, "block", ip.String(), nil)
	}
	return blockDevice(iface, ip4)
}

func (p *osPlatform) UnblockDevice(iface *types.Interface, ip net.IP) error {
	if iface == nil {
		return types.NewError(types.KindInterfaceNotFound, "unblock", "", nil)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return types.NewError(types.KindInvalidInput, "unblock", ip.String(), nil)
	}
	return unblockDevice(iface, ip4)
}

func (p *osPlatform) Privileged() bool {
	return privileged()
}

// Route is the default route as read from the OS
type Route struct {
	Interface string
	Index     int
	Gateway   net.IP
}

// FilterNeighbors drops IPv6, incomplete, zero, broadcast and multicast entries
func FilterNeighbors(neighbors []types.Neighbor) []types.Neighbor {
	result := make([]types.Neighbor, 0, len(neighbors))
	for _, n := range neighbors {
		ip4 := n.IP.To4()
		if ip4 == nil || !types.IsUsableMAC(n.MAC) {
			continue
		}
		if ip4.IsMulticast() || ip4.IsUnspecified() || ip4.Equal(net.IPv4bcast) {
			continue
		}
		n.IP = ip4
		result = append(result, n)
	}
	return result
}
