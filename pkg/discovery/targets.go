package discovery

import (
	"fmt"
	"net"
	"sort"

	"github.com/projectdiscovery/mapcidr"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// MinSweepPrefix is the widest interface network swept as a whole. Wider
// networks are reduced to the /24 around the interface address.
const MinSweepPrefix = 22

// Priority tiers by last octet, infrastructure first
const (
	PriorityGateway  = 100 // .1, .254
	PriorityReserved = 90  // .2-.5, .250-.253
	PriorityEarly    = 80  // .6-.10
	PriorityPeak     = 70  // .50, .100, .150
	PriorityPool     = 50  // .51-.99, .101-.149, .151-.200
	PriorityTail     = 20  // everything else
)

type octetRange struct {
	start, end int
	priority   int
}

var octetRanges = []octetRange{
	{start: 1, end: 1, priority: PriorityGateway},
	{start: 254, end: 254, priority: PriorityGateway},
	{start: 2, end: 5, priority: PriorityReserved},
	{start: 250, end: 253, priority: PriorityReserved},
	{start: 6, end: 10, priority: PriorityEarly},
	{start: 50, end: 50, priority: PriorityPeak},
	{start: 100, end: 100, priority: PriorityPeak},
	{start: 150, end: 150, priority: PriorityPeak},
	{start: 51, end: 99, priority: PriorityPool},
	{start: 101, end: 149, priority: PriorityPool},
	{start: 151, end: 200, priority: PriorityPool},
}

// SweepNetwork returns the network swept for iface
func SweepNetwork(iface *types.Interface) (*net.IPNet, error) {
	if iface == nil || iface.IP.To4() == nil || iface.Network == nil {
		return nil, types.NewError(types.KindInterfaceNotFound, "sweep", "", fmt.Errorf("interface has no IPv4 network"))
	}
	ones, bits := iface.Network.Mask.Size()
	if bits != 32 {
		return nil, types.NewError(types.KindInvalidInput, "sweep", iface.Name, fmt.Errorf("not an IPv4 network"))
	}
	if ones >= MinSweepPrefix {
		return &net.IPNet{IP: iface.IP.To4().Mask(iface.Network.Mask), Mask: iface.Network.Mask}, nil
	}
	mask := net.CIDRMask(24, 32)
	return &net.IPNet{IP: iface.IP.To4().Mask(mask), Mask: mask}, nil
}

// SweepTargets expands the sweep network of iface, drops the network,
// broadcast and own addresses and orders the rest by likelihood of being
// in use
func SweepTargets(iface *types.Interface) ([]net.IP, *net.IPNet, error) {
	network, err := SweepNetwork(iface)
	if err != nil {
		return nil, nil, err
	}
	ips, err := mapcidr.IPAddresses(network.String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to expand %s: %w", network, err)
	}

	type candidate struct {
		ip       net.IP
		priority int
	}
	candidates := make([]candidate, 0, len(ips))
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr).To4()
		if ip == nil || ip.Equal(iface.IP) || isNetworkOrBroadcast(ip, network) {
			continue
		}
		candidates = append(candidates, candidate{ip: ip, priority: priority(ip)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	targets := make([]net.IP, 0, len(candidates))
	for _, c := range candidates {
		targets = append(targets, c.ip)
	}
	return targets, network, nil
}

func priority(ip net.IP) int {
	last := int(ip.To4()[3])
	for _, r := range octetRanges {
		if last >= r.start && last <= r.end {
			return r.priority
		}
	}
	return PriorityTail
}

func isNetworkOrBroadcast(ip net.IP, network *net.IPNet) bool {
	if ip.Equal(network.IP) {
		return true
	}
	broadcast := make(net.IP, len(network.IP))
	copy(broadcast, network.IP)
	for i := range broadcast {
		broadcast[i] |= ^network.Mask[i]
	}
	return ip.Equal(broadcast)
}
