//go:build linux

package platform

import (
	"fmt"
	"os"

	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// defaultRoute returns the lowest metric IPv4 default route
func defaultRoute() (Route, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return Route{}, fmt.Errorf("failed to list routes: %w", err)
	}

	find := netlink.Route{LinkIndex: -1}
	for _, rte := range routes {
		if rte.Gw == nil {
			continue
		}
		if rte.Dst != nil {
			if ones, _ := rte.Dst.Mask.Size(); ones != 0 {
				continue
			}
		}
		if find.LinkIndex != -1 && find.Priority <= rte.Priority {
			continue
		}
		find = rte
	}
	if find.LinkIndex == -1 {
		return Route{}, fmt.Errorf("no default route")
	}

	route := Route{Index: find.LinkIndex, Gateway: find.Gw.To4()}
	if link, err := netlink.LinkByIndex(find.LinkIndex); err == nil {
		route.Interface = link.Attrs().Name
	}
	return route, nil
}

// readNeighbors reads the kernel neighbor table over netlink, falling back
// to /proc/net/arp
func readNeighbors() ([]types.Neighbor, error) {
	neighs, err := netlink.NeighList(0, netlink.FAMILY_V4)
	if err != nil {
		data, readErr := os.ReadFile("/proc/net/arp")
		if readErr != nil {
			return nil, fmt.Errorf("failed to read neighbor table: %w", err)
		}
		return ParseProcNetARP(string(data)), nil
	}

	names := make(map[int]string)
	var neighbors []types.Neighbor
	for _, n := range neighs {
		if n.State&(netlink.NUD_INCOMPLETE|netlink.NUD_FAILED|netlink.NUD_NOARP) != 0 {
			continue
		}
		if n.IP.To4() == nil || len(n.HardwareAddr) != 6 {
			continue
		}
		name, ok := names[n.LinkIndex]
		if !ok {
			if link, err := netlink.LinkByIndex(n.LinkIndex); err == nil {
				name = link.Attrs().Name
			}
			names[n.LinkIndex] = name
		}
		neighbors = append(neighbors, types.Neighbor{IP: n.IP.To4(), MAC: n.HardwareAddr, Interface: name})
	}
	return neighbors, nil
}

func privileged() bool {
	return unix.Geteuid() == 0
}
