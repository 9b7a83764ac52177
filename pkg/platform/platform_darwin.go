//go:build darwin

package platform

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

// defaultRoute reads the routing table through a routing socket and falls
// back to `route -n get default`
func defaultRoute() (Route, error) {
	r, err := defaultRouteFromRIB()
	if err == nil {
		return r, nil
	}
	gologger.Debug().Msgf("routing socket lookup failed: %s", err)

	output, err := exec.Command("route", "-n", "get", "default").Output()
	if err != nil {
		return Route{}, fmt.Errorf("failed to execute route get: %w", err)
	}
	r, ok := ParseRouteGet(string(output))
	if !ok {
		return Route{}, fmt.Errorf("no default route")
	}
	return r, nil
}

func defaultRouteFromRIB() (Route, error) {
	rib, err := route.FetchRIB(unix.AF_INET, route.RIBTypeRoute, 0)
	if err != nil {
		return Route{}, err
	}
	msgs, err := route.ParseRIB(route.RIBTypeRoute, rib)
	if err != nil {
		return Route{}, err
	}
	for _, msg := range msgs {
		rm, ok := msg.(*route.RouteMessage)
		if !ok || rm.Flags&unix.RTF_GATEWAY == 0 || rm.Flags&unix.RTF_UP == 0 {
			continue
		}
		if len(rm.Addrs) <= unix.RTAX_GATEWAY {
			continue
		}
		dst, ok := rm.Addrs[unix.RTAX_DST].(*route.Inet4Addr)
		if !ok || dst.IP != [4]byte{} {
			continue
		}
		gw, ok := rm.Addrs[unix.RTAX_GATEWAY].(*route.Inet4Addr)
		if !ok {
			continue
		}
		r := Route{Index: rm.Index, Gateway: net.IPv4(gw.IP[0], gw.IP[1], gw.IP[2], gw.IP[3]).To4()}
		if iface, err := net.InterfaceByIndex(rm.Index); err == nil {
			r.Interface = iface.Name
		}
		return r, nil
	}
	return Route{}, fmt.Errorf("no default route")
}

func readNeighbors() ([]types.Neighbor, error) {
	output, err := exec.Command("arp", "-an").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute arp -an: %w", err)
	}
	return ParseDarwinARP(string(output)), nil
}

func privileged() bool {
	return unix.Geteuid() == 0
}
