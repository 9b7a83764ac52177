//go:build !linux && !darwin && !windows

package platform

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/projectdiscovery/netwarden/pkg/types"
)

func defaultRoute() (Route, error) {
	return Route{}, fmt.Errorf("default route lookup not implemented on %s", runtime.GOOS)
}

func readNeighbors() ([]types.Neighbor, error) {
	return nil, fmt.Errorf("neighbor table not implemented on %s", runtime.GOOS)
}

func applyRateLimit(iface *types.Interface, ip net.IP, bps uint64) error {
	return types.NewError(types.KindUnsupported, "rate limit", ip.String(), nil)
}

func removeRateLimit(iface *types.Interface, ip net.IP) error {
	return nil
}

func blockDevice(iface *types.Interface, ip net.IP) error {
	return types.NewError(types.KindUnsupported, "block", ip.String(), nil)
}

func unblockDevice(iface *types.Interface, ip net.IP) error {
	return nil
}

func privileged() bool {
	return os.Geteuid() == 0
}
