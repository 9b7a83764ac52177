//go:build windows

package platform

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/projectdiscovery/netwarden/pkg/types"
	"golang.org/x/sys/windows"
)

func defaultRoute() (Route, error) {
	output, err := exec.Command("route", "print", "-4", "0.0.0.0").Output()
	if err != nil {
		return Route{}, fmt.Errorf("failed to execute route print: %w", err)
	}
	r, ok := ParseWindowsRoutePrint(string(output))
	if !ok {
		return Route{}, fmt.Errorf("no default route")
	}

	// route print names the interface by address
	source := net.ParseIP(r.Interface)
	ifaces, err := net.Interfaces()
	if err != nil {
		return r, nil
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(source) {
				r.Interface = iface.Name
				r.Index = iface.Index
				return r, nil
			}
		}
	}
	return r, nil
}

func readNeighbors() ([]types.Neighbor, error) {
	output, err := exec.Command("arp", "-a").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute arp -a: %w", err)
	}
	neighbors := ParseWindowsARP(string(output))

	// sections are keyed by interface address, translate to names
	names := make(map[string]string)
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
					names[ipNet.IP.To4().String()] = iface.Name
				}
			}
		}
	}
	for i := range neighbors {
		neighbors[i].Interface = names[neighbors[i].Interface]
	}
	return neighbors, nil
}

// Windows has no scriptable per-host shaper
func applyRateLimit(iface *types.Interface, ip net.IP, bps uint64) error {
	return types.NewError(types.KindUnsupported, "rate limit", ip.String(), nil)
}

func removeRateLimit(iface *types.Interface, ip net.IP) error {
	return nil
}

// Windows has no scriptable per-host drop for forwarded traffic
func blockDevice(iface *types.Interface, ip net.IP) error {
	return types.NewError(types.KindUnsupported, "block", ip.String(), nil)
}

func unblockDevice(iface *types.Interface, ip net.IP) error {
	return nil
}

// privileged reports membership of the builtin Administrators group
func privileged() bool {
	var sid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer func() {
		_ = windows.FreeSid(sid)
	}()

	member, err := windows.Token(0).IsMember(sid)
	if err != nil {
		return false
	}
	return member
}
