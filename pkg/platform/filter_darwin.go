//go:build darwin

package platform

import (
	"net"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

func blockDevice(iface *types.Interface, ip net.IP) error {
	if err := requirePfctl("block", ip); err != nil {
		return err
	}

	anchorMu.Lock()
	defer anchorMu.Unlock()

	blocked := copyBlocked()
	blocked[ip.String()] = struct{}{}
	if err := loadAnchor(dummynetPipes, blocked); err != nil {
		return types.NewError(types.KindUnsupported, "block", ip.String(), err)
	}
	anchorBlocked = blocked
	gologger.Verbose().Msgf("blocking %s with pf on %s", ip, iface.Name)
	return nil
}

func unblockDevice(iface *types.Interface, ip net.IP) error {
	anchorMu.Lock()
	defer anchorMu.Unlock()

	if _, ok := anchorBlocked[ip.String()]; !ok {
		return nil
	}
	if err := requirePfctl("unblock", ip); err != nil {
		return err
	}
	blocked := copyBlocked()
	delete(blocked, ip.String())
	if err := loadAnchor(dummynetPipes, blocked); err != nil {
		return types.NewError(types.KindUnsupported, "unblock", ip.String(), err)
	}
	anchorBlocked = blocked
	return nil
}

func copyBlocked() map[string]struct{} {
	blocked := make(map[string]struct{}, len(anchorBlocked)+1)
	for ip := range anchorBlocked {
		blocked[ip] = struct{}{}
	}
	return blocked
}
