//go:build linux

package platform

import (
	"errors"
	"net"

	"github.com/coreos/go-iptables/iptables"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

const filterTable = "filter"

func blockDevice(iface *types.Interface, ip net.IP) error {
	ipt, err := iptables.New()
	if err != nil {
		return types.NewError(types.KindUnsupported, "block", ip.String(), err)
	}

	rules := iptablesRules(iface.Name, ip)
	for i, rule := range rules {
		exists, err := ipt.Exists(filterTable, rule.Chain, rule.Spec...)
		if err == nil && !exists {
			err = ipt.Insert(filterTable, rule.Chain, 1, rule.Spec...)
		}
		if err != nil {
			for _, installed := range rules[:i] {
				_ = ipt.DeleteIfExists(filterTable, installed.Chain, installed.Spec...)
			}
			return filterError(ip, err)
		}
	}
	gologger.Verbose().Msgf("blocking %s with iptables on %s", ip, iface.Name)
	return nil
}

func unblockDevice(iface *types.Interface, ip net.IP) error {
	ipt, err := iptables.New()
	if err != nil {
		return types.NewError(types.KindUnsupported, "unblock", ip.String(), err)
	}

	var errs []error
	for _, rule := range iptablesRules(iface.Name, ip) {
		if err := ipt.DeleteIfExists(filterTable, rule.Chain, rule.Spec...); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return filterError(ip, errors.Join(errs...))
	}
	return nil
}

func filterError(ip net.IP, err error) error {
	if isPermissionError(err) {
		return types.NewError(types.KindPermissionDenied, "block", ip.String(), err)
	}
	return types.NewError(types.KindUnsupported, "block", ip.String(), err)
}
