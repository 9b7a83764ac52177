package platform

import (
	"net"
)

// filterComment tags the packet filter rules installed for blocked devices
const filterComment = "netwarden"

// filterRule is one iptables rule in the filter table
type filterRule struct {
	Chain string
	Spec  []string
}

// iptablesRules returns the rules dropping traffic from and to ip that
// reaches the host on iface, whether addressed to it or forwarded
func iptablesRules(iface string, ip net.IP) []filterRule {
	addr := ip.String()
	rule := func(chain, ifaceFlag, addrFlag string) filterRule {
		return filterRule{
			Chain: chain,
			Spec:  []string{ifaceFlag, iface, addrFlag, addr, "-m", "comment", "--comment", filterComment, "-j", "DROP"},
		}
	}
	return []filterRule{
		rule("INPUT", "-i", "-s"),
		rule("OUTPUT", "-o", "-d"),
		rule("FORWARD", "-i", "-s"),
		rule("FORWARD", "-o", "-d"),
	}
}
