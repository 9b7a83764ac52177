package platform

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// pfAnchor hangs below the com.apple anchor point that the stock macOS
// pf.conf already references
const pfAnchor = "com.apple/netwarden"

// dummynetPipe maps a device to its pipe number
func dummynetPipe(ip net.IP) int {
	ip4 := ip.To4()
	return 10000 + int(ip4[2])<<8 + int(ip4[3])
}

// renderAnchorRules produces the anchor ruleset for the blocked and the
// shaped devices. Block rules come first so a blocked device is never piped.
func renderAnchorRules(pipes map[string]int, blocked map[string]struct{}) string {
	var sb strings.Builder
	blockedIPs := make([]string, 0, len(blocked))
	for ip := range blocked {
		blockedIPs = append(blockedIPs, ip)
	}
	sort.Strings(blockedIPs)
	for _, ip := range blockedIPs {
		fmt.Fprintf(&sb, "block drop in quick from %s to any\n", ip)
		fmt.Fprintf(&sb, "block drop out quick from any to %s\n", ip)
	}

	ips := make([]string, 0, len(pipes))
	for ip := range pipes {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	for _, ip := range ips {
		pipe := pipes[ip]
		fmt.Fprintf(&sb, "dummynet in quick from %s to any pipe %d\n", ip, pipe)
		fmt.Fprintf(&sb, "dummynet out quick from any to %s pipe %d\n", ip, pipe)
	}
	return sb.String()
}
