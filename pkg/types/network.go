package types

import (
	"net"
	"net/netip"
	"strings"
)

// Interface is a local network interface usable for link-layer control
type Interface struct {
	Name         string           `json:"name"`
	Index        int              `json:"index"`
	HardwareAddr net.HardwareAddr `json:"-"`
	MAC          string           `json:"mac"`
	IP           net.IP           `json:"ip"`
	Network      *net.IPNet       `json:"-"`
	PrefixLen    int              `json:"prefix_len"`
	Up           bool             `json:"up"`
	Loopback     bool             `json:"loopback"`
	BytesSent    uint64           `json:"bytes_sent"`
	BytesRecv    uint64           `json:"bytes_recv"`
	// Wireless is set for Wi-Fi interfaces where the OS reports it
	Wireless *Wireless `json:"wireless,omitempty"`
}

// Wireless describes the association of a Wi-Fi interface
type Wireless struct {
	SSID  string `json:"ssid,omitempty"`
	BSSID string `json:"bssid,omitempty"`
	// Signal is the link quality in percent, zero when not associated
	Signal int `json:"signal"`
}

// Neighbor is one neighbor (ARP) table entry
type Neighbor struct {
	IP        net.IP
	MAC       net.HardwareAddr
	Interface string
}

// Gateway is the default router of an interface
type Gateway struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// HardwareAddr parses the gateway MAC
func (g *Gateway) HardwareAddr() (net.HardwareAddr, error) {
	return net.ParseMAC(g.MAC)
}

// ParseIPv4 validates a dotted-quad IPv4 address. Anything else, including
// IPv4-mapped IPv6 forms and zones, is rejected before it can reach a packet
// field or a platform command.
func ParseIPv4(s string) (net.IP, error) {
	if s == "" || strings.ContainsAny(s, ":%/ ") {
		return nil, NewError(KindInvalidInput, "validate", s, nil)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return nil, NewError(KindInvalidInput, "validate", s, err)
	}
	b := addr.As4()
	return net.IPv4(b[0], b[1], b[2], b[3]).To4(), nil
}
