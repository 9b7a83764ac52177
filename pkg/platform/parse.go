package platform

import (
	"bufio"
	"net"
	"strconv"
	"strings"

	"github.com/projectdiscovery/netwarden/pkg/types"
)

// ParseProcNetARP parses the Linux /proc/net/arp table
func ParseProcNetARP(data string) []types.Neighbor {
	var neighbors []types.Neighbor
	scanner := bufio.NewScanner(strings.NewReader(data))

	// header
	if !scanner.Scan() {
		return neighbors
	}
	for scanner.Scan() {
		// IP address, HW type, Flags, HW address, Mask, Device
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		// ATF_COM unset means the entry never completed
		flags, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err != nil || flags&0x2 == 0 {
			continue
		}
		neighbor, ok := newNeighbor(fields[0], fields[3], fields[5])
		if !ok {
			continue
		}
		neighbors = append(neighbors, neighbor)
	}
	return neighbors
}

// ParseDarwinARP parses the output of `arp -an` on macOS:
//
//	? (192.168.1.1) at 0:1b:63:84:45:e6 on en0 ifscope [ethernet]
func ParseDarwinARP(output string) []types.Neighbor {
	var neighbors []types.Neighbor
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		open := strings.Index(line, "(")
		closing := strings.Index(line, ")")
		if open == -1 || closing <= open {
			continue
		}
		fields := strings.Fields(line[closing+1:])
		// at <mac> on <iface>
		if len(fields) < 2 || fields[0] != "at" {
			continue
		}
		var iface string
		if len(fields) >= 4 && fields[2] == "on" {
			iface = fields[3]
		}
		neighbor, ok := newNeighbor(line[open+1:closing], padMAC(fields[1]), iface)
		if !ok {
			continue
		}
		neighbors = append(neighbors, neighbor)
	}
	return neighbors
}

// ParseWindowsARP parses the output of `arp -a` on Windows. Entries are
// tagged with the IP of the interface section they appear in.
func ParseWindowsARP(output string) []types.Neighbor {
	var neighbors []types.Neighbor
	var section string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Interface: 192.168.1.100 --- 0xa
		if strings.HasPrefix(line, "Interface:") {
			fields := strings.Fields(line)
			section = ""
			if len(fields) >= 2 {
				section = fields[1]
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		neighbor, ok := newNeighbor(fields[0], fields[1], section)
		if !ok {
			continue
		}
		neighbors = append(neighbors, neighbor)
	}
	return neighbors
}

// ParseWindowsRoutePrint extracts the default route from `route print -4 0.0.0.0`.
// Interface is set to the IP of the outgoing interface.
func ParseWindowsRoutePrint(output string) (Route, bool) {
	best := -1
	var route Route
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		// Network Destination, Netmask, Gateway, Interface, Metric
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "0.0.0.0" || fields[1] != "0.0.0.0" {
			continue
		}
		gateway := net.ParseIP(fields[2]).To4()
		source := net.ParseIP(fields[3]).To4()
		if gateway == nil || source == nil {
			continue
		}
		metric, err := strconv.Atoi(fields[4])
		if err != nil {
			continue
		}
		if best == -1 || metric < best {
			best = metric
			route = Route{Interface: source.String(), Gateway: gateway}
		}
	}
	return route, best != -1
}

// ParseRouteGet parses the output of `route -n get default` on macOS
func ParseRouteGet(output string) (Route, bool) {
	var route Route
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "gateway":
			route.Gateway = net.ParseIP(value).To4()
		case "interface":
			route.Interface = value
		}
	}
	return route, route.Interface != "" && route.Gateway != nil
}

func newNeighbor(ipStr, macStr, iface string) (types.Neighbor, bool) {
	ip := net.ParseIP(ipStr).To4()
	if ip == nil {
		return types.Neighbor{}, false
	}
	mac, err := net.ParseMAC(strings.ReplaceAll(macStr, "-", ":"))
	if err != nil || !types.IsUsableMAC(mac) {
		return types.Neighbor{}, false
	}
	return types.Neighbor{IP: ip, MAC: mac, Interface: iface}, true
}

// padMAC expands macOS style single digit octets (0:1b:3:...)
func padMAC(mac string) string {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return mac
	}
	for i, part := range parts {
		if len(part) == 1 {
			parts[i] = "0" + part
		}
	}
	return strings.Join(parts, ":")
}

// ParseIwLink parses `iw dev <name> link`. A disconnected interface yields
// an empty association.
func ParseIwLink(output string) *types.Wireless {
	w := &types.Wireless{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Connected to "):
			if fields := strings.Fields(line); len(fields) >= 3 {
				if mac, err := net.ParseMAC(fields[2]); err == nil {
					w.BSSID = types.NormalizeMAC(mac)
				}
			}
		case strings.HasPrefix(line, "SSID:"):
			w.SSID = strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
		case strings.HasPrefix(line, "signal:"):
			fields := strings.Fields(strings.TrimPrefix(line, "signal:"))
			if len(fields) > 0 {
				if dbm, err := strconv.Atoi(fields[0]); err == nil {
					w.Signal = SignalPercent(dbm)
				}
			}
		}
	}
	return w
}

// ParseNetshWlan parses `netsh wlan show interfaces` keyed by interface name
func ParseNetshWlan(output string) map[string]*types.Wireless {
	result := make(map[string]*types.Wireless)
	var current *types.Wireless
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), " : ")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "Name":
			current = &types.Wireless{}
			result[value] = current
		case "SSID":
			if current != nil {
				current.SSID = value
			}
		case "BSSID", "AP BSSID":
			if mac, err := net.ParseMAC(value); err == nil && current != nil {
				current.BSSID = types.NormalizeMAC(mac)
			}
		case "Signal":
			if percent, err := strconv.Atoi(strings.TrimSuffix(value, "%")); err == nil && current != nil {
				current.Signal = percent
			}
		}
	}
	return result
}

// SignalPercent maps a dBm reading onto 0-100, -50 dBm and above being 100
func SignalPercent(dbm int) int {
	percent := 2 * (dbm + 100)
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
