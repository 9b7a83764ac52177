package platform

import (
	"net"
	"testing"

	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcNetARP(t *testing.T) {
	data := `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         aa:bb:cc:dd:ee:fe     *        eth0
192.168.1.50     0x1         0x2         aa:bb:cc:dd:ee:01     *        eth0
192.168.1.60     0x1         0x0         00:00:00:00:00:00     *        eth0
10.0.0.9         0x1         0x6         02:42:ac:11:00:02     *        docker0
`
	neighbors := ParseProcNetARP(data)
	require.Len(t, neighbors, 3)
	assert.Equal(t, "192.168.1.1", neighbors[0].IP.String())
	assert.Equal(t, "eth0", neighbors[0].Interface)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", types.NormalizeMAC(neighbors[1].MAC))
	assert.Equal(t, "docker0", neighbors[2].Interface)
}

func TestParseDarwinARP(t *testing.T) {
	output := `? (192.168.1.1) at 0:1b:63:84:45:e6 on en0 ifscope [ethernet]
router.lan (192.168.1.2) at aa:bb:cc:dd:ee:2 on en0 ifscope [ethernet]
? (192.168.1.77) at (incomplete) on en0 ifscope [ethernet]
? (192.168.1.255) at ff:ff:ff:ff:ff:ff on en0 ifscope [ethernet]
? (224.0.0.251) at 1:0:5e:0:0:fb on en0 ifscope permanent [ethernet]
`
	neighbors := ParseDarwinARP(output)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "00:1B:63:84:45:E6", types.NormalizeMAC(neighbors[0].MAC))
	assert.Equal(t, "en0", neighbors[0].Interface)
	assert.Equal(t, "192.168.1.2", neighbors[1].IP.String())
	assert.Equal(t, "AA:BB:CC:DD:EE:02", types.NormalizeMAC(neighbors[1].MAC))
}

func TestParseWindowsARP(t *testing.T) {
	output := `
Interface: 192.168.1.100 --- 0xa
  Internet Address      Physical Address      Type
  192.168.1.1           aa-bb-cc-dd-ee-fe     dynamic
  192.168.1.50          aa-bb-cc-dd-ee-01     dynamic
  192.168.1.255         ff-ff-ff-ff-ff-ff     static
  224.0.0.22            01-00-5e-00-00-16     static

Interface: 10.0.0.5 --- 0x12
  Internet Address      Physical Address      Type
  10.0.0.1              02-42-ac-11-00-01     dynamic
`
	neighbors := ParseWindowsARP(output)
	require.Len(t, neighbors, 3)
	assert.Equal(t, "192.168.1.100", neighbors[0].Interface)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", types.NormalizeMAC(neighbors[1].MAC))
	assert.Equal(t, "10.0.0.5", neighbors[2].Interface)
}

func TestParseWindowsRoutePrint(t *testing.T) {
	output := `===========================================================================
IPv4 Route Table
===========================================================================
Active Routes:
Network Destination        Netmask          Gateway       Interface  Metric
          0.0.0.0          0.0.0.0      192.168.1.1    192.168.1.100     25
          0.0.0.0          0.0.0.0         10.0.0.1         10.0.0.5     50
===========================================================================
`
	route, ok := ParseWindowsRoutePrint(output)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.1", route.Gateway.String())
	assert.Equal(t, "192.168.1.100", route.Interface)

	_, ok = ParseWindowsRoutePrint("Active Routes:\nNone\n")
	assert.False(t, ok)
}

func TestParseRouteGet(t *testing.T) {
	output := `   route to: default
destination: default
       mask: default
    gateway: 192.168.1.1
  interface: en0
      flags: <UP,GATEWAY,DONE,STATIC,PRCLONING>
`
	route, ok := ParseRouteGet(output)
	require.True(t, ok)
	assert.Equal(t, "en0", route.Interface)
	assert.Equal(t, "192.168.1.1", route.Gateway.String())
}

func TestFilterNeighbors(t *testing.T) {
	neighbors := []types.Neighbor{
		{IP: net.ParseIP("192.168.1.50"), MAC: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}},
		{IP: net.ParseIP("192.168.1.51"), MAC: net.HardwareAddr{0, 0, 0, 0, 0, 0}},
		{IP: net.ParseIP("fe80::1"), MAC: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x02}},
		{IP: net.ParseIP("255.255.255.255"), MAC: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x03}},
	}
	filtered := FilterNeighbors(neighbors)
	require.Len(t, filtered, 1)
	assert.Len(t, filtered[0].IP, net.IPv4len)
}

func TestPickFallbackInterface(t *testing.T) {
	_, lan, _ := net.ParseCIDR("192.168.1.0/24")
	_, lo, _ := net.ParseCIDR("127.0.0.0/8")
	ifaces := []types.Interface{
		{Name: "lo", IP: net.ParseIP("127.0.0.1").To4(), Network: lo, Up: true, Loopback: true},
		{Name: "wlan0", IP: net.ParseIP("10.9.0.2").To4(), Network: &net.IPNet{IP: net.ParseIP("10.9.0.0").To4(), Mask: net.CIDRMask(24, 32)}, Up: true},
		{Name: "eth0", IP: net.ParseIP("192.168.1.10").To4(), Network: lan, Up: true},
	}
	neighbors := []types.Neighbor{{IP: net.ParseIP("192.168.1.1").To4(), MAC: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xfe}}}

	iface := pickFallbackInterface(ifaces, neighbors)
	require.NotNil(t, iface)
	assert.Equal(t, "eth0", iface.Name)

	assert.Nil(t, pickFallbackInterface(ifaces, nil))
}

func TestParseIwLink(t *testing.T) {
	output := `Connected to aa:bb:cc:dd:ee:ff (on wlan0)
	SSID: HomeNet 5G
	freq: 5180
	RX: 1234567 bytes (8910 packets)
	TX: 234567 bytes (1234 packets)
	signal: -58 dBm
	tx bitrate: 433.3 MBit/s
`
	w := ParseIwLink(output)
	assert.Equal(t, "HomeNet 5G", w.SSID)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", w.BSSID)
	assert.Equal(t, 84, w.Signal)

	w = ParseIwLink("Not connected.\n")
	assert.Equal(t, &types.Wireless{}, w)
}

func TestParseNetshWlan(t *testing.T) {
	output := `
There is 1 interface on the system:

    Name                   : Wi-Fi
    Description            : Intel(R) Wi-Fi 6 AX201 160MHz
    GUID                   : 3f1c0b0e-0000-0000-0000-000000000000
    Physical address       : 12:34:56:78:9a:bc
    State                  : connected
    SSID                   : HomeNet
    AP BSSID               : aa:bb:cc:dd:ee:ff
    Network type           : Infrastructure
    Radio type             : 802.11ax
    Signal                 : 87%

    Hosted network status  : Not available
`
	wireless := ParseNetshWlan(output)
	require.Len(t, wireless, 1)
	w := wireless["Wi-Fi"]
	require.NotNil(t, w)
	assert.Equal(t, "HomeNet", w.SSID)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", w.BSSID)
	assert.Equal(t, 87, w.Signal)
}

func TestSignalPercent(t *testing.T) {
	assert.Equal(t, 100, SignalPercent(-40))
	assert.Equal(t, 100, SignalPercent(-50))
	assert.Equal(t, 60, SignalPercent(-70))
	assert.Equal(t, 0, SignalPercent(-100))
	assert.Equal(t, 0, SignalPercent(-110))
}
