package engine

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/platform/platformtest"
	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	deviceIP  = "192.168.1.50"
	deviceMAC = "AA:BB:CC:DD:EE:01"
)

func testOptions() Options {
	return Options{
		ReplyWindow:       50 * time.Millisecond,
		SendInterval:      time.Microsecond,
		Settle:            time.Millisecond,
		ReassertInterval:  time.Hour,
		DisableEnrichment: true,
	}
}

func newTestEngine(t *testing.T) (*Engine, *platformtest.Platform) {
	t.Helper()
	plat := platformtest.New()
	plat.LinkValue.SetResponder(platformtest.Responder(map[string]net.HardwareAddr{
		deviceIP: {0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
	}))
	e, err := New(plat, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close(context.Background())
	})
	return e, plat
}

func TestNewRequiresPrivileges(t *testing.T) {
	plat := platformtest.New()
	plat.IsPrivileged = false

	_, err := New(plat, testOptions())
	assert.ErrorIs(t, err, types.ErrPermissionDenied)
}

func TestNewUnknownInterface(t *testing.T) {
	options := testOptions()
	options.Interface = "wlan9"

	_, err := New(platformtest.New(), options)
	assert.ErrorIs(t, err, types.ErrInterfaceNotFound)
}

func TestScanCutRestoreScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	devices, err := e.Scan(ctx, "")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, deviceIP, devices[0].IP)
	assert.Equal(t, deviceMAC, devices[0].MAC)
	assert.Equal(t, types.StatusActive, devices[0].Status)

	require.NoError(t, e.Cut(ctx, deviceIP))
	status, err := e.Status(deviceIP)
	require.NoError(t, err)
	assert.Equal(t, types.AttackCutting, status.AttackStatus)
	assert.True(t, status.IsBlocked)
	assert.Equal(t, 1, e.ActiveSessions())

	require.NoError(t, e.Restore(ctx, deviceIP))
	status, err = e.Status(deviceIP)
	require.NoError(t, err)
	assert.Equal(t, types.AttackNone, status.AttackStatus)
	assert.False(t, status.IsBlocked)
	assert.Equal(t, 0, e.ActiveSessions())
}

func TestProtectedDeviceCannotBeCut(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)

	require.NoError(t, e.Cut(ctx, deviceIP))
	require.NoError(t, e.Protect(ctx, deviceIP))
	status, err := e.Status(deviceIP)
	require.NoError(t, err)
	assert.True(t, status.IsProtected)
	assert.Equal(t, types.AttackNone, status.AttackStatus)

	assert.ErrorIs(t, e.Cut(ctx, deviceIP), types.ErrPolicyDenied)
	status, _ = e.Status(deviceIP)
	assert.Equal(t, types.AttackNone, status.AttackStatus)

	require.NoError(t, e.Unprotect(ctx, deviceIP))
	assert.Equal(t, 0, e.ActiveSessions())
}

func TestOperationsValidateIP(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, ip := range []string{"", "192.168.1", "192.168.1.256", "::1", "192.168.1.50; reboot"} {
		assert.ErrorIs(t, e.Cut(ctx, ip), types.ErrInvalidInput, ip)
		assert.ErrorIs(t, e.Restore(ctx, ip), types.ErrInvalidInput, ip)
		assert.ErrorIs(t, e.Protect(ctx, ip), types.ErrInvalidInput, ip)
		assert.ErrorIs(t, e.Unprotect(ctx, ip), types.ErrInvalidInput, ip)
		assert.ErrorIs(t, e.SetLimit(ctx, ip, 1000), types.ErrInvalidInput, ip)
		assert.ErrorIs(t, e.ClearLimit(ctx, ip), types.ErrInvalidInput, ip)
		assert.ErrorIs(t, e.RenameDevice(ip, "tv"), types.ErrInvalidInput, ip)
		_, err := e.Status(ip)
		assert.ErrorIs(t, err, types.ErrInvalidInput, ip)
	}
}

func TestLimits(t *testing.T) {
	e, plat := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)

	require.NoError(t, e.SetLimit(ctx, deviceIP, 1_000_000))
	bps, ok := plat.Limit(deviceIP)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), bps)
	assert.Equal(t, 1, e.Summary().Limited)

	require.NoError(t, e.SetLimit(ctx, deviceIP, 0))
	device, err := e.Device(deviceIP)
	require.NoError(t, err)
	assert.Nil(t, device.SpeedLimit)
}

func TestSoftwareLimitFallback(t *testing.T) {
	e, plat := newTestEngine(t)
	plat.SetRateLimitError(types.NewError(types.KindUnsupported, "rate limit", "", errors.New("no shaper")))
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)

	require.NoError(t, e.SetLimit(ctx, deviceIP, 256_000))
	device, err := e.Device(deviceIP)
	require.NoError(t, err)
	assert.Equal(t, types.LimitSoftware, device.LimitMode)
}

func TestDeviceEditing(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Scan(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, e.RenameDevice(deviceIP, "living room tv"))
	require.NoError(t, e.SetDeviceType(deviceIP, "Smart TV"))
	assert.ErrorIs(t, e.SetDeviceType(deviceIP, ""), types.ErrInvalidInput)
	assert.ErrorIs(t, e.RenameDevice("192.168.1.99", "x"), types.ErrDeviceNotFound)

	device, err := e.Device(deviceIP)
	require.NoError(t, err)
	assert.Equal(t, "living room tv", device.DisplayName())

	summary := e.Summary()
	assert.Equal(t, 1, summary.TotalDevices)
	assert.Equal(t, 1, summary.ActiveDevices)
	assert.Equal(t, map[string]int{"Smart TV": 1}, summary.DeviceTypes)
}

func TestGateway(t *testing.T) {
	e, plat := newTestEngine(t)

	gw, err := e.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", gw.IP)
	assert.Equal(t, "AA:BB:CC:DD:EE:FE", gw.MAC)

	// the cached gateway survives a failing refresh
	plat.GatewayErr = types.NewError(types.KindGatewayUnresolved, "gateway", "", nil)
	gw, err = e.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", gw.IP)
}

func TestCutWithoutGateway(t *testing.T) {
	plat := platformtest.New()
	plat.GatewayErr = types.NewError(types.KindGatewayUnresolved, "gateway", "", nil)
	plat.LinkValue.SetResponder(platformtest.Responder(map[string]net.HardwareAddr{
		deviceIP: {0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
	}))
	e, err := New(plat, testOptions())
	require.NoError(t, err)
	defer e.Close(context.Background())

	_, err = e.Scan(context.Background(), "")
	require.NoError(t, err)
	assert.ErrorIs(t, e.Cut(context.Background(), deviceIP), types.ErrGatewayUnresolved)
}

func TestScanOtherInterface(t *testing.T) {
	e, plat := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)

	_, err = e.Scan(ctx, "wlan9")
	assert.ErrorIs(t, err, types.ErrInterfaceNotFound)

	wlan := platformtest.Interface()
	wlan.Name = "wlan0"
	plat.Interfaces = append(plat.Interfaces, wlan)

	require.NoError(t, e.Cut(ctx, deviceIP))
	_, err = e.Scan(ctx, "wlan0")
	assert.ErrorIs(t, err, types.ErrPolicyDenied)

	require.NoError(t, e.Restore(ctx, deviceIP))
	devices, err := e.Scan(ctx, "wlan0")
	require.NoError(t, err)
	assert.Equal(t, "wlan0", e.Interface().Name)
	assert.Len(t, devices, 1)
}

func TestCloseRestoresCuts(t *testing.T) {
	plat := platformtest.New()
	plat.LinkValue.SetResponder(platformtest.Responder(map[string]net.HardwareAddr{
		deviceIP: {0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
	}))
	e, err := New(plat, testOptions())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = e.Scan(ctx, "")
	require.NoError(t, err)
	require.NoError(t, e.Cut(ctx, deviceIP))

	require.NoError(t, e.Close(ctx))
	assert.Equal(t, 0, e.ActiveSessions())
	status, err := e.Status(deviceIP)
	require.NoError(t, err)
	assert.Equal(t, types.AttackNone, status.AttackStatus)
	assert.True(t, plat.LinkValue.Closed())
}

func TestStartRunsScheduler(t *testing.T) {
	options := testOptions()
	options.ScanInterval = 20 * time.Millisecond
	plat := platformtest.New()
	plat.LinkValue.SetResponder(platformtest.Responder(map[string]net.HardwareAddr{
		deviceIP: {0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
	}))
	e, err := New(plat, options)
	require.NoError(t, err)

	e.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(e.Devices()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, e.Close(context.Background()))
}

func uploadFrame(t *testing.T, srcIP string) gopacket.Packet {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
		DstMAC:       platformtest.HostMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.IPv4(8, 8, 8, 8).To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(make([]byte, 64))))
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestSoftwareLimitedDeviceStaysCut(t *testing.T) {
	e, plat := newTestEngine(t)
	plat.SetRateLimitError(types.NewError(types.KindUnsupported, "rate limit", "", errors.New("no shaper")))
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)
	require.NoError(t, e.SetLimit(ctx, deviceIP, 10_000_000))

	relay := e.attached().relay
	require.NotNil(t, relay)
	require.True(t, relay.Handle(uploadFrame(t, deviceIP)))

	require.NoError(t, e.Cut(ctx, deviceIP))
	assert.False(t, relay.Handle(uploadFrame(t, deviceIP)), "a cut device is not relayed")

	require.NoError(t, e.Restore(ctx, deviceIP))
	assert.True(t, relay.Handle(uploadFrame(t, deviceIP)))
}

func TestMACChangeRetargetsProtection(t *testing.T) {
	e, plat := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)
	require.NoError(t, e.Protect(ctx, deviceIP))

	plat.LinkValue.SetResponder(platformtest.Responder(map[string]net.HardwareAddr{
		deviceIP: {0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x99},
	}))
	_, err = e.Scan(ctx, "")
	require.NoError(t, err)

	device, err := e.Device(deviceIP)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:99", device.MAC)
	assert.True(t, device.IsProtected)

	link := plat.LinkValue
	link.Reset()
	assert.Equal(t, 1, e.attached().spoof.ReassertDue(time.Now().Add(2*time.Hour)))
	require.Eventually(t, func() bool {
		return len(link.Replies()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	for _, reply := range link.Replies() {
		if reply.SenderIP.String() == deviceIP {
			assert.Equal(t, "aa:bb:cc:dd:ee:99", reply.SenderMAC.String())
		}
	}
}

func TestMoveCarriesLimit(t *testing.T) {
	e, plat := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)
	require.NoError(t, e.SetLimit(ctx, deviceIP, 1_000_000))

	plat.LinkValue.SetResponder(platformtest.Responder(map[string]net.HardwareAddr{
		"192.168.1.77": {0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
	}))
	_, err = e.Scan(ctx, "")
	require.NoError(t, err)

	_, ok := plat.Limit(deviceIP)
	assert.False(t, ok)
	bps, ok := plat.Limit("192.168.1.77")
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), bps)

	device, err := e.Device("192.168.1.77")
	require.NoError(t, err)
	require.NotNil(t, device.SpeedLimit)
	assert.Equal(t, uint64(1_000_000), *device.SpeedLimit)
}

func TestCutFallsBackToPacketFilter(t *testing.T) {
	e, plat := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)

	plat.LinkValue.SetWriteError(errors.New("injection not permitted"))
	require.NoError(t, e.Cut(ctx, deviceIP))
	assert.True(t, plat.IsBlocked(deviceIP))
	status, err := e.Status(deviceIP)
	require.NoError(t, err)
	assert.Equal(t, types.AttackCutting, status.AttackStatus)

	require.NoError(t, e.Restore(ctx, deviceIP))
	assert.False(t, plat.IsBlocked(deviceIP))
}

func TestReattachFailureKeepsInterface(t *testing.T) {
	e, plat := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Scan(ctx, "")
	require.NoError(t, err)

	wlan := platformtest.Interface()
	wlan.Name = "wlan0"
	plat.Interfaces = append(plat.Interfaces, wlan)
	plat.SetLinkError("wlan0", types.NewError(types.KindPermissionDenied, "open link", "wlan0", nil))

	_, err = e.Scan(ctx, "wlan0")
	assert.ErrorIs(t, err, types.ErrPermissionDenied)
	assert.Equal(t, "eth0", e.Interface().Name)
	assert.False(t, plat.LinkValue.Closed())

	devices, err := e.Scan(ctx, "")
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	require.NoError(t, e.Cut(ctx, deviceIP))
	require.NoError(t, e.Restore(ctx, deviceIP))
}

func TestOptionsCapProbeTimeout(t *testing.T) {
	options := Options{ProbeTimeout: time.Minute}.withDefaults()
	assert.Equal(t, platform.DefaultProbeTimeout, options.ProbeTimeout)

	options = Options{ProbeTimeout: 500 * time.Millisecond}.withDefaults()
	assert.Equal(t, 500*time.Millisecond, options.ProbeTimeout)
}
