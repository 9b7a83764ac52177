package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/projectdiscovery/netwarden/pkg/platform/platformtest"
	"github.com/projectdiscovery/netwarden/pkg/registry"
	"github.com/projectdiscovery/netwarden/pkg/traffic"
	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceIP = "192.168.1.50"

func newTestController(t *testing.T) (*Controller, *registry.Registry, *platformtest.Platform, *traffic.Shaper) {
	t.Helper()
	reg := registry.New()
	reg.Observe([]registry.Sighting{{IP: deviceIP, MAC: "AA:BB:CC:DD:EE:01"}}, time.Now())
	plat := platformtest.New()
	shaper := traffic.NewShaper()
	iface := platformtest.Interface()
	return New(reg, plat, shaper, &iface), reg, plat, shaper
}

func TestSetLimitNative(t *testing.T) {
	c, reg, plat, shaper := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetLimit(ctx, deviceIP, 1_000_000))
	bps, ok := plat.Limit(deviceIP)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), bps)
	assert.Empty(t, shaper.Limited())

	device, _ := reg.Get(deviceIP)
	require.NotNil(t, device.SpeedLimit)
	assert.Equal(t, uint64(1_000_000), *device.SpeedLimit)
	assert.Equal(t, types.LimitNative, device.LimitMode)

	require.NoError(t, c.ClearLimit(ctx, deviceIP))
	_, ok = plat.Limit(deviceIP)
	assert.False(t, ok)
	device, _ = reg.Get(deviceIP)
	assert.Nil(t, device.SpeedLimit)
	assert.Equal(t, types.LimitNone, device.LimitMode)
}

func TestSetLimitZeroClears(t *testing.T) {
	c, reg, _, _ := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetLimit(ctx, deviceIP, 500_000))
	require.NoError(t, c.SetLimit(ctx, deviceIP, 0))
	device, _ := reg.Get(deviceIP)
	assert.Nil(t, device.SpeedLimit)
}

func TestSetLimitSoftwareFallback(t *testing.T) {
	c, reg, plat, shaper := newTestController(t)
	plat.SetRateLimitError(types.NewError(types.KindUnsupported, "rate limit", deviceIP, errors.New("no tc")))
	ctx := context.Background()

	require.NoError(t, c.SetLimit(ctx, deviceIP, 2_000_000))
	bps, ok := shaper.Limit(deviceIP)
	require.True(t, ok)
	assert.Equal(t, uint64(2_000_000), bps)

	device, _ := reg.Get(deviceIP)
	assert.Equal(t, types.LimitSoftware, device.LimitMode)

	require.NoError(t, c.ClearLimit(ctx, deviceIP))
	assert.Empty(t, shaper.Limited())
}

func TestSetLimitFailureKeepsPrevious(t *testing.T) {
	c, reg, plat, _ := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetLimit(ctx, deviceIP, 1_000_000))
	plat.SetRateLimitError(types.NewError(types.KindPermissionDenied, "rate limit", deviceIP, nil))

	err := c.SetLimit(ctx, deviceIP, 5_000_000)
	assert.ErrorIs(t, err, types.ErrPermissionDenied)
	device, _ := reg.Get(deviceIP)
	require.NotNil(t, device.SpeedLimit)
	assert.Equal(t, uint64(1_000_000), *device.SpeedLimit)
}

func TestSetLimitValidation(t *testing.T) {
	c, _, _, _ := newTestController(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.SetLimit(ctx, "192.168.1", 1000), types.ErrInvalidInput)
	assert.ErrorIs(t, c.SetLimit(ctx, "192.168.1.99", 1000), types.ErrDeviceNotFound)
	assert.ErrorIs(t, c.ClearLimit(ctx, "192.168.1.99"), types.ErrDeviceNotFound)
}

func TestCloseReleasesLimits(t *testing.T) {
	c, _, plat, _ := newTestController(t)
	require.NoError(t, c.SetLimit(context.Background(), deviceIP, 1_000_000))

	c.Close()
	_, ok := plat.Limit(deviceIP)
	assert.False(t, ok)
}
