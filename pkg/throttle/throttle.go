// Package throttle caps the bandwidth of single devices.
//
// The platform shaper (tc HTB on Linux, dummynet on macOS) is tried first.
// Where it reports Unsupported the cap falls back to the software token
// bucket enforced by the traffic relay. A device's speed_limit and
// limit_mode only change once the chosen mechanism accepted the cap.
package throttle

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/registry"
	"github.com/projectdiscovery/netwarden/pkg/traffic"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// Controller applies and removes per-device caps
type Controller struct {
	registry *registry.Registry
	platform platform.Platform
	shaper   *traffic.Shaper
	iface    *types.Interface

	mu sync.Mutex
}

// New creates a controller shaping on iface
func New(reg *registry.Registry, plat platform.Platform, shaper *traffic.Shaper, iface *types.Interface) *Controller {
	return &Controller{
		registry: reg,
		platform: plat,
		shaper:   shaper,
		iface:    iface,
	}
}

// SetLimit caps ip at bps bits per second. Zero clears the cap.
func (c *Controller) SetLimit(ctx context.Context, ip string, bps uint64) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	ip = target.String()
	if bps == 0 {
		return c.ClearLimit(ctx, ip)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	device, ok := c.registry.Get(ip)
	if !ok {
		return types.NewError(types.KindDeviceNotFound, "set limit", ip, nil)
	}

	mode := types.LimitNative
	if err := c.platform.ApplyRateLimit(c.iface, target, bps); err != nil {
		if !errors.Is(err, types.ErrUnsupported) {
			return err
		}
		gologger.Verbose().Msgf("native shaping unavailable for %s, using software limiter: %s", ip, err)
		mode = types.LimitSoftware
	}

	switch mode {
	case types.LimitSoftware:
		c.shaper.SetLimit(ip, bps)
	case types.LimitNative:
		if device.LimitMode == types.LimitSoftware {
			c.shaper.ClearLimit(ip)
		}
	}

	err = c.registry.Update(ip, func(d *types.Device) {
		limit := bps
		d.SpeedLimit = &limit
		d.LimitMode = mode
	})
	if err != nil {
		c.release(target)
		return err
	}
	gologger.Info().Msgf("limited %s to %d bit/s (%s)", ip, bps, mode)
	return nil
}

// ClearLimit removes any cap on ip
func (c *Controller) ClearLimit(ctx context.Context, ip string) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	ip = target.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	device, known := c.registry.Get(ip)
	_, software := c.shaper.Limit(ip)
	if !known && !software {
		return types.NewError(types.KindDeviceNotFound, "clear limit", ip, nil)
	}

	c.shaper.ClearLimit(ip)
	if !known || device.LimitMode != types.LimitSoftware {
		if err := c.platform.RemoveRateLimit(c.iface, target); err != nil && !errors.Is(err, types.ErrUnsupported) {
			return err
		}
	}
	if !known {
		return nil
	}
	err = c.registry.Update(ip, func(d *types.Device) {
		d.SpeedLimit = nil
		d.LimitMode = types.LimitNone
	})
	if err == nil && device.SpeedLimit != nil {
		gologger.Info().Msgf("removed limit of %s", ip)
	}
	return err
}

// Release removes both mechanisms for ip without touching the registry
func (c *Controller) Release(ip string) {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release(target)
}

// Close removes every cap still installed
func (c *Controller) Close() {
	var limited []string
	for _, device := range c.registry.List() {
		if device.SpeedLimit != nil {
			limited = append(limited, device.IP)
		}
	}
	limited = append(limited, c.shaper.Limited()...)
	for _, ip := range limited {
		c.Release(ip)
	}
}

func (c *Controller) release(target net.IP) {
	ip := target.String()
	c.shaper.ClearLimit(ip)
	if err := c.platform.RemoveRateLimit(c.iface, target); err != nil && !errors.Is(err, types.ErrUnsupported) {
		gologger.Warning().Msgf("could not remove limit of %s: %s", ip, err)
	}
}
