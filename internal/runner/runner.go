package runner

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/engine"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/types"
	errorutil "github.com/projectdiscovery/utils/errors"
)

// Runner contains the internal logic of the program
type Runner struct {
	options  *Options
	policy   *Policy
	platform platform.Platform
	engine   *engine.Engine
	limits   []LimitRequest

	server    *http.Server
	closeOnce sync.Once
}

// NewRunner instance
func NewRunner(options *Options) (*Runner, error) {
	r := &Runner{options: options}
	if options.ConfigFile != "" {
		policy, err := LoadPolicy(options.ConfigFile)
		if err != nil {
			return nil, errorutil.NewWithErr(err).Msgf("could not load policy %s", options.ConfigFile)
		}
		r.policy = policy
	}

	var policyLimits map[string]string
	if r.policy != nil {
		policyLimits = r.policy.Limits
	}
	limits, err := parseLimits(options.Limit, policyLimits)
	if err != nil {
		return nil, err
	}
	r.limits = limits

	engineOptions := options.engineOptions(r.policy)
	r.platform = platform.New(platform.Options{ProbeTimeout: engineOptions.ProbeTimeout})
	if options.ListInterfaces {
		return r, nil
	}

	e, err := engine.New(r.platform, engineOptions)
	if err != nil {
		return nil, errorutil.NewWithErr(err).Msgf("could not start engine")
	}
	r.engine = e
	return r, nil
}

// Run the instance
func (r *Runner) Run(ctx context.Context) error {
	if r.options.ListInterfaces {
		ifaces, err := r.platform.ListInterfaces()
		if err != nil {
			return err
		}
		return writeInterfaceTable(os.Stdout, ifaces)
	}
	defer r.Close()

	iface := r.engine.Interface()
	gologger.Info().Msgf("Using interface %s (%s)", iface.Name, iface.IP)

	if r.options.MetricsAddr != "" {
		if err := r.serveMetrics(); err != nil {
			return err
		}
	}

	devices, err := r.engine.Scan(ctx, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errorutil.NewWithErr(err).Msgf("initial scan failed")
	}
	gologger.Info().Msgf("Found %d devices on %s", len(devices), iface.Network)
	if gw, err := r.engine.Gateway(ctx); err == nil {
		gologger.Verbose().Msgf("Gateway %s is at %s", gw.IP, gw.MAC)
	} else {
		gologger.Warning().Msgf("Could not resolve gateway: %s", err)
	}

	actions := r.applyActions(ctx)
	if !r.options.Watch && actions == 0 {
		return r.print(r.engine.Devices())
	}

	r.engine.Start(ctx)
	if r.options.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.options.Duration)
		defer cancel()
	}

	if !r.options.Watch {
		<-ctx.Done()
		return nil
	}
	interval := r.options.ScanInterval
	if interval <= 0 {
		interval = engine.DefaultOptions().ScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := r.print(r.engine.Devices()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// applyActions arms the requested protections, cuts and limits and returns
// how many succeeded. Protections go first so a later cut cannot override one.
func (r *Runner) applyActions(ctx context.Context) int {
	protect := []string(r.options.Protect)
	cut := []string(r.options.Cut)
	if r.policy != nil {
		protect = append(protect, r.policy.Protect...)
		cut = append(cut, r.policy.Cut...)
	}

	applied := 0
	for _, ip := range protect {
		if err := r.engine.Protect(ctx, ip); err != nil {
			gologger.Warning().Msgf("Could not protect %s: %s", ip, err)
			continue
		}
		gologger.Info().Msgf("Protecting %s", ip)
		applied++
	}
	for _, ip := range cut {
		if err := r.engine.Cut(ctx, ip); err != nil {
			gologger.Warning().Msgf("Could not cut %s: %s", ip, err)
			continue
		}
		gologger.Info().Msgf("Cutting %s", ip)
		applied++
	}
	for _, limit := range r.limits {
		if err := r.engine.SetLimit(ctx, limit.IP, limit.BPS); err != nil {
			gologger.Warning().Msgf("Could not limit %s: %s", limit.IP, err)
			continue
		}
		device, _ := r.engine.Device(limit.IP)
		gologger.Info().Msgf("Limited %s to %s (%s)", limit.IP, FormatRate(limit.BPS), limitModeName(device.LimitMode))
		applied++
	}
	return applied
}

func limitModeName(mode types.LimitMode) string {
	if mode == types.LimitNone {
		return "none"
	}
	return string(mode)
}

func (r *Runner) print(devices []types.Device) error {
	if r.options.JSON {
		return writeDevicesJSON(os.Stdout, devices)
	}
	if err := writeDeviceTable(os.Stdout, devices); err != nil {
		return err
	}
	summary := r.engine.Summary()
	gologger.Info().Msgf("%d devices, %d active, %d cut, %d protected, %d limited, %s total",
		summary.TotalDevices, summary.ActiveDevices, summary.Cutting, summary.Protected, summary.Limited,
		FormatRate(summary.TotalBandwidth))
	return nil
}

func (r *Runner) serveMetrics() error {
	listener, err := net.Listen("tcp", r.options.MetricsAddr)
	if err != nil {
		return errorutil.NewWithErr(err).Msgf("could not listen on %s", r.options.MetricsAddr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.engine.Metrics().Handler())
	r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			gologger.Warning().Msgf("Metrics server stopped: %s", err)
		}
	}()
	gologger.Info().Msgf("Serving metrics on http://%s/metrics", listener.Addr())
	return nil
}

// Close restores every device and stops the metrics server
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if r.server != nil {
			_ = r.server.Shutdown(ctx)
		}
		if r.engine == nil {
			return
		}
		if err := r.engine.Close(ctx); err != nil {
			gologger.Warning().Msgf("Could not restore all devices: %s", err)
			return
		}
		gologger.Info().Msgf("Restored all devices")
	})
}
