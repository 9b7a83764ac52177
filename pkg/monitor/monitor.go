// Package monitor runs the periodic maintenance loop: discovery, speed
// computation, spoof re-assertion and pruning of long gone devices.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/registry"
	"github.com/projectdiscovery/netwarden/pkg/traffic"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// Options tunes the scheduler
type Options struct {
	// Interval between ticks
	Interval time.Duration
	// PruneAfter is how long an inactive device is kept
	PruneAfter time.Duration
}

// DefaultOptions returns the scheduler defaults
func DefaultOptions() Options {
	return Options{
		Interval:   5 * time.Second,
		PruneAfter: time.Hour,
	}
}

// Counters supplies cumulative per-device byte counts
type Counters interface {
	Read(ip string) traffic.Counters
	Forget(ip string)
}

// Sessions is the spoof controller as seen by the scheduler
type Sessions interface {
	ReassertDue(now time.Time) int
	Forget(ctx context.Context, ip string)
}

// Limits releases bandwidth caps
type Limits interface {
	Release(ip string)
}

// Recorder receives scan outcomes and the state after each tick
type Recorder interface {
	ObserveScan(elapsed time.Duration, err error)
	Publish(devices []types.Device, sessionsByMode map[string]int)
}

// Config wires the scheduler to the engine components. Everything but
// Registry is optional.
type Config struct {
	Registry     *registry.Registry
	Scan         func(ctx context.Context) error
	Counters     Counters
	Sessions     Sessions
	Limits       Limits
	Recorder     Recorder
	SessionModes func() map[string]int
}

// Monitor is the single scheduler loop
type Monitor struct {
	config  Config
	options Options

	mu      sync.Mutex
	samples map[string]traffic.Sample

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler
func New(config Config, options Options) *Monitor {
	defaults := DefaultOptions()
	if options.Interval <= 0 {
		options.Interval = defaults.Interval
	}
	if options.PruneAfter <= 0 {
		options.PruneAfter = defaults.PruneAfter
	}
	return &Monitor{
		config:  config,
		options: options,
		samples: make(map[string]traffic.Sample),
	}
}

// Start runs a tick immediately and then on every interval until Stop
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.options.Interval)
		defer ticker.Stop()
		for {
			m.Tick(ctx, time.Now())
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for the running tick
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

// Tick performs one maintenance round at now
func (m *Monitor) Tick(ctx context.Context, now time.Time) {
	if m.config.Scan != nil {
		start := time.Now()
		err := m.config.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			gologger.Warning().Msgf("scan failed, retrying next tick: %s", err)
		}
		if m.config.Recorder != nil {
			m.config.Recorder.ObserveScan(time.Since(start), err)
		}
	}

	m.UpdateSpeeds(now)

	if m.config.Sessions != nil {
		if kicked := m.config.Sessions.ReassertDue(now); kicked > 0 {
			gologger.Debug().Msgf("re-asserting %d spoof sessions", kicked)
		}
	}

	m.Prune(ctx, now)

	if m.config.Recorder != nil {
		var modes map[string]int
		if m.config.SessionModes != nil {
			modes = m.config.SessionModes()
		}
		m.config.Recorder.Publish(m.config.Registry.List(), modes)
	}
}

// UpdateSpeeds recomputes current_speed of every device from the counter
// deltas since the previous call. Inactive devices and devices without a
// previous sample read zero.
func (m *Monitor) UpdateSpeeds(now time.Time) {
	if m.config.Counters == nil {
		return
	}
	devices := m.config.Registry.List()
	speeds := make(map[string]types.Speed, len(devices))

	m.mu.Lock()
	for i := range devices {
		ip := devices[i].IP
		current := traffic.Sample{Counters: m.config.Counters.Read(ip), At: now}
		previous, ok := m.samples[ip]
		m.samples[ip] = current
		if !ok || devices[i].Status != types.StatusActive {
			speeds[ip] = types.Speed{}
			continue
		}
		speeds[ip] = traffic.ComputeSpeed(previous.Counters, current.Counters, now.Sub(previous.At))
	}
	m.mu.Unlock()

	m.config.Registry.UpdateAll(func(device *types.Device) {
		if speed, ok := speeds[device.IP]; ok {
			device.CurrentSpeed = speed
		}
	})
}

// Prune removes devices inactive for longer than PruneAfter, releasing
// their sessions, limits and counters. It returns the removed addresses.
func (m *Monitor) Prune(ctx context.Context, now time.Time) []string {
	var pruned []string
	for _, ip := range m.config.Registry.Expired(now, m.options.PruneAfter) {
		if !m.config.Registry.Prune(ip, now, m.options.PruneAfter) {
			continue
		}
		if m.config.Sessions != nil {
			m.config.Sessions.Forget(ctx, ip)
		}
		if m.config.Limits != nil {
			m.config.Limits.Release(ip)
		}
		if m.config.Counters != nil {
			m.config.Counters.Forget(ip)
		}
		m.mu.Lock()
		delete(m.samples, ip)
		m.mu.Unlock()
		pruned = append(pruned, ip)
	}
	if len(pruned) > 0 {
		gologger.Verbose().Msgf("pruned %d devices: %v", len(pruned), pruned)
	}
	return pruned
}
