// Package metrics exposes engine state as prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netwarden"

// Metrics holds the collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	devices      *prometheus.GaugeVec
	speed        *prometheus.GaugeVec
	limited      prometheus.Gauge
	sessions     *prometheus.GaugeVec
	frames       *prometheus.CounterVec
	scanDuration prometheus.Histogram
	scanFailures prometheus.Counter
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the registry by liveness status",
		}, []string{"status"}),
		speed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_speed_bits_per_second",
			Help:      "Current throughput of a device",
		}, []string{"ip", "direction"}),
		limited: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_limited",
			Help:      "Devices with a bandwidth cap",
		}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spoof_sessions",
			Help:      "Armed spoof sessions by mode",
		}, []string{"mode"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arp_frames_sent_total",
			Help:      "ARP replies sent by kind",
		}, []string{"kind"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of discovery scans",
			Buckets:   []float64{0.5, 1, 2, 3, 4, 5, 7.5, 10, 15, 30},
		}),
		scanFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Discovery scans that returned an error",
		}),
	}
	m.registry.MustRegister(
		m.devices,
		m.speed,
		m.limited,
		m.sessions,
		m.frames,
		m.scanDuration,
		m.scanFailures,
		prometheus.NewGoCollector(),
	)
	return m
}

// FramesSent counts ARP replies put on the wire
func (m *Metrics) FramesSent(kind string, n int) {
	m.frames.WithLabelValues(kind).Add(float64(n))
}

// ObserveScan records one discovery scan
func (m *Metrics) ObserveScan(elapsed time.Duration, err error) {
	if err != nil {
		m.scanFailures.Inc()
		return
	}
	m.scanDuration.Observe(elapsed.Seconds())
}

// Publish replaces the device and session gauges with the current state
func (m *Metrics) Publish(devices []types.Device, sessionsByMode map[string]int) {
	m.devices.Reset()
	m.speed.Reset()
	m.devices.WithLabelValues(types.StatusActive.String()).Set(0)
	m.devices.WithLabelValues(types.StatusInactive.String()).Set(0)

	limited := 0
	for i := range devices {
		device := &devices[i]
		m.devices.WithLabelValues(device.Status.String()).Inc()
		if device.SpeedLimit != nil {
			limited++
		}
		if device.Status != types.StatusActive {
			continue
		}
		m.speed.WithLabelValues(device.IP, "upload").Set(float64(device.CurrentSpeed.Upload))
		m.speed.WithLabelValues(device.IP, "download").Set(float64(device.CurrentSpeed.Download))
	}
	m.limited.Set(float64(limited))

	m.sessions.Reset()
	for mode, count := range sessionsByMode {
		m.sessions.WithLabelValues(mode).Set(float64(count))
	}
}

// Gatherer returns the registry backing the collectors
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the collectors in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
