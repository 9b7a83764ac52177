package engine

import (
	"time"

	"github.com/projectdiscovery/netwarden/pkg/discovery"
	"github.com/projectdiscovery/netwarden/pkg/monitor"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/resolver"
	"github.com/projectdiscovery/netwarden/pkg/spoof"
)

// Options holds the engine policy. Zero values fall back to DefaultOptions.
type Options struct {
	// Interface to attach to, the default route interface when empty
	Interface string `yaml:"interface"`

	Liveness         time.Duration `yaml:"liveness"`
	PruneAfter       time.Duration `yaml:"prune_after"`
	ScanInterval     time.Duration `yaml:"scan_interval"`
	ReassertInterval time.Duration `yaml:"reassert_interval"`
	ReplyWindow      time.Duration `yaml:"reply_window"`
	SendInterval     time.Duration `yaml:"send_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	Settle           time.Duration `yaml:"settle"`
	GatewayTTL       time.Duration `yaml:"gateway_ttl"`

	// FakePoisonMAC claims a locally administered address nobody owns
	// instead of the host MAC when cutting
	FakePoisonMAC bool `yaml:"fake_poison_mac"`

	VendorLookupURL     string `yaml:"vendor_lookup_url"`
	DisableVendorLookup bool   `yaml:"disable_vendor_lookup"`
	// DNSResolver answers PTR queries, the gateway when empty
	DNSResolver       string `yaml:"dns_resolver"`
	DisableEnrichment bool   `yaml:"disable_enrichment"`
	EnrichWorkers     int    `yaml:"enrich_workers"`

	// DisableRelay turns off forwarding of software limited devices
	DisableRelay bool `yaml:"disable_relay"`
	// DisableFilterFallback keeps cuts from falling back to the host packet
	// filter when frames cannot be injected
	DisableFilterFallback bool `yaml:"disable_filter_fallback"`
}

// DefaultOptions returns the engine policy constants
func DefaultOptions() Options {
	discoveryDefaults := discovery.DefaultOptions()
	monitorDefaults := monitor.DefaultOptions()
	spoofDefaults := spoof.DefaultOptions()
	return Options{
		Liveness:         discoveryDefaults.Liveness,
		PruneAfter:       monitorDefaults.PruneAfter,
		ScanInterval:     monitorDefaults.Interval,
		ReassertInterval: spoofDefaults.Interval,
		ReplyWindow:      discoveryDefaults.ReplyWindow,
		SendInterval:     discoveryDefaults.SendInterval,
		ProbeTimeout:     platform.DefaultProbeTimeout,
		Settle:           spoofDefaults.Settle,
		GatewayTTL:       5 * time.Minute,
		VendorLookupURL:  resolver.DefaultVendorURL,
		EnrichWorkers:    discoveryDefaults.EnrichWorkers,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.Liveness <= 0 {
		o.Liveness = defaults.Liveness
	}
	if o.PruneAfter <= 0 {
		o.PruneAfter = defaults.PruneAfter
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = defaults.ScanInterval
	}
	if o.ReassertInterval <= 0 {
		o.ReassertInterval = defaults.ReassertInterval
	}
	if o.ReplyWindow <= 0 {
		o.ReplyWindow = defaults.ReplyWindow
	}
	if o.SendInterval <= 0 {
		o.SendInterval = defaults.SendInterval
	}
	// the probe timeout doubles as its upper bound
	if o.ProbeTimeout <= 0 || o.ProbeTimeout > defaults.ProbeTimeout {
		o.ProbeTimeout = defaults.ProbeTimeout
	}
	if o.Settle <= 0 {
		o.Settle = defaults.Settle
	}
	if o.GatewayTTL <= 0 {
		o.GatewayTTL = defaults.GatewayTTL
	}
	if o.VendorLookupURL == "" {
		o.VendorLookupURL = defaults.VendorLookupURL
	}
	if o.EnrichWorkers <= 0 {
		o.EnrichWorkers = defaults.EnrichWorkers
	}
	return o
}
