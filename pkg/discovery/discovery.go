package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/arp"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/registry"
	"github.com/projectdiscovery/netwarden/pkg/resolver"
	"github.com/projectdiscovery/netwarden/pkg/types"
	mapsutil "github.com/projectdiscovery/utils/maps"
	syncutil "github.com/projectdiscovery/utils/sync"
)

// Options tunes discovery
type Options struct {
	// ReplyWindow is how long replies are collected after the last request
	ReplyWindow time.Duration
	// Liveness is how long a device may go unseen before it is inactive
	Liveness time.Duration
	// SendInterval paces requests on the wire
	SendInterval time.Duration
	// EnrichWorkers bounds concurrent identity lookups
	EnrichWorkers int
	// EnrichTimeout bounds the lookups of a single device
	EnrichTimeout time.Duration
}

// DefaultOptions returns the discovery defaults
func DefaultOptions() Options {
	return Options{
		ReplyWindow:   3 * time.Second,
		Liveness:      60 * time.Second,
		SendInterval:  2 * time.Millisecond,
		EnrichWorkers: 8,
		EnrichTimeout: 10 * time.Second,
	}
}

// Identifier resolves the identity of a device
type Identifier interface {
	Resolve(ctx context.Context, ip, mac string) resolver.Identity
}

// Discovery finds devices with ARP sweeps and keeps the registry current
type Discovery struct {
	options  Options
	registry *registry.Registry
	platform platform.Platform
	resolver Identifier

	scanMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	pool      *syncutil.AdaptiveWaitGroup
	batches   sync.WaitGroup
	enriching *mapsutil.SyncLockMap[string, struct{}]

	hookMu      sync.RWMutex
	onMove      func(move registry.Move)
	onMACChange func(ip, mac string)
	gateway     string
}

// New creates a discovery engine. resolver may be nil to skip enrichment.
func New(reg *registry.Registry, plat platform.Platform, res Identifier, options Options) (*Discovery, error) {
	defaults := DefaultOptions()
	if options.ReplyWindow <= 0 {
		options.ReplyWindow = defaults.ReplyWindow
	}
	if options.Liveness <= 0 {
		options.Liveness = defaults.Liveness
	}
	if options.SendInterval < 0 {
		options.SendInterval = 0
	}
	if options.EnrichWorkers <= 0 {
		options.EnrichWorkers = defaults.EnrichWorkers
	}
	if options.EnrichTimeout <= 0 {
		options.EnrichTimeout = defaults.EnrichTimeout
	}

	pool, err := syncutil.New(syncutil.WithSize(options.EnrichWorkers))
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Discovery{
		options:   options,
		registry:  reg,
		platform:  plat,
		resolver:  res,
		ctx:       ctx,
		cancel:    cancel,
		pool:      pool,
		enriching: mapsutil.NewSyncLockMap[string, struct{}](),
	}, nil
}

// OnMove registers a hook called after a device changed IP address
func (d *Discovery) OnMove(fn func(move registry.Move)) {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.onMove = fn
}

// OnMACChange registers a hook called after a known address was answered
// by a different hardware address
func (d *Discovery) OnMACChange(fn func(ip, mac string)) {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.onMACChange = fn
}

// SetGateway marks ip as the gateway so enrichment types it as a router
func (d *Discovery) SetGateway(ip string) {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.gateway = ip
}

// Scan sweeps the network of iface over link, merges the neighbor table and
// updates the registry. Concurrent calls are serialized.
func (d *Discovery) Scan(ctx context.Context, iface *types.Interface, link platform.Link) ([]types.Device, error) {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	targets, network, err := SweepTargets(iface)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	replies, err := d.sweep(ctx, iface, link, network, targets)
	if err != nil {
		return nil, err
	}
	swept := len(replies)

	if neighbors, err := d.platform.ReadNeighborTable(); err == nil {
		for _, n := range neighbors {
			if n.Interface != "" && n.Interface != iface.Name {
				continue
			}
			if !network.Contains(n.IP) || n.IP.Equal(iface.IP) {
				continue
			}
			ip := n.IP.String()
			if _, ok := replies[ip]; !ok {
				replies[ip] = types.NormalizeMAC(n.MAC)
			}
		}
	} else {
		gologger.Debug().Msgf("could not read neighbor table: %s", err)
	}

	sightings := make([]registry.Sighting, 0, len(replies))
	for ip, mac := range replies {
		sightings = append(sightings, registry.Sighting{IP: ip, MAC: mac})
	}

	now := time.Now()
	result := d.registry.Observe(sightings, now)
	inactive := d.registry.MarkInactive(now, d.options.Liveness)

	gologger.Verbose().Msgf("scan of %s: %d replies, %d from neighbor table, %d new, %d moved, %d inactive in %s",
		network, swept, len(replies)-swept, len(result.Added), len(result.Moved), len(inactive), time.Since(start).Round(time.Millisecond))

	d.hookMu.RLock()
	onMove, onMACChange := d.onMove, d.onMACChange
	d.hookMu.RUnlock()
	for _, move := range result.Moved {
		gologger.Info().Msgf("device %s moved from %s to %s", move.MAC, move.From, move.To)
		if onMove != nil {
			onMove(move)
		}
	}
	for _, ip := range result.MACChanged {
		gologger.Info().Msgf("%s is now answered by %s", ip, replies[ip])
		if onMACChange != nil {
			onMACChange(ip, replies[ip])
		}
	}

	var enrich []registry.Sighting
	for _, ip := range append(result.Added, result.MACChanged...) {
		enrich = append(enrich, registry.Sighting{IP: ip, MAC: replies[ip]})
	}
	d.enrich(enrich)

	return d.registry.List(), nil
}

// sweep broadcasts one request per target and collects replies until the
// reply window after the last send has elapsed
func (d *Discovery) sweep(ctx context.Context, iface *types.Interface, link platform.Link, network *net.IPNet, targets []net.IP) (map[string]string, error) {
	ownMAC := link.HardwareAddr()
	sub := link.Subscribe(platform.ARPOnly, 1024)

	collected := make(chan map[string]string, 1)
	go func() {
		replies := make(map[string]string)
		for packet := range sub.Packets() {
			p, err := arp.FromPacket(packet)
			if err != nil {
				continue
			}
			// our own poison and corrective frames are captured too
			if sameMAC(p.EthSrc, ownMAC) || sameMAC(p.SenderMAC, ownMAC) {
				continue
			}
			if !network.Contains(p.SenderIP) || p.SenderIP.Equal(iface.IP) || !types.IsUsableMAC(p.SenderMAC) {
				continue
			}
			if isNetworkOrBroadcast(p.SenderIP, network) {
				continue
			}
			replies[p.SenderIP.String()] = types.NormalizeMAC(p.SenderMAC)
		}
		collected <- replies
	}()

	finish := func() map[string]string {
		sub.Close()
		return <-collected
	}

	for i, target := range targets {
		frame, err := arp.Request(ownMAC, iface.IP, target)
		if err != nil {
			finish()
			return nil, err
		}
		if err := link.WriteFrame(frame); err != nil {
			if i == 0 {
				finish()
				return nil, fmt.Errorf("failed to send arp request: %w", err)
			}
			gologger.Debug().Msgf("arp request to %s failed: %s", target, err)
		}
		if d.options.SendInterval > 0 {
			select {
			case <-ctx.Done():
				finish()
				return nil, ctx.Err()
			case <-time.After(d.options.SendInterval):
			}
		}
	}

	select {
	case <-ctx.Done():
		finish()
		return nil, ctx.Err()
	case <-time.After(d.options.ReplyWindow):
	}
	return finish(), nil
}

// enrich resolves identities in the background without delaying the scan
func (d *Discovery) enrich(devices []registry.Sighting) {
	if d.resolver == nil || len(devices) == 0 {
		return
	}
	d.batches.Add(1)
	go func() {
		defer d.batches.Done()
		for _, device := range devices {
			if d.ctx.Err() != nil {
				return
			}
			if d.enriching.Has(device.IP) {
				continue
			}
			_ = d.enriching.Set(device.IP, struct{}{})

			d.pool.Add()
			go func(ip, mac string) {
				defer d.pool.Done()
				defer d.enriching.Delete(ip)
				d.enrichOne(ip, mac)
			}(device.IP, device.MAC)
		}
	}()
}

func (d *Discovery) enrichOne(ip, mac string) {
	ctx, cancel := context.WithTimeout(d.ctx, d.options.EnrichTimeout)
	defer cancel()

	identity := d.resolver.Resolve(ctx, ip, mac)

	d.hookMu.RLock()
	isGateway := d.gateway == ip
	d.hookMu.RUnlock()
	if isGateway {
		identity.DeviceType = resolver.DeviceTypeRouter
	}

	err := d.registry.Update(ip, func(device *types.Device) {
		// the device changed under us, a new enrichment is queued for it
		if device.MAC != mac {
			return
		}
		if identity.Hostname != "" {
			device.Hostname = identity.Hostname
		}
		if identity.Vendor != "" {
			device.Vendor = identity.Vendor
		}
		if device.DeviceType == "" || device.DeviceType == resolver.DeviceTypeUnknown {
			device.DeviceType = identity.DeviceType
		}
	})
	if err != nil {
		gologger.Debug().Msgf("dropping identity of %s: %s", ip, err)
	}
}

// Wait blocks until queued enrichment has finished
func (d *Discovery) Wait() {
	d.batches.Wait()
	d.pool.Wait()
}

// Close stops enrichment and waits for in-flight lookups
func (d *Discovery) Close() {
	d.cancel()
	d.Wait()
}

func sameMAC(a, b net.HardwareAddr) bool {
	return len(a) == len(b) && len(a) > 0 && a.String() == b.String()
}
