// Package engine is the operation surface of netwarden. It attaches to one
// interface, owns the device registry and wires discovery, the spoof and
// throttle controllers, traffic accounting and the monitoring scheduler
// together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/discovery"
	"github.com/projectdiscovery/netwarden/pkg/metrics"
	"github.com/projectdiscovery/netwarden/pkg/monitor"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/registry"
	"github.com/projectdiscovery/netwarden/pkg/resolver"
	"github.com/projectdiscovery/netwarden/pkg/spoof"
	"github.com/projectdiscovery/netwarden/pkg/throttle"
	"github.com/projectdiscovery/netwarden/pkg/traffic"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// Engine is the network control engine
type Engine struct {
	options  Options
	platform platform.Platform
	registry *registry.Registry
	resolver *resolver.Resolver
	shaper   *traffic.Shaper
	metrics  *metrics.Metrics

	attachMu sync.Mutex
	mu       sync.RWMutex
	current  *attachment
	started  context.Context
}

// attachment is everything bound to the interface the engine acts on
type attachment struct {
	iface     *types.Interface
	link      platform.Link
	discovery *discovery.Discovery
	spoof     *spoof.Controller
	throttle  *throttle.Controller
	meter     *traffic.Meter
	relay     *traffic.Relay
	monitor   *monitor.Monitor

	gwMu      sync.Mutex
	gateway   *types.Gateway
	gatewayAt time.Time
}

// New creates an engine attached to the configured interface. It fails
// with PermissionDenied when the process lacks the privileges to inject
// frames.
func New(plat platform.Platform, options Options) (*Engine, error) {
	if !plat.Privileged() {
		return nil, types.NewError(types.KindPermissionDenied, "start", "", errors.New("raw frame access requires root or administrator privileges"))
	}
	options = options.withDefaults()

	e := &Engine{
		options:  options,
		platform: plat,
		registry: registry.New(),
		shaper:   traffic.NewShaper(),
		metrics:  metrics.New(),
	}
	if !options.DisableEnrichment {
		vendorOptions := resolver.DefaultVendorOptions()
		vendorOptions.LookupURL = options.VendorLookupURL
		if options.DisableVendorLookup {
			vendorOptions.LookupURL = ""
		}
		e.resolver = resolver.New(vendorOptions, resolver.HostnameOptions{
			Server:         options.DNSResolver,
			SystemFallback: true,
		})
	}

	iface, err := e.findInterface(options.Interface)
	if err != nil {
		return nil, err
	}
	a, err := e.attach(iface)
	if err != nil {
		return nil, err
	}
	e.current = a
	gologger.Info().Msgf("attached to %s (%s, %s)", iface.Name, iface.IP, iface.MAC)
	return e, nil
}

func (e *Engine) findInterface(name string) (*types.Interface, error) {
	if name == "" {
		return e.platform.DefaultInterface()
	}
	ifaces, err := e.platform.ListInterfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if ifaces[i].Name == name {
			iface := ifaces[i]
			return &iface, nil
		}
	}
	return nil, types.NewError(types.KindInterfaceNotFound, "attach", name, nil)
}

func (e *Engine) attach(iface *types.Interface) (*attachment, error) {
	if iface.IP.To4() == nil || iface.Network == nil {
		return nil, types.NewError(types.KindInterfaceNotFound, "attach", iface.Name, errors.New("interface has no IPv4 address"))
	}
	link, err := e.platform.OpenLink(iface)
	if err != nil {
		return nil, err
	}

	var identifier discovery.Identifier
	if e.resolver != nil {
		identifier = e.resolver
	}
	disc, err := discovery.New(e.registry, e.platform, identifier, discovery.Options{
		ReplyWindow:   e.options.ReplyWindow,
		Liveness:      e.options.Liveness,
		SendInterval:  e.options.SendInterval,
		EnrichWorkers: e.options.EnrichWorkers,
	})
	if err != nil {
		_ = link.Close()
		return nil, err
	}

	a := &attachment{iface: iface, link: link, discovery: disc}

	spoofOptions := spoof.DefaultOptions()
	spoofOptions.Interval = e.options.ReassertInterval
	spoofOptions.Settle = e.options.Settle
	if e.options.FakePoisonMAC {
		spoofOptions.PoisonMAC = spoof.FakePoisonMAC
	}
	a.spoof = spoof.New(e.registry, link, gatewaySource{engine: e, attachment: a}, spoofOptions)
	a.spoof.SetObserver(e.metrics)
	if !e.options.DisableFilterFallback {
		a.spoof.SetFilter(packetFilter{platform: e.platform, iface: iface})
	}
	a.throttle = throttle.New(e.registry, e.platform, e.shaper, iface)
	a.meter = traffic.NewMeter(iface.Network, iface.IP, link.HardwareAddr())
	if !e.options.DisableRelay {
		a.relay = traffic.NewRelay(link, e.shaper, traffic.RelayConfig{
			Network: iface.Network,
			HostIP:  iface.IP,
			Lookup:  e.lookupMAC,
			Gateway: a.gatewayMAC,
			Blocked: e.isCut,
		})
	}
	disc.OnMove(func(move registry.Move) {
		e.handleMove(a, move)
	})
	disc.OnMACChange(func(ip, mac string) {
		e.handleMACChange(a, ip, mac)
	})

	a.monitor = monitor.New(monitor.Config{
		Registry: e.registry,
		Scan: func(ctx context.Context) error {
			_, err := e.scan(ctx, a)
			return err
		},
		Counters:     a.meter,
		Sessions:     a.spoof,
		Limits:       a.throttle,
		Recorder:     e.metrics,
		SessionModes: a.sessionModes,
	}, monitor.Options{
		Interval:   e.options.ScanInterval,
		PruneAfter: e.options.PruneAfter,
	})
	return a, nil
}

func (a *attachment) start(ctx context.Context) {
	a.meter.Start(a.link)
	if a.relay != nil {
		a.relay.Start()
	}
	a.monitor.Start(ctx)
}

// detach disarms everything bound to the attachment and releases the link
func (a *attachment) detach(ctx context.Context) error {
	a.monitor.Stop()
	err := a.spoof.Close(ctx)
	a.throttle.Close()
	if a.relay != nil {
		a.relay.Close()
	}
	a.meter.Close()
	a.discovery.Close()
	if closeErr := a.link.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

func (a *attachment) sessionModes() map[string]int {
	modes := make(map[string]int)
	for _, s := range a.spoof.Sessions() {
		modes[s.Mode]++
	}
	return modes
}

func (a *attachment) gatewayMAC() (net.HardwareAddr, bool) {
	a.gwMu.Lock()
	defer a.gwMu.Unlock()
	if a.gateway == nil {
		return nil, false
	}
	mac, err := a.gateway.HardwareAddr()
	return mac, err == nil
}

func (e *Engine) attached() *attachment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Start runs the background loops: traffic accounting, the relay and the
// monitoring scheduler. They stop on Close or when ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.attachMu.Lock()
	defer e.attachMu.Unlock()
	if e.started != nil {
		return
	}
	e.started = ctx
	e.attached().start(ctx)
}

// Close restores every cut device, removes all limits and releases the link
func (e *Engine) Close(ctx context.Context) error {
	e.attachMu.Lock()
	defer e.attachMu.Unlock()
	return e.attached().detach(ctx)
}

// Metrics returns the engine collectors
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Interface returns the attached interface
func (e *Engine) Interface() types.Interface {
	return *e.attached().iface
}

// ListInterfaces returns the IPv4 interfaces of the host
func (e *Engine) ListInterfaces() ([]types.Interface, error) {
	return e.platform.ListInterfaces()
}

// Scan sweeps the segment of the named interface and returns every known
// device. An empty name scans the attached interface. Naming another
// interface moves the engine there, which is refused while sessions are
// armed.
func (e *Engine) Scan(ctx context.Context, name string) ([]types.Device, error) {
	a := e.attached()
	if name != "" && name != a.iface.Name {
		var err error
		if a, err = e.reattach(ctx, name); err != nil {
			return nil, err
		}
	}
	return e.scan(ctx, a)
}

func (e *Engine) scan(ctx context.Context, a *attachment) ([]types.Device, error) {
	if _, err := a.resolveGateway(ctx, e); err != nil {
		gologger.Debug().Msgf("gateway of %s unresolved before scan: %s", a.iface.Name, err)
	}
	return a.discovery.Scan(ctx, a.iface, a.link)
}

func (e *Engine) reattach(ctx context.Context, name string) (*attachment, error) {
	e.attachMu.Lock()
	defer e.attachMu.Unlock()

	old := e.attached()
	if old.iface.Name == name {
		return old, nil
	}
	if n := old.spoof.ActiveSessions(); n > 0 {
		return nil, types.NewError(types.KindPolicyDenied, "scan", name, fmt.Errorf("%d sessions armed on %s", n, old.iface.Name))
	}
	iface, err := e.findInterface(name)
	if err != nil {
		return nil, err
	}

	// the old attachment stays in service until the new one is ready
	a, err := e.attach(iface)
	if err != nil {
		return nil, err
	}
	if err := old.detach(ctx); err != nil {
		gologger.Warning().Msgf("detaching from %s: %s", old.iface.Name, err)
	}
	for _, device := range e.registry.List() {
		e.registry.Delete(device.IP)
	}

	e.mu.Lock()
	e.current = a
	e.mu.Unlock()
	if e.started != nil {
		a.start(e.started)
	}
	gologger.Info().Msgf("attached to %s (%s, %s)", iface.Name, iface.IP, iface.MAC)
	return a, nil
}

// Devices returns every known device ordered by address
func (e *Engine) Devices() []types.Device {
	return e.registry.List()
}

// Device returns the device at ip
func (e *Engine) Device(ip string) (types.Device, error) {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return types.Device{}, err
	}
	device, ok := e.registry.Get(target.String())
	if !ok {
		return types.Device{}, types.NewError(types.KindDeviceNotFound, "device", ip, nil)
	}
	return device, nil
}

// Gateway returns the default gateway of the attached interface
func (e *Engine) Gateway(ctx context.Context) (*types.Gateway, error) {
	return e.attached().resolveGateway(ctx, e)
}

// resolveGateway returns the cached gateway, refreshing it after the TTL.
// A failed refresh keeps serving the last known gateway.
func (a *attachment) resolveGateway(ctx context.Context, e *Engine) (*types.Gateway, error) {
	a.gwMu.Lock()
	defer a.gwMu.Unlock()

	if a.gateway != nil && time.Since(a.gatewayAt) < e.options.GatewayTTL {
		gw := *a.gateway
		return &gw, nil
	}
	gw, err := e.platform.GatewayInfo(ctx, a.iface)
	if err != nil {
		if a.gateway != nil {
			stale := *a.gateway
			return &stale, nil
		}
		if _, ok := types.KindOf(err); ok {
			return nil, err
		}
		return nil, types.NewError(types.KindGatewayUnresolved, "gateway", a.iface.Name, err)
	}
	if a.gateway == nil || a.gateway.IP != gw.IP || a.gateway.MAC != gw.MAC {
		gologger.Verbose().Msgf("gateway of %s is %s (%s)", a.iface.Name, gw.IP, gw.MAC)
	}
	a.gateway = gw
	a.gatewayAt = time.Now()
	a.discovery.SetGateway(gw.IP)
	if e.resolver != nil && e.options.DNSResolver == "" {
		e.resolver.Hostnames.SetServer(net.JoinHostPort(gw.IP, "53"))
	}
	out := *gw
	return &out, nil
}

// gatewaySource feeds the spoof controller the gateway of its attachment
type gatewaySource struct {
	engine     *Engine
	attachment *attachment
}

func (g gatewaySource) Gateway(ctx context.Context) (*types.Gateway, error) {
	return g.attachment.resolveGateway(ctx, g.engine)
}

// packetFilter blocks devices with the host firewall of one interface
type packetFilter struct {
	platform platform.Platform
	iface    *types.Interface
}

func (f packetFilter) Block(ip net.IP) error {
	return f.platform.BlockDevice(f.iface, ip)
}

func (f packetFilter) Unblock(ip net.IP) error {
	return f.platform.UnblockDevice(f.iface, ip)
}

func (e *Engine) isCut(ip string) bool {
	device, ok := e.registry.Get(ip)
	return ok && device.AttackStatus == types.AttackCutting
}

func (e *Engine) lookupMAC(ip string) (net.HardwareAddr, bool) {
	device, ok := e.registry.Get(ip)
	if !ok {
		return nil, false
	}
	mac, err := device.HardwareAddr()
	return mac, err == nil
}

// handleMove carries sessions and limits of a device to its new address
func (e *Engine) handleMove(a *attachment, move registry.Move) {
	ctx := context.Background()
	a.spoof.Relocate(ctx, move)

	device, ok := e.registry.Get(move.To)
	if !ok || device.SpeedLimit == nil {
		return
	}
	a.throttle.Release(move.From)
	if err := a.throttle.SetLimit(ctx, move.To, *device.SpeedLimit); err != nil {
		gologger.Warning().Msgf("could not move limit of %s to %s: %s", move.From, move.To, err)
		_ = e.registry.Update(move.To, func(d *types.Device) {
			d.SpeedLimit = nil
			d.LimitMode = types.LimitNone
		})
	}
}

// handleMACChange points the session of ip at the device now holding it
func (e *Engine) handleMACChange(a *attachment, ip, mac string) {
	if err := a.spoof.Retarget(context.Background(), ip, mac); err != nil {
		gologger.Warning().Msgf("could not retarget %s to %s: %s", ip, mac, err)
	}
}

// Cut disconnects the device at ip
func (e *Engine) Cut(ctx context.Context, ip string) error {
	return e.attached().spoof.Cut(ctx, ip)
}

// Restore reconnects the device at ip
func (e *Engine) Restore(ctx context.Context, ip string) error {
	return e.attached().spoof.Restore(ctx, ip)
}

// Protect shields the device at ip from ARP spoofing
func (e *Engine) Protect(ctx context.Context, ip string) error {
	return e.attached().spoof.Protect(ctx, ip)
}

// Unprotect removes the shield of ip
func (e *Engine) Unprotect(ctx context.Context, ip string) error {
	return e.attached().spoof.Unprotect(ctx, ip)
}

// SetLimit caps the device at ip to bps bits per second, zero clears
func (e *Engine) SetLimit(ctx context.Context, ip string, bps uint64) error {
	return e.attached().throttle.SetLimit(ctx, ip, bps)
}

// ClearLimit removes the cap of ip
func (e *Engine) ClearLimit(ctx context.Context, ip string) error {
	return e.attached().throttle.ClearLimit(ctx, ip)
}

// Status returns the control state of ip
func (e *Engine) Status(ip string) (types.Status, error) {
	device, err := e.Device(ip)
	if err != nil {
		return types.Status{}, err
	}
	return types.StatusOf(&device), nil
}

// Statuses returns the control state of every device
func (e *Engine) Statuses() []types.Status {
	devices := e.registry.List()
	statuses := make([]types.Status, 0, len(devices))
	for i := range devices {
		statuses = append(statuses, types.StatusOf(&devices[i]))
	}
	return statuses
}

// Sessions returns the armed spoof sessions
func (e *Engine) Sessions() []spoof.SessionInfo {
	return e.attached().spoof.Sessions()
}

// ActiveSessions returns the number of armed spoof sessions
func (e *Engine) ActiveSessions() int {
	return e.attached().spoof.ActiveSessions()
}

// RenameDevice sets the operator assigned name of ip
func (e *Engine) RenameDevice(ip, name string) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	return e.registry.Update(target.String(), func(d *types.Device) {
		d.Name = name
	})
}

// SetDeviceType overrides the guessed type of ip
func (e *Engine) SetDeviceType(ip, deviceType string) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	if deviceType == "" {
		return types.NewError(types.KindInvalidInput, "set device type", ip, errors.New("empty device type"))
	}
	return e.registry.Update(target.String(), func(d *types.Device) {
		d.DeviceType = deviceType
	})
}

// Summary aggregates the registry
func (e *Engine) Summary() types.Summary {
	summary := types.Summary{DeviceTypes: make(map[string]int)}
	for _, device := range e.registry.List() {
		summary.TotalDevices++
		if device.Status == types.StatusActive {
			summary.ActiveDevices++
			summary.TotalBandwidth += device.CurrentSpeed.Total()
		}
		if device.IsProtected {
			summary.Protected++
		}
		if device.AttackStatus == types.AttackCutting {
			summary.Cutting++
		}
		if device.SpeedLimit != nil {
			summary.Limited++
		}
		deviceType := device.DeviceType
		if deviceType == "" {
			deviceType = resolver.DeviceTypeUnknown
		}
		summary.DeviceTypes[deviceType]++
	}
	return summary
}

// TopDevices returns the n active devices with the highest current speed
func (e *Engine) TopDevices(n int) []types.Device {
	var active []types.Device
	for _, device := range e.registry.List() {
		if device.Status == types.StatusActive {
			active = append(active, device)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CurrentSpeed.Total() > active[j].CurrentSpeed.Total()
	})
	if n > 0 && len(active) > n {
		active = active[:n]
	}
	return active
}
