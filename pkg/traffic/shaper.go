package traffic

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minBurst fits one full Ethernet frame
const minBurst = 1600

type bucket struct {
	bps     uint64
	limiter *rate.Limiter
}

// Shaper holds one token bucket per limited device, sized in bytes
type Shaper struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// NewShaper creates an empty shaper
func NewShaper() *Shaper {
	return &Shaper{buckets: make(map[string]*bucket)}
}

// SetLimit caps ip at bps bits per second. Zero removes the cap.
func (s *Shaper) SetLimit(ip string, bps uint64) {
	if bps == 0 {
		s.ClearLimit(ip)
		return
	}
	bytesPerSecond := float64(bps) / 8
	burst := int(bytesPerSecond / 10)
	if burst < minBurst {
		burst = minBurst
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[ip]; ok {
		b.bps = bps
		b.limiter.SetLimit(rate.Limit(bytesPerSecond))
		b.limiter.SetBurst(burst)
		return
	}
	s.buckets[ip] = &bucket{bps: bps, limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// ClearLimit removes the cap of ip
func (s *Shaper) ClearLimit(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, ip)
}

// Limit returns the cap of ip in bits per second
func (s *Shaper) Limit(ip string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[ip]
	if !ok {
		return 0, false
	}
	return b.bps, true
}

// Limited returns the capped addresses in order
func (s *Shaper) Limited() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ips := make([]string, 0, len(s.buckets))
	for ip := range s.buckets {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

// Allow reports whether n bytes of ip may pass now. Uncapped devices
// always pass.
func (s *Shaper) Allow(ip string, n int) bool {
	s.mu.RLock()
	b, ok := s.buckets[ip]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	return b.limiter.AllowN(time.Now(), n)
}

// Wait blocks until n bytes of ip may pass
func (s *Shaper) Wait(ctx context.Context, ip string, n int) error {
	s.mu.RLock()
	b, ok := s.buckets[ip]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if n > b.limiter.Burst() {
		n = b.limiter.Burst()
	}
	return b.limiter.WaitN(ctx, n)
}
