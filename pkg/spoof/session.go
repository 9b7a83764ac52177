package spoof

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Mode is what an armed session asserts
type Mode int

const (
	// ModeCut poisons the target and the gateway
	ModeCut Mode = iota + 1
	// ModeProtect re-asserts the true mappings
	ModeProtect
)

func (m Mode) String() string {
	switch m {
	case ModeCut:
		return "cut"
	case ModeProtect:
		return "protect"
	default:
		return "idle"
	}
}

// Endpoint is one side of a spoofed conversation
type Endpoint struct {
	IP  net.IP
	MAC net.HardwareAddr
}

// SessionInfo is a snapshot of an armed session
type SessionInfo struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip"`
	Mode       string    `json:"mode"`
	Started    time.Time `json:"started"`
	LastAssert time.Time `json:"last_assert"`
}

type session struct {
	id      string
	mode    Mode
	target  Endpoint
	gateway Endpoint
	started time.Time

	// filtered is set when the packet filter backs a cut. Written only
	// while the session loop is not running.
	filtered bool

	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}

	mu         sync.Mutex
	lastAssert time.Time
}

func newSession(mode Mode, target, gateway Endpoint) *session {
	return &session{
		id:      xid.New().String(),
		mode:    mode,
		target:  target,
		gateway: gateway,
		started: time.Now(),
		done:    make(chan struct{}),
		kick:    make(chan struct{}, 1),
	}
}

func (s *session) markAsserted(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAssert = at
}

// asserted reports whether a round of s ever reached the wire
func (s *session) asserted() bool {
	return !s.last().IsZero()
}

func (s *session) last() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAssert
}

// trigger requests an immediate assertion without blocking
func (s *session) trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:         s.id,
		IP:         s.target.IP.String(),
		Mode:       s.mode.String(),
		Started:    s.started,
		LastAssert: s.last(),
	}
}
