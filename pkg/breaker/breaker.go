// Package breaker implements a per-service circuit breaker: Closed, Open and
// HalfOpen states driven by a sliding window of recent failures rather than
// a bare consecutive-failure count, so a slow trickle of errors trips it just
// as a burst does.
package breaker

import (
	"sync"
	"time"

	"github.com/hal9ai/cortex/pkg/cerrors"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config parameterizes a Breaker.
type Config struct {
	FailureThreshold int           // failures within Window before tripping
	SuccessThreshold int           // consecutive HalfOpen successes required to close
	RecoveryTimeout  time.Duration // time Open must elapse before probing
	Window           time.Duration // sliding window failures are counted over
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		Window:           60 * time.Second,
	}
}

// Breaker is a single service-keyed circuit breaker. Safe for concurrent use;
// AllowRequest/RecordSuccess/RecordFailure never perform I/O under lock.
type Breaker struct {
	name string
	cfg  Config

	mu               sync.Mutex
	state            State
	failureTimes     []time.Time // within cfg.Window, oldest first
	halfOpenSuccess  int
	openedAt         time.Time
}

// New creates a Breaker for the named service.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Breaker{name: name, cfg: cfg, state: Closed}
}

// Name returns the service key this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AllowRequest reports whether a call may proceed, transitioning Open ->
// HalfOpen when the recovery timeout has elapsed.
func (b *Breaker) AllowRequest() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, nil
	case HalfOpen:
		return true, nil
	case Open:
		if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.halfOpenSuccess = 0
			return true, nil
		}
		return false, cerrors.New(cerrors.KindCircuitBreaker, "circuit open for service "+b.name).
			WithRetry(b.cfg.RecoveryTimeout - time.Since(b.openedAt))
	default:
		return true, nil
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failureTimes = nil
			b.halfOpenSuccess = 0
		}
	case Closed:
		b.pruneLocked(time.Now())
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case HalfOpen:
		b.trip(now)
	case Closed:
		b.failureTimes = append(b.failureTimes, now)
		b.pruneLocked(now)
		if len(b.failureTimes) >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	}
}

func (b *Breaker) trip(at time.Time) {
	b.state = Open
	b.openedAt = at
	b.failureTimes = nil
	b.halfOpenSuccess = 0
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failureTimes) && b.failureTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failureTimes = b.failureTimes[i:]
	}
}

// Reset forces the breaker back to Closed, discarding tracked failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureTimes = nil
	b.halfOpenSuccess = 0
}

// Manager owns one Breaker per service key, creating on first use.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewManager creates a Manager applying cfg to every breaker it creates.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the breaker for key, creating it under cfg if absent.
func (m *Manager) GetOrCreate(key string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[key]; ok {
		return b
	}
	b = New(key, m.cfg)
	m.breakers[key] = b
	return b
}

// Snapshot returns the state of every breaker the manager has created.
func (m *Manager) Snapshot() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.breakers))
	for k, b := range m.breakers {
		out[k] = b.State()
	}
	return out
}
