// Package cortex is the server façade: it wires the breaker manager, cost
// guard, rate limiter, registry, routing table, router and metrics
// aggregator into the single entry point a caller or process entrypoint
// uses to run an instance.
package cortex

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hal9ai/cortex/pkg/backend"
	"github.com/hal9ai/cortex/pkg/breaker"
	"github.com/hal9ai/cortex/pkg/cerrors"
	"github.com/hal9ai/cortex/pkg/costguard"
	"github.com/hal9ai/cortex/pkg/metrics"
	"github.com/hal9ai/cortex/pkg/neuron"
	"github.com/hal9ai/cortex/pkg/ratelimit"
	"github.com/hal9ai/cortex/pkg/registry"
	"github.com/hal9ai/cortex/pkg/router"
	"github.com/hal9ai/cortex/pkg/routing"
	"github.com/hal9ai/cortex/pkg/signal"
)

// UnitSpec describes one unit to host, as the config loader decodes it.
type UnitSpec struct {
	ID              string
	Layer           neuron.Layer
	SystemPrompt    string
	Temperature     float64
	MaxTokens       int
	ForwardsTo      []string
	BackwardsTo     []string
	BreakerService  string
	DispatchTimeout time.Duration
}

// Config assembles a full server instance.
type Config struct {
	Units       []UnitSpec
	Backend     backend.Backend
	Breaker     breaker.Config
	CostGuard   costguard.Config
	RateLimit   ratelimit.Config
	Router      router.Config
	Metrics     metrics.Config
	ContextProvider neuron.ContextProvider
	Logger      *logrus.Logger
}

// StatusSnapshot is the external, read-only view of a running instance.
type StatusSnapshot struct {
	Running        bool
	UnitsRegistered int
	UnitHealth     []registry.HealthReport
	Breakers       map[string]breaker.State
	Cost           costguard.Snapshot
	Metrics        metrics.Snapshot
}

// Server is one running cortex instance.
type Server struct {
	cfg     Config
	reg     *registry.Registry
	table   *routing.Table
	brkMgr  *breaker.Manager
	guard   *costguard.Guard
	limiter *ratelimit.Limiter
	metricsAgg *metrics.Aggregator
	rtr     *router.Router
	log     *logrus.Entry

	mu      sync.Mutex
	started bool
	closed  bool
}

// New validates cfg and wires every component, but does not start the
// dispatch loop; call Start for that.
func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, cerrors.New(cerrors.KindConfig, "backend is required")
	}
	if len(cfg.Units) == 0 {
		return nil, cerrors.New(cerrors.KindConfig, "at least one unit must be configured")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	log := logrus.NewEntry(logger)

	reg := registry.New()
	table := routing.New()
	brkMgr := breaker.NewManager(cfg.Breaker)
	guard := costguard.New(cfg.CostGuard)
	limiter := ratelimit.New(cfg.RateLimit)
	metricsAgg := metrics.New(cfg.Metrics)

	forwards := make(map[string][]string, len(cfg.Units))
	backwards := make(map[string][]string, len(cfg.Units))
	for _, u := range cfg.Units {
		forwards[u.ID] = u.ForwardsTo
		backwards[u.ID] = u.BackwardsTo
	}
	table.Build(forwards, backwards)

	for _, u := range cfg.Units {
		service := u.BreakerService
		if service == "" {
			service = u.ID
		}
		n := neuron.New(neuron.Config{
			ID:              u.ID,
			Layer:           u.Layer,
			SystemPrompt:    u.SystemPrompt,
			Temperature:     u.Temperature,
			MaxTokens:       u.MaxTokens,
			BreakerService:  service,
			DispatchTimeout: u.DispatchTimeout,
		}, cfg.Backend, brkMgr.GetOrCreate(service), limiter, guard, cfg.ContextProvider, log)
		if err := reg.Register(n); err != nil {
			return nil, err
		}
	}

	rtr := router.New(cfg.Router, reg, table, metricsAgg, log)

	return &Server{
		cfg:        cfg,
		reg:        reg,
		table:      table,
		brkMgr:     brkMgr,
		guard:      guard,
		limiter:    limiter,
		metricsAgg: metricsAgg,
		rtr:        rtr,
		log:        log.WithField("component", "cortex"),
	}, nil
}

// Start begins dispatching. Fails if already started.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return cerrors.ErrAlreadyStarted
	}
	if err := s.rtr.Start(ctx); err != nil {
		return err
	}
	for _, n := range s.reg.All() {
		n.MarkRunning()
	}
	s.started = true
	s.log.Info("server started")
	return nil
}

// SendSignal injects a signal at its ToUnit. Refuses if not started.
func (s *Server) SendSignal(ctx context.Context, toUnit, layer, content string) error {
	s.mu.Lock()
	started := s.started
	closed := s.closed
	s.mu.Unlock()
	if !started || closed {
		return cerrors.ErrNotStarted
	}
	sig := signal.New("", toUnit, layer, content)
	return s.rtr.Enqueue(ctx, sig)
}

// Status returns a read-only snapshot of the running instance.
func (s *Server) Status() StatusSnapshot {
	s.mu.Lock()
	running := s.started && !s.closed
	s.mu.Unlock()
	return StatusSnapshot{
		Running:         running,
		UnitsRegistered: s.reg.Len(),
		UnitHealth:      s.reg.HealthCheck(),
		Breakers:        s.brkMgr.Snapshot(),
		Cost:            s.guard.Snapshot(),
		Metrics:         s.metricsAgg.Snapshot(),
	}
}

// Shutdown stops the router, shuts down every unit, and flushes metrics.
// Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return cerrors.ErrAlreadyClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.rtr.Stop()
	err := s.reg.ShutdownAll(ctx)
	s.metricsAgg.Shutdown()
	s.log.Info("server shut down")
	return err
}
