// Package router implements the signal-routing fabric: a bounded queue, a
// dispatch loop (single consumer by default, an M-worker pool when
// configured), hop-capped cycle protection, and backward-gradient synthesis
// for recoverable failures.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hal9ai/cortex/pkg/cerrors"
	"github.com/hal9ai/cortex/pkg/metrics"
	"github.com/hal9ai/cortex/pkg/registry"
	"github.com/hal9ai/cortex/pkg/routing"
	"github.com/hal9ai/cortex/pkg/signal"
)

// Config parameterizes a Router.
type Config struct {
	QueueCapacity  int
	Workers        int // 1 (default) = single consumer; >1 = M-worker pool
	MaxHops        int
	DispatchTimeout time.Duration
	EnqueueTimeout  time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   1024,
		Workers:         1,
		MaxHops:         16,
		DispatchTimeout: 30 * time.Second,
		EnqueueTimeout:  5 * time.Second,
	}
}

// Router is the centerpiece dispatch loop.
type Router struct {
	cfg      Config
	reg      *registry.Registry
	table    *routing.Table
	metrics  *metrics.Aggregator
	log      *logrus.Entry

	queue  chan signal.Signal
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
	started bool
}

// New builds a Router. Call Start to begin dispatching.
func New(cfg Config, reg *registry.Registry, table *routing.Table, m *metrics.Aggregator, log *logrus.Entry) *Router {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultConfig().MaxHops
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultConfig().DispatchTimeout
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultConfig().EnqueueTimeout
	}
	return &Router{
		cfg:     cfg,
		reg:     reg,
		table:   table,
		metrics: m,
		log:     log.WithField("component", "router"),
		queue:   make(chan signal.Signal, cfg.QueueCapacity),
	}
}

// Start launches the dispatch loop(s). A second call returns
// ErrAlreadyStarted.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return cerrors.ErrAlreadyStarted
	}
	r.started = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.consume(ctx)
	}
	return nil
}

// Enqueue submits a signal for dispatch. If the queue is full it blocks up
// to EnqueueTimeout, then drops the signal and records a backpressure
// metric rather than applying unbounded backpressure to the caller.
func (r *Router) Enqueue(ctx context.Context, s signal.Signal) error {
	r.metrics.RecordSignalSent()

	timer := time.NewTimer(r.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case r.queue <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		r.metrics.RecordRoutingDroppedBackpressure()
		return cerrors.New(cerrors.KindRouting, "queue full, signal dropped after enqueue timeout")
	}
}

// Stop cancels the dispatch loop(s) and waits for in-flight work to finish.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Router) consume(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-r.queue:
			r.dispatch(ctx, s)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, s signal.Signal) {
	spanCtx, span := r.metrics.Tracer().Start(ctx, "cortex.dispatch")
	span.SetAttributes(
		attribute.String("unit.id", s.ToUnit),
		attribute.String("layer", s.Layer),
		attribute.String("direction", string(s.Direction)),
	)
	defer span.End()

	if s.Hops() >= r.cfg.MaxHops {
		r.metrics.RecordSignalFailed()
		span.SetStatus(codes.Error, "hop limit exceeded")
		r.log.WithField("signal_id", s.ID).Warn("dropping signal: hop limit exceeded")
		return
	}

	target, ok := r.reg.Get(s.ToUnit)
	if !ok {
		r.metrics.RecordRoutingMissingTarget()
		r.metrics.RecordSignalFailed()
		span.SetStatus(codes.Error, "missing target")
		return
	}

	if s.Direction == signal.Forward && s.FromUnit != "" && !r.table.HasForwardEdge(s.FromUnit, s.ToUnit) {
		r.metrics.RecordRoutingDisallowed()
		r.metrics.RecordSignalFailed()
		span.SetStatus(codes.Error, "disallowed forward target")
		return
	}

	dispatchCtx, cancel := context.WithTimeout(spanCtx, r.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	reply, err := target.ProcessSignal(dispatchCtx, s.Content)
	r.metrics.RecordLatency(s.Layer, time.Since(start))

	if err != nil {
		r.metrics.RecordSignalFailed()
		span.SetStatus(codes.Error, err.Error())
		r.handleFailure(ctx, s, err)
		return
	}

	r.metrics.RecordSignalProcessed()

	if reply.ParserConflict {
		r.metrics.RecordParserConflict()
	}

	if reply.IsResult {
		r.log.WithField("signal_id", s.ID).WithField("result", reply.Result).Debug("unit produced a terminal result")
		return
	}

	for _, to := range reply.ForwardTo {
		next := s.WithIncrementedHop()
		next.ID = s.ID
		next.FromUnit = s.ToUnit
		next.ToUnit = to
		next.Direction = signal.Forward
		next.Content = reply.Content
		if err := r.Enqueue(ctx, next); err != nil {
			r.log.WithError(err).WithField("signal_id", s.ID).Warn("failed to enqueue forwarded signal")
		}
	}
}

func (r *Router) handleFailure(ctx context.Context, s signal.Signal, err error) {
	if s.Direction != signal.Forward {
		return
	}
	if !cerrors.IsRecoverable(err) && !cerrors.IsGuardrail(err) {
		return
	}

	backwards := r.table.Backwards(s.ToUnit)
	if len(backwards) == 0 {
		return
	}

	for _, to := range backwards {
		grad := s.WithIncrementedHop()
		grad.ID = s.ID
		grad.FromUnit = s.ToUnit
		grad.ToUnit = to
		grad.Direction = signal.Backward
		grad.Gradient = err.Error()
		grad.Content = ""
		if enqErr := r.Enqueue(ctx, grad); enqErr != nil {
			r.log.WithError(enqErr).WithField("signal_id", s.ID).Warn("failed to enqueue backward gradient")
		}
	}
}
