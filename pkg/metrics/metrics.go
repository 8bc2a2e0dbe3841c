// Package metrics aggregates router/neuron counters and per-layer latency
// histograms on a private Prometheus registry, and owns the OpenTelemetry
// tracer the router uses to span each dispatched signal.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Aggregator tracks the counters and latency histograms the status surface
// and §8 invariants are checked against.
type Aggregator struct {
	registry *prometheus.Registry
	tracer   trace.Tracer
	shutdown func()

	signalsSent               atomic.Uint64
	signalsProcessed          atomic.Uint64
	signalsFailed             atomic.Uint64
	neuronsActive             atomic.Int64
	neuronsFailed             atomic.Uint64
	routingMissingTarget      atomic.Uint64
	routingDisallowed         atomic.Uint64
	routingDroppedBackpressure atomic.Uint64
	parserConflict            atomic.Uint64

	latMu    sync.RWMutex
	latency  map[string]*layerLatency

	sentCounter      prometheus.Counter
	processedCounter prometheus.Counter
	failedCounter    prometheus.Counter
	activeGauge      prometheus.Gauge
}

type layerLatency struct {
	count int64
	sum   time.Duration
	min   time.Duration
	max   time.Duration
}

// Config controls optional tracing export.
type Config struct {
	TracingEnabled bool
}

// New builds an Aggregator. It registers its collectors on a private
// registry so embedding it never collides with a host process's own
// /metrics endpoint.
func New(cfg Config) *Aggregator {
	reg := prometheus.NewRegistry()

	a := &Aggregator{
		registry: reg,
		latency:  make(map[string]*layerLatency),
		sentCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_signals_sent_total", Help: "Signals accepted by the router.",
		}),
		processedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_signals_processed_total", Help: "Signals successfully processed.",
		}),
		failedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_signals_failed_total", Help: "Signals that failed processing.",
		}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_neurons_active", Help: "Currently running neurons.",
		}),
	}
	reg.MustRegister(a.sentCounter, a.processedCounter, a.failedCounter, a.activeGauge)

	if cfg.TracingEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err == nil {
			tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
			otel.SetTracerProvider(tp)
			a.tracer = tp.Tracer("cortex/router")
			a.shutdown = func() { _ = tp.Shutdown(context.Background()) }
		}
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer("cortex/router/noop")
	}

	return a
}

// Registry exposes the private Prometheus registry for an operator that
// wants to serve /metrics from their own HTTP mux; the core never does so
// itself (out of scope per §1).
func (a *Aggregator) Registry() *prometheus.Registry { return a.registry }

// Tracer returns the span tracer the router uses around each dispatch.
func (a *Aggregator) Tracer() trace.Tracer { return a.tracer }

func (a *Aggregator) RecordSignalSent()      { a.signalsSent.Add(1); a.sentCounter.Inc() }
func (a *Aggregator) RecordSignalProcessed() { a.signalsProcessed.Add(1); a.processedCounter.Inc() }
func (a *Aggregator) RecordSignalFailed()    { a.signalsFailed.Add(1); a.failedCounter.Inc() }
func (a *Aggregator) RecordRoutingMissingTarget()       { a.routingMissingTarget.Add(1) }
func (a *Aggregator) RecordRoutingDisallowed()          { a.routingDisallowed.Add(1) }
func (a *Aggregator) RecordRoutingDroppedBackpressure() { a.routingDroppedBackpressure.Add(1) }
func (a *Aggregator) RecordParserConflict()             { a.parserConflict.Add(1) }

func (a *Aggregator) SetNeuronsActive(n int) {
	a.neuronsActive.Store(int64(n))
	a.activeGauge.Set(float64(n))
}

func (a *Aggregator) RecordNeuronFailure() { a.neuronsFailed.Add(1) }

// RecordLatency appends a sample to a layer's latency histogram.
func (a *Aggregator) RecordLatency(layer string, d time.Duration) {
	a.latMu.Lock()
	defer a.latMu.Unlock()
	l, ok := a.latency[layer]
	if !ok {
		l = &layerLatency{min: d, max: d}
		a.latency[layer] = l
	}
	l.count++
	l.sum += d
	if d < l.min {
		l.min = d
	}
	if d > l.max {
		l.max = d
	}
}

// LayerStats is the per-layer latency summary in a Snapshot.
type LayerStats struct {
	Count int64
	AvgMS float64
	MinMS float64
	MaxMS float64
}

// Snapshot is a point-in-time copy of every tracked counter and histogram.
type Snapshot struct {
	SignalsSent                uint64
	SignalsProcessed           uint64
	SignalsFailed              uint64
	NeuronsActive              int64
	NeuronsFailed              uint64
	RoutingMissingTarget       uint64
	RoutingDisallowed          uint64
	RoutingDroppedBackpressure uint64
	ParserConflict             uint64
	LayerLatencies             map[string]LayerStats
}

// Snapshot takes a lock-light copy: atomics are read without synchronization
// beyond the atomic load itself, and the per-layer map is copied under a
// single RLock.
func (a *Aggregator) Snapshot() Snapshot {
	a.latMu.RLock()
	defer a.latMu.RUnlock()

	layers := make(map[string]LayerStats, len(a.latency))
	for layer, l := range a.latency {
		avg := 0.0
		if l.count > 0 {
			avg = float64(l.sum.Milliseconds()) / float64(l.count)
		}
		layers[layer] = LayerStats{
			Count: l.count,
			AvgMS: avg,
			MinMS: float64(l.min.Milliseconds()),
			MaxMS: float64(l.max.Milliseconds()),
		}
	}

	return Snapshot{
		SignalsSent:                a.signalsSent.Load(),
		SignalsProcessed:           a.signalsProcessed.Load(),
		SignalsFailed:              a.signalsFailed.Load(),
		NeuronsActive:              a.neuronsActive.Load(),
		NeuronsFailed:              a.neuronsFailed.Load(),
		RoutingMissingTarget:       a.routingMissingTarget.Load(),
		RoutingDisallowed:          a.routingDisallowed.Load(),
		RoutingDroppedBackpressure: a.routingDroppedBackpressure.Load(),
		ParserConflict:             a.parserConflict.Load(),
		LayerLatencies:             layers,
	}
}

// Shutdown flushes the tracing exporter, if one was started.
func (a *Aggregator) Shutdown() {
	if a.shutdown != nil {
		a.shutdown()
	}
}
