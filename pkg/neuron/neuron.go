// Package neuron implements the managed cognitive unit: the state machine
// and gate/call/parse pipeline that wraps a single backend-bound unit.
package neuron

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hal9ai/cortex/pkg/backend"
	"github.com/hal9ai/cortex/pkg/breaker"
	"github.com/hal9ai/cortex/pkg/cerrors"
	"github.com/hal9ai/cortex/pkg/costguard"
	"github.com/hal9ai/cortex/pkg/ratelimit"
)

// Layer is one of the nine abstraction layers a unit is bound to.
type Layer string

const (
	L1 Layer = "L1"
	L2 Layer = "L2"
	L3 Layer = "L3"
	L4 Layer = "L4"
	L5 Layer = "L5"
	L6 Layer = "L6"
	L7 Layer = "L7"
	L8 Layer = "L8"
	L9 Layer = "L9"
)

// State is a managed neuron's lifecycle state.
type State int

const (
	Starting State = iota
	Running
	Processing
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Processing:
		return "processing"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ContextProvider supplies recent context/memory for a unit's prompt. The
// core never assumes a real implementation is wired; NoopContextProvider is
// the default.
type ContextProvider interface {
	RecentContext(ctx context.Context, unitID string, maxChars int) (string, error)
}

// NoopContextProvider always returns an empty context.
type NoopContextProvider struct{}

func (NoopContextProvider) RecentContext(context.Context, string, int) (string, error) {
	return "", nil
}

// Config describes a single managed unit.
type Config struct {
	ID               string
	Layer            Layer
	SystemPrompt     string
	Temperature      float64
	MaxTokens        int
	BreakerService   string // service key the circuit breaker is keyed on; defaults to ID
	DispatchTimeout  time.Duration
	ContextMaxChars  int
}

// Health is a point-in-time snapshot of a unit's operational state.
type Health struct {
	State            State
	LastSignalAt     *time.Time
	SignalsProcessed uint64
	ErrorsCount      uint64
}

// ManagedNeuron wraps a single cognitive unit: gating through the rate
// limiter, cost guard and circuit breaker, a backend call bounded by a
// dispatch deadline, and reply parsing.
type ManagedNeuron struct {
	cfg     Config
	backend backend.Backend
	brk     *breaker.Breaker
	limiter *ratelimit.Limiter
	guard   *costguard.Guard
	ctxProv ContextProvider
	log     *logrus.Entry

	mu               sync.RWMutex
	state            State
	lastSignalAt     *time.Time
	signalsProcessed uint64
	errorsCount      uint64
}

// New constructs a ManagedNeuron in the Starting state.
func New(cfg Config, be backend.Backend, brk *breaker.Breaker, limiter *ratelimit.Limiter, guard *costguard.Guard, ctxProv ContextProvider, log *logrus.Entry) *ManagedNeuron {
	if cfg.BreakerService == "" {
		cfg.BreakerService = cfg.ID
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if ctxProv == nil {
		ctxProv = NoopContextProvider{}
	}
	return &ManagedNeuron{
		cfg:     cfg,
		backend: be,
		brk:     brk,
		limiter: limiter,
		guard:   guard,
		ctxProv: ctxProv,
		log:     log.WithField("unit_id", cfg.ID),
		state:   Starting,
	}
}

// ID returns the unit's identifier.
func (n *ManagedNeuron) ID() string { return n.cfg.ID }

// Layer returns the unit's bound abstraction layer.
func (n *ManagedNeuron) Layer() Layer { return n.cfg.Layer }

// MarkRunning transitions Starting -> Running. It is a no-op once the unit
// has left Starting.
func (n *ManagedNeuron) MarkRunning() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Starting {
		n.state = Running
	}
}

// Health returns a snapshot of the unit's state.
func (n *ManagedNeuron) Health() Health {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Health{
		State:            n.state,
		LastSignalAt:     n.lastSignalAt,
		SignalsProcessed: n.signalsProcessed,
		ErrorsCount:      n.errorsCount,
	}
}

// Shutdown transitions the unit to Stopped. Idempotent.
func (n *ManagedNeuron) Shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = Stopped
}

// ProcessSignal gates the request through the rate limiter, cost guard and
// circuit breaker, calls the backend under a dispatch deadline, and records
// the outcome from a single exit point after the call completes — never
// before, per the spec's ordering invariant.
func (n *ManagedNeuron) ProcessSignal(ctx context.Context, content string) (ParsedReply, error) {
	n.mu.Lock()
	if n.state == Failed || n.state == Stopped {
		st := n.state
		n.mu.Unlock()
		return ParsedReply{}, cerrors.New(cerrors.KindInvalidState, "unit is "+st.String())
	}
	n.state = Processing
	n.mu.Unlock()

	result, err := n.run(ctx, content)

	n.mu.Lock()
	if n.state == Processing {
		if err != nil && cerrors.IsFatal(err) {
			n.state = Failed
		} else {
			n.state = Running
		}
	}
	now := time.Now()
	n.lastSignalAt = &now
	if err != nil {
		n.errorsCount++
	} else {
		n.signalsProcessed++
	}
	n.mu.Unlock()

	return result, err
}

func (n *ManagedNeuron) run(ctx context.Context, content string) (ParsedReply, error) {
	if n.limiter != nil {
		if ok, retryAfter := n.limiter.Allow(ctx); !ok {
			return ParsedReply{}, cerrors.New(cerrors.KindRateLimit, "unit rate limit exceeded").WithRetry(retryAfter)
		}
	}

	promptTokens := estimateRequestTokens(content)
	if n.guard != nil {
		if err := n.guard.Check(promptTokens); err != nil {
			return ParsedReply{}, err
		}
	}

	if n.brk != nil {
		allow, err := n.brk.AllowRequest()
		if !allow {
			return ParsedReply{}, err
		}
	}

	recentCtx, _ := n.ctxProv.RecentContext(ctx, n.cfg.ID, n.cfg.ContextMaxChars)
	fullContent := content
	if recentCtx != "" {
		fullContent = recentCtx + "\n\n" + content
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, n.cfg.DispatchTimeout)
	defer cancel()

	reply, err := n.backend.Send(dispatchCtx, backend.Request{
		Layer:        string(n.cfg.Layer),
		SystemPrompt: n.cfg.SystemPrompt,
		Content:      fullContent,
		Temperature:  n.cfg.Temperature,
		MaxTokens:    n.cfg.MaxTokens,
	})

	if n.brk != nil {
		if err != nil {
			n.brk.RecordFailure()
		} else {
			n.brk.RecordSuccess()
		}
	}

	if err != nil {
		n.log.WithError(err).Warn("backend call failed")
		return ParsedReply{}, err
	}

	if n.guard != nil {
		n.guard.Record(n.guard.EstimateUSD(reply.Usage.TotalTokens), reply.Usage.TotalTokens)
	}

	return ParseReply(reply.Text), nil
}

func estimateRequestTokens(content string) int {
	return len(content)/4 + 1
}
