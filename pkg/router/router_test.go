package router

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hal9ai/cortex/pkg/backend"
	"github.com/hal9ai/cortex/pkg/breaker"
	"github.com/hal9ai/cortex/pkg/metrics"
	"github.com/hal9ai/cortex/pkg/neuron"
	"github.com/hal9ai/cortex/pkg/registry"
	"github.com/hal9ai/cortex/pkg/routing"
	"github.com/hal9ai/cortex/pkg/signal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func setup(t *testing.T) (*Router, *registry.Registry, *backend.MockBackend, *metrics.Aggregator) {
	t.Helper()
	reg := registry.New()
	be := backend.NewMockBackend()
	m := metrics.New(metrics.Config{})

	n1 := neuron.New(neuron.Config{ID: "n1", Layer: neuron.L4}, be, breaker.New("n1", breaker.DefaultConfig()), nil, nil, nil, testLogger())
	n2 := neuron.New(neuron.Config{ID: "n2", Layer: neuron.L3}, be, breaker.New("n2", breaker.DefaultConfig()), nil, nil, nil, testLogger())
	n1.MarkRunning()
	n2.MarkRunning()
	require.NoError(t, reg.Register(n1))
	require.NoError(t, reg.Register(n2))

	table := routing.New()
	table.Build(map[string][]string{"n1": {"n2"}}, map[string][]string{"n2": {"n1"}})

	r := New(Config{QueueCapacity: 16, EnqueueTimeout: 50 * time.Millisecond}, reg, table, m, testLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	return r, reg, be, m
}

// S3: a forward chain n1 -> n2 where n1's reply forwards to n2 and n2
// terminates with a RESULT directive.
func TestForwardChainAndReplyParsing(t *testing.T) {
	r, _, be, m := setup(t)
	be.AddResponse("L4", "start", "FORWARD_TO: n2\nCONTENT: continue the work")
	be.AddResponse("L3", "continue", "RESULT: all done")

	require.NoError(t, r.Enqueue(context.Background(), signal.New("", "n1", "L4", "start")))

	require.Eventually(t, func() bool {
		return m.Snapshot().SignalsProcessed >= 2
	}, time.Second, 5*time.Millisecond)
}

// S4: a forward signal from n1 to n3, which is not a configured edge from
// n1, must be recorded as disallowed and must not be dispatched to n3.
func TestDisallowedForwardTarget(t *testing.T) {
	r, reg, be, m := setup(t)
	n3 := neuron.New(neuron.Config{ID: "n3", Layer: neuron.L2}, be, nil, nil, nil, nil, testLogger())
	n3.MarkRunning()
	require.NoError(t, reg.Register(n3))

	s := signal.New("n1", "n3", "L2", "hi")
	require.NoError(t, r.Enqueue(context.Background(), s))

	require.Eventually(t, func() bool {
		return m.Snapshot().RoutingDisallowed >= 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 0, n3.Health().SignalsProcessed)
}

// S5: when the queue is full, Enqueue drops the signal after its timeout
// and records a backpressure metric instead of blocking forever.
func TestBackpressureDrop(t *testing.T) {
	reg := registry.New()
	be := backend.NewMockBackend()
	be.SetDelay(200 * time.Millisecond)
	m := metrics.New(metrics.Config{})

	n1 := neuron.New(neuron.Config{ID: "n1", Layer: neuron.L4}, be, nil, nil, nil, nil, testLogger())
	n1.MarkRunning()
	require.NoError(t, reg.Register(n1))

	table := routing.New()
	r := New(Config{QueueCapacity: 1, Workers: 1, EnqueueTimeout: 20 * time.Millisecond}, reg, table, m, testLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	// First signal occupies the single worker for 200ms.
	require.NoError(t, r.Enqueue(context.Background(), signal.New("", "n1", "L4", "a")))
	time.Sleep(10 * time.Millisecond)
	// Second fills the capacity-1 queue.
	require.NoError(t, r.Enqueue(context.Background(), signal.New("", "n1", "L4", "b")))
	// Third should time out waiting for queue space and be dropped.
	err := r.Enqueue(context.Background(), signal.New("", "n1", "L4", "c"))
	require.Error(t, err)

	assert.GreaterOrEqual(t, m.Snapshot().RoutingDroppedBackpressure, uint64(1))
}

// A recoverable failure on a forward signal (here: an already-open circuit
// breaker) must synthesize a backward gradient signal, carrying the error
// text, addressed to the failing unit's configured backward_connections
// target.
func TestRecoverableFailureSynthesizesBackwardGradient(t *testing.T) {
	reg := registry.New()
	be := backend.NewMockBackend()
	m := metrics.New(metrics.Config{})

	trippedBrk := breaker.New("n2-svc", breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
		Window:           time.Minute,
	})
	trippedBrk.RecordFailure() // trips Closed -> Open immediately

	n1 := neuron.New(neuron.Config{ID: "n1", Layer: neuron.L4}, be, breaker.New("n1-svc", breaker.DefaultConfig()), nil, nil, nil, testLogger())
	n2 := neuron.New(neuron.Config{ID: "n2", Layer: neuron.L3}, be, trippedBrk, nil, nil, nil, testLogger())
	n1.MarkRunning()
	n2.MarkRunning()
	require.NoError(t, reg.Register(n1))
	require.NoError(t, reg.Register(n2))

	// n1 -> n2 is the only forward edge; n2's configured backward_connections
	// point back to n1, independently of the forward graph.
	table := routing.New()
	table.Build(map[string][]string{"n1": {"n2"}}, map[string][]string{"n2": {"n1"}})

	r := New(Config{QueueCapacity: 16, EnqueueTimeout: 50 * time.Millisecond}, reg, table, m, testLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	require.NoError(t, r.Enqueue(context.Background(), signal.New("n1", "n2", "L3", "do work")))

	// n2's dispatch fails immediately against its open breaker (recoverable),
	// which must land a backward gradient on n1 and have it processed there.
	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return snap.SignalsFailed >= 1 && snap.SignalsProcessed >= 1
	}, time.Second, 5*time.Millisecond)

	health := n1.Health()
	assert.GreaterOrEqual(t, health.SignalsProcessed, uint64(1))
}

func TestHopCapDropsSignal(t *testing.T) {
	r, _, _, m := setup(t)
	s := signal.New("n1", "n2", "L3", "x")
	for i := 0; i < 20; i++ {
		s = s.WithIncrementedHop()
	}
	require.NoError(t, r.Enqueue(context.Background(), s))

	require.Eventually(t, func() bool {
		return m.Snapshot().SignalsFailed >= 1
	}, time.Second, 5*time.Millisecond)
}
