package neuron

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hal9ai/cortex/pkg/backend"
	"github.com/hal9ai/cortex/pkg/breaker"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestProcessSignalHappyPath(t *testing.T) {
	be := backend.NewMockBackend()
	be.AddResponse("L4", "goal", "FORWARD_TO: n2\nCONTENT: split it")

	n := New(Config{ID: "n1", Layer: L4}, be, breaker.New("n1", breaker.DefaultConfig()), nil, nil, nil, testLogger())
	n.MarkRunning()

	reply, err := n.ProcessSignal(context.Background(), "achieve the goal")
	require.NoError(t, err)
	assert.Equal(t, []string{"n2"}, reply.ForwardTo)

	h := n.Health()
	assert.Equal(t, Running, h.State)
	assert.EqualValues(t, 1, h.SignalsProcessed)
	assert.NotNil(t, h.LastSignalAt)
}

func TestProcessSignalRecordsBreakerFailure(t *testing.T) {
	be := backend.NewMockBackend()
	be.SetDelay(50 * time.Millisecond)

	brk := breaker.New("n1", breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Second, Window: time.Minute})
	n := New(Config{ID: "n1", Layer: L4, DispatchTimeout: 5 * time.Millisecond},
		be, brk, nil, nil, nil, testLogger())
	n.MarkRunning()

	_, err := n.ProcessSignal(context.Background(), "x")
	require.Error(t, err)

	h := n.Health()
	assert.EqualValues(t, 1, h.ErrorsCount)
	assert.Equal(t, breaker.Open, brk.State())
}

func TestShutdownRejectsFurtherSignals(t *testing.T) {
	be := backend.NewMockBackend()
	n := New(Config{ID: "n1", Layer: L1}, be, nil, nil, nil, nil, testLogger())
	n.MarkRunning()
	n.Shutdown()

	_, err := n.ProcessSignal(context.Background(), "x")
	require.Error(t, err)
}
