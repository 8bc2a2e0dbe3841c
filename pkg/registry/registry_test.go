package registry

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hal9ai/cortex/pkg/backend"
	"github.com/hal9ai/cortex/pkg/neuron"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func newTestUnit(id string) *neuron.ManagedNeuron {
	return neuron.New(neuron.Config{ID: id, Layer: neuron.L4}, backend.NewMockBackend(), nil, nil, nil, nil, testLogger())
}

func TestRegisterGetAndDuplicateRejection(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestUnit("a")))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID())

	err := r.Register(newTestUnit("a"))
	require.Error(t, err)
}

func TestHealthCheckCoversAllUnits(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(newTestUnit(id)))
	}

	reports := r.HealthCheck()
	assert.Len(t, reports, 3)
}

func TestShutdownAllIsIdempotentAndLeavesNoGoroutines(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, r.Register(newTestUnit(id)))
	}

	require.NoError(t, r.ShutdownAll(context.Background()))
	require.NoError(t, r.ShutdownAll(context.Background()))
}
