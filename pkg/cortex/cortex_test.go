package cortex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hal9ai/cortex/pkg/backend"
	"github.com/hal9ai/cortex/pkg/neuron"
)

func baseConfig(be *backend.MockBackend) Config {
	return Config{
		Backend: be,
		Units: []UnitSpec{
			{ID: "n1", Layer: neuron.L4, ForwardsTo: []string{"n2"}},
			{ID: "n2", Layer: neuron.L3},
		},
	}
}

func TestNewRejectsMissingBackend(t *testing.T) {
	_, err := New(Config{Units: []UnitSpec{{ID: "n1"}}})
	require.Error(t, err)
}

func TestNewRejectsNoUnits(t *testing.T) {
	_, err := New(Config{Backend: backend.NewMockBackend()})
	require.Error(t, err)
}

func TestSendSignalRequiresStart(t *testing.T) {
	be := backend.NewMockBackend()
	s, err := New(baseConfig(be))
	require.NoError(t, err)

	err = s.SendSignal(context.Background(), "n1", "L4", "hello")
	require.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	be := backend.NewMockBackend()
	s, err := New(baseConfig(be))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())

	require.Error(t, s.Start(context.Background()))
}

func TestEndToEndSignalAndShutdown(t *testing.T) {
	be := backend.NewMockBackend()
	be.AddResponse("L4", "start", "RESULT: ok")

	s, err := New(baseConfig(be))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.SendSignal(context.Background(), "n1", "L4", "start"))

	require.Eventually(t, func() bool {
		return s.Status().Metrics.SignalsProcessed >= 1
	}, time.Second, 5*time.Millisecond)

	status := s.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.UnitsRegistered)

	require.NoError(t, s.Shutdown(context.Background()))
	require.Error(t, s.Shutdown(context.Background()))
}
