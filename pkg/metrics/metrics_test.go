package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersAccumulate(t *testing.T) {
	a := New(Config{})
	a.RecordSignalSent()
	a.RecordSignalSent()
	a.RecordSignalProcessed()
	a.RecordSignalFailed()

	snap := a.Snapshot()
	assert.Equal(t, uint64(2), snap.SignalsSent)
	assert.Equal(t, uint64(1), snap.SignalsProcessed)
	assert.Equal(t, uint64(1), snap.SignalsFailed)
}

func TestLatencyHistogram(t *testing.T) {
	a := New(Config{})
	a.RecordLatency("L4", 10*time.Millisecond)
	a.RecordLatency("L4", 30*time.Millisecond)

	snap := a.Snapshot()
	stats := snap.LayerLatencies["L4"]
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, float64(10), stats.MinMS)
	assert.Equal(t, float64(30), stats.MaxMS)
	assert.Equal(t, float64(20), stats.AvgMS)
}

func TestTracerIsNeverNil(t *testing.T) {
	a := New(Config{})
	assert.NotNil(t, a.Tracer())
}
