package costguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRejectsOverPerRequestTokenCap(t *testing.T) {
	g := New(Config{MaxTokensPerReq: 100})
	err := g.Check(150)
	require.Error(t, err)
}

func TestCheckRejectsOverHourlyCeiling(t *testing.T) {
	g := New(Config{MaxCostPerHourUSD: 1.0, USDPer1KTokens: 1.0})
	require.NoError(t, g.Check(500)) // $0.5 estimated, under the $1 cap
	g.Record(0.5, 500)
	err := g.Check(600) // would push to $1.1
	require.Error(t, err)
}

func TestAlertFiresOnceAboveThreshold(t *testing.T) {
	var fired int
	g := New(Config{MaxCostPerHourUSD: 1.0, AlertThreshold: 0.5, OnAlert: func(window string, used, cap float64) {
		fired++
	}})
	g.Record(0.6, 600)
	g.Record(0.05, 50)
	assert.Equal(t, 1, fired)
}

func TestSnapshotReportsWindows(t *testing.T) {
	g := New(Config{})
	g.Record(1.23, 100)
	snap := g.Snapshot()
	assert.InDelta(t, 1.23, snap.HourUSD, 0.001)
	assert.InDelta(t, 1.23, snap.DayUSD, 0.001)
}
