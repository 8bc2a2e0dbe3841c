// Package costguard bounds spend with two truncation-based sliding windows
// (hourly and daily), rejecting requests that would push projected cost over
// either ceiling and firing an alert callback once per threshold crossing.
package costguard

import (
	"sync"
	"time"

	"github.com/hal9ai/cortex/pkg/cerrors"
)

// Config parameterizes a Guard.
type Config struct {
	MaxCostPerHourUSD  float64
	MaxCostPerDayUSD   float64
	MaxTokensPerReq    int
	AlertThreshold     float64 // fraction of a ceiling (0,1) that triggers OnAlert
	USDPer1KTokens     float64 // token -> dollar estimation rate
	OnAlert            func(window string, usedUSD, capUSD float64)
}

type window struct {
	span    time.Duration
	entries []entry
	alerted bool
}

type entry struct {
	at     time.Time
	usd    float64
	tokens int
}

// Guard enforces the cost ceilings. Safe for concurrent use.
type Guard struct {
	cfg Config

	mu    sync.Mutex
	hour  window
	day   window
}

// New builds a Guard from cfg, applying sane defaults for unset fields.
func New(cfg Config) *Guard {
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold >= 1 {
		cfg.AlertThreshold = 0.8
	}
	if cfg.USDPer1KTokens <= 0 {
		cfg.USDPer1KTokens = 0.01
	}
	return &Guard{
		cfg:  cfg,
		hour: window{span: time.Hour},
		day:  window{span: 24 * time.Hour},
	}
}

// EstimateUSD converts a token count to an estimated dollar cost.
func (g *Guard) EstimateUSD(tokens int) float64 {
	return float64(tokens) / 1000.0 * g.cfg.USDPer1KTokens
}

// Check rejects a prospective request of requestTokens if it would exceed
// the per-request token cap or push either sliding window over its ceiling.
func (g *Guard) Check(requestTokens int) error {
	if g.cfg.MaxTokensPerReq > 0 && requestTokens > g.cfg.MaxTokensPerReq {
		return cerrors.New(cerrors.KindCostLimit, "request exceeds max tokens per request").
			WithDetail("request_tokens", requestTokens).
			WithDetail("max_tokens_per_request", g.cfg.MaxTokensPerReq)
	}

	estimated := g.EstimateUSD(requestTokens)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.prune(&g.hour, now)
	g.prune(&g.day, now)

	if g.cfg.MaxCostPerHourUSD > 0 {
		if used := g.sum(g.hour); used+estimated > g.cfg.MaxCostPerHourUSD {
			return cerrors.New(cerrors.KindCostLimit, "hourly cost ceiling reached").
				WithDetail("used_usd", used).WithDetail("cap_usd", g.cfg.MaxCostPerHourUSD)
		}
	}
	if g.cfg.MaxCostPerDayUSD > 0 {
		if used := g.sum(g.day); used+estimated > g.cfg.MaxCostPerDayUSD {
			return cerrors.New(cerrors.KindCostLimit, "daily cost ceiling reached").
				WithDetail("used_usd", used).WithDetail("cap_usd", g.cfg.MaxCostPerDayUSD)
		}
	}
	return nil
}

// Record accounts for a completed call's actual cost and token usage,
// firing OnAlert exactly once per window per crossing of AlertThreshold.
func (g *Guard) Record(costUSD float64, tokens int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	e := entry{at: now, usd: costUSD, tokens: tokens}
	g.hour.entries = append(g.hour.entries, e)
	g.day.entries = append(g.day.entries, e)
	g.prune(&g.hour, now)
	g.prune(&g.day, now)

	g.maybeAlert("hour", &g.hour, g.cfg.MaxCostPerHourUSD)
	g.maybeAlert("day", &g.day, g.cfg.MaxCostPerDayUSD)
}

func (g *Guard) maybeAlert(name string, w *window, ceilingUSD float64) {
	if ceilingUSD <= 0 || g.cfg.OnAlert == nil {
		return
	}
	used := g.sum(*w)
	if used >= ceilingUSD*g.cfg.AlertThreshold {
		if !w.alerted {
			w.alerted = true
			g.cfg.OnAlert(name, used, ceilingUSD)
		}
	} else {
		w.alerted = false
	}
}

func (g *Guard) prune(w *window, now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}

func (g *Guard) sum(w window) float64 {
	var total float64
	for _, e := range w.entries {
		total += e.usd
	}
	return total
}

// Snapshot reports the current spend in each window, for the status surface.
type Snapshot struct {
	HourUSD float64
	DayUSD  float64
}

func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	g.prune(&g.hour, now)
	g.prune(&g.day, now)
	return Snapshot{HourUSD: g.sum(g.hour), DayUSD: g.sum(g.day)}
}
