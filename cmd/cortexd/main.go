// Command cortexd runs one cortex server instance: load configuration,
// build the backend and façade, start dispatching, and block until an
// operator-requested shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hal9ai/cortex/internal/config"
	"github.com/hal9ai/cortex/internal/obs"
	"github.com/hal9ai/cortex/pkg/backend"
	"github.com/hal9ai/cortex/pkg/breaker"
	"github.com/hal9ai/cortex/pkg/cortex"
	"github.com/hal9ai/cortex/pkg/costguard"
	"github.com/hal9ai/cortex/pkg/metrics"
	"github.com/hal9ai/cortex/pkg/neuron"
	"github.com/hal9ai/cortex/pkg/ratelimit"
	"github.com/hal9ai/cortex/pkg/router"
)

const (
	exitOK            = 0
	exitConfigError   = 2
	exitStartError    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	path := os.Getenv("CORTEX_CONFIG")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: cortexd <config.yaml> (or set CORTEX_CONFIG)")
		return exitConfigError
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	logger := obs.NewLogger(cfg.Observability.LogLevel)
	log := logger.WithField("component", "cortexd")

	be := buildBackend(cfg.Backend)

	units := make([]cortex.UnitSpec, 0, len(cfg.Units))
	for _, u := range cfg.Units {
		units = append(units, cortex.UnitSpec{
			ID:              u.ID,
			Layer:           neuron.Layer(u.Layer),
			SystemPrompt:    u.SystemPrompt,
			Temperature:     u.Temperature,
			MaxTokens:       u.MaxTokens,
			ForwardsTo:      u.ForwardsTo,
			BackwardsTo:     u.BackwardsTo,
			BreakerService:  u.BreakerService,
			DispatchTimeout: u.DispatchTimeout,
		})
	}

	srv, err := cortex.New(cortex.Config{
		Units:   units,
		Backend: be,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
			Window:           cfg.Breaker.Window,
		},
		CostGuard: costguard.Config{
			MaxCostPerHourUSD: cfg.CostGuard.MaxCostPerHourUSD,
			MaxCostPerDayUSD:  cfg.CostGuard.MaxCostPerDayUSD,
			MaxTokensPerReq:   cfg.CostGuard.MaxTokensPerReq,
			AlertThreshold:    cfg.CostGuard.AlertThreshold,
			USDPer1KTokens:    cfg.CostGuard.USDPer1KTokens,
			OnAlert: func(window string, used, ceilingUSD float64) {
				log.WithFields(map[string]interface{}{
					"window": window, "used_usd": used, "cap_usd": ceilingUSD,
				}).Warn("cost guard threshold crossed")
			},
		},
		RateLimit: ratelimit.Config{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Refill:      cfg.RateLimit.Refill,
			BucketCap:   cfg.RateLimit.BucketCap,
			Disabled:    cfg.RateLimit.Disabled,
		},
		Router: router.Config{
			QueueCapacity:   cfg.Router.QueueCapacity,
			Workers:         cfg.Router.Workers,
			MaxHops:         cfg.Router.MaxHops,
			DispatchTimeout: cfg.Router.DispatchTimeout,
			EnqueueTimeout:  cfg.Router.EnqueueTimeout,
		},
		Metrics: metrics.Config{TracingEnabled: cfg.Observability.TracingEnabled},
		Logger:  logger,
	})
	if err != nil {
		log.WithError(err).Error("failed to build server")
		return exitStartError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start server")
		return exitStartError
	}
	log.Info("cortexd running")

	<-ctx.Done()
	log.Info("shutdown signal received")

	drain := cfg.Router.DrainTimeout
	if drain <= 0 {
		drain = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error during shutdown")
	}
	return exitOK
}

func buildBackend(cfg config.BackendConfig) backend.Backend {
	if cfg.Mode == "api" {
		return backend.NewHTTPBackend(backend.HTTPConfig{
			Endpoint:     cfg.Endpoint,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			RateLimitRPM: cfg.RateLimitRPM,
		})
	}
	return backend.NewMockBackend()
}
