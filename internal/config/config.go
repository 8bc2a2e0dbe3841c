// Package config decodes and validates the process-level YAML configuration
// into the typed structs the core packages consume.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hal9ai/cortex/pkg/cerrors"
)

// UnitConfig is one configured unit in the YAML document.
type UnitConfig struct {
	ID              string        `yaml:"id"`
	Layer           string        `yaml:"layer"`
	SystemPrompt    string        `yaml:"system_prompt"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int           `yaml:"max_tokens"`
	ForwardsTo      []string      `yaml:"forwards_to"`
	BackwardsTo     []string      `yaml:"backward_connections"`
	BreakerService  string        `yaml:"breaker_service"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}

// BackendConfig selects and parameterizes the text-generation backend.
type BackendConfig struct {
	Mode         string        `yaml:"mode"` // "mock" or "api"
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPM int           `yaml:"rate_limit_rpm"`
}

// BreakerConfig mirrors pkg/breaker.Config.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	Window           time.Duration `yaml:"window"`
}

// CostGuardConfig mirrors pkg/costguard.Config.
type CostGuardConfig struct {
	MaxCostPerHourUSD float64 `yaml:"max_cost_per_hour_usd"`
	MaxCostPerDayUSD  float64 `yaml:"max_cost_per_day_usd"`
	MaxTokensPerReq   int     `yaml:"max_tokens_per_request"`
	AlertThreshold    float64 `yaml:"alert_threshold"`
	USDPer1KTokens    float64 `yaml:"usd_per_1k_tokens"`
}

// RateLimitConfig mirrors pkg/ratelimit.Config (KeyFunc is wired in code).
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Refill      time.Duration `yaml:"refill"`
	BucketCap   int           `yaml:"bucket_capacity"`
	Disabled    bool          `yaml:"disabled"`
}

// RouterConfig mirrors pkg/router.Config.
type RouterConfig struct {
	QueueCapacity   int           `yaml:"queue_capacity"`
	Workers         int           `yaml:"workers"`
	MaxHops         int           `yaml:"max_hops"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	EnqueueTimeout  time.Duration `yaml:"enqueue_timeout"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

// ObservabilityConfig controls the ambient logging/tracing stack.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
}

// Config is the top-level process configuration document.
type Config struct {
	Units         []UnitConfig        `yaml:"units"`
	Backend       BackendConfig       `yaml:"backend"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	CostGuard     CostGuardConfig     `yaml:"cost_guard"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Router        RouterConfig        `yaml:"router"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads and decodes the YAML document at path, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindConfig, "failed to read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cerrors.Wrap(cerrors.KindConfig, "failed to parse config file", err)
	}

	if cfg.Backend.Mode == "api" && cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv("BACKEND_API_KEY")
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = os.Getenv("LOG_LEVEL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the cross-field invariants a config document must
// satisfy before a server can be built from it.
func (c *Config) Validate() error {
	if len(c.Units) == 0 {
		return cerrors.New(cerrors.KindConfig, "at least one unit must be configured")
	}
	seen := make(map[string]bool, len(c.Units))
	for _, u := range c.Units {
		if u.ID == "" {
			return cerrors.New(cerrors.KindConfig, "unit id must not be empty")
		}
		if seen[u.ID] {
			return cerrors.New(cerrors.KindConfig, fmt.Sprintf("duplicate unit id: %s", u.ID))
		}
		seen[u.ID] = true
	}
	for _, u := range c.Units {
		for _, target := range u.ForwardsTo {
			if !seen[target] {
				return cerrors.New(cerrors.KindConfig, fmt.Sprintf("unit %s forwards to unconfigured unit %s", u.ID, target))
			}
		}
		for _, target := range u.BackwardsTo {
			if !seen[target] {
				return cerrors.New(cerrors.KindConfig, fmt.Sprintf("unit %s has backward_connections to unconfigured unit %s", u.ID, target))
			}
		}
	}

	switch c.Backend.Mode {
	case "mock", "api":
	default:
		return cerrors.New(cerrors.KindConfig, "backend.mode must be \"mock\" or \"api\"")
	}
	if c.Backend.Mode == "api" {
		if c.Backend.Endpoint == "" {
			return cerrors.New(cerrors.KindConfig, "backend.endpoint is required in api mode")
		}
		if c.Backend.APIKey == "" {
			return cerrors.New(cerrors.KindConfig, "backend.api_key (or BACKEND_API_KEY) is required in api mode")
		}
	}

	if c.CostGuard.AlertThreshold != 0 && (c.CostGuard.AlertThreshold <= 0 || c.CostGuard.AlertThreshold >= 1) {
		return cerrors.New(cerrors.KindConfig, "cost_guard.alert_threshold must be in (0,1)")
	}
	if c.Router.QueueCapacity < 0 {
		return cerrors.New(cerrors.KindConfig, "router.queue_capacity must not be negative")
	}

	return nil
}
