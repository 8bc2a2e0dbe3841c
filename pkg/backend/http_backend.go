package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/hal9ai/cortex/pkg/cerrors"
)

// HTTPConfig parameterizes a remote text-generation backend reached over
// HTTP. Retries are deliberately absent here: retry policy belongs to the
// router/operator, never to the backend client itself.
type HTTPConfig struct {
	Endpoint     string
	APIKey       string
	Model        string
	Timeout      time.Duration
	RateLimitRPM int // self-throttle, independent of the client-facing limiter
}

// HTTPBackend calls a remote completion endpoint. It self-throttles outbound
// calls against RateLimitRPM so a burst of internal dispatch never exceeds
// the upstream provider's own rate limit.
type HTTPBackend struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPBackend builds an HTTPBackend from cfg.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPM > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), cfg.RateLimitRPM)
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	// Upgrade to h2 when the upstream supports it; falls back to h1 silently
	// if negotiation fails, so the error here is never fatal to startup.
	_ = http2.ConfigureTransport(transport)

	return &HTTPBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter: limiter,
	}
}

type completionRequest struct {
	Model       string  `json:"model"`
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type completionResponse struct {
	Text  string `json:"text"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Send implements Backend.
func (h *HTTPBackend) Send(ctx context.Context, req Request) (Reply, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return Reply{}, cerrors.Wrap(cerrors.KindRateLimit, "self-throttle wait cancelled", err)
		}
	}

	body, err := json.Marshal(completionRequest{
		Model:       h.cfg.Model,
		System:      req.SystemPrompt,
		Prompt:      req.Content,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Reply{}, cerrors.Wrap(cerrors.KindBackend, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, cerrors.Wrap(cerrors.KindBackend, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Reply{}, cerrors.Wrap(cerrors.KindTimeout, "backend request timed out", err)
		}
		return Reply{}, cerrors.Wrap(cerrors.KindCommunication, "backend request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, cerrors.Wrap(cerrors.KindCommunication, "failed to read backend response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Reply{}, cerrors.New(cerrors.KindBackend, fmt.Sprintf("backend returned status %d", resp.StatusCode)).
			WithDetail("status", resp.StatusCode).WithDetail("body", string(respBody))
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Reply{}, cerrors.Wrap(cerrors.KindBadReply, "failed to decode backend response", err)
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.PromptTokens = estimateTokens(req.SystemPrompt + req.Content)
		usage.CompletionTokens = estimateTokens(parsed.Text)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return Reply{Text: parsed.Text, Usage: usage}, nil
}
