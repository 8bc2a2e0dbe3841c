// Package cerrors defines the error taxonomy shared by every cortex
// component: a single wrapped type carrying enough structure for the router
// and the operator-facing status surface to classify failures without
// string-matching.
package cerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a CoreError for routing and retry decisions.
type Kind string

const (
	KindConfig            Kind = "config"
	KindInvalidState      Kind = "invalid_state"
	KindRouting           Kind = "routing"
	KindCommunication     Kind = "communication"
	KindTimeout           Kind = "timeout"
	KindRateLimit         Kind = "rate_limit"
	KindCircuitBreaker    Kind = "circuit_breaker_open"
	KindCostLimit         Kind = "cost_limit"
	KindBadReply          Kind = "bad_reply"
	KindBackend           Kind = "backend"
)

// CoreError is the concrete error type every cortex package returns.
type CoreError struct {
	Kind       Kind
	Message    string
	Cause      error
	Retryable  bool
	RetryAfter *time.Duration
	Details    map[string]interface{}
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// WithDetail attaches a diagnostic key/value pair and returns the receiver.
func (e *CoreError) WithDetail(key string, value interface{}) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetry marks the error retryable after the given delay.
func (e *CoreError) WithRetry(after time.Duration) *CoreError {
	e.Retryable = true
	e.RetryAfter = &after
	return e
}

// New builds a CoreError of the given kind.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

func asCore(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRecoverable reports whether the router should treat err as transient:
// worth a backward gradient signal, never worth retrying the same call.
func IsRecoverable(err error) bool {
	ce, ok := asCore(err)
	if !ok {
		return false
	}
	switch ce.Kind {
	case KindRateLimit, KindTimeout, KindCommunication, KindCircuitBreaker:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err means the process or unit cannot continue
// meaningfully and should not be retried at any layer.
func IsFatal(err error) bool {
	ce, ok := asCore(err)
	if !ok {
		return false
	}
	switch ce.Kind {
	case KindConfig, KindInvalidState:
		return true
	default:
		return false
	}
}

// IsDomain reports whether err reflects a malformed backend reply rather
// than an infrastructure failure.
func IsDomain(err error) bool {
	ce, ok := asCore(err)
	return ok && ce.Kind == KindBadReply
}

// IsGuardrail reports whether err was raised by a guardrail (cost ceiling
// or rate limit) rather than the backend call itself.
func IsGuardrail(err error) bool {
	ce, ok := asCore(err)
	if !ok {
		return false
	}
	return ce.Kind == KindCostLimit || ce.Kind == KindRateLimit
}

// RetryAfter extracts the retry-after duration, if any.
func RetryAfter(err error) (time.Duration, bool) {
	ce, ok := asCore(err)
	if !ok || ce.RetryAfter == nil {
		return 0, false
	}
	return *ce.RetryAfter, true
}

var (
	// ErrNotStarted is returned by façade operations invoked before Start.
	ErrNotStarted = New(KindInvalidState, "server has not been started")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = New(KindInvalidState, "server already started")
	// ErrAlreadyClosed is returned by a second call to Shutdown.
	ErrAlreadyClosed = New(KindInvalidState, "server already shut down")
	// ErrUnknownUnit is returned when a signal targets an unregistered unit.
	ErrUnknownUnit = New(KindRouting, "target unit is not registered")
	// ErrDisallowedEdge is returned when a signal targets a unit the
	// routing table does not permit the source to forward to.
	ErrDisallowedEdge = New(KindRouting, "target unit is not a configured forward target")
	// ErrHopLimitExceeded is returned when a signal's hop count exceeds
	// the router's configured cap.
	ErrHopLimitExceeded = New(KindRouting, "signal exceeded maximum hop count")
)
