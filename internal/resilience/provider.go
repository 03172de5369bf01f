package resilience

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProviderError describes a failed call to an external data provider
// (skip tracer, phone validator, DNC registry, etc). It carries the
// provider identity and observed latency so failures can be logged and
// classified without losing context.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Latency    time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s/%s: status %d: %v", e.Provider, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps a provider call failure with identity and latency.
func NewProviderError(provider, operation string, statusCode int, latency time.Duration, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: statusCode,
		Latency:    latency,
		Err:        err,
	}
}

// Transient reports whether the failure is safe to retry, based on the
// HTTP status when present and the wrapped error otherwise.
func (e *ProviderError) Transient() bool {
	if e.StatusCode > 0 {
		return IsTransientHTTPStatus(e.StatusCode)
	}
	return IsTransient(e.Err)
}

// LogFields returns structured log fields for the failure.
func (e *ProviderError) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("provider", e.Provider),
		zap.String("operation", e.Operation),
		zap.Int("status", e.StatusCode),
		zap.Duration("latency", e.Latency),
		zap.Error(e.Err),
	}
}

// ClassifyError categorizes an error as "transient" or "permanent" for
// dead letter queue bookkeeping.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
