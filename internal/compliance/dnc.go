package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solarcommand/discovery-cli/internal/resilience"
)

// HTTPLookupOptions configures an HTTP-backed list lookup.
type HTTPLookupOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RatePerSec float64
	Retry      resilience.RetryConfig
	Circuit    resilience.CircuitBreakerConfig
}

// HTTPLookup queries a registry endpoint for list membership. Used for the
// federal and state DNC registries and the litigator/fraud watchlists, which
// all share the same membership-query shape.
type HTTPLookup struct {
	name    string
	opts    HTTPLookupOptions
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewHTTPLookup creates a lookup client for the given list endpoint.
func NewHTTPLookup(name string, opts HTTPLookupOptions) *HTTPLookup {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	cb := opts.Circuit
	if cb.OnStateChange == nil {
		cb.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("dnc lookup circuit state change",
				zap.String("registry", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		}
	}
	// Fractional rates truncate to burst 0, which would reject every Wait.
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &HTTPLookup{
		name:    name,
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
		breaker: resilience.NewCircuitBreaker(cb),
	}
}

func (l *HTTPLookup) Name() string { return l.name }

// Contains queries the list for the given value. The retried call runs
// through the registry's circuit breaker; the gate treats an open circuit
// like any other lookup failure and flags the lead.
func (l *HTTPLookup) Contains(ctx context.Context, value string) (bool, error) {
	var listed bool
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		return l.lookup(ctx, value, &listed)
	})
	return listed, err
}

func (l *HTTPLookup) lookup(ctx context.Context, value string, listed *bool) error {
	return resilience.Do(ctx, l.opts.Retry, func(ctx context.Context) error {
		if err := l.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}

		endpoint := l.opts.BaseURL + "/v1/lookup?value=" + url.QueryEscape(value)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return eris.Wrapf(err, "%s: build request", l.name)
		}
		req.Header.Set("Accept", "application/json")
		if l.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+l.opts.APIKey)
		}

		start := time.Now()
		resp, err := l.client.Do(req)
		latency := time.Since(start)
		if err != nil {
			return resilience.NewProviderError(l.name, "lookup", 0, latency, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return resilience.NewProviderError(l.name, "lookup", resp.StatusCode, latency,
				fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		var body struct {
			Listed bool `json:"listed"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return eris.Wrapf(err, "%s: decode response", l.name)
		}
		*listed = body.Listed
		return nil
	})
}

// StaticLookup is an in-memory list, used for tests and for the fixture
// lists shipped with the CLI.
type StaticLookup struct {
	name   string
	values map[string]bool
}

// NewStaticLookup creates a lookup over a fixed value set.
func NewStaticLookup(name string, values ...string) *StaticLookup {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return &StaticLookup{name: name, values: m}
}

func (l *StaticLookup) Name() string { return l.name }

// Contains reports membership in the fixed set.
func (l *StaticLookup) Contains(_ context.Context, value string) (bool, error) {
	return l.values[value], nil
}
