package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resilience"
)

// HTTPOptions configures an HTTP-backed provider client.
type HTTPOptions struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
	// RatePerSec caps outbound calls. Default: 5/s, burst 5.
	RatePerSec float64
	Retry      resilience.RetryConfig
	Circuit    resilience.CircuitBreakerConfig
}

func (o *HTTPOptions) applyDefaults() {
	if o.Timeout == 0 {
		o.Timeout = 15 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "discovery-cli/1.0"
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 5
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
}

// httpClient is the shared transport for the HTTP-backed providers.
type httpClient struct {
	name    string
	opts    HTTPOptions
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

func newHTTPClient(name string, opts HTTPOptions) *httpClient {
	opts.applyDefaults()
	cb := opts.Circuit
	if cb.OnStateChange == nil {
		cb.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("provider circuit state change",
				zap.String("provider", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		}
	}
	// Fractional rates truncate to burst 0, which would reject every Wait.
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &httpClient{
		name: name,
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
		breaker: resilience.NewCircuitBreaker(cb),
	}
}

// doJSON issues one rate-limited, retried request and decodes the response
// into out. Non-2xx responses become ProviderErrors carrying the status and
// observed latency; transient statuses are retried per the configured policy.
// The whole retried call runs through the provider's circuit breaker, so a
// tripped provider fails fast without burning retry attempts.
func (c *httpClient) doJSON(ctx context.Context, operation, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrapf(err, "%s: encode request", c.name)
		}
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retryJSON(ctx, operation, method, path, payload, out)
	})
}

func (c *httpClient) retryJSON(ctx context.Context, operation, method, path string, payload []byte, out any) error {
	return resilience.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
		if err != nil {
			return eris.Wrapf(err, "%s: build request", c.name)
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		latency := time.Since(start)
		if err != nil {
			return resilience.NewProviderError(c.name, operation, 0, latency, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return resilience.NewProviderError(c.name, operation, resp.StatusCode, latency,
				fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return eris.Wrapf(err, "%s: decode %s response", c.name, operation)
		}
		return nil
	})
}

// HTTPSkipTracer calls a skip-trace API over JSON/HTTP.
type HTTPSkipTracer struct {
	*httpClient
}

// NewHTTPSkipTracer creates a skip tracer for the given endpoint.
func NewHTTPSkipTracer(name string, opts HTTPOptions) *HTTPSkipTracer {
	return &HTTPSkipTracer{httpClient: newHTTPClient(name, opts)}
}

func (t *HTTPSkipTracer) Name() string { return t.name }

type traceResponse struct {
	Results []struct {
		Type        string  `json:"type"`
		Value       string  `json:"value"`
		Confidence  float64 `json:"confidence"`
		PhoneType   string  `json:"phone_type,omitempty"`
		CarrierName string  `json:"carrier_name,omitempty"`
	} `json:"results"`
}

// Trace submits the owner/address and returns raw contact candidates.
func (t *HTTPSkipTracer) Trace(ctx context.Context, req TraceRequest) ([]Candidate, error) {
	var resp traceResponse
	if err := t.doJSON(ctx, "trace", http.MethodPost, "/v1/trace", req, &resp); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		var method model.ContactMethod
		switch r.Type {
		case "phone":
			method = model.MethodPhone
		case "email":
			method = model.MethodEmail
		default:
			continue
		}
		out = append(out, Candidate{
			Method:      method,
			Value:       r.Value,
			Confidence:  r.Confidence,
			PhoneType:   r.PhoneType,
			CarrierName: r.CarrierName,
		})
	}
	return out, nil
}

// HTTPPhoneValidator calls a line-type/carrier lookup API.
type HTTPPhoneValidator struct {
	*httpClient
}

// NewHTTPPhoneValidator creates a phone validator for the given endpoint.
func NewHTTPPhoneValidator(name string, opts HTTPOptions) *HTTPPhoneValidator {
	return &HTTPPhoneValidator{httpClient: newHTTPClient(name, opts)}
}

func (v *HTTPPhoneValidator) Name() string { return v.name }

// ValidatePhone looks up an E.164 number.
func (v *HTTPPhoneValidator) ValidatePhone(ctx context.Context, e164 string) (*PhoneValidation, error) {
	var resp PhoneValidation
	body := map[string]string{"phone": e164}
	if err := v.doJSON(ctx, "validate_phone", http.MethodPost, "/v1/phone", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HTTPEmailValidator calls a deliverability lookup API.
type HTTPEmailValidator struct {
	*httpClient
}

// NewHTTPEmailValidator creates an email validator for the given endpoint.
func NewHTTPEmailValidator(name string, opts HTTPOptions) *HTTPEmailValidator {
	return &HTTPEmailValidator{httpClient: newHTTPClient(name, opts)}
}

func (v *HTTPEmailValidator) Name() string { return v.name }

// ValidateEmail looks up a lowercased email address.
func (v *HTTPEmailValidator) ValidateEmail(ctx context.Context, email string) (*EmailValidation, error) {
	var resp EmailValidation
	body := map[string]string{"email": email}
	if err := v.doJSON(ctx, "validate_email", http.MethodPost, "/v1/email", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
