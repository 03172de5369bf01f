// Package provider defines the interfaces and HTTP implementations for
// external contact-discovery providers: skip tracers and phone/email
// validators.
package provider

import (
	"context"
	"sync"

	"github.com/solarcommand/discovery-cli/internal/model"
)

// TraceRequest identifies the property and owner to skip-trace.
type TraceRequest struct {
	LeadID       string `json:"lead_id"`
	OwnerName    string `json:"owner_name,omitempty"`
	AddressLine1 string `json:"address_line1"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
}

// Candidate is a raw contact guess returned by a provider, before
// normalization and dedupe.
type Candidate struct {
	Method      model.ContactMethod `json:"method"`
	Value       string              `json:"value"`
	Confidence  float64             `json:"confidence"`
	PhoneType   string              `json:"phone_type,omitempty"`
	CarrierName string              `json:"carrier_name,omitempty"`
}

// SkipTracer converts an address/owner into contact candidates.
type SkipTracer interface {
	// Name returns the provider identifier used in provenance and DLQ entries.
	Name() string
	Trace(ctx context.Context, req TraceRequest) ([]Candidate, error)
}

// PhoneValidation is the outcome of a single phone lookup.
type PhoneValidation struct {
	Valid       bool    `json:"valid"`
	PhoneType   string  `json:"phone_type,omitempty"`
	CarrierName string  `json:"carrier_name,omitempty"`
	LineStatus  string  `json:"line_status,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// PhoneValidator checks a normalized E.164 phone number.
type PhoneValidator interface {
	Name() string
	ValidatePhone(ctx context.Context, e164 string) (*PhoneValidation, error)
}

// EmailValidation is the outcome of a single email lookup.
type EmailValidation struct {
	Deliverable bool    `json:"deliverable"`
	Disposable  bool    `json:"disposable"`
	Confidence  float64 `json:"confidence"`
}

// EmailValidator checks a lowercased email address.
type EmailValidator interface {
	Name() string
	ValidateEmail(ctx context.Context, email string) (*EmailValidation, error)
}

// Registry manages the configured skip-trace providers.
type Registry struct {
	mu      sync.RWMutex
	tracers map[string]SkipTracer
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{tracers: make(map[string]SkipTracer)}
}

// Register adds a skip tracer to the registry.
func (r *Registry) Register(t SkipTracer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracers[t.Name()] = t
}

// Get returns a tracer by name, or nil if not registered.
func (r *Registry) Get(name string) SkipTracer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracers[name]
}

// List returns all registered tracers in registration-independent order.
func (r *Registry) List() []SkipTracer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SkipTracer, 0, len(r.tracers))
	for _, t := range r.tracers {
		out = append(out, t)
	}
	return out
}
