// Package enrich drives contact discovery for scored leads: it fans out to
// skip-trace providers, validates and dedupes the returned candidates, and
// maintains the single-primary-per-method invariant.
package enrich

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/enrich/provider"
	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resilience"
	"github.com/solarcommand/discovery-cli/internal/store"
)

// ErrCooldown is returned when a lead was already enriched within the
// configured cooldown window and force was not set.
var ErrCooldown = errors.New("enrich: cooldown active")

// DefaultCooldown bounds automatic re-enrichment spend.
const DefaultCooldown = 72 * time.Hour

// Orchestrator coordinates providers and persistence for one enrichment run.
type Orchestrator struct {
	store    store.Store
	registry *provider.Registry
	phones   provider.PhoneValidator
	emails   provider.EmailValidator
	cooldown time.Duration
	attempts int
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPhoneValidator sets the phone validation provider.
func WithPhoneValidator(v provider.PhoneValidator) Option {
	return func(o *Orchestrator) { o.phones = v }
}

// WithEmailValidator sets the email validation provider.
func WithEmailValidator(v provider.EmailValidator) Option {
	return func(o *Orchestrator) { o.emails = v }
}

// WithCooldown overrides the re-enrichment cooldown window.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) { o.cooldown = d }
}

// WithNow injects a clock for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an enrichment orchestrator over the given store
// and provider registry.
func NewOrchestrator(st store.Store, reg *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		registry: reg,
		cooldown: DefaultCooldown,
		attempts: resilience.DefaultRetryConfig().MaxAttempts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enrich runs contact discovery for one lead. A provider failure degrades to
// zero candidates from that provider; partial success across providers is
// preserved. The enrichment-attempted flag is set regardless of outcome.
// When force is false, leads attempted within the cooldown window return
// ErrCooldown untouched.
func (o *Orchestrator) Enrich(ctx context.Context, leadID string, force bool) ([]model.ContactCandidate, error) {
	lead, err := o.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load lead")
	}

	now := o.now()
	if !force && lead.EnrichmentAttempted && lead.EnrichmentAt != nil &&
		now.Sub(*lead.EnrichmentAt) < o.cooldown {
		return nil, ErrCooldown
	}

	// Advance scored leads; re-enrichment of later states keeps the status.
	if err := o.store.TransitionLead(ctx, leadID, []model.LeadStatus{model.StatusScored}, model.StatusEnriching); err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, eris.Wrap(err, "enrich: transition to enriching")
	}

	prop, err := o.store.GetProperty(ctx, lead.PropertyID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load property")
	}

	req := provider.TraceRequest{
		LeadID:       leadID,
		OwnerName:    prop.OwnerName,
		AddressLine1: prop.AddressLine1,
		City:         prop.City,
		State:        prop.State,
		ZipCode:      prop.ZipCode,
	}

	var raw []tracedCandidate
	for _, tracer := range o.registry.List() {
		results, err := tracer.Trace(ctx, req)
		if err != nil {
			o.deadLetter(ctx, leadID, tracer.Name(), "trace", err)
			continue
		}
		for _, c := range results {
			raw = append(raw, tracedCandidate{Candidate: c, provider: tracer.Name()})
		}
	}

	candidates := o.validateAndDedupe(ctx, leadID, raw, now)

	existing, err := o.store.ListContacts(ctx, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list contacts")
	}
	merged := mergeCandidates(existing, candidates)
	assignPrimaries(merged)

	if err := o.store.ReplaceContacts(ctx, leadID, merged); err != nil {
		return nil, eris.Wrap(err, "enrich: replace contacts")
	}
	if err := o.updateBestContact(ctx, leadID, merged); err != nil {
		return nil, err
	}

	// The attempted flag gates future automatic re-enrichment, so it is
	// set even when every provider failed or returned nothing.
	if err := o.store.MarkEnrichmentAttempted(ctx, leadID, now); err != nil {
		return nil, eris.Wrap(err, "enrich: mark attempted")
	}
	if err := o.store.TransitionLead(ctx, leadID, []model.LeadStatus{model.StatusEnriching}, model.StatusEnriched); err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, eris.Wrap(err, "enrich: transition to enriched")
	}

	zap.L().Info("lead enriched",
		zap.String("lead_id", leadID),
		zap.Int("candidates", len(merged)),
	)
	return merged, nil
}

type tracedCandidate struct {
	provider.Candidate
	provider string
}

// validateAndDedupe normalizes raw provider candidates, drops malformed
// values, collapses duplicates by normalized value, and runs the configured
// validators. Validator failures leave the candidate unvalidated; when no
// validator is configured the tracer's own confidence is trusted.
func (o *Orchestrator) validateAndDedupe(ctx context.Context, leadID string, raw []tracedCandidate, now time.Time) []model.ContactCandidate {
	byKey := make(map[string]*model.ContactCandidate)
	var order []string

	for _, rc := range raw {
		var normalized string
		var err error
		switch rc.Method {
		case model.MethodPhone:
			normalized, err = NormalizePhone(rc.Value)
		case model.MethodEmail:
			normalized, err = NormalizeEmail(rc.Value)
		default:
			continue
		}
		if err != nil {
			zap.L().Debug("dropping malformed candidate",
				zap.String("lead_id", leadID),
				zap.String("provider", rc.provider),
				zap.Error(err),
			)
			continue
		}

		key := string(rc.Method) + "|" + normalized
		if prev, ok := byKey[key]; ok {
			if rc.Confidence > prev.Confidence {
				prev.Confidence = rc.Confidence
				prev.Provider = rc.provider
			}
			continue
		}
		cand := &model.ContactCandidate{
			ID:              uuid.NewString(),
			LeadID:          leadID,
			Method:          rc.Method,
			Value:           rc.Value,
			NormalizedValue: normalized,
			Provider:        rc.provider,
			Confidence:      rc.Confidence,
			PhoneType:       rc.PhoneType,
			CarrierName:     rc.CarrierName,
			CreatedAt:       now,
		}
		byKey[key] = cand
		order = append(order, key)
	}

	out := make([]model.ContactCandidate, 0, len(order))
	for _, key := range order {
		cand := byKey[key]
		o.validate(ctx, cand, now)
		out = append(out, *cand)
	}
	return out
}

func (o *Orchestrator) validate(ctx context.Context, cand *model.ContactCandidate, now time.Time) {
	switch cand.Method {
	case model.MethodPhone:
		if o.phones == nil {
			cand.Validated = true
			cand.ValidatedAt = &now
			return
		}
		res, err := o.phones.ValidatePhone(ctx, cand.NormalizedValue)
		if err != nil {
			var pe *resilience.ProviderError
			if errors.As(err, &pe) {
				zap.L().Warn("phone validation failed", pe.LogFields()...)
			} else {
				zap.L().Warn("phone validation failed", zap.Error(err))
			}
			return
		}
		cand.Validated = res.Valid
		cand.ValidatedAt = &now
		if res.PhoneType != "" {
			cand.PhoneType = res.PhoneType
		}
		cand.CarrierName = res.CarrierName
		cand.LineStatus = res.LineStatus
		if res.Confidence > cand.Confidence {
			cand.Confidence = res.Confidence
		}
	case model.MethodEmail:
		if o.emails == nil {
			cand.Validated = true
			cand.ValidatedAt = &now
			return
		}
		res, err := o.emails.ValidateEmail(ctx, cand.NormalizedValue)
		if err != nil {
			var pe *resilience.ProviderError
			if errors.As(err, &pe) {
				zap.L().Warn("email validation failed", pe.LogFields()...)
			} else {
				zap.L().Warn("email validation failed", zap.Error(err))
			}
			return
		}
		cand.EmailDeliverable = &res.Deliverable
		cand.EmailDisposable = &res.Disposable
		cand.Validated = res.Deliverable && !res.Disposable
		cand.ValidatedAt = &now
		if res.Confidence > cand.Confidence {
			cand.Confidence = res.Confidence
		}
	}
}

// mergeCandidates folds new candidates into the existing set, keyed by
// method plus normalized value. An existing row keeps its identity; a
// duplicate only upgrades confidence and validation metadata.
func mergeCandidates(existing, incoming []model.ContactCandidate) []model.ContactCandidate {
	merged := make([]model.ContactCandidate, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, c := range merged {
		index[string(c.Method)+"|"+c.NormalizedValue] = i
	}

	for _, c := range incoming {
		key := string(c.Method) + "|" + c.NormalizedValue
		i, ok := index[key]
		if !ok {
			index[key] = len(merged)
			merged = append(merged, c)
			continue
		}
		prev := &merged[i]
		if c.Confidence > prev.Confidence {
			prev.Confidence = c.Confidence
			prev.Provider = c.Provider
		}
		if c.Validated {
			prev.Validated = true
			prev.ValidatedAt = c.ValidatedAt
			if c.PhoneType != "" {
				prev.PhoneType = c.PhoneType
			}
			if c.CarrierName != "" {
				prev.CarrierName = c.CarrierName
			}
			if c.LineStatus != "" {
				prev.LineStatus = c.LineStatus
			}
			if c.EmailDeliverable != nil {
				prev.EmailDeliverable = c.EmailDeliverable
			}
			if c.EmailDisposable != nil {
				prev.EmailDisposable = c.EmailDisposable
			}
		}
	}
	return merged
}

// assignPrimaries marks exactly one candidate per method as primary:
// highest confidence, ties broken by most recent validation timestamp.
func assignPrimaries(candidates []model.ContactCandidate) {
	best := make(map[model.ContactMethod]int)
	for i := range candidates {
		candidates[i].IsPrimary = false
		m := candidates[i].Method
		j, ok := best[m]
		if !ok || betterPrimary(candidates[i], candidates[j]) {
			best[m] = i
		}
	}
	for _, i := range best {
		candidates[i].IsPrimary = true
	}
}

func betterPrimary(a, b model.ContactCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	at, bt := time.Time{}, time.Time{}
	if a.ValidatedAt != nil {
		at = *a.ValidatedAt
	}
	if b.ValidatedAt != nil {
		bt = *b.ValidatedAt
	}
	return at.After(bt)
}

func (o *Orchestrator) updateBestContact(ctx context.Context, leadID string, candidates []model.ContactCandidate) error {
	var phone, phoneType, email string
	var confidence *float64
	for _, c := range candidates {
		if !c.IsPrimary {
			continue
		}
		switch c.Method {
		case model.MethodPhone:
			phone = c.NormalizedValue
			phoneType = c.PhoneType
		case model.MethodEmail:
			email = c.NormalizedValue
		}
		if confidence == nil || c.Confidence > *confidence {
			v := c.Confidence
			confidence = &v
		}
	}
	if err := o.store.SetBestContact(ctx, leadID, phone, phoneType, email, confidence); err != nil {
		return eris.Wrap(err, "enrich: set best contact")
	}
	return nil
}

func (o *Orchestrator) deadLetter(ctx context.Context, leadID, providerName, operation string, err error) {
	var pe *resilience.ProviderError
	if errors.As(err, &pe) {
		zap.L().Warn("provider call exhausted", pe.LogFields()...)
	} else {
		zap.L().Warn("provider call exhausted",
			zap.String("provider", providerName),
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
	entry := &store.DLQEntry{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		Provider:  providerName,
		Operation: operation,
		Error:     err.Error(),
		Attempts:  o.attempts,
		CreatedAt: o.now(),
	}
	if dlqErr := o.store.AddDLQ(ctx, entry); dlqErr != nil {
		zap.L().Error("dead letter write failed", zap.Error(dlqErr))
	}
}

// BatchResult summarizes a skip-trace pass.
type BatchResult struct {
	Submitted int `json:"submitted"`
	Found     int `json:"found"`
	NotFound  int `json:"not_found"`
}

// EnrichBatch runs enrichment over scored leads that have not been attempted
// yet, bounded by limit. Per-lead failures are isolated; the batch reports
// partial counts.
func (o *Orchestrator) EnrichBatch(ctx context.Context, limit int, minScore *int, county string) (*BatchResult, error) {
	if limit <= 0 {
		limit = 25
	}
	attempted := false
	filter := store.LeadFilter{
		County:              county,
		MinScore:            minScore,
		Statuses:            []model.LeadStatus{model.StatusScored},
		EnrichmentAttempted: &attempted,
		PageSize:            limit,
	}
	leads, _, err := o.store.ListLeads(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list leads for batch")
	}

	// Highest scores first so a tight limit spends on the best leads.
	sort.SliceStable(leads, func(i, j int) bool {
		si, sj := -1, -1
		if leads[i].ActivationScore != nil {
			si = *leads[i].ActivationScore
		}
		if leads[j].ActivationScore != nil {
			sj = *leads[j].ActivationScore
		}
		return si > sj
	})

	result := &BatchResult{}
	for _, lead := range leads {
		result.Submitted++
		candidates, err := o.Enrich(ctx, lead.ID, false)
		if err != nil {
			if errors.Is(err, ErrCooldown) {
				result.Submitted--
				continue
			}
			zap.L().Warn("batch enrichment failed for lead",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
			result.NotFound++
			continue
		}
		if len(candidates) > 0 {
			result.Found++
		} else {
			result.NotFound++
		}
	}
	return result, nil
}
