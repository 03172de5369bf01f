// Package activation drives the lead lifecycle from scored through
// activated: eligibility promotion, single and batch activation, rejection,
// and archival. Compliance is recomputed on every activation attempt.
package activation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solarcommand/discovery-cli/internal/compliance"
	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/store"
)

// DefaultMinScore is the activation score threshold unless overridden by
// configuration.
const DefaultMinScore = 50

// NotEligibleError reports why one or more leads could not be activated.
type NotEligibleError struct {
	Reasons map[string]string // lead id → reason
}

func (e *NotEligibleError) Error() string {
	ids := make([]string, 0, len(e.Reasons))
	for id := range e.Reasons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %s", id, e.Reasons[id]))
	}
	return "activation: not eligible: " + strings.Join(parts, "; ")
}

// keyedMutex serializes activation attempts per lead so two concurrent
// attempts cannot race the same lead to different terminal states.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Pipeline owns lead activation.
type Pipeline struct {
	store       store.Store
	gate        *compliance.Gate
	minScore    int
	concurrency int
	locks       keyedMutex
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMinScore overrides the activation score threshold.
func WithMinScore(score int) Option {
	return func(p *Pipeline) { p.minScore = score }
}

// WithBatchConcurrency bounds parallel eligibility checks in ApproveBatch.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithNow injects a clock for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates an activation pipeline over the store and gate.
func NewPipeline(st store.Store, gate *compliance.Gate, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       st,
		gate:        gate,
		minScore:    DefaultMinScore,
		concurrency: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// eligibility checks the activation-ready gate: score at or above the
// threshold, at least one validated contact, and no blocking compliance
// flag. Override bypasses all three.
func (p *Pipeline) eligibility(ctx context.Context, lead *model.DiscoveredLead, override bool) (string, error) {
	if override {
		return "", nil
	}
	if lead.ActivationScore == nil || *lead.ActivationScore < p.minScore {
		return fmt.Sprintf("score below threshold %d", p.minScore), nil
	}

	contacts, err := p.store.ListContacts(ctx, lead.ID)
	if err != nil {
		return "", eris.Wrap(err, "activation: list contacts")
	}
	validated := false
	for _, c := range contacts {
		if c.Validated {
			validated = true
			break
		}
	}
	if !validated {
		return "no validated contact", nil
	}

	status, err := p.gate.Check(ctx, lead)
	if err != nil {
		return "", eris.Wrap(err, "activation: compliance check")
	}
	if status.Blocking() {
		return "compliance flagged", nil
	}
	return "", nil
}

// Promote advances an enriched (or scored) lead to activation_ready when it
// passes the eligibility gate.
func (p *Pipeline) Promote(ctx context.Context, leadID string, override bool) error {
	unlock := p.locks.lock(leadID)
	defer unlock()
	return p.promoteLocked(ctx, leadID, override)
}

func (p *Pipeline) promoteLocked(ctx context.Context, leadID string, override bool) error {
	lead, err := p.store.GetLead(ctx, leadID)
	if err != nil {
		return eris.Wrap(err, "activation: load lead")
	}
	if lead.Status == model.StatusActivationReady {
		return nil
	}

	reason, err := p.eligibility(ctx, lead, override)
	if err != nil {
		return err
	}
	if reason != "" {
		return &NotEligibleError{Reasons: map[string]string{leadID: reason}}
	}

	from := []model.LeadStatus{model.StatusScored, model.StatusEnriched}
	if err := p.store.TransitionLead(ctx, leadID, from, model.StatusActivationReady); err != nil {
		return eris.Wrapf(err, "activation: promote lead %s", leadID)
	}
	return nil
}

// Activate moves one lead to activated and creates its activation record.
// Idempotent: an already-activated lead returns the existing record. Leads
// still in scored or enriched are promoted through the eligibility gate
// first.
func (p *Pipeline) Activate(ctx context.Context, leadID, actor string, override bool) (*model.ActivationRecord, error) {
	unlock := p.locks.lock(leadID)
	defer unlock()

	lead, err := p.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "activation: load lead")
	}

	if lead.Status == model.StatusActivated {
		rec, err := p.store.GetActivation(ctx, leadID)
		if err != nil {
			return nil, eris.Wrap(err, "activation: load existing record")
		}
		return rec, nil
	}
	if lead.Status.Terminal() {
		return nil, &NotEligibleError{Reasons: map[string]string{leadID: "lead is " + string(lead.Status)}}
	}

	if lead.Status != model.StatusActivationReady {
		if err := p.promoteLocked(ctx, leadID, override); err != nil {
			return nil, err
		}
	} else if !override {
		// Always recompute compliance at activation time; ready status may
		// predate a DNC or consent change.
		status, err := p.gate.Check(ctx, lead)
		if err != nil {
			return nil, eris.Wrap(err, "activation: compliance check")
		}
		if status.Blocking() {
			return nil, &NotEligibleError{Reasons: map[string]string{leadID: "compliance flagged"}}
		}
	}

	if err := p.store.TransitionLead(ctx, leadID,
		[]model.LeadStatus{model.StatusActivationReady}, model.StatusActivated); err != nil {
		return nil, eris.Wrapf(err, "activation: transition lead %s", leadID)
	}

	rec, err := p.store.CreateActivation(ctx, &model.ActivationRecord{
		LeadID:      leadID,
		Actor:       actor,
		Override:    override,
		ActivatedAt: p.now(),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "activation: create record for %s", leadID)
	}

	zap.L().Info("lead activated",
		zap.String("lead_id", leadID),
		zap.String("actor", actor),
		zap.Bool("override", override),
	)
	return rec, nil
}

// BatchOutcome summarizes a batch approval.
type BatchOutcome struct {
	Activated int `json:"activated"`
	Skipped   int `json:"skipped"`
}

// ApproveBatch activates each id independently, silently skipping any lead
// that is not eligible; one flagged lead never blocks the rest. It fails
// with NotEligibleError only when every id was ineligible.
func (p *Pipeline) ApproveBatch(ctx context.Context, ids []string, actor string) (*BatchOutcome, error) {
	if len(ids) == 0 {
		return &BatchOutcome{}, nil
	}

	var mu sync.Mutex
	outcome := &BatchOutcome{}
	reasons := make(map[string]string)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := p.Activate(ctx, id, actor, false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var ne *NotEligibleError
				if errors.As(err, &ne) {
					for k, v := range ne.Reasons {
						reasons[k] = v
					}
				} else {
					zap.L().Warn("batch activation failed for lead",
						zap.String("lead_id", id),
						zap.Error(err),
					)
					reasons[id] = "internal error"
				}
				outcome.Skipped++
				return nil
			}
			outcome.Activated++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "activation: batch wait")
	}

	if outcome.Activated == 0 && outcome.Skipped > 0 {
		return nil, &NotEligibleError{Reasons: reasons}
	}
	return outcome, nil
}

// Reject marks a lead rejected with a reason. Rejecting an already-rejected
// lead is a no-op that preserves the original reason and timestamp.
func (p *Pipeline) Reject(ctx context.Context, leadID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return eris.New("activation: rejection requires a reason")
	}

	unlock := p.locks.lock(leadID)
	defer unlock()

	lead, err := p.store.GetLead(ctx, leadID)
	if err != nil {
		return eris.Wrap(err, "activation: load lead")
	}
	if lead.Status == model.StatusRejected {
		return nil
	}
	if lead.Status.Terminal() {
		return eris.Errorf("activation: cannot reject %s lead", lead.Status)
	}

	if err := p.store.SetRejection(ctx, leadID, reason, p.now()); err != nil {
		return eris.Wrapf(err, "activation: reject lead %s", leadID)
	}
	zap.L().Info("lead rejected",
		zap.String("lead_id", leadID),
		zap.String("reason", reason),
	)
	return nil
}

// Archive moves a lead from any non-terminal state to archived.
func (p *Pipeline) Archive(ctx context.Context, leadID string) error {
	unlock := p.locks.lock(leadID)
	defer unlock()

	lead, err := p.store.GetLead(ctx, leadID)
	if err != nil {
		return eris.Wrap(err, "activation: load lead")
	}
	if lead.Status.Terminal() {
		return eris.Errorf("activation: cannot archive %s lead", lead.Status)
	}

	from := []model.LeadStatus{
		model.StatusDiscovered, model.StatusScoring, model.StatusScored,
		model.StatusEnriching, model.StatusEnriched, model.StatusActivationReady,
	}
	if err := p.store.TransitionLead(ctx, leadID, from, model.StatusArchived); err != nil {
		return eris.Wrapf(err, "activation: archive lead %s", leadID)
	}
	return nil
}
