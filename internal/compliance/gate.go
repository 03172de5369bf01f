// Package compliance implements the pre-activation gate: DNC registries,
// internal suppression, consent resolution, and litigator/fraud watchlists.
// Checks fail closed: a lookup failure flags the lead rather than clearing it.
package compliance

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/store"
)

// Lookup answers membership queries against an external list (federal or
// state DNC registry, litigator or fraud watchlist).
type Lookup interface {
	Name() string
	Contains(ctx context.Context, value string) (bool, error)
}

// Gate cross-references a lead against every configured list. The result is
// derived, never cached: DNC and consent state change independently of the
// lead lifecycle, so activation recomputes it every time.
type Gate struct {
	store      store.Store
	federal    Lookup
	state      Lookup
	litigators Lookup
	fraud      Lookup
	now        func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithLitigatorList sets the litigator watchlist.
func WithLitigatorList(l Lookup) Option {
	return func(g *Gate) { g.litigators = l }
}

// WithFraudList sets the fraud watchlist.
func WithFraudList(l Lookup) Option {
	return func(g *Gate) { g.fraud = l }
}

// WithNow injects a clock for tests.
func WithNow(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a compliance gate. Federal and state DNC lookups are
// required lists: passing nil means every check flags until one is wired.
func NewGate(st store.Store, federal, state Lookup, opts ...Option) *Gate {
	g := &Gate{
		store:   st,
		federal: federal,
		state:   state,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check computes the lead's compliance status. Required-list failures
// flag the affected check; watchlists flag on failure but stay clear when
// not configured.
func (g *Gate) Check(ctx context.Context, lead *model.DiscoveredLead) (model.ComplianceStatus, error) {
	status := model.ComplianceStatus{CheckedAt: g.now()}

	phone := lead.BestPhone

	status.FederalDNC = g.requiredCheck(ctx, g.federal, phone)
	status.StateDNC = g.requiredCheck(ctx, g.state, phone)
	status.LitigatorFlag = g.optionalCheck(ctx, g.litigators, phone)
	status.FraudFlag = g.optionalCheck(ctx, g.fraud, phone)

	internal, err := g.internalSuppressed(ctx, lead)
	if err != nil {
		zap.L().Warn("internal suppression lookup failed, failing closed",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		status.InternalDNC = model.FlagFlagged
	} else if internal {
		status.InternalDNC = model.FlagFlagged
	} else {
		status.InternalDNC = model.FlagClear
	}

	consent, err := g.resolveConsent(ctx, lead.ID)
	if err != nil {
		zap.L().Warn("consent lookup failed, treating as opted out",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		consent = model.ConsentOptedOut
	}
	status.ConsentStatus = consent

	return status, nil
}

// requiredCheck flags when the list is missing, errors, or contains the
// value. A lead without a phone has nothing to match and stays clear.
func (g *Gate) requiredCheck(ctx context.Context, list Lookup, phone string) model.Flag {
	if phone == "" {
		return model.FlagClear
	}
	if list == nil {
		zap.L().Warn("required compliance list not configured, failing closed")
		return model.FlagFlagged
	}
	found, err := list.Contains(ctx, phone)
	if err != nil {
		zap.L().Warn("compliance list lookup failed, failing closed",
			zap.String("list", list.Name()),
			zap.Error(err),
		)
		return model.FlagFlagged
	}
	if found {
		return model.FlagFlagged
	}
	return model.FlagClear
}

func (g *Gate) optionalCheck(ctx context.Context, list Lookup, phone string) model.Flag {
	if list == nil || phone == "" {
		return model.FlagClear
	}
	found, err := list.Contains(ctx, phone)
	if err != nil {
		zap.L().Warn("watchlist lookup failed, failing closed",
			zap.String("list", list.Name()),
			zap.Error(err),
		)
		return model.FlagFlagged
	}
	if found {
		return model.FlagFlagged
	}
	return model.FlagClear
}

func (g *Gate) internalSuppressed(ctx context.Context, lead *model.DiscoveredLead) (bool, error) {
	for _, value := range []string{lead.BestPhone, lead.BestEmail} {
		if value == "" {
			continue
		}
		found, err := g.store.SuppressionContains(ctx, value)
		if err != nil {
			return false, eris.Wrap(err, "compliance: suppression lookup")
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// resolveConsent folds the latest entry per consent type into one state.
// Any opt-out wins; otherwise the strongest positive evidence applies.
func (g *Gate) resolveConsent(ctx context.Context, leadID string) (model.ConsentState, error) {
	latest, err := g.store.LatestConsent(ctx, leadID)
	if err != nil {
		return model.ConsentUnknown, eris.Wrap(err, "compliance: consent lookup")
	}

	state := model.ConsentUnknown
	for _, entry := range latest {
		switch entry.Status {
		case model.ConsentOptedOut:
			return model.ConsentOptedOut, nil
		case model.ConsentExplicitOptIn:
			state = model.ConsentExplicitOptIn
		case model.ConsentInferred:
			if state != model.ConsentExplicitOptIn {
				state = model.ConsentInferred
			}
		}
	}
	return state, nil
}

// RecordOptOut appends an all-channels opt-out to the consent log and adds
// the lead's contact values to the internal suppression list.
func (g *Gate) RecordOptOut(ctx context.Context, lead *model.DiscoveredLead, channel, evidenceType string) error {
	entry := &model.ConsentEntry{
		LeadID:       lead.ID,
		ConsentType:  "all_channels",
		Status:       model.ConsentOptedOut,
		Channel:      channel,
		EvidenceType: evidenceType,
		CreatedAt:    g.now(),
	}
	if err := g.store.AppendConsent(ctx, entry); err != nil {
		return eris.Wrap(err, "compliance: append opt-out")
	}
	for _, value := range []string{lead.BestPhone, lead.BestEmail} {
		if value == "" {
			continue
		}
		if err := g.store.AddSuppression(ctx, value, "opt_out"); err != nil {
			return eris.Wrap(err, "compliance: add suppression")
		}
	}
	return nil
}
