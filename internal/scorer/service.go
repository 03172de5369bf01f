package scorer

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/store"
)

// Service scores persisted leads: it loads the property snapshot and
// permits, computes the breakdown, stores it, and advances the lead.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a scoring Service.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// ScoreLead computes and persists a breakdown for one lead, then moves it
// to scored. Re-scoring appends a new breakdown; history is never mutated.
func (s *Service) ScoreLead(ctx context.Context, leadID string) (*model.ScoreBreakdown, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	prop, err := s.store.GetProperty(ctx, lead.PropertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: property for lead %s", leadID)
	}
	permits, err := s.store.ListPermitsByProperty(ctx, prop.ID)
	if err != nil {
		return nil, err
	}

	breakdown := New().WithNow(s.now().UTC()).Score(prop, permits)
	breakdown.LeadID = lead.ID

	if err := s.store.InsertBreakdown(ctx, breakdown); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLeadScore(ctx, lead.ID, breakdown.Total); err != nil {
		return nil, err
	}

	// Advance discovered/scoring leads; already-scored leads keep their
	// status when re-scored.
	err = s.store.TransitionLead(ctx, lead.ID,
		[]model.LeadStatus{model.StatusDiscovered, model.StatusScoring}, model.StatusScored)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, err
	}

	zap.L().Info("scored lead",
		zap.String("lead_id", lead.ID),
		zap.Int("total", breakdown.Total),
		zap.String("model_version", breakdown.ModelVersion))
	return breakdown, nil
}
