// Package pipeline chains discovery, scoring, skip tracing, and activation
// into one bounded run. Stages are isolated: a stage that fails is recorded
// and the run continues with whatever the earlier stages produced.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/activation"
	"github.com/solarcommand/discovery-cli/internal/compliance"
	"github.com/solarcommand/discovery-cli/internal/enrich"
	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/scorer"
	"github.com/solarcommand/discovery-cli/internal/source"
	"github.com/solarcommand/discovery-cli/internal/store"
)

// DefaultSourceID is the discovery source the full pipeline syncs when the
// caller does not pick one.
const DefaultSourceID = "md-sdat"

// RunOptions bounds one pipeline run.
type RunOptions struct {
	County         string `json:"county"`
	SourceID       string `json:"source_id,omitempty"`
	DiscoveryLimit int    `json:"discovery_limit,omitempty"`
	TraceLimit     int    `json:"trace_limit,omitempty"`
	MinScore       *int   `json:"min_score,omitempty"`
	AutoActivate   bool   `json:"auto_activate,omitempty"`
}

// Summary reports what each stage accomplished. Errors holds one entry per
// failed stage; a non-empty Errors with non-zero counts means a partial run.
type Summary struct {
	Discovered  int      `json:"discovered"`
	Updated     int      `json:"updated"`
	Scored      int      `json:"scored"`
	Skipped     int      `json:"skipped"`
	Traced      int      `json:"traced"`
	PhonesFound int      `json:"phones_found"`
	Activated   int      `json:"activated"`
	DurationMS  int64    `json:"duration_ms"`
	Errors      []string `json:"errors,omitempty"`
}

// Runner wires the stage services together.
type Runner struct {
	store     store.Store
	sources   *source.Manager
	scorer    *scorer.Service
	enricher  *enrich.Orchestrator
	activator *activation.Pipeline
	pageSize  int
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock overrides the clock the auto-activation contact-hours check
// reads.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a pipeline runner over the stage services.
func NewRunner(st store.Store, sources *source.Manager, sc *scorer.Service, en *enrich.Orchestrator, act *activation.Pipeline, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:     st,
		sources:   sources,
		scorer:    sc,
		enricher:  en,
		activator: act,
		pageSize:  200,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes discover, score, trace, and optionally activate for one
// county. Each stage works off the store, so a failed discovery still
// scores and traces the existing backlog.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}
	log := zap.L().With(zap.String("county", opts.County))
	log.Info("pipeline run starting")

	if err := r.discoverStage(ctx, opts, summary); err != nil {
		r.stageFailed(summary, "discover", err)
	}
	if err := r.scoreStage(ctx, opts, summary); err != nil {
		r.stageFailed(summary, "score", err)
	}
	if err := r.traceStage(ctx, opts, summary); err != nil {
		r.stageFailed(summary, "trace", err)
	}
	if opts.AutoActivate {
		if err := r.activateStage(ctx, opts, summary); err != nil {
			r.stageFailed(summary, "activate", err)
		}
	}

	summary.DurationMS = time.Since(start).Milliseconds()
	log.Info("pipeline run complete",
		zap.Int("discovered", summary.Discovered),
		zap.Int("scored", summary.Scored),
		zap.Int("traced", summary.Traced),
		zap.Int("phones_found", summary.PhonesFound),
		zap.Int("activated", summary.Activated),
		zap.Int("stage_failures", len(summary.Errors)),
	)
	return summary, nil
}

// Discover syncs one source and scores the leads it produced.
func (r *Runner) Discover(ctx context.Context, opts RunOptions) (*Summary, error) {
	summary := &Summary{}
	if err := r.discoverStage(ctx, opts, summary); err != nil {
		return summary, err
	}
	if err := r.scoreStage(ctx, opts, summary); err != nil {
		r.stageFailed(summary, "score", err)
	}
	return summary, nil
}

// SkipTrace runs one bounded enrichment pass over the scored backlog,
// optionally followed by an activation pass over what it enriched.
func (r *Runner) SkipTrace(ctx context.Context, opts RunOptions) (*Summary, error) {
	summary := &Summary{}
	if err := r.traceStage(ctx, opts, summary); err != nil {
		return summary, err
	}
	if opts.AutoActivate {
		if err := r.activateStage(ctx, opts, summary); err != nil {
			r.stageFailed(summary, "activate", err)
		}
	}
	return summary, nil
}

func (r *Runner) stageFailed(summary *Summary, stage string, err error) {
	zap.L().Error("pipeline stage failed",
		zap.String("stage", stage),
		zap.Error(err),
	)
	summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", stage, err))
}

func (r *Runner) discoverStage(ctx context.Context, opts RunOptions, summary *Summary) error {
	sourceID := opts.SourceID
	if sourceID == "" {
		sourceID = DefaultSourceID
	}
	result, err := r.sources.Sync(ctx, sourceID, opts.County, opts.DiscoveryLimit)
	if err != nil {
		return err
	}
	summary.Discovered = result.Added
	summary.Updated = result.Updated
	summary.Skipped += result.Skipped
	return nil
}

// scoreStage pages through the unscored backlog for the county. Listing is
// re-run from page zero each iteration because scoring moves leads out of
// the filtered statuses.
func (r *Runner) scoreStage(ctx context.Context, opts RunOptions, summary *Summary) error {
	filter := store.LeadFilter{
		County:   opts.County,
		Statuses: []model.LeadStatus{model.StatusDiscovered, model.StatusScoring},
		PageSize: r.pageSize,
	}
	failed := make(map[string]bool)
	for {
		leads, _, err := r.store.ListLeads(ctx, filter)
		if err != nil {
			return err
		}
		progressed := 0
		for _, lead := range leads {
			if failed[lead.ID] {
				continue
			}
			if _, err := r.scorer.ScoreLead(ctx, lead.ID); err != nil {
				zap.L().Warn("scoring failed for lead",
					zap.String("lead_id", lead.ID),
					zap.Error(err),
				)
				failed[lead.ID] = true
				summary.Skipped++
				continue
			}
			summary.Scored++
			progressed++
		}
		if progressed == 0 {
			return nil
		}
	}
}

func (r *Runner) traceStage(ctx context.Context, opts RunOptions, summary *Summary) error {
	result, err := r.enricher.EnrichBatch(ctx, opts.TraceLimit, opts.MinScore, opts.County)
	if err != nil {
		return err
	}
	summary.Traced = result.Submitted
	summary.PhonesFound = result.Found
	return nil
}

// activateStage approves the enriched backlog, but only inside outreach
// hours. Outside the window the leads stay queued and the next run inside
// the window picks them up.
func (r *Runner) activateStage(ctx context.Context, opts RunOptions, summary *Summary) error {
	if !compliance.WithinContactHours(r.now()) {
		zap.L().Info("auto-activation deferred outside contact hours",
			zap.String("county", opts.County))
		return nil
	}
	filter := store.LeadFilter{
		County:   opts.County,
		MinScore: opts.MinScore,
		Statuses: []model.LeadStatus{model.StatusEnriched, model.StatusActivationReady},
		PageSize: r.pageSize,
	}
	leads, _, err := r.store.ListLeads(ctx, filter)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(leads))
	for _, lead := range leads {
		ids = append(ids, lead.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	outcome, err := r.activator.ApproveBatch(ctx, ids, "pipeline")
	if err != nil {
		var ne *activation.NotEligibleError
		if errors.As(err, &ne) {
			// Nothing cleared compliance this pass. Leads stay queued for
			// explicit review rather than failing the run.
			summary.Skipped += len(ne.Reasons)
			return nil
		}
		return err
	}
	summary.Activated = outcome.Activated
	summary.Skipped += outcome.Skipped
	return nil
}
