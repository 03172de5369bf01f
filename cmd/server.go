package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/activation"
	"github.com/solarcommand/discovery-cli/internal/compliance"
	"github.com/solarcommand/discovery-cli/internal/enrich"
	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/pipeline"
	"github.com/solarcommand/discovery-cli/internal/resolver"
	"github.com/solarcommand/discovery-cli/internal/store"
)

var validate = validator.New()

// leadDetail is the full aggregate returned by GET /discovered/{id}.
type leadDetail struct {
	Lead          *model.DiscoveredLead      `json:"lead"`
	Property      *model.DiscoveredProperty  `json:"property"`
	Breakdown     *model.ScoreBreakdown      `json:"score_breakdown,omitempty"`
	Permits       []model.PermitRecord       `json:"permits"`
	SourceRecords []model.SourceRecord       `json:"source_records"`
	Contacts      []model.ContactCandidate   `json:"contact_candidates"`
	Compliance    *model.ComplianceStatus    `json:"compliance,omitempty"`
	Activation    *model.ActivationRecord    `json:"activation,omitempty"`
}

// newRouter builds the JSON API over the pipeline environment.
func newRouter(env *pipelineEnv, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Actor"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/discovered", func(r chi.Router) {
		r.Get("/", env.handleListLeads)
		r.Get("/{id}", env.handleLeadDetail)
		r.Post("/run", env.handleRun)
		r.Post("/skip-trace", env.handleSkipTrace)
		r.Post("/full-pipeline", env.handleFullPipeline)
		r.Post("/{id}/enrich", env.handleEnrichLead)
		r.Post("/{id}/opt-out", env.handleOptOut)
	})

	r.Route("/activate", func(r chi.Router) {
		r.Get("/queue", env.handleActivationQueue)
		r.Post("/batch", env.handleActivateBatch)
		r.Post("/{id}", env.handleActivate)
		r.Post("/{id}/reject", env.handleReject)
	})

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", env.handleListSources)
		r.Post("/{id}/sync", env.handleSourceSync)
		r.Post("/test-connection", env.handleSourceTest)
	})

	r.Get("/admin/source-health", env.handleSourceHealth)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

// writeError maps domain errors onto status codes. NotEligibleError carries
// its per-lead reasons so the caller sees why nothing activated.
func writeError(w http.ResponseWriter, err error) {
	var ne *activation.NotEligibleError
	var ve *resolver.ValidationError
	switch {
	case errors.As(err, &ne):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "not eligible",
			"reasons": ne.Reasons,
		})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, store.ErrConflict), errors.Is(err, enrich.ErrCooldown):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

// actor reads the caller identity header; activation audit fields record it.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func (pe *pipelineEnv) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		County string `json:"county" validate:"required"`
		Source string `json:"source,omitempty"`
		Limit  int    `json:"limit,omitempty" validate:"gte=0"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	summary, err := pe.Runner.Discover(r.Context(), pipeline.RunOptions{
		County:         req.County,
		SourceID:       req.Source,
		DiscoveryLimit: req.Limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   runStatus(summary),
		"ingested": summary.Discovered,
		"scored":   summary.Scored,
		"skipped":  summary.Skipped,
		"errors":   summary.Errors,
	})
}

func (pe *pipelineEnv) handleSkipTrace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit        int    `json:"limit,omitempty" validate:"gte=0"`
		County       string `json:"county,omitempty"`
		MinScore     *int   `json:"min_score,omitempty"`
		AutoActivate bool   `json:"auto_activate,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	summary, err := pe.Runner.SkipTrace(r.Context(), pipeline.RunOptions{
		County:       req.County,
		TraceLimit:   req.Limit,
		MinScore:     req.MinScore,
		AutoActivate: req.AutoActivate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    runStatus(summary),
		"submitted": summary.Traced,
		"found":     summary.PhonesFound,
		"not_found": summary.Traced - summary.PhonesFound,
		"activated": summary.Activated,
	})
}

func (pe *pipelineEnv) handleFullPipeline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		County         string `json:"county" validate:"required"`
		Source         string `json:"source,omitempty"`
		DiscoveryLimit int    `json:"discovery_limit,omitempty" validate:"gte=0"`
		TraceLimit     int    `json:"trace_limit,omitempty" validate:"gte=0"`
		MinScore       *int   `json:"min_score,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	summary, err := pe.Runner.Run(r.Context(), pipeline.RunOptions{
		County:         req.County,
		SourceID:       req.Source,
		DiscoveryLimit: req.DiscoveryLimit,
		TraceLimit:     req.TraceLimit,
		MinScore:       req.MinScore,
		AutoActivate:   true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       runStatus(summary),
		"discovered":   summary.Discovered,
		"scored":       summary.Scored,
		"skipped":      summary.Skipped,
		"traced":       summary.Traced,
		"phones_found": summary.PhonesFound,
		"activated":    summary.Activated,
		"errors":       summary.Errors,
	})
}

func runStatus(s *pipeline.Summary) string {
	if len(s.Errors) > 0 {
		return "partial"
	}
	return "ok"
}

func (pe *pipelineEnv) handleEnrichLead(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	candidates, err := pe.Enricher.Enrich(r.Context(), chi.URLParam(r, "id"), force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contact_candidates": candidates})
}

// handleOptOut records an opt-out for a lead. A manual opt-out (no message)
// is recorded as-is; an inbound message is only recorded when it actually
// contains an opt-out keyword, so a forwarded "yes please call me" reply
// does not suppress the lead.
func (pe *pipelineEnv) handleOptOut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel string `json:"channel" validate:"required,oneof=sms voice email"`
		Message string `json:"message,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	lead, err := pe.Store.GetLead(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Message != "" && !compliance.IsOptOutMessage(req.Message) {
		writeJSON(w, http.StatusOK, map[string]any{"lead_id": id, "recorded": false})
		return
	}
	evidenceType := "manual"
	if req.Message != "" {
		evidenceType = "inbound_message"
	}
	if err := pe.Gate.RecordOptOut(ctx, lead, req.Channel, evidenceType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead_id": id, "recorded": true})
}

func (pe *pipelineEnv) handleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LeadFilter{
		County: q.Get("county"),
		Batch:  q.Get("batch"),
	}
	if v := q.Get("min_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_score must be an integer"})
			return
		}
		filter.MinScore = &n
	}
	if v := q.Get("max_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_score must be an integer"})
			return
		}
		filter.MaxScore = &n
	}
	if v := q.Get("status"); v != "" {
		filter.Statuses = []model.LeadStatus{model.LeadStatus(v)}
	}
	if v := q.Get("has_permit"); v != "" {
		b := v == "true"
		filter.HasPermit = &b
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 500 {
		filter.PageSize = 50
	}

	leads, total, err := pe.Store.ListLeads(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leads":     leads,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (pe *pipelineEnv) handleLeadDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	lead, err := pe.Store.GetLead(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	prop, err := pe.Store.GetProperty(ctx, lead.PropertyID)
	if err != nil {
		writeError(w, err)
		return
	}

	detail := leadDetail{Lead: lead, Property: prop}

	if detail.Breakdown, err = pe.Store.LatestBreakdown(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, err)
		return
	}
	if detail.Permits, err = pe.Store.ListPermitsByProperty(ctx, prop.ID); err != nil {
		writeError(w, err)
		return
	}
	if detail.SourceRecords, err = pe.Store.ListSourceRecords(ctx, prop.ID); err != nil {
		writeError(w, err)
		return
	}
	if detail.Contacts, err = pe.Store.ListContacts(ctx, id); err != nil {
		writeError(w, err)
		return
	}
	if detail.Activation, err = pe.Store.GetActivation(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, err)
		return
	}

	status, err := pe.Gate.Check(ctx, lead)
	if err != nil {
		writeError(w, err)
		return
	}
	detail.Compliance = &status

	writeJSON(w, http.StatusOK, detail)
}

func (pe *pipelineEnv) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	override := r.URL.Query().Get("override") == "true"

	rec, err := pe.Activator.Activate(r.Context(), id, actor(r), override)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lead_id":    rec.LeadID,
		"status":     string(model.StatusActivated),
		"activation": rec,
	})
}

func (pe *pipelineEnv) handleActivateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeadIDs []string `json:"discovered_lead_ids" validate:"required,min=1"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := pe.Activator.ApproveBatch(r.Context(), req.LeadIDs, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (pe *pipelineEnv) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := pe.Activator.Reject(r.Context(), id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"lead_id": id,
		"status":  string(model.StatusRejected),
	})
}

func (pe *pipelineEnv) handleActivationQueue(w http.ResponseWriter, r *http.Request) {
	leads, total, err := pe.Store.ListLeads(r.Context(), store.LeadFilter{
		Statuses: []model.LeadStatus{model.StatusActivationReady},
		PageSize: 200,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads, "total": total})
}

func (pe *pipelineEnv) handleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pe.Sources.Registry().List())
}

func (pe *pipelineEnv) handleSourceSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		County string `json:"county,omitempty"`
		Limit  int    `json:"limit,omitempty" validate:"gte=0"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := pe.Sources.Sync(r.Context(), chi.URLParam(r, "id"), req.County, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (pe *pipelineEnv) handleSourceTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"source_id" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	conn, ok := pe.Sources.Connector(req.SourceID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no connector for source"})
		return
	}
	if err := conn.TestConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"source_id": req.SourceID,
			"status":    "failed",
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source_id": req.SourceID, "status": "ok"})
}

func (pe *pipelineEnv) handleSourceHealth(w http.ResponseWriter, r *http.Request) {
	health, err := pe.Sources.HealthAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}
