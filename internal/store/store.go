// Package store defines the persistence interface for the discovery pipeline
// and its Postgres and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/solarcommand/discovery-cli/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when an optimistic-lock update loses a race:
// the row's version (or status) no longer matches what the caller read.
// Callers re-read and retry; the resolver and activation pipeline both do.
var ErrConflict = errors.New("store: conflict")

// LeadFilter specifies criteria for listing discovered leads.
type LeadFilter struct {
	County              string
	Batch               string
	MinScore            *int
	MaxScore            *int
	Statuses            []model.LeadStatus
	HasPermit           *bool
	EnrichmentAttempted *bool
	Page                int
	PageSize            int
}

// IngestEvent is one recorded source sync, used for source health reporting.
type IngestEvent struct {
	ID             string    `json:"id" db:"id"`
	SourceID       string    `json:"source_id" db:"source_id"`
	StartedAt      time.Time `json:"started_at" db:"started_at"`
	DurationMS     int64     `json:"duration_ms" db:"duration_ms"`
	RecordsAdded   int       `json:"records_added" db:"records_added"`
	RecordsUpdated int       `json:"records_updated" db:"records_updated"`
	Error          string    `json:"error,omitempty" db:"error"`
}

// DLQEntry is a dead-lettered provider call: an enrichment or lookup that
// exhausted its retries. Kept for operator replay and spend accounting.
type DLQEntry struct {
	ID        string    `json:"id" db:"id"`
	LeadID    string    `json:"lead_id" db:"lead_id"`
	Provider  string    `json:"provider" db:"provider"`
	Operation string    `json:"operation" db:"operation"`
	Error     string    `json:"error" db:"error"`
	Attempts  int       `json:"attempts" db:"attempts"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Store is the persistence interface for the discovery pipeline.
type Store interface {
	// Properties. Merges go through UpdatePropertyCAS: the update applies
	// only when the stored version matches, otherwise ErrConflict.
	InsertProperty(ctx context.Context, p *model.DiscoveredProperty) error
	GetProperty(ctx context.Context, id string) (*model.DiscoveredProperty, error)
	GetPropertyByParcel(ctx context.Context, parcelID string) (*model.DiscoveredProperty, error)
	GetPropertyByAddress(ctx context.Context, normalizedAddress string) (*model.DiscoveredProperty, error)
	UpdatePropertyCAS(ctx context.Context, p *model.DiscoveredProperty, expectedVersion int64) error
	ArchiveProperty(ctx context.Context, id string) error

	// Source records are append-only provenance.
	AppendSourceRecord(ctx context.Context, rec *model.SourceRecord) error
	ListSourceRecords(ctx context.Context, propertyID string) ([]model.SourceRecord, error)

	// Permits.
	UpsertPermit(ctx context.Context, rec *model.PermitRecord) error
	LinkPermit(ctx context.Context, permitID, propertyID string) error
	ListPermitsByProperty(ctx context.Context, propertyID string) ([]model.PermitRecord, error)
	ListUnlinkedPermits(ctx context.Context, limit int) ([]model.PermitRecord, error)

	// Score breakdowns are append-only history; LatestBreakdown returns the
	// most recent.
	InsertBreakdown(ctx context.Context, b *model.ScoreBreakdown) error
	LatestBreakdown(ctx context.Context, leadID string) (*model.ScoreBreakdown, error)

	// Leads. TransitionLead is a status CAS: it succeeds only when the
	// current status is one of from, otherwise ErrConflict.
	CreateLead(ctx context.Context, lead *model.DiscoveredLead) error
	GetLead(ctx context.Context, id string) (*model.DiscoveredLead, error)
	GetLeadByProperty(ctx context.Context, propertyID string) (*model.DiscoveredLead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.DiscoveredLead, int, error)
	TransitionLead(ctx context.Context, id string, from []model.LeadStatus, to model.LeadStatus) error
	UpdateLeadScore(ctx context.Context, id string, score int) error
	MarkEnrichmentAttempted(ctx context.Context, id string, at time.Time) error
	SetBestContact(ctx context.Context, id, phone, phoneType, email string, confidence *float64) error
	SetRejection(ctx context.Context, id, reason string, at time.Time) error

	// Contact candidates: the orchestrator computes the full candidate set
	// (including the single primary per method) and replaces atomically.
	ReplaceContacts(ctx context.Context, leadID string, candidates []model.ContactCandidate) error
	ListContacts(ctx context.Context, leadID string) ([]model.ContactCandidate, error)

	// Consent log and internal suppression list, consumed by the
	// compliance gate.
	AppendConsent(ctx context.Context, entry *model.ConsentEntry) error
	LatestConsent(ctx context.Context, leadID string) ([]model.ConsentEntry, error)
	AddSuppression(ctx context.Context, normalizedValue, reason string) error
	BulkAddSuppressions(ctx context.Context, normalizedValues []string, reason string) (int, error)
	SuppressionContains(ctx context.Context, normalizedValue string) (bool, error)

	// Activation records: at most one per lead; CreateActivation returns
	// the existing record when one is already present (idempotent).
	CreateActivation(ctx context.Context, rec *model.ActivationRecord) (*model.ActivationRecord, error)
	GetActivation(ctx context.Context, leadID string) (*model.ActivationRecord, error)

	// Source health.
	RecordIngest(ctx context.Context, event *IngestEvent) error
	ListIngestEvents(ctx context.Context, sourceID string, since time.Time) ([]IngestEvent, error)

	// Dead-letter queue for exhausted provider calls.
	AddDLQ(ctx context.Context, entry *DLQEntry) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
