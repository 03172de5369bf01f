package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"

	"github.com/solarcommand/discovery-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// backend for single-operator installs and for CLI runs without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Concurrent writers contend on a single connection instead of
	// tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id                 TEXT PRIMARY KEY,
	parcel_id          TEXT,
	normalized_address TEXT NOT NULL UNIQUE,
	county             TEXT NOT NULL DEFAULT '',
	data               TEXT NOT NULL,
	version            INTEGER NOT NULL DEFAULT 1,
	archived_at        DATETIME,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_properties_parcel_id ON properties(parcel_id) WHERE parcel_id IS NOT NULL AND parcel_id != '';
CREATE INDEX IF NOT EXISTS idx_properties_county ON properties(county);

CREATE TABLE IF NOT EXISTS source_records (
	id            TEXT PRIMARY KEY,
	property_id   TEXT NOT NULL REFERENCES properties(id),
	source_id     TEXT NOT NULL,
	source_type   TEXT NOT NULL,
	quality_score REAL NOT NULL DEFAULT 0,
	retrieved_at  DATETIME NOT NULL,
	record        TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_source_records_property ON source_records(property_id);

CREATE TABLE IF NOT EXISTS permit_records (
	id                 TEXT PRIMARY KEY,
	property_id        TEXT,
	jurisdiction       TEXT NOT NULL DEFAULT '',
	permit_number      TEXT NOT NULL,
	category           TEXT NOT NULL,
	normalized_address TEXT NOT NULL DEFAULT '',
	record             TEXT NOT NULL,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (jurisdiction, permit_number)
);

CREATE INDEX IF NOT EXISTS idx_permit_records_property ON permit_records(property_id);
CREATE INDEX IF NOT EXISTS idx_permit_records_address ON permit_records(normalized_address);

CREATE TABLE IF NOT EXISTS score_breakdowns (
	id            TEXT PRIMARY KEY,
	lead_id       TEXT NOT NULL,
	property_id   TEXT NOT NULL,
	model_version TEXT NOT NULL,
	total         INTEGER NOT NULL,
	factors       TEXT NOT NULL,
	scored_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_breakdowns_lead ON score_breakdowns(lead_id, scored_at DESC);

CREATE TABLE IF NOT EXISTS leads (
	id                      TEXT PRIMARY KEY,
	property_id             TEXT NOT NULL UNIQUE REFERENCES properties(id),
	status                  TEXT NOT NULL DEFAULT 'discovered',
	discovery_reason        TEXT NOT NULL DEFAULT '',
	discovery_batch         TEXT NOT NULL DEFAULT '',
	discovery_score         INTEGER,
	activation_score        INTEGER,
	enrichment_attempted    INTEGER NOT NULL DEFAULT 0,
	enrichment_at           DATETIME,
	best_phone              TEXT NOT NULL DEFAULT '',
	best_phone_type         TEXT NOT NULL DEFAULT '',
	best_email              TEXT NOT NULL DEFAULT '',
	best_contact_confidence REAL,
	activated_at            DATETIME,
	rejected_at             DATETIME,
	rejection_reason        TEXT NOT NULL DEFAULT '',
	created_at              DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at              DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_batch ON leads(discovery_batch);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(activation_score);

CREATE TABLE IF NOT EXISTS contact_candidates (
	id               TEXT PRIMARY KEY,
	lead_id          TEXT NOT NULL REFERENCES leads(id),
	method           TEXT NOT NULL,
	value            TEXT NOT NULL,
	normalized_value TEXT NOT NULL,
	provider         TEXT NOT NULL DEFAULT '',
	confidence       REAL NOT NULL DEFAULT 0,
	phone_type       TEXT NOT NULL DEFAULT '',
	carrier_name     TEXT NOT NULL DEFAULT '',
	line_status      TEXT NOT NULL DEFAULT '',
	email_deliverable INTEGER,
	email_disposable  INTEGER,
	validated        INTEGER NOT NULL DEFAULT 0,
	validated_at     DATETIME,
	is_primary       INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (lead_id, method, normalized_value)
);

CREATE INDEX IF NOT EXISTS idx_contact_candidates_lead ON contact_candidates(lead_id);

CREATE TABLE IF NOT EXISTS consent_log (
	id            TEXT PRIMARY KEY,
	lead_id       TEXT NOT NULL,
	consent_type  TEXT NOT NULL,
	status        TEXT NOT NULL,
	channel       TEXT NOT NULL DEFAULT '',
	evidence_type TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_consent_log_lead ON consent_log(lead_id, consent_type, created_at DESC);

CREATE TABLE IF NOT EXISTS suppression_list (
	normalized_value TEXT PRIMARY KEY,
	reason           TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS activation_records (
	id           TEXT PRIMARY KEY,
	lead_id      TEXT NOT NULL UNIQUE REFERENCES leads(id),
	actor        TEXT NOT NULL,
	override     INTEGER NOT NULL DEFAULT 0,
	activated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_events (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	started_at      DATETIME NOT NULL,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	records_added   INTEGER NOT NULL DEFAULT 0,
	records_updated INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ingest_events_source ON ingest_events(source_id, started_at DESC);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	operation  TEXT NOT NULL,
	error      TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Properties

func (s *SQLiteStore) InsertProperty(ctx context.Context, p *model.DiscoveredProperty) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal property")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO properties (id, parcel_id, normalized_address, county, data, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ParcelID, p.NormalizedAddress, p.County, string(data), p.Version, now, now,
	)
	if sqliteUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrapf(err, "sqlite: insert property %s", p.NormalizedAddress)
}

// sqliteUniqueViolation reports whether err is a unique-constraint failure.
// 2067 is SQLITE_CONSTRAINT_UNIQUE, 1555 is SQLITE_CONSTRAINT_PRIMARYKEY.
func sqliteUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && (se.Code() == 2067 || se.Code() == 1555)
}

func (s *SQLiteStore) getProperty(ctx context.Context, where string, arg any) (*model.DiscoveredProperty, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, parcel_id, normalized_address, county, data, version, archived_at, created_at, updated_at
		 FROM properties WHERE `+where, arg)

	var (
		p          model.DiscoveredProperty
		id         string
		parcelID   sql.NullString
		normalized string
		county     string
		data       string
		version    int64
		archivedAt sql.NullTime
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(&id, &parcelID, &normalized, &county, &data, &version, &archivedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get property")
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal property")
	}
	p.ID = id
	p.ParcelID = parcelID.String
	p.NormalizedAddress = normalized
	p.County = county
	p.Version = version
	if archivedAt.Valid {
		t := archivedAt.Time
		p.ArchivedAt = &t
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (*model.DiscoveredProperty, error) {
	return s.getProperty(ctx, `id = ?`, id)
}

func (s *SQLiteStore) GetPropertyByParcel(ctx context.Context, parcelID string) (*model.DiscoveredProperty, error) {
	return s.getProperty(ctx, `parcel_id = ?`, parcelID)
}

func (s *SQLiteStore) GetPropertyByAddress(ctx context.Context, normalizedAddress string) (*model.DiscoveredProperty, error) {
	return s.getProperty(ctx, `normalized_address = ?`, normalizedAddress)
}

func (s *SQLiteStore) UpdatePropertyCAS(ctx context.Context, p *model.DiscoveredProperty, expectedVersion int64) error {
	now := time.Now().UTC()
	p.Version = expectedVersion + 1
	p.UpdatedAt = now

	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal property")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE properties SET parcel_id = ?, county = ?, data = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.ParcelID, p.County, string(data), now, p.ID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update property %s", p.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) ArchiveProperty(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE properties SET archived_at = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL`,
		time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive property %s", id)
	}
	return notFoundIfZero(res)
}

// Source records

func (s *SQLiteStore) AppendSourceRecord(ctx context.Context, rec *model.SourceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	record, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal source record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_records (id, property_id, source_id, source_type, quality_score, retrieved_at, record, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PropertyID, rec.SourceID, string(rec.SourceType), rec.QualityScore, rec.RetrievedAt, string(record), rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append source record for %s", rec.PropertyID)
}

func (s *SQLiteStore) ListSourceRecords(ctx context.Context, propertyID string) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record, created_at FROM source_records WHERE property_id = ? ORDER BY retrieved_at ASC`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list source records")
	}
	defer rows.Close()

	var records []model.SourceRecord
	for rows.Next() {
		var (
			id        string
			data      string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &data, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source record")
		}
		var rec model.SourceRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal source record")
		}
		rec.ID = id
		rec.CreatedAt = createdAt
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list source records iterate")
}

// Permits

func (s *SQLiteStore) UpsertPermit(ctx context.Context, rec *model.PermitRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	record, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal permit")
	}
	var propertyID any
	if rec.PropertyID != "" {
		propertyID = rec.PropertyID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO permit_records (id, property_id, jurisdiction, permit_number, category, normalized_address, record, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (jurisdiction, permit_number) DO UPDATE SET
		   category = excluded.category, normalized_address = excluded.normalized_address, record = excluded.record,
		   property_id = COALESCE(permit_records.property_id, excluded.property_id)`,
		rec.ID, propertyID, rec.Jurisdiction, rec.PermitNumber,
		string(rec.Category), rec.NormalizedAddress, string(record), rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert permit %s/%s", rec.Jurisdiction, rec.PermitNumber)
}

func (s *SQLiteStore) LinkPermit(ctx context.Context, permitID, propertyID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE permit_records SET property_id = ? WHERE id = ?`,
		propertyID, permitID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link permit %s", permitID)
	}
	return notFoundIfZero(res)
}

func (s *SQLiteStore) listPermits(ctx context.Context, where string, args ...any) ([]model.PermitRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, property_id, normalized_address, record, created_at FROM permit_records WHERE `+where,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list permits")
	}
	defer rows.Close()

	var permits []model.PermitRecord
	for rows.Next() {
		var (
			id         string
			propertyID sql.NullString
			normalized string
			data       string
			createdAt  time.Time
		)
		if err := rows.Scan(&id, &propertyID, &normalized, &data, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan permit")
		}
		var rec model.PermitRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal permit")
		}
		rec.ID = id
		rec.PropertyID = propertyID.String
		rec.NormalizedAddress = normalized
		rec.CreatedAt = createdAt
		permits = append(permits, rec)
	}
	return permits, eris.Wrap(rows.Err(), "sqlite: list permits iterate")
}

func (s *SQLiteStore) ListPermitsByProperty(ctx context.Context, propertyID string) ([]model.PermitRecord, error) {
	return s.listPermits(ctx, `property_id = ? ORDER BY created_at ASC`, propertyID)
}

func (s *SQLiteStore) ListUnlinkedPermits(ctx context.Context, limit int) ([]model.PermitRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.listPermits(ctx, `property_id IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
}

// Score breakdowns

func (s *SQLiteStore) InsertBreakdown(ctx context.Context, b *model.ScoreBreakdown) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	factors, err := json.Marshal(b.Factors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal factors")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO score_breakdowns (id, lead_id, property_id, model_version, total, factors, scored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.LeadID, b.PropertyID, b.ModelVersion, b.Total, string(factors), b.ScoredAt,
	)
	return eris.Wrapf(err, "sqlite: insert breakdown for lead %s", b.LeadID)
}

func (s *SQLiteStore) LatestBreakdown(ctx context.Context, leadID string) (*model.ScoreBreakdown, error) {
	var (
		b       model.ScoreBreakdown
		factors string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, property_id, model_version, total, factors, scored_at
		 FROM score_breakdowns WHERE lead_id = ? ORDER BY scored_at DESC LIMIT 1`,
		leadID,
	).Scan(&b.ID, &b.LeadID, &b.PropertyID, &b.ModelVersion, &b.Total, &factors, &b.ScoredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest breakdown")
	}
	if err := json.Unmarshal([]byte(factors), &b.Factors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal factors")
	}
	return &b, nil
}

// Leads

const sqliteLeadColumns = `id, property_id, status, discovery_reason, discovery_batch, discovery_score, activation_score,
	enrichment_attempted, enrichment_at, best_phone, best_phone_type, best_email, best_contact_confidence,
	activated_at, rejected_at, rejection_reason, created_at, updated_at`

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.DiscoveredLead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.Status == "" {
		lead.Status = model.StatusDiscovered
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+sqliteLeadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.PropertyID, string(lead.Status), lead.DiscoveryReason, lead.DiscoveryBatch,
		lead.DiscoveryScore, lead.ActivationScore, lead.EnrichmentAttempted, lead.EnrichmentAt,
		lead.BestPhone, lead.BestPhoneType, lead.BestEmail, lead.BestContactConfidence,
		lead.ActivatedAt, lead.RejectedAt, lead.RejectionReason, now, now,
	)
	return eris.Wrapf(err, "sqlite: insert lead for property %s", lead.PropertyID)
}

func scanSQLiteLead(row scannable) (*model.DiscoveredLead, error) {
	var (
		l            model.DiscoveredLead
		enrichmentAt sql.NullTime
		activatedAt  sql.NullTime
		rejectedAt   sql.NullTime
	)
	err := row.Scan(&l.ID, &l.PropertyID, &l.Status, &l.DiscoveryReason, &l.DiscoveryBatch,
		&l.DiscoveryScore, &l.ActivationScore, &l.EnrichmentAttempted, &enrichmentAt,
		&l.BestPhone, &l.BestPhoneType, &l.BestEmail, &l.BestContactConfidence,
		&activatedAt, &rejectedAt, &l.RejectionReason, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if enrichmentAt.Valid {
		t := enrichmentAt.Time
		l.EnrichmentAt = &t
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		l.ActivatedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		l.RejectedAt = &t
	}
	return &l, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.DiscoveredLead, error) {
	lead, err := scanSQLiteLead(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return lead, nil
}

func (s *SQLiteStore) GetLeadByProperty(ctx context.Context, propertyID string) (*model.DiscoveredLead, error) {
	lead, err := scanSQLiteLead(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE property_id = ?`, propertyID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead by property %s", propertyID)
	}
	return lead, nil
}

func buildSQLiteLeadFilter(filter LeadFilter) (string, []any) {
	where := ` WHERE 1=1`
	var args []any

	if filter.County != "" {
		where += ` AND property_id IN (SELECT id FROM properties WHERE county = ?)`
		args = append(args, filter.County)
	}
	if filter.Batch != "" {
		where += ` AND discovery_batch = ?`
		args = append(args, filter.Batch)
	}
	if filter.MinScore != nil {
		where += ` AND activation_score >= ?`
		args = append(args, *filter.MinScore)
	}
	if filter.MaxScore != nil {
		where += ` AND activation_score <= ?`
		args = append(args, *filter.MaxScore)
	}
	if len(filter.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Statuses)), ", ")
		where += fmt.Sprintf(` AND status IN (%s)`, placeholders)
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.HasPermit != nil {
		if *filter.HasPermit {
			where += ` AND EXISTS (SELECT 1 FROM permit_records pr WHERE pr.property_id = leads.property_id)`
		} else {
			where += ` AND NOT EXISTS (SELECT 1 FROM permit_records pr WHERE pr.property_id = leads.property_id)`
		}
	}
	if filter.EnrichmentAttempted != nil {
		where += ` AND enrichment_attempted = ?`
		args = append(args, *filter.EnrichmentAttempted)
	}
	return where, args
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.DiscoveredLead, int, error) {
	where, args := buildSQLiteLeadFilter(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count leads")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT ` + sqliteLeadColumns + ` FROM leads` + where +
		` ORDER BY activation_score IS NULL, activation_score DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.DiscoveredLead
	for rows.Next() {
		lead, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, total, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) TransitionLead(ctx context.Context, id string, from []model.LeadStatus, to model.LeadStatus) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), time.Now().UTC(), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE leads SET status = ?, updated_at = ? WHERE id = ? AND status IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition lead %s to %s", id, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM leads WHERE id = ?)`, id).Scan(&exists); err != nil {
			return eris.Wrapf(err, "sqlite: transition lead %s", id)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) UpdateLeadScore(ctx context.Context, id string, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET discovery_score = COALESCE(discovery_score, ?), activation_score = ?, updated_at = ? WHERE id = ?`,
		score, score, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead score %s", id)
	}
	return notFoundIfZero(res)
}

func (s *SQLiteStore) MarkEnrichmentAttempted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET enrichment_attempted = 1, enrichment_at = ?, updated_at = ? WHERE id = ?`,
		at, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark enrichment %s", id)
	}
	return notFoundIfZero(res)
}

func (s *SQLiteStore) SetBestContact(ctx context.Context, id, phone, phoneType, email string, confidence *float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET best_phone = ?, best_phone_type = ?, best_email = ?, best_contact_confidence = ?, updated_at = ? WHERE id = ?`,
		phone, phoneType, email, confidence, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set best contact %s", id)
	}
	return notFoundIfZero(res)
}

func (s *SQLiteStore) SetRejection(ctx context.Context, id, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, rejection_reason = ?, rejected_at = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusRejected), reason, at, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reject lead %s", id)
	}
	return notFoundIfZero(res)
}

// Contact candidates

func (s *SQLiteStore) ReplaceContacts(ctx context.Context, leadID string, candidates []model.ContactCandidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace contacts")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_candidates WHERE lead_id = ?`, leadID); err != nil {
		return eris.Wrapf(err, "sqlite: clear contacts %s", leadID)
	}
	for i := range candidates {
		c := &candidates[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.LeadID = leadID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO contact_candidates (id, lead_id, method, value, normalized_value, provider, confidence,
			   phone_type, carrier_name, line_status, email_deliverable, email_disposable,
			   validated, validated_at, is_primary, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.LeadID, string(c.Method), c.Value, c.NormalizedValue, c.Provider, c.Confidence,
			c.PhoneType, c.CarrierName, c.LineStatus, c.EmailDeliverable, c.EmailDisposable,
			c.Validated, c.ValidatedAt, c.IsPrimary, c.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert contact %s", c.NormalizedValue)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace contacts")
}

func (s *SQLiteStore) ListContacts(ctx context.Context, leadID string) ([]model.ContactCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, method, value, normalized_value, provider, confidence,
		   phone_type, carrier_name, line_status, email_deliverable, email_disposable,
		   validated, validated_at, is_primary, created_at
		 FROM contact_candidates WHERE lead_id = ?
		 ORDER BY is_primary DESC, confidence DESC, created_at ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close()

	var contacts []model.ContactCandidate
	for rows.Next() {
		var (
			c           model.ContactCandidate
			validatedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.LeadID, &c.Method, &c.Value, &c.NormalizedValue, &c.Provider, &c.Confidence,
			&c.PhoneType, &c.CarrierName, &c.LineStatus, &c.EmailDeliverable, &c.EmailDisposable,
			&c.Validated, &validatedAt, &c.IsPrimary, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		if validatedAt.Valid {
			t := validatedAt.Time
			c.ValidatedAt = &t
		}
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

// Consent and suppression

func (s *SQLiteStore) AppendConsent(ctx context.Context, entry *model.ConsentEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consent_log (id, lead_id, consent_type, status, channel, evidence_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.LeadID, entry.ConsentType, string(entry.Status), entry.Channel, entry.EvidenceType, entry.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append consent for %s", entry.LeadID)
}

// LatestConsent returns the most recent entry per consent type. Deduped in
// Go since SQLite lacks DISTINCT ON.
func (s *SQLiteStore) LatestConsent(ctx context.Context, leadID string) ([]model.ConsentEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, consent_type, status, channel, evidence_type, created_at
		 FROM consent_log WHERE lead_id = ? ORDER BY created_at DESC, id DESC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest consent")
	}
	defer rows.Close()

	seen := map[string]bool{}
	var entries []model.ConsentEntry
	for rows.Next() {
		var e model.ConsentEntry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.ConsentType, &e.Status, &e.Channel, &e.EvidenceType, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan consent")
		}
		if seen[e.ConsentType] {
			continue
		}
		seen[e.ConsentType] = true
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: latest consent iterate")
}

func (s *SQLiteStore) AddSuppression(ctx context.Context, normalizedValue, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppression_list (normalized_value, reason, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (normalized_value) DO UPDATE SET reason = excluded.reason`,
		normalizedValue, reason, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: add suppression")
}

// BulkAddSuppressions loads a batch of normalized values into the
// suppression list inside one transaction. Values already present keep
// their row but pick up the new reason.
func (s *SQLiteStore) BulkAddSuppressions(ctx context.Context, normalizedValues []string, reason string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk add suppressions begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	seen := make(map[string]bool, len(normalizedValues))
	count := 0
	for _, v := range normalizedValues {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO suppression_list (normalized_value, reason, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (normalized_value) DO UPDATE SET reason = excluded.reason`,
			v, reason, now,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: bulk add suppressions insert")
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk add suppressions commit")
	}
	return count, nil
}

func (s *SQLiteStore) SuppressionContains(ctx context.Context, normalizedValue string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppression_list WHERE normalized_value = ?)`,
		normalizedValue,
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: check suppression")
}

// Activation records

func (s *SQLiteStore) CreateActivation(ctx context.Context, rec *model.ActivationRecord) (*model.ActivationRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activation_records (id, lead_id, actor, override, activated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (lead_id) DO NOTHING`,
		rec.ID, rec.LeadID, rec.Actor, rec.Override, rec.ActivatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create activation for %s", rec.LeadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.GetActivation(ctx, rec.LeadID)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE leads SET activated_at = ?, updated_at = ? WHERE id = ?`,
		rec.ActivatedAt, time.Now().UTC(), rec.LeadID,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: stamp lead activation %s", rec.LeadID)
	}
	return rec, nil
}

func (s *SQLiteStore) GetActivation(ctx context.Context, leadID string) (*model.ActivationRecord, error) {
	var rec model.ActivationRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, actor, override, activated_at FROM activation_records WHERE lead_id = ?`,
		leadID,
	).Scan(&rec.ID, &rec.LeadID, &rec.Actor, &rec.Override, &rec.ActivatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get activation %s", leadID)
	}
	return &rec, nil
}

// Source health

func (s *SQLiteStore) RecordIngest(ctx context.Context, event *IngestEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_events (id, source_id, started_at, duration_ms, records_added, records_updated, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.SourceID, event.StartedAt, event.DurationMS, event.RecordsAdded, event.RecordsUpdated, event.Error,
	)
	return eris.Wrapf(err, "sqlite: record ingest for %s", event.SourceID)
}

func (s *SQLiteStore) ListIngestEvents(ctx context.Context, sourceID string, since time.Time) ([]IngestEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, started_at, duration_ms, records_added, records_updated, error
		 FROM ingest_events WHERE source_id = ? AND started_at >= ? ORDER BY started_at DESC`,
		sourceID, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingest events")
	}
	defer rows.Close()

	var events []IngestEvent
	for rows.Next() {
		var e IngestEvent
		if err := rows.Scan(&e.ID, &e.SourceID, &e.StartedAt, &e.DurationMS, &e.RecordsAdded, &e.RecordsUpdated, &e.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingest event")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list ingest events iterate")
}

// Dead letter queue

func (s *SQLiteStore) AddDLQ(ctx context.Context, entry *DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (id, lead_id, provider, operation, error, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.LeadID, entry.Provider, entry.Operation, entry.Error, entry.Attempts, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: add dlq entry")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func notFoundIfZero(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
