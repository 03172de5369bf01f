package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/solarcommand/discovery-cli/internal/db"
	"github.com/solarcommand/discovery-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_property_by_address": `SELECT ` + propertyColumns + ` FROM properties WHERE normalized_address = $1`,
	"get_property_by_parcel":  `SELECT ` + propertyColumns + ` FROM properties WHERE parcel_id = $1`,
	"append_source_record":    `INSERT INTO source_records (id, property_id, source_id, source_type, quality_score, retrieved_at, record, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"get_lead":                `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`,
	"transition_lead":         `UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
	"insert_breakdown":        `INSERT INTO score_breakdowns (id, lead_id, property_id, model_version, total, factors, scored_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access (e.g., bulk ingestion).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	parcel_id          TEXT,
	normalized_address TEXT NOT NULL UNIQUE,
	county             TEXT NOT NULL DEFAULT '',
	data               JSONB NOT NULL,
	version            BIGINT NOT NULL DEFAULT 1,
	archived_at        TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_properties_parcel_id ON properties(parcel_id) WHERE parcel_id IS NOT NULL AND parcel_id != '';
CREATE INDEX IF NOT EXISTS idx_properties_county ON properties(county);

CREATE TABLE IF NOT EXISTS source_records (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id   TEXT NOT NULL REFERENCES properties(id),
	source_id     TEXT NOT NULL,
	source_type   TEXT NOT NULL,
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	retrieved_at  TIMESTAMPTZ NOT NULL,
	record        JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_source_records_property ON source_records(property_id);
CREATE INDEX IF NOT EXISTS idx_source_records_source ON source_records(source_id);

CREATE TABLE IF NOT EXISTS permit_records (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id        TEXT,
	jurisdiction       TEXT NOT NULL DEFAULT '',
	permit_number      TEXT NOT NULL,
	category           TEXT NOT NULL,
	normalized_address TEXT NOT NULL DEFAULT '',
	record             JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (jurisdiction, permit_number)
);

CREATE INDEX IF NOT EXISTS idx_permit_records_property ON permit_records(property_id);
CREATE INDEX IF NOT EXISTS idx_permit_records_address ON permit_records(normalized_address);

CREATE TABLE IF NOT EXISTS score_breakdowns (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id       TEXT NOT NULL,
	property_id   TEXT NOT NULL,
	model_version TEXT NOT NULL,
	total         INTEGER NOT NULL,
	factors       JSONB NOT NULL,
	scored_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_breakdowns_lead ON score_breakdowns(lead_id, scored_at DESC);

CREATE TABLE IF NOT EXISTS leads (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	property_id             TEXT NOT NULL UNIQUE REFERENCES properties(id),
	status                  TEXT NOT NULL DEFAULT 'discovered',
	discovery_reason        TEXT NOT NULL DEFAULT '',
	discovery_batch         TEXT NOT NULL DEFAULT '',
	discovery_score         INTEGER,
	activation_score        INTEGER,
	enrichment_attempted    BOOLEAN NOT NULL DEFAULT false,
	enrichment_at           TIMESTAMPTZ,
	best_phone              TEXT NOT NULL DEFAULT '',
	best_phone_type         TEXT NOT NULL DEFAULT '',
	best_email              TEXT NOT NULL DEFAULT '',
	best_contact_confidence DOUBLE PRECISION,
	activated_at            TIMESTAMPTZ,
	rejected_at             TIMESTAMPTZ,
	rejection_reason        TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_batch ON leads(discovery_batch);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(activation_score);

CREATE TABLE IF NOT EXISTS contact_candidates (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id          TEXT NOT NULL REFERENCES leads(id),
	method           TEXT NOT NULL,
	value            TEXT NOT NULL,
	normalized_value TEXT NOT NULL,
	provider         TEXT NOT NULL DEFAULT '',
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	phone_type       TEXT NOT NULL DEFAULT '',
	carrier_name     TEXT NOT NULL DEFAULT '',
	line_status      TEXT NOT NULL DEFAULT '',
	email_deliverable BOOLEAN,
	email_disposable  BOOLEAN,
	validated        BOOLEAN NOT NULL DEFAULT false,
	validated_at     TIMESTAMPTZ,
	is_primary       BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (lead_id, method, normalized_value)
);

CREATE INDEX IF NOT EXISTS idx_contact_candidates_lead ON contact_candidates(lead_id);

CREATE TABLE IF NOT EXISTS consent_log (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id       TEXT NOT NULL,
	consent_type  TEXT NOT NULL,
	status        TEXT NOT NULL,
	channel       TEXT NOT NULL DEFAULT '',
	evidence_type TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_consent_log_lead ON consent_log(lead_id, consent_type, created_at DESC);

CREATE TABLE IF NOT EXISTS suppression_list (
	normalized_value TEXT PRIMARY KEY,
	reason           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS activation_records (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id      TEXT NOT NULL UNIQUE REFERENCES leads(id),
	actor        TEXT NOT NULL,
	override     BOOLEAN NOT NULL DEFAULT false,
	activated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_events (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_id       TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	duration_ms     BIGINT NOT NULL DEFAULT 0,
	records_added   INTEGER NOT NULL DEFAULT 0,
	records_updated INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ingest_events_source ON ingest_events(source_id, started_at DESC);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	operation  TEXT NOT NULL,
	error      TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_provider ON dead_letter_queue(provider);
`

const propertyColumns = `id, parcel_id, normalized_address, county, data, version, archived_at, created_at, updated_at`

const leadColumns = `id, property_id, status, discovery_reason, discovery_batch, discovery_score, activation_score,
	enrichment_attempted, enrichment_at, best_phone, best_phone_type, best_email, best_contact_confidence,
	activated_at, rejected_at, rejection_reason, created_at, updated_at`

const contactColumns = `id, lead_id, method, value, normalized_value, provider, confidence,
	phone_type, carrier_name, line_status, email_deliverable, email_disposable,
	validated, validated_at, is_primary, created_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Properties

func (s *PostgresStore) InsertProperty(ctx context.Context, p *model.DiscoveredProperty) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal property")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO properties (id, parcel_id, normalized_address, county, data, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ParcelID, p.NormalizedAddress, p.County, data, p.Version, now, now,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrapf(err, "postgres: insert property %s", p.NormalizedAddress)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The resolver relies on it to tell a lost create race apart
// from a real store failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(row rowScanner) (*model.DiscoveredProperty, error) {
	var (
		p          model.DiscoveredProperty
		parcelID   *string
		normalized string
		county     string
		data       []byte
		version    int64
		archivedAt *time.Time
		createdAt  time.Time
		updatedAt  time.Time
		id         string
	)
	if err := row.Scan(&id, &parcelID, &normalized, &county, &data, &version, &archivedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal property")
	}
	// Columns are authoritative over the JSON payload.
	p.ID = id
	if parcelID != nil {
		p.ParcelID = *parcelID
	}
	p.NormalizedAddress = normalized
	p.County = county
	p.Version = version
	p.ArchivedAt = archivedAt
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}

func (s *PostgresStore) getProperty(ctx context.Context, where string, arg any) (*model.DiscoveredProperty, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE `+where, arg)
	p, err := scanProperty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get property")
	}
	return p, nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*model.DiscoveredProperty, error) {
	return s.getProperty(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetPropertyByParcel(ctx context.Context, parcelID string) (*model.DiscoveredProperty, error) {
	return s.getProperty(ctx, `parcel_id = $1`, parcelID)
}

func (s *PostgresStore) GetPropertyByAddress(ctx context.Context, normalizedAddress string) (*model.DiscoveredProperty, error) {
	return s.getProperty(ctx, `normalized_address = $1`, normalizedAddress)
}

func (s *PostgresStore) UpdatePropertyCAS(ctx context.Context, p *model.DiscoveredProperty, expectedVersion int64) error {
	now := time.Now().UTC()
	p.Version = expectedVersion + 1
	p.UpdatedAt = now

	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal property")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE properties SET parcel_id = $1, county = $2, data = $3, version = version + 1, updated_at = $4
		 WHERE id = $5 AND version = $6`,
		p.ParcelID, p.County, data, now, p.ID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update property %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ArchiveProperty(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE properties SET archived_at = now(), updated_at = now() WHERE id = $1 AND archived_at IS NULL`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive property %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Source records

func (s *PostgresStore) AppendSourceRecord(ctx context.Context, rec *model.SourceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	record, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal source record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO source_records (id, property_id, source_id, source_type, quality_score, retrieved_at, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.PropertyID, rec.SourceID, string(rec.SourceType), rec.QualityScore, rec.RetrievedAt, record, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append source record for %s", rec.PropertyID)
}

func (s *PostgresStore) ListSourceRecords(ctx context.Context, propertyID string) ([]model.SourceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, record, created_at FROM source_records WHERE property_id = $1 ORDER BY retrieved_at ASC`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list source records")
	}
	defer rows.Close()

	var records []model.SourceRecord
	for rows.Next() {
		var (
			id        string
			data      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &data, &createdAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source record")
		}
		var rec model.SourceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal source record")
		}
		rec.ID = id
		rec.CreatedAt = createdAt
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list source records iterate")
}

// Permits

func (s *PostgresStore) UpsertPermit(ctx context.Context, rec *model.PermitRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	record, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal permit")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO permit_records (id, property_id, jurisdiction, permit_number, category, normalized_address, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (jurisdiction, permit_number) DO UPDATE SET
		   category = $5, normalized_address = $6, record = $7,
		   property_id = COALESCE(permit_records.property_id, $2)`,
		rec.ID, nullIfEmpty(rec.PropertyID), rec.Jurisdiction, rec.PermitNumber,
		string(rec.Category), rec.NormalizedAddress, record, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert permit %s/%s", rec.Jurisdiction, rec.PermitNumber)
}

func (s *PostgresStore) LinkPermit(ctx context.Context, permitID, propertyID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE permit_records SET property_id = $1 WHERE id = $2`,
		propertyID, permitID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: link permit %s", permitID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) listPermits(ctx context.Context, where string, args ...any) ([]model.PermitRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, property_id, normalized_address, record, created_at FROM permit_records WHERE `+where,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list permits")
	}
	defer rows.Close()

	var permits []model.PermitRecord
	for rows.Next() {
		var (
			id         string
			propertyID *string
			normalized string
			data       []byte
			createdAt  time.Time
		)
		if err := rows.Scan(&id, &propertyID, &normalized, &data, &createdAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan permit")
		}
		var rec model.PermitRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal permit")
		}
		rec.ID = id
		if propertyID != nil {
			rec.PropertyID = *propertyID
		} else {
			rec.PropertyID = ""
		}
		rec.NormalizedAddress = normalized
		rec.CreatedAt = createdAt
		permits = append(permits, rec)
	}
	return permits, eris.Wrap(rows.Err(), "postgres: list permits iterate")
}

func (s *PostgresStore) ListPermitsByProperty(ctx context.Context, propertyID string) ([]model.PermitRecord, error) {
	return s.listPermits(ctx, `property_id = $1 ORDER BY created_at ASC`, propertyID)
}

func (s *PostgresStore) ListUnlinkedPermits(ctx context.Context, limit int) ([]model.PermitRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.listPermits(ctx, `property_id IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
}

// Score breakdowns

func (s *PostgresStore) InsertBreakdown(ctx context.Context, b *model.ScoreBreakdown) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	factors, err := json.Marshal(b.Factors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal factors")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO score_breakdowns (id, lead_id, property_id, model_version, total, factors, scored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.LeadID, b.PropertyID, b.ModelVersion, b.Total, factors, b.ScoredAt,
	)
	return eris.Wrapf(err, "postgres: insert breakdown for lead %s", b.LeadID)
}

func (s *PostgresStore) LatestBreakdown(ctx context.Context, leadID string) (*model.ScoreBreakdown, error) {
	var (
		b       model.ScoreBreakdown
		factors []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, lead_id, property_id, model_version, total, factors, scored_at
		 FROM score_breakdowns WHERE lead_id = $1 ORDER BY scored_at DESC LIMIT 1`,
		leadID,
	).Scan(&b.ID, &b.LeadID, &b.PropertyID, &b.ModelVersion, &b.Total, &factors, &b.ScoredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: latest breakdown")
	}
	if err := json.Unmarshal(factors, &b.Factors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal factors")
	}
	return &b, nil
}

// Leads

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.DiscoveredLead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.Status == "" {
		lead.Status = model.StatusDiscovered
	}
	now := time.Now().UTC()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, property_id, status, discovery_reason, discovery_batch, discovery_score, activation_score,
		   enrichment_attempted, enrichment_at, best_phone, best_phone_type, best_email, best_contact_confidence,
		   activated_at, rejected_at, rejection_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		lead.ID, lead.PropertyID, string(lead.Status), lead.DiscoveryReason, lead.DiscoveryBatch,
		lead.DiscoveryScore, lead.ActivationScore, lead.EnrichmentAttempted, lead.EnrichmentAt,
		lead.BestPhone, lead.BestPhoneType, lead.BestEmail, lead.BestContactConfidence,
		lead.ActivatedAt, lead.RejectedAt, lead.RejectionReason, now, now,
	)
	return eris.Wrapf(err, "postgres: insert lead for property %s", lead.PropertyID)
}

func scanLead(row rowScanner) (*model.DiscoveredLead, error) {
	var l model.DiscoveredLead
	err := row.Scan(&l.ID, &l.PropertyID, &l.Status, &l.DiscoveryReason, &l.DiscoveryBatch,
		&l.DiscoveryScore, &l.ActivationScore, &l.EnrichmentAttempted, &l.EnrichmentAt,
		&l.BestPhone, &l.BestPhoneType, &l.BestEmail, &l.BestContactConfidence,
		&l.ActivatedAt, &l.RejectedAt, &l.RejectionReason, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.DiscoveredLead, error) {
	lead, err := scanLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return lead, nil
}

func (s *PostgresStore) GetLeadByProperty(ctx context.Context, propertyID string) (*model.DiscoveredLead, error) {
	lead, err := scanLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE property_id = $1`, propertyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead by property %s", propertyID)
	}
	return lead, nil
}

func buildLeadFilter(filter LeadFilter) (string, []any) {
	where := ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.County != "" {
		where += fmt.Sprintf(` AND property_id IN (SELECT id FROM properties WHERE county = $%d)`, argIdx)
		args = append(args, filter.County)
		argIdx++
	}
	if filter.Batch != "" {
		where += fmt.Sprintf(` AND discovery_batch = $%d`, argIdx)
		args = append(args, filter.Batch)
		argIdx++
	}
	if filter.MinScore != nil {
		where += fmt.Sprintf(` AND activation_score >= $%d`, argIdx)
		args = append(args, *filter.MinScore)
		argIdx++
	}
	if filter.MaxScore != nil {
		where += fmt.Sprintf(` AND activation_score <= $%d`, argIdx)
		args = append(args, *filter.MaxScore)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, statuses)
		argIdx++
	}
	if filter.HasPermit != nil {
		if *filter.HasPermit {
			where += ` AND EXISTS (SELECT 1 FROM permit_records pr WHERE pr.property_id = leads.property_id)`
		} else {
			where += ` AND NOT EXISTS (SELECT 1 FROM permit_records pr WHERE pr.property_id = leads.property_id)`
		}
	}
	if filter.EnrichmentAttempted != nil {
		where += fmt.Sprintf(` AND enrichment_attempted = $%d`, argIdx)
		args = append(args, *filter.EnrichmentAttempted)
		argIdx++
	}
	return where, args
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.DiscoveredLead, int, error) {
	where, args := buildLeadFilter(filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count leads")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	argIdx := len(args) + 1
	query := `SELECT ` + leadColumns + ` FROM leads` + where +
		fmt.Sprintf(` ORDER BY activation_score DESC NULLS LAST, created_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.DiscoveredLead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, total, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) TransitionLead(ctx context.Context, id string, from []model.LeadStatus, to model.LeadStatus) error {
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(to), time.Now().UTC(), id, statuses,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition lead %s to %s", id, to)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, id).Scan(&exists); err != nil {
			return eris.Wrapf(err, "postgres: transition lead %s", id)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) UpdateLeadScore(ctx context.Context, id string, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET discovery_score = COALESCE(discovery_score, $1), activation_score = $1, updated_at = $2 WHERE id = $3`,
		score, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead score %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkEnrichmentAttempted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET enrichment_attempted = true, enrichment_at = $1, updated_at = $2 WHERE id = $3`,
		at, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark enrichment %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetBestContact(ctx context.Context, id, phone, phoneType, email string, confidence *float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET best_phone = $1, best_phone_type = $2, best_email = $3, best_contact_confidence = $4, updated_at = $5 WHERE id = $6`,
		phone, phoneType, email, confidence, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set best contact %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRejection(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, rejection_reason = $2, rejected_at = $3, updated_at = $4 WHERE id = $5`,
		string(model.StatusRejected), reason, at, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reject lead %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Contact candidates

func (s *PostgresStore) ReplaceContacts(ctx context.Context, leadID string, candidates []model.ContactCandidate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace contacts")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM contact_candidates WHERE lead_id = $1`, leadID); err != nil {
		return eris.Wrapf(err, "postgres: clear contacts %s", leadID)
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
		_, err := tx.Exec(ctx,
			`INSERT INTO contact_candidates (`+contactColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			c.ID, c.LeadID, string(c.Method), c.Value, c.NormalizedValue, c.Provider, c.Confidence,
			c.PhoneType, c.CarrierName, c.LineStatus, c.EmailDeliverable, c.EmailDisposable,
			c.Validated, c.ValidatedAt, c.IsPrimary, c.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert contact %s", c.NormalizedValue)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace contacts")
}

func (s *PostgresStore) ListContacts(ctx context.Context, leadID string) ([]model.ContactCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM contact_candidates WHERE lead_id = $1
		 ORDER BY is_primary DESC, confidence DESC, created_at ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var contacts []model.ContactCandidate
	for rows.Next() {
		var c model.ContactCandidate
		if err := rows.Scan(&c.ID, &c.LeadID, &c.Method, &c.Value, &c.NormalizedValue, &c.Provider, &c.Confidence,
			&c.PhoneType, &c.CarrierName, &c.LineStatus, &c.EmailDeliverable, &c.EmailDisposable,
			&c.Validated, &c.ValidatedAt, &c.IsPrimary, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

// Consent and suppression

func (s *PostgresStore) AppendConsent(ctx context.Context, entry *model.ConsentEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consent_log (id, lead_id, consent_type, status, channel, evidence_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.LeadID, entry.ConsentType, string(entry.Status), entry.Channel, entry.EvidenceType, entry.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append consent for %s", entry.LeadID)
}

// LatestConsent returns the most recent entry per consent type.
func (s *PostgresStore) LatestConsent(ctx context.Context, leadID string) ([]model.ConsentEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (consent_type) id, lead_id, consent_type, status, channel, evidence_type, created_at
		 FROM consent_log WHERE lead_id = $1 ORDER BY consent_type, created_at DESC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest consent")
	}
	defer rows.Close()

	var entries []model.ConsentEntry
	for rows.Next() {
		var e model.ConsentEntry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.ConsentType, &e.Status, &e.Channel, &e.EvidenceType, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan consent")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: latest consent iterate")
}

func (s *PostgresStore) AddSuppression(ctx context.Context, normalizedValue, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO suppression_list (normalized_value, reason, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (normalized_value) DO UPDATE SET reason = $2`,
		normalizedValue, reason, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: add suppression")
}

// BulkAddSuppressions loads a batch of normalized values into the
// suppression list in one round trip. Values already present keep
// their row but pick up the new reason.
func (s *PostgresStore) BulkAddSuppressions(ctx context.Context, normalizedValues []string, reason string) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(normalizedValues))
	seen := make(map[string]bool, len(normalizedValues))
	for _, v := range normalizedValues {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		rows = append(rows, []any{v, reason, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "suppression_list",
		Columns:      []string{"normalized_value", "reason", "created_at"},
		ConflictKeys: []string{"normalized_value"},
		UpdateCols:   []string{"reason"},
	}, rows)
	return int(n), eris.Wrap(err, "postgres: bulk add suppressions")
}

func (s *PostgresStore) SuppressionContains(ctx context.Context, normalizedValue string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppression_list WHERE normalized_value = $1)`,
		normalizedValue,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: check suppression")
}

// Activation records

func (s *PostgresStore) CreateActivation(ctx context.Context, rec *model.ActivationRecord) (*model.ActivationRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO activation_records (id, lead_id, actor, override, activated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (lead_id) DO NOTHING`,
		rec.ID, rec.LeadID, rec.Actor, rec.Override, rec.ActivatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create activation for %s", rec.LeadID)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race or already activated; return the existing record.
		return s.GetActivation(ctx, rec.LeadID)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE leads SET activated_at = $1, updated_at = $2 WHERE id = $3`,
		rec.ActivatedAt, time.Now().UTC(), rec.LeadID,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: stamp lead activation %s", rec.LeadID)
	}
	return rec, nil
}

func (s *PostgresStore) GetActivation(ctx context.Context, leadID string) (*model.ActivationRecord, error) {
	var rec model.ActivationRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, lead_id, actor, override, activated_at FROM activation_records WHERE lead_id = $1`,
		leadID,
	).Scan(&rec.ID, &rec.LeadID, &rec.Actor, &rec.Override, &rec.ActivatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get activation %s", leadID)
	}
	return &rec, nil
}

// Source health

func (s *PostgresStore) RecordIngest(ctx context.Context, event *IngestEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_events (id, source_id, started_at, duration_ms, records_added, records_updated, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.SourceID, event.StartedAt, event.DurationMS, event.RecordsAdded, event.RecordsUpdated, event.Error,
	)
	return eris.Wrapf(err, "postgres: record ingest for %s", event.SourceID)
}

func (s *PostgresStore) ListIngestEvents(ctx context.Context, sourceID string, since time.Time) ([]IngestEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, started_at, duration_ms, records_added, records_updated, error
		 FROM ingest_events WHERE source_id = $1 AND started_at >= $2 ORDER BY started_at DESC`,
		sourceID, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingest events")
	}
	defer rows.Close()

	var events []IngestEvent
	for rows.Next() {
		var e IngestEvent
		if err := rows.Scan(&e.ID, &e.SourceID, &e.StartedAt, &e.DurationMS, &e.RecordsAdded, &e.RecordsUpdated, &e.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingest event")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list ingest events iterate")
}

// Dead letter queue

func (s *PostgresStore) AddDLQ(ctx context.Context, entry *DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue (id, lead_id, provider, operation, error, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.LeadID, entry.Provider, entry.Operation, entry.Error, entry.Attempts, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: add dlq entry")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
