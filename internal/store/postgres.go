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

	"github.com/serveroute/serveroute/internal/db"
	"github.com/serveroute/serveroute/internal/model"
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

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
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

// NewPostgresWithPool wraps an existing pool. The caller owns its lifetime.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS addresses (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id     TEXT NOT NULL,
	route_id       TEXT NOT NULL DEFAULT '',
	street         TEXT NOT NULL,
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	zip            TEXT NOT NULL DEFAULT '',
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	normalized_key TEXT NOT NULL DEFAULT '',
	has_dcn        BOOLEAN NOT NULL DEFAULT false,
	dcn_id         TEXT,
	attempts_count INTEGER NOT NULL DEFAULT 0,
	serve_type     TEXT NOT NULL DEFAULT 'serve',
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_addresses_route_key ON addresses(company_id, route_id, normalized_key);
CREATE INDEX IF NOT EXISTS idx_addresses_unlinked ON addresses(company_id) WHERE NOT has_dcn;

CREATE TABLE IF NOT EXISTS dcn_upload_batches (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	uploaded_by       TEXT NOT NULL,
	filename          TEXT NOT NULL,
	total_rows        INTEGER NOT NULL DEFAULT 0,
	valid_rows        INTEGER NOT NULL DEFAULT 0,
	invalid_rows      INTEGER NOT NULL DEFAULT 0,
	auto_matched      INTEGER NOT NULL DEFAULT 0,
	pending_review    INTEGER NOT NULL DEFAULT 0,
	unmatched         INTEGER NOT NULL DEFAULT 0,
	validation_errors JSONB NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'processing',
	error_message     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_dcn_batches_company ON dcn_upload_batches(company_id, created_at DESC);

CREATE TABLE IF NOT EXISTS dcn_records (
	id                   TEXT PRIMARY KEY,
	company_id           TEXT NOT NULL,
	dcn                  TEXT NOT NULL,
	raw_address          TEXT NOT NULL,
	city                 TEXT NOT NULL DEFAULT '',
	normalized_key       TEXT NOT NULL DEFAULT '',
	address_id           TEXT REFERENCES addresses(id),
	suggested_address_id TEXT REFERENCES addresses(id),
	match_status         TEXT NOT NULL,
	match_confidence     DOUBLE PRECISION,
	match_type           TEXT,
	upload_batch_id      TEXT NOT NULL REFERENCES dcn_upload_batches(id),
	source_row_number    INTEGER NOT NULL,
	metadata             JSONB NOT NULL DEFAULT '{}',
	reviewed_by          TEXT,
	reviewed_at          TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, dcn)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dcn_records_address ON dcn_records(address_id) WHERE address_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_dcn_records_status ON dcn_records(company_id, match_status);
CREATE INDEX IF NOT EXISTS idx_dcn_records_batch ON dcn_records(upload_batch_id);

CREATE TABLE IF NOT EXISTS attempts (
	id               TEXT PRIMARY KEY,
	address_id       TEXT NOT NULL REFERENCES addresses(id),
	company_id       TEXT NOT NULL,
	worker_id        TEXT NOT NULL,
	attempt_number   INTEGER NOT NULL,
	status           TEXT NOT NULL,
	attempt_time     TIMESTAMPTZ NOT NULL,
	attempt_timezone TEXT NOT NULL,
	qualifier        TEXT NOT NULL DEFAULT '',
	qualifier_badges JSONB NOT NULL DEFAULT '[]',
	is_outside_hours BOOLEAN NOT NULL DEFAULT false,
	outcome          TEXT,
	photo_urls       JSONB NOT NULL DEFAULT '[]',
	notes            TEXT NOT NULL DEFAULT '',
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	distance_feet    DOUBLE PRECISION,
	manually_edited  BOOLEAN NOT NULL DEFAULT false,
	completed_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (address_id, attempt_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_in_progress ON attempts(address_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS audit_log (
	id            TEXT PRIMARY KEY,
	company_id    TEXT NOT NULL,
	actor_id      TEXT NOT NULL,
	actor_role    TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	action        TEXT NOT NULL,
	before_status TEXT NOT NULL DEFAULT '',
	after_status  TEXT NOT NULL DEFAULT '',
	details       JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(company_id, entity_type, entity_id, created_at);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Addresses ---

// UpsertAddresses bulk-loads addresses; rows already present for the same
// route and normalized key are left untouched.
func (s *PostgresStore) UpsertAddresses(ctx context.Context, addrs []model.Address) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(addrs))
	for i := range addrs {
		a := &addrs[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		rows = append(rows, []any{
			a.ID, a.CompanyID, a.RouteID, a.Street, a.City, a.State, a.Zip,
			a.Latitude, a.Longitude, a.NormalizedKey, string(a.ServeType), string(a.Status), now, now,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "addresses",
		Columns: []string{
			"id", "company_id", "route_id", "street", "city", "state", "zip",
			"latitude", "longitude", "normalized_key", "serve_type", "status", "created_at", "updated_at",
		},
		ConflictKeys: []string{"company_id", "route_id", "normalized_key"},
		DoNothing:    true,
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert addresses")
}

// GetAddress fetches one company address.
func (s *PostgresStore) GetAddress(ctx context.Context, companyID, id string) (*model.Address, error) {
	a, err := scanAddress(s.pool.QueryRow(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE company_id = $1 AND id = $2`,
		companyID, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, &model.NotFoundError{Entity: "address", ID: id}
		}
		return nil, eris.Wrapf(err, "postgres: get address %s", id)
	}
	return a, nil
}

// ListAddresses returns company addresses ordered by creation time.
func (s *PostgresStore) ListAddresses(ctx context.Context, filter AddressFilter) ([]model.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE company_id = $1`
	args := []any{filter.CompanyID}
	argIdx := 2

	if filter.RouteID != "" {
		query += fmt.Sprintf(` AND route_id = $%d`, argIdx)
		args = append(args, filter.RouteID)
		argIdx++
	}
	if filter.UnlinkedOnly {
		query += ` AND NOT has_dcn`
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, argIdx)
	args = append(args, listLimitOr(filter.Limit, 0))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list addresses")
	}
	defer rows.Close()

	var out []model.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan address")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list addresses iterate")
}

// --- DCN records ---

// ListDCNValues returns every DCN already stored for the company.
func (s *PostgresStore) ListDCNValues(ctx context.Context, companyID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT dcn FROM dcn_records WHERE company_id = $1`, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dcn values")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dcn value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list dcn values iterate")
}

// CreateDCNRecord inserts rec and, for auto matches, links the address.
func (s *PostgresStore) CreateDCNRecord(ctx context.Context, rec *model.DCNRecord, audit *model.AuditEntry) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dcn metadata")
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if rec.MatchStatus == model.MatchAutoMatched && rec.AddressID != nil {
			if err := pgClaimAddress(ctx, tx, rec.CompanyID, *rec.AddressID, rec.ID, now); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO dcn_records (`+dcnColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			rec.ID, rec.CompanyID, rec.DCN, rec.RawAddress, rec.City, rec.NormalizedKey,
			rec.AddressID, rec.SuggestedAddressID, string(rec.MatchStatus), rec.MatchConfidence,
			matchTypeValue(rec.MatchType), rec.UploadBatchID, rec.SourceRowNumber, metadata,
			rec.ReviewedBy, rec.ReviewedAt, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &model.ConflictError{Entity: "dcn_record", ID: rec.DCN, Message: "duplicate DCN"}
			}
			return eris.Wrapf(err, "postgres: insert dcn record %s", rec.DCN)
		}

		if audit != nil {
			audit.EntityID = rec.ID
			return pgInsertAudit(ctx, tx, audit)
		}
		return nil
	})
}

// GetDCNRecord fetches one company DCN record.
func (s *PostgresStore) GetDCNRecord(ctx context.Context, companyID, id string) (*model.DCNRecord, error) {
	r, err := scanDCNRecord(s.pool.QueryRow(ctx,
		`SELECT `+dcnColumns+` FROM dcn_records WHERE company_id = $1 AND id = $2`,
		companyID, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, &model.NotFoundError{Entity: "dcn_record", ID: id}
		}
		return nil, eris.Wrapf(err, "postgres: get dcn record %s", id)
	}
	return r, nil
}

// ListDCNRecords returns records in upload order.
func (s *PostgresStore) ListDCNRecords(ctx context.Context, filter DCNFilter) ([]model.DCNRecord, error) {
	query := `SELECT ` + dcnColumns + ` FROM dcn_records WHERE company_id = $1`
	args := []any{filter.CompanyID}
	argIdx := 2

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += fmt.Sprintf(` AND match_status = ANY($%d)`, argIdx)
		args = append(args, statuses)
		argIdx++
	}
	if filter.UploadBatchID != "" {
		query += fmt.Sprintf(` AND upload_batch_id = $%d`, argIdx)
		args = append(args, filter.UploadBatchID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at, source_row_number LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dcn records")
	}
	defer rows.Close()

	var out []model.DCNRecord
	for rows.Next() {
		r, err := scanDCNRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dcn record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list dcn records iterate")
}

// ApplyReview performs a confirm or reject transition. Confirm locks the
// record and the target address, refuses an address linked to a different
// DCN, and writes both sides of the link with the audit entry.
func (s *PostgresStore) ApplyReview(ctx context.Context, upd ReviewUpdate) (*model.DCNRecord, error) {
	var out *model.DCNRecord
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		rec, err := scanDCNRecord(tx.QueryRow(ctx,
			`SELECT `+dcnColumns+` FROM dcn_records WHERE company_id = $1 AND id = $2 FOR UPDATE`,
			upd.CompanyID, upd.RecordID,
		))
		if err != nil {
			if isNoRows(err) {
				return &model.NotFoundError{Entity: "dcn_record", ID: upd.RecordID}
			}
			return eris.Wrapf(err, "postgres: lock dcn record %s", upd.RecordID)
		}
		if rec.MatchStatus != upd.From {
			return &model.ConflictError{Entity: "dcn_record", ID: rec.ID,
				Message: fmt.Sprintf("status changed to %s", rec.MatchStatus)}
		}

		switch upd.To {
		case model.MatchManuallyMatched:
			if err := pgClaimAddress(ctx, tx, upd.CompanyID, upd.AddressID, rec.ID, upd.ReviewedAt); err != nil {
				return err
			}
			_, err = tx.Exec(ctx,
				`UPDATE dcn_records SET address_id = $1, match_status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
				 WHERE id = $5`,
				upd.AddressID, string(upd.To), upd.ReviewedBy, upd.ReviewedAt, rec.ID,
			)
		case model.MatchRejected:
			_, err = tx.Exec(ctx,
				`UPDATE dcn_records SET address_id = NULL, suggested_address_id = NULL, match_status = $1,
				 reviewed_by = $2, reviewed_at = $3, updated_at = $3 WHERE id = $4`,
				string(upd.To), upd.ReviewedBy, upd.ReviewedAt, rec.ID,
			)
		default:
			return model.NewValidationError("match_status", "unsupported review target "+string(upd.To))
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: update dcn record %s", rec.ID)
		}

		if upd.Audit != nil {
			if err := pgInsertAudit(ctx, tx, upd.Audit); err != nil {
				return err
			}
		}

		out, err = scanDCNRecord(tx.QueryRow(ctx,
			`SELECT `+dcnColumns+` FROM dcn_records WHERE id = $1`, rec.ID))
		return eris.Wrapf(err, "postgres: reload dcn record %s", rec.ID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// pgClaimAddress links addressID to recordID inside tx.
func pgClaimAddress(ctx context.Context, tx pgx.Tx, companyID, addressID, recordID string, now time.Time) error {
	addr, err := scanAddress(tx.QueryRow(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE company_id = $1 AND id = $2 FOR UPDATE`,
		companyID, addressID,
	))
	if err != nil {
		if isNoRows(err) {
			return &model.NotFoundError{Entity: "address", ID: addressID}
		}
		return eris.Wrapf(err, "postgres: lock address %s", addressID)
	}
	if addr.LinkedElsewhere(recordID) {
		return &model.ConflictError{Entity: "address", ID: addressID, Message: "already linked to another DCN"}
	}
	_, err = tx.Exec(ctx,
		`UPDATE addresses SET has_dcn = true, dcn_id = $1, updated_at = $2 WHERE id = $3`,
		recordID, now, addressID,
	)
	return eris.Wrapf(err, "postgres: link address %s", addressID)
}

// --- Upload batches ---

// CreateBatch inserts a processing batch.
func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.DCNUploadBatch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.Status = model.BatchProcessing
	b.CreatedAt = time.Now().UTC()

	errs, err := batchErrorsJSON(b)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dcn_upload_batches (id, company_id, uploaded_by, filename, validation_errors, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.CompanyID, b.UploadedBy, b.Filename, errs, string(b.Status), b.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert batch")
}

// CompleteBatch writes the final outcome of a processing batch.
func (s *PostgresStore) CompleteBatch(ctx context.Context, b *model.DCNUploadBatch) error {
	errs, err := batchErrorsJSON(b)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE dcn_upload_batches SET total_rows = $1, valid_rows = $2, invalid_rows = $3, auto_matched = $4,
		 pending_review = $5, unmatched = $6, validation_errors = $7, status = $8, error_message = $9, completed_at = $10
		 WHERE id = $11 AND company_id = $12 AND status = 'processing'`,
		b.TotalRows, b.ValidRows, b.InvalidRows, b.AutoMatched, b.PendingReview, b.Unmatched,
		errs, string(b.Status), b.ErrorMessage, b.CompletedAt, b.ID, b.CompanyID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete batch %s", b.ID)
	}
	if tag.RowsAffected() == 0 {
		return &model.ConflictError{Entity: "dcn_upload_batch", ID: b.ID, Message: "batch is not processing"}
	}
	return nil
}

// GetBatch fetches one company batch.
func (s *PostgresStore) GetBatch(ctx context.Context, companyID, id string) (*model.DCNUploadBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM dcn_upload_batches WHERE company_id = $1 AND id = $2`,
		companyID, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, &model.NotFoundError{Entity: "dcn_upload_batch", ID: id}
		}
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}
	return b, nil
}

// ListBatches returns company batches, newest first.
func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.DCNUploadBatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM dcn_upload_batches WHERE company_id = $1 ORDER BY created_at DESC LIMIT $2`,
		filter.CompanyID, listLimit(filter.Limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []model.DCNUploadBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

// --- Attempts ---

// GetInProgressAttempt returns the open attempt for an address, or nil.
func (s *PostgresStore) GetInProgressAttempt(ctx context.Context, companyID, addressID string) (*model.Attempt, error) {
	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE company_id = $1 AND address_id = $2 AND status = 'in_progress'`,
		companyID, addressID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get in-progress attempt %s", addressID)
	}
	return a, nil
}

// CountAttempts counts attempts of any status for an address.
func (s *PostgresStore) CountAttempts(ctx context.Context, companyID, addressID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM attempts WHERE company_id = $1 AND address_id = $2`,
		companyID, addressID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count attempts %s", addressID)
}

// ListAttempts returns attempts for an address in attempt order.
func (s *PostgresStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE company_id = $1 AND address_id = $2`
	args := []any{filter.CompanyID, filter.AddressID}
	if filter.Status != model.AttemptNone {
		query += ` AND status = $3`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY attempt_number`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attempts")
	}
	defer rows.Close()

	var out []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan attempt")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list attempts iterate")
}

// CreateAttempt inserts an in-progress attempt.
func (s *PostgresStore) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	err := pgInsertAttempt(ctx, s.pool, a)
	if err != nil && isUniqueViolation(err) {
		return &model.ConflictError{Entity: "attempt", ID: a.AddressID, Message: "attempt already in progress"}
	}
	return err
}

// ExtendAttempt stores the appended photos and notes of an open attempt.
func (s *PostgresStore) ExtendAttempt(ctx context.Context, a *model.Attempt) error {
	_, photos, err := attemptJSON(a)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE attempts SET photo_urls = $1, notes = $2, updated_at = $3
		 WHERE id = $4 AND company_id = $5 AND status = 'in_progress'`,
		photos, a.Notes, a.UpdatedAt, a.ID, a.CompanyID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: extend attempt %s", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return &model.ConflictError{Entity: "attempt", ID: a.ID, Message: "attempt is no longer in progress"}
	}
	return nil
}

// FinalizeAttempt completes an open attempt and bumps the address counters.
func (s *PostgresStore) FinalizeAttempt(ctx context.Context, a *model.Attempt) error {
	_, photos, err := attemptJSON(a)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	a.UpdatedAt = now

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE attempts SET status = 'completed', outcome = $1, notes = $2, photo_urls = $3,
			 completed_at = $4, updated_at = $5
			 WHERE id = $6 AND company_id = $7 AND status = 'in_progress'`,
			outcomeValue(a.Outcome), a.Notes, photos, a.CompletedAt, now, a.ID, a.CompanyID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: finalize attempt %s", a.ID)
		}
		if tag.RowsAffected() == 0 {
			return &model.ConflictError{Entity: "attempt", ID: a.ID, Message: "attempt is no longer in progress"}
		}
		return pgBumpAttempts(ctx, tx, a.AddressID, now)
	})
}

// InsertCompletedAttempt records a supervisor-entered attempt.
func (s *PostgresStore) InsertCompletedAttempt(ctx context.Context, a *model.Attempt, audit *model.AuditEntry) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var open int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM attempts WHERE address_id = $1 AND status = 'in_progress'`, a.AddressID,
		).Scan(&open); err != nil {
			return eris.Wrapf(err, "postgres: check open attempts %s", a.AddressID)
		}
		if open > 0 {
			return &model.ConflictError{Entity: "attempt", ID: a.AddressID, Message: "attempt already in progress"}
		}

		if err := pgInsertAttempt(ctx, tx, a); err != nil {
			if isUniqueViolation(err) {
				return &model.ConflictError{Entity: "attempt", ID: a.AddressID, Message: "attempt number already taken"}
			}
			return err
		}
		if err := pgBumpAttempts(ctx, tx, a.AddressID, a.UpdatedAt); err != nil {
			return err
		}
		if audit != nil {
			audit.EntityID = a.ID
			return pgInsertAudit(ctx, tx, audit)
		}
		return nil
	})
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func pgInsertAttempt(ctx context.Context, ex pgExecer, a *model.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	badges, photos, err := attemptJSON(a)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx,
		`INSERT INTO attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		a.ID, a.AddressID, a.CompanyID, a.WorkerID, a.AttemptNumber, string(a.Status), a.AttemptTime,
		a.AttemptTimezone, a.Qualifier, badges, a.IsOutsideHours, outcomeValue(a.Outcome), photos, a.Notes,
		a.Latitude, a.Longitude, a.DistanceFeet, a.ManuallyEdited, a.CompletedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil && !isUniqueViolation(err) {
		return eris.Wrapf(err, "postgres: insert attempt for %s", a.AddressID)
	}
	return err
}

func pgBumpAttempts(ctx context.Context, tx pgx.Tx, addressID string, now time.Time) error {
	tag, err := tx.Exec(ctx,
		`UPDATE addresses SET attempts_count = attempts_count + 1,
		 status = CASE WHEN status = 'pending' THEN 'attempted' ELSE status END,
		 updated_at = $1 WHERE id = $2`,
		now, addressID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: bump attempts %s", addressID)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Entity: "address", ID: addressID}
	}
	return nil
}

// --- Audit ---

// ListAudit returns the audit trail for one entity, oldest first.
func (s *PostgresStore) ListAudit(ctx context.Context, companyID, entityType, entityID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE company_id = $1 AND entity_type = $2 AND entity_id = $3 ORDER BY created_at, id`,
		companyID, entityType, entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func pgInsertAudit(ctx context.Context, tx pgx.Tx, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var details []byte
	if len(e.Details) > 0 {
		details = []byte(e.Details)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_log (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.CompanyID, e.ActorID, string(e.ActorRole), e.EntityType, e.EntityID, e.Action,
		e.BeforeStatus, e.AfterStatus, details, e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert audit %s %s", e.EntityType, e.Action)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func listLimitOr(n, fallback int) int {
	if n > 0 {
		return n
	}
	if fallback > 0 {
		return fallback
	}
	return 10000
}
