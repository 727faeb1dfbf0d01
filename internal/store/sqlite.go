package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/serveroute/serveroute/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writers are serialized on a single connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS addresses (
	id             TEXT PRIMARY KEY,
	company_id     TEXT NOT NULL,
	route_id       TEXT NOT NULL DEFAULT '',
	street         TEXT NOT NULL,
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	zip            TEXT NOT NULL DEFAULT '',
	latitude       REAL,
	longitude      REAL,
	normalized_key TEXT NOT NULL DEFAULT '',
	has_dcn        INTEGER NOT NULL DEFAULT 0,
	dcn_id         TEXT,
	attempts_count INTEGER NOT NULL DEFAULT 0,
	serve_type     TEXT NOT NULL DEFAULT 'serve',
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_addresses_route_key ON addresses(company_id, route_id, normalized_key);

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
	validation_errors TEXT NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'processing',
	error_message     TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at      DATETIME
);

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
	match_confidence     REAL,
	match_type           TEXT,
	upload_batch_id      TEXT NOT NULL REFERENCES dcn_upload_batches(id),
	source_row_number    INTEGER NOT NULL,
	metadata             TEXT NOT NULL DEFAULT '{}',
	reviewed_by          TEXT,
	reviewed_at          DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, dcn)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dcn_records_address ON dcn_records(address_id) WHERE address_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_dcn_records_status ON dcn_records(company_id, match_status);

CREATE TABLE IF NOT EXISTS attempts (
	id               TEXT PRIMARY KEY,
	address_id       TEXT NOT NULL REFERENCES addresses(id),
	company_id       TEXT NOT NULL,
	worker_id        TEXT NOT NULL,
	attempt_number   INTEGER NOT NULL,
	status           TEXT NOT NULL,
	attempt_time     DATETIME NOT NULL,
	attempt_timezone TEXT NOT NULL,
	qualifier        TEXT NOT NULL DEFAULT '',
	qualifier_badges TEXT NOT NULL DEFAULT '[]',
	is_outside_hours INTEGER NOT NULL DEFAULT 0,
	outcome          TEXT,
	photo_urls       TEXT NOT NULL DEFAULT '[]',
	notes            TEXT NOT NULL DEFAULT '',
	latitude         REAL,
	longitude        REAL,
	distance_feet    REAL,
	manually_edited  INTEGER NOT NULL DEFAULT 0,
	completed_at     DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
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
	details       TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(company_id, entity_type, entity_id);
`

// Ping checks connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Addresses ---

func (s *SQLiteStore) UpsertAddresses(ctx context.Context, addrs []model.Address) (int64, error) {
	if len(addrs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	var inserted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO addresses (id, company_id, route_id, street, city, state, zip, latitude, longitude,
			 normalized_key, serve_type, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, route_id, normalized_key) DO NOTHING`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare address insert")
		}
		defer stmt.Close() //nolint:errcheck

		for i := range addrs {
			a := &addrs[i]
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			res, err := stmt.ExecContext(ctx,
				a.ID, a.CompanyID, a.RouteID, a.Street, a.City, a.State, a.Zip, a.Latitude, a.Longitude,
				a.NormalizedKey, string(a.ServeType), string(a.Status), now, now,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert address %s", a.Street)
			}
			n, _ := res.RowsAffected()
			inserted += n
		}
		return nil
	})
	return inserted, err
}

func (s *SQLiteStore) GetAddress(ctx context.Context, companyID, id string) (*model.Address, error) {
	a, err := scanAddress(s.db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE company_id = ? AND id = ?`,
		companyID, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, &model.NotFoundError{Entity: "address", ID: id}
		}
		return nil, eris.Wrapf(err, "sqlite: get address %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListAddresses(ctx context.Context, filter AddressFilter) ([]model.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE company_id = ?`
	args := []any{filter.CompanyID}
	if filter.RouteID != "" {
		query += ` AND route_id = ?`
		args = append(args, filter.RouteID)
	}
	if filter.UnlinkedOnly {
		query += ` AND has_dcn = 0`
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, listLimitOr(filter.Limit, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list addresses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan address")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list addresses iterate")
}

// --- DCN records ---

func (s *SQLiteStore) ListDCNValues(ctx context.Context, companyID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dcn FROM dcn_records WHERE company_id = ?`, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dcn values")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dcn value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dcn values iterate")
}

func (s *SQLiteStore) CreateDCNRecord(ctx context.Context, rec *model.DCNRecord, audit *model.AuditEntry) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dcn metadata")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if rec.MatchStatus == model.MatchAutoMatched && rec.AddressID != nil {
			if err := sqliteClaimAddress(ctx, tx, rec.CompanyID, *rec.AddressID, rec.ID, now); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO dcn_records (`+dcnColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.CompanyID, rec.DCN, rec.RawAddress, rec.City, rec.NormalizedKey,
			rec.AddressID, rec.SuggestedAddressID, string(rec.MatchStatus), rec.MatchConfidence,
			matchTypeValue(rec.MatchType), rec.UploadBatchID, rec.SourceRowNumber, string(metadata),
			rec.ReviewedBy, rec.ReviewedAt, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			if isSQLiteConstraint(err) {
				return &model.ConflictError{Entity: "dcn_record", ID: rec.DCN, Message: "duplicate DCN"}
			}
			return eris.Wrapf(err, "sqlite: insert dcn record %s", rec.DCN)
		}

		if audit != nil {
			audit.EntityID = rec.ID
			return sqliteInsertAudit(ctx, tx, audit)
		}
		return nil
	})
}

func (s *SQLiteStore) GetDCNRecord(ctx context.Context, companyID, id string) (*model.DCNRecord, error) {
	r, err := scanDCNRecord(s.db.QueryRowContext(ctx,
		`SELECT `+dcnColumns+` FROM dcn_records WHERE company_id = ? AND id = ?`,
		companyID, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, &model.NotFoundError{Entity: "dcn_record", ID: id}
		}
		return nil, eris.Wrapf(err, "sqlite: get dcn record %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListDCNRecords(ctx context.Context, filter DCNFilter) ([]model.DCNRecord, error) {
	query := `SELECT ` + dcnColumns + ` FROM dcn_records WHERE company_id = ?`
	args := []any{filter.CompanyID}

	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += fmt.Sprintf(` AND match_status IN (%s)`, strings.Join(marks, ", "))
	}
	if filter.UploadBatchID != "" {
		query += ` AND upload_batch_id = ?`
		args = append(args, filter.UploadBatchID)
	}
	query += ` ORDER BY created_at, source_row_number LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dcn records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DCNRecord
	for rows.Next() {
		r, err := scanDCNRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dcn record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dcn records iterate")
}

func (s *SQLiteStore) ApplyReview(ctx context.Context, upd ReviewUpdate) (*model.DCNRecord, error) {
	var out *model.DCNRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := scanDCNRecord(tx.QueryRowContext(ctx,
			`SELECT `+dcnColumns+` FROM dcn_records WHERE company_id = ? AND id = ?`,
			upd.CompanyID, upd.RecordID,
		))
		if err != nil {
			if isNoRows(err) {
				return &model.NotFoundError{Entity: "dcn_record", ID: upd.RecordID}
			}
			return eris.Wrapf(err, "sqlite: load dcn record %s", upd.RecordID)
		}
		if rec.MatchStatus != upd.From {
			return &model.ConflictError{Entity: "dcn_record", ID: rec.ID,
				Message: fmt.Sprintf("status changed to %s", rec.MatchStatus)}
		}

		switch upd.To {
		case model.MatchManuallyMatched:
			if err := sqliteClaimAddress(ctx, tx, upd.CompanyID, upd.AddressID, rec.ID, upd.ReviewedAt); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE dcn_records SET address_id = ?, match_status = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
				 WHERE id = ?`,
				upd.AddressID, string(upd.To), upd.ReviewedBy, upd.ReviewedAt, upd.ReviewedAt, rec.ID,
			)
		case model.MatchRejected:
			_, err = tx.ExecContext(ctx,
				`UPDATE dcn_records SET address_id = NULL, suggested_address_id = NULL, match_status = ?,
				 reviewed_by = ?, reviewed_at = ?, updated_at = ? WHERE id = ?`,
				string(upd.To), upd.ReviewedBy, upd.ReviewedAt, upd.ReviewedAt, rec.ID,
			)
		default:
			return model.NewValidationError("match_status", "unsupported review target "+string(upd.To))
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: update dcn record %s", rec.ID)
		}

		if upd.Audit != nil {
			if err := sqliteInsertAudit(ctx, tx, upd.Audit); err != nil {
				return err
			}
		}

		out, err = scanDCNRecord(tx.QueryRowContext(ctx,
			`SELECT `+dcnColumns+` FROM dcn_records WHERE id = ?`, rec.ID))
		return eris.Wrapf(err, "sqlite: reload dcn record %s", rec.ID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sqliteClaimAddress(ctx context.Context, tx *sql.Tx, companyID, addressID, recordID string, now time.Time) error {
	addr, err := scanAddress(tx.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE company_id = ? AND id = ?`,
		companyID, addressID,
	))
	if err != nil {
		if isNoRows(err) {
			return &model.NotFoundError{Entity: "address", ID: addressID}
		}
		return eris.Wrapf(err, "sqlite: load address %s", addressID)
	}
	if addr.LinkedElsewhere(recordID) {
		return &model.ConflictError{Entity: "address", ID: addressID, Message: "already linked to another DCN"}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE addresses SET has_dcn = 1, dcn_id = ?, updated_at = ? WHERE id = ?`,
		recordID, now, addressID,
	)
	return eris.Wrapf(err, "sqlite: link address %s", addressID)
}

// --- Upload batches ---

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.DCNUploadBatch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.Status = model.BatchProcessing
	b.CreatedAt = time.Now().UTC()

	errs, err := batchErrorsJSON(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dcn_upload_batches (id, company_id, uploaded_by, filename, validation_errors, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.CompanyID, b.UploadedBy, b.Filename, string(errs), string(b.Status), b.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert batch")
}

func (s *SQLiteStore) CompleteBatch(ctx context.Context, b *model.DCNUploadBatch) error {
	errs, err := batchErrorsJSON(b)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dcn_upload_batches SET total_rows = ?, valid_rows = ?, invalid_rows = ?, auto_matched = ?,
		 pending_review = ?, unmatched = ?, validation_errors = ?, status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND company_id = ? AND status = 'processing'`,
		b.TotalRows, b.ValidRows, b.InvalidRows, b.AutoMatched, b.PendingReview, b.Unmatched,
		string(errs), string(b.Status), b.ErrorMessage, b.CompletedAt, b.ID, b.CompanyID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete batch %s", b.ID)
	}
	return checkRowsAffected(res, &model.ConflictError{
		Entity: "dcn_upload_batch", ID: b.ID, Message: "batch is not processing",
	})
}

func (s *SQLiteStore) GetBatch(ctx context.Context, companyID, id string) (*model.DCNUploadBatch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM dcn_upload_batches WHERE company_id = ? AND id = ?`,
		companyID, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, &model.NotFoundError{Entity: "dcn_upload_batch", ID: id}
		}
		return nil, eris.Wrapf(err, "sqlite: get batch %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.DCNUploadBatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM dcn_upload_batches WHERE company_id = ? ORDER BY created_at DESC LIMIT ?`,
		filter.CompanyID, listLimit(filter.Limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DCNUploadBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

// --- Attempts ---

func (s *SQLiteStore) GetInProgressAttempt(ctx context.Context, companyID, addressID string) (*model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE company_id = ? AND address_id = ? AND status = 'in_progress'`,
		companyID, addressID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get in-progress attempt %s", addressID)
	}
	return a, nil
}

func (s *SQLiteStore) CountAttempts(ctx context.Context, companyID, addressID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM attempts WHERE company_id = ? AND address_id = ?`,
		companyID, addressID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count attempts %s", addressID)
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE company_id = ? AND address_id = ?`
	args := []any{filter.CompanyID, filter.AddressID}
	if filter.Status != model.AttemptNone {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY attempt_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attempts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attempt")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list attempts iterate")
}

func (s *SQLiteStore) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		err := sqliteInsertAttempt(ctx, tx, a)
		if err != nil && isSQLiteConstraint(err) {
			return &model.ConflictError{Entity: "attempt", ID: a.AddressID, Message: "attempt already in progress"}
		}
		return err
	})
}

func (s *SQLiteStore) ExtendAttempt(ctx context.Context, a *model.Attempt) error {
	_, photos, err := attemptJSON(a)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET photo_urls = ?, notes = ?, updated_at = ?
		 WHERE id = ? AND company_id = ? AND status = 'in_progress'`,
		string(photos), a.Notes, a.UpdatedAt, a.ID, a.CompanyID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: extend attempt %s", a.ID)
	}
	return checkRowsAffected(res, &model.ConflictError{
		Entity: "attempt", ID: a.ID, Message: "attempt is no longer in progress",
	})
}

func (s *SQLiteStore) FinalizeAttempt(ctx context.Context, a *model.Attempt) error {
	_, photos, err := attemptJSON(a)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	a.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE attempts SET status = 'completed', outcome = ?, notes = ?, photo_urls = ?,
			 completed_at = ?, updated_at = ?
			 WHERE id = ? AND company_id = ? AND status = 'in_progress'`,
			outcomeValue(a.Outcome), a.Notes, string(photos), a.CompletedAt, now, a.ID, a.CompanyID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: finalize attempt %s", a.ID)
		}
		if err := checkRowsAffected(res, &model.ConflictError{
			Entity: "attempt", ID: a.ID, Message: "attempt is no longer in progress",
		}); err != nil {
			return err
		}
		return sqliteBumpAttempts(ctx, tx, a.AddressID, now)
	})
}

func (s *SQLiteStore) InsertCompletedAttempt(ctx context.Context, a *model.Attempt, audit *model.AuditEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var open int
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM attempts WHERE address_id = ? AND status = 'in_progress'`, a.AddressID,
		).Scan(&open); err != nil {
			return eris.Wrapf(err, "sqlite: check open attempts %s", a.AddressID)
		}
		if open > 0 {
			return &model.ConflictError{Entity: "attempt", ID: a.AddressID, Message: "attempt already in progress"}
		}

		if err := sqliteInsertAttempt(ctx, tx, a); err != nil {
			if isSQLiteConstraint(err) {
				return &model.ConflictError{Entity: "attempt", ID: a.AddressID, Message: "attempt number already taken"}
			}
			return err
		}
		if err := sqliteBumpAttempts(ctx, tx, a.AddressID, a.UpdatedAt); err != nil {
			return err
		}
		if audit != nil {
			audit.EntityID = a.ID
			return sqliteInsertAudit(ctx, tx, audit)
		}
		return nil
	})
}

func sqliteInsertAttempt(ctx context.Context, tx *sql.Tx, a *model.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	badges, photos, err := attemptJSON(a)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AddressID, a.CompanyID, a.WorkerID, a.AttemptNumber, string(a.Status), a.AttemptTime,
		a.AttemptTimezone, a.Qualifier, string(badges), a.IsOutsideHours, outcomeValue(a.Outcome), string(photos),
		a.Notes, a.Latitude, a.Longitude, a.DistanceFeet, a.ManuallyEdited, a.CompletedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil && !isSQLiteConstraint(err) {
		return eris.Wrapf(err, "sqlite: insert attempt for %s", a.AddressID)
	}
	return err
}

func sqliteBumpAttempts(ctx context.Context, tx *sql.Tx, addressID string, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE addresses SET attempts_count = attempts_count + 1,
		 status = CASE WHEN status = 'pending' THEN 'attempted' ELSE status END,
		 updated_at = ? WHERE id = ?`,
		now, addressID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: bump attempts %s", addressID)
	}
	return checkRowsAffected(res, &model.NotFoundError{Entity: "address", ID: addressID})
}

// --- Audit ---

func (s *SQLiteStore) ListAudit(ctx context.Context, companyID, entityType, entityID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE company_id = ? AND entity_type = ? AND entity_id = ? ORDER BY created_at, rowid`,
		companyID, entityType, entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func sqliteInsertAudit(ctx context.Context, tx *sql.Tx, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CompanyID, e.ActorID, string(e.ActorRole), e.EntityType, e.EntityID, e.Action,
		e.BeforeStatus, e.AfterStatus, auditDetails(e), e.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert audit %s %s", e.EntityType, e.Action)
}

// helpers

func checkRowsAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return missing
	}
	return nil
}

func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
