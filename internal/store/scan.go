package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/serveroute/serveroute/internal/model"
)

// Column lists shared by both backends; scan order follows them exactly.
const (
	addressColumns = `id, company_id, route_id, street, city, state, zip, latitude, longitude,
		normalized_key, has_dcn, dcn_id, attempts_count, serve_type, status, created_at, updated_at`

	dcnColumns = `id, company_id, dcn, raw_address, city, normalized_key, address_id,
		suggested_address_id, match_status, match_confidence, match_type, upload_batch_id,
		source_row_number, metadata, reviewed_by, reviewed_at, created_at, updated_at`

	batchColumns = `id, company_id, uploaded_by, filename, total_rows, valid_rows, invalid_rows,
		auto_matched, pending_review, unmatched, validation_errors, status, error_message,
		created_at, completed_at`

	attemptColumns = `id, address_id, company_id, worker_id, attempt_number, status, attempt_time,
		attempt_timezone, qualifier, qualifier_badges, is_outside_hours, outcome, photo_urls, notes,
		latitude, longitude, distance_feet, manually_edited, completed_at, created_at, updated_at`

	auditColumns = `id, company_id, actor_id, actor_role, entity_type, entity_id, action,
		before_status, after_status, details, created_at`
)

type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

func scanAddress(row scannable) (*model.Address, error) {
	var a model.Address
	err := row.Scan(&a.ID, &a.CompanyID, &a.RouteID, &a.Street, &a.City, &a.State, &a.Zip,
		&a.Latitude, &a.Longitude, &a.NormalizedKey, &a.HasDCN, &a.DCNID, &a.AttemptsCount,
		&a.ServeType, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanDCNRecord(row scannable) (*model.DCNRecord, error) {
	var r model.DCNRecord
	var matchType *string
	var metadata []byte
	err := row.Scan(&r.ID, &r.CompanyID, &r.DCN, &r.RawAddress, &r.City, &r.NormalizedKey,
		&r.AddressID, &r.SuggestedAddressID, &r.MatchStatus, &r.MatchConfidence, &matchType,
		&r.UploadBatchID, &r.SourceRowNumber, &metadata, &r.ReviewedBy, &r.ReviewedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if matchType != nil {
		mt := model.MatchType(*matchType)
		r.MatchType = &mt
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal dcn metadata")
		}
	}
	return &r, nil
}

func scanBatch(row scannable) (*model.DCNUploadBatch, error) {
	var b model.DCNUploadBatch
	var errs []byte
	err := row.Scan(&b.ID, &b.CompanyID, &b.UploadedBy, &b.Filename, &b.TotalRows, &b.ValidRows,
		&b.InvalidRows, &b.AutoMatched, &b.PendingReview, &b.Unmatched, &errs, &b.Status,
		&b.ErrorMessage, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.ValidationErrors = []model.RowError{}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &b.ValidationErrors); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal validation errors")
		}
	}
	return &b, nil
}

func scanAttempt(row scannable) (*model.Attempt, error) {
	var a model.Attempt
	var badges, photos []byte
	var outcome *string
	err := row.Scan(&a.ID, &a.AddressID, &a.CompanyID, &a.WorkerID, &a.AttemptNumber, &a.Status,
		&a.AttemptTime, &a.AttemptTimezone, &a.Qualifier, &badges, &a.IsOutsideHours, &outcome,
		&photos, &a.Notes, &a.Latitude, &a.Longitude, &a.DistanceFeet, &a.ManuallyEdited,
		&a.CompletedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		o := model.Outcome(*outcome)
		a.Outcome = &o
	}
	a.QualifierBadges = []model.Qualifier{}
	if len(badges) > 0 {
		if err := json.Unmarshal(badges, &a.QualifierBadges); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal qualifier badges")
		}
	}
	a.PhotoURLs = []string{}
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &a.PhotoURLs); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal photo urls")
		}
	}
	return &a, nil
}

func scanAudit(row scannable) (*model.AuditEntry, error) {
	var e model.AuditEntry
	var details []byte
	err := row.Scan(&e.ID, &e.CompanyID, &e.ActorID, &e.ActorRole, &e.EntityType, &e.EntityID,
		&e.Action, &e.BeforeStatus, &e.AfterStatus, &details, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		e.Details = json.RawMessage(details)
	}
	return &e, nil
}

// attemptJSON marshals the list columns of an attempt.
func attemptJSON(a *model.Attempt) (badges, photos []byte, err error) {
	b := a.QualifierBadges
	if b == nil {
		b = []model.Qualifier{}
	}
	p := a.PhotoURLs
	if p == nil {
		p = []string{}
	}
	if badges, err = json.Marshal(b); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal qualifier badges")
	}
	if photos, err = json.Marshal(p); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal photo urls")
	}
	return badges, photos, nil
}

func batchErrorsJSON(b *model.DCNUploadBatch) ([]byte, error) {
	errs := b.ValidationErrors
	if errs == nil {
		errs = []model.RowError{}
	}
	data, err := json.Marshal(errs)
	return data, eris.Wrap(err, "store: marshal validation errors")
}

func matchTypeValue(mt *model.MatchType) *string {
	if mt == nil {
		return nil
	}
	s := string(*mt)
	return &s
}

func outcomeValue(o *model.Outcome) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}

func auditDetails(e *model.AuditEntry) *string {
	if len(e.Details) == 0 {
		return nil
	}
	s := string(e.Details)
	return &s
}
