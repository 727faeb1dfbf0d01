package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serveroute/serveroute/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgresWithPool(mock)
	return s, mock
}

func addressRow(id, companyID string, hasDCN bool, dcnID *string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "company_id", "route_id", "street", "city", "state", "zip", "latitude", "longitude",
		"normalized_key", "has_dcn", "dcn_id", "attempts_count", "serve_type", "status", "created_at", "updated_at",
	}).AddRow(id, companyID, "r1", "123 Main St", "Detroit", "MI", "48201", (*float64)(nil), (*float64)(nil),
		"123 main st|detroit|mi|48201", hasDCN, dcnID, 0, model.ServeTypeServe, model.AddressPending, now, now)
}

func dcnRow(id string, status model.MatchStatus, addressID *string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "company_id", "dcn", "raw_address", "city", "normalized_key", "address_id",
		"suggested_address_id", "match_status", "match_confidence", "match_type", "upload_batch_id",
		"source_row_number", "metadata", "reviewed_by", "reviewed_at", "created_at", "updated_at",
	}).AddRow(id, "co-1", "DCN-1", "123 Main St", "Detroit", "123 main st|detroit||", addressID,
		(*string)(nil), status, (*float64)(nil), (*string)(nil), "batch-1",
		2, []byte(`{}`), (*string)(nil), (*time.Time)(nil), now, now)
}

// anyArgs returns n AnyArg matchers; callers pin the positions they check.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// dcnInsertArgs matches the 18 INSERT INTO dcn_records parameters.
func dcnInsertArgs(companyID, dcn, status string) []any {
	args := anyArgs(18)
	args[1], args[2], args[8] = companyID, dcn, status
	return args
}

func TestPostgresStore_GetAddress_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, company_id, route_id, .* FROM addresses WHERE company_id = \$1 AND id = \$2`).
		WithArgs("co-1", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAddress(context.Background(), "co-1", "missing")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAddresses(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_addresses"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_addresses"}, []string{
		"id", "company_id", "route_id", "street", "city", "state", "zip",
		"latitude", "longitude", "normalized_key", "serve_type", "status", "created_at", "updated_at",
	}).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("company_id", "route_id", "normalized_key"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	addrs := []model.Address{{CompanyID: "co-1", RouteID: "r1", Street: "1 Elm St", NormalizedKey: "1 elm st|||"}}
	n, err := s.UpsertAddresses(context.Background(), addrs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NotEmpty(t, addrs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDCNRecord_AutoMatchLinks(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	addrID := "addr-1"

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM addresses WHERE company_id = \$1 AND id = \$2 FOR UPDATE`).
		WithArgs("co-1", addrID).
		WillReturnRows(addressRow(addrID, "co-1", false, nil))
	mock.ExpectExec(`UPDATE addresses SET has_dcn = true, dcn_id = \$1`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), addrID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO dcn_records`).
		WithArgs(dcnInsertArgs("co-1", "DCN-1", string(model.MatchAutoMatched))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(pgxmock.AnyArg(), "co-1", "boss-1", string(model.RoleBoss), model.EntityDCNRecord, pgxmock.AnyArg(),
			model.ActionAutoMatch, "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rec := &model.DCNRecord{
		CompanyID: "co-1", DCN: "DCN-1", RawAddress: "123 Main St",
		AddressID: &addrID, MatchStatus: model.MatchAutoMatched, UploadBatchID: "batch-1", SourceRowNumber: 2,
	}
	audit := &model.AuditEntry{CompanyID: "co-1", ActorID: "boss-1", ActorRole: model.RoleBoss,
		EntityType: model.EntityDCNRecord, Action: model.ActionAutoMatch}
	require.NoError(t, s.CreateDCNRecord(context.Background(), rec, audit))
	assert.Equal(t, rec.ID, audit.EntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDCNRecord_AddressLinkedElsewhere(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	addrID := "addr-1"
	other := "other-record"

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM addresses WHERE company_id = \$1 AND id = \$2 FOR UPDATE`).
		WithArgs("co-1", addrID).
		WillReturnRows(addressRow(addrID, "co-1", true, &other))
	mock.ExpectRollback()

	rec := &model.DCNRecord{
		CompanyID: "co-1", DCN: "DCN-2", AddressID: &addrID,
		MatchStatus: model.MatchAutoMatched, UploadBatchID: "batch-1",
	}
	err := s.CreateDCNRecord(context.Background(), rec, nil)
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDCNRecord_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO dcn_records`).
		WithArgs(dcnInsertArgs("co-1", "DCN-1", string(model.MatchUnmatched))...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	rec := &model.DCNRecord{CompanyID: "co-1", DCN: "DCN-1", MatchStatus: model.MatchUnmatched, UploadBatchID: "batch-1"}
	err := s.CreateDCNRecord(context.Background(), rec, nil)
	assert.True(t, model.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyReview_StatusChanged(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM dcn_records WHERE company_id = \$1 AND id = \$2 FOR UPDATE`).
		WithArgs("co-1", "rec-1").
		WillReturnRows(dcnRow("rec-1", model.MatchRejected, nil))
	mock.ExpectRollback()

	_, err := s.ApplyReview(context.Background(), ReviewUpdate{
		CompanyID: "co-1", RecordID: "rec-1",
		From: model.MatchPendingReview, To: model.MatchManuallyMatched, AddressID: "addr-1",
	})
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyReview_Reject(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("co-1", "rec-1").
		WillReturnRows(dcnRow("rec-1", model.MatchUnmatched, nil))
	mock.ExpectExec(`UPDATE dcn_records SET address_id = NULL, suggested_address_id = NULL`).
		WithArgs(string(model.MatchRejected), "boss-1", pgxmock.AnyArg(), "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("audit-1", "co-1", "", "", model.EntityDCNRecord, "rec-1",
			model.ActionReject, "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM dcn_records WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(dcnRow("rec-1", model.MatchRejected, nil))
	mock.ExpectCommit()

	got, err := s.ApplyReview(context.Background(), ReviewUpdate{
		CompanyID: "co-1", RecordID: "rec-1",
		From: model.MatchUnmatched, To: model.MatchRejected,
		ReviewedBy: "boss-1", ReviewedAt: time.Now().UTC(),
		Audit: &model.AuditEntry{ID: "audit-1", CompanyID: "co-1", EntityType: model.EntityDCNRecord,
			EntityID: "rec-1", Action: model.ActionReject},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MatchRejected, got.MatchStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteBatch_NotProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE dcn_upload_batches SET .* WHERE id = \$11 AND company_id = \$12 AND status = 'processing'`).
		WithArgs(0, 0, 0, 0, 0, 0, pgxmock.AnyArg(), string(model.BatchCompleted), "", pgxmock.AnyArg(), "batch-1", "co-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteBatch(context.Background(), &model.DCNUploadBatch{ID: "batch-1", CompanyID: "co-1", Status: model.BatchCompleted})
	assert.True(t, model.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetInProgressAttempt_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM attempts WHERE company_id = \$1 AND address_id = \$2 AND status = 'in_progress'`).
		WithArgs("co-1", "addr-1").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.GetInProgressAttempt(context.Background(), "co-1", "addr-1")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAttempt_SecondInProgress(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := anyArgs(21)
	args[1], args[2], args[5] = "addr-1", "co-1", string(model.AttemptInProgress)
	mock.ExpectExec(`INSERT INTO attempts`).
		WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_attempts_in_progress"})

	err := s.CreateAttempt(context.Background(), &model.Attempt{AddressID: "addr-1", CompanyID: "co-1", Status: model.AttemptInProgress})
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinalizeAttempt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE attempts SET status = 'completed'`).
		WithArgs(pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "att-1", "co-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE addresses SET attempts_count = attempts_count \+ 1`).
		WithArgs(pgxmock.AnyArg(), "addr-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	outcome := model.OutcomePosted
	err := s.FinalizeAttempt(context.Background(), &model.Attempt{
		ID: "att-1", AddressID: "addr-1", CompanyID: "co-1", Outcome: &outcome,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinalizeAttempt_AlreadyCompleted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE attempts SET status = 'completed'`).
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.FinalizeAttempt(context.Background(), &model.Attempt{ID: "att-1", AddressID: "addr-1", CompanyID: "co-1"})
	assert.True(t, model.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS addresses`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
