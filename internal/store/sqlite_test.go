package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serveroute/serveroute/internal/model"
)

const testCompany = "co-1"

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedAddress(t *testing.T, st *SQLiteStore, street, key string) model.Address {
	t.Helper()
	addrs := []model.Address{{
		CompanyID:     testCompany,
		RouteID:       "route-1",
		Street:        street,
		City:          "Detroit",
		NormalizedKey: key,
		ServeType:     model.ServeTypeServe,
		Status:        model.AddressPending,
	}}
	n, err := st.UpsertAddresses(context.Background(), addrs)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	return addrs[0]
}

func seedBatch(t *testing.T, st *SQLiteStore) *model.DCNUploadBatch {
	t.Helper()
	b := &model.DCNUploadBatch{CompanyID: testCompany, UploadedBy: "boss-1", Filename: "upload.csv"}
	require.NoError(t, st.CreateBatch(context.Background(), b))
	return b
}

func testSession() model.Session {
	return model.Session{CompanyID: testCompany, ActorID: "boss-1", Role: model.RoleBoss}
}

func newRecord(batchID, dcn string, status model.MatchStatus, addressID *string) *model.DCNRecord {
	return &model.DCNRecord{
		CompanyID:       testCompany,
		DCN:             dcn,
		RawAddress:      "123 Main St",
		City:            "Detroit",
		NormalizedKey:   "123 main st|detroit||",
		AddressID:       addressID,
		MatchStatus:     status,
		UploadBatchID:   batchID,
		SourceRowNumber: 2,
	}
}

// --- Addresses ---

func TestSQLite_UpsertAddresses_SkipsDuplicateKeys(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lat, lng := 42.33, -83.04
	addrs := []model.Address{
		{CompanyID: testCompany, RouteID: "r1", Street: "1 Elm St", NormalizedKey: "1 elm st|||", Latitude: &lat, Longitude: &lng, ServeType: model.ServeTypeServe, Status: model.AddressPending},
		{CompanyID: testCompany, RouteID: "r1", Street: "1 Elm Street", NormalizedKey: "1 elm st|||", ServeType: model.ServeTypeServe, Status: model.AddressPending},
		{CompanyID: testCompany, RouteID: "r1", Street: "2 Oak Ave", NormalizedKey: "2 oak ave|||", ServeType: model.ServeTypePosting, Status: model.AddressPending},
	}
	n, err := st.UpsertAddresses(ctx, addrs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := st.ListAddresses(ctx, AddressFilter{CompanyID: testCompany, RouteID: "r1"})
	require.NoError(t, err)
	require.Len(t, list, 2)

	got, err := st.GetAddress(ctx, testCompany, addrs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 42.33, *got.Latitude, 1e-9)
	assert.False(t, got.HasDCN)
	assert.Equal(t, model.AddressPending, got.Status)
}

func TestSQLite_GetAddress_OtherCompany(t *testing.T) {
	st := newTestSQLiteStore(t)
	addr := seedAddress(t, st, "1 Elm St", "1 elm st|||")

	_, err := st.GetAddress(context.Background(), "co-2", addr.ID)
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

// --- DCN records ---

func TestSQLite_CreateDCNRecord_AutoMatchLinksAddress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "123 Main St", "123 main st|detroit||")
	b := seedBatch(t, st)

	rec := newRecord(b.ID, "DCN-1", model.MatchAutoMatched, &addr.ID)
	audit := model.NewAuditEntry(testSession(), model.EntityDCNRecord, "", model.ActionAutoMatch, "", string(model.MatchAutoMatched), nil)
	require.NoError(t, st.CreateDCNRecord(ctx, rec, audit))

	got, err := st.GetAddress(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	assert.True(t, got.HasDCN)
	require.NotNil(t, got.DCNID)
	assert.Equal(t, rec.ID, *got.DCNID)

	entries, err := st.ListAudit(ctx, testCompany, model.EntityDCNRecord, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionAutoMatch, entries[0].Action)

	values, err := st.ListDCNValues(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, []string{"DCN-1"}, values)
}

func TestSQLite_CreateDCNRecord_LinkConflictPersistsNothing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "123 Main St", "123 main st|detroit||")
	b := seedBatch(t, st)

	first := newRecord(b.ID, "DCN-1", model.MatchAutoMatched, &addr.ID)
	require.NoError(t, st.CreateDCNRecord(ctx, first, nil))

	second := newRecord(b.ID, "DCN-2", model.MatchAutoMatched, &addr.ID)
	err := st.CreateDCNRecord(ctx, second, nil)
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))

	values, err := st.ListDCNValues(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, []string{"DCN-1"}, values)

	got, err := st.GetAddress(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, *got.DCNID)
}

func TestSQLite_CreateDCNRecord_DuplicateDCN(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st)

	require.NoError(t, st.CreateDCNRecord(ctx, newRecord(b.ID, "DCN-1", model.MatchUnmatched, nil), nil))
	err := st.CreateDCNRecord(ctx, newRecord(b.ID, "DCN-1", model.MatchUnmatched, nil), nil)
	assert.True(t, model.IsConflict(err))
}

func TestSQLite_ListDCNRecords_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "9 Pine Rd", "9 pine rd|||")
	b := seedBatch(t, st)

	pending := newRecord(b.ID, "P-1", model.MatchPendingReview, nil)
	pending.SuggestedAddressID = &addr.ID
	conf := 0.81
	pending.MatchConfidence = &conf
	mt := model.MatchTypeFuzzy
	pending.MatchType = &mt
	pending.Metadata = model.DCNMetadata{CaseNumber: "24-001", Extra: map[string]string{"Notes": "gate code 12"}}

	require.NoError(t, st.CreateDCNRecord(ctx, pending, nil))
	require.NoError(t, st.CreateDCNRecord(ctx, newRecord(b.ID, "U-1", model.MatchUnmatched, nil), nil))

	list, err := st.ListDCNRecords(ctx, DCNFilter{CompanyID: testCompany, Statuses: []model.MatchStatus{model.MatchPendingReview}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, "P-1", got.DCN)
	require.NotNil(t, got.MatchType)
	assert.Equal(t, model.MatchTypeFuzzy, *got.MatchType)
	assert.InDelta(t, 0.81, *got.MatchConfidence, 1e-9)
	assert.Equal(t, "24-001", got.Metadata.CaseNumber)
	assert.Equal(t, "gate code 12", got.Metadata.Extra["Notes"])

	all, err := st.ListDCNRecords(ctx, DCNFilter{CompanyID: testCompany, UploadBatchID: b.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_ApplyReview_Confirm(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "123 Main St", "123 main st|detroit||")
	b := seedBatch(t, st)
	rec := newRecord(b.ID, "DCN-1", model.MatchPendingReview, nil)
	require.NoError(t, st.CreateDCNRecord(ctx, rec, nil))

	now := time.Now().UTC()
	got, err := st.ApplyReview(ctx, ReviewUpdate{
		CompanyID:  testCompany,
		RecordID:   rec.ID,
		From:       model.MatchPendingReview,
		To:         model.MatchManuallyMatched,
		AddressID:  addr.ID,
		ReviewedBy: "boss-1",
		ReviewedAt: now,
		Audit: model.NewAuditEntry(testSession(), model.EntityDCNRecord, rec.ID, model.ActionConfirm,
			string(model.MatchPendingReview), string(model.MatchManuallyMatched), nil),
	})
	require.NoError(t, err)
	assert.Equal(t, model.MatchManuallyMatched, got.MatchStatus)
	require.NotNil(t, got.AddressID)
	assert.Equal(t, addr.ID, *got.AddressID)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, "boss-1", *got.ReviewedBy)

	linked, err := st.GetAddress(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	assert.True(t, linked.LinkedTo(rec.ID))

	entries, err := st.ListAudit(ctx, testCompany, model.EntityDCNRecord, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(model.MatchPendingReview), entries[0].BeforeStatus)
}

func TestSQLite_ApplyReview_ConfirmLinkedElsewhere(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "123 Main St", "123 main st|detroit||")
	b := seedBatch(t, st)

	owner := newRecord(b.ID, "DCN-1", model.MatchAutoMatched, &addr.ID)
	require.NoError(t, st.CreateDCNRecord(ctx, owner, nil))
	rec := newRecord(b.ID, "DCN-2", model.MatchPendingReview, nil)
	require.NoError(t, st.CreateDCNRecord(ctx, rec, nil))

	_, err := st.ApplyReview(ctx, ReviewUpdate{
		CompanyID: testCompany, RecordID: rec.ID,
		From: model.MatchPendingReview, To: model.MatchManuallyMatched,
		AddressID: addr.ID, ReviewedBy: "boss-1", ReviewedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))

	unchanged, err := st.GetDCNRecord(ctx, testCompany, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchPendingReview, unchanged.MatchStatus)
	assert.Nil(t, unchanged.AddressID)
}

func TestSQLite_ApplyReview_StaleStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st)
	rec := newRecord(b.ID, "DCN-1", model.MatchUnmatched, nil)
	require.NoError(t, st.CreateDCNRecord(ctx, rec, nil))

	_, err := st.ApplyReview(ctx, ReviewUpdate{
		CompanyID: testCompany, RecordID: rec.ID,
		From: model.MatchPendingReview, To: model.MatchRejected,
		ReviewedBy: "boss-1", ReviewedAt: time.Now().UTC(),
	})
	assert.True(t, model.IsConflict(err))
}

func TestSQLite_ApplyReview_RejectClearsSuggestion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "123 Main St", "123 main st|detroit||")
	b := seedBatch(t, st)
	rec := newRecord(b.ID, "DCN-1", model.MatchPendingReview, nil)
	rec.SuggestedAddressID = &addr.ID
	require.NoError(t, st.CreateDCNRecord(ctx, rec, nil))

	got, err := st.ApplyReview(ctx, ReviewUpdate{
		CompanyID: testCompany, RecordID: rec.ID,
		From: model.MatchPendingReview, To: model.MatchRejected,
		ReviewedBy: "boss-1", ReviewedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.MatchRejected, got.MatchStatus)
	assert.Nil(t, got.SuggestedAddressID)
	assert.Nil(t, got.AddressID)
}

// --- Upload batches ---

func TestSQLite_CompleteBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := seedBatch(t, st)

	done := time.Now().UTC()
	b.TotalRows, b.ValidRows, b.InvalidRows = 3, 2, 1
	b.AutoMatched, b.Unmatched = 1, 1
	b.ValidationErrors = []model.RowError{{Row: 4, Field: "dcn", Error: "DCN is required"}}
	b.Status = model.BatchCompleted
	b.CompletedAt = &done
	require.NoError(t, st.CompleteBatch(ctx, b))

	got, err := st.GetBatch(ctx, testCompany, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, got.Status)
	assert.True(t, got.Consistent())
	require.Len(t, got.ValidationErrors, 1)
	assert.Equal(t, "DCN is required", got.ValidationErrors[0].Error)
	assert.NotNil(t, got.CompletedAt)

	err = st.CompleteBatch(ctx, b)
	assert.True(t, model.IsConflict(err))

	list, err := st.ListBatches(ctx, BatchFilter{CompanyID: testCompany})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// --- Attempts ---

func newAttempt(addressID string, number int) *model.Attempt {
	return &model.Attempt{
		AddressID:       addressID,
		CompanyID:       testCompany,
		WorkerID:        "worker-1",
		AttemptNumber:   number,
		Status:          model.AttemptInProgress,
		AttemptTime:     time.Date(2026, 3, 4, 9, 15, 0, 0, time.UTC),
		AttemptTimezone: "America/Detroit",
		Qualifier:       "AM",
		QualifierBadges: []model.Qualifier{model.QualifierAM},
		PhotoURLs:       []string{"file:///photos/a.jpg"},
	}
}

func TestSQLite_CreateAttempt_OneInProgressPerAddress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "1 Elm St", "1 elm st|||")

	require.NoError(t, st.CreateAttempt(ctx, newAttempt(addr.ID, 1)))

	err := st.CreateAttempt(ctx, newAttempt(addr.ID, 2))
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))

	n, err := st.CountAttempts(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_ExtendAndFinalizeAttempt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "1 Elm St", "1 elm st|||")

	a := newAttempt(addr.ID, 1)
	require.NoError(t, st.CreateAttempt(ctx, a))

	a.PhotoURLs = append(a.PhotoURLs, "file:///photos/b.jpg")
	a.Notes = "dog in yard"
	require.NoError(t, st.ExtendAttempt(ctx, a))

	open, err := st.GetInProgressAttempt(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Len(t, open.PhotoURLs, 2)
	assert.Equal(t, []model.Qualifier{model.QualifierAM}, open.QualifierBadges)

	outcome := model.OutcomeNoAnswer
	done := time.Now().UTC()
	open.Outcome = &outcome
	open.CompletedAt = &done
	require.NoError(t, st.FinalizeAttempt(ctx, open))

	none, err := st.GetInProgressAttempt(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	got, err := st.GetAddress(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptsCount)
	assert.Equal(t, model.AddressAttempted, got.Status)

	err = st.FinalizeAttempt(ctx, open)
	assert.True(t, model.IsConflict(err))
	err = st.ExtendAttempt(ctx, open)
	assert.True(t, model.IsConflict(err))

	list, err := st.ListAttempts(ctx, AttemptFilter{CompanyID: testCompany, AddressID: addr.ID, Status: model.AttemptCompleted})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Outcome)
	assert.Equal(t, model.OutcomeNoAnswer, *list[0].Outcome)
}

func TestSQLite_InsertCompletedAttempt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "1 Elm St", "1 elm st|||")

	a := newAttempt(addr.ID, 1)
	a.Status = model.AttemptCompleted
	a.ManuallyEdited = true
	done := a.AttemptTime
	a.CompletedAt = &done
	audit := model.NewAuditEntry(testSession(), model.EntityAttempt, "", model.ActionManual, "", string(model.AttemptCompleted), nil)
	require.NoError(t, st.InsertCompletedAttempt(ctx, a, audit))

	got, err := st.GetAddress(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptsCount)

	entries, err := st.ListAudit(ctx, testCompany, model.EntityAttempt, a.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	dup := newAttempt(addr.ID, 1)
	dup.Status = model.AttemptCompleted
	err = st.InsertCompletedAttempt(ctx, dup, nil)
	assert.True(t, model.IsConflict(err))
}

func TestSQLite_InsertCompletedAttempt_BlockedByOpenAttempt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "1 Elm St", "1 elm st|||")
	require.NoError(t, st.CreateAttempt(ctx, newAttempt(addr.ID, 1)))

	a := newAttempt(addr.ID, 2)
	a.Status = model.AttemptCompleted
	err := st.InsertCompletedAttempt(ctx, a, nil)
	assert.True(t, model.IsConflict(err))
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
