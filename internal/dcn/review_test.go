package dcn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serveroute/serveroute/internal/model"
	"github.com/serveroute/serveroute/internal/store"
)

// uploadOne runs a one-row upload and returns the stored record.
func uploadOne(t *testing.T, st *store.SQLiteStore, dcn, street, city string) model.DCNRecord {
	t.Helper()
	csv := "DCN,Address,City\n" + dcn + "," + street + "," + city + "\n"
	batch, err := newTestProcessor(st).Process(context.Background(), bossSession(), "upload.csv", []byte(csv))
	require.NoError(t, err)
	rec, ok := recordsByDCN(t, st, batch.ID)[dcn]
	require.True(t, ok)
	return rec
}

func TestReviewer_ConfirmSuggested(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	oak := seedAddress(t, st, "4567 Oak Ave", "Dearborn")
	rec := uploadOne(t, st, "D-1", "4567 Oak Ave", "Detroit")
	require.Equal(t, model.MatchPendingReview, rec.MatchStatus)

	r := NewReviewer(st, nil, nil)
	out, err := r.Confirm(ctx, bossSession(), rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.MatchManuallyMatched, out.MatchStatus)
	require.NotNil(t, out.AddressID)
	assert.Equal(t, oak.ID, *out.AddressID)
	require.NotNil(t, out.ReviewedBy)
	assert.Equal(t, "boss-1", *out.ReviewedBy)

	addr, err := st.GetAddress(ctx, testCompany, oak.ID)
	require.NoError(t, err)
	assert.True(t, addr.LinkedTo(rec.ID))

	trail, err := r.Audit(ctx, bossSession(), rec.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.ActionConfirm, trail[0].Action)
	assert.Equal(t, string(model.MatchPendingReview), trail[0].BeforeStatus)
	assert.Equal(t, string(model.MatchManuallyMatched), trail[0].AfterStatus)
}

func TestReviewer_ConfirmConflictLeavesRecordsUnchanged(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	addr := seedAddress(t, st, "123 Main St", "Detroit")
	linked := uploadOne(t, st, "D-1", "123 Main St", "Detroit")
	require.Equal(t, model.MatchAutoMatched, linked.MatchStatus)
	orphan := uploadOne(t, st, "D-2", "1 Nowhere Rd", "Detroit")
	require.Equal(t, model.MatchUnmatched, orphan.MatchStatus)

	r := NewReviewer(st, nil, nil)
	_, err := r.Confirm(ctx, bossSession(), orphan.ID, addr.ID)
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))

	after, err := st.GetDCNRecord(ctx, testCompany, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchUnmatched, after.MatchStatus)
	assert.Nil(t, after.AddressID)

	a, err := st.GetAddress(ctx, testCompany, addr.ID)
	require.NoError(t, err)
	assert.True(t, a.LinkedTo(linked.ID))

	trail, err := r.Audit(ctx, bossSession(), orphan.ID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestReviewer_ConfirmNeedsAddress(t *testing.T) {
	st := newTestStore(t)
	rec := uploadOne(t, st, "D-1", "1 Nowhere Rd", "Detroit")

	_, err := NewReviewer(st, nil, nil).Confirm(context.Background(), bossSession(), rec.ID, "")
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestReviewer_IllegalTransition(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAddress(t, st, "123 Main St", "Detroit")
	rec := uploadOne(t, st, "D-1", "123 Main St", "Detroit")
	require.Equal(t, model.MatchAutoMatched, rec.MatchStatus)

	r := NewReviewer(st, nil, nil)
	_, err := r.Reject(ctx, bossSession(), rec.ID)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	rejected := uploadOne(t, st, "D-2", "1 Nowhere Rd", "Detroit")
	_, err = r.Reject(ctx, bossSession(), rejected.ID)
	require.NoError(t, err)
	_, err = r.Reject(ctx, bossSession(), rejected.ID)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestReviewer_Reject(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	oak := seedAddress(t, st, "4567 Oak Ave", "Dearborn")
	rec := uploadOne(t, st, "D-1", "4567 Oak Ave", "Detroit")

	out, err := NewReviewer(st, nil, nil).Reject(ctx, bossSession(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchRejected, out.MatchStatus)
	assert.Nil(t, out.SuggestedAddressID)
	assert.Nil(t, out.AddressID)

	addr, err := st.GetAddress(ctx, testCompany, oak.ID)
	require.NoError(t, err)
	assert.False(t, addr.HasDCN)
}

func TestReviewer_WorkerCannotReview(t *testing.T) {
	st := newTestStore(t)
	rec := uploadOne(t, st, "D-1", "1 Nowhere Rd", "Detroit")
	worker := model.Session{CompanyID: testCompany, ActorID: "w-1", Role: model.RoleWorker}

	_, err := NewReviewer(st, nil, nil).Reject(context.Background(), worker, rec.ID)
	require.Error(t, err)
	assert.True(t, model.IsForbidden(err))
	assert.False(t, model.IsValidation(err))
}

func TestReviewer_OtherCompanyNotFound(t *testing.T) {
	st := newTestStore(t)
	rec := uploadOne(t, st, "D-1", "1 Nowhere Rd", "Detroit")
	other := model.Session{CompanyID: "co-2", ActorID: "boss-2", Role: model.RoleBoss}

	_, err := NewReviewer(st, nil, nil).Reject(context.Background(), other, rec.ID)
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestReviewer_SearchAndLink(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAddress(t, st, "123 Main St", "Detroit")
	elm := seedAddress(t, st, "890 Elm Street", "Detroit")
	taken := seedAddress(t, st, "892 Elm Street", "Detroit")
	uploadOne(t, st, "D-1", "892 Elm Street", "Detroit")
	rec := uploadOne(t, st, "D-2", "1 Nowhere Rd", "Detroit")

	r := NewReviewer(st, nil, nil)

	hits, err := r.Search(ctx, bossSession(), "elm STREET", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, elm.ID, hits[0].ID)
	assert.NotEqual(t, taken.ID, hits[0].ID)

	hits, err = r.Search(ctx, bossSession(), "890 elm st", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = r.Search(ctx, bossSession(), "detroit", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = r.Search(ctx, bossSession(), "   ", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	out, err := r.LinkAddress(ctx, bossSession(), rec.ID, firstHitID(t, r, "890 elm"))
	require.NoError(t, err)
	assert.Equal(t, model.MatchManuallyMatched, out.MatchStatus)
	assert.Equal(t, elm.ID, *out.AddressID)
}

func firstHitID(t *testing.T, r *Reviewer, q string) string {
	t.Helper()
	hits, err := r.Search(context.Background(), bossSession(), q, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	return hits[0].ID
}

func TestReviewer_Queue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAddress(t, st, "123 Main St", "Detroit")
	seedAddress(t, st, "4567 Oak Ave", "Dearborn")
	uploadOne(t, st, "D-1", "123 Main St", "Detroit")
	uploadOne(t, st, "D-2", "4567 Oak Ave", "Detroit")
	uploadOne(t, st, "D-3", "1 Nowhere Rd", "Detroit")

	r := NewReviewer(st, nil, nil)
	queue, err := r.Queue(ctx, bossSession(), nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "D-2", queue[0].DCN)
	assert.Equal(t, "D-3", queue[1].DCN)

	auto, err := r.Queue(ctx, bossSession(), []model.MatchStatus{model.MatchAutoMatched}, 0, 0)
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, "D-1", auto[0].DCN)

	_, err = r.Queue(ctx, bossSession(), []model.MatchStatus{"bogus"}, 0, 0)
	assert.True(t, model.IsValidation(err))
}
