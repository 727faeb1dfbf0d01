package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextMatchStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    MatchStatus
		action  ReviewAction
		want    MatchStatus
		wantErr bool
	}{
		{"pending confirm", MatchPendingReview, ReviewConfirm, MatchManuallyMatched, false},
		{"unmatched confirm", MatchUnmatched, ReviewConfirm, MatchManuallyMatched, false},
		{"pending reject", MatchPendingReview, ReviewReject, MatchRejected, false},
		{"unmatched reject", MatchUnmatched, ReviewReject, MatchRejected, false},
		{"auto matched is terminal", MatchAutoMatched, ReviewConfirm, "", true},
		{"manually matched is terminal", MatchManuallyMatched, ReviewReject, "", true},
		{"rejected is terminal", MatchRejected, ReviewConfirm, "", true},
		{"unknown status", MatchStatus("bogus"), ReviewConfirm, "", true},
		{"unknown action", MatchPendingReview, ReviewAction("undo"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextMatchStatus(tt.from, tt.action)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextAttemptStatus(t *testing.T) {
	got, err := NextAttemptStatus(AttemptNone, EventCapture)
	require.NoError(t, err)
	assert.Equal(t, AttemptInProgress, got)

	got, err = NextAttemptStatus(AttemptInProgress, EventCapture)
	require.NoError(t, err)
	assert.Equal(t, AttemptInProgress, got)

	got, err = NextAttemptStatus(AttemptInProgress, EventFinalize)
	require.NoError(t, err)
	assert.Equal(t, AttemptCompleted, got)

	_, err = NextAttemptStatus(AttemptNone, EventFinalize)
	assert.True(t, IsValidation(err))

	_, err = NextAttemptStatus(AttemptCompleted, EventFinalize)
	assert.True(t, IsValidation(err))
}

func TestBatchConsistent(t *testing.T) {
	b := &DCNUploadBatch{TotalRows: 10, ValidRows: 7, InvalidRows: 3, AutoMatched: 2, PendingReview: 4, Unmatched: 1}
	assert.True(t, b.Consistent())

	b.Unmatched = 2
	assert.False(t, b.Consistent())
}

func TestAddressLinkHelpers(t *testing.T) {
	id := "dcn-1"
	a := &Address{HasDCN: true, DCNID: &id}
	assert.True(t, a.LinkedTo("dcn-1"))
	assert.False(t, a.LinkedElsewhere("dcn-1"))
	assert.True(t, a.LinkedElsewhere("dcn-2"))

	free := &Address{}
	assert.False(t, free.LinkedElsewhere("dcn-1"))
}

func TestAttemptHasBadge(t *testing.T) {
	a := &Attempt{QualifierBadges: []Qualifier{QualifierAM, QualifierWeekend}}
	assert.True(t, a.HasBadge(QualifierAM))
	assert.True(t, a.HasBadge(QualifierWeekend))
	assert.False(t, a.HasBadge(QualifierPM))
	assert.False(t, (&Attempt{}).HasBadge(QualifierAM))
}

func TestSessionValidate(t *testing.T) {
	assert.NoError(t, Session{CompanyID: "c1", ActorID: "u1", Role: RoleBoss}.Validate())
	assert.Error(t, Session{ActorID: "u1", Role: RoleBoss}.Validate())
	assert.Error(t, Session{CompanyID: "c1", Role: RoleBoss}.Validate())
	assert.Error(t, Session{CompanyID: "c1", ActorID: "u1", Role: "guest"}.Validate())

	assert.True(t, Session{Role: RoleAdmin}.CanReview())
	assert.False(t, Session{Role: RoleWorker}.CanReview())
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsConflict(&ConflictError{Entity: "address", ID: "a1", Message: "linked"}))
	assert.True(t, IsNotFound(&NotFoundError{Entity: "address", ID: "a1"}))
	assert.True(t, IsParse(&ParseError{Filename: "x.csv"}))
	assert.True(t, IsForbidden(&ForbiddenError{Role: RoleWorker, Action: "review DCN matches"}))
	assert.False(t, IsValidation(&ForbiddenError{Role: RoleWorker}))
	assert.Equal(t, "role worker may not review DCN matches", (&ForbiddenError{Role: RoleWorker, Action: "review DCN matches"}).Error())
	assert.Equal(t, "row 3: dcn: DCN is required", (&ValidationError{Row: 3, Field: "dcn", Message: "DCN is required"}).Error())
}
