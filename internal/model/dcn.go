package model

import (
	"time"
)

// MatchStatus is the lifecycle state of a DCNRecord.
type MatchStatus string

const (
	MatchUnmatched       MatchStatus = "unmatched"
	MatchPendingReview   MatchStatus = "pending_review"
	MatchAutoMatched     MatchStatus = "auto_matched"
	MatchManuallyMatched MatchStatus = "manually_matched"
	MatchRejected        MatchStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchUnmatched, MatchPendingReview, MatchAutoMatched, MatchManuallyMatched, MatchRejected:
		return true
	}
	return false
}

// Terminal reports whether no ordinary transition leaves s.
func (s MatchStatus) Terminal() bool {
	switch s {
	case MatchAutoMatched, MatchManuallyMatched, MatchRejected:
		return true
	}
	return false
}

// ReviewAction is a reviewer decision applied to a DCNRecord.
type ReviewAction string

const (
	ReviewConfirm ReviewAction = "confirm"
	ReviewReject  ReviewAction = "reject"
)

// NextMatchStatus is the single transition function for DCNRecord review.
// Only unmatched and pending_review records accept reviewer actions.
func NextMatchStatus(from MatchStatus, action ReviewAction) (MatchStatus, error) {
	if !from.Valid() {
		return "", NewValidationError("match_status", "unknown status "+string(from))
	}
	if from.Terminal() {
		return "", NewValidationError("match_status", "record is already "+string(from))
	}
	switch action {
	case ReviewConfirm:
		return MatchManuallyMatched, nil
	case ReviewReject:
		return MatchRejected, nil
	default:
		return "", NewValidationError("action", "unknown review action "+string(action))
	}
}

// MatchType names the resolver tier that produced a match.
type MatchType string

const (
	MatchTypeExact       MatchType = "exact"
	MatchTypeStreetExact MatchType = "street_exact"
	MatchTypeFuzzy       MatchType = "fuzzy"
)

// DCNMetadata holds the optional case columns carried by an upload row.
type DCNMetadata struct {
	DefendantFirstName string            `json:"defendant_first_name,omitempty"`
	DefendantLastName  string            `json:"defendant_last_name,omitempty"`
	CourtName          string            `json:"court_name,omitempty"`
	CaseNumber         string            `json:"case_number,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// DCNRecord is one uploaded case row.
type DCNRecord struct {
	ID                 string      `json:"id" db:"id"`
	CompanyID          string      `json:"company_id" db:"company_id"`
	DCN                string      `json:"dcn" db:"dcn"`
	RawAddress         string      `json:"raw_address" db:"raw_address"`
	City               string      `json:"city,omitempty" db:"city"`
	NormalizedKey      string      `json:"normalized_key" db:"normalized_key"`
	AddressID          *string     `json:"address_id,omitempty" db:"address_id"`
	SuggestedAddressID *string     `json:"suggested_address_id,omitempty" db:"suggested_address_id"`
	MatchStatus        MatchStatus `json:"match_status" db:"match_status"`
	MatchConfidence    *float64    `json:"match_confidence,omitempty" db:"match_confidence"`
	MatchType          *MatchType  `json:"match_type,omitempty" db:"match_type"`
	UploadBatchID      string      `json:"upload_batch_id" db:"upload_batch_id"`
	SourceRowNumber    int         `json:"source_row_number" db:"source_row_number"`
	Metadata           DCNMetadata `json:"metadata" db:"metadata"`
	ReviewedBy         *string     `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt         *time.Time  `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}

// BatchStatus is the lifecycle state of an upload batch.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// RowError is one stored validation failure from an upload.
type RowError struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Error string `json:"error"`
}

// DCNUploadBatch is one file-upload event and its aggregate outcome.
type DCNUploadBatch struct {
	ID               string      `json:"id" db:"id"`
	CompanyID        string      `json:"company_id" db:"company_id"`
	UploadedBy       string      `json:"uploaded_by" db:"uploaded_by"`
	Filename         string      `json:"filename" db:"filename"`
	TotalRows        int         `json:"total_rows" db:"total_rows"`
	ValidRows        int         `json:"valid_rows" db:"valid_rows"`
	InvalidRows      int         `json:"invalid_rows" db:"invalid_rows"`
	AutoMatched      int         `json:"auto_matched" db:"auto_matched"`
	PendingReview    int         `json:"pending_review" db:"pending_review"`
	Unmatched        int         `json:"unmatched" db:"unmatched"`
	ValidationErrors []RowError  `json:"validation_errors" db:"validation_errors"`
	Status           BatchStatus `json:"status" db:"status"`
	ErrorMessage     string      `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// Consistent reports whether the batch counters satisfy
// valid = auto + pending + unmatched and total = valid + invalid.
func (b *DCNUploadBatch) Consistent() bool {
	return b.ValidRows == b.AutoMatched+b.PendingReview+b.Unmatched &&
		b.TotalRows == b.ValidRows+b.InvalidRows
}
