// Package store persists addresses, DCN records, upload batches, attempts
// and the audit trail. Every read and write is scoped to a company.
package store

import (
	"context"
	"time"

	"github.com/serveroute/serveroute/internal/model"
)

// AddressFilter specifies criteria for listing addresses.
type AddressFilter struct {
	CompanyID    string `json:"company_id"`
	RouteID      string `json:"route_id,omitempty"`
	UnlinkedOnly bool   `json:"unlinked_only,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// DCNFilter specifies criteria for listing DCN records.
type DCNFilter struct {
	CompanyID     string              `json:"company_id"`
	Statuses      []model.MatchStatus `json:"statuses,omitempty"`
	UploadBatchID string              `json:"upload_batch_id,omitempty"`
	Limit         int                 `json:"limit,omitempty"`
	Offset        int                 `json:"offset,omitempty"`
}

// BatchFilter specifies criteria for listing upload batches.
type BatchFilter struct {
	CompanyID string `json:"company_id"`
	Limit     int    `json:"limit,omitempty"`
}

// ReviewUpdate is a reviewer-driven DCN transition applied atomically.
// The record must still be in From; otherwise the update is a ConflictError.
type ReviewUpdate struct {
	CompanyID  string
	RecordID   string
	From       model.MatchStatus
	To         model.MatchStatus
	AddressID  string // required when To is manually_matched
	ReviewedBy string
	ReviewedAt time.Time
	Audit      *model.AuditEntry
}

// AttemptFilter specifies criteria for listing attempts.
type AttemptFilter struct {
	CompanyID string              `json:"company_id"`
	AddressID string              `json:"address_id"`
	Status    model.AttemptStatus `json:"status,omitempty"`
}

const defaultListLimit = 100

// Store defines the persistence interface for the matching and attempt core.
type Store interface {
	// Addresses
	UpsertAddresses(ctx context.Context, addrs []model.Address) (int64, error)
	GetAddress(ctx context.Context, companyID, id string) (*model.Address, error)
	ListAddresses(ctx context.Context, filter AddressFilter) ([]model.Address, error)

	// DCN records
	ListDCNValues(ctx context.Context, companyID string) ([]string, error)
	// CreateDCNRecord inserts rec. When rec is auto_matched the address link
	// is written in the same transaction and an already-linked address is a
	// ConflictError with nothing persisted.
	CreateDCNRecord(ctx context.Context, rec *model.DCNRecord, audit *model.AuditEntry) error
	GetDCNRecord(ctx context.Context, companyID, id string) (*model.DCNRecord, error)
	ListDCNRecords(ctx context.Context, filter DCNFilter) ([]model.DCNRecord, error)
	ApplyReview(ctx context.Context, upd ReviewUpdate) (*model.DCNRecord, error)

	// Upload batches
	CreateBatch(ctx context.Context, b *model.DCNUploadBatch) error
	// CompleteBatch writes final counters once; a batch no longer processing
	// is a ConflictError.
	CompleteBatch(ctx context.Context, b *model.DCNUploadBatch) error
	GetBatch(ctx context.Context, companyID, id string) (*model.DCNUploadBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.DCNUploadBatch, error)

	// Attempts
	GetInProgressAttempt(ctx context.Context, companyID, addressID string) (*model.Attempt, error)
	CountAttempts(ctx context.Context, companyID, addressID string) (int, error)
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.Attempt, error)
	// CreateAttempt inserts an in-progress attempt. A second in-progress
	// attempt for the same address is a ConflictError.
	CreateAttempt(ctx context.Context, a *model.Attempt) error
	// ExtendAttempt replaces photo_urls and notes of an in-progress attempt.
	ExtendAttempt(ctx context.Context, a *model.Attempt) error
	// FinalizeAttempt completes an in-progress attempt and updates the
	// address bookkeeping in one transaction.
	FinalizeAttempt(ctx context.Context, a *model.Attempt) error
	// InsertCompletedAttempt records an already-completed attempt with the
	// same address bookkeeping and audit entry in one transaction.
	InsertCompletedAttempt(ctx context.Context, a *model.Attempt, audit *model.AuditEntry) error

	// Audit
	ListAudit(ctx context.Context, companyID, entityType, entityID string) ([]model.AuditEntry, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
