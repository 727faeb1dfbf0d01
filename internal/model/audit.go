package model

import (
	"encoding/json"
	"time"
)

// Audit entity types.
const (
	EntityDCNRecord = "dcn_record"
	EntityAttempt   = "attempt"
)

// Audit actions.
const (
	ActionAutoMatch = "auto_match"
	ActionConfirm   = "confirm"
	ActionReject    = "reject"
	ActionManual    = "manual_attempt"
)

// AuditEntry is one append-only compliance record of a state change.
type AuditEntry struct {
	ID           string          `json:"id" db:"id"`
	CompanyID    string          `json:"company_id" db:"company_id"`
	ActorID      string          `json:"actor_id" db:"actor_id"`
	ActorRole    Role            `json:"actor_role" db:"actor_role"`
	EntityType   string          `json:"entity_type" db:"entity_type"`
	EntityID     string          `json:"entity_id" db:"entity_id"`
	Action       string          `json:"action" db:"action"`
	BeforeStatus string          `json:"before_status" db:"before_status"`
	AfterStatus  string          `json:"after_status" db:"after_status"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// NewAuditEntry stamps an entry for the session's actor.
func NewAuditEntry(s Session, entityType, entityID, action, before, after string, details map[string]any) *AuditEntry {
	var raw json.RawMessage
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			raw = b
		}
	}
	return &AuditEntry{
		CompanyID:    s.CompanyID,
		ActorID:      s.ActorID,
		ActorRole:    s.Role,
		EntityType:   entityType,
		EntityID:     entityID,
		Action:       action,
		BeforeStatus: before,
		AfterStatus:  after,
		Details:      raw,
		CreatedAt:    time.Now().UTC(),
	}
}
