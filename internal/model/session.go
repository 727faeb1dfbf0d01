// Package model defines the domain types shared by the matching engine, the
// attempt lifecycle and the persistence layer.
package model

import "github.com/rotisserie/eris"

// Role is the caller's role within a company.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleBoss   Role = "boss"
	RoleWorker Role = "worker"
)

// Session is the explicit caller context passed into every orchestrator,
// review and attempt operation.
type Session struct {
	CompanyID string `json:"company_id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role"`
}

// Validate checks that the session identifies a company and an actor.
func (s Session) Validate() error {
	if s.CompanyID == "" {
		return eris.New("session: company id is required")
	}
	if s.ActorID == "" {
		return eris.New("session: actor id is required")
	}
	switch s.Role {
	case RoleAdmin, RoleBoss, RoleWorker:
		return nil
	default:
		return eris.Errorf("session: unknown role %q", s.Role)
	}
}

// CanReview reports whether the session may confirm or reject DCN matches
// and inject attempts on a worker's behalf.
func (s Session) CanReview() bool {
	return s.Role == RoleAdmin || s.Role == RoleBoss
}
