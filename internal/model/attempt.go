package model

import (
	"time"
)

// AttemptStatus is the lifecycle state of a visit attempt. An address with no
// in-progress attempt is in the implicit "none" state.
type AttemptStatus string

const (
	AttemptNone       AttemptStatus = ""
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// AttemptEvent drives the attempt lifecycle.
type AttemptEvent string

const (
	EventCapture  AttemptEvent = "capture"
	EventFinalize AttemptEvent = "finalize"
)

// NextAttemptStatus is the single transition function for attempts:
//
//	none        --capture-->  in_progress
//	in_progress --capture-->  in_progress (extension)
//	in_progress --finalize--> completed
func NextAttemptStatus(from AttemptStatus, ev AttemptEvent) (AttemptStatus, error) {
	switch {
	case ev == EventCapture && (from == AttemptNone || from == AttemptInProgress):
		return AttemptInProgress, nil
	case ev == EventFinalize && from == AttemptInProgress:
		return AttemptCompleted, nil
	case ev == EventFinalize && from == AttemptNone:
		return "", NewValidationError("attempt", "no attempt in progress")
	case from == AttemptCompleted:
		return "", NewValidationError("attempt", "attempt already completed")
	default:
		return "", NewValidationError("attempt", "unknown transition "+string(from)+" -> "+string(ev))
	}
}

// Outcome is the recorded result of a finalized attempt.
type Outcome string

const (
	OutcomeNoAnswer           Outcome = "no_answer"
	OutcomeLeftWithCohabitant Outcome = "left_with_cohabitant"
	OutcomePosted             Outcome = "posted"
	OutcomeRefused            Outcome = "refused"
	OutcomeDoorTag            Outcome = "door_tag"
	OutcomeOther              Outcome = "other"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeNoAnswer, OutcomeLeftWithCohabitant, OutcomePosted, OutcomeRefused, OutcomeDoorTag, OutcomeOther:
		return true
	}
	return false
}

// Qualifier is a credit-bearing time-of-visit badge.
type Qualifier string

const (
	QualifierAM      Qualifier = "AM"
	QualifierPM      Qualifier = "PM"
	QualifierWeekend Qualifier = "WEEKEND"
)

// RequiredQualifiers is the default set an address must collect.
var RequiredQualifiers = []Qualifier{QualifierAM, QualifierPM, QualifierWeekend}

// Attempt is one physical visit to an address.
type Attempt struct {
	ID              string        `json:"id" db:"id"`
	AddressID       string        `json:"address_id" db:"address_id"`
	CompanyID       string        `json:"company_id" db:"company_id"`
	WorkerID        string        `json:"worker_id" db:"worker_id"`
	AttemptNumber   int           `json:"attempt_number" db:"attempt_number"`
	Status          AttemptStatus `json:"status" db:"status"`
	AttemptTime     time.Time     `json:"attempt_time" db:"attempt_time"`
	AttemptTimezone string        `json:"attempt_timezone" db:"attempt_timezone"`
	Qualifier       string        `json:"qualifier" db:"qualifier"`
	QualifierBadges []Qualifier   `json:"qualifier_badges" db:"qualifier_badges"`
	IsOutsideHours  bool          `json:"is_outside_hours" db:"is_outside_hours"`
	Outcome         *Outcome      `json:"outcome,omitempty" db:"outcome"`
	PhotoURLs       []string      `json:"photo_urls" db:"photo_urls"`
	Notes           string        `json:"notes" db:"notes"`
	Latitude        *float64      `json:"latitude,omitempty" db:"latitude"`
	Longitude       *float64      `json:"longitude,omitempty" db:"longitude"`
	DistanceFeet    *float64      `json:"distance_feet,omitempty" db:"distance_feet"`
	ManuallyEdited  bool          `json:"manually_edited" db:"manually_edited"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// HasBadge reports whether the attempt carries q.
func (a *Attempt) HasBadge(q Qualifier) bool {
	for _, b := range a.QualifierBadges {
		if b == q {
			return true
		}
	}
	return false
}
