// Package attempt classifies visit times and drives the per-address attempt
// lifecycle: capture, finalize, supervisor injection and qualifier credit.
package attempt

import (
	"time"
	_ "time/tzdata" // service zone without a system zoneinfo

	"github.com/rotisserie/eris"

	"github.com/serveroute/serveroute/internal/model"
)

// Category is the time-of-visit bucket of an attempt.
type Category string

const (
	CategoryAM           Category = "AM"
	CategoryPM           Category = "PM"
	CategoryWeekend      Category = "WEEKEND"
	CategoryMidday       Category = "MIDDAY"
	CategoryOutsideHours Category = "OUTSIDE_HOURS"
)

var categoryLabels = map[Category]string{
	CategoryAM:           "Morning",
	CategoryPM:           "Evening",
	CategoryWeekend:      "Weekend",
	CategoryMidday:       "Midday (no qualifier)",
	CategoryOutsideHours: "Outside service hours",
}

// DefaultTimezone is the reference zone for service hours.
const DefaultTimezone = "America/Detroit"

const (
	noonHour    = 12
	eveningHour = 17
)

// Classification is the qualifier verdict for one instant.
type Classification struct {
	Category       Category          `json:"category"`
	Display        string            `json:"display"`
	IsOutsideHours bool              `json:"is_outside_hours"`
	Badges         []model.Qualifier `json:"badges"`
	LocalTime      time.Time         `json:"local_time"`
}

// Classifier buckets timestamps against service hours [StartHour, EndHour)
// in a fixed zone.
type Classifier struct {
	loc       *time.Location
	startHour int
	endHour   int
}

// NewClassifier loads tz (empty means DefaultTimezone) and validates the
// service window.
func NewClassifier(tz string, startHour, endHour int) (*Classifier, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, eris.Wrapf(err, "attempt: load timezone %s", tz)
	}
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return nil, eris.Errorf("attempt: invalid service hours [%d, %d)", startHour, endHour)
	}
	return &Classifier{loc: loc, startHour: startHour, endHour: endHour}, nil
}

// DefaultClassifier uses America/Detroit and 08:00 to 21:00.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultTimezone, 8, 21)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the reference zone.
func (c *Classifier) Location() *time.Location {
	return c.loc
}

// Classify never fails: a visit outside service hours is flagged, not
// rejected. Weekend beats AM and PM.
func (c *Classifier) Classify(t time.Time) Classification {
	local := t.In(c.loc)
	hour := local.Hour()

	var cat Category
	switch {
	case hour < c.startHour || hour >= c.endHour:
		cat = CategoryOutsideHours
	case local.Weekday() == time.Saturday || local.Weekday() == time.Sunday:
		cat = CategoryWeekend
	case hour < noonHour:
		cat = CategoryAM
	case hour >= eveningHour:
		cat = CategoryPM
	default:
		cat = CategoryMidday
	}

	cl := Classification{
		Category:       cat,
		Display:        categoryLabels[cat] + " - " + local.Format("Mon Jan 2, 3:04 PM MST"),
		IsOutsideHours: cat == CategoryOutsideHours,
		Badges:         []model.Qualifier{},
		LocalTime:      local,
	}
	switch cat {
	case CategoryAM:
		cl.Badges = append(cl.Badges, model.QualifierAM)
	case CategoryPM:
		cl.Badges = append(cl.Badges, model.QualifierPM)
	case CategoryWeekend:
		cl.Badges = append(cl.Badges, model.QualifierWeekend)
	}
	return cl
}

// QualifierStatus reports qualifier credit for an address.
type QualifierStatus struct {
	Satisfied []model.Qualifier `json:"satisfied"`
	Needed    []model.Qualifier `json:"needed"`
	Complete  bool              `json:"complete"`
}

// Needed computes which required qualifiers remain. Only completed attempts
// earn credit. A nil required set means model.RequiredQualifiers.
func Needed(attempts []model.Attempt, required []model.Qualifier) QualifierStatus {
	if required == nil {
		required = model.RequiredQualifiers
	}
	earned := func(q model.Qualifier) bool {
		for i := range attempts {
			if attempts[i].Status == model.AttemptCompleted && attempts[i].HasBadge(q) {
				return true
			}
		}
		return false
	}

	st := QualifierStatus{Satisfied: []model.Qualifier{}, Needed: []model.Qualifier{}}
	for _, q := range required {
		if earned(q) {
			st.Satisfied = append(st.Satisfied, q)
		} else {
			st.Needed = append(st.Needed, q)
		}
	}
	st.Complete = len(st.Needed) == 0
	return st
}
