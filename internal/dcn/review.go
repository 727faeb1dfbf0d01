package dcn

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/address"
	"github.com/serveroute/serveroute/internal/metrics"
	"github.com/serveroute/serveroute/internal/model"
	"github.com/serveroute/serveroute/internal/store"
)

// DefaultSearchLimit caps address search results.
const DefaultSearchLimit = 25

// Reviewer applies reviewer decisions to DCN records.
type Reviewer struct {
	store   Store
	norm    *address.Normalizer
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReviewer creates a Reviewer. A nil normalizer uses the default tables.
func NewReviewer(st Store, norm *address.Normalizer, m *metrics.Metrics) *Reviewer {
	if norm == nil {
		norm = address.Default()
	}
	return &Reviewer{store: st, norm: norm, metrics: m, now: time.Now}
}

func (r *Reviewer) authorize(s model.Session) error {
	if err := s.Validate(); err != nil {
		return model.NewValidationError("session", err.Error())
	}
	if !s.CanReview() {
		return &model.ForbiddenError{Role: s.Role, Action: "review DCN matches"}
	}
	return nil
}

// Confirm links the record to addressID. An empty addressID confirms the
// record's suggested address. A target address carrying a different DCN is a
// ConflictError and leaves both the record and the address unchanged.
func (r *Reviewer) Confirm(ctx context.Context, s model.Session, recordID, addressID string) (*model.DCNRecord, error) {
	if err := r.authorize(s); err != nil {
		return nil, err
	}
	rec, err := r.store.GetDCNRecord(ctx, s.CompanyID, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "dcn: confirm")
	}
	if addressID == "" && rec.SuggestedAddressID != nil {
		addressID = *rec.SuggestedAddressID
	}
	if addressID == "" {
		return nil, model.NewValidationError("address_id", "an address is required to confirm")
	}
	to, err := model.NextMatchStatus(rec.MatchStatus, model.ReviewConfirm)
	if err != nil {
		return nil, err
	}

	// Pre-check for a clear message; the store repeats it under lock.
	addr, err := r.store.GetAddress(ctx, s.CompanyID, addressID)
	if err != nil {
		return nil, eris.Wrap(err, "dcn: confirm")
	}
	if addr.LinkedElsewhere(rec.ID) {
		return nil, &model.ConflictError{Entity: "address", ID: addr.ID, Message: "already linked to another DCN"}
	}

	details := map[string]any{"address_id": addressID}
	if rec.SuggestedAddressID != nil && *rec.SuggestedAddressID != addressID {
		details["suggested_address_id"] = *rec.SuggestedAddressID
	}
	return r.apply(ctx, s, rec, to, addressID, model.ActionConfirm, details)
}

// Reject marks the record rejected and clears any suggestion. The address is
// untouched.
func (r *Reviewer) Reject(ctx context.Context, s model.Session, recordID string) (*model.DCNRecord, error) {
	if err := r.authorize(s); err != nil {
		return nil, err
	}
	rec, err := r.store.GetDCNRecord(ctx, s.CompanyID, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "dcn: reject")
	}
	to, err := model.NextMatchStatus(rec.MatchStatus, model.ReviewReject)
	if err != nil {
		return nil, err
	}
	var details map[string]any
	if rec.SuggestedAddressID != nil {
		details = map[string]any{"suggested_address_id": *rec.SuggestedAddressID}
	}
	return r.apply(ctx, s, rec, to, "", model.ActionReject, details)
}

func (r *Reviewer) apply(ctx context.Context, s model.Session, rec *model.DCNRecord, to model.MatchStatus, addressID, action string, details map[string]any) (*model.DCNRecord, error) {
	from := rec.MatchStatus
	out, err := r.store.ApplyReview(ctx, store.ReviewUpdate{
		CompanyID:  s.CompanyID,
		RecordID:   rec.ID,
		From:       from,
		To:         to,
		AddressID:  addressID,
		ReviewedBy: s.ActorID,
		ReviewedAt: r.now().UTC(),
		Audit:      model.NewAuditEntry(s, model.EntityDCNRecord, rec.ID, action, string(from), string(to), details),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dcn: %s record %s", action, rec.ID)
	}

	r.metrics.ReviewTransition(string(from), string(to))
	zap.L().Info("dcn: review applied",
		zap.String("company_id", s.CompanyID),
		zap.String("record_id", rec.ID),
		zap.String("actor_id", s.ActorID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return out, nil
}

// LinkAddress is the search-and-link path: it confirms recordID against an
// address picked from Search.
func (r *Reviewer) LinkAddress(ctx context.Context, s model.Session, recordID, addressID string) (*model.DCNRecord, error) {
	if addressID == "" {
		return nil, model.NewValidationError("address_id", "an address is required to link")
	}
	return r.Confirm(ctx, s, recordID, addressID)
}

// Search returns unlinked company addresses whose display address or
// normalized key contains query, case-insensitively. The query is also
// normalized so "123 Main Street" finds "123 MAIN ST".
func (r *Reviewer) Search(ctx context.Context, s model.Session, query string, limit int) ([]model.Address, error) {
	if err := s.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []model.Address{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	nq := r.norm.Street(query)

	all, err := r.store.ListAddresses(ctx, store.AddressFilter{
		CompanyID:    s.CompanyID,
		UnlinkedOnly: true,
		Limit:        candidateLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "dcn: search addresses")
	}

	out := make([]model.Address, 0, limit)
	for i := range all {
		a := &all[i]
		if a.HasDCN {
			continue
		}
		if strings.Contains(strings.ToLower(a.DisplayAddress()), q) ||
			strings.Contains(a.NormalizedKey, q) ||
			(nq != "" && strings.Contains(a.NormalizedKey, nq)) {
			out = append(out, *a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Queue lists records awaiting a decision. With no statuses it returns
// pending_review and unmatched records.
func (r *Reviewer) Queue(ctx context.Context, s model.Session, statuses []model.MatchStatus, limit, offset int) ([]model.DCNRecord, error) {
	if err := s.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	if len(statuses) == 0 {
		statuses = []model.MatchStatus{model.MatchPendingReview, model.MatchUnmatched}
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, model.NewValidationError("status", "unknown status "+string(st))
		}
	}
	recs, err := r.store.ListDCNRecords(ctx, store.DCNFilter{
		CompanyID: s.CompanyID,
		Statuses:  statuses,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, eris.Wrap(err, "dcn: list review queue")
	}
	return recs, nil
}

// Audit returns the audit trail of one record, oldest first.
func (r *Reviewer) Audit(ctx context.Context, s model.Session, recordID string) ([]model.AuditEntry, error) {
	if err := s.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	if _, err := r.store.GetDCNRecord(ctx, s.CompanyID, recordID); err != nil {
		return nil, eris.Wrap(err, "dcn: audit")
	}
	entries, err := r.store.ListAudit(ctx, s.CompanyID, model.EntityDCNRecord, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "dcn: list audit")
	}
	return entries, nil
}
