package attempt

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/geo"
	"github.com/serveroute/serveroute/internal/lock"
	"github.com/serveroute/serveroute/internal/metrics"
	"github.com/serveroute/serveroute/internal/model"
	"github.com/serveroute/serveroute/internal/photo"
	"github.com/serveroute/serveroute/internal/store"
)

// DefaultGPSTimeout bounds how long a capture waits for a position fix.
const DefaultGPSTimeout = 3 * time.Second

// Store is the persistence the attempt lifecycle needs.
type Store interface {
	GetAddress(ctx context.Context, companyID, id string) (*model.Address, error)
	GetInProgressAttempt(ctx context.Context, companyID, addressID string) (*model.Attempt, error)
	CountAttempts(ctx context.Context, companyID, addressID string) (int, error)
	ListAttempts(ctx context.Context, filter store.AttemptFilter) ([]model.Attempt, error)
	CreateAttempt(ctx context.Context, a *model.Attempt) error
	ExtendAttempt(ctx context.Context, a *model.Attempt) error
	FinalizeAttempt(ctx context.Context, a *model.Attempt) error
	InsertCompletedAttempt(ctx context.Context, a *model.Attempt, audit *model.AuditEntry) error
}

// Locator reports the capturing device's position.
type Locator interface {
	Locate(ctx context.Context) (lat, lng float64, err error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (float64, float64, error)

// Locate calls f.
func (f LocatorFunc) Locate(ctx context.Context) (float64, float64, error) { return f(ctx) }

// Fixed returns a Locator for coordinates the client already supplied.
func Fixed(lat, lng float64) Locator {
	return LocatorFunc(func(context.Context) (float64, float64, error) { return lat, lng, nil })
}

// Options configures a Service.
type Options struct {
	Classifier *Classifier
	Locks      lock.Locker
	Photos     photo.Store
	GPSTimeout time.Duration
	Metrics    *metrics.Metrics
}

// Service runs the attempt state machine for one company at a time.
type Service struct {
	store      Store
	classifier *Classifier
	locks      lock.Locker
	photos     photo.Store
	gpsTimeout time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a Service. Missing options fall back to the default
// classifier, an in-process lock and a 3s GPS budget.
func NewService(st Store, opts Options) *Service {
	s := &Service{
		store:      st,
		classifier: opts.Classifier,
		locks:      opts.Locks,
		photos:     opts.Photos,
		gpsTimeout: opts.GPSTimeout,
		metrics:    opts.Metrics,
		now:        time.Now,
	}
	if s.classifier == nil {
		s.classifier = DefaultClassifier()
	}
	if s.locks == nil {
		s.locks = lock.NewMemory()
	}
	if s.gpsTimeout <= 0 {
		s.gpsTimeout = DefaultGPSTimeout
	}
	return s
}

// Classifier returns the service's qualifier classifier.
func (s *Service) Classifier() *Classifier {
	return s.classifier
}

// CaptureInput is one piece of evidence from the field. Exactly one of Photo
// or PhotoURL carries the image.
type CaptureInput struct {
	AddressID        string
	Photo            []byte
	PhotoContentType string
	PhotoURL         string
	Notes            string
	Locator          Locator
}

// CaptureResult is the attempt after a capture.
type CaptureResult struct {
	Attempt        *model.Attempt `json:"attempt"`
	Created        bool           `json:"created"`
	Classification Classification `json:"classification"`
}

// Capture starts an attempt or extends the address's in-progress attempt.
// Captures for one address are serialized, so two near-simultaneous captures
// yield one attempt carrying both photos.
func (s *Service) Capture(ctx context.Context, sess model.Session, in CaptureInput) (*CaptureResult, error) {
	if err := sess.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	addr, err := s.store.GetAddress(ctx, sess.CompanyID, in.AddressID)
	if err != nil {
		return nil, eris.Wrap(err, "attempt: capture")
	}

	url, err := s.storePhoto(ctx, sess.CompanyID, addr.ID, in)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, lockKey(sess.CompanyID, addr.ID))
	if err != nil {
		return nil, eris.Wrapf(err, "attempt: lock address %s", addr.ID)
	}
	defer unlock()

	cur, err := s.store.GetInProgressAttempt(ctx, sess.CompanyID, addr.ID)
	if err != nil {
		return nil, eris.Wrap(err, "attempt: capture")
	}
	if _, err := model.NextAttemptStatus(statusOf(cur), model.EventCapture); err != nil {
		return nil, err
	}

	if cur != nil {
		cur.PhotoURLs = append(cur.PhotoURLs, url)
		cur.Notes = joinNotes(cur.Notes, in.Notes)
		if err := s.store.ExtendAttempt(ctx, cur); err != nil {
			return nil, eris.Wrapf(err, "attempt: extend %s", cur.ID)
		}
		s.metrics.Attempt("extended")
		zap.L().Debug("attempt: extended",
			zap.String("attempt_id", cur.ID),
			zap.String("address_id", addr.ID),
			zap.Int("photos", len(cur.PhotoURLs)),
		)
		return &CaptureResult{Attempt: cur, Classification: s.classifier.Classify(cur.AttemptTime)}, nil
	}

	n, err := s.store.CountAttempts(ctx, sess.CompanyID, addr.ID)
	if err != nil {
		return nil, eris.Wrap(err, "attempt: count attempts")
	}
	at := s.now()
	cl := s.classifier.Classify(at)
	a := &model.Attempt{
		AddressID:       addr.ID,
		CompanyID:       sess.CompanyID,
		WorkerID:        sess.ActorID,
		AttemptNumber:   n + 1,
		Status:          model.AttemptInProgress,
		AttemptTime:     at.UTC(),
		AttemptTimezone: s.classifier.Location().String(),
		Qualifier:       string(cl.Category),
		QualifierBadges: cl.Badges,
		IsOutsideHours:  cl.IsOutsideHours,
		PhotoURLs:       []string{url},
		Notes:           strings.TrimSpace(in.Notes),
	}
	s.locate(ctx, addr, in.Locator, a)

	if err := s.store.CreateAttempt(ctx, a); err != nil {
		return nil, eris.Wrapf(err, "attempt: create for %s", addr.ID)
	}
	s.metrics.Attempt("captured")

	log := zap.L().With(
		zap.String("attempt_id", a.ID),
		zap.String("address_id", addr.ID),
		zap.String("worker_id", sess.ActorID),
		zap.Int("attempt_number", a.AttemptNumber),
		zap.String("qualifier", a.Qualifier),
	)
	if cl.IsOutsideHours {
		log.Warn("attempt: captured outside service hours")
	} else {
		log.Info("attempt: captured")
	}
	return &CaptureResult{Attempt: a, Created: true, Classification: cl}, nil
}

func (s *Service) storePhoto(ctx context.Context, companyID, addressID string, in CaptureInput) (string, error) {
	if url := strings.TrimSpace(in.PhotoURL); url != "" {
		return url, nil
	}
	if len(in.Photo) == 0 {
		return "", model.NewValidationError("photo", "a photo is required")
	}
	if s.photos == nil {
		return "", eris.New("attempt: no photo store configured")
	}
	ct, ext, err := photo.Sniff(in.Photo, in.PhotoContentType)
	if err != nil {
		return "", model.NewValidationError("photo", err.Error())
	}
	url, err := s.photos.Put(ctx, photo.ObjectKey(companyID, addressID, ext), ct, in.Photo)
	if err != nil {
		return "", eris.Wrap(err, "attempt: store photo")
	}
	return url, nil
}

// locate fills coordinates and distance to the address. A missing, slow or
// failing locator leaves them nil.
func (s *Service) locate(ctx context.Context, addr *model.Address, loc Locator, a *model.Attempt) {
	if loc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.gpsTimeout)
	defer cancel()

	type fix struct {
		lat, lng float64
		err      error
	}
	ch := make(chan fix, 1)
	go func() {
		lat, lng, err := loc.Locate(ctx)
		ch <- fix{lat, lng, err}
	}()

	var f fix
	select {
	case f = <-ch:
	case <-ctx.Done():
		f.err = ctx.Err()
	}

	p := geo.Point(f.lat, f.lng)
	if f.err != nil || !geo.Valid(p) {
		s.metrics.GPSFailure()
		zap.L().Warn("attempt: gps unavailable", zap.String("address_id", addr.ID), zap.Error(f.err))
		return
	}
	a.Latitude, a.Longitude = &f.lat, &f.lng

	if target := geo.PointFrom(addr.Latitude, addr.Longitude); target != nil {
		d := geo.DistanceFeet(p, target)
		a.DistanceFeet = &d
	}
}

// FinalizeInput closes the in-progress attempt.
type FinalizeInput struct {
	AddressID string
	Outcome   model.Outcome
	Notes     string
}

// Finalize completes the in-progress attempt. At least one photo is
// required. Notes are required unless the address is a posting, which always
// finalizes as posted.
func (s *Service) Finalize(ctx context.Context, sess model.Session, in FinalizeInput) (*model.Attempt, error) {
	if err := sess.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	addr, err := s.store.GetAddress(ctx, sess.CompanyID, in.AddressID)
	if err != nil {
		return nil, eris.Wrap(err, "attempt: finalize")
	}

	unlock, err := s.locks.Lock(ctx, lockKey(sess.CompanyID, addr.ID))
	if err != nil {
		return nil, eris.Wrapf(err, "attempt: lock address %s", addr.ID)
	}
	defer unlock()

	cur, err := s.store.GetInProgressAttempt(ctx, sess.CompanyID, addr.ID)
	if err != nil {
		return nil, eris.Wrap(err, "attempt: finalize")
	}
	to, err := model.NextAttemptStatus(statusOf(cur), model.EventFinalize)
	if err != nil {
		return nil, err
	}

	notes := joinNotes(cur.Notes, in.Notes)
	outcome, err := finalizeOutcome(addr.ServeType, in.Outcome, notes, len(cur.PhotoURLs))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cur.Status = to
	cur.Outcome = &outcome
	cur.Notes = notes
	cur.CompletedAt = &now
	if err := s.store.FinalizeAttempt(ctx, cur); err != nil {
		return nil, eris.Wrapf(err, "attempt: finalize %s", cur.ID)
	}
	s.metrics.Attempt("finalized")
	zap.L().Info("attempt: finalized",
		zap.String("attempt_id", cur.ID),
		zap.String("address_id", addr.ID),
		zap.String("outcome", string(outcome)),
	)
	return cur, nil
}

// finalizeOutcome checks the finalize preconditions and resolves the
// outcome. photos < 0 skips the photo check.
func finalizeOutcome(st model.ServeType, requested model.Outcome, notes string, photos int) (model.Outcome, error) {
	if photos == 0 {
		return "", model.NewValidationError("photo_urls", "at least one photo is required")
	}
	if st == model.ServeTypePosting {
		return model.OutcomePosted, nil
	}
	if strings.TrimSpace(notes) == "" {
		return "", model.NewValidationError("notes", "notes are required")
	}
	if !requested.Valid() {
		return "", model.NewValidationError("outcome", "a valid outcome is required")
	}
	return requested, nil
}

// ManualInput is a completed attempt a supervisor records for a worker.
type ManualInput struct {
	AddressID   string
	WorkerID    string
	AttemptTime time.Time
	Outcome     model.Outcome
	Notes       string
	PhotoURLs   []string
}

// ManualAttempt injects a completed, manually edited attempt with the same
// numbering and address bookkeeping as Finalize. It is refused while an
// attempt is in progress.
func (s *Service) ManualAttempt(ctx context.Context, sess model.Session, in ManualInput) (*model.Attempt, error) {
	if err := sess.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	if !sess.CanReview() {
		return nil, &model.ForbiddenError{Role: sess.Role, Action: "record manual attempts"}
	}
	if in.AttemptTime.IsZero() {
		return nil, model.NewValidationError("attempt_time", "attempt time is required")
	}
	if in.AttemptTime.After(s.now()) {
		return nil, model.NewValidationError("attempt_time", "attempt time is in the future")
	}
	addr, err := s.store.GetAddress(ctx, sess.CompanyID, in.AddressID)
	if err != nil {
		return nil, eris.Wrap(err, "attempt: manual")
	}
	outcome, err := finalizeOutcome(addr.ServeType, in.Outcome, in.Notes, -1)
	if err != nil {
		return nil, err
	}
	worker := in.WorkerID
	if worker == "" {
		worker = sess.ActorID
	}

	unlock, err := s.locks.Lock(ctx, lockKey(sess.CompanyID, addr.ID))
	if err != nil {
		return nil, eris.Wrapf(err, "attempt: lock address %s", addr.ID)
	}
	defer unlock()

	cur, err := s.store.GetInProgressAttempt(ctx, sess.CompanyID, addr.ID)
	if err != nil {
		return nil, eris.Wrap(err, "attempt: manual")
	}
	if cur != nil {
		return nil, &model.ConflictError{Entity: "attempt", ID: cur.ID, Message: "finalize the in-progress attempt first"}
	}
	n, err := s.store.CountAttempts(ctx, sess.CompanyID, addr.ID)
	if err != nil {
		return nil, eris.Wrap(err, "attempt: count attempts")
	}

	cl := s.classifier.Classify(in.AttemptTime)
	now := s.now().UTC()
	photos := in.PhotoURLs
	if photos == nil {
		photos = []string{}
	}
	a := &model.Attempt{
		AddressID:       addr.ID,
		CompanyID:       sess.CompanyID,
		WorkerID:        worker,
		AttemptNumber:   n + 1,
		Status:          model.AttemptCompleted,
		AttemptTime:     in.AttemptTime.UTC(),
		AttemptTimezone: s.classifier.Location().String(),
		Qualifier:       string(cl.Category),
		QualifierBadges: cl.Badges,
		IsOutsideHours:  cl.IsOutsideHours,
		Outcome:         &outcome,
		PhotoURLs:       photos,
		Notes:           strings.TrimSpace(in.Notes),
		ManuallyEdited:  true,
		CompletedAt:     &now,
	}
	audit := model.NewAuditEntry(sess, model.EntityAttempt, "", model.ActionManual,
		string(model.AttemptNone), string(model.AttemptCompleted), map[string]any{
			"address_id":   addr.ID,
			"worker_id":    worker,
			"attempt_time": a.AttemptTime.Format(time.RFC3339),
			"outcome":      string(outcome),
		})
	if err := s.store.InsertCompletedAttempt(ctx, a, audit); err != nil {
		return nil, eris.Wrapf(err, "attempt: insert manual attempt for %s", addr.ID)
	}
	s.metrics.Attempt("manual")
	zap.L().Info("attempt: manual attempt recorded",
		zap.String("attempt_id", a.ID),
		zap.String("address_id", addr.ID),
		zap.String("actor_id", sess.ActorID),
		zap.String("worker_id", worker),
	)
	return a, nil
}

// NeededQualifiers reports which of AM, PM and WEEKEND the address still
// lacks.
func (s *Service) NeededQualifiers(ctx context.Context, sess model.Session, addressID string) (QualifierStatus, error) {
	if err := sess.Validate(); err != nil {
		return QualifierStatus{}, model.NewValidationError("session", err.Error())
	}
	if _, err := s.store.GetAddress(ctx, sess.CompanyID, addressID); err != nil {
		return QualifierStatus{}, eris.Wrap(err, "attempt: needed qualifiers")
	}
	done, err := s.store.ListAttempts(ctx, store.AttemptFilter{
		CompanyID: sess.CompanyID,
		AddressID: addressID,
		Status:    model.AttemptCompleted,
	})
	if err != nil {
		return QualifierStatus{}, eris.Wrap(err, "attempt: list completed attempts")
	}
	return Needed(done, nil), nil
}

// Attempts lists every attempt at an address in number order.
func (s *Service) Attempts(ctx context.Context, sess model.Session, addressID string) ([]model.Attempt, error) {
	if err := sess.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	out, err := s.store.ListAttempts(ctx, store.AttemptFilter{CompanyID: sess.CompanyID, AddressID: addressID})
	if err != nil {
		return nil, eris.Wrap(err, "attempt: list attempts")
	}
	return out, nil
}

func statusOf(a *model.Attempt) model.AttemptStatus {
	if a == nil {
		return model.AttemptNone
	}
	return a.Status
}

func lockKey(companyID, addressID string) string {
	return "attempt:" + companyID + ":" + addressID
}

// joinNotes appends next to prev with a blank line between them.
func joinNotes(prev, next string) string {
	prev, next = strings.TrimSpace(prev), strings.TrimSpace(next)
	switch {
	case prev == "":
		return next
	case next == "":
		return prev
	default:
		return prev + "\n\n" + next
	}
}
