package dcn

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/metrics"
	"github.com/serveroute/serveroute/internal/model"
	"github.com/serveroute/serveroute/internal/resilience"
	"github.com/serveroute/serveroute/internal/store"
)

// Store is the persistence the matching workflow needs.
type Store interface {
	ListAddresses(ctx context.Context, filter store.AddressFilter) ([]model.Address, error)
	GetAddress(ctx context.Context, companyID, id string) (*model.Address, error)
	ListDCNValues(ctx context.Context, companyID string) ([]string, error)
	CreateDCNRecord(ctx context.Context, rec *model.DCNRecord, audit *model.AuditEntry) error
	GetDCNRecord(ctx context.Context, companyID, id string) (*model.DCNRecord, error)
	ListDCNRecords(ctx context.Context, filter store.DCNFilter) ([]model.DCNRecord, error)
	ApplyReview(ctx context.Context, upd store.ReviewUpdate) (*model.DCNRecord, error)
	CreateBatch(ctx context.Context, b *model.DCNUploadBatch) error
	CompleteBatch(ctx context.Context, b *model.DCNUploadBatch) error
	GetBatch(ctx context.Context, companyID, id string) (*model.DCNUploadBatch, error)
	ListBatches(ctx context.Context, filter store.BatchFilter) ([]model.DCNUploadBatch, error)
	ListAudit(ctx context.Context, companyID, entityType, entityID string) ([]model.AuditEntry, error)
}

const (
	// MsgCancelled is appended to a batch whose processing was interrupted.
	MsgCancelled = "processing cancelled"
	// MsgSaveFailed prefixes the row error of a record the store would not
	// accept; the store's message follows it.
	MsgSaveFailed = "Failed to save record"
	// FieldRecord is the row error field for persistence failures.
	FieldRecord = "record"
)

// candidateLimit bounds how many unlinked addresses are loaded per batch.
const candidateLimit = 50000

// ProcessConfig holds the batch classification thresholds.
type ProcessConfig struct {
	AutoMatchThreshold  float64
	PendingReviewFloor  float64
	MaxValidationErrors int
}

// DefaultProcessConfig returns auto-match at 0.95, review at 0.75 and a cap
// of 50 stored validation errors.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		AutoMatchThreshold:  0.95,
		PendingReviewFloor:  0.75,
		MaxValidationErrors: 50,
	}
}

// Classify maps a match to the status a new record starts in.
func (c ProcessConfig) Classify(m *Match) model.MatchStatus {
	switch {
	case m == nil:
		return model.MatchUnmatched
	case m.Confidence >= c.AutoMatchThreshold:
		return model.MatchAutoMatched
	case m.Confidence >= c.PendingReviewFloor:
		return model.MatchPendingReview
	default:
		return model.MatchUnmatched
	}
}

// Processor runs one upload end to end: parse, validate, match, persist.
type Processor struct {
	store    Store
	parser   *Parser
	resolver *Resolver
	cfg      ProcessConfig
	retry    resilience.RetryConfig
	metrics  *metrics.Metrics
}

// NewProcessor wires a Processor.
func NewProcessor(st Store, parser *Parser, resolver *Resolver, cfg ProcessConfig, retry resilience.RetryConfig, m *metrics.Metrics) *Processor {
	if parser == nil {
		parser = NewParser(nil)
	}
	if resolver == nil {
		resolver = NewResolver(nil, DefaultMatchConfig())
	}
	if cfg.MaxValidationErrors <= 0 {
		cfg.MaxValidationErrors = DefaultProcessConfig().MaxValidationErrors
	}
	return &Processor{store: st, parser: parser, resolver: resolver, cfg: cfg, retry: retry, metrics: m}
}

// batchRun is the mutable state of one Process call.
type batchRun struct {
	batch      *model.DCNUploadBatch
	seen       map[string]bool
	candidates []model.Address
	byID       map[string]int
}

// Process ingests one uploaded file for the session's company. Row problems
// are recorded on the returned batch; an error is returned only when the
// batch could not be created, the file could not be parsed or the company
// data could not be loaded. In the last two cases the batch is marked failed.
func (p *Processor) Process(ctx context.Context, s model.Session, filename string, content []byte) (*model.DCNUploadBatch, error) {
	if err := s.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	if !s.CanReview() {
		return nil, &model.ForbiddenError{Role: s.Role, Action: "upload DCN files"}
	}

	start := time.Now()
	batch := &model.DCNUploadBatch{
		CompanyID:        s.CompanyID,
		UploadedBy:       s.ActorID,
		Filename:         filename,
		ValidationErrors: []model.RowError{},
	}
	if err := resilience.Do(ctx, p.retryConfig("create_batch"), func(ctx context.Context) error {
		return p.store.CreateBatch(ctx, batch)
	}); err != nil {
		return nil, eris.Wrap(err, "dcn: create batch")
	}

	log := zap.L().With(
		zap.String("batch_id", batch.ID),
		zap.String("company_id", s.CompanyID),
		zap.String("filename", filename),
	)

	rows, err := p.parser.ParseFile(ctx, filename, content)
	if err != nil {
		log.Warn("dcn: parse failed", zap.Error(err))
		p.fail(ctx, batch, err, start)
		return batch, err
	}

	run, err := p.load(ctx, batch)
	if err != nil {
		log.Error("dcn: load company data failed", zap.Error(err))
		p.fail(ctx, batch, err, start)
		return batch, err
	}

	for i, raw := range rows {
		if ctx.Err() != nil {
			log.Warn("dcn: processing cancelled", zap.Int("rows_done", i), zap.Int("rows_total", len(rows)))
			batch.ValidationErrors = append(batch.ValidationErrors, model.RowError{Field: "batch", Error: MsgCancelled})
			break
		}
		p.processRow(ctx, s, run, RowFromMap(i+2, raw), log)
	}

	p.complete(ctx, batch, model.BatchCompleted, start)
	log.Info("dcn: batch processed",
		zap.Int("total_rows", batch.TotalRows),
		zap.Int("auto_matched", batch.AutoMatched),
		zap.Int("pending_review", batch.PendingReview),
		zap.Int("unmatched", batch.Unmatched),
		zap.Int("invalid_rows", batch.InvalidRows),
	)
	return batch, nil
}

func (p *Processor) load(ctx context.Context, batch *model.DCNUploadBatch) (*batchRun, error) {
	values, err := p.store.ListDCNValues(ctx, batch.CompanyID)
	if err != nil {
		return nil, eris.Wrap(err, "dcn: list existing dcns")
	}
	candidates, err := p.store.ListAddresses(ctx, store.AddressFilter{
		CompanyID:    batch.CompanyID,
		UnlinkedOnly: true,
		Limit:        candidateLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "dcn: list candidate addresses")
	}

	run := &batchRun{
		batch:      batch,
		seen:       make(map[string]bool, len(values)),
		candidates: candidates,
		byID:       make(map[string]int, len(candidates)),
	}
	for _, v := range values {
		run.seen[v] = true
	}
	for i := range candidates {
		run.byID[candidates[i].ID] = i
	}
	return run, nil
}

func (p *Processor) processRow(ctx context.Context, s model.Session, run *batchRun, row Row, log *zap.Logger) {
	b := run.batch
	b.TotalRows++

	if verr := row.Validate(); verr != nil {
		p.invalid(run, row.Number, verr.Field, verr.Message)
		return
	}
	if run.seen[row.DCN] {
		p.invalid(run, row.Number, FieldDCN, MsgDuplicateDCN)
		return
	}

	match := p.resolver.FindMatch(run.candidates, row.Address, row.City)
	rec := p.record(b, row, match)

	err := p.persist(ctx, s, rec, log)
	var conflict *model.ConflictError
	if errors.As(err, &conflict) && conflict.Entity == "address" && rec.MatchStatus == model.MatchAutoMatched {
		// Another writer linked the address first; leave it for a reviewer.
		log.Info("dcn: auto-match lost link race, sending to review",
			zap.Int("row", row.Number), zap.String("address_id", *rec.AddressID))
		p.markLinked(run, *rec.AddressID)
		rec.SuggestedAddressID, rec.AddressID = rec.AddressID, nil
		rec.MatchStatus = model.MatchPendingReview
		rec.ID = ""
		err = p.persist(ctx, s, rec, log)
	}
	if err != nil {
		log.Warn("dcn: row persistence failed", zap.Int("row", row.Number), zap.Error(err))
		if errors.As(err, &conflict) && conflict.Entity == "dcn_record" {
			p.invalid(run, row.Number, FieldDCN, MsgDuplicateDCN)
			return
		}
		p.invalid(run, row.Number, FieldRecord, MsgSaveFailed+": "+eris.Cause(err).Error())
		return
	}

	run.seen[row.DCN] = true
	b.ValidRows++
	switch rec.MatchStatus {
	case model.MatchAutoMatched:
		b.AutoMatched++
		p.markLinked(run, *rec.AddressID)
	case model.MatchPendingReview:
		b.PendingReview++
	default:
		b.Unmatched++
	}
	p.metrics.RowProcessed(string(rec.MatchStatus))
}

func (p *Processor) record(b *model.DCNUploadBatch, row Row, m *Match) *model.DCNRecord {
	rec := &model.DCNRecord{
		CompanyID:       b.CompanyID,
		DCN:             row.DCN,
		RawAddress:      row.Address,
		City:            row.City,
		NormalizedKey:   p.resolver.Key(row.Address, row.City),
		MatchStatus:     p.cfg.Classify(m),
		UploadBatchID:   b.ID,
		SourceRowNumber: row.Number,
		Metadata:        row.Metadata(),
	}
	if m == nil {
		return rec
	}

	conf, mt, id := m.Confidence, m.Type, m.Address.ID
	rec.MatchConfidence = &conf
	rec.MatchType = &mt
	switch rec.MatchStatus {
	case model.MatchAutoMatched:
		rec.AddressID = &id
	case model.MatchPendingReview:
		rec.SuggestedAddressID = &id
	}
	return rec
}

func (p *Processor) persist(ctx context.Context, s model.Session, rec *model.DCNRecord, log *zap.Logger) error {
	return resilience.Do(ctx, p.retryConfig("create_dcn_record", zap.Int("row", rec.SourceRowNumber)), func(ctx context.Context) error {
		var audit *model.AuditEntry
		if rec.MatchStatus == model.MatchAutoMatched {
			audit = model.NewAuditEntry(s, model.EntityDCNRecord, "", model.ActionAutoMatch,
				"", string(model.MatchAutoMatched), map[string]any{
					"address_id": *rec.AddressID,
					"confidence": *rec.MatchConfidence,
					"match_type": *rec.MatchType,
				})
		}
		err := p.store.CreateDCNRecord(ctx, rec, audit)
		if err != nil {
			log.Debug("dcn: create record attempt failed", zap.Int("row", rec.SourceRowNumber), zap.Error(err))
		}
		return err
	})
}

// markLinked hides an address from later rows of the same batch.
func (p *Processor) markLinked(run *batchRun, addressID string) {
	if i, ok := run.byID[addressID]; ok {
		run.candidates[i].HasDCN = true
	}
}

func (p *Processor) invalid(run *batchRun, row int, field, msg string) {
	b := run.batch
	b.InvalidRows++
	if len(b.ValidationErrors) < p.cfg.MaxValidationErrors {
		b.ValidationErrors = append(b.ValidationErrors, model.RowError{Row: row, Field: field, Error: msg})
	}
	p.metrics.RowProcessed("invalid")
}

func (p *Processor) fail(ctx context.Context, batch *model.DCNUploadBatch, cause error, start time.Time) {
	batch.ErrorMessage = cause.Error()
	p.complete(ctx, batch, model.BatchFailed, start)
}

// complete writes the final batch state. It runs even when ctx is cancelled
// so partial counts are not lost.
func (p *Processor) complete(ctx context.Context, batch *model.DCNUploadBatch, status model.BatchStatus, start time.Time) {
	now := time.Now().UTC()
	batch.Status = status
	batch.CompletedAt = &now

	wctx := context.WithoutCancel(ctx)
	err := resilience.Do(wctx, p.retryConfig("complete_batch"), func(ctx context.Context) error {
		return p.store.CompleteBatch(ctx, batch)
	})
	if err != nil {
		zap.L().Error("dcn: complete batch failed", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	p.metrics.BatchFinished(string(status), time.Since(start))
}

func (p *Processor) retryConfig(op string, fields ...zap.Field) resilience.RetryConfig {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger(op, fields...)
	return cfg
}

// Batches lists the company's uploads, newest first.
func (p *Processor) Batches(ctx context.Context, s model.Session, limit int) ([]model.DCNUploadBatch, error) {
	if err := s.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	out, err := p.store.ListBatches(ctx, store.BatchFilter{CompanyID: s.CompanyID, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "dcn: list batches")
	}
	return out, nil
}

// Batch returns one upload of the session's company.
func (p *Processor) Batch(ctx context.Context, s model.Session, id string) (*model.DCNUploadBatch, error) {
	if err := s.Validate(); err != nil {
		return nil, model.NewValidationError("session", err.Error())
	}
	b, err := p.store.GetBatch(ctx, s.CompanyID, id)
	if err != nil {
		return nil, eris.Wrapf(err, "dcn: get batch %s", id)
	}
	return b, nil
}
