// Package pipeline runs an upload through mapping, validation, submission,
// load-id mapping, enrichment and postback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/enrichment"
	"github.com/rpattn/loadflow/internal/ingestion"
	"github.com/rpattn/loadflow/internal/logger"
	"github.com/rpattn/loadflow/internal/postback"
	"github.com/rpattn/loadflow/internal/repository"
	"github.com/rpattn/loadflow/internal/submission"
	"github.com/rpattn/loadflow/internal/validation"
	"github.com/rpattn/loadflow/pkg/schema"
)

// Submitter posts valid rows to the load API.
type Submitter interface {
	SubmitAll(ctx context.Context, rows []*domain.Row) submission.Stats
}

// LoadIDMapper resolves internal ids for rows carrying a load number,
// scoped to a brokerage key.
type LoadIDMapper interface {
	MapAll(ctx context.Context, brokerageKey string, rows []*domain.Row) int
}

// Pinger checks the load API is reachable before submitting.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Enricher merges warehouse data into rows.
type Enricher interface {
	EnrichAll(ctx context.Context, rows []*domain.Row) enrichment.Stats
}

// Dispatcher delivers the final rows to the configured handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch postback.Batch) []domain.PostbackResult
	Len() int
}

// Request is one pipeline run.
type Request struct {
	FileName       string
	Data           io.Reader
	HeaderRowIndex *int
	// Table skips parsing when the upload is already parsed.
	Table        *ingestion.Table
	Mapping      ingestion.Mapping
	Mode         domain.Mode
	BrokerageKey string
	SkipSubmit   bool
	Enrich       bool
	// DryRun maps and validates only.
	DryRun bool
}

// Result is everything a run produced. Rows holds every mapped row,
// including invalid ones, in source order.
type Result struct {
	Run       domain.Run               `json:"run"`
	Summary   domain.Summary           `json:"summary"`
	Columns   []string                 `json:"columns"`
	Rows      []*domain.Row            `json:"-"`
	Valid     []*domain.Row            `json:"-"`
	Errors    []domain.ValidationError `json:"errors"`
	Postbacks []domain.PostbackResult  `json:"postbacks"`
}

// Service wires the pipeline stages. Any stage collaborator may be nil,
// in which case that stage is skipped.
type Service struct {
	registry   *schema.Registry
	mapper     *ingestion.Mapper
	validator  *validation.Validator
	submitter  Submitter
	loadIDs    LoadIDMapper
	pinger     Pinger
	enricher   Enricher
	dispatcher Dispatcher
	runs       repository.RunRepository
	metrics    *Metrics

	brokerageKey string
	maxUpload    int64
}

// Option configures a Service.
type Option func(*Service)

func WithRegistry(reg *schema.Registry) Option {
	return func(s *Service) { s.registry = reg }
}

func WithSubmitter(sub Submitter) Option {
	return func(s *Service) { s.submitter = sub }
}

func WithLoadIDMapper(m LoadIDMapper) Option {
	return func(s *Service) { s.loadIDs = m }
}

// WithPreflight pings the API before the submission stage.
func WithPreflight(p Pinger) Option {
	return func(s *Service) { s.pinger = p }
}

func WithEnricher(e Enricher) Option {
	return func(s *Service) { s.enricher = e }
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithRunRepository persists the run log. Persistence failures are logged
// and never fail the run.
func WithRunRepository(r repository.RunRepository) Option {
	return func(s *Service) { s.runs = r }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDefaultBrokerageKey is used when a request carries none.
func WithDefaultBrokerageKey(key string) Option {
	return func(s *Service) { s.brokerageKey = key }
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) { s.maxUpload = n }
}

func NewService(opts ...Option) *Service {
	s := &Service{maxUpload: ingestion.DefaultMaxUploadBytes}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = schema.Default()
	}
	s.mapper = ingestion.NewMapper(s.registry)
	s.validator = validation.New(s.registry.Requirements())
	return s
}

// Registry returns the schema registry the service maps against.
func (s *Service) Registry() *schema.Registry {
	return s.registry
}

// stageRunner tracks stage records on the run.
type stageRunner struct {
	run *domain.Run
	log logger.Logger
}

func (sr stageRunner) start(name string) {
	st := sr.run.Stage(name)
	now := time.Now().UTC()
	st.Status = domain.StageInProgress
	st.StartedAt = &now
	sr.log.Debug("stage started", "stage", name)
}

func (sr stageRunner) finish(name string, err error) {
	st := sr.run.Stage(name)
	now := time.Now().UTC()
	st.FinishedAt = &now
	if err != nil {
		st.Status = domain.StageFailed
		st.Error = err.Error()
		sr.log.Error("stage failed", "stage", name, "error", err)
		return
	}
	st.Status = domain.StageCompleted
	sr.log.Debug("stage completed", "stage", name)
}

// skipRemaining marks every stage still pending as skipped.
func (sr stageRunner) skipRemaining() {
	for i := range sr.run.Stages {
		if sr.run.Stages[i].Status == domain.StagePending {
			sr.run.Stages[i].Status = domain.StageSkipped
		}
	}
}

func (sr stageRunner) skip(name string) {
	sr.run.Stage(name).Status = domain.StageSkipped
}

// Run executes the pipeline. Row-level failures are recorded on the rows
// and in the summary. Mapping and structural failures, and cancellation
// between stages, end the run early with an error; the partial result is
// still returned.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeEndToEnd
	}
	if !mode.Valid() {
		return Result{}, fmt.Errorf("%w: unknown mode %q", apperr.ErrConfig, mode)
	}
	brokerageKey := domain.NormalizeBrokerageKey(req.BrokerageKey)
	if brokerageKey == "" {
		brokerageKey = domain.NormalizeBrokerageKey(s.brokerageKey)
	}

	run := domain.NewRun(brokerageKey, mode, req.FileName)
	log := logger.FromContext(ctx).With("run_id", run.ID.String(), "mode", string(mode))
	ctx = logger.ContextWithLogger(ctx, log)
	stages := stageRunner{run: &run, log: log}
	res := Result{}

	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			log.Warn("failed to record run", "error", err)
		}
	}

	err := s.execute(ctx, req, &run, stages, &res)
	s.complete(ctx, &run, stages, &res, err)
	return res, err
}

func (s *Service) execute(ctx context.Context, req Request, run *domain.Run, stages stageRunner, res *Result) error {
	log := logger.FromContext(ctx)

	// Mapping.
	stages.start(domain.StageMapping)
	mapped, err := s.mapUpload(req)
	if err != nil {
		stages.finish(domain.StageMapping, err)
		return err
	}
	if err := s.mapper.CheckStructure(req.Mapping); err != nil {
		stages.finish(domain.StageMapping, err)
		return err
	}
	if missing := s.mapper.UnmappedRequired(req.Mapping); len(missing) > 0 {
		log.Warn("required fields are unmapped", "fields", strings.Join(missing, ","))
	}
	stages.finish(domain.StageMapping, nil)
	res.Rows = mapped.Rows
	run.Summary.Total = len(mapped.Rows)

	// Validation.
	stages.start(domain.StageValidation)
	vr := s.validator.Validate(mapped.Columns, mapped.Rows)
	stages.finish(domain.StageValidation, nil)
	res.Columns = vr.Columns
	res.Valid = vr.Valid
	res.Errors = vr.Errors
	run.Summary.Valid = len(vr.Valid)
	run.Summary.Invalid = len(vr.Invalid)
	s.recordValidationErrors(ctx, run, vr.Errors)
	warnDuplicateLoadNumbers(log, vr.Valid)
	log.Info("rows validated", "total", run.Summary.Total, "valid", run.Summary.Valid, "invalid", run.Summary.Invalid)

	if req.DryRun {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Submission.
	switch {
	case run.Mode == domain.ModePostback:
		stages.skip(domain.StageSubmission)
		seedLoadNumbers(vr.Valid)
	case req.SkipSubmit || s.submitter == nil || len(vr.Valid) == 0:
		stages.skip(domain.StageSubmission)
	default:
		stages.start(domain.StageSubmission)
		if s.pinger != nil {
			if err := s.pinger.Ping(ctx); err != nil {
				stages.finish(domain.StageSubmission, err)
				return err
			}
		}
		stats := s.submitter.SubmitAll(ctx, vr.Valid)
		run.Summary.Submitted = stats.Submitted
		run.Summary.SubmissionFailed = stats.Failed
		stages.finish(domain.StageSubmission, nil)
		log.Info("rows submitted", "submitted", stats.Submitted, "failed", stats.Failed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Load ids.
	if s.loadIDs == nil || !anyLoadNumber(vr.Valid) {
		stages.skip(domain.StageLoadIDs)
	} else {
		stages.start(domain.StageLoadIDs)
		run.Summary.LoadIDsMapped = s.loadIDs.MapAll(ctx, run.BrokerageKey, vr.Valid)
		stages.finish(domain.StageLoadIDs, nil)
		log.Info("load ids mapped", "mapped", run.Summary.LoadIDsMapped)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Enrichment.
	if !req.Enrich || s.enricher == nil || len(vr.Valid) == 0 {
		stages.skip(domain.StageEnrichment)
	} else {
		stages.start(domain.StageEnrichment)
		stats := s.enricher.EnrichAll(ctx, vr.Valid)
		run.Summary.Enriched = stats.Enriched
		stages.finish(domain.StageEnrichment, nil)
		log.Info("rows enriched", "enriched", stats.Enriched, "lookups", stats.Lookups, "failures", stats.Failures)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Postback.
	if s.dispatcher == nil || s.dispatcher.Len() == 0 {
		stages.skip(domain.StagePostback)
		return nil
	}
	stages.start(domain.StagePostback)
	res.Postbacks = s.dispatcher.Dispatch(ctx, postback.Batch{
		RunID:   run.ID.String(),
		Columns: domain.Columns(vr.Valid),
		Rows:    vr.Valid,
	})
	var failed []string
	for _, p := range res.Postbacks {
		if p.Success {
			run.Summary.Delivered++
			continue
		}
		run.Summary.HandlerFailures++
		failed = append(failed, p.Handler)
	}
	var postbackErr error
	if len(failed) > 0 {
		postbackErr = fmt.Errorf("%w: handlers failed: %s", apperr.ErrPostback, strings.Join(failed, ", "))
	}
	// A failed handler is reported on the stage but does not fail the run.
	stages.finish(domain.StagePostback, postbackErr)
	return nil
}

func (s *Service) mapUpload(req Request) (ingestion.Mapped, error) {
	var table ingestion.Table
	if req.Table != nil {
		table = *req.Table
	} else {
		parsed, err := ingestion.Parse(ingestion.ParseRequest{
			FileName:       req.FileName,
			Data:           req.Data,
			HeaderRowIndex: req.HeaderRowIndex,
			MaxBytes:       s.maxUpload,
		})
		if err != nil {
			return ingestion.Mapped{}, err
		}
		table = parsed
	}
	return s.mapper.Apply(table, req.Mapping)
}

func (s *Service) recordValidationErrors(ctx context.Context, run *domain.Run, errs []domain.ValidationError) {
	if s.runs == nil || len(errs) == 0 {
		return
	}
	if _, err := s.runs.AddValidationErrors(ctx, run.ID, errs); err != nil {
		logger.FromContext(ctx).Warn("failed to record validation errors", "error", err)
	}
}

func (s *Service) complete(ctx context.Context, run *domain.Run, stages stageRunner, res *Result, err error) {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()
	run.FinishedAt = &now

	switch {
	case err == nil:
		run.Status = domain.RunCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.Status = domain.RunCancelled
		run.Error = err.Error()
	default:
		run.Status = domain.RunFailed
		run.Error = err.Error()
	}
	stages.skipRemaining()

	res.Run = *run
	res.Summary = run.Summary

	if s.runs != nil {
		// The request context may already be cancelled.
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if perr := s.runs.Finish(persistCtx, *run); perr != nil {
			log.Warn("failed to record run result", "error", perr)
		}
	}
	s.metrics.observe(*run, res.Postbacks)

	if err != nil {
		log.Error("run ended early", "status", run.Status, "kind", apperr.Kind(err), "error", err)
		return
	}
	log.Info("run completed",
		"total", run.Summary.Total,
		"valid", run.Summary.Valid,
		"submitted", run.Summary.Submitted,
		"enriched", run.Summary.Enriched,
		"delivered", run.Summary.Delivered,
	)
}

// seedLoadNumbers copies load.loadNumber into load_number for rows that
// describe existing loads.
func seedLoadNumbers(rows []*domain.Row) {
	for _, row := range rows {
		if row.Has(domain.KeyLoadNumber) {
			continue
		}
		if v, ok := row.Get("load.loadNumber"); ok && !schema.IsBlank(v) {
			row.Set(domain.KeyLoadNumber, strings.TrimSpace(fmt.Sprint(v)))
		}
	}
}

func anyLoadNumber(rows []*domain.Row) bool {
	for _, row := range rows {
		if strings.TrimSpace(row.Text(domain.KeyLoadNumber)) != "" {
			return true
		}
	}
	return false
}

func warnDuplicateLoadNumbers(log logger.Logger, rows []*domain.Row) {
	seen := make(map[string]int, len(rows))
	for _, row := range rows {
		v, _ := row.Get("load.loadNumber")
		key := strings.TrimSpace(fmt.Sprint(v))
		if first, dup := seen[key]; dup {
			log.Warn("duplicate load number", "load_number", key, "row", row.Index, "first_row", first)
			continue
		}
		seen[key] = row.Index
	}
}
