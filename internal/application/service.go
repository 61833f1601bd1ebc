package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/smartvalidator/internal/domain"
	"github.com/ahrav/smartvalidator/internal/ports"
)

// ClientFactory returns the completion client that authenticates with apiKey.
type ClientFactory func(apiKey string) (ports.CompletionClient, error)

// ServiceOptions configures optional Service behavior.
type ServiceOptions struct {
	// Logger receives batch and record logs. Nil discards them.
	Logger *zap.Logger
	// Metrics receives verdict and batch metrics. Nil disables them.
	Metrics ports.MetricsCollector
	// Concurrency is the number of records validated at once.
	// Values below one mean one, which keeps the batch sequential.
	Concurrency int
	// ServiceName names the tracer. Empty uses "smartvalidator".
	ServiceName string
}

// ValidateOptions are the per-call options of ValidateData.
type ValidateOptions struct {
	// UseRAG injects the rules document into every prompt.
	UseRAG bool
	// Source is the caller's channel hint used to pick the API key.
	Source string
}

// Service validates batches of warehouse records with a language model.
//
// Each call resolves one credential, loads the rules at most once and then
// sends one completion request per record. Every record gets exactly one
// verdict, in input order; only a credential failure aborts the batch.
// A Service is safe for concurrent use.
type Service struct {
	credentials ports.CredentialResolver
	rules       ports.RulesLoader
	newClient   ClientFactory
	labeler     *domain.FieldLabeler
	prompts     *PromptBuilder
	parser      *VerdictParser

	logger      *zap.Logger
	metrics     ports.MetricsCollector
	tracer      trace.Tracer
	concurrency int
}

// NewService creates a Service. A nil labeler uses the default label table.
func NewService(
	credentials ports.CredentialResolver,
	rules ports.RulesLoader,
	newClient ClientFactory,
	labeler *domain.FieldLabeler,
	opts ServiceOptions,
) (*Service, error) {
	if credentials == nil {
		return nil, fmt.Errorf("credential resolver cannot be nil")
	}
	if rules == nil {
		return nil, fmt.Errorf("rules loader cannot be nil")
	}
	if newClient == nil {
		return nil, fmt.Errorf("client factory cannot be nil")
	}
	if labeler == nil {
		labeler = domain.NewFieldLabeler(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "smartvalidator"
	}

	return &Service{
		credentials: credentials,
		rules:       rules,
		newClient:   newClient,
		labeler:     labeler,
		prompts:     NewPromptBuilder(),
		parser:      NewVerdictParser(),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(opts.ServiceName),
		concurrency: max(opts.Concurrency, 1),
	}, nil
}

// ValidateData validates records and returns one verdict per record.
//
// When no API key can be found it returns a result with no verdicts, key
// source "Not found" and a *domain.CredentialError, without any network
// call. Any other per-record problem is recorded in that record's verdict.
// Cancelling ctx stops new requests; records that were not sent get an
// "Error: <context error>" verdict so the result still has one entry per
// record.
func (s *Service) ValidateData(ctx context.Context, records []domain.Record, opts ValidateOptions) (domain.BatchResult, error) {
	start := time.Now()
	batchID := uuid.NewString()

	ctx, span := s.tracer.Start(ctx, "validation.batch",
		trace.WithAttributes(
			attribute.String("validation.batch_id", batchID),
			attribute.Int("validation.records", len(records)),
			attribute.Bool("validation.use_rag", opts.UseRAG),
		),
	)
	defer span.End()

	logger := s.logger.With(zap.String("batch_id", batchID))

	cred, err := s.credentials.Resolve(opts.Source)
	if err != nil {
		logger.Error("no API key available, batch rejected",
			zap.String("source", opts.Source),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential resolution failed")
		s.recordBatch(start, "credential_error")
		return domain.NewBatchResult(batchID, nil, domain.OriginNotFound), err
	}
	span.SetAttributes(attribute.String("validation.key_source", cred.Origin))

	client, err := s.newClient(cred.Key)
	if err != nil {
		err = fmt.Errorf("failed to create completion client: %w", err)
		logger.Error("batch rejected", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordBatch(start, "client_error")
		return domain.NewBatchResult(batchID, nil, cred.Origin), err
	}

	rules := s.rules.Load(ctx, opts.UseRAG)

	logger.Info("batch started",
		zap.Int("records", len(records)),
		zap.String("key_source", cred.Origin),
		zap.Bool("use_rag", opts.UseRAG),
		zap.String("model", client.GetModel()),
		zap.Int("concurrency", s.concurrency))

	results := s.run(ctx, logger, client, records, rules)
	result := domain.NewBatchResult(batchID, results, cred.Origin)

	status := "success"
	if ctx.Err() != nil {
		status = "canceled"
		span.SetStatus(codes.Error, ctx.Err().Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("validation.ok", result.Summary.OK),
		attribute.Int("validation.error", result.Summary.Error),
	)
	s.recordBatch(start, status)

	fields := []zap.Field{
		zap.Int("records", len(records)),
		zap.Int("ok", result.Summary.OK),
		zap.Int("error", result.Summary.Error),
		zap.String("key_source", cred.Origin),
		zap.Duration("duration", time.Since(start)),
	}
	if result.Summary.AverageScore != nil {
		fields = append(fields, zap.Float64("avg_score", *result.Summary.AverageScore))
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("batch interrupted", append(fields, zap.Error(err))...)
	} else {
		logger.Info("batch finished", fields...)
	}

	return result, nil
}

// run validates every record, writing each verdict at its input index.
func (s *Service) run(
	ctx context.Context,
	logger *zap.Logger,
	client ports.CompletionClient,
	records []domain.Record,
	rules *string,
) []domain.Verdict {
	results := make([]domain.Verdict, len(records))

	if s.concurrency == 1 {
		for i, record := range records {
			results[i] = s.validateRecord(ctx, logger, client, i, record, rules)
		}
		return results
	}

	// Workers never return errors, so one failing record cannot cancel the
	// others.
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, record := range records {
		if ctx.Err() != nil {
			results[i] = s.skipped(ctx, i)
			continue
		}
		g.Go(func() error {
			results[i] = s.validateRecord(ctx, logger, client, i, record, rules)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// validateRecord runs label, prompt, complete and parse for one record.
func (s *Service) validateRecord(
	ctx context.Context,
	logger *zap.Logger,
	client ports.CompletionClient,
	index int,
	record domain.Record,
	rules *string,
) domain.Verdict {
	if ctx.Err() != nil {
		return s.skipped(ctx, index)
	}

	ctx, span := s.tracer.Start(ctx, "validation.record",
		trace.WithAttributes(attribute.Int("validation.record_id", index)))
	defer span.End()

	var verdict domain.Verdict
	prompt, err := s.prompts.Build(index, s.labeler.Label(record), rules)
	if err != nil {
		verdict = domain.NewFailedVerdict(index, domain.OutcomeRequestError, err.Error(), "")
	} else {
		raw, err := client.Complete(ctx, prompt)
		if err != nil {
			verdict = s.parser.FromError(err, index)
		} else {
			verdict = s.parser.Parse(raw, index)
			span.SetAttributes(attribute.Int("http.response.status_code", raw.StatusCode))
		}
	}

	span.SetAttributes(
		attribute.String("validation.status", verdict.Status),
		attribute.String("validation.outcome", verdict.Outcome.String()),
	)
	if !verdict.IsOK() {
		span.SetStatus(codes.Error, verdict.Status)
	}
	s.recordVerdict(verdict)

	fields := []zap.Field{
		zap.Int("record_id", index),
		zap.String("status", verdict.Status),
		zap.Stringer("outcome", verdict.Outcome),
	}
	if verdict.Score != nil {
		fields = append(fields, zap.Float64("score", *verdict.Score))
	}
	logger.Debug("record validated", fields...)

	return verdict
}

// skipped returns the verdict for a record never sent because ctx ended.
func (s *Service) skipped(ctx context.Context, index int) domain.Verdict {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	v := s.parser.FromError(err, index)
	s.recordVerdict(v)
	return v
}

func (s *Service) recordVerdict(v domain.Verdict) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCounter("validation_verdicts_total", 1, map[string]string{"outcome": v.Outcome.String()})
	if v.Score != nil {
		s.metrics.RecordHistogram("validation_verdict_score", *v.Score, nil)
	}
}

func (s *Service) recordBatch(start time.Time, status string) {
	if s.metrics == nil {
		return
	}
	labels := map[string]string{"status": status}
	s.metrics.RecordLatency("validate_batch", time.Since(start), labels)
	s.metrics.RecordCounter("validate_batch_total", 1, labels)
}

// IsCredentialError reports whether err means no API key could be found.
func IsCredentialError(err error) bool {
	var credErr *domain.CredentialError
	return errors.As(err, &credErr)
}

// FormatScore renders an optional score the way the summary view does.
func FormatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 1, 64)
}
