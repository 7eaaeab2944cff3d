package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ContinuationRequest is the immutable message a caller emits to continue a
// low-confidence run in the background. It carries everything the retry loop
// needs; the worker never touches the synchronous path's memory.
type ContinuationRequest struct {
	RunID                string
	UserRequest          string
	LastPrompt           string
	ReferenceImageBase64 string
	StyleLock            bool
}

// ResultSink receives the outcome of an asynchronous continuation. The
// external persistence collaborator decides how the stored run is updated;
// the worker only hands results over keyed by run id. MarkLowConfidence
// returns a run to its pre-continuation state when no attempt produced a
// result.
type ResultSink interface {
	MarkRetrying(ctx context.Context, runID string) error
	MarkLowConfidence(ctx context.Context, runID string) error
	PersistRetryResult(ctx context.Context, run *PipelineRun) error
}

// RetryWorkerOptions wires the background continuation loop.
type RetryWorkerOptions struct {
	Generator       CandidateGenerator
	Evaluator       Evaluator
	PostProcessor   PostProcessor
	Sink            ResultSink
	MaxAsyncRetries int
	AttemptDelay    time.Duration
	QueueSize       int
	Logger          zerolog.Logger
}

// RetryWorker consumes continuation requests and re-runs generate/evaluate
// with a fixed enhanced prompt, keeping the best full result it sees.
type RetryWorker struct {
	generator  CandidateGenerator
	evaluator  Evaluator
	post       PostProcessor
	sink       ResultSink
	maxRetries int
	delay      time.Duration
	logger     zerolog.Logger
	queue      chan ContinuationRequest
}

// NewRetryWorker validates the wiring and returns a worker. Run must be
// called on its own goroutine before Schedule delivers anything.
func NewRetryWorker(opts RetryWorkerOptions) (*RetryWorker, error) {
	if opts.Generator == nil || opts.Evaluator == nil || opts.PostProcessor == nil {
		return nil, errors.New("pipeline: retry worker requires generator, evaluator and post-processor")
	}
	if opts.Sink == nil {
		return nil, errors.New("pipeline: retry worker requires a result sink")
	}
	maxRetries := opts.MaxAsyncRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	delay := opts.AttemptDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	return &RetryWorker{
		generator:  opts.Generator,
		evaluator:  opts.Evaluator,
		post:       opts.PostProcessor,
		sink:       opts.Sink,
		maxRetries: maxRetries,
		delay:      delay,
		logger:     opts.Logger,
		queue:      make(chan ContinuationRequest, queueSize),
	}, nil
}

// Schedule enqueues a continuation without blocking the caller. It reports
// false when the queue is full; the run then simply stays low-confidence.
func (w *RetryWorker) Schedule(req ContinuationRequest) bool {
	select {
	case w.queue <- req:
		return true
	default:
		w.logger.Warn().Str("run_id", req.RunID).Msg("retry: queue full, continuation dropped")
		return false
	}
}

// Run consumes the queue until the context is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	w.logger.Info().Msg("retry: worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("retry: worker stopped")
			return ctx.Err()
		case req := <-w.queue:
			w.handle(ctx, req)
		}
	}
}

func (w *RetryWorker) handle(ctx context.Context, req ContinuationRequest) {
	logger := w.logger.With().Str("run_id", req.RunID).Logger()

	if err := w.sink.MarkRetrying(ctx, req.RunID); err != nil {
		logger.Warn().Err(err).Msg("retry: could not mark run as retrying")
	}

	best := w.Continue(ctx, req)
	if best == nil {
		logger.Warn().Msg("retry: no attempt produced a result, run stays low-confidence")
		if err := w.sink.MarkLowConfidence(ctx, req.RunID); err != nil {
			logger.Warn().Err(err).Msg("retry: could not restore low-confidence status")
		}
		return
	}
	if err := w.sink.PersistRetryResult(ctx, best); err != nil {
		logger.Error().Err(err).Msg("retry: failed to persist result")
		return
	}
	logger.Info().
		Str("status", string(best.Status)).
		Int("attempts", best.RetryCount).
		Msg("retry: continuation persisted")
}

// Continue runs the bounded retry loop and returns the best full result, or
// nil when every attempt failed. Failures inside one attempt are logged and
// swallowed: later attempts are independent draws.
func (w *RetryWorker) Continue(ctx context.Context, req ContinuationRequest) *PipelineRun {
	enhanced := enhanceRetryPrompt(req.LastPrompt)
	logger := w.logger.With().Str("run_id", req.RunID).Logger()

	var best *PipelineRun
	bestScore := 0.0

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		logger.Info().Int("attempt", attempt).Int("max", w.maxRetries).Msg("retry: tentativo asincrono")

		data, err := w.generator.Generate(ctx, enhanced, req.RunID)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("retry: generazione fallita")
			w.pause(ctx, attempt)
			continue
		}

		report := w.evaluator.Evaluate(ctx, data, enhanced)

		if report.ConfidenceScore > bestScore {
			artifacts, metadata, err := w.post.Process(ctx, data, req.RunID, map[string]any{
				"async_retry_attempt": attempt,
			})
			if err != nil {
				// Treated as "no result from this attempt": the best score
				// only moves once post-production actually succeeded.
				logger.Warn().Err(err).Int("attempt", attempt).Msg("retry: post-produzione fallita")
				w.pause(ctx, attempt)
				continue
			}
			bestScore = report.ConfidenceScore
			status := StatusLowConfidence
			if report.Result == VerdictPass {
				status = StatusCompleted
			}
			reportCopy := report
			best = &PipelineRun{
				ID:              req.RunID,
				Status:          status,
				UserRequest:     req.UserRequest,
				OptimizedPrompt: enhanced,
				RetryCount:      attempt,
				Best:            &Candidate{Data: data, Score: report.ConfidenceScore, Attempt: attempt},
				QCReport:        &reportCopy,
				Artifacts:       artifacts,
				Metadata:        metadata,
				CreatedAt:       time.Now().UTC(),
			}
		}

		if report.Result == VerdictPass {
			logger.Info().Int("attempt", attempt).Msg("retry: quality check superato")
			break
		}
		w.pause(ctx, attempt)
	}

	return best
}

// pause waits the fixed inter-attempt delay unless this was the last attempt
// or the context ends first.
func (w *RetryWorker) pause(ctx context.Context, attempt int) {
	if attempt >= w.maxRetries {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.delay):
	}
}

// enhanceRetryPrompt appends the fixed brand emphasis to the last prompt the
// synchronous path used.
func enhanceRetryPrompt(lastPrompt string) string {
	return fmt.Sprintf("%s\n\n%s", lastPrompt, retryEmphasis)
}
