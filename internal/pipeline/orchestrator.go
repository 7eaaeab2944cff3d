package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Options wires the four stages into an orchestrator.
type Options struct {
	Composer       Composer
	Generator      CandidateGenerator
	Evaluator      Evaluator
	PostProcessor  PostProcessor
	MaxSyncRetries int
	Logger         zerolog.Logger
}

// Pipeline is the synchronous four-phase orchestrator. One Run call is one
// sequential flow; concurrent runs share nothing.
type Pipeline struct {
	composer   Composer
	generator  CandidateGenerator
	evaluator  Evaluator
	post       PostProcessor
	maxRetries int
	logger     zerolog.Logger
}

// NewPipeline validates the wiring and returns an orchestrator.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Composer == nil || opts.Generator == nil || opts.Evaluator == nil || opts.PostProcessor == nil {
		return nil, errors.New("pipeline: all four stages are required")
	}
	maxRetries := opts.MaxSyncRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Pipeline{
		composer:   opts.Composer,
		generator:  opts.Generator,
		evaluator:  opts.Evaluator,
		post:       opts.PostProcessor,
		maxRetries: maxRetries,
		logger:     opts.Logger,
	}, nil
}

// MaxSyncRetries returns the configured synchronous attempt ceiling.
func (p *Pipeline) MaxSyncRetries() int {
	return p.maxRetries
}

// Run executes the four phases for one request. It always returns a run:
// unrecoverable errors end it in StatusFailed with a populated error
// message, never in a panic or a half-finished state.
func (p *Pipeline) Run(ctx context.Context, req GenerationRequest) *PipelineRun {
	run := NewPipelineRun(req)
	logger := p.logger.With().Str("run_id", run.ID).Logger()

	// Phase 1: prompt composition, exactly once. No retry budget is spent
	// here; any failure is fatal for the run.
	if err := p.advance(run, StatusPhase1Prompt); err != nil {
		return p.fail(run, logger, "transizione di stato non valida", err)
	}
	logger.Info().Msg("pipeline: fase 1 - prompt engineering")

	composed, err := p.composer.Compose(ctx, req)
	if err != nil {
		return p.fail(run, logger, "generazione del prompt fallita", err)
	}
	run.OptimizedPrompt = composed.GenerationPrompt
	run.NegativePrompt = composed.NegativePrompt
	run.StyleSpec = composed.StyleSpec

	// Phases 2 and 3 cycle up to the attempt ceiling. The prompt for each
	// iteration is rebuilt from the composed base so a repeated patch never
	// accumulates.
	currentPrompt := composed.GenerationPrompt
	var (
		selected   []byte
		passed     bool
		evaluated  bool
		lastGenErr error
	)

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return p.fail(run, logger, "pipeline interrotta", err)
		}
		run.RetryCount = attempt
		logger.Info().Int("attempt", attempt).Int("max", p.maxRetries).Msg("pipeline: tentativo")

		if err := p.advance(run, StatusPhase2Generation); err != nil {
			return p.fail(run, logger, "transizione di stato non valida", err)
		}
		data, err := p.generator.Generate(ctx, currentPrompt, run.ID)
		if err != nil {
			// Retryable: an empty or failed generation consumes the attempt.
			lastGenErr = err
			logger.Warn().Err(err).Int("attempt", attempt).Msg("pipeline: generazione fallita, riprovo")
			continue
		}

		if err := p.advance(run, StatusPhase3QC); err != nil {
			return p.fail(run, logger, "transizione di stato non valida", err)
		}
		report := p.evaluator.Evaluate(ctx, data, currentPrompt)
		run.QCReport = &report
		evaluated = true
		run.recordCandidate(Candidate{Data: data, Score: report.ConfidenceScore, Attempt: attempt})

		logger.Info().
			Str("verdict", string(report.Result)).
			Float64("confidence", report.ConfidenceScore).
			Msg("pipeline: fase 3 - quality check")

		if report.Result == VerdictPass {
			selected = data
			passed = true
			break
		}
		if attempt < p.maxRetries && report.PromptPatch != "" {
			currentPrompt = applyPatch(composed.GenerationPrompt, report.PromptPatch)
		}
	}

	if !evaluated {
		// Every attempt died before producing a scorable candidate. This is
		// FAILED, not LOW_CONFIDENCE: there is nothing to post-process.
		err := lastGenErr
		if err == nil {
			err = ErrNoImage
		}
		return p.fail(run, logger, "nessuna immagine generata dopo tutti i tentativi", err)
	}

	lowConfidence := false
	if !passed {
		lowConfidence = true
		selected = run.Best.Data
		run.Metadata["low_confidence_reason"] = run.QCReport.Issues
		run.Metadata["best_qc_score"] = run.Best.Score
		logger.Warn().
			Float64("best_score", run.Best.Score).
			Int("best_attempt", run.Best.Attempt).
			Msg("pipeline: quality check mai superato, uso il miglior candidato")
	}

	// Phase 4: post-production on the passing candidate, or on the best
	// effort one. Failure here is fatal regardless of QC history.
	if run.Status == StatusPhase2Generation {
		// A generation failure on the final attempt exits the loop from
		// phase 2; the candidate being exported was scored in phase 3, so
		// the lifecycle re-enters it before the export.
		if err := p.advance(run, StatusPhase3QC); err != nil {
			return p.fail(run, logger, "transizione di stato non valida", err)
		}
	}
	if err := p.advance(run, StatusPhase4Postprod); err != nil {
		return p.fail(run, logger, "transizione di stato non valida", err)
	}
	artifacts, metadata, err := p.post.Process(ctx, selected, run.ID, run.Metadata)
	if err != nil {
		return p.fail(run, logger, "post-produzione fallita", err)
	}
	run.Artifacts = artifacts
	run.Metadata = metadata

	final := StatusCompleted
	if lowConfidence {
		// Artifact availability does not upgrade a low-confidence verdict.
		final = StatusLowConfidence
	}
	if err := p.advance(run, final); err != nil {
		return p.fail(run, logger, "transizione di stato non valida", err)
	}
	run.Metadata["completed_at"] = time.Now().UTC().Format(time.RFC3339)

	logger.Info().Str("status", string(run.Status)).Int("retry_count", run.RetryCount).Msg("pipeline: completata")
	return run
}

func (p *Pipeline) advance(run *PipelineRun, next Status) error {
	return run.transition(next)
}

func (p *Pipeline) fail(run *PipelineRun, logger zerolog.Logger, msg string, err error) *PipelineRun {
	logger.Error().Err(err).Str("status", string(run.Status)).Msg("pipeline: " + msg)
	run.Status = StatusFailed
	run.ErrorMessage = fmt.Sprintf("%s: %v", msg, err)
	return run
}

// applyPatch folds a corrective instruction into the composed base prompt.
// Rebuilding from the base keeps repeated application of the same patch from
// growing the prompt across retries.
func applyPatch(basePrompt, patch string) string {
	if patch == "" {
		return basePrompt
	}
	return fmt.Sprintf("%s\n\nCORREZIONI RICHIESTE: %s", basePrompt, patch)
}
