package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSink struct {
	marked    []string
	restored  []string
	persisted []*PipelineRun
	markErr   error
}

func (f *fakeSink) MarkRetrying(ctx context.Context, runID string) error {
	f.marked = append(f.marked, runID)
	return f.markErr
}

func (f *fakeSink) MarkLowConfidence(ctx context.Context, runID string) error {
	f.restored = append(f.restored, runID)
	return nil
}

func (f *fakeSink) PersistRetryResult(ctx context.Context, run *PipelineRun) error {
	f.persisted = append(f.persisted, run)
	return nil
}

func newTestWorker(t *testing.T, gen CandidateGenerator, eval Evaluator, post PostProcessor, sink ResultSink, retries int) *RetryWorker {
	t.Helper()
	w, err := NewRetryWorker(RetryWorkerOptions{
		Generator:       gen,
		Evaluator:       eval,
		PostProcessor:   post,
		Sink:            sink,
		MaxAsyncRetries: retries,
		AttemptDelay:    time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new retry worker: %v", err)
	}
	return w
}

func TestContinuePassesOnSecondAttempt(t *testing.T) {
	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) {
			return []byte("img"), nil
		},
	}
	eval := &fakeEvaluator{}
	eval.evaluateFn = func(ctx context.Context, imageData []byte, prompt string) QCReport {
		if eval.calls == 1 {
			return partialReport(0.4, "")
		}
		return passingReport(0.9)
	}

	w := newTestWorker(t, gen, eval, &fakePostProcessor{}, &fakeSink{}, 5)
	best := w.Continue(context.Background(), ContinuationRequest{
		RunID:      "run-1",
		LastPrompt: "ultimo prompt",
	})

	if best == nil {
		t.Fatalf("expected a best result")
	}
	if best.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", best.Status, StatusCompleted)
	}
	if best.RetryCount != 2 {
		t.Fatalf("attempts = %d, want 2", best.RetryCount)
	}
	if eval.calls != 2 {
		t.Fatalf("evaluator calls = %d, want early exit after pass", eval.calls)
	}
	if best.ID != "run-1" {
		t.Fatalf("result id = %q, want the original run id", best.ID)
	}
}

func TestContinueUsesFixedEnhancedPrompt(t *testing.T) {
	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) {
			return []byte("img"), nil
		},
	}
	eval := &fakeEvaluator{
		evaluateFn: func(ctx context.Context, imageData []byte, prompt string) QCReport {
			return partialReport(0.3, "questa correzione va ignorata")
		},
	}
	w := newTestWorker(t, gen, eval, &fakePostProcessor{}, &fakeSink{}, 3)
	w.Continue(context.Background(), ContinuationRequest{RunID: "run-1", LastPrompt: "base"})

	if len(gen.prompts) != 3 {
		t.Fatalf("generator calls = %d, want 3", len(gen.prompts))
	}
	for i, prompt := range gen.prompts {
		if !strings.HasPrefix(prompt, "base") {
			t.Fatalf("attempt %d prompt lost the last prompt: %q", i+1, prompt)
		}
		if !strings.Contains(prompt, "CORREZIONE CRITICA") {
			t.Fatalf("attempt %d prompt missing the fixed emphasis: %q", i+1, prompt)
		}
		if prompt != gen.prompts[0] {
			t.Fatalf("attempt %d prompt drifted; the continuation never re-patches", i+1)
		}
	}
}

func TestContinueGenerationErrorsAreSwallowed(t *testing.T) {
	call := 0
	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) {
			call++
			if call == 1 {
				return nil, errors.New("503 model overloaded")
			}
			return []byte("img"), nil
		},
	}
	eval := &fakeEvaluator{
		evaluateFn: func(ctx context.Context, imageData []byte, prompt string) QCReport {
			return passingReport(0.9)
		},
	}
	w := newTestWorker(t, gen, eval, &fakePostProcessor{}, &fakeSink{}, 3)
	best := w.Continue(context.Background(), ContinuationRequest{RunID: "run-1", LastPrompt: "base"})

	if best == nil || best.RetryCount != 2 {
		t.Fatalf("best = %+v, want pass on attempt 2 after one swallowed error", best)
	}
}

func TestContinueReturnsNilWhenEveryAttemptFails(t *testing.T) {
	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) {
			return nil, ErrNoImage
		},
	}
	eval := &fakeEvaluator{
		evaluateFn: func(ctx context.Context, imageData []byte, prompt string) QCReport {
			t.Fatalf("evaluator must not run without an image")
			return QCReport{}
		},
	}
	w := newTestWorker(t, gen, eval, &fakePostProcessor{}, &fakeSink{}, 2)
	if best := w.Continue(context.Background(), ContinuationRequest{RunID: "run-1", LastPrompt: "base"}); best != nil {
		t.Fatalf("best = %+v, want nil", best)
	}
}

func TestContinueBestOnlyAdvancesAfterPostProduction(t *testing.T) {
	call := 0
	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) {
			return []byte("img"), nil
		},
	}
	eval := &fakeEvaluator{}
	eval.evaluateFn = func(ctx context.Context, imageData []byte, prompt string) QCReport {
		call++
		if call == 1 {
			return partialReport(0.8, "")
		}
		return partialReport(0.5, "")
	}
	post := &fakePostProcessor{
		processFn: func(ctx context.Context, imageData []byte, runID string, metadata map[string]any) (*Artifacts, map[string]any, error) {
			if call == 1 {
				return nil, nil, errors.New("encode print png: short write")
			}
			return &Artifacts{PrintPNG: []byte("p"), PDF: []byte("d"), Thumbnail: []byte("t")}, metadata, nil
		},
	}
	w := newTestWorker(t, gen, eval, post, &fakeSink{}, 2)
	best := w.Continue(context.Background(), ContinuationRequest{RunID: "run-1", LastPrompt: "base"})

	// Attempt 1 scored higher but its post-production failed; the kept best
	// must be the fully materialized attempt 2.
	if best == nil {
		t.Fatalf("expected a best result")
	}
	if best.RetryCount != 2 || best.Best == nil || best.Best.Score != 0.5 {
		t.Fatalf("best = %+v, want the attempt-2 result", best)
	}
	if best.Status != StatusLowConfidence {
		t.Fatalf("status = %q, want %q for a partial verdict", best.Status, StatusLowConfidence)
	}
}

func TestWorkerRestoresLowConfidenceWhenNothingProduced(t *testing.T) {
	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) {
			return nil, ErrNoImage
		},
	}
	eval := &fakeEvaluator{
		evaluateFn: func(context.Context, []byte, string) QCReport { return QCReport{} },
	}
	sink := &fakeSink{}
	w := newTestWorker(t, gen, eval, &fakePostProcessor{}, sink, 2)

	w.handle(context.Background(), ContinuationRequest{RunID: "run-4", LastPrompt: "base"})

	// The record was flipped to async_retry at pickup; an empty continuation
	// must not leave it stranded there.
	if len(sink.marked) != 1 || sink.marked[0] != "run-4" {
		t.Fatalf("marked = %v, want run-4", sink.marked)
	}
	if len(sink.restored) != 1 || sink.restored[0] != "run-4" {
		t.Fatalf("restored = %v, want run-4 back to low-confidence", sink.restored)
	}
	if len(sink.persisted) != 0 {
		t.Fatalf("persisted = %v, want nothing", sink.persisted)
	}
}

func TestScheduleReportsFullQueue(t *testing.T) {
	gen := &fakeGenerator{generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) { return nil, ErrNoImage }}
	eval := &fakeEvaluator{evaluateFn: func(context.Context, []byte, string) QCReport { return QCReport{} }}
	w, err := NewRetryWorker(RetryWorkerOptions{
		Generator:     gen,
		Evaluator:     eval,
		PostProcessor: &fakePostProcessor{},
		Sink:          &fakeSink{},
		QueueSize:     1,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new retry worker: %v", err)
	}

	// Nothing drains the queue: the second schedule must be refused, not
	// block the caller.
	if !w.Schedule(ContinuationRequest{RunID: "a"}) {
		t.Fatalf("first schedule should fit the queue")
	}
	if w.Schedule(ContinuationRequest{RunID: "b"}) {
		t.Fatalf("second schedule should report a full queue")
	}
}

func TestWorkerMarksAndPersists(t *testing.T) {
	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) {
			return []byte("img"), nil
		},
	}
	eval := &fakeEvaluator{
		evaluateFn: func(ctx context.Context, imageData []byte, prompt string) QCReport {
			return passingReport(0.9)
		},
	}
	sink := &fakeSink{}
	w := newTestWorker(t, gen, eval, &fakePostProcessor{}, sink, 2)

	w.handle(context.Background(), ContinuationRequest{RunID: "run-7", LastPrompt: "base"})

	if len(sink.marked) != 1 || sink.marked[0] != "run-7" {
		t.Fatalf("marked = %v, want run-7", sink.marked)
	}
	if len(sink.persisted) != 1 || sink.persisted[0].Status != StatusCompleted {
		t.Fatalf("persisted = %v, want one completed run", sink.persisted)
	}
	if len(sink.restored) != 0 {
		t.Fatalf("restored = %v, a successful continuation must not roll back", sink.restored)
	}
}

func TestWorkerMarkFailureDoesNotAbortContinuation(t *testing.T) {
	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, prompt, runID string) ([]byte, error) {
			return []byte("img"), nil
		},
	}
	eval := &fakeEvaluator{
		evaluateFn: func(ctx context.Context, imageData []byte, prompt string) QCReport {
			return passingReport(1)
		},
	}
	sink := &fakeSink{markErr: errors.New("row gone")}
	w := newTestWorker(t, gen, eval, &fakePostProcessor{}, sink, 2)

	w.handle(context.Background(), ContinuationRequest{RunID: "run-8", LastPrompt: "base"})

	if len(sink.persisted) != 1 {
		t.Fatalf("persisted = %d runs, want 1 despite the mark failure", len(sink.persisted))
	}
}
