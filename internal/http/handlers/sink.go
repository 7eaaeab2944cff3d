package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/momangi/Pompiconni-app/internal/pipeline"
	"github.com/momangi/Pompiconni-app/internal/storage"
)

// RunSink persists the outcome of background continuations. It updates the
// original record in place and overwrites the artifacts under the run's own
// keys, so the download URLs a client already holds keep working.
type RunSink struct {
	Runs   RunStore
	Blobs  BlobStore
	Logger zerolog.Logger
}

var _ pipeline.ResultSink = (*RunSink)(nil)

func NewRunSink(runs RunStore, blobs BlobStore, logger zerolog.Logger) *RunSink {
	return &RunSink{Runs: runs, Blobs: blobs, Logger: logger}
}

// MarkRetrying flips the stored run into the background-retry state.
func (s *RunSink) MarkRetrying(ctx context.Context, runID string) error {
	return s.Runs.UpdateStatus(ctx, runID, pipeline.StatusAsyncRetry)
}

// MarkLowConfidence returns the stored run to its pre-continuation state
// after a continuation that produced no result.
func (s *RunSink) MarkLowConfidence(ctx context.Context, runID string) error {
	return s.Runs.UpdateStatus(ctx, runID, pipeline.StatusLowConfidence)
}

// PersistRetryResult overwrites the run's artifacts and record with the best
// result the continuation produced.
func (s *RunSink) PersistRetryResult(ctx context.Context, run *pipeline.PipelineRun) error {
	if run.Artifacts != nil {
		artifacts := map[string][]byte{
			artifactPrintPNG:  run.Artifacts.PrintPNG,
			artifactPDF:       run.Artifacts.PDF,
			artifactThumbnail: run.Artifacts.Thumbnail,
		}
		for name, data := range artifacts {
			if len(data) == 0 {
				continue
			}
			if _, err := s.Blobs.Write(ctx, storage.ArtifactKey(run.ID, name), data); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
		}
	}
	return s.Runs.Save(ctx, run)
}
