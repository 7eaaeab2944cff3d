package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/momangi/Pompiconni-app/internal/adapter/repo"
	"github.com/momangi/Pompiconni-app/internal/pipeline"
)

// Runner is the synchronous invocation boundary of the generation pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.GenerationRequest) *pipeline.PipelineRun
	MaxSyncRetries() int
}

// Scheduler accepts fire-and-forget continuation requests for low-confidence
// runs.
type Scheduler interface {
	Schedule(req pipeline.ContinuationRequest) bool
}

// RunStore is the document-store collaborator for run records.
type RunStore interface {
	Save(ctx context.Context, run *pipeline.PipelineRun) error
	UpdateStatus(ctx context.Context, runID string, status pipeline.Status) error
	GetByID(ctx context.Context, runID string) (*repo.RunRecord, error)
}

// BlobStore is the blob-store collaborator for artifact bytes.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// App bundles the collaborators the HTTP layer needs.
type App struct {
	Pipeline Runner
	Retry    Scheduler
	Runs     RunStore
	Blobs    BlobStore
	Logger   zerolog.Logger
}

func NewApp(p Runner, retry Scheduler, runs RunStore, blobs BlobStore, logger zerolog.Logger) *App {
	return &App{Pipeline: p, Retry: retry, Runs: runs, Blobs: blobs, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) jsonError(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}
