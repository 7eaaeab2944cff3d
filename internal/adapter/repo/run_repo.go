package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/momangi/Pompiconni-app/internal/pipeline"
)

// querier is the slice of pgxpool.Pool the repository actually uses; tests
// substitute it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ querier = (*pgxpool.Pool)(nil)

// ErrRunNotFound is returned when no run record exists for the identifier.
var ErrRunNotFound = errors.New("repo: run not found")

// RunRecord is the persisted shape of a generation run. Artifact bytes live
// in the blob store; the record only keeps their presence flags.
type RunRecord struct {
	ID              string
	Status          pipeline.Status
	UserRequest     string
	ActorID         string
	OptimizedPrompt string
	NegativePrompt  string
	StyleSpec       string
	RetryCount      int
	QCReport        *pipeline.QCReport
	Metadata        map[string]any
	HasPrintPNG     bool
	HasPDF          bool
	HasThumbnail    bool
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RunRepositoryPG stores generation runs in PostgreSQL. The asynchronous
// continuation updates the original record in place, keyed by run id.
type RunRepositoryPG struct {
	pool querier
}

// NewRunRepository creates a run repository backed by PostgreSQL.
func NewRunRepository(pool querier) *RunRepositoryPG {
	return &RunRepositoryPG{pool: pool}
}

// Save upserts the run record. Inserting and updating share one statement so
// the synchronous path and the retry worker do not need to know whether the
// record already exists.
func (r *RunRepositoryPG) Save(ctx context.Context, run *pipeline.PipelineRun) error {
	if run == nil {
		return errors.New("repo: run is required")
	}

	qcJSON, err := marshalNullable(run.QCReport)
	if err != nil {
		return fmt.Errorf("repo: encode qc report: %w", err)
	}
	metaJSON, err := marshalNullable(run.Metadata)
	if err != nil {
		return fmt.Errorf("repo: encode metadata: %w", err)
	}

	query := `
INSERT INTO generation_runs (
    id, status, user_request, actor_id,
    optimized_prompt, negative_prompt, style_spec,
    retry_count, qc_report, metadata,
    has_print_png, has_pdf, has_thumbnail,
    error_message, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    optimized_prompt = EXCLUDED.optimized_prompt,
    negative_prompt = EXCLUDED.negative_prompt,
    style_spec = EXCLUDED.style_spec,
    retry_count = EXCLUDED.retry_count,
    qc_report = EXCLUDED.qc_report,
    metadata = EXCLUDED.metadata,
    has_print_png = EXCLUDED.has_print_png,
    has_pdf = EXCLUDED.has_pdf,
    has_thumbnail = EXCLUDED.has_thumbnail,
    error_message = EXCLUDED.error_message,
    updated_at = NOW();
`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.UserRequest,
		run.ActorID,
		run.OptimizedPrompt,
		run.NegativePrompt,
		run.StyleSpec,
		run.RetryCount,
		qcJSON,
		metaJSON,
		run.Artifacts != nil && len(run.Artifacts.PrintPNG) > 0,
		run.Artifacts != nil && len(run.Artifacts.PDF) > 0,
		run.Artifacts != nil && len(run.Artifacts.Thumbnail) > 0,
		run.ErrorMessage,
		run.CreatedAt,
	)
	return err
}

// UpdateStatus changes only the lifecycle status of a stored run.
func (r *RunRepositoryPG) UpdateStatus(ctx context.Context, runID string, status pipeline.Status) error {
	query := `
UPDATE generation_runs
SET status = $2, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, runID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetByID fetches a run record by its identifier.
func (r *RunRepositoryPG) GetByID(ctx context.Context, runID string) (*RunRecord, error) {
	query := `
SELECT id, status, user_request, actor_id,
       optimized_prompt, negative_prompt, style_spec,
       retry_count, qc_report, metadata,
       has_print_png, has_pdf, has_thumbnail,
       error_message, created_at, updated_at
FROM generation_runs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, runID)

	var (
		rec      RunRecord
		qcJSON   []byte
		metaJSON []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Status,
		&rec.UserRequest,
		&rec.ActorID,
		&rec.OptimizedPrompt,
		&rec.NegativePrompt,
		&rec.StyleSpec,
		&rec.RetryCount,
		&qcJSON,
		&metaJSON,
		&rec.HasPrintPNG,
		&rec.HasPDF,
		&rec.HasThumbnail,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	if len(qcJSON) > 0 {
		var report pipeline.QCReport
		if err := json.Unmarshal(qcJSON, &report); err != nil {
			return nil, fmt.Errorf("repo: decode qc report: %w", err)
		}
		rec.QCReport = &report
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("repo: decode metadata: %w", err)
		}
	}
	return &rec, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case *pipeline.QCReport:
		if value == nil {
			return nil, nil
		}
	case map[string]any:
		if value == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
