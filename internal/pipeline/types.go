package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// GenerationRequest is the immutable input of one pipeline invocation.
type GenerationRequest struct {
	UserRequest          string
	ReferenceImageBase64 string
	StyleLock            bool
	ActorID              string
}

// Candidate is one evaluated image together with the confidence it scored
// and the attempt that produced it.
type Candidate struct {
	Data    []byte
	Score   float64
	Attempt int
}

// Artifacts holds the three deterministic outputs of post-production.
type Artifacts struct {
	PrintPNG  []byte
	PDF       []byte
	Thumbnail []byte
}

// PipelineRun is the mutable state container for one generation. It is owned
// exclusively by the orchestrator that created it; once returned it is a
// value to persist, not shared state.
type PipelineRun struct {
	ID              string
	Status          Status
	UserRequest     string
	ActorID         string
	OptimizedPrompt string
	NegativePrompt  string
	StyleSpec       string
	RetryCount      int
	Best            *Candidate
	QCReport        *QCReport
	Artifacts       *Artifacts
	Metadata        map[string]any
	ErrorMessage    string
	CreatedAt       time.Time
}

// NewPipelineRun creates a pending run with a fresh identifier and seeded
// metadata.
func NewPipelineRun(req GenerationRequest) *PipelineRun {
	actor := req.ActorID
	if actor == "" {
		actor = "admin"
	}
	now := time.Now().UTC()
	return &PipelineRun{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		UserRequest: req.UserRequest,
		ActorID:     actor,
		Metadata: map[string]any{
			"user_id":       actor,
			"started_at":    now.Format(time.RFC3339),
			"has_reference": req.ReferenceImageBase64 != "",
			"style_lock":    req.StyleLock,
		},
		CreatedAt: now,
	}
}

// transition advances the run status through the lifecycle table.
func (r *PipelineRun) transition(next Status) error {
	status, err := r.Status.transitionTo(next)
	if err != nil {
		return err
	}
	r.Status = status
	return nil
}

// recordCandidate keeps the highest-scoring candidate seen so far. Only a
// strictly greater score replaces the incumbent, so ties favor the earlier,
// cheaper attempt.
func (r *PipelineRun) recordCandidate(c Candidate) bool {
	if r.Best != nil && c.Score <= r.Best.Score {
		return false
	}
	r.Best = &c
	return true
}
