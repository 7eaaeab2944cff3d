package pipeline

import (
	"errors"
	"fmt"
)

// Status enumerates the lifecycle of a generation run. The happy path walks
// the four phases in order; the generation/QC pair may cycle up to the retry
// ceiling; failed is reachable from every non-terminal state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusPhase1Prompt     Status = "phase1_prompt"
	StatusPhase2Generation Status = "phase2_generation"
	StatusPhase3QC         Status = "phase3_qc"
	StatusPhase4Postprod   Status = "phase4_postprod"
	StatusCompleted        Status = "completed"
	StatusLowConfidence    Status = "low_confidence"
	StatusFailed           Status = "failed"
	StatusAsyncRetry       Status = "async_retry"
)

// ErrInvalidTransition marks a lifecycle move that the transition table does
// not allow. Hitting it is a programming error in the orchestrator, not a
// condition external input can produce.
var ErrInvalidTransition = errors.New("pipeline: invalid status transition")

var statusTransitions = map[Status][]Status{
	StatusPending:          {StatusPhase1Prompt, StatusFailed},
	StatusPhase1Prompt:     {StatusPhase2Generation, StatusFailed},
	StatusPhase2Generation: {StatusPhase3QC, StatusFailed},
	StatusPhase3QC:         {StatusPhase2Generation, StatusPhase4Postprod, StatusFailed},
	StatusPhase4Postprod:   {StatusCompleted, StatusLowConfidence, StatusFailed},
	StatusCompleted:        {},
	StatusLowConfidence:    {StatusAsyncRetry},
	StatusFailed:           {},
	StatusAsyncRetry:       {StatusCompleted, StatusLowConfidence, StatusFailed},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal reports whether a run in this status will not advance further on
// the synchronous path. A low-confidence run is terminal for the caller even
// though the asynchronous continuation may still improve it.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusLowConfidence, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Re-entering the current status is always allowed so that the retry loop can
// restart a phase without special-casing.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) transitionTo(next Status) (Status, error) {
	if !next.Valid() {
		return s, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}
