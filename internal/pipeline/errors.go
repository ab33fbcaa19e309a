package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStageSkipped may be returned by an optional stage that declines to run.
// The executor then forwards the stage's input unchanged.
var ErrStageSkipped = errors.New("pipeline: stage skipped")

// UnknownStageError reports a stage type with no registered implementation.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("pipeline: unknown stage %q", e.Stage)
}

// InvalidStrategyError reports a retry strategy that cannot be applied.
type InvalidStrategyError struct {
	Strategy string
	Stage    string
	Reason   string
}

func (e *InvalidStrategyError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("pipeline: invalid retry strategy %q: %s", e.Strategy, e.Reason)
	}
	return fmt.Sprintf("pipeline: invalid retry strategy %q: stage %q: %s", e.Strategy, e.Stage, e.Reason)
}

// StageExecutionError wraps a stage failure for one page.
type StageExecutionError struct {
	Stage string
	Page  int
	Cause error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("pipeline: stage %q failed on page %d: %v", e.Stage, e.Page, e.Cause)
}

func (e *StageExecutionError) Unwrap() error { return e.Cause }

// QualityBelowThresholdExhausted is recorded when no attempt reached the
// threshold. It is not fatal: the best attempt is still used.
type QualityBelowThresholdExhausted struct {
	Best      float64
	Threshold float64
	Attempts  int
}

func (e *QualityBelowThresholdExhausted) Error() string {
	return fmt.Sprintf("pipeline: quality %.2f below threshold %.2f after %d attempts", e.Best, e.Threshold, e.Attempts)
}

// DocumentTimeoutError reports a document that exceeded its wall-clock budget.
type DocumentTimeoutError struct {
	DocumentID string
	Budget     time.Duration
}

func (e *DocumentTimeoutError) Error() string {
	return fmt.Sprintf("pipeline: document %s exceeded %s budget", e.DocumentID, e.Budget)
}

func (e *DocumentTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// BatchAbortedError is returned by a run that was cancelled before all
// documents were admitted.
type BatchAbortedError struct {
	Admitted int
	Skipped  int
	Cause    error
}

func (e *BatchAbortedError) Error() string {
	return fmt.Sprintf("pipeline: batch aborted after admitting %d documents (%d skipped): %v", e.Admitted, e.Skipped, e.Cause)
}

func (e *BatchAbortedError) Unwrap() error { return e.Cause }
