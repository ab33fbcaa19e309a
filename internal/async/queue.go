package async

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// ErrQueueClosed is returned by Enqueue after Shutdown has begun.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job is the smallest useful unit: one discovered document.
type Job struct {
	Document    pipeline.Document
	Force       bool // enqueue even if the document is already queued or running
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
