package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/common"
)

// DocumentSource enumerates the documents of a run.
type DocumentSource interface {
	Discover(ctx context.Context) ([]Document, error)
}

// SchedulerOption configures a BatchScheduler.
type SchedulerOption func(*BatchScheduler)

// WithWorkers caps concurrently executing documents. Zero means one per CPU.
func WithWorkers(n int) SchedulerOption {
	return func(s *BatchScheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) SchedulerOption {
	return func(s *BatchScheduler) {
		if id != "" {
			s.runID = id
		}
	}
}

// BatchScheduler runs documents through a DocumentExecutor under a
// concurrency cap and aggregates their results.
type BatchScheduler struct {
	exec    *DocumentExecutor
	base    Config
	logger  *slog.Logger
	workers int
	runID   string
	now     func() time.Time
}

// NewBatchScheduler returns a scheduler executing documents under base.
func NewBatchScheduler(exec *DocumentExecutor, base Config, logger *slog.Logger, opts ...SchedulerOption) *BatchScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &BatchScheduler{
		exec:    exec,
		base:    base,
		logger:  logger,
		workers: common.EffectiveWorkers(0),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Workers reports the effective concurrency cap.
func (s *BatchScheduler) Workers() int { return s.workers }

// Run discovers documents from src and executes them. See RunDocuments.
func (s *BatchScheduler) Run(ctx context.Context, src DocumentSource) (RunSummary, error) {
	docs, err := src.Discover(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("pipeline: discover documents: %w", err)
	}
	return s.RunDocuments(ctx, docs)
}

// RunDocuments executes docs with at most Workers() in flight. Per-document
// failures and timeouts are recorded in the summary. The returned error is a
// BatchAbortedError when ctx is cancelled: admission stops, documents not yet
// started are marked skipped, and in-flight documents stop at their next stage
// boundary. The summary is valid in both cases.
func (s *BatchScheduler) RunDocuments(ctx context.Context, docs []Document) (RunSummary, error) {
	runID := s.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	logCtx := s.logger.With("run_id", runID)
	ctx = common.WithRunID(ctx, runID)
	started := s.now()
	logCtx.Info("run started", "documents", len(docs), "workers", s.workers)

	b := newSummaryBuilder()
	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for i, doc := range docs {
		if ctx.Err() != nil {
			for _, rest := range docs[i:] {
				b.skip(rest)
			}
			break
		}
		g.Go(func() error {
			// a slot may free up after cancellation; such documents never start
			if ctx.Err() != nil {
				b.skip(doc)
				return nil
			}
			res, err := s.exec.Execute(ctx, doc, s.base)
			if err != nil {
				logCtx.Warn("document did not complete", "document_id", doc.ID, "error", err)
			}
			b.add(res)
			return nil
		})
	}
	_ = g.Wait()

	if cause := ctx.Err(); cause != nil {
		summary := b.build(runID, constants.RunStatusAborted, started, s.now())
		err := &BatchAbortedError{Admitted: len(docs) - summary.Skipped, Skipped: summary.Skipped, Cause: cause}
		logCtx.Warn("run aborted", "error", err)
		return summary, err
	}
	summary := b.build(runID, constants.RunStatusCompleted, started, s.now())
	logCtx.Info("run finished",
		"passed", summary.Passed,
		"passed_after_retry", summary.PassedAfterRetry,
		"failed", summary.Failed,
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds())
	return summary, nil
}
