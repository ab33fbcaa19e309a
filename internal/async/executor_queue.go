package async

import (
	"context"
	"log/slog"
	"sync"

	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

// Executor runs one document through the pipeline.
type Executor interface {
	Execute(ctx context.Context, doc pipeline.Document, base pipeline.Config) (pipeline.DocumentResult, error)
}

// ResultHandler receives every finished document, including failed ones.
type ResultHandler func(ctx context.Context, res pipeline.DocumentResult)

// ExecutorQueue feeds watched documents to a fixed pool of workers. The
// per-document time budget is enforced by the executor.
type ExecutorQueue struct {
	exec    Executor
	base    pipeline.Config
	onDone  ResultHandler
	logger  *slog.Logger
	workers int

	ch     chan Job
	wg     sync.WaitGroup
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	// sendMu guards ch against close while senders are blocked on it.
	sendMu sync.RWMutex
	closed bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Option func(*ExecutorQueue)

func WithWorkers(n int) Option {
	return func(q *ExecutorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ExecutorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithResultHandler(h ResultHandler) Option {
	return func(q *ExecutorQueue) { q.onDone = h }
}

func NewExecutorQueue(exec Executor, base pipeline.Config, logger *slog.Logger, opts ...Option) *ExecutorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &ExecutorQueue{
		exec:     exec,
		base:     base,
		logger:   logger,
		workers:  4,
		ch:       make(chan Job, 256),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: map[string]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ExecutorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for job := range q.ch {
					q.process(workerID, job)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ExecutorQueue) process(workerID int, job Job) {
	defer q.release(job.Document.ID)
	logCtx := q.logger.With("worker_id", workerID, "document_id", job.Document.ID, "trace_id", job.TraceID)

	res, err := q.exec.Execute(q.ctx, job.Document, q.base)
	if err != nil {
		logCtx.Error("processing failed", "status", res.Status, "error", err)
	} else {
		logCtx.Info("processed document", "status", res.Status, "pages", len(res.Pages))
	}
	if q.onDone != nil {
		q.onDone(q.ctx, res)
	}
}

func (q *ExecutorQueue) release(id string) {
	q.mu.Lock()
	delete(q.inFlight, id)
	q.mu.Unlock()
}

// Enqueue admits job unless the queue is closing or the same document is
// already pending. A full queue blocks until a worker frees a slot or ctx is
// done.
func (q *ExecutorQueue) Enqueue(ctx context.Context, job Job) error {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "document_id", job.Document.ID)
		return ErrQueueClosed
	}

	q.mu.Lock()
	if _, dup := q.inFlight[job.Document.ID]; dup && !job.Force {
		q.mu.Unlock()
		q.logger.Debug("document already queued", "document_id", job.Document.ID)
		return nil
	}
	q.inFlight[job.Document.ID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- job:
		q.logger.Info("queued document for processing", "document_id", job.Document.ID, "force", job.Force)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "document_id", job.Document.ID)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		q.release(job.Document.ID)
		return ctx.Err()
	}
}

// Shutdown stops admission and waits for queued documents to drain. When ctx
// ends first, in-flight documents are cancelled.
func (q *ExecutorQueue) Shutdown(ctx context.Context) {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.sendMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context, cancelling in-flight documents")
		q.cancel()
		<-done
	case <-done:
		q.cancel()
		q.logger.Info("queue drained, shutdown complete")
	}
}
