package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
)

type fakeExecutor struct {
	mu    sync.Mutex
	seen  []string
	block chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, doc pipeline.Document, _ pipeline.Config) (pipeline.DocumentResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pipeline.DocumentResult{DocumentID: doc.ID, Status: constants.DocumentStatusAborted}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.seen = append(f.seen, doc.ID)
	f.mu.Unlock()
	return pipeline.DocumentResult{DocumentID: doc.ID, Status: constants.DocumentStatusSucceeded}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func job(id string) Job {
	return Job{Document: pipeline.Document{ID: id, Path: "/in/" + id + ".png", Pages: []int{1}}, SubmittedAt: time.Now()}
}

func TestQueueProcessesAndDrains(t *testing.T) {
	exec := &fakeExecutor{}
	var mu sync.Mutex
	results := map[string]constants.DocumentStatus{}
	q := NewExecutorQueue(exec, nil, quietLogger(), WithWorkers(2), WithResultHandler(func(_ context.Context, r pipeline.DocumentResult) {
		mu.Lock()
		results[r.DocumentID] = r.Status
		mu.Unlock()
	}))
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(context.Background(), job(id)); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}
	q.Shutdown(context.Background())

	if len(results) != 3 {
		t.Fatalf("expected 3 results after drain, got %v", results)
	}
	if err := q.Enqueue(context.Background(), job("d")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueueDeduplicatesPendingDocuments(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	q := NewExecutorQueue(exec, nil, quietLogger(), WithWorkers(1))
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(context.Background(), job("same")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	forced := job("same")
	forced.Force = true
	if err := q.Enqueue(context.Background(), forced); err != nil {
		t.Fatalf("Enqueue forced: %v", err)
	}
	close(exec.block)
	q.Shutdown(context.Background())

	if len(exec.seen) != 2 {
		t.Fatalf("expected one run plus one forced run, got %v", exec.seen)
	}
}

func TestQueueFullRespectsCallerContext(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	q := NewExecutorQueue(exec, nil, quietLogger(), WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(exec.block)
		q.Shutdown(context.Background())
	}()

	// one document occupies the worker, one fills the buffer
	if err := q.Enqueue(context.Background(), job("a")); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(q.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := q.Enqueue(context.Background(), job("b")); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, job("c")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected backpressure timeout, got %v", err)
	}
}

func TestShutdownCancelsInFlightWhenContextEnds(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	var got pipeline.DocumentResult
	done := make(chan struct{})
	q := NewExecutorQueue(exec, nil, quietLogger(), WithWorkers(1), WithResultHandler(func(_ context.Context, r pipeline.DocumentResult) {
		got = r
		close(done)
	}))
	if err := q.Enqueue(context.Background(), job("stuck")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("in-flight document was not cancelled")
	}
	if got.Status != constants.DocumentStatusAborted {
		t.Fatalf("expected aborted, got %s", got.Status)
	}
}
