package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/scanflow/constants"
)

type staticSource []Document

func (s staticSource) Discover(ctx context.Context) ([]Document, error) { return s, nil }

func TestRunDocumentsRespectsWorkerCap(t *testing.T) {
	stubs := newStubStages(map[string]float64{"base/3": 95})
	stubs.delay = func(string) time.Duration { return 20 * time.Millisecond }
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	var docs []Document
	for i := 0; i < 8; i++ {
		docs = append(docs, imageDoc(fmt.Sprintf("doc-%02d", i)))
	}
	sched := NewBatchScheduler(exec, spec.Stages, discardLogger(), WithWorkers(3))
	summary, err := sched.RunDocuments(context.Background(), docs)
	if err != nil {
		t.Fatalf("RunDocuments: %v", err)
	}
	if peak := stubs.peak.Load(); peak > 3 || peak < 1 {
		t.Fatalf("peak concurrency %d outside [1,3]", peak)
	}
	if summary.Passed != 8 || summary.Status != constants.RunStatusCompleted {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunSummaryIsOrderedAndCounted(t *testing.T) {
	stubs := newStubStages(map[string]float64{
		"base/3":       60,
		"aggressive/3": 70,
		"base/11":      90,
	})
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	// every page needs the sparse-text strategy; page 2 never renders
	stubs.failNormalize = func(page int) bool { return page == 2 }
	docs := []Document{
		{ID: "c-partial", Path: "/in/c.pdf", Format: constants.PDF, Pages: []int{1, 2}},
		{ID: "a-retry", Path: "/in/a.png", Format: constants.IMAGE, Pages: []int{1}},
		{ID: "b-failed", Path: "/in/b.pdf", Format: constants.PDF, Pages: []int{2}},
	}
	sched := NewBatchScheduler(exec, spec.Stages, discardLogger(), WithWorkers(2), WithRunID("run-1"))
	summary, err := sched.Run(context.Background(), staticSource(docs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RunID != "run-1" {
		t.Fatalf("unexpected run id %q", summary.RunID)
	}
	var ids []string
	for _, d := range summary.Documents {
		ids = append(ids, d.DocumentID)
	}
	if got := strings.Join(ids, ","); got != "a-retry,b-failed,c-partial" {
		t.Fatalf("documents not ordered by id: %s", got)
	}
	if summary.PassedAfterRetry != 1 || summary.Failed != 2 || summary.Partial != 1 || summary.Passed != 0 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	row, ok := summary.Document("a-retry")
	if !ok || row.Strategy != "assume_sparse_text" || row.Attempts != 3 {
		t.Fatalf("unexpected row %+v", row)
	}
	if row, _ := summary.Document("b-failed"); row.Status != constants.DocumentStatusFailed {
		t.Fatalf("b-failed should be failed, got %s", row.Status)
	}
}

func TestRunDocumentsPreCancelledSkipsEverything(t *testing.T) {
	stubs := newStubStages(map[string]float64{"base/3": 95})
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	docs := []Document{imageDoc("a"), imageDoc("b"), imageDoc("c")}
	summary, err := NewBatchScheduler(exec, spec.Stages, discardLogger(), WithWorkers(2)).RunDocuments(ctx, docs)

	var aborted *BatchAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected BatchAbortedError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("abort should unwrap to context.Canceled")
	}
	if aborted.Skipped != 3 || aborted.Admitted != 0 || summary.Skipped != 3 {
		t.Fatalf("unexpected abort %+v / summary %+v", aborted, summary)
	}
	if summary.Status != constants.RunStatusAborted {
		t.Fatalf("unexpected run status %s", summary.Status)
	}
	if stubs.Calls("normalize") != 0 {
		t.Fatalf("no stage should run after cancellation")
	}
}

func TestRunDocumentsCancelMidRun(t *testing.T) {
	stubs := newStubStages(map[string]float64{"base/3": 95})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stubs.onNormalize = cancel
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	docs := []Document{imageDoc("a"), imageDoc("b"), imageDoc("c")}
	summary, err := NewBatchScheduler(exec, spec.Stages, discardLogger(), WithWorkers(1)).RunDocuments(ctx, docs)

	var aborted *BatchAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected BatchAbortedError, got %v", err)
	}
	if aborted.Admitted != 1 || aborted.Skipped != 2 {
		t.Fatalf("unexpected abort counts %+v", aborted)
	}
	if row, _ := summary.Document("a"); row.Status != constants.DocumentStatusAborted {
		t.Fatalf("in-flight document should be aborted, got %s", row.Status)
	}
	for _, id := range []string{"b", "c"} {
		if row, _ := summary.Document(id); row.Status != constants.DocumentStatusSkipped {
			t.Fatalf("document %s should be skipped, got %s", id, row.Status)
		}
	}
	if stubs.Calls("ocr") != 0 {
		t.Fatalf("stages after the cancel point should not run")
	}
}

func TestRunDocumentsTimesOutSlowDocumentOnly(t *testing.T) {
	stubs := newStubStages(map[string]float64{"base/3": 95})
	stubs.delay = func(path string) time.Duration {
		if strings.Contains(path, "slow") {
			return 200 * time.Millisecond
		}
		return 0
	}
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec, WithDocumentTimeout(50*time.Millisecond))

	docs := []Document{imageDoc("fast-1"), imageDoc("slow"), imageDoc("fast-2")}
	summary, err := NewBatchScheduler(exec, spec.Stages, discardLogger(), WithWorkers(3)).RunDocuments(context.Background(), docs)
	if err != nil {
		t.Fatalf("a document timeout must not abort the batch: %v", err)
	}
	if row, _ := summary.Document("slow"); row.Status != constants.DocumentStatusTimedOut {
		t.Fatalf("slow document should time out, got %s", row.Status)
	}
	if summary.Passed != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected counts %+v", summary)
	}
}
