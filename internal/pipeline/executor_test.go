package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/scanflow/constants"
)

func TestExecutePassesFirstTryWithoutRetries(t *testing.T) {
	stubs := newStubStages(map[string]float64{"base/3": 92})
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	res, err := exec.Execute(context.Background(), imageDoc("a"), spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(res.Pages))
	}
	page := res.Pages[0]
	if page.StatusLabel() != "passed-first-try" {
		t.Fatalf("unexpected status %q", page.StatusLabel())
	}
	if page.Strategy != constants.InitialStrategy || page.Score != 92 {
		t.Fatalf("unexpected winner %s/%v", page.Strategy, page.Score)
	}
	if got := stubs.Calls("ocr"); got != 1 {
		t.Fatalf("ocr should run once, ran %d times", got)
	}
	if got := stubs.Calls("preprocess"); got != 1 {
		t.Fatalf("preprocess should run once, ran %d times", got)
	}
	if len(page.Attempts) != 1 {
		t.Fatalf("expected a single attempt, got %+v", page.Attempts)
	}
	if res.Status != constants.DocumentStatusSucceeded {
		t.Fatalf("unexpected document status %s", res.Status)
	}
}

func TestExecutePicksPassingRetryStrategy(t *testing.T) {
	stubs := newStubStages(map[string]float64{
		"base/3":       60,
		"aggressive/3": 70,
		"base/11":      90,
	})
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	res, err := exec.Execute(context.Background(), imageDoc("b"), spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	page := res.Pages[0]
	if page.StatusLabel() != "passed-after-retry:assume_sparse_text" {
		t.Fatalf("unexpected status %q", page.StatusLabel())
	}
	if page.Output != "out:/in/b.png#p1/base/psm11" {
		t.Fatalf("final artifact should come from the second strategy, got %q", page.Output)
	}
	if page.Ledger["ocr"] != "/in/b.png#p1/base/psm11" {
		t.Fatalf("ledger should hold only the winning attempt, got %+v", page.Ledger)
	}
	if len(page.Attempts) != 3 {
		t.Fatalf("expected initial plus two retries, got %+v", page.Attempts)
	}
	if got := stubs.Calls("format"); got != 1 {
		t.Fatalf("suffix should run once for the winner, ran %d times", got)
	}
	if res.Status != constants.DocumentStatusSucceededAfterRetry || res.Strategy() != "assume_sparse_text" {
		t.Fatalf("unexpected document outcome %s/%s", res.Status, res.Strategy())
	}
}

func TestExecuteFlagsLowQualityAndKeepsBestAttempt(t *testing.T) {
	stubs := newStubStages(map[string]float64{
		"base/3":       60,
		"aggressive/3": 70,
		"base/11":      75,
	})
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	res, err := exec.Execute(context.Background(), imageDoc("c"), spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	page := res.Pages[0]
	if page.Status != constants.PageStatusFailedLowQuality {
		t.Fatalf("unexpected status %q", page.Status)
	}
	if page.Score != 75 || page.Strategy != "assume_sparse_text" {
		t.Fatalf("best-of-all should be the 75 attempt, got %s/%v", page.Strategy, page.Score)
	}
	if page.Output != "out:/in/c.png#p1/base/psm11" {
		t.Fatalf("unexpected final artifact %q", page.Output)
	}
	var exhausted *QualityBelowThresholdExhausted
	if !errors.As(page.Err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("expected QualityBelowThresholdExhausted, got %v", page.Err)
	}
	if res.Status != constants.DocumentStatusFailed {
		t.Fatalf("unexpected document status %s", res.Status)
	}
}

func TestExecuteIsolatesFailingPage(t *testing.T) {
	stubs := newStubStages(map[string]float64{"base/3": 95})
	stubs.failNormalize = func(page int) bool { return page == 2 }
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	doc := Document{ID: "d", Path: "/in/d.pdf", Format: "PDF", Pages: []int{1, 2, 3}}
	res, err := exec.Execute(context.Background(), doc, spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Pages) != 3 {
		t.Fatalf("expected 3 page results, got %d", len(res.Pages))
	}
	for _, i := range []int{0, 2} {
		if !res.Pages[i].OK() || res.Pages[i].Output == "" {
			t.Fatalf("page %d should succeed: %+v", res.Pages[i].Page, res.Pages[i])
		}
	}
	failed := res.Pages[1]
	if failed.Status != constants.PageStatusFailed {
		t.Fatalf("page 2 should fail, got %s", failed.Status)
	}
	var stageErr *StageExecutionError
	if !errors.As(failed.Err, &stageErr) || stageErr.Stage != "normalize" || stageErr.Page != 2 {
		t.Fatalf("expected StageExecutionError from normalize on page 2, got %v", failed.Err)
	}
	if res.Status != constants.DocumentStatusPartial {
		t.Fatalf("document should be partial, got %s", res.Status)
	}
}

func TestExecuteHonoursMaxAttemptsCap(t *testing.T) {
	stubs := newStubStages(map[string]float64{
		"base/3":       60,
		"aggressive/3": 70,
		"base/11":      90,
	})
	spec := mustSpec(t, withMaxAttempts(retryPipelineYAML, 1), stubs.registry())
	exec := mustExecutor(t, spec)

	res, err := exec.Execute(context.Background(), imageDoc("cap"), spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := stubs.Calls("ocr"); got != 2 {
		t.Fatalf("expected initial plus one retry, ocr ran %d times", got)
	}
	page := res.Pages[0]
	if page.Status != constants.PageStatusFailedLowQuality || page.Strategy != "aggressive_binarization" {
		t.Fatalf("unexpected outcome %s/%s", page.Status, page.Strategy)
	}
}

func TestExecuteTiesKeepEarliestAttempt(t *testing.T) {
	stubs := newStubStages(map[string]float64{
		"base/3":       60,
		"aggressive/3": 80,
		"base/11":      80,
	})
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	res, err := exec.Execute(context.Background(), imageDoc("tie"), spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Pages[0].Strategy; got != "aggressive_binarization" {
		t.Fatalf("tie should keep the earlier strategy, got %s", got)
	}
}

func TestExecuteStopsAtMaximumScore(t *testing.T) {
	stubs := newStubStages(map[string]float64{
		"base/3":       60,
		"aggressive/3": 100,
		"base/11":      100,
	})
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	if _, err := exec.Execute(context.Background(), imageDoc("max"), spec.Stages); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := stubs.Calls("ocr"); got != 2 {
		t.Fatalf("a perfect score should end the loop, ocr ran %d times", got)
	}
}

func TestExecuteSkipsDisabledAndOptionalStages(t *testing.T) {
	stubs := newStubStages(map[string]float64{"base/3": 90})
	reg := stubs.registry()
	reg.MustRegister("broken", Contract{
		Stage: StageFunc(func(ctx context.Context, in Artifact, p StageParams) (Artifact, error) {
			return Artifact{}, errors.New("model unavailable")
		}),
	})
	doc := strings.Replace(retryPipelineYAML, "  - name: format\n", "  - {name: layout, type: broken, optional: true}\n  - {name: never, type: broken, enabled: false}\n  - name: format\n", 1)
	spec := mustSpec(t, doc, reg)
	exec := mustExecutor(t, spec)

	res, err := exec.Execute(context.Background(), imageDoc("opt"), spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Pages[0].OK() || res.Pages[0].Output == "" {
		t.Fatalf("optional failure should not fail the page: %+v", res.Pages[0])
	}
}

func TestExecuteTimesOutDocument(t *testing.T) {
	stubs := newStubStages(map[string]float64{"base/3": 90})
	stubs.delay = func(string) time.Duration { return 50 * time.Millisecond }
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec, WithDocumentTimeout(10*time.Millisecond))

	doc := Document{ID: "slow", Path: "/in/slow.pdf", Format: "PDF", Pages: []int{1, 2}}
	res, err := exec.Execute(context.Background(), doc, spec.Stages)
	var timeout *DocumentTimeoutError
	if !errors.As(err, &timeout) || timeout.DocumentID != "slow" {
		t.Fatalf("expected DocumentTimeoutError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should unwrap to DeadlineExceeded")
	}
	if res.Status != constants.DocumentStatusTimedOut {
		t.Fatalf("unexpected status %s", res.Status)
	}
	for _, p := range res.Pages {
		if p.Status != constants.PageStatusAborted {
			t.Fatalf("page %d should be aborted, got %s", p.Page, p.Status)
		}
	}
	if got := stubs.Calls("ocr"); got != 0 {
		t.Fatalf("no stage should start after the deadline, ocr ran %d times", got)
	}
}

func TestExecuteRejectsDocumentWithoutPages(t *testing.T) {
	stubs := newStubStages(nil)
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec)

	res, err := exec.Execute(context.Background(), Document{ID: "empty", Path: "/in/empty.pdf"}, spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != constants.DocumentStatusFailed || res.Err == nil {
		t.Fatalf("expected failed document, got %s/%v", res.Status, res.Err)
	}
}

func TestExecuteDiscardsLosingAttemptArtifacts(t *testing.T) {
	dir := t.TempDir()
	stubs := newStubStages(map[string]float64{
		"base/3":       60,
		"aggressive/3": 70,
		"base/11":      90,
	})
	reg := stubs.registry()
	spec := mustSpec(t, retryPipelineYAML, reg)
	exec := mustExecutor(t, spec, WithWorkDir(dir))

	// attempt directories exist only if a stage writes into them
	for _, label := range []string{constants.InitialStrategy, "aggressive_binarization", "assume_sparse_text"} {
		if err := os.MkdirAll(filepath.Join(dir, "keep", "page-0001", label), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	doc := imageDoc("keep")
	if _, err := exec.Execute(context.Background(), doc, spec.Stages); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, label := range []string{constants.InitialStrategy, "aggressive_binarization"} {
		if _, err := os.Stat(filepath.Join(dir, "keep", "page-0001", label)); !os.IsNotExist(err) {
			t.Fatalf("losing attempt %s should be removed, stat err=%v", label, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "keep", "page-0001", "assume_sparse_text")); err != nil {
		t.Fatalf("winning attempt should remain: %v", err)
	}
}

const weakThenGoodYAML = `
stages:
  - name: normalize
  - name: preprocess
    params: {mode: base}
  - name: ocr
    params: {psm: 3}
  - name: format
quality:
  threshold: 85
retry:
  from: preprocess
  to: ocr
  strategies:
    - name: weak
      overrides: {preprocess: {mode: weak}}
    - name: good
      overrides: {ocr: {psm: 11}}
`

func TestExecuteLosingStrategyKeepsPrefixArtifacts(t *testing.T) {
	dir := t.TempDir()
	stubs := newStubStages(map[string]float64{
		"base/3":  50,
		"weak/3":  40,
		"base/11": 95,
	})
	stubs.writeFiles = true
	spec := mustSpec(t, weakThenGoodYAML, stubs.registry())
	exec := mustExecutor(t, spec, WithWorkDir(dir))

	res, err := exec.Execute(context.Background(), imageDoc("d1"), spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	page := res.Pages[0]
	if page.StatusLabel() != "passed-after-retry:good" {
		t.Fatalf("unexpected status %q, attempts %+v", page.StatusLabel(), page.Attempts)
	}
	pageRoot := filepath.Join(dir, "d1", "page-0001")
	if _, err := os.Stat(filepath.Join(pageRoot, constants.PhaseBase, "page.png")); err != nil {
		t.Fatalf("prefix output must survive discarded attempts: %v", err)
	}
	for _, label := range []string{constants.InitialStrategy, "weak"} {
		if _, err := os.Stat(filepath.Join(pageRoot, label)); !os.IsNotExist(err) {
			t.Fatalf("losing attempt %s should be removed, stat err=%v", label, err)
		}
	}
	if _, err := os.Stat(filepath.Join(pageRoot, "good", "base.png")); err != nil {
		t.Fatalf("winning attempt output should remain: %v", err)
	}
}

func TestExecuteRecordsFailingRetryAttemptAndContinues(t *testing.T) {
	dir := t.TempDir()
	// no score for aggressive/3, so the first strategy's OCR stage errors
	stubs := newStubStages(map[string]float64{
		"base/3":  60,
		"base/11": 90,
	})
	stubs.writeFiles = true
	spec := mustSpec(t, retryPipelineYAML, stubs.registry())
	exec := mustExecutor(t, spec, WithWorkDir(dir))

	res, err := exec.Execute(context.Background(), imageDoc("flaky"), spec.Stages)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	page := res.Pages[0]
	if len(page.Attempts) != 3 {
		t.Fatalf("expected initial plus two retries, got %+v", page.Attempts)
	}
	failed := page.Attempts[1]
	if failed.Strategy != "aggressive_binarization" || failed.Score != MinScore {
		t.Fatalf("failed attempt should be recorded at the minimum score, got %+v", failed)
	}
	if !strings.Contains(failed.Err, "no score for aggressive/3") {
		t.Fatalf("failed attempt should carry its error, got %q", failed.Err)
	}
	if page.StatusLabel() != "passed-after-retry:assume_sparse_text" || page.Score != 90 {
		t.Fatalf("loop should continue to the next strategy, got %s/%v", page.StatusLabel(), page.Score)
	}
	if _, err := os.Stat(filepath.Join(dir, "flaky", "page-0001", "aggressive_binarization")); !os.IsNotExist(err) {
		t.Fatalf("failed attempt scratch should be removed, stat err=%v", err)
	}
	if got := stubs.Calls("format"); got != 1 {
		t.Fatalf("suffix should run once, ran %d times", got)
	}
}

func TestExecuteDiscardsLosingIntermediates(t *testing.T) {
	work, inter := t.TempDir(), t.TempDir()
	stubs := newStubStages(map[string]float64{
		"base/3":       60,
		"aggressive/3": 70,
		"base/11":      90,
	})
	stubs.writeFiles = true
	doc := retryPipelineYAML + "intermediate:\n  save: true\n  dir: " + inter + "\n"
	spec := mustSpec(t, doc, stubs.registry())
	exec := mustExecutor(t, spec, WithWorkDir(work))

	if _, err := exec.Execute(context.Background(), imageDoc("inter"), spec.Stages); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	pageRoot := filepath.Join(inter, "inter", "page-0001")
	for _, label := range []string{constants.InitialStrategy, "aggressive_binarization"} {
		if _, err := os.Stat(filepath.Join(pageRoot, label)); !os.IsNotExist(err) {
			t.Fatalf("intermediates of losing attempt %s should be removed, stat err=%v", label, err)
		}
	}
	if _, err := os.Stat(filepath.Join(pageRoot, "assume_sparse_text", "base_threshold.png")); err != nil {
		t.Fatalf("winning attempt intermediates should remain: %v", err)
	}
}
