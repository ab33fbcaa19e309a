package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/common"
)

// Document is one discovered source file.
type Document struct {
	ID     string
	Path   string
	Format string // constants.PDF | constants.IMAGE
	Pages  []int  // 1-based page indexes, in processing order
}

// AttemptRecord is the score of one executed attempt.
type AttemptRecord struct {
	Strategy string
	Score    float64
	Err      string
}

// PageResult is the outcome of one page.
type PageResult struct {
	Page     int
	Status   constants.PageStatus
	Strategy string // winning attempt, constants.InitialStrategy for the base config
	Score    float64
	Attempts []AttemptRecord
	Output   string            // final artifact location
	Ledger   map[string]string // stage name -> artifact path of the surviving attempt
	Err      error
}

// StatusLabel renders the page status, suffixing the strategy for retried passes.
func (r PageResult) StatusLabel() string {
	if r.Status == constants.PageStatusPassedAfterRetry {
		return string(r.Status) + ":" + r.Strategy
	}
	return string(r.Status)
}

// OK reports whether the page met the quality threshold and completed.
func (r PageResult) OK() bool {
	return r.Status == constants.PageStatusPassedFirstTry || r.Status == constants.PageStatusPassedAfterRetry
}

// DocumentResult is the outcome of one document.
type DocumentResult struct {
	DocumentID string
	Path       string
	Status     constants.DocumentStatus
	Pages      []PageResult
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Strategy returns the strategy that produced the document's output: the
// first non-initial strategy among passing pages, or constants.InitialStrategy.
func (r DocumentResult) Strategy() string {
	for _, p := range r.Pages {
		if p.Strategy != "" && p.Strategy != constants.InitialStrategy {
			return p.Strategy
		}
	}
	return constants.InitialStrategy
}

// Outputs returns the final artifact locations of every page that produced one.
func (r DocumentResult) Outputs() []string {
	var out []string
	for _, p := range r.Pages {
		if p.Output != "" {
			out = append(out, p.Output)
		}
	}
	return out
}

// ExecutorOption configures a DocumentExecutor.
type ExecutorOption func(*DocumentExecutor)

// WithWorkDir roots per-document scratch artifacts under dir.
func WithWorkDir(dir string) ExecutorOption {
	return func(e *DocumentExecutor) { e.workDir = dir }
}

// WithDocumentTimeout bounds the wall-clock time of one Execute call.
func WithDocumentTimeout(d time.Duration) ExecutorOption {
	return func(e *DocumentExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *DocumentExecutor) {
		if now != nil {
			e.now = now
		}
	}
}

// DocumentExecutor drives documents through the stage list. One executor is
// shared by all workers; per-document state lives on the Execute call stack.
type DocumentExecutor struct {
	spec      *PipelineSpec
	planner   *RetryPlanner
	evaluator *QualityEvaluator
	threshold float64
	logger    *slog.Logger
	workDir   string
	timeout   time.Duration
	now       func() time.Time
}

// NewDocumentExecutor builds an executor for a loaded spec.
func NewDocumentExecutor(spec *PipelineSpec, logger *slog.Logger, opts ...ExecutorOption) (*DocumentExecutor, error) {
	if spec == nil || spec.Planner() == nil {
		return nil, fmt.Errorf("pipeline: executor requires a loaded spec")
	}
	if logger == nil {
		logger = slog.Default()
	}
	evaluator, err := NewQualityEvaluator(spec.Quality.Metric, spec.Quality.LowTokenConfidence)
	if err != nil {
		return nil, err
	}
	e := &DocumentExecutor{
		spec:      spec,
		planner:   spec.Planner(),
		evaluator: evaluator,
		threshold: spec.Quality.Threshold,
		logger:    logger,
		timeout:   spec.DocumentTimeout,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Execute runs every page of doc under base. Page failures are recorded in
// the result; the returned error is non-nil only when the document as a whole
// was cut short (DocumentTimeoutError or cancellation).
func (e *DocumentExecutor) Execute(ctx context.Context, doc Document, base Config) (DocumentResult, error) {
	res := DocumentResult{DocumentID: doc.ID, Path: doc.Path, StartedAt: e.now()}
	logCtx := e.logger.With("document_id", doc.ID, "path", doc.Path)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx = common.WithDocumentID(ctx, doc.ID)

	if len(doc.Pages) == 0 {
		res.Status = constants.DocumentStatusFailed
		res.Err = fmt.Errorf("pipeline: document %s has no pages", doc.ID)
		res.FinishedAt = e.now()
		return res, nil
	}

	var cutShort error
	for _, page := range doc.Pages {
		if cutShort == nil {
			cutShort = ctx.Err()
		}
		if cutShort != nil {
			res.Pages = append(res.Pages, PageResult{Page: page, Status: constants.PageStatusAborted, Err: cutShort})
			continue
		}
		pr := e.runPage(ctx, logCtx, doc, page, base)
		if pr.Status == constants.PageStatusAborted {
			cutShort = pr.Err
		}
		res.Pages = append(res.Pages, pr)
	}
	res.FinishedAt = e.now()

	if cutShort != nil {
		if errors.Is(cutShort, context.DeadlineExceeded) {
			res.Status = constants.DocumentStatusTimedOut
			res.Err = &DocumentTimeoutError{DocumentID: doc.ID, Budget: e.timeout}
		} else {
			res.Status = constants.DocumentStatusAborted
			res.Err = cutShort
		}
		logCtx.Warn("document cut short", "status", res.Status, "error", res.Err)
		return res, res.Err
	}
	res.Status = documentStatus(res.Pages)
	logCtx.Info("document finished", "status", res.Status, "pages", len(res.Pages),
		"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds())
	return res, nil
}

func documentStatus(pages []PageResult) constants.DocumentStatus {
	ok, retried := 0, 0
	for _, p := range pages {
		if p.OK() {
			ok++
			if p.Status == constants.PageStatusPassedAfterRetry {
				retried++
			}
		}
	}
	switch {
	case ok == len(pages) && retried == 0:
		return constants.DocumentStatusSucceeded
	case ok == len(pages):
		return constants.DocumentStatusSucceededAfterRetry
	case ok == 0:
		return constants.DocumentStatusFailed
	default:
		return constants.DocumentStatusPartial
	}
}

func (e *DocumentExecutor) pageDir(doc Document, page int, label string) string {
	if e.workDir == "" {
		return ""
	}
	return filepath.Join(e.workDir, doc.ID, fmt.Sprintf("page-%04d", page), label)
}

func (e *DocumentExecutor) intermediateDir(doc Document, page int, label string) string {
	if !e.spec.Intermediate.Save || e.spec.Intermediate.Dir == "" {
		return ""
	}
	return filepath.Join(e.spec.Intermediate.Dir, doc.ID, fmt.Sprintf("page-%04d", page), label)
}

// phaseContext scopes stage output for one phase or attempt of a page.
func (e *DocumentExecutor) phaseContext(ctx context.Context, doc Document, page int, label string) context.Context {
	ctx = common.WithAttempt(ctx, label)
	if dir := e.pageDir(doc, page, label); dir != "" {
		ctx = common.WithWorkDir(ctx, dir)
	}
	if dir := e.intermediateDir(doc, page, label); dir != "" {
		ctx = common.WithIntermediateDir(ctx, dir)
	}
	return ctx
}

// runStages executes cfg[lo..hi] in order, threading artifacts through the
// ledger. Cancellation is observed before each stage.
func (e *DocumentExecutor) runStages(ctx context.Context, logCtx *slog.Logger, cfg Config, lo, hi int, current Artifact, ledger map[string]Artifact) (Artifact, error) {
	for i := lo; i <= hi && i < len(cfg); i++ {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		stage := cfg[i]
		if !stage.Enabled {
			continue
		}
		in := current
		if stage.Input != "" {
			if a, ok := ledger[stage.Input]; ok {
				in = a
			} else {
				logCtx.Debug("declared input not produced, using previous artifact", "stage", stage.Name, "input", stage.Input)
			}
		}
		if want := stage.Contract.Input; want != KindAny && in.Kind != want {
			err := fmt.Errorf("expects %s input, got %s", want, in.Kind)
			if stage.Optional {
				logCtx.Warn("optional stage skipped", "stage", stage.Name, "page", in.Page, "error", err)
				continue
			}
			return current, &StageExecutionError{Stage: stage.Name, Page: in.Page, Cause: err}
		}

		start := e.now()
		out, err := stage.Contract.Stage.Invoke(ctx, in, StageParams{Params: stage.Params, Ops: stage.Ops})
		if err != nil {
			if stage.Optional || errors.Is(err, ErrStageSkipped) {
				logCtx.Warn("optional stage skipped", "stage", stage.Name, "page", in.Page, "error", err)
				continue
			}
			return current, &StageExecutionError{Stage: stage.Name, Page: in.Page, Cause: err}
		}
		logCtx.Debug("stage done", "stage", stage.Name, "page", in.Page, "artifact", out.Path,
			"duration_ms", e.now().Sub(start).Milliseconds())
		ledger[stage.Name] = out
		current = out
	}
	return current, nil
}

func cloneLedger(l map[string]Artifact) map[string]Artifact {
	out := make(map[string]Artifact, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// discard removes the scratch and intermediate directories of an attempt
// that lost selection.
func (e *DocumentExecutor) discard(logCtx *slog.Logger, doc Document, page int, label string) {
	for _, dir := range []string{e.pageDir(doc, page, label), e.intermediateDir(doc, page, label)} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logCtx.Warn("failed to remove discarded attempt", "page", page, "attempt", label, "dir", dir, "error", err)
		}
	}
}
