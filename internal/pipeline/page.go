package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/joseph-ayodele/scanflow/constants"
)

// pagePhase is the state of one page's run: prefix stages, then the QA loop
// over the retry-eligible range, then suffix stages.
type pagePhase int

const (
	phasePrefix pagePhase = iota
	phaseQA
	phaseSuffix
	phaseDone
)

func (p pagePhase) String() string {
	switch p {
	case phasePrefix:
		return "prefix"
	case phaseQA:
		return "qa"
	case phaseSuffix:
		return "suffix"
	default:
		return "done"
	}
}

// attempt is one execution of the retry-eligible range.
type attempt struct {
	strategy string
	artifact Artifact
	ledger   map[string]Artifact
	score    Score
}

// pageRun is owned by a single Execute call and never shared.
type pageRun struct {
	doc     Document
	page    int
	phase   pagePhase
	current Artifact
	ledger  map[string]Artifact
	result  PageResult
}

func (e *DocumentExecutor) runPage(ctx context.Context, logCtx *slog.Logger, doc Document, page int, base Config) PageResult {
	run := &pageRun{
		doc:     doc,
		page:    page,
		phase:   phasePrefix,
		current: Artifact{Kind: KindSource, Path: doc.Path, Page: page, Format: doc.Format},
		ledger:  map[string]Artifact{},
		result:  PageResult{Page: page},
	}
	logCtx = logCtx.With("page", page)
	for run.phase != phaseDone {
		switch run.phase {
		case phasePrefix:
			e.runPrefix(ctx, logCtx, run, base)
		case phaseQA:
			e.runQualityLoop(ctx, logCtx, run, base)
		case phaseSuffix:
			e.runSuffix(ctx, logCtx, run, base)
		}
	}
	return run.result
}

func (run *pageRun) fail(logCtx *slog.Logger, err error) {
	run.result.Err = err
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		run.result.Status = constants.PageStatusAborted
	} else {
		run.result.Status = constants.PageStatusFailed
	}
	logCtx.Error("page failed", "phase", run.phase.String(), "status", run.result.Status, "error", err)
	run.phase = phaseDone
}

func (run *pageRun) adopt(a *attempt) {
	run.current = a.artifact.
		WithMeta(MetaStrategy, a.strategy).
		WithMeta(MetaScore, strconv.FormatFloat(a.score.Value, 'f', 2, 64))
	run.ledger = a.ledger
	run.result.Strategy = a.strategy
	run.result.Score = a.score.Value
}

func (e *DocumentExecutor) runPrefix(ctx context.Context, logCtx *slog.Logger, run *pageRun, base Config) {
	from, _ := e.planner.Range()
	if from > 0 {
		pctx := e.phaseContext(ctx, run.doc, run.page, constants.PhaseBase)
		out, err := e.runStages(pctx, logCtx, base, 0, from-1, run.current, run.ledger)
		if err != nil {
			run.fail(logCtx, err)
			return
		}
		run.current = out
	}
	run.phase = phaseQA
}

func (e *DocumentExecutor) runAttempt(ctx context.Context, logCtx *slog.Logger, run *pageRun, cfg Config, strategy string) (*attempt, error) {
	from, to := e.planner.Range()
	ledger := cloneLedger(run.ledger)
	actx := e.phaseContext(ctx, run.doc, run.page, strategy)
	out, err := e.runStages(actx, logCtx.With("attempt", strategy), cfg, from, to, run.current, ledger)
	if err != nil {
		return nil, err
	}
	score := e.evaluator.Score(out.OCR)
	logCtx.Info("attempt scored", "strategy", strategy, "score", score.Value,
		"tokens", score.Tokens, "low_tokens", score.LowTokens, "threshold", e.threshold)
	return &attempt{strategy: strategy, artifact: out, ledger: ledger, score: score}, nil
}

// runQualityLoop runs the initial attempt and, if it scores below the
// threshold, every planned strategy up to the cap. The highest score wins;
// ties keep the earlier attempt. Losing attempts are discarded before the
// suffix runs.
func (e *DocumentExecutor) runQualityLoop(ctx context.Context, logCtx *slog.Logger, run *pageRun, base Config) {
	best, err := e.runAttempt(ctx, logCtx, run, base, constants.InitialStrategy)
	if err != nil {
		run.fail(logCtx, err)
		return
	}
	run.result.Attempts = append(run.result.Attempts, AttemptRecord{Strategy: best.strategy, Score: best.score.Value})
	if best.score.Value >= e.threshold {
		run.adopt(best)
		run.result.Status = constants.PageStatusPassedFirstTry
		run.phase = phaseSuffix
		return
	}

	for _, plan := range e.planner.Plan(base) {
		if best.score.Value >= MaxScore {
			break
		}
		a, err := e.runAttempt(ctx, logCtx, run, plan.Config, plan.Strategy)
		if err != nil {
			if ctx.Err() != nil {
				e.discard(logCtx, run.doc, run.page, best.strategy)
				run.fail(logCtx, err)
				return
			}
			logCtx.Warn("retry attempt failed", "strategy", plan.Strategy, "error", err)
			run.result.Attempts = append(run.result.Attempts, AttemptRecord{Strategy: plan.Strategy, Score: MinScore, Err: err.Error()})
			e.discard(logCtx, run.doc, run.page, plan.Strategy)
			continue
		}
		run.result.Attempts = append(run.result.Attempts, AttemptRecord{Strategy: a.strategy, Score: a.score.Value})
		if a.score.Value > best.score.Value {
			e.discard(logCtx, run.doc, run.page, best.strategy)
			best = a
		} else {
			e.discard(logCtx, run.doc, run.page, a.strategy)
		}
	}

	run.adopt(best)
	if best.score.Value >= e.threshold {
		run.result.Status = constants.PageStatusPassedAfterRetry
	} else {
		run.result.Status = constants.PageStatusFailedLowQuality
		run.result.Err = &QualityBelowThresholdExhausted{
			Best:      best.score.Value,
			Threshold: e.threshold,
			Attempts:  len(run.result.Attempts),
		}
		logCtx.Warn("quality below threshold after retries", "best_strategy", best.strategy, "score", best.score.Value)
	}
	run.phase = phaseSuffix
}

func (e *DocumentExecutor) runSuffix(ctx context.Context, logCtx *slog.Logger, run *pageRun, base Config) {
	_, to := e.planner.Range()
	sctx := e.phaseContext(ctx, run.doc, run.page, constants.PhaseFinal)
	out, err := e.runStages(sctx, logCtx, base, to+1, len(base)-1, run.current, run.ledger)
	if err != nil {
		run.fail(logCtx, err)
		return
	}
	run.current = out
	run.result.Output = out.Path
	run.result.Ledger = make(map[string]string, len(run.ledger))
	for name, a := range run.ledger {
		run.result.Ledger[name] = a.Path
	}
	run.phase = phaseDone
}
