package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joseph-ayodele/scanflow/internal/common"
	"github.com/joseph-ayodele/scanflow/internal/export"
	"github.com/joseph-ayodele/scanflow/internal/ingest"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
	repo "github.com/joseph-ayodele/scanflow/internal/repository"
	"github.com/joseph-ayodele/scanflow/internal/server"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	cfg := common.LoadConfig()

	var (
		specPath = flag.String("config", cfg.Pipeline.SpecPath, "pipeline YAML path")
		dir      = flag.String("dir", "", "input directory or file; comma separated for several (required)")
		outDir   = flag.String("out", cfg.Pipeline.OutputDir, "output directory for page text/json")
		report   = flag.String("report", "", "XLSX report path (default <out>/run-<id>.xlsx)")
		inmem    = flag.Bool("inmem", false, "record the run in an in-memory SQLite database")
		workers  = flag.Int("workers", cfg.Pipeline.Workers, "concurrent documents (0 = pipeline setting or CPU count)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	cfg.Pipeline.SpecPath = *specPath
	cfg.Pipeline.OutputDir = *outDir
	cfg.Pipeline.Workers = *workers
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(common.ExitCode(err))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := server.BuildRuntime(cfg, nil, logger)
	if err != nil {
		logger.Error("failed to load pipeline", "error", err, "error_code", common.ErrorCode(err))
		os.Exit(common.ExitCode(err))
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to release stage resources", "error", err)
		}
	}()

	db, err := server.OpenStore(ctx, cfg.Database, *inmem, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err, "error_code", common.ErrorCode(err))
		os.Exit(common.ExitCode(err))
	}
	var runs repo.RunRepository
	if db != nil {
		defer db.Close(logger)
		runs = repo.NewRunRepository(db, logger)
	}

	roots := strings.Split(*dir, ",")
	source := ingest.NewDiscovery(roots, rt.Spec.Input.Extensions, rt.Spec.SkipHidden(), logger)
	sched := pipeline.NewBatchScheduler(rt.Executor, rt.Spec.Stages, logger, pipeline.WithWorkers(rt.Workers))

	summary, runErr := sched.Run(ctx, source)
	var aborted *pipeline.BatchAbortedError
	if runErr != nil && !errors.As(runErr, &aborted) {
		logger.Error("batch run failed", "error", runErr)
		os.Exit(1)
	}

	// the run is recorded even when interrupted
	if runs != nil {
		if err := runs.SaveSummary(context.WithoutCancel(ctx), summary); err != nil {
			logger.Error("failed to save run summary", "run_id", summary.RunID, "error", err)
		}
	}

	if *report == "" {
		*report = filepath.Join(cfg.Pipeline.OutputDir, "run-"+summary.RunID+".xlsx")
	}
	if err := export.NewService(runs, logger).WriteFile(*report, summary); err != nil {
		logger.Error("failed to write report", "path", *report, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Run: %s (%s)\n", summary.RunID, summary.Status)
	fmt.Printf("- Documents: %d\n", len(summary.Documents))
	fmt.Printf("- Passed: %d\n", summary.Passed)
	fmt.Printf("- Passed after retry: %d\n", summary.PassedAfterRetry)
	fmt.Printf("- Failed: %d (partial %d)\n", summary.Failed, summary.Partial)
	fmt.Printf("- Skipped: %d\n", summary.Skipped)
	fmt.Printf("- Report: %s\n", *report)

	if aborted != nil {
		os.Exit(130)
	}
	if summary.Failed > 0 {
		os.Exit(2)
	}
}
