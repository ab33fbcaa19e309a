package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/scanflow/internal/common"
	"github.com/joseph-ayodele/scanflow/internal/ingest"
	"github.com/joseph-ayodele/scanflow/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	specPath := flag.String("config", cfg.Pipeline.SpecPath, "pipeline YAML path")
	flag.Parse()

	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [--config pipeline.yaml] <file>")
		os.Exit(2)
	}
	cfg.Pipeline.SpecPath = *specPath

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rt, err := server.BuildRuntime(cfg, nil, logger)
	if err != nil {
		logger.Error("load pipeline", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	doc, err := ingest.NewDiscovery(nil, nil, false, logger).Document(flag.Arg(0))
	if err != nil {
		logger.Error("open document", "path", flag.Arg(0), "error", err)
		os.Exit(1)
	}

	start := time.Now()
	res, err := rt.Executor.Execute(ctx, doc, rt.Spec.Stages)
	dur := time.Since(start)
	if err != nil {
		logger.Error("document run failed", "document_id", doc.ID, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	for _, p := range res.Pages {
		attrs := []any{"page", p.Page, "status", p.StatusLabel(), "score", p.Score, "attempts", len(p.Attempts), "output", p.Output}
		if p.Err != nil {
			attrs = append(attrs, "error", p.Err.Error())
		}
		logger.Info("page", attrs...)
	}
	logger.Info("document run OK",
		"document_id", doc.ID,
		"status", res.Status,
		"pages", len(res.Pages),
		"duration_ms", dur.Milliseconds(),
	)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res.Outputs())
}
