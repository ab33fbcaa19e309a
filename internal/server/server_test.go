package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/common"
	"github.com/joseph-ayodele/scanflow/internal/ocr"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
	repo "github.com/joseph-ayodele/scanflow/internal/repository"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type okExecutor struct{}

func (okExecutor) Execute(_ context.Context, doc pipeline.Document, _ pipeline.Config) (pipeline.DocumentResult, error) {
	now := time.Now()
	return pipeline.DocumentResult{
		DocumentID: doc.ID,
		Path:       doc.Path,
		Status:     constants.DocumentStatusSucceeded,
		StartedAt:  now,
		FinishedAt: now,
		Pages:      []pipeline.PageResult{{Page: 1, Status: constants.PageStatusPassedFirstTry, Strategy: constants.InitialStrategy, Score: 90}},
	}, nil
}

type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }

func (stubEngine) Recognize(context.Context, string, ocr.Options) (ocr.Result, error) {
	return ocr.Result{Text: "ok"}, nil
}

func healthStatus(t *testing.T, hs interface {
	Check(context.Context, *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error)
}) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func TestDaemonProcessesWatchedFilesAndDrains(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "scan.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	db, err := repo.Open(context.Background(), repo.Config{DSN: repo.InMemoryDSN}, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close(quietLogger())
	runs := repo.NewRunRepository(db, quietLogger())
	grpcServer, hs := NewGRPCServer()
	defer grpcServer.Stop()

	if got := healthStatus(t, hs); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("health should start NOT_SERVING, got %s", got)
	}

	runID := uuid.NewString()
	d := NewDaemon(DaemonConfig{
		Roots:       []string{root},
		SkipHidden:  true,
		InitialScan: true,
		Debounce:    10 * time.Millisecond,
		Workers:     2,
		RunID:       runID,
	}, okExecutor{}, nil, runs, hs, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	var summary pipeline.RunSummary
	for time.Now().Before(deadline) {
		summary, err = runs.LoadRun(context.Background(), runID)
		if err == nil && len(summary.Documents) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(summary.Documents) != 1 || summary.Documents[0].Status != constants.DocumentStatusSucceeded {
		t.Fatalf("watched document was not recorded: %+v (%v)", summary, err)
	}
	if got := healthStatus(t, hs); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("health should be SERVING while watching, got %s", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("daemon did not stop")
	}
	if got := healthStatus(t, hs); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("health should be NOT_SERVING after drain, got %s", got)
	}
}

const runtimeYAML = `
workers: 3
stages:
  - {name: normalize}
  - {name: ocr, params: {psm: 3}}
  - {name: format}
quality: {threshold: 80}
retry:
  from: ocr
  to: ocr
  strategies:
    - {name: sparse, overrides: {ocr: {psm: 11}}}
`

func TestBuildRuntime(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(specPath, []byte(runtimeYAML), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	cfg := &common.Config{
		Pipeline: common.PipelineConfig{
			SpecPath:        specPath,
			DocumentTimeout: time.Minute,
			WorkDir:         filepath.Join(dir, "work"),
			OutputDir:       filepath.Join(dir, "out"),
		},
	}
	rt, err := BuildRuntime(cfg, stubEngine{}, quietLogger())
	if err != nil {
		t.Fatalf("BuildRuntime: %v", err)
	}
	defer rt.Close()
	if rt.Workers != 3 || len(rt.Spec.Stages) != 3 || rt.Executor == nil {
		t.Fatalf("unexpected runtime %+v", rt)
	}

	cfg.Pipeline.Workers = 5
	rt2, err := BuildRuntime(cfg, stubEngine{}, quietLogger())
	if err != nil {
		t.Fatalf("BuildRuntime: %v", err)
	}
	defer rt2.Close()
	if rt2.Workers != 5 {
		t.Fatalf("env workers should override the document, got %d", rt2.Workers)
	}
}

func TestBuildRuntimeMissingSpec(t *testing.T) {
	cfg := &common.Config{Pipeline: common.PipelineConfig{SpecPath: filepath.Join(t.TempDir(), "missing.yaml")}}
	if _, err := BuildRuntime(cfg, stubEngine{}, quietLogger()); err == nil {
		t.Fatalf("expected error for missing pipeline document")
	}
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(common.OCRConfig{Engine: "tesseract", Tesseract: "tesseract"}, quietLogger())
	if err != nil || e.Name() != "tesseract" {
		t.Fatalf("unexpected engine %v, %v", e, err)
	}
	if _, err := NewEngine(common.OCRConfig{Engine: "abbyy"}, quietLogger()); err == nil {
		t.Fatalf("expected error for unknown engine")
	}
}

func TestOpenStoreDisabledWithoutDSN(t *testing.T) {
	db, err := OpenStore(context.Background(), common.DatabaseConfig{}, false, quietLogger())
	if err != nil || db != nil {
		t.Fatalf("expected disabled store, got %v, %v", db, err)
	}
	db, err = OpenStore(context.Background(), common.DatabaseConfig{}, true, quietLogger())
	if err != nil || db == nil {
		t.Fatalf("expected in-memory store, got %v", err)
	}
	db.Close(quietLogger())
}
