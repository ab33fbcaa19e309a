package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/scanflow/constants"
	"github.com/joseph-ayodele/scanflow/internal/async"
	"github.com/joseph-ayodele/scanflow/internal/ingest"
	"github.com/joseph-ayodele/scanflow/internal/pipeline"
	repo "github.com/joseph-ayodele/scanflow/internal/repository"
)

// DaemonConfig configures watch mode.
type DaemonConfig struct {
	Roots          []string
	Extensions     []string
	SkipHidden     bool
	InitialScan    bool
	Debounce       time.Duration
	Workers        int
	QueueSize      int
	DrainTimeout   time.Duration
	EnqueueTimeout time.Duration
	RunID          string // defaults to a fresh UUID
}

// Daemon turns watcher events into queued documents and persists each result
// under a single long-lived run.
type Daemon struct {
	cfg       DaemonConfig
	exec      async.Executor
	base      pipeline.Config
	discovery *ingest.Discovery
	runs      repo.RunRepository
	health    *health.Server
	logger    *slog.Logger
}

// NewDaemon wires a daemon. runs and hs may be nil.
func NewDaemon(cfg DaemonConfig, exec async.Executor, base pipeline.Config, runs repo.RunRepository, hs *health.Server, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	return &Daemon{
		cfg:       cfg,
		exec:      exec,
		base:      base,
		discovery: ingest.NewDiscovery(cfg.Roots, cfg.Extensions, cfg.SkipHidden, logger),
		runs:      runs,
		health:    hs,
		logger:    logger.With("run_id", cfg.RunID),
	}
}

// RunID is the run every watched document is recorded under.
func (d *Daemon) RunID() string { return d.cfg.RunID }

// Run blocks until ctx is done, then drains the queue within DrainTimeout.
func (d *Daemon) Run(ctx context.Context) error {
	if d.runs != nil {
		if err := d.runs.StartRun(ctx, d.cfg.RunID, time.Now()); err != nil {
			return err
		}
	}
	queue := async.NewExecutorQueue(d.exec, d.base, d.logger,
		async.WithWorkers(d.cfg.Workers),
		async.WithQueueSize(d.cfg.QueueSize),
		async.WithResultHandler(d.record),
	)

	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       d.cfg.Roots,
		AllowedExts: constants.ExtensionSet(d.cfg.Extensions),
		SkipHidden:  d.cfg.SkipHidden,
		InitialScan: d.cfg.InitialScan,
		Debounce:    d.cfg.Debounce,
	}, d.logger)
	if err != nil {
		queue.Shutdown(context.Background())
		return err
	}
	setStatus(d.health, grpc_health_v1.HealthCheckResponse_SERVING)
	d.logger.Info("watching for documents", "roots", d.cfg.Roots, "workers", d.cfg.Workers)

	for events != nil || errs != nil {
		select {
		case path, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.admit(ctx, queue, path)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("watch error", "error", err)
		}
	}

	setStatus(d.health, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	d.logger.Info("draining queue", "timeout", d.cfg.DrainTimeout.String())
	drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	queue.Shutdown(drainCtx)
	return nil
}

func (d *Daemon) admit(ctx context.Context, queue async.Queue, path string) {
	if _, err := os.Stat(path); err != nil {
		// renamed away or deleted before the debounce fired
		d.logger.Debug("ignoring vanished file", "path", path)
		return
	}
	doc, err := d.discovery.Document(path)
	if err != nil {
		d.logger.Warn("document has no readable pages", "path", path, "error", err)
	}
	enqCtx, cancel := context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
	defer cancel()
	err = queue.Enqueue(enqCtx, async.Job{Document: doc, SubmittedAt: time.Now(), TraceID: uuid.NewString()})
	if err != nil && !errors.Is(err, async.ErrQueueClosed) {
		d.logger.Error("failed to enqueue document", "document_id", doc.ID, "path", path, "error", err)
	}
}

// record persists one finished document. It runs on queue workers.
func (d *Daemon) record(ctx context.Context, res pipeline.DocumentResult) {
	if d.runs == nil {
		return
	}
	// the queue context is cancelled on a forced shutdown; results still land
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := d.runs.SaveDocument(saveCtx, d.cfg.RunID, res); err != nil {
		d.logger.Error("failed to persist document", "document_id", res.DocumentID, "error", err)
	}
}
