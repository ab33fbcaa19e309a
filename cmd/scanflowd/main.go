package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/scanflow/internal/common"
	repo "github.com/joseph-ayodele/scanflow/internal/repository"
	"github.com/joseph-ayodele/scanflow/internal/server"
)

func main() {
	cfg := common.LoadConfig()

	var (
		dir     = flag.String("dir", os.Getenv("SCANFLOW_WATCH_DIR"), "directories to watch, comma separated (required)")
		initial = flag.Bool("initial-scan", true, "process files already present at startup")
		drain   = flag.Duration("drain-timeout", 30*time.Second, "time allowed for queued documents on shutdown")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if *dir == "" {
		logger.Error("missing --dir or SCANFLOW_WATCH_DIR")
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err, "error_code", common.ErrorCode(err))
		os.Exit(common.ExitCode(err))
	}
	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

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

	db, err := server.OpenStore(ctx, cfg.Database, false, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err, "error_code", common.ErrorCode(err))
		os.Exit(common.ExitCode(err))
	}
	var runs repo.RunRepository
	if db != nil {
		defer db.Close(logger)
		if err := db.HealthCheck(ctx, 5*time.Second, logger); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		runs = repo.NewRunRepository(db, logger)
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		os.Exit(1)
	}
	grpcServer, hs := server.NewGRPCServer()

	logger.Info("scanflowd listening", "addr", addr)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve failed", "error", err)
			stop()
		}
	}()

	daemon := server.NewDaemon(server.DaemonConfig{
		Roots:        strings.Split(*dir, ","),
		Extensions:   rt.Spec.Input.Extensions,
		SkipHidden:   rt.Spec.SkipHidden(),
		InitialScan:  *initial,
		Debounce:     cfg.Server.WatchDebounce,
		Workers:      rt.Workers,
		QueueSize:    cfg.Server.QueueSize,
		DrainTimeout: *drain,
	}, rt.Executor, rt.Spec.Stages, runs, hs, logger)

	if err := daemon.Run(ctx); err != nil {
		logger.Error("daemon failed", "error", err)
		grpcServer.Stop()
		os.Exit(1)
	}

	logger.Info("shutting down...")
	grpcServer.GracefulStop()
	logger.Info("stopped", "run_id", daemon.RunID())
}
