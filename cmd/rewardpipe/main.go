package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/engagekit/rewardpipe/internal/config"
	"github.com/engagekit/rewardpipe/internal/detect"
	pgledger "github.com/engagekit/rewardpipe/internal/ledger/postgres"
	"github.com/engagekit/rewardpipe/internal/pipeline"
	"github.com/engagekit/rewardpipe/internal/telemetry"
	transport "github.com/engagekit/rewardpipe/internal/transport/http"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Parse()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "port", cfg.Port, "origin", cfg.Origin, "auto_detection", cfg.EnableAutoDetection)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	otelShutdown, err := telemetry.Setup(ctx, "rewardpipe")
	if err != nil {
		logger.Error("telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	adapter, err := pipeline.New(pcfg, pipeline.Options{Logger: logger})
	if err != nil {
		logger.Error("pipeline", "error", err)
		os.Exit(1)
	}

	// The ledger capability is optional at startup: without a DSN the
	// pipeline queues occurrences until one is attached.
	var ledger *pgledger.Ledger
	if cfg.PostgresDSN != "" {
		ledger, err = pgledger.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("ledger connect", "error", err)
			os.Exit(1)
		}
		defer ledger.Close()

		mig := filepath.Join("migrations", "0001_init.sql")
		if err := ledger.RunMigration(ctx, mig); err != nil {
			logger.Error("migration", "error", err)
			os.Exit(1)
		}
		logger.Info("ledger connected, migration applied")

		forwarded := adapter.AttachLedger(ctx, ledger)
		logger.Info("ledger capability attached", "drained", forwarded)
	} else {
		logger.Warn("no POSTGRES_DSN set, running without a submission capability")
	}

	deps := &transport.ServerDeps{
		Cfg:     cfg,
		Adapter: adapter,
		Detect:  detect.New(adapter, logger),
		Ledger:  ledger,
		Logger:  logger,
		Now:     func() time.Time { return time.Now().UTC() },
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
}
