// Package main provides the HTTP trigger and backfill server for sludgewire.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/app"
	"github.com/raphaelgruber/sludgewire/internal/config"
	"github.com/raphaelgruber/sludgewire/internal/server"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()
	logger, closeLog := config.SetupLogger("sludgewire-server", cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	logger.Info("starting sludgewire-server", "port", cfg.ServerPort, "store", cfg.StoreBackend)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	if *wipeDB || os.Getenv("SLUDGEWIRE_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := deps.WipeData(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		logger.Warn("database wiped")
	}

	srv := server.New(server.Deps{
		Runner:   deps.Poller,
		Cooldown: deps.Cooldown,
		Backfill: deps.Backfill,
		Jobs:     deps.Jobs,
		Metrics:  deps.Metrics,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, ":"+cfg.ServerPort); err != nil {
		logger.Error("server error", "error", err)
		return
	}
	logger.Info("server stopped")
}
