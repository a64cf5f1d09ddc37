package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/loqalabs/loqa-facesync/internal/registry"
	"github.com/loqalabs/loqa-facesync/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "facesync.yaml", "Path to configuration file")
	check := flag.Bool("check", false, "Load config and fixtures, report, and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if err := run(*configPath, *check); err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("loqa-facesyncd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, check bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(cfg.Telemetry, os.Stdout).With(slog.String("version", version))

	if check {
		reg, err := registry.New(cfg.Fixtures, logger)
		if err != nil {
			return err
		}
		snap := reg.Snapshot()
		logger.Info("configuration ok",
			slog.Int("active_fixtures", len(snap.Fixtures)),
			slog.Uint64("channel_budget", uint64(snap.TotalChannelBudget())))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := runtime.New(cfg, logger).Start(ctx); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
