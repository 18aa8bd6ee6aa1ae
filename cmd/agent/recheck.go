package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/logger"
	"coral-agents/internal/usecase/scheduling"
)

// runRecheck performs one pending job sweep without connecting to the hub.
func runRecheck(args []string) error {
	fs := flag.NewFlagSet("recheck", flag.ContinueOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	svc, cleanup, err := initServices(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	defer svc.Poller.Close()

	if svc.Pending == nil {
		return errors.New("no pending job store configured (set catalog.path)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sweep := scheduling.NewPendingRecheck(svc.Pending, svc.Poller,
		cfg.Scheduler.BatchSize, cfg.Scheduler.MaxAttempts, log)
	stats, err := sweep.Run(ctx)
	fmt.Printf("checked %d, stored %d, not stored %d, failed %d, still pending %d, dropped %d\n",
		stats.Checked, stats.Succeeded, stats.Unsaved, stats.Failed, stats.Pending, stats.Dropped)
	return err
}
