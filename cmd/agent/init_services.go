package main

import (
	"fmt"
	"log/slog"

	"coral-agents/internal/adapter/catalog"
	"coral-agents/internal/adapter/generation"
	"coral-agents/internal/adapter/tool"
	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/resilience"
	"coral-agents/internal/usecase/jobpoller"
	"coral-agents/internal/usecase/scheduling"
)

// Services are the collaborators shared by every persona.
type Services struct {
	Catalog   domain.Catalog
	Library   domain.SongLibrary
	Pending   domain.PendingJobStore
	Poller    *jobpoller.Poller
	News      *tool.NewsSearch
	Scheduler *scheduling.Scheduler
}

// initServices opens the catalog and builds the job poller. The returned
// cleanup closes the catalog; the poller is closed by the caller first.
func initServices(cfg *config.Config, log *slog.Logger) (*Services, func(), error) {
	cat, pending, err := catalog.New(cfg.Catalog, log)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: %w", err)
	}
	cleanup := func() {
		if err := cat.Close(); err != nil {
			log.Error("catalog close error", "error", err)
		}
	}
	if pending == nil {
		log.Warn("no local pending job store; timed-out songs will not be rechecked")
	}

	providers, err := generation.NewSelectorFromConfig(cfg.Generation, log)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("generation: %w", err)
	}

	poller := jobpoller.New(pollerConfig(cfg.Generation), jobpoller.Deps{
		Providers: providers,
		Catalog:   cat,
		Pending:   pending,
		Logger:    log.With("component", "jobpoller"),
	})

	svc := &Services{
		Catalog: cat,
		Pending: pending,
		Poller:  poller,
		News:    tool.NewNewsSearch(cfg.News, resilience.NewHTTPClient(resilience.HTTPConfig{})),
	}
	// Both backends read songs back; a catalog that cannot leaves the song
	// listing tools unbuildable.
	if lib, ok := cat.(domain.SongLibrary); ok {
		svc.Library = lib
	}
	if cfg.News.APIKey == "" {
		log.Warn("news api key not set; search_news calls will be rejected")
	}

	if cfg.Scheduler.Enabled && pending != nil {
		sched := scheduling.NewScheduler(log.With("component", "scheduler"))
		sweep := scheduling.NewPendingRecheck(pending, poller,
			cfg.Scheduler.BatchSize, cfg.Scheduler.MaxAttempts, log.With("component", "recheck"))
		if err := sched.AddTask(sweep.Task(cfg.Scheduler.Recheck)); err != nil {
			poller.Close()
			cleanup()
			return nil, nil, fmt.Errorf("scheduler: %w", err)
		}
		svc.Scheduler = sched
	}

	return svc, cleanup, nil
}

func pollerConfig(g config.GenerationConfig) jobpoller.Config {
	return jobpoller.Config{
		Grace:       g.Grace,
		Interval:    g.Interval,
		Ceiling:     g.Ceiling,
		StatusRetry: g.StatusRetry,
	}
}
