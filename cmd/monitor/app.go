package main

import (
	"context"
	"fmt"

	"sourceMonitor/internal/config"
	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/core/services"
	"sourceMonitor/internal/infrastructure/email"
	"sourceMonitor/internal/infrastructure/lookup"
	"sourceMonitor/internal/infrastructure/metrics"
	"sourceMonitor/internal/infrastructure/persistence"
	"sourceMonitor/internal/infrastructure/scraper"
)

// app is the wired monitor.
type app struct {
	cfg     *config.Config
	store   domain.Store
	alerts  *services.AlertEngine
	monitor *services.Monitor
}

func openStore(ctx context.Context, cfg config.StorageConfig) (domain.Store, error) {
	switch cfg.Backend {
	case "json":
		return persistence.OpenJSON(cfg.Path)
	default:
		return persistence.OpenSQLite(ctx, cfg.Path)
	}
}

// loadStore opens only the configured store, for commands that never fetch.
func loadStore(ctx context.Context) (*config.Config, domain.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, store, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, store, err := loadStore(ctx)
	if err != nil {
		return nil, err
	}

	f := cfg.Fetch
	fetcher := scraper.NewFetcher(scraper.FetcherOptions{
		Limiter:      scraper.NewHostLimiter(f.HostRPS, f.HostBurst, f.HostConcurrency),
		UserAgent:    f.UserAgent,
		MaxAttempts:  f.MaxAttempts,
		Backoff:      f.Backoff,
		MaxBodyBytes: f.MaxBodyBytes,
	})

	ropts := services.RunnerOptions{
		Fetcher:        fetcher,
		Store:          store,
		MaxConcurrency: f.MaxConcurrency,
		Timeout:        f.Timeout,
		Logger:         logger,
	}
	if c := lookup.New(lookup.Config{
		Endpoint: cfg.Lookup.Endpoint,
		APIKey:   cfg.Lookup.APIKey(),
		Engine:   cfg.Lookup.Engine,
		Country:  cfg.Lookup.Country,
		Timeout:  cfg.Lookup.Timeout,
	}); c != nil {
		ropts.Lookup = c
	}
	if cfg.ReportsDir != "" {
		reports, err := services.NewReportArchive(cfg.ReportsDir)
		if err != nil {
			store.Close()
			return nil, err
		}
		ropts.Reports = reports
	}

	alerts := services.NewAlertEngine(services.AlertEngineOptions{
		Store: store,
		Notifier: email.NewNotifier(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password(),
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		}),
		Window: cfg.Alerts.DedupWindow,
		Logger: logger,
	})

	mopts := services.MonitorOptions{
		Runner:  services.NewRunner(ropts),
		Alerts:  alerts,
		Store:   store,
		Targets: cfg.Targets(),
		Logger:  logger,
	}
	if w := metrics.NewTextfileWriter(cfg.MetricsTextfile); w != nil {
		mopts.Observer = w
	}

	return &app{
		cfg:     cfg,
		store:   store,
		alerts:  alerts,
		monitor: services.NewMonitor(mopts),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
