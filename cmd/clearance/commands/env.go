package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/maltedev/clearance-scraper/internal/config"
	"github.com/maltedev/clearance-scraper/internal/database"
	"github.com/maltedev/clearance-scraper/internal/events"
	"github.com/maltedev/clearance-scraper/internal/sink"
	"github.com/maltedev/clearance-scraper/internal/sites"
)

// environment holds what every command needs: configuration, logging, the
// site bundle and the catalog sinks.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
	bundle sites.Bundle
	db     *database.DB
	files  *sink.FileSink
	sink   sink.Sink
}

func loadEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *sitesFile != "" {
		cfg.Scraper.SitesFile = *sitesFile
	}
	if *outputDir != "" {
		cfg.Scraper.OutputDir = *outputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	bundle, err := sites.Load(cfg.Scraper.SitesFile)
	if err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg, logger: logger, bundle: bundle}

	var sinks sink.Multi
	if cfg.Scraper.OutputDir != "" {
		env.files = sink.NewFileSink(cfg.Scraper.OutputDir)
		sinks = append(sinks, env.files)
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database.Options())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		env.db = db
		sinks = append(sinks, sink.NewPostgresSink(events.NewPublisher(db, logger)))
	}

	env.sink = sinks
	return env, nil
}

func (e *environment) Close() {
	if e.db != nil {
		e.db.Close()
	}
}
