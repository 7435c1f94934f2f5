package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/maltedev/clearance-scraper/internal/api"
	"github.com/maltedev/clearance-scraper/internal/browser"
	"github.com/maltedev/clearance-scraper/internal/database"
	"github.com/maltedev/clearance-scraper/internal/jobs"
	"github.com/maltedev/clearance-scraper/internal/runner"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the run API and, with Redis enabled, relays catalog events.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		env, err := loadEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		cfg, logger := env.cfg, env.logger

		b, err := browser.New(cfg.BrowserOptions())
		if err != nil {
			return fmt.Errorf("failed to initialize browser: %w", err)
		}
		defer b.Close()

		r := newRunner(env, b)
		manager := jobs.NewManager(func(ctx context.Context, names []string, maxPages int) []runner.Report {
			return r.WithMaxPages(maxPages).Run(ctx, names)
		}, r.Sites(), cfg.Queue.MaxSize, logger)
		go manager.StartWorker(ctx)

		var (
			catalogs api.CatalogReader
			outbox   api.OutboxStats
		)
		if env.files != nil {
			catalogs = env.files
		}
		if env.db != nil {
			catalogs = database.NewCatalogRepository(env.db)
			repo := database.NewOutboxRepository(env.db)
			outbox = repo

			if cfg.Redis.Enabled {
				redisClient := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer redisClient.Close()

				if err := redisClient.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("failed to connect to Redis: %w", err)
				}

				relay := database.NewRelay(repo, redisClient, logger, database.RelayConfig{
					PollInterval: cfg.Redis.PollInterval,
					BatchSize:    cfg.Redis.BatchSize,
				})
				go func() {
					if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("relay stopped with error", "error", err)
					}
				}()
			}
		}

		handlers := api.NewHandlers(manager, catalogs, outbox, env.bundle, logger)
		server := &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			logger.Info("shutting down server...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", "error", err)
			}
		}()

		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}

		logger.Info("server stopped")
		return nil
	},
}
