package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/maltedev/clearance-scraper/internal/database"
	"github.com/maltedev/clearance-scraper/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var consumeStream *string

func init() {
	consumeStream = consumeCmd.Flags().String("stream", database.DefaultTargetStream, "Stream catalog events are read from.")
	rootCmd.AddCommand(consumeCmd)
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Follows published catalog events on the Redis stream.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := loadEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		cfg := env.cfg

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		consumer := events.NewConsumer(client, printEvent(cmd.OutOrStdout()), env.logger, events.ConsumerConfig{
			Stream: *consumeStream,
			Group:  cfg.Redis.ConsumerGroup,
			Name:   cfg.Redis.ConsumerName,
		})
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func printEvent(w io.Writer) events.Handler {
	return func(_ context.Context, id string, p events.CatalogPublishedPayload) error {
		store := p.StoreSlug
		if store == "" {
			store = "-"
		}
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%d products (%d clearance)\t%s\n",
			id, p.Source, store, p.Count, p.ClearanceCount, p.CatalogID)
		return err
	}
}
