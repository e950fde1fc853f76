package cli

import (
	"context"
	"errors"
	"fmt"

	appinit "github.com/pavelzhukov/raylink/internal/app"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/eventbus"
	"github.com/spf13/cobra"
)

// container is the full dependency graph, set by main. Only serve needs
// it; the operator commands work through the smaller App.
var container *appinit.Container

// SetContainer sets the container used by the serve command.
func SetContainer(c *appinit.Container) {
	container = c
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and event consumers",
	Long: `Run the long-lived serving process: the Telegram dispatcher, the
lifecycle event consumers, and (unless disabled) the outbox processor
and periodic jobs. Stops on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := container
		if c == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}
		if c.Dispatcher == nil {
			return fmt.Errorf("telegram bot not configured (set TELEGRAM_BOT_TOKEN)")
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg := c.Config

		// With RabbitMQ as the broker the consumers need a queue
		// subscription; the in-process bus already dispatches to them.
		if c.InProcessEventBus == nil {
			registry := eventbus.NewConsumerRegistry(c.Logger)
			queueConsumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
				URL:    cfg.RabbitMQURL,
				Logger: c.Logger,
			}, registry)
			if err != nil {
				return fmt.Errorf("failed to start event consumer: %w", err)
			}
			defer queueConsumer.Close()

			for _, consumer := range c.EventConsumers {
				queueConsumer.RegisterConsumer(consumer)
			}

			go func() {
				if err := queueConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					c.Logger.Error("event consumer stopped", "error", err)
					cancel()
				}
			}()
		}

		if cfg.OutboxProcessorEnabled {
			if err := c.OutboxProcessor.Start(ctx); err != nil {
				return fmt.Errorf("failed to start outbox processor: %w", err)
			}
			defer c.OutboxProcessor.Stop()
		} else {
			c.Logger.Info("outbox processor disabled, expecting a worker to publish events")
		}

		if cfg.JobsEnabled {
			go appinit.NewJobs(c).Run(ctx)
		} else {
			c.Logger.Info("periodic jobs disabled, expecting a worker to run them")
		}

		c.Logger.Info("raylink serving",
			"driver", string(c.DBDriver),
			"consumers", len(c.EventConsumers),
		)

		c.Dispatcher.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
