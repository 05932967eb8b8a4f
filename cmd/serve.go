package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"smsform/pkg/bus"
	"smsform/pkg/config"
	"smsform/pkg/conversation"
	"smsform/pkg/dialogue"
	"smsform/pkg/dispatch"
	"smsform/pkg/gateway"
	"smsform/pkg/logger"
	"smsform/pkg/notify"
	"smsform/pkg/provider"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SMS webhook server",
	Long:  "Serves the Event Grid webhook, the conversation management API and health endpoints, and replies to inbound SMS in the background.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serve(runCtx, cfg, appLogger); err != nil {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	cmdLog := log.With("component", "cmd.serve")
	cmdLog.Info("Starting SMS form server", cfg.Summary()...)

	client, err := provider.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize provider: %w", err)
	}

	engineOpts := dialogue.OptionsFromConfig(cfg)
	engineOpts.Logger = log
	engine, err := dialogue.New(client, engineOpts)
	if err != nil {
		return fmt.Errorf("initialize dialogue engine: %w", err)
	}

	sender, err := newSender(cfg, log)
	if err != nil {
		return fmt.Errorf("configure sender: %w", err)
	}
	cmdLog.Info("Outbound SMS transport selected", "sender", sender.Name())

	messageBus := bus.NewMessageBus(cfg.Dispatch.QueueSize)
	defer messageBus.Close()
	store := conversation.NewStore()

	dispatchOpts := dispatch.OptionsFromConfig(cfg)
	dispatchOpts.Logger = log
	dispatcher, err := dispatch.New(messageBus, store, engine, sender, dispatchOpts)
	if err != nil {
		return fmt.Errorf("initialize dispatcher: %w", err)
	}

	svc, err := gateway.NewService(cfg, store, dispatcher, client, log)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatch.ObserveEvents(gctx, messageBus, log)
		return nil
	})

	if cfg.NATS.Enabled() {
		conn, err := notify.Connect(cfg.NATS, log)
		if err != nil {
			return err
		}
		defer conn.Close()

		forwarder, err := notify.NewForwarder(conn, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return err
		}
		forwarder.Only(cfg.NATS.EventTypes...)
		g.Go(func() error {
			forwarder.Run(gctx, messageBus)
			return conn.Drain()
		})
	}

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		return svc.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	cmdLog.Info("SMS form server stopped")
	return nil
}
