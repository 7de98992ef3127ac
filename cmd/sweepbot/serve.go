package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/sweepbot/internal/app"
	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/onedrive"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot (main command)",
	Long: `Run the Telegram connector, the cleanup scheduler and the backup worker
until SIGINT or SIGTERM. If OneDrive is configured and no tokens are stored,
the device-code authorization runs first.`,
	Args: cobra.NoArgs,
	RunE: serveHandler,
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	store := config.NewStore(configPath, cfg, log)

	log.Info("Starting sweepbot",
		logger.Field{Key: "version", Value: Version},
		logger.Field{Key: "git_commit", Value: GitCommit},
		logger.Field{Key: "config", Value: configPath},
		logger.Field{Key: "telegram_token", Value: config.MaskTelegramToken(cfg.Telegram.Token)},
		logger.Field{Key: "schedule_interval", Value: cfg.ScheduleInterval().String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	a := app.New(store, log, app.WithDevicePrompt(func(dc onedrive.DeviceCode) {
		printDeviceCode(out, dc)
	}))

	if err := a.Run(ctx); err != nil {
		log.Error("sweepbot stopped with error", err)
		return err
	}

	log.Info("sweepbot stopped gracefully")
	return nil
}
