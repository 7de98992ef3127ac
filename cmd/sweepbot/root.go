package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/logger"
)

var (
	configPath string
	envFile    string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sweepbot",
	Short: "sweepbot - message retention bot for Telegram",
	Long: `sweepbot deletes chat messages older than a per-chat retention period.
Messages carrying media are downloaded and uploaded to OneDrive first, and
only deleted once the backup is done.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional, secrets may come from the real environment.
		// The configured logger does not exist yet, warnings go to stderr.
		bootLog, err := logger.NewWithWriter(logger.Config{Level: "warn", Format: "text"}, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if _, err := config.LoadEnvOptional(envFile, bootLog); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(queueCmd)
}

// newLogger builds the process logger from cfg and the --log-level flag.
func newLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	level := cfg.Level
	if logLevel != "" {
		level = logLevel
	}
	return logger.New(logger.Config{
		Level:  level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
}
