package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/sweepbot/internal/app/builders"
	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/onedrive"
)

// authCmd runs the OneDrive device-code authorization
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize OneDrive access",
	Long: `Run the OAuth device-code flow against Microsoft identity and store the
resulting tokens in onedrive.token_path. Existing tokens are replaced.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.OneDrive == nil {
			return fmt.Errorf("no [onedrive] section in %s", configPath)
		}

		log, err := newLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		tokens, err := builders.NewOneDriveBuilder(cfg.OneDrive, log, nil, nil).TokenStore()
		if err != nil {
			return err
		}
		if err := tokens.DeviceCodeFlow(ctx, func(dc onedrive.DeviceCode) { printDeviceCode(out, dc) }); err != nil {
			return err
		}

		fmt.Fprintf(out, "OneDrive authorized, tokens saved to %s\n", cfg.OneDrive.TokenPath)
		return nil
	},
}

func printDeviceCode(w io.Writer, dc onedrive.DeviceCode) {
	fmt.Fprintf(w, "To authorize OneDrive, open %s and enter the code %s\n", dc.VerificationURI, dc.UserCode)
	fmt.Fprintf(w, "The code expires at %s\n", dc.ExpiresAt.Local().Format("15:04:05"))
}

// loadValidConfig loads and validates a config file.
func loadValidConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, &validationError{path: path, errs: errs}
	}
	return cfg, nil
}
