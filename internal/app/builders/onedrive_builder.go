package builders

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/onedrive"
)

type OneDriveBuilder struct {
	cfg        *config.OneDriveConfig
	logger     *logger.Logger
	httpClient *http.Client
	prompt     func(onedrive.DeviceCode)
}

// NewOneDriveBuilder creates a builder. prompt shows the device code to the
// operator when no tokens are stored yet.
func NewOneDriveBuilder(cfg *config.OneDriveConfig, log *logger.Logger, httpClient *http.Client, prompt func(onedrive.DeviceCode)) *OneDriveBuilder {
	return &OneDriveBuilder{
		cfg:        cfg,
		logger:     log,
		httpClient: httpClient,
		prompt:     prompt,
	}
}

// TokenStore opens the token file.
func (b *OneDriveBuilder) TokenStore() (*onedrive.TokenStore, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("onedrive is not configured")
	}
	return onedrive.NewTokenStore(onedrive.AuthConfig{
		ClientID:   b.cfg.ClientID,
		AuthURL:    b.cfg.AuthURL,
		TokenPath:  b.cfg.TokenPath,
		HTTPClient: b.httpClient,
	}, b.logger)
}

// Build returns an upload client, running the device-code flow first when
// no tokens are stored. Without a [onedrive] section it returns nil.
func (b *OneDriveBuilder) Build(ctx context.Context) (*onedrive.Client, error) {
	if b.cfg == nil {
		b.logger.Info("onedrive not configured, media backups stay local")
		return nil, nil
	}

	tokens, err := b.TokenStore()
	if err != nil {
		return nil, err
	}

	if !tokens.HasTokens() {
		b.logger.Info("no onedrive tokens stored, starting device authorization")
		if err := tokens.DeviceCodeFlow(ctx, b.prompt); err != nil {
			return nil, err
		}
	}

	return onedrive.NewClient(tokens, onedrive.ClientConfig{
		GraphURL:     b.cfg.GraphURL,
		UploadFolder: b.cfg.UploadFolder,
		HTTPClient:   b.httpClient,
	}, b.logger), nil
}
