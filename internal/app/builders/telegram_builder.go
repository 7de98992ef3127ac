// Package builders assembles the platform-facing components of the app.
package builders

import (
	"fmt"
	"net/http"

	"github.com/aatumaykin/sweepbot/internal/cancellation"
	"github.com/aatumaykin/sweepbot/internal/channels/telegram"
	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/history"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/retry"
)

// TelegramComponents is everything built on top of one bot.
type TelegramComponents struct {
	Connector  *telegram.Connector
	Platform   *telegram.Platform
	Downloader *telegram.Downloader
}

type TelegramBuilder struct {
	store      *config.Store
	logger     *logger.Logger
	index      *history.Index
	registry   *cancellation.Registry
	httpClient *http.Client
}

func NewTelegramBuilder(store *config.Store, log *logger.Logger, index *history.Index, registry *cancellation.Registry, httpClient *http.Client) *TelegramBuilder {
	return &TelegramBuilder{
		store:      store,
		logger:     log,
		index:      index,
		registry:   registry,
		httpClient: httpClient,
	}
}

// Build wires the connector, the platform adapter and the downloader to bot.
// A nil bot is created from the configured token.
func (b *TelegramBuilder) Build(bot telegram.BotInterface) (*TelegramComponents, error) {
	cfg := b.store.Snapshot()

	if bot == nil {
		var err error
		bot, err = telegram.NewBot(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
	}

	commands := telegram.NewCommandHandler(bot, b.store, b.registry, b.index, cfg.Telegram.AllowedUsers, b.logger)
	if len(cfg.Telegram.AllowedUsers) == 0 {
		b.logger.Warn("telegram.allowed_users is empty, anyone can change cleanup settings")
	}

	return &TelegramComponents{
		Connector:  telegram.New(bot, b.index, b.store, commands, b.logger),
		Platform:   telegram.NewPlatform(bot, b.index, b.logger, retry.Config{}),
		Downloader: telegram.NewDownloader(bot, cfg.MediaBackup.DownloadDir, b.httpClient, retry.Config{}, b.logger),
	}, nil
}
