package telegram

import (
	"context"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/sweepbot/internal/logger"
)

// longPollTimeout is the getUpdates timeout in seconds.
const longPollTimeout = 30

// LongPollManager handles long polling for Telegram updates.
type LongPollManager struct {
	bot     BotInterface
	handler *UpdateHandler
	logger  *logger.Logger
}

// NewLongPollManager creates a new long poll manager.
func NewLongPollManager(bot BotInterface, handler *UpdateHandler, log *logger.Logger) *LongPollManager {
	return &LongPollManager{
		bot:     bot,
		handler: handler,
		logger:  log,
	}
}

// Run polls for updates until ctx is cancelled or the update channel closes.
func (lpm *LongPollManager) Run(ctx context.Context) error {
	lpm.logger.Info("starting long polling for telegram updates")

	updates, err := lpm.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        longPollTimeout,
		AllowedUpdates: []string{"message", "channel_post"},
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			lpm.logger.Info("long polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				lpm.logger.Info("updates channel closed")
				return nil
			}

			if err := lpm.handler.Handle(ctx, update); err != nil {
				lpm.logger.ErrorCtx(ctx, "failed to handle update", err,
					logger.Field{Key: "update_id", Value: update.UpdateID})
			}
		}
	}
}
