package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/sweepbot/internal/chat"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/retry"
)

// MessageIndex is the local message history the platform pages through.
type MessageIndex interface {
	Before(ctx context.Context, chatID, before int64, limit int) ([]chat.Message, error)
	Delete(ctx context.Context, chatID int64, ids ...int64) error
}

// Platform exposes a Telegram chat to the cleanup pipeline. History comes
// from the index; deletions go to the Bot API and are mirrored in the index.
type Platform struct {
	bot    BotInterface
	index  MessageIndex
	logger *logger.Logger
	retry  retry.Config
}

// NewPlatform creates a platform adapter.
func NewPlatform(bot BotInterface, index MessageIndex, log *logger.Logger, retryCfg retry.Config) *Platform {
	return &Platform{
		bot:    bot,
		index:  index,
		logger: log.Component("telegram_platform"),
		retry:  retryCfg,
	}
}

// FetchMessages returns up to limit indexed messages older than before.
func (p *Platform) FetchMessages(ctx context.Context, channelID, before int64, limit int) ([]chat.Message, error) {
	msgs, err := p.index.Before(ctx, channelID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read message index: %w", err)
	}
	return msgs, nil
}

// DeleteMessage deletes one message. A message that is already gone counts
// as deleted.
func (p *Platform) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	err := callAPI(ctx, p.retry, p.logger, channelID, func() error {
		return p.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
			ChatID:    telego.ChatID{ID: channelID},
			MessageID: int(messageID),
		})
	})
	if err != nil {
		details, ok := errorDetails(err, channelID)
		if !ok || !details.IsMessageGone() {
			return fmt.Errorf("failed to delete message %d: %w", messageID, err)
		}
		p.logger.Debug("message already gone",
			logger.Field{Key: "channel_id", Value: channelID},
			logger.Field{Key: "message_id", Value: messageID})
	}

	p.forget(ctx, channelID, messageID)
	return nil
}

// BulkDeleteMessages deletes up to 100 messages in one request. Telegram
// skips ids that no longer exist.
func (p *Platform) BulkDeleteMessages(ctx context.Context, channelID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}

	ids := make([]int, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = int(id)
	}

	err := callAPI(ctx, p.retry, p.logger, channelID, func() error {
		return p.bot.DeleteMessages(ctx, &telego.DeleteMessagesParams{
			ChatID:     telego.ChatID{ID: channelID},
			MessageIDs: ids,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d messages: %w", len(ids), err)
	}

	p.forget(ctx, channelID, messageIDs...)
	return nil
}

// forget drops deleted messages from the index. A failure only means the
// next pass tries to delete them again.
func (p *Platform) forget(ctx context.Context, channelID int64, ids ...int64) {
	if err := p.index.Delete(ctx, channelID, ids...); err != nil {
		p.logger.Error("failed to remove deleted messages from index", err,
			logger.Field{Key: "channel_id", Value: channelID},
			logger.Field{Key: "count", Value: len(ids)})
	}
}
