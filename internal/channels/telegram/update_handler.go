package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/sweepbot/internal/chat"
	"github.com/aatumaykin/sweepbot/internal/logger"
)

// MessageRecorder stores the messages of chats under cleanup.
type MessageRecorder interface {
	Record(ctx context.Context, msg chat.Message) error
}

// ChatFilter reports whether cleanup is enabled for a chat.
type ChatFilter interface {
	IsEnabled(chatID int64) bool
}

// UpdateHandler handles processing of Telegram updates.
type UpdateHandler struct {
	recorder MessageRecorder
	chats    ChatFilter
	commands *CommandHandler
	logger   *logger.Logger
}

// NewUpdateHandler creates a new update handler. A nil chats records every
// chat; commands may be nil.
func NewUpdateHandler(recorder MessageRecorder, chats ChatFilter, commands *CommandHandler, log *logger.Logger) *UpdateHandler {
	return &UpdateHandler{
		recorder: recorder,
		chats:    chats,
		commands: commands,
		logger:   log,
	}
}

// Handle records the message carried by update when its chat is under
// cleanup and runs /cleanup commands. Group messages and channel posts are
// handled alike; edits are ignored.
func (uh *UpdateHandler) Handle(ctx context.Context, update telego.Update) error {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		return nil
	}

	var errs []error

	if uh.chats == nil || uh.chats.IsEnabled(msg.Chat.ID) {
		record := toChatMessage(msg)
		if err := uh.recorder.Record(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("failed to record message: %w", err))
		} else {
			uh.logger.Debug("message recorded",
				logger.Field{Key: "chat_id", Value: record.ChannelID},
				logger.Field{Key: "message_id", Value: record.ID},
				logger.Field{Key: "attachments", Value: len(record.Attachments)})
		}
	}

	if uh.commands != nil && IsCommand(msg.Text) {
		if err := uh.commands.HandleCommand(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
