package telegram

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/logger"
)

const cleanupCommand = "/cleanup"

const cleanupHelp = `Usage:
/cleanup enable [days] - delete messages older than the given number of days
/cleanup disable - stop cleaning this chat
/cleanup status - show the retention policy of this chat`

// ChannelStore persists per-chat retention policies.
type ChannelStore interface {
	AddChannel(id int64, ch config.ChannelConfig) (int, error)
	RemoveChannel(id int64) (bool, error)
	EnabledChannels() []config.EnabledChannel
}

// TaskCanceller controls running cleanup tasks.
type TaskCanceller interface {
	Cancel(channelID int64) bool
	IsRunning(channelID int64) bool
}

// ChatHistory is the per-chat view of the message index.
type ChatHistory interface {
	Count(ctx context.Context, chatID int64) (int, error)
	Forget(ctx context.Context, chatID int64) (int64, error)
}

// CommandHandler handles the /cleanup bot command
type CommandHandler struct {
	bot          BotInterface
	store        ChannelStore
	tasks        TaskCanceller
	history      ChatHistory
	allowedUsers []string
	logger       *logger.Logger
}

// NewCommandHandler creates a new command handler. history may be nil.
func NewCommandHandler(bot BotInterface, store ChannelStore, tasks TaskCanceller, history ChatHistory, allowedUsers []string, log *logger.Logger) *CommandHandler {
	return &CommandHandler{
		bot:          bot,
		store:        store,
		tasks:        tasks,
		history:      history,
		allowedUsers: allowedUsers,
		logger:       log.Component("telegram_commands"),
	}
}

// IsCommand reports whether text is a /cleanup command, with or without the
// @botname suffix.
func IsCommand(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return name == cleanupCommand
}

// isAllowed checks the sender against the whitelist. An empty whitelist
// allows everyone.
func (h *CommandHandler) isAllowed(senderID string) bool {
	if len(h.allowedUsers) == 0 {
		return true
	}
	return slices.Contains(h.allowedUsers, senderID)
}

// HandleCommand processes a /cleanup command
func (h *CommandHandler) HandleCommand(ctx context.Context, msg *telego.Message) error {
	senderID := senderID(msg)
	if !h.isAllowed(senderID) {
		h.logger.Warn("command blocked - user not in whitelist",
			logger.Field{Key: "user_id", Value: senderID},
			logger.Field{Key: "chat_id", Value: msg.Chat.ID})
		return nil
	}

	args := strings.Fields(msg.Text)[1:]
	sub := ""
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
		args = args[1:]
	}

	var reply string
	var err error
	switch sub {
	case "enable":
		reply, err = h.enable(msg, args)
	case "disable":
		reply, err = h.disable(ctx, msg)
	case "status":
		reply = h.status(ctx, msg)
	default:
		reply = cleanupHelp
	}
	if err != nil {
		h.logger.Error("cleanup command failed", err,
			logger.Field{Key: "chat_id", Value: msg.Chat.ID},
			logger.Field{Key: "subcommand", Value: sub})
		reply = "Failed to update the cleanup settings, see the bot log."
	}

	return h.reply(ctx, msg.Chat.ID, reply)
}

func (h *CommandHandler) enable(msg *telego.Message, args []string) (string, error) {
	ch := config.ChannelConfig{Name: chatName(msg.Chat)}
	if len(args) > 0 {
		days, err := strconv.Atoi(args[0])
		if err != nil || days < 1 {
			return "Retention must be a whole number of days, at least 1.", nil
		}
		ch.PolicyDays = &days
	}

	prevDays, existed := h.currentDays(msg.Chat.ID)
	days, err := h.store.AddChannel(msg.Chat.ID, ch)
	if err != nil {
		return "", err
	}

	// Более строгая политика сбрасывает курсор, текущий проход устарел
	cancelled := existed && days < prevDays && h.tasks.Cancel(msg.Chat.ID)

	h.logger.Info("cleanup enabled",
		logger.Field{Key: "chat_id", Value: msg.Chat.ID},
		logger.Field{Key: "policy_days", Value: days},
		logger.Field{Key: "cancelled", Value: cancelled})

	reply := fmt.Sprintf("Enabled cleanup for %s\nRetention policy: %d %s", ch.Name, days, daySuffix(days))
	if cancelled {
		reply += "\nCancelled running cleanup task."
	}
	return reply, nil
}

// currentDays returns the resolved retention of an enabled chat.
func (h *CommandHandler) currentDays(id int64) (int, bool) {
	for _, ch := range h.store.EnabledChannels() {
		if ch.ID == id {
			return ch.RetentionDays, true
		}
	}
	return 0, false
}

func (h *CommandHandler) disable(ctx context.Context, msg *telego.Message) (string, error) {
	removed, err := h.store.RemoveChannel(msg.Chat.ID)
	if err != nil {
		return "", err
	}

	// Cancel any running cleanup task for the chat
	cancelled := h.tasks.Cancel(msg.Chat.ID)

	// История чата больше не нужна, новые сообщения не записываются
	if h.history != nil {
		if _, err := h.history.Forget(ctx, msg.Chat.ID); err != nil {
			h.logger.Error("failed to forget chat history", err,
				logger.Field{Key: "chat_id", Value: msg.Chat.ID})
		}
	}

	h.logger.Info("cleanup disabled",
		logger.Field{Key: "chat_id", Value: msg.Chat.ID},
		logger.Field{Key: "was_enabled", Value: removed},
		logger.Field{Key: "cancelled", Value: cancelled})

	reply := "Disabled cleanup for " + chatName(msg.Chat)
	if !removed {
		reply = "Cleanup was not enabled for " + chatName(msg.Chat)
	}
	if cancelled {
		reply += "\nCancelled running cleanup task."
	}
	return reply, nil
}

func (h *CommandHandler) status(ctx context.Context, msg *telego.Message) string {
	var b strings.Builder
	enabled := false
	for _, ch := range h.store.EnabledChannels() {
		if ch.ID == msg.Chat.ID {
			enabled = true
			fmt.Fprintf(&b, "Cleanup is enabled for %s\nRetention policy: %d %s", chatName(msg.Chat), ch.RetentionDays, daySuffix(ch.RetentionDays))
			break
		}
	}
	if !enabled {
		fmt.Fprintf(&b, "Cleanup is disabled for %s", chatName(msg.Chat))
	}

	if h.tasks.IsRunning(msg.Chat.ID) {
		b.WriteString("\nA cleanup task is running now.")
	}

	if h.history != nil {
		if n, err := h.history.Count(ctx, msg.Chat.ID); err == nil {
			fmt.Fprintf(&b, "\nTracked messages: %d", n)
		} else {
			h.logger.Error("failed to count indexed messages", err,
				logger.Field{Key: "chat_id", Value: msg.Chat.ID})
		}
	}

	return b.String()
}

func (h *CommandHandler) reply(ctx context.Context, chatID int64, text string) error {
	_, err := h.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send command reply: %w", err)
	}
	return nil
}

// senderID identifies who sent msg. Channel posts have no user, so the
// signing chat stands in for it.
func senderID(msg *telego.Message) string {
	switch {
	case msg.From != nil:
		return strconv.FormatInt(msg.From.ID, 10)
	case msg.SenderChat != nil:
		return strconv.FormatInt(msg.SenderChat.ID, 10)
	default:
		return ""
	}
}

func chatName(c telego.Chat) string {
	switch {
	case c.Title != "":
		return c.Title
	case c.Username != "":
		return "@" + c.Username
	default:
		return strconv.FormatInt(c.ID, 10)
	}
}

func daySuffix(days int) string {
	if days == 1 {
		return "day"
	}
	return "days"
}
