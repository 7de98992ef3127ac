package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
)

// BotInterface defines the Telegram bot API methods used by the connector,
// the platform adapter and the media downloader.
// This interface allows creating mock implementations for testing without
// depending on the concrete telego.Bot implementation.
type BotInterface interface {
	// GetMe returns basic information about the bot.
	GetMe(ctx context.Context) (*telego.User, error)

	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)

	// SetMyCommands sets the bot's command list in the bot menu.
	SetMyCommands(ctx context.Context, params *telego.SetMyCommandsParams) error

	// UpdatesViaLongPolling starts long polling for Telegram updates.
	// Returns a channel that will receive updates as they arrive.
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error)

	// DeleteMessage deletes a single message.
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error

	// DeleteMessages deletes up to 100 messages at once.
	DeleteMessages(ctx context.Context, params *telego.DeleteMessagesParams) error

	// GetFile returns the download path of a file.
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)

	// FileDownloadURL builds the download URL for a file path returned by GetFile.
	FileDownloadURL(filepath string) string
}

// telegoAdapter wraps telego.Bot to implement BotInterface.
type telegoAdapter struct {
	bot *telego.Bot
}

// NewBot creates a telego bot for token and wraps it into BotInterface.
func NewBot(token string) (BotInterface, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	return NewBotAdapter(bot), nil
}

// NewBotAdapter creates a new BotInterface from a telego.Bot instance.
func NewBotAdapter(bot *telego.Bot) BotInterface {
	return &telegoAdapter{bot: bot}
}

func (a *telegoAdapter) GetMe(ctx context.Context) (*telego.User, error) {
	return a.bot.GetMe(ctx)
}

func (a *telegoAdapter) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	return a.bot.SendMessage(ctx, params)
}

func (a *telegoAdapter) SetMyCommands(ctx context.Context, params *telego.SetMyCommandsParams) error {
	return a.bot.SetMyCommands(ctx, params)
}

func (a *telegoAdapter) UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error) {
	return a.bot.UpdatesViaLongPolling(ctx, params, opts...)
}

func (a *telegoAdapter) DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error {
	return a.bot.DeleteMessage(ctx, params)
}

func (a *telegoAdapter) DeleteMessages(ctx context.Context, params *telego.DeleteMessagesParams) error {
	return a.bot.DeleteMessages(ctx, params)
}

func (a *telegoAdapter) GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error) {
	return a.bot.GetFile(ctx, params)
}

func (a *telegoAdapter) FileDownloadURL(filepath string) string {
	return a.bot.FileDownloadURL(filepath)
}
