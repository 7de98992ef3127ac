// Package telegram connects the retention pipeline to Telegram using the
// Telego library.
//
// Features:
//   - Long polling that records messages and channel posts of chats under
//     cleanup into the local history index
//   - /cleanup enable|disable|status commands behind a user whitelist
//   - Platform adapter that deletes messages through the Bot API
//   - Media downloader for the backup queue
package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/sweepbot/internal/logger"
)

// Connector represents the Telegram bot connector
type Connector struct {
	bot      BotInterface
	logger   *logger.Logger
	longPoll *LongPollManager

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Telegram connector
func New(bot BotInterface, recorder MessageRecorder, chats ChatFilter, commands *CommandHandler, log *logger.Logger) *Connector {
	log = log.Component("telegram")
	return &Connector{
		bot:      bot,
		logger:   log,
		longPoll: NewLongPollManager(bot, NewUpdateHandler(recorder, chats, commands, log), log),
	}
}

// Start checks the bot token, registers the command menu and starts
// listening for updates in the background.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return fmt.Errorf("telegram connector already started")
	}

	botUser, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}

	c.logger.Info("telegram bot initialized",
		logger.Field{Key: "bot_id", Value: botUser.ID},
		logger.Field{Key: "username", Value: botUser.Username})

	if err := c.registerCommands(ctx); err != nil {
		c.logger.ErrorCtx(ctx, "failed to register bot commands", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := c.longPoll.Run(pollCtx); err != nil {
			c.logger.ErrorCtx(pollCtx, "long polling failed", err)
		}
	}(c.done)

	return nil
}

// Stop gracefully stops the Telegram connector
func (c *Connector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}

	c.logger.Info("stopping telegram connector")
	cancel()
	<-done
	c.logger.Info("telegram connector stopped gracefully")
}

// registerCommands registers bot commands with Telegram
func (c *Connector) registerCommands(ctx context.Context) error {
	commands := &telego.SetMyCommandsParams{
		Commands: []telego.BotCommand{
			{Command: "cleanup", Description: "Message retention: enable [days], disable, status"},
		},
	}

	if err := c.bot.SetMyCommands(ctx, commands); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	c.logger.Info("bot commands registered successfully")
	return nil
}
