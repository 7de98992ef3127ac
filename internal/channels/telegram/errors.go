package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/mymmrac/telego/telegoapi"

	"github.com/aatumaykin/sweepbot/internal/channels"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/retry"
)

// errorDetails extracts the Telegram API error carried by err, if any.
func errorDetails(err error, chatID int64) (*channels.TelegramErrorDetails, bool) {
	var telErr *telegoapi.Error
	if !errors.As(err, &telErr) {
		return nil, false
	}

	details := &channels.TelegramErrorDetails{
		ErrorCode:   telErr.ErrorCode,
		Description: telErr.Description,
		ChatID:      chatID,
	}
	if telErr.Parameters != nil {
		details.RetryAfterSec = telErr.Parameters.RetryAfter
	}
	return details, true
}

// callAPI runs a Bot API call and retries rate limits and server errors.
// A retry_after hint from Telegram is honoured before the next attempt.
func callAPI(ctx context.Context, cfg retry.Config, log *logger.Logger, chatID int64, fn func() error) error {
	return retry.Do(ctx, cfg, log, func() error {
		err := fn()
		details, ok := errorDetails(err, chatID)
		if !ok || !details.IsRetryable() {
			return err
		}

		log.Warn("telegram api error, will retry", details.LogFields()...)
		if wait := details.RetryAfter(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return &retry.StatusError{Code: details.ErrorCode, Body: details.Description}
	})
}
