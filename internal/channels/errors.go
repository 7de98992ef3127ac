// Package channels holds what the chat platform adapters share.
package channels

import (
	"strings"
	"time"

	"github.com/aatumaykin/sweepbot/internal/logger"
)

// ErrorDetails - универсальный интерфейс для детализации ошибок платформы
type ErrorDetails interface {
	// Error возвращает текстовое описание ошибки
	Error() string

	// IsRetryable указывает, можно ли повторить запрос
	IsRetryable() bool

	// RetryAfter возвращает задержку перед повтором
	RetryAfter() time.Duration

	// LogFields возвращает поля для структурированного логирования
	LogFields() []logger.Field
}

// TelegramErrorDetails - детализация ошибки Telegram API
type TelegramErrorDetails struct {
	ErrorCode     int    // Код ошибки (400, 429, 403 и т.д.)
	Description   string // Описание ошибки от Telegram
	RetryAfterSec int    // Задержка в секундах (для rate limiting)
	ChatID        int64
}

var _ ErrorDetails = (*TelegramErrorDetails)(nil)

// Error возвращает текстовое описание ошибки
func (d *TelegramErrorDetails) Error() string {
	return d.Description
}

// IsRetryable проверяет, можно ли повторить запрос
func (d *TelegramErrorDetails) IsRetryable() bool {
	// Rate limiting (429) и временные ошибки можно повторить
	return d.ErrorCode == 429 || (d.ErrorCode >= 500 && d.ErrorCode < 600)
}

// RetryAfter возвращает задержку перед повтором
func (d *TelegramErrorDetails) RetryAfter() time.Duration {
	if d.RetryAfterSec > 0 {
		return time.Duration(d.RetryAfterSec) * time.Second
	}
	if d.ErrorCode >= 500 && d.ErrorCode < 600 {
		return 5 * time.Second
	}
	return 0
}

// IsMessageGone reports that the message no longer exists on the platform,
// so a delete request has nothing left to do.
func (d *TelegramErrorDetails) IsMessageGone() bool {
	if d.ErrorCode != 400 {
		return false
	}
	desc := strings.ToLower(d.Description)
	return strings.Contains(desc, "message to delete not found") ||
		strings.Contains(desc, "message_id_invalid")
}

// LogFields возвращает поля для структурированного логирования
func (d *TelegramErrorDetails) LogFields() []logger.Field {
	return []logger.Field{
		{Key: "error_code", Value: d.ErrorCode},
		{Key: "error_description", Value: d.Description},
		{Key: "retry_after", Value: d.RetryAfterSec},
		{Key: "chat_id", Value: d.ChatID},
	}
}
