package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate проверяет валидность конфигурации
func (c *Config) Validate() []error {
	var errors []error

	if c.ScheduleIntervalSeconds < 1 {
		errors = append(errors, fmt.Errorf("schedule_interval_seconds must be >= 1"))
	}
	if c.Retention.DefaultPolicyDays < 1 {
		errors = append(errors, fmt.Errorf("retention.default_policy_days must be >= 1"))
	}

	// Проверка Telegram
	if c.Telegram.Token == "" {
		errors = append(errors, fmt.Errorf("telegram.token is required"))
	} else if err := validateTelegramToken(c.Telegram.Token); err != nil {
		errors = append(errors, err)
	}

	// Проверка logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errors = append(errors, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errors = append(errors, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}

	if c.MediaBackup.Worker.CheckIntervalSeconds < 1 {
		errors = append(errors, fmt.Errorf("media_backup.worker.check_interval_seconds must be >= 1"))
	}
	if c.MediaBackup.Worker.MaxRetries < 1 {
		errors = append(errors, fmt.Errorf("media_backup.worker.max_retries must be >= 1"))
	}
	if err := validatePath(c.MediaBackup.DownloadDir, "media_backup.download_dir"); err != nil {
		errors = append(errors, err)
	}

	if c.OneDrive != nil && c.OneDrive.ClientID == "" {
		errors = append(errors, fmt.Errorf("onedrive.client_id is required when [onedrive] is present"))
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddr); err != nil {
			errors = append(errors, fmt.Errorf("invalid metrics.listen_addr %q: %w", c.Metrics.ListenAddr, err))
		}
	}

	for key, ch := range c.Channels {
		if _, err := ParseChannelKey(key); err != nil {
			errors = append(errors, fmt.Errorf("channels: %w", err))
		}
		if ch.PolicyDays != nil && *ch.PolicyDays < 1 {
			errors = append(errors, fmt.Errorf("channels.%s.policy_days must be >= 1", key))
		}
	}

	return errors
}

func validateTelegramToken(token string) error {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return fmt.Errorf("telegram token has invalid format (expected format: <bot_id>:<token>, got: %s)", maskSecret(token))
	}

	botID := parts[0]
	botToken := parts[1]

	if len(botID) < 3 || len(botID) > 15 {
		return fmt.Errorf("telegram token has invalid bot ID length (expected 3-15 digits, got %d digits)", len(botID))
	}

	for _, r := range botID {
		if r < '0' || r > '9' {
			return fmt.Errorf("telegram token has invalid bot ID (expected digits only, got: %s)", botID)
		}
	}

	if len(botToken) < 10 || len(botToken) > 50 {
		return fmt.Errorf("telegram token has invalid token length (expected 10-50 characters, got %d)", len(botToken))
	}

	return nil
}

func validatePath(path, fieldName string) error {
	if path == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}
	return nil
}

// maskSecret маскирует секрет, оставляя только первые 4 и последние 4 символа
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// MaskTelegramToken маскирует Telegram токен, оставляя bot_id видимым для диагностики
func MaskTelegramToken(token string) string {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return maskSecret(token)
	}
	return parts[0] + ":" + maskSecret(parts[1])
}
