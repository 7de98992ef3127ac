// Package config provides configuration loading, validation and runtime
// persistence for sweepbot.
// It supports TOML configuration files with environment variable expansion,
// default values, and validation.
//
// Configuration structure:
//   - schedule_interval_seconds: how often cleanup passes start
//   - [logging]: Logging level, format, and output
//   - [retention]: Default retention policy
//   - [telegram]: Bot token and users allowed to run /cleanup
//   - [index]: SQLite message history index
//   - [media_backup]: Download directory, backup queue and worker settings
//   - [onedrive]: OneDrive application and upload folder (optional)
//   - [metrics]: Prometheus endpoint
//   - [channels."<id>"]: Per-channel policy and pagination cursor
//
// Environment variables:
// Environment variables can be referenced using ${VAR} or ${VAR:default} syntax.
// For example: token = "${TELEGRAM_BOT_TOKEN}"
package config

import "time"

// Config represents the main application configuration.
type Config struct {
	ScheduleIntervalSeconds int                      `toml:"schedule_interval_seconds"`
	Logging                 LoggingConfig            `toml:"logging"`
	Retention               RetentionConfig          `toml:"retention"`
	Telegram                TelegramConfig           `toml:"telegram"`
	Index                   IndexConfig              `toml:"index"`
	MediaBackup             MediaBackupConfig        `toml:"media_backup"`
	OneDrive                *OneDriveConfig          `toml:"onedrive,omitempty"`
	Metrics                 MetricsConfig            `toml:"metrics"`
	Channels                map[string]ChannelConfig `toml:"channels,omitempty"`
}

// LoggingConfig представляет конфигурацию логирования
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// RetentionConfig представляет глобальную политику хранения
type RetentionConfig struct {
	DefaultPolicyDays int `toml:"default_policy_days"`
}

// TelegramConfig представляет конфигурацию Telegram бота
type TelegramConfig struct {
	Token        string   `toml:"token"`
	AllowedUsers []string `toml:"allowed_users"`
}

// IndexConfig представляет конфигурацию индекса истории сообщений
type IndexConfig struct {
	Path string `toml:"path"`
}

// MediaBackupConfig представляет конфигурацию резервного копирования медиа
type MediaBackupConfig struct {
	DownloadDir       string             `toml:"download_dir"`
	QueuePath         string             `toml:"queue_path"`
	DeleteAfterUpload *bool              `toml:"delete_after_upload,omitempty"`
	Worker            BackupWorkerConfig `toml:"worker"`
}

// BackupWorkerConfig представляет конфигурацию backup worker
type BackupWorkerConfig struct {
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
	MaxRetries           int `toml:"max_retries"`
}

// OneDriveConfig представляет конфигурацию OneDrive
type OneDriveConfig struct {
	ClientID     string `toml:"client_id"`
	UploadFolder string `toml:"upload_folder"`
	TokenPath    string `toml:"token_path"`
	AuthURL      string `toml:"auth_url,omitempty"`
	GraphURL     string `toml:"graph_url,omitempty"`
}

// MetricsConfig представляет конфигурацию Prometheus endpoint
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// ChannelConfig is the retention state of one channel. PolicyDays overrides
// retention.default_policy_days; PaginationCursor is the oldest message id
// seen so far, the next pass continues before it.
type ChannelConfig struct {
	Name             string `toml:"name"`
	PolicyDays       *int   `toml:"policy_days,omitempty"`
	PaginationCursor *int64 `toml:"pagination_cursor,omitempty"`
}

// ScheduleInterval returns the cleanup schedule interval.
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.ScheduleIntervalSeconds) * time.Second
}

// CheckInterval returns the backup worker interval.
func (c *BackupWorkerConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// DeleteAfterUploadEnabled reports whether uploaded messages are deleted.
// Defaults to true.
func (c *MediaBackupConfig) DeleteAfterUploadEnabled() bool {
	return c.DeleteAfterUpload == nil || *c.DeleteAfterUpload
}

// ResolvePolicyDays returns the channel override or the default policy.
func (c ChannelConfig) ResolvePolicyDays(defaultDays int) int {
	if c.PolicyDays != nil {
		return *c.PolicyDays
	}
	return defaultDays
}
