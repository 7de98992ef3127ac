package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load загружает конфигурацию из TOML файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse разбирает TOML, применяет значения по умолчанию и переменные окружения
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := expandEnvVars(&cfg); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	return &cfg, nil
}

// EnabledChannel is a channel with its resolved retention policy.
type EnabledChannel struct {
	ID            int64
	Name          string
	RetentionDays int
}

// ChannelKey formats a channel id as a [channels] table key.
func ChannelKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseChannelKey parses a [channels] table key.
func ParseChannelKey(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q: %w", key, err)
	}
	return id, nil
}

// expandEnvVars расширяет переменные окружения в конфигурации
func expandEnvVars(c *Config) error {
	// Telegram Token
	if strings.HasPrefix(c.Telegram.Token, "${") {
		c.Telegram.Token = expandEnv(c.Telegram.Token)
	}

	if c.OneDrive != nil && strings.HasPrefix(c.OneDrive.ClientID, "${") {
		c.OneDrive.ClientID = expandEnv(c.OneDrive.ClientID)
	}

	// Пути
	paths := []*string{
		&c.Index.Path,
		&c.MediaBackup.DownloadDir,
		&c.MediaBackup.QueuePath,
	}
	if c.OneDrive != nil {
		paths = append(paths, &c.OneDrive.TokenPath)
	}
	for _, p := range paths {
		if strings.HasPrefix(*p, "${") {
			*p = expandEnv(*p)
		}
		*p = expandHome(*p)
	}

	return nil
}

// expandEnv расширяет переменную окружения формата ${VAR:default}
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		key := parts[0]
		defaultVal := parts[1]
		if val := os.Getenv(key); val != "" {
			return val
		}
		return defaultVal
	}

	// Без значения по умолчанию
	return os.Getenv(s[2:end])
}

// expandHome расширяет ~ в пути
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
