package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aatumaykin/sweepbot/internal/logger"
)

// LoadEnv reads KEY=VALUE pairs from a .env file into the process environment
// so that ${TELEGRAM_BOT_TOKEN} or ${ONEDRIVE_CLIENT_ID} in the config resolve.
//
// Supported syntax: blank lines, # comments, an optional "export " prefix,
// single-quoted values (literal), double-quoted values (\n, \t, \" escapes)
// and unquoted values with a trailing " # comment". Variables already set in
// the environment are not overridden. Malformed lines are skipped with a
// warning. It returns the number of variables set.
func LoadEnv(path string, log *logger.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	set := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		key, value, ok, err := parseEnvLine(scanner.Text())
		if err != nil {
			log.Warn("skipping malformed .env line",
				logger.Field{Key: "path", Value: path},
				logger.Field{Key: "line", Value: lineNo},
				logger.Field{Key: "reason", Value: err.Error()})
			continue
		}
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			log.Debug(".env variable already set, keeping environment value", logger.Field{Key: "key", Value: key})
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return set, fmt.Errorf("failed to set %s: %w", key, err)
		}
		set++
	}
	if err := scanner.Err(); err != nil {
		return set, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return set, nil
}

// LoadEnvOptional loads path when it exists. An empty path disables loading.
func LoadEnvOptional(path string, log *logger.Logger) (int, error) {
	if path == "" {
		return 0, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return LoadEnv(path, log)
}

// parseEnvLine returns ok=false for blank and comment lines.
func parseEnvLine(line string) (key, value string, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimPrefix(line, "export ")

	k, v, found := strings.Cut(line, "=")
	if !found {
		return "", "", false, fmt.Errorf("missing '='")
	}
	key = strings.TrimSpace(k)
	if !validEnvKey(key) {
		return "", "", false, fmt.Errorf("invalid key %q", key)
	}

	v = strings.TrimSpace(v)
	switch {
	case strings.HasPrefix(v, `"`):
		end := closingQuote(v)
		if end < 0 {
			return "", "", false, fmt.Errorf("unterminated double quote")
		}
		value, err = strconv.Unquote(v[:end+1])
		if err != nil {
			return "", "", false, fmt.Errorf("bad escape in value: %w", err)
		}
	case strings.HasPrefix(v, "'"):
		end := strings.Index(v[1:], "'")
		if end < 0 {
			return "", "", false, fmt.Errorf("unterminated single quote")
		}
		value = v[1 : end+1]
	default:
		if i := strings.Index(v, " #"); i >= 0 {
			v = v[:i]
		}
		value = strings.TrimSpace(v)
	}
	return key, value, true, nil
}

// closingQuote returns the index of the unescaped closing double quote.
func closingQuote(v string) int {
	for i := 1; i < len(v); i++ {
		switch v[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func validEnvKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
