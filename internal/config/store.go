package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aatumaykin/sweepbot/internal/atomicfile"
	"github.com/aatumaykin/sweepbot/internal/logger"
)

// Store is the thread-safe runtime view of the configuration. Channel policies
// and pagination cursors are persisted back to the config file on every change.
// Only the [channels] table is rewritten; everything else is kept as the user
// wrote it, including ${VAR} references.
type Store struct {
	mu     sync.Mutex
	path   string
	cfg    *Config
	logger *logger.Logger

	// written is the file content of the last save, the watcher sees our own writes too
	written []byte
}

// ReloadResult describes channel changes picked up from the file.
type ReloadResult struct {
	Removed         []int64
	Stricter        []int64
	ScheduleChanged bool
}

// OpenStore loads and validates path.
func OpenStore(path string, log *logger.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return NewStore(path, cfg, log), nil
}

// NewStore wraps an already loaded config.
func NewStore(path string, cfg *Config, log *logger.Logger) *Store {
	if cfg.Channels == nil {
		cfg.Channels = make(map[string]ChannelConfig)
	}
	return &Store{
		path:   path,
		cfg:    cfg,
		logger: log.Component("config"),
	}
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cfg
	cp.Channels = copyChannels(s.cfg.Channels)
	return cp
}

// ScheduleInterval returns the cleanup schedule interval.
func (s *Store) ScheduleInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ScheduleInterval()
}

// MediaBackup returns the media backup settings.
func (s *Store) MediaBackup() MediaBackupConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MediaBackup
}

// EnabledChannels returns every configured channel with its resolved
// retention, ordered by id.
func (s *Store) EnabledChannels() []EnabledChannel {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]EnabledChannel, 0, len(s.cfg.Channels))
	for key, ch := range s.cfg.Channels {
		id, err := ParseChannelKey(key)
		if err != nil {
			s.logger.Warn("skipping channel with invalid id", logger.Field{Key: "key", Value: key})
			continue
		}
		result = append(result, EnabledChannel{
			ID:            id,
			Name:          ch.Name,
			RetentionDays: ch.ResolvePolicyDays(s.cfg.Retention.DefaultPolicyDays),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// IsEnabled reports whether cleanup is enabled for the channel.
func (s *Store) IsEnabled(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cfg.Channels[ChannelKey(id)]
	return ok
}

// Channel returns the stored config of one channel.
func (s *Store) Channel(id int64) (ChannelConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.cfg.Channels[ChannelKey(id)]
	return ch, ok
}

// AddChannel enables or updates a channel and returns its resolved retention.
// An existing cursor is kept unless the new policy is stricter (fewer days),
// in which case the next pass restarts from the newest message.
func (s *Store) AddChannel(id int64, ch ChannelConfig) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ChannelKey(id)
	defaultDays := s.cfg.Retention.DefaultPolicyDays
	newDays := ch.ResolvePolicyDays(defaultDays)

	prev, existed := s.cfg.Channels[key]
	ch.PaginationCursor = nil
	if existed && newDays >= prev.ResolvePolicyDays(defaultDays) {
		ch.PaginationCursor = prev.PaginationCursor
	}

	s.cfg.Channels[key] = ch
	if err := s.saveLocked(); err != nil {
		if existed {
			s.cfg.Channels[key] = prev
		} else {
			delete(s.cfg.Channels, key)
		}
		return 0, err
	}
	return newDays, nil
}

// RemoveChannel disables a channel. It reports whether the channel existed.
func (s *Store) RemoveChannel(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ChannelKey(id)
	prev, ok := s.cfg.Channels[key]
	if !ok {
		return false, nil
	}
	delete(s.cfg.Channels, key)
	if err := s.saveLocked(); err != nil {
		s.cfg.Channels[key] = prev
		return false, err
	}
	return true, nil
}

// Cursor returns the pagination cursor of a channel.
func (s *Store) Cursor(id int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.cfg.Channels[ChannelKey(id)]
	if !ok || ch.PaginationCursor == nil {
		return 0, false
	}
	return *ch.PaginationCursor, true
}

// SetCursor stores the pagination cursor. Unknown channels are ignored: the
// channel may have been disabled while its task was running.
func (s *Store) SetCursor(id int64, cursor int64) error {
	return s.updateCursor(id, &cursor)
}

// ClearCursor removes the pagination cursor.
func (s *Store) ClearCursor(id int64) error {
	return s.updateCursor(id, nil)
}

func (s *Store) updateCursor(id int64, cursor *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ChannelKey(id)
	prev, ok := s.cfg.Channels[key]
	if !ok {
		return nil
	}
	next := prev
	next.PaginationCursor = cursor
	s.cfg.Channels[key] = next
	if err := s.saveLocked(); err != nil {
		s.cfg.Channels[key] = prev
		return err
	}
	return nil
}

// Reload re-reads the file after an external edit. Channels that disappeared
// or got a stricter policy are reported so their running tasks can be
// cancelled; stricter channels also lose their cursor. An invalid file leaves
// the current configuration untouched.
func (s *Store) Reload() (ReloadResult, error) {
	var result ReloadResult

	// Чтение и замена под одной блокировкой, иначе параллельный SetCursor теряется
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return result, fmt.Errorf("failed to read config file: %w", err)
	}
	if s.written != nil && bytes.Equal(data, s.written) {
		s.logger.Debug("config file unchanged since last save, skipping reload")
		return result, nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return result, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return result, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	if cfg.Channels == nil {
		cfg.Channels = make(map[string]ChannelConfig)
	}

	old := s.cfg
	clearedCursor := false
	for key, oldCh := range old.Channels {
		id, err := ParseChannelKey(key)
		if err != nil {
			continue
		}
		newCh, ok := cfg.Channels[key]
		if !ok {
			result.Removed = append(result.Removed, id)
			continue
		}
		if newCh.ResolvePolicyDays(cfg.Retention.DefaultPolicyDays) < oldCh.ResolvePolicyDays(old.Retention.DefaultPolicyDays) {
			result.Stricter = append(result.Stricter, id)
			if newCh.PaginationCursor != nil {
				newCh.PaginationCursor = nil
				cfg.Channels[key] = newCh
				clearedCursor = true
			}
		}
	}
	sort.Slice(result.Removed, func(i, j int) bool { return result.Removed[i] < result.Removed[j] })
	sort.Slice(result.Stricter, func(i, j int) bool { return result.Stricter[i] < result.Stricter[j] })
	result.ScheduleChanged = cfg.ScheduleIntervalSeconds != old.ScheduleIntervalSeconds

	s.cfg = cfg
	if clearedCursor {
		if err := s.saveLocked(); err != nil {
			s.logger.Error("failed to persist cleared cursors", err)
		}
	}

	s.logger.Info("config reloaded",
		logger.Field{Key: "channels", Value: len(cfg.Channels)},
		logger.Field{Key: "removed", Value: len(result.Removed)},
		logger.Field{Key: "stricter", Value: len(result.Stricter)})
	return result, nil
}

// saveLocked rewrites the [channels] table of the file. Caller holds s.mu.
func (s *Store) saveLocked() error {
	raw := make(map[string]any)
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if len(s.cfg.Channels) == 0 {
		delete(raw, "channels")
	} else {
		raw["channels"] = s.cfg.Channels
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, buf.Bytes(), 0644); err != nil {
		s.logger.Error("failed to save config", err, logger.Field{Key: "path", Value: s.path})
		return fmt.Errorf("failed to save config: %w", err)
	}
	s.written = buf.Bytes()
	return nil
}

func copyChannels(in map[string]ChannelConfig) map[string]ChannelConfig {
	out := make(map[string]ChannelConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
