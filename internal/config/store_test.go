package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storeConfig = `
schedule_interval_seconds = 600

[retention]
default_policy_days = 14

[telegram]
token = "${SWEEPBOT_STORE_TOKEN:123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw}"
`

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := writeConfig(t, storeConfig)
	s, err := OpenStore(path, logger.NewNop())
	require.NoError(t, err)
	return s, path
}

func intPtr(n int) *int { return &n }

func TestOpenStore_Invalid(t *testing.T) {
	_, err := OpenStore(writeConfig(t, "[telegram]\ntoken = \"bad\"\n"), logger.NewNop())
	assert.Error(t, err)
}

func TestStore_AddChannelPersists(t *testing.T) {
	s, path := newTestStore(t)

	days, err := s.AddChannel(-100, ChannelConfig{Name: "general", PolicyDays: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, days)

	days, err = s.AddChannel(-200, ChannelConfig{Name: "media"})
	require.NoError(t, err)
	assert.Equal(t, 14, days, "default policy applies")

	assert.Equal(t, []EnabledChannel{
		{ID: -200, Name: "media", RetentionDays: 14},
		{ID: -100, Name: "general", RetentionDays: 3},
	}, s.EnabledChannels())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `[channels."-100"]`)
	assert.Contains(t, content, "${SWEEPBOT_STORE_TOKEN:", "env references are preserved")

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, reloaded.Channels, 2)
	assert.Equal(t, 600, reloaded.ScheduleIntervalSeconds)
}

func TestStore_Cursor(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "general"})
	require.NoError(t, err)

	_, ok := s.Cursor(-100)
	assert.False(t, ok)

	require.NoError(t, s.SetCursor(-100, 777))
	cursor, ok := s.Cursor(-100)
	require.True(t, ok)
	assert.Equal(t, int64(777), cursor)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Channels["-100"].PaginationCursor)
	assert.Equal(t, int64(777), *reloaded.Channels["-100"].PaginationCursor)

	require.NoError(t, s.ClearCursor(-100))
	_, ok = s.Cursor(-100)
	assert.False(t, ok)

	assert.NoError(t, s.SetCursor(-999, 1), "unknown channels are ignored")
	_, ok = s.Channel(-999)
	assert.False(t, ok)
}

func TestStore_AddChannelCursorRules(t *testing.T) {
	tests := []struct {
		name       string
		newDays    *int
		wantCursor bool
	}{
		{name: "stricter policy clears cursor", newDays: intPtr(3), wantCursor: false},
		{name: "same policy keeps cursor", newDays: intPtr(7), wantCursor: true},
		{name: "looser policy keeps cursor", newDays: intPtr(30), wantCursor: true},
		{name: "default is looser", newDays: nil, wantCursor: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			_, err := s.AddChannel(-100, ChannelConfig{Name: "general", PolicyDays: intPtr(7)})
			require.NoError(t, err)
			require.NoError(t, s.SetCursor(-100, 500))

			_, err = s.AddChannel(-100, ChannelConfig{Name: "general", PolicyDays: tt.newDays})
			require.NoError(t, err)

			cursor, ok := s.Cursor(-100)
			assert.Equal(t, tt.wantCursor, ok)
			if tt.wantCursor {
				assert.Equal(t, int64(500), cursor)
			}
		})
	}
}

func TestStore_RemoveChannel(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "general"})
	require.NoError(t, err)

	removed, err := s.RemoveChannel(-100)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, s.EnabledChannels())

	removed, err = s.RemoveChannel(-100)
	require.NoError(t, err)
	assert.False(t, removed)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Channels)
}

func TestStore_RollbackOnSaveFailure(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "general"})
	require.NoError(t, err)

	// A directory in place of the file makes reading it fail.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0755))

	_, err = s.AddChannel(-200, ChannelConfig{Name: "media"})
	assert.Error(t, err)
	_, ok := s.Channel(-200)
	assert.False(t, ok)

	assert.Error(t, s.SetCursor(-100, 10))
	_, ok = s.Cursor(-100)
	assert.False(t, ok)

	_, err = s.RemoveChannel(-100)
	assert.Error(t, err)
	_, ok = s.Channel(-100)
	assert.True(t, ok)
}

func TestStore_Reload(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "a", PolicyDays: intPtr(10)})
	require.NoError(t, err)
	_, err = s.AddChannel(-200, ChannelConfig{Name: "b", PolicyDays: intPtr(10)})
	require.NoError(t, err)
	_, err = s.AddChannel(-300, ChannelConfig{Name: "c", PolicyDays: intPtr(10)})
	require.NoError(t, err)
	require.NoError(t, s.SetCursor(-200, 900))

	edited := storeConfig + `
[channels."-200"]
name = "b"
policy_days = 2
pagination_cursor = 900

[channels."-300"]
name = "c"
policy_days = 20
`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0644))

	result, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, []int64{-100}, result.Removed)
	assert.Equal(t, []int64{-200}, result.Stricter)
	assert.False(t, result.ScheduleChanged)

	_, ok := s.Cursor(-200)
	assert.False(t, ok, "stricter policy clears the cursor")

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Channels["-200"].PaginationCursor)
}

func TestStore_ReloadInvalidKeepsState(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "a"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[telegram]\ntoken = \"bad\"\n"), 0644))
	_, err = s.Reload()
	assert.Error(t, err)
	assert.Len(t, s.EnabledChannels(), 1)
}

func TestStore_ReloadAfterOwnWriteKeepsState(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, s.SetCursor(-100, 500))

	result, err := s.Reload()
	require.NoError(t, err)
	assert.Empty(t, result.Removed)
	assert.Empty(t, result.Stricter)
	assert.False(t, result.ScheduleChanged)

	cursor, ok := s.Cursor(-100)
	require.True(t, ok)
	assert.Equal(t, int64(500), cursor)
}

func TestStore_ReloadConcurrentWithCursorUpdates(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "a"})
	require.NoError(t, err)

	const last = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= last; i++ {
			assert.NoError(t, s.SetCursor(-100, i))
		}
	}()
	go func() {
		defer wg.Done()
		for range last {
			_, err := s.Reload()
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	cursor, ok := s.Cursor(-100)
	require.True(t, ok)
	assert.Equal(t, int64(last), cursor)

	onDisk, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, onDisk.Channels["-100"].PaginationCursor)
	assert.Equal(t, int64(last), *onDisk.Channels["-100"].PaginationCursor)
}

func TestStore_ReloadWithoutChannelsThenAdd(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "a"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(storeConfig), 0644))
	result, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, []int64{-100}, result.Removed)

	_, err = s.AddChannel(-200, ChannelConfig{Name: "b"})
	require.NoError(t, err)
	assert.Len(t, s.EnabledChannels(), 1)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "a"})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		results []ReloadResult
	)
	w := NewWatcher(s, 20*time.Millisecond, func(r ReloadResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// fsnotify needs the watch registered before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Clean(path), []byte(storeConfig), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range results {
			if len(r.Removed) == 1 && r.Removed[0] == -100 {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
	assert.Empty(t, s.EnabledChannels())
}

func TestWatcher_NoReloadAfterRunReturns(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.AddChannel(-100, ChannelConfig{Name: "a"})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		calls int
	)
	w := NewWatcher(s, 200*time.Millisecond, func(ReloadResult) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(storeConfig), 0644))
	time.Sleep(50 * time.Millisecond)

	// Debounce ещё не истёк: перезагрузка не должна пережить Run
	cancel()
	require.NoError(t, <-done)
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
	assert.Len(t, s.EnabledChannels(), 1)
}
