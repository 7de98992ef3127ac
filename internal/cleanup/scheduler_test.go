package cleanup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aatumaykin/sweepbot/internal/cancellation"
	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChannels []config.EnabledChannel

func (s staticChannels) EnabledChannels() []config.EnabledChannel { return s }

// blockingRunner blocks every run until release is closed.
type blockingRunner struct {
	mu      sync.Mutex
	calls   map[int64]int
	started chan int64
	release chan struct{}
	err     error
	panics  bool
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		calls:   make(map[int64]int),
		started: make(chan int64, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, channelID int64, _ int, sig *cancellation.Signal) (Stats, error) {
	r.mu.Lock()
	r.calls[channelID]++
	r.mu.Unlock()
	r.started <- channelID

	select {
	case <-r.release:
	case <-sig.Done():
	case <-ctx.Done():
	}
	if r.panics {
		panic("boom")
	}
	return Stats{}, r.err
}

func (r *blockingRunner) count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func waitStarted(t *testing.T, r *blockingRunner, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d task starts, got %d", n, i)
		}
	}
}

func TestScheduler_TickSkipsRunningChannel(t *testing.T) {
	registry := cancellation.NewRegistry()
	runner := newBlockingRunner()
	channels := staticChannels{{ID: -1, RetentionDays: 7}, {ID: -2, RetentionDays: 30}}
	s := NewScheduler(channels, registry, runner, time.Minute, logger.NewNop(), nil)
	ctx := context.Background()

	s.Tick(ctx)
	waitStarted(t, runner, 2)
	assert.True(t, registry.IsRunning(-1))
	assert.True(t, registry.IsRunning(-2))

	s.Tick(ctx)
	assert.Equal(t, 1, runner.count(-1), "second tick spawns nothing while the task runs")
	assert.Equal(t, 1, runner.count(-2))

	close(runner.release)
	assert.Eventually(t, func() bool {
		return !registry.IsRunning(-1) && !registry.IsRunning(-2)
	}, 2*time.Second, 10*time.Millisecond)

	runner.release = make(chan struct{})
	close(runner.release)
	s.Tick(ctx)
	waitStarted(t, runner, 2)
	assert.Eventually(t, func() bool { return runner.count(-1) == 2 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_DeregistersOnErrorAndPanic(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		panics bool
	}{
		{name: "error", err: errors.New("fetch failed")},
		{name: "panic", panics: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := cancellation.NewRegistry()
			runner := newBlockingRunner()
			runner.err = tt.err
			runner.panics = tt.panics
			close(runner.release)

			s := NewScheduler(staticChannels{{ID: -1, RetentionDays: 1}}, registry, runner, time.Minute, logger.NewNop(), nil)
			s.Tick(context.Background())
			waitStarted(t, runner, 1)

			assert.Eventually(t, func() bool { return !registry.IsRunning(-1) }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestScheduler_CancelStopsTask(t *testing.T) {
	registry := cancellation.NewRegistry()
	runner := newBlockingRunner()
	s := NewScheduler(staticChannels{{ID: -1, RetentionDays: 1}}, registry, runner, time.Minute, logger.NewNop(), nil)

	s.Tick(context.Background())
	waitStarted(t, runner, 1)

	assert.True(t, registry.Cancel(-1))
	assert.Eventually(t, func() bool { return !registry.IsRunning(-1) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, registry.Cancel(-1))
}

func TestScheduler_StartStop(t *testing.T) {
	registry := cancellation.NewRegistry()
	runner := newBlockingRunner()
	close(runner.release)

	var ticks atomic.Int32
	source := countingSource{channels: staticChannels{{ID: -1, RetentionDays: 1}}, n: &ticks}
	s := NewScheduler(source, registry, runner, time.Hour, logger.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	waitStarted(t, runner, 1)
	assert.Equal(t, int32(1), ticks.Load(), "start runs one tick immediately")

	s.Stop()
	s.Stop()
	assert.False(t, registry.IsRunning(-1))
}

func TestScheduler_RejectsSubSecondInterval(t *testing.T) {
	s := NewScheduler(staticChannels{}, cancellation.NewRegistry(), newBlockingRunner(), time.Millisecond, logger.NewNop(), nil)
	assert.Error(t, s.Start(context.Background()))
}

type countingSource struct {
	channels staticChannels
	n        *atomic.Int32
}

func (c countingSource) EnabledChannels() []config.EnabledChannel {
	c.n.Add(1)
	return c.channels
}
