package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/sweepbot/internal/cancellation"
	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/metrics"
	"github.com/robfig/cron/v3"
)

// ChannelSource lists the channels to clean.
type ChannelSource interface {
	EnabledChannels() []config.EnabledChannel
}

// ChannelRunner cleans one channel.
type ChannelRunner interface {
	Run(ctx context.Context, channelID int64, retentionDays int, sig *cancellation.Signal) (Stats, error)
}

// Scheduler starts a cleanup run for every enabled channel on each tick.
type Scheduler struct {
	source   ChannelSource
	registry *cancellation.Registry
	runner   ChannelRunner
	interval time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	ticks   sync.WaitGroup
	tasks   sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(source ChannelSource, registry *cancellation.Registry, runner ChannelRunner, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		source:   source,
		registry: registry,
		runner:   runner,
		interval: interval,
		logger:   log.Component("scheduler"),
		metrics:  m,
	}
}

// Start ticks once immediately and then every interval. A tick that fires
// while the previous one is still running is dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if s.interval < time.Second {
		return fmt.Errorf("schedule interval must be at least 1s, got %s", s.interval)
	}

	cl := s.logger.CronLogger()
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { s.Tick(ctx) }))

	s.cron = cron.New(cron.WithLogger(cl))
	s.cron.Schedule(cron.Every(s.interval), job)
	s.cron.Start()
	s.started = true

	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		job.Run()
	}()

	s.logger.Info("cleanup scheduler started", logger.Field{Key: "interval", Value: s.interval.String()})
	return nil
}

// Stop stops ticking and waits for running cleanup tasks. Tasks observe the
// context passed to Start, so cancel it first for a fast shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return
	}
	<-c.Stop().Done()
	s.ticks.Wait()
	s.tasks.Wait()
	s.logger.Info("cleanup scheduler stopped")
}

// Tick spawns a task for every enabled channel that has none running.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	for _, ch := range s.source.EnabledChannels() {
		sig, ok := s.registry.TryRegister(ch.ID)
		if !ok {
			s.logger.Debug("cleanup already running, skipping channel",
				logger.Field{Key: "channel_id", Value: ch.ID})
			continue
		}

		s.tasks.Add(1)
		go s.runChannel(ctx, ch, sig)
	}
}

func (s *Scheduler) runChannel(ctx context.Context, ch config.EnabledChannel, sig *cancellation.Signal) {
	defer s.tasks.Done()
	defer s.registry.Deregister(ch.ID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup task panicked", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "channel_id", Value: ch.ID})
		}
	}()

	s.metrics.TaskStarted()
	defer s.metrics.TaskFinished()

	if _, err := s.runner.Run(ctx, ch.ID, ch.RetentionDays, sig); err != nil {
		s.logger.Error("cleanup failed", err,
			logger.Field{Key: "channel_id", Value: ch.ID},
			logger.Field{Key: "channel", Value: ch.Name})
	}
}
