package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aatumaykin/sweepbot/internal/app/builders"
	"github.com/aatumaykin/sweepbot/internal/backup"
	"github.com/aatumaykin/sweepbot/internal/cancellation"
	"github.com/aatumaykin/sweepbot/internal/cleanup"
	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/history"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/metrics"
)

// Initialize initializes all application components.
// It opens the history index and the backup queue, authorizes OneDrive,
// starts the telegram connector, the cleanup scheduler, the backup worker
// and the config watcher. A failure stops whatever was already started.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("application already started")
	}

	if err := a.initialize(ctx); err != nil {
		_ = a.shutdownInternal()
		return err
	}

	a.started = true
	return nil
}

func (a *App) initialize(ctx context.Context) error {
	cfg := a.store.Snapshot()

	// 1. Create application context
	a.ctx, a.cancel = context.WithCancel(ctx)

	// 2. Metrics
	a.metrics = metrics.New(metricsNamespace, prometheus.NewRegistry())
	if cfg.Metrics.Enabled {
		a.goBackground("metrics server", func(ctx context.Context) error {
			a.logger.Info("serving metrics", logger.Field{Key: "listen_addr", Value: cfg.Metrics.ListenAddr})
			return a.metrics.Serve(ctx, cfg.Metrics.ListenAddr)
		})
	}

	// 3. Message history index
	index, err := history.Open(cfg.Index.Path, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open history index: %w", err)
	}
	a.index = index
	a.pruneIndex(a.ctx)

	// 4. Backup queue
	queue, err := backup.Load(cfg.MediaBackup.QueuePath, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load backup queue: %w", err)
	}
	a.queue = queue
	a.metrics.SetQueueCounts(queue.Counts())

	// 5. OneDrive; the device flow blocks until the operator authorizes
	uploader, err := builders.NewOneDriveBuilder(cfg.OneDrive, a.logger, a.httpClient, a.prompt).Build(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to set up onedrive: %w", err)
	}

	// 6. Telegram
	a.registry = cancellation.NewRegistry()
	tg, err := builders.NewTelegramBuilder(a.store, a.logger, a.index, a.registry, a.httpClient).Build(a.bot)
	if err != nil {
		return err
	}
	if err := tg.Connector.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start telegram connector: %w", err)
	}
	a.telegram = tg.Connector

	// 7. Cleanup scheduler
	a.task = cleanup.NewTask(tg.Platform, tg.Downloader, a.store, a.queue, a.logger, a.metrics)
	if err := a.startScheduler(); err != nil {
		return err
	}

	// 8. Backup worker, only when there is somewhere to upload to
	if uploader != nil {
		a.worker = backup.NewWorker(a.queue, uploader, tg.Platform, backup.WorkerConfig{
			CheckInterval:     cfg.MediaBackup.Worker.CheckInterval(),
			MaxRetries:        cfg.MediaBackup.Worker.MaxRetries,
			DeleteAfterUpload: cfg.MediaBackup.DeleteAfterUploadEnabled(),
		}, a.logger, a.metrics)
		if err := a.worker.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start backup worker: %w", err)
		}
	}

	// 9. Config hot reload
	watcher := config.NewWatcher(a.store, 0, a.onConfigReload, a.logger)
	a.goBackground("config watcher", watcher.Run)

	return nil
}

// startScheduler creates and starts a scheduler with the current interval.
func (a *App) startScheduler() error {
	a.schedulerMu.Lock()
	defer a.schedulerMu.Unlock()

	if err := a.ctx.Err(); err != nil {
		return err
	}
	scheduler := cleanup.NewScheduler(a.store, a.registry, a.task, a.store.ScheduleInterval(), a.logger, a.metrics)
	if err := scheduler.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start cleanup scheduler: %w", err)
	}
	a.scheduler = scheduler
	return nil
}

// stopScheduler stops the scheduler and waits for its running tasks.
func (a *App) stopScheduler() {
	a.schedulerMu.Lock()
	defer a.schedulerMu.Unlock()

	if a.scheduler != nil {
		a.scheduler.Stop()
		a.scheduler = nil
	}
}

// onConfigReload cancels tasks of channels that were disabled or got a
// stricter policy, and restarts the scheduler when the interval changed.
func (a *App) onConfigReload(res config.ReloadResult) {
	for _, ids := range [][]int64{res.Removed, res.Stricter} {
		for _, id := range ids {
			if a.registry.Cancel(id) {
				a.logger.Info("cancelled running cleanup after config change",
					logger.Field{Key: "channel_id", Value: id})
			}
		}
	}
	if len(res.Removed) > 0 {
		a.pruneIndex(a.ctx)
	}

	if !res.ScheduleChanged {
		return
	}

	a.background.Add(1)
	go func() {
		defer a.background.Done()

		a.stopScheduler()
		if err := a.startScheduler(); err != nil {
			if a.ctx.Err() != nil {
				return
			}
			a.logger.Error("failed to restart cleanup scheduler", err)
			return
		}
		a.logger.Info("cleanup scheduler restarted",
			logger.Field{Key: "interval", Value: a.store.ScheduleInterval().String()})
	}()
}

// pruneIndex drops the recorded history of chats that are no longer cleaned.
func (a *App) pruneIndex(ctx context.Context) {
	enabled := a.store.EnabledChannels()
	keep := make([]int64, 0, len(enabled))
	for _, ch := range enabled {
		keep = append(keep, ch.ID)
	}
	n, err := a.index.Prune(ctx, keep)
	if err != nil {
		a.logger.Error("failed to prune history index", err)
		return
	}
	if n > 0 {
		a.logger.Info("pruned history of disabled chats", logger.Field{Key: "messages", Value: n})
	}
}

// goBackground runs fn until the app context is cancelled.
func (a *App) goBackground(name string, fn func(ctx context.Context) error) {
	ctx := a.ctx
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		if err := fn(ctx); err != nil {
			a.logger.Error(name+" stopped", err)
		}
	}()
}
