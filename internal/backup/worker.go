package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/metrics"
	"github.com/robfig/cron/v3"
)

// FileMissingError is the failure text recorded when the local file of an
// entry has disappeared. Such entries are never retried.
const FileMissingError = "file missing"

const (
	defaultCheckInterval = 60 * time.Second
	defaultMaxRetries    = 5
)

// Uploader copies a local file to cloud storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}

// MessageDeleter removes the chat message whose media has been backed up.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
}

// WorkerConfig holds the worker settings.
type WorkerConfig struct {
	CheckInterval     time.Duration
	MaxRetries        int
	DeleteAfterUpload bool
}

// Worker periodically uploads Pending entries of the queue.
type Worker struct {
	queue    *Queue
	uploader Uploader
	deleter  MessageDeleter
	cfg      WorkerConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	initial sync.WaitGroup
}

// NewWorker creates a worker. deleter may be nil, in which case chat messages
// are left in place after upload.
func NewWorker(queue *Queue, uploader Uploader, deleter MessageDeleter, cfg WorkerConfig, log *logger.Logger, m *metrics.Metrics) *Worker {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Worker{
		queue:    queue,
		uploader: uploader,
		deleter:  deleter,
		cfg:      cfg,
		logger:   log.Component("backup_worker"),
		metrics:  m,
	}
}

// Start runs one pass immediately and then one pass every CheckInterval.
// A pass that is still running when the next tick fires causes that tick to be
// skipped.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("backup worker already started")
	}

	cl := w.logger.CronLogger()
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { w.RunOnce(ctx) }))

	w.cron = cron.New(cron.WithLogger(cl))
	w.cron.Schedule(cron.Every(w.cfg.CheckInterval), job)
	w.cron.Start()
	w.started = true

	w.initial.Add(1)
	go func() {
		defer w.initial.Done()
		job.Run()
	}()

	w.logger.Info("backup worker started",
		logger.Field{Key: "interval", Value: w.cfg.CheckInterval.String()},
		logger.Field{Key: "max_retries", Value: w.cfg.MaxRetries})
	return nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	c := w.cron
	started := w.started
	w.started = false
	w.mu.Unlock()

	if !started {
		return
	}
	<-c.Stop().Done()
	w.initial.Wait()
	w.logger.Info("backup worker stopped")
}

// RunOnce processes every Pending entry once, then makes the Failed entries
// that still have retries left eligible for the next pass.
func (w *Worker) RunOnce(ctx context.Context) {
	pending := w.queue.Pending()
	if len(pending) > 0 {
		w.logger.Debug("processing pending backups", logger.Field{Key: "count", Value: len(pending)})
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, entry.LocalPath)
	}

	w.resetFailed()
	w.metrics.SetQueueCounts(w.queue.Counts())
}

func (w *Worker) process(ctx context.Context, path string) {
	log := w.logger.With(logger.Field{Key: "path", Value: path})

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn("backup file missing")
		if err := w.queue.MarkFailed(path, FileMissingError); err != nil {
			log.Error("failed to mark backup as failed", err)
		}
		w.metrics.RecordUpload("missing")
		return
	}

	entry, ok := w.queue.Get(path)
	if !ok {
		return
	}
	if entry.RetryCount >= w.cfg.MaxRetries {
		log.Debug("backup exhausted retries", logger.Field{Key: "retry_count", Value: entry.RetryCount})
		return
	}

	if err := w.queue.MarkInProgress(path); err != nil {
		log.Error("failed to mark backup in progress", err)
		return
	}

	if err := w.uploader.UploadFile(ctx, path); err != nil {
		log.Error("backup upload failed", err, logger.Field{Key: "retry_count", Value: entry.RetryCount + 1})
		w.metrics.RecordUpload("failure")
		if err := w.queue.MarkFailed(path, err.Error()); err != nil {
			log.Error("failed to mark backup as failed", err)
		}
		return
	}

	w.metrics.RecordUpload("success")
	if err := w.queue.Remove(path); err != nil {
		log.Error("failed to remove uploaded backup from queue", err)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove uploaded file", logger.Field{Key: "error", Value: err.Error()})
	}
	log.Info("backup uploaded", logger.Field{Key: "message_id", Value: entry.MessageID})

	w.deleteMessage(ctx, entry)
}

// deleteMessage removes the chat message once none of its files are queued.
func (w *Worker) deleteMessage(ctx context.Context, entry PendingBackup) {
	if !w.cfg.DeleteAfterUpload || w.deleter == nil {
		return
	}
	if w.queue.HasMessage(entry.ChannelID, entry.MessageID) {
		return
	}
	if err := w.deleter.DeleteMessage(ctx, entry.ChannelID, entry.MessageID); err != nil {
		w.logger.Error("failed to delete backed up message", err,
			logger.Field{Key: "channel_id", Value: entry.ChannelID},
			logger.Field{Key: "message_id", Value: entry.MessageID})
		w.metrics.DeleteFailed("single")
		return
	}
	w.metrics.MessagesDeleted("single", 1)
}

func (w *Worker) resetFailed() {
	for _, entry := range w.queue.Failed(w.cfg.MaxRetries) {
		if f, ok := entry.Status.(Failed); ok && f.Error == FileMissingError {
			continue
		}
		if err := w.queue.ResetToPending(entry.LocalPath); err != nil {
			w.logger.Error("failed to reset backup to pending", err,
				logger.Field{Key: "path", Value: entry.LocalPath})
		}
	}
}
