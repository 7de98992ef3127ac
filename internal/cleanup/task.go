package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/aatumaykin/sweepbot/internal/backup"
	"github.com/aatumaykin/sweepbot/internal/cancellation"
	"github.com/aatumaykin/sweepbot/internal/chat"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/metrics"
	"github.com/google/uuid"
)

// Task runs one cleanup pass over a channel.
type Task struct {
	platform   Platform
	downloader Downloader
	cursors    CursorStore
	queue      BackupQueue
	logger     *logger.Logger
	metrics    *metrics.Metrics

	now         func() time.Time
	singleDelay time.Duration
	bulkDelay   time.Duration
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithClock overrides the clock used for retention and bulk-delete cutoffs.
func WithClock(now func() time.Time) TaskOption {
	return func(t *Task) { t.now = now }
}

// WithDelays overrides the delays between individual deletes and bulk batches.
func WithDelays(single, bulk time.Duration) TaskOption {
	return func(t *Task) {
		t.singleDelay = single
		t.bulkDelay = bulk
	}
}

// NewTask creates a Task.
func NewTask(platform Platform, downloader Downloader, cursors CursorStore, queue BackupQueue, log *logger.Logger, m *metrics.Metrics, opts ...TaskOption) *Task {
	t := &Task{
		platform:    platform,
		downloader:  downloader,
		cursors:     cursors,
		queue:       queue,
		logger:      log.Component("cleanup"),
		metrics:     m,
		now:         time.Now,
		singleDelay: SingleDeleteDelay,
		bulkDelay:   BulkDeleteDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run cleans channelID. sig is checked at the start of every pagination round,
// before every delete batch or message and before every backup job; calls
// already in flight are not interrupted. Only page fetch and cursor persistence
// errors are returned.
func (t *Task) Run(ctx context.Context, channelID int64, retentionDays int, sig *cancellation.Signal) (Stats, error) {
	start := t.now()
	log := t.logger.With(
		logger.Field{Key: "run_id", Value: uuid.NewString()},
		logger.Field{Key: "channel_id", Value: channelID})

	stats, err := t.run(ctx, log, channelID, retentionDays, sig)
	stats.Duration = t.now().Sub(start)

	switch {
	case err != nil:
		t.metrics.RecordCleanupRun("error", stats.Duration)
	case stats.Cancelled:
		log.Info("cleanup cancelled")
		t.metrics.RecordCleanupRun("cancelled", stats.Duration)
	default:
		log.Info("cleanup completed",
			logger.Field{Key: "expired", Value: stats.Expired},
			logger.Field{Key: "deleted", Value: stats.Deleted},
			logger.Field{Key: "backups_queued", Value: stats.BackupsQueued},
			logger.Field{Key: "duration_ms", Value: stats.Duration.Milliseconds()})
		t.metrics.RecordCleanupRun("success", stats.Duration)
	}
	return stats, err
}

func (t *Task) run(ctx context.Context, log *logger.Logger, channelID int64, retentionDays int, sig *cancellation.Signal) (Stats, error) {
	var stats Stats

	log.Info("starting cleanup", logger.Field{Key: "retention_days", Value: retentionDays})

	expired, cursor, reachedEnd, cancelled, err := t.paginate(ctx, log, channelID, retentionDays, sig, &stats)
	if err != nil {
		return stats, err
	}
	if cancelled {
		stats.Cancelled = true
		return stats, nil
	}
	stats.ReachedEnd = reachedEnd
	stats.Expired = len(expired)

	// после отмены курсор не сохраняется: его мог сбросить новый, более строгий policy
	if sig.Cancelled() {
		stats.Cancelled = true
		return stats, nil
	}

	if reachedEnd {
		log.Debug("reached end of channel history, clearing pagination cursor")
		if err := t.cursors.ClearCursor(channelID); err != nil {
			return stats, fmt.Errorf("failed to clear pagination cursor: %w", err)
		}
	} else if cursor > 0 {
		log.Debug("saving pagination cursor", logger.Field{Key: "cursor", Value: cursor})
		if err := t.cursors.SetCursor(channelID, cursor); err != nil {
			return stats, fmt.Errorf("failed to save pagination cursor: %w", err)
		}
	}

	if len(expired) == 0 {
		log.Debug("no expired messages")
		return stats, nil
	}

	deletes, backups := classify(expired)
	log.Info("classified expired messages",
		logger.Field{Key: "delete_jobs", Value: len(deletes)},
		logger.Field{Key: "backup_jobs", Value: len(backups)})

	if sig.Cancelled() {
		stats.Cancelled = true
		return stats, nil
	}
	if !t.deleteMessages(ctx, log, channelID, deletes, sig, &stats) {
		stats.Cancelled = true
		return stats, nil
	}

	if sig.Cancelled() {
		stats.Cancelled = true
		return stats, nil
	}
	if !t.processBackups(ctx, log, backups, sig, &stats) {
		stats.Cancelled = true
	}
	return stats, nil
}

// paginate walks the history from the stored cursor towards older messages and
// collects up to TargetExpired expired ones. It returns the new cursor and
// whether the end of history was reached.
func (t *Task) paginate(ctx context.Context, log *logger.Logger, channelID int64, retentionDays int, sig *cancellation.Signal, stats *Stats) (expired []chat.Message, cursor int64, reachedEnd, cancelled bool, err error) {
	cursor, _ = t.cursors.Cursor(channelID)
	cutoff := t.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	for round := 0; round < MaxPaginationRounds; round++ {
		if sig.Cancelled() {
			return nil, cursor, false, true, nil
		}

		log.Debug("fetching page",
			logger.Field{Key: "round", Value: round + 1},
			logger.Field{Key: "before", Value: cursor})

		page, err := t.platform.FetchMessages(ctx, channelID, cursor, PageSize)
		if err != nil {
			return nil, cursor, false, false, fmt.Errorf("failed to fetch messages: %w", err)
		}
		stats.Fetched += len(page)

		if len(page) == 0 {
			reachedEnd = true
			break
		}

		cursor = page[len(page)-1].ID
		if len(page) < PageSize {
			reachedEnd = true
		}

		expired = append(expired, filterExpired(page, cutoff)...)

		if len(expired) >= TargetExpired {
			expired = expired[:TargetExpired]
			cursor = expired[len(expired)-1].ID
			// More history may remain below the truncation point.
			reachedEnd = false
			break
		}

		if reachedEnd {
			break
		}
	}

	return expired, cursor, reachedEnd, false, nil
}

// deleteMessages returns false when it stopped because of cancellation.
func (t *Task) deleteMessages(ctx context.Context, log *logger.Logger, channelID int64, jobs []DeleteJob, sig *cancellation.Signal, stats *Stats) bool {
	if len(jobs) == 0 {
		return true
	}
	bulk, individual := partitionDeletes(jobs, t.now())

	for start := 0; start < len(bulk); start += BulkDeleteMax {
		if sig.Cancelled() {
			return false
		}
		end := min(start+BulkDeleteMax, len(bulk))
		ids := make([]int64, 0, end-start)
		for _, j := range bulk[start:end] {
			ids = append(ids, j.MessageID)
		}

		if err := t.platform.BulkDeleteMessages(ctx, channelID, ids); err != nil {
			log.Warn("bulk delete failed",
				logger.Field{Key: "count", Value: len(ids)},
				logger.Field{Key: "error", Value: err.Error()})
			stats.DeleteFailures += len(ids)
			t.metrics.DeleteFailed("bulk")
		} else {
			log.Info("bulk deleted messages", logger.Field{Key: "count", Value: len(ids)})
			stats.Deleted += len(ids)
			t.metrics.MessagesDeleted("bulk", len(ids))
		}

		if !t.sleep(ctx, sig, t.bulkDelay) {
			return false
		}
	}

	for _, job := range individual {
		if sig.Cancelled() {
			return false
		}
		if err := t.platform.DeleteMessage(ctx, channelID, job.MessageID); err != nil {
			log.Error("failed to delete message", err, logger.Field{Key: "message_id", Value: job.MessageID})
			stats.DeleteFailures++
			t.metrics.DeleteFailed("single")
		} else {
			log.Debug("deleted message", logger.Field{Key: "message_id", Value: job.MessageID})
			stats.Deleted++
			t.metrics.MessagesDeleted("single", 1)
		}

		if !t.sleep(ctx, sig, t.singleDelay) {
			return false
		}
	}
	return true
}

// processBackups downloads the media of each job and queues the files. The
// messages are left in place; the backup worker deletes them after upload.
func (t *Task) processBackups(ctx context.Context, log *logger.Logger, jobs []BackupJob, sig *cancellation.Signal, stats *Stats) bool {
	for _, job := range jobs {
		if sig.Cancelled() {
			return false
		}
		msg := job.Message
		msgLog := log.With(logger.Field{Key: "message_id", Value: msg.ID})

		if t.queue.HasMessage(msg.ChannelID, msg.ID) {
			msgLog.Debug("media already queued for backup")
			continue
		}

		files, err := t.downloader.Download(ctx, msg)
		if err != nil {
			msgLog.Error("failed to download media", err)
			stats.DownloadFailures++
			t.metrics.DownloadFailed()
			continue
		}

		for _, f := range files {
			err := t.queue.Add(backup.PendingBackup{
				MessageID:        msg.ID,
				ChannelID:        msg.ChannelID,
				LocalPath:        f.LocalPath,
				OriginalFilename: f.OriginalFilename,
				Timestamp:        msg.Timestamp,
			})
			if err != nil {
				msgLog.Error("failed to queue backup", err, logger.Field{Key: "path", Value: f.LocalPath})
				continue
			}
			stats.BackupsQueued++
			t.metrics.BackupEnqueued()
		}
		msgLog.Info("media downloaded, message kept until backup is uploaded",
			logger.Field{Key: "files", Value: len(files)})
	}
	return true
}

// sleep waits d. It returns false if the run was cancelled meanwhile.
func (t *Task) sleep(ctx context.Context, sig *cancellation.Signal, d time.Duration) bool {
	if d <= 0 {
		return !sig.Cancelled()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-sig.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
