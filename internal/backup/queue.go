// Package backup keeps the durable queue of downloaded media waiting for a
// cloud upload, and the worker that drains it.
package backup

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

// ErrNotFound is returned when no entry exists for a local path.
var ErrNotFound = errors.New("backup entry not found")

// PendingBackup is one downloaded file waiting for upload.
type PendingBackup struct {
	MessageID        int64
	ChannelID        int64
	LocalPath        string
	OriginalFilename string
	Timestamp        time.Time
	RetryCount       int
	Status           Status
}

// fileEntry is the on-disk form of PendingBackup.
type fileEntry struct {
	MessageID        int64        `toml:"message_id"`
	ChannelID        int64        `toml:"channel_id"`
	LocalPath        string       `toml:"local_path"`
	OriginalFilename string       `toml:"original_filename"`
	Timestamp        time.Time    `toml:"timestamp"`
	RetryCount       int          `toml:"retry_count"`
	Status           statusRecord `toml:"status"`
}

type queueFile struct {
	Entries map[string]fileEntry `toml:"entries"`
}

// Queue is a file-backed map from local path to PendingBackup. Every mutation
// is written through to disk before it returns. If the write fails the
// in-memory change is rolled back and the error is returned, so a successful
// call is always durable.
type Queue struct {
	mu      sync.Mutex
	path    string
	entries map[string]PendingBackup
	logger  *logger.Logger
}

// Load reads the queue from path. A missing file yields an empty queue. Entries
// found InProgress are reset to Pending: the process stopped mid-upload and the
// outcome of that upload is unknown.
func Load(path string, log *logger.Logger) (*Queue, error) {
	q := &Queue{
		path:    path,
		entries: make(map[string]PendingBackup),
		logger:  log,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup queue %s: %w", path, err)
	}

	var file queueFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse backup queue %s: %w", path, err)
	}

	reset := 0
	for key, fe := range file.Entries {
		status, err := decodeStatus(fe.Status)
		if err != nil {
			log.Warn("unknown backup status, treating as pending",
				logger.Field{Key: "path", Value: key},
				logger.Field{Key: "status", Value: fe.Status.Type})
		}
		if _, ok := status.(InProgress); ok {
			status = Pending{}
			reset++
		}
		q.entries[key] = PendingBackup{
			MessageID:        fe.MessageID,
			ChannelID:        fe.ChannelID,
			LocalPath:        key,
			OriginalFilename: fe.OriginalFilename,
			Timestamp:        fe.Timestamp,
			RetryCount:       fe.RetryCount,
			Status:           status,
		}
	}

	log.Info("backup queue loaded",
		logger.Field{Key: "path", Value: path},
		logger.Field{Key: "entries", Value: len(q.entries)},
		logger.Field{Key: "reset_in_progress", Value: reset})

	return q, nil
}

// Path returns the file the queue persists to.
func (q *Queue) Path() string {
	return q.path
}

// Add inserts or replaces the entry for backup.LocalPath. A fresh add always
// starts Pending with a zero retry count.
func (q *Queue) Add(backup PendingBackup) error {
	if backup.LocalPath == "" {
		return fmt.Errorf("backup entry has empty local path")
	}
	backup.RetryCount = 0
	backup.Status = Pending{}

	q.mu.Lock()
	defer q.mu.Unlock()

	prev, existed := q.entries[backup.LocalPath]
	q.entries[backup.LocalPath] = backup
	if err := q.saveLocked(); err != nil {
		if existed {
			q.entries[backup.LocalPath] = prev
		} else {
			delete(q.entries, backup.LocalPath)
		}
		return err
	}
	return nil
}

// Remove deletes the entry for localPath. Removing an absent entry is a no-op.
func (q *Queue) Remove(localPath string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev, ok := q.entries[localPath]
	if !ok {
		return nil
	}
	delete(q.entries, localPath)
	if err := q.saveLocked(); err != nil {
		q.entries[localPath] = prev
		return err
	}
	return nil
}

// MarkInProgress sets the entry status to InProgress.
func (q *Queue) MarkInProgress(localPath string) error {
	return q.update(localPath, func(b *PendingBackup) {
		b.Status = InProgress{}
	})
}

// MarkFailed sets the entry status to Failed and increments its retry count.
func (q *Queue) MarkFailed(localPath, errText string) error {
	return q.update(localPath, func(b *PendingBackup) {
		b.Status = Failed{Error: errText}
		b.RetryCount++
	})
}

// ResetToPending sets the entry status back to Pending. The retry count is kept.
func (q *Queue) ResetToPending(localPath string) error {
	return q.update(localPath, func(b *PendingBackup) {
		b.Status = Pending{}
	})
}

func (q *Queue) update(localPath string, mutate func(*PendingBackup)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev, ok := q.entries[localPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, localPath)
	}
	next := prev
	mutate(&next)
	q.entries[localPath] = next
	if err := q.saveLocked(); err != nil {
		q.entries[localPath] = prev
		return err
	}
	return nil
}

// Get returns the entry for localPath.
func (q *Queue) Get(localPath string) (PendingBackup, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.entries[localPath]
	return b, ok
}

// Pending returns every entry whose status is Pending, oldest message first.
func (q *Queue) Pending() []PendingBackup {
	return q.filter(func(b PendingBackup) bool {
		_, ok := b.Status.(Pending)
		return ok
	})
}

// Failed returns the Failed entries that still have retries left.
func (q *Queue) Failed(maxRetries int) []PendingBackup {
	return q.filter(func(b PendingBackup) bool {
		_, ok := b.Status.(Failed)
		return ok && b.RetryCount < maxRetries
	})
}

// All returns every entry, oldest message first.
func (q *Queue) All() []PendingBackup {
	return q.filter(func(PendingBackup) bool { return true })
}

// HasMessage reports whether any entry belongs to the message. Message ids
// are only unique within a channel.
func (q *Queue) HasMessage(channelID, messageID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, b := range q.entries {
		if b.ChannelID == channelID && b.MessageID == messageID {
			return true
		}
	}
	return false
}

// EntriesForMessage returns the entries that belong to the message.
func (q *Queue) EntriesForMessage(channelID, messageID int64) []PendingBackup {
	return q.filter(func(b PendingBackup) bool {
		return b.ChannelID == channelID && b.MessageID == messageID
	})
}

// Counts returns the number of entries per status label.
func (q *Queue) Counts() map[string]int {
	counts := map[string]int{"pending": 0, "in_progress": 0, "failed": 0}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, b := range q.entries {
		counts[statusName(b.Status)]++
	}
	return counts
}

func (q *Queue) filter(keep func(PendingBackup) bool) []PendingBackup {
	q.mu.Lock()
	result := make([]PendingBackup, 0, len(q.entries))
	for _, b := range q.entries {
		if keep(b) {
			result = append(result, b)
		}
	}
	q.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].LocalPath < result[j].LocalPath
	})
	return result
}

// saveLocked writes the whole queue atomically. Caller holds q.mu.
func (q *Queue) saveLocked() error {
	file := queueFile{Entries: make(map[string]fileEntry, len(q.entries))}
	for key, b := range q.entries {
		file.Entries[key] = fileEntry{
			MessageID:        b.MessageID,
			ChannelID:        b.ChannelID,
			LocalPath:        b.LocalPath,
			OriginalFilename: b.OriginalFilename,
			Timestamp:        b.Timestamp.UTC(),
			RetryCount:       b.RetryCount,
			Status:           encodeStatus(b.Status),
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(file); err != nil {
		return fmt.Errorf("failed to encode backup queue: %w", err)
	}
	if err := atomicfile.WriteFile(q.path, buf.Bytes(), 0644); err != nil {
		q.logger.Error("failed to persist backup queue", err,
			logger.Field{Key: "path", Value: q.path})
		return fmt.Errorf("failed to persist backup queue: %w", err)
	}
	return nil
}
