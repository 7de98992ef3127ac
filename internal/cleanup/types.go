// Package cleanup enforces per-channel retention. The Scheduler starts one
// Task per enabled channel on every tick; a Task pages through the channel
// history, deletes expired messages without media and hands media-bearing
// messages to the backup queue instead of deleting them.
package cleanup

import (
	"context"
	"time"

	"github.com/aatumaykin/sweepbot/internal/backup"
	"github.com/aatumaykin/sweepbot/internal/chat"
)

// Platform rate limits and batching.
const (
	// BulkDeleteMaxAge is the oldest message the platform accepts in a bulk delete.
	BulkDeleteMaxAge = 14 * 24 * time.Hour
	BulkDeleteMin    = 2
	BulkDeleteMax    = 100

	SingleDeleteDelay = 200 * time.Millisecond
	BulkDeleteDelay   = time.Second

	PageSize            = 100
	TargetExpired       = 100
	MaxPaginationRounds = 10
)

// Platform is the chat service being cleaned.
type Platform interface {
	// FetchMessages returns up to limit messages older than before (all
	// messages when before is 0), newest first.
	FetchMessages(ctx context.Context, channelID, before int64, limit int) ([]chat.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
	BulkDeleteMessages(ctx context.Context, channelID int64, messageIDs []int64) error
}

// DownloadedFile is one attachment saved to local disk.
type DownloadedFile struct {
	LocalPath        string
	OriginalFilename string
}

// Downloader saves the media attachments of a message to local disk.
type Downloader interface {
	Download(ctx context.Context, msg chat.Message) ([]DownloadedFile, error)
}

// CursorStore persists the pagination cursor of each channel.
type CursorStore interface {
	Cursor(channelID int64) (int64, bool)
	SetCursor(channelID, cursor int64) error
	ClearCursor(channelID int64) error
}

// BackupQueue receives downloaded files.
type BackupQueue interface {
	Add(b backup.PendingBackup) error
	HasMessage(channelID, messageID int64) bool
}

// Stats holds statistics about one cleanup run.
type Stats struct {
	Fetched          int
	Expired          int
	Deleted          int
	DeleteFailures   int
	BackupsQueued    int
	DownloadFailures int
	ReachedEnd       bool
	Cancelled        bool
	Duration         time.Duration
}
