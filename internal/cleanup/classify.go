package cleanup

import (
	"time"

	"github.com/aatumaykin/sweepbot/internal/chat"
)

// DeleteJob is an expired message without media.
type DeleteJob struct {
	MessageID int64
	Timestamp time.Time
}

// BackupJob is an expired message whose media must be backed up before the
// message may be deleted.
type BackupJob struct {
	Message chat.Message
}

// filterExpired keeps messages strictly older than cutoff.
func filterExpired(messages []chat.Message, cutoff time.Time) []chat.Message {
	var expired []chat.Message
	for _, m := range messages {
		if m.Timestamp.Before(cutoff) {
			expired = append(expired, m)
		}
	}
	return expired
}

// classify splits messages into delete jobs (no media) and backup jobs.
func classify(messages []chat.Message) ([]DeleteJob, []BackupJob) {
	var (
		deletes []DeleteJob
		backups []BackupJob
	)
	for _, m := range messages {
		if len(m.Media()) > 0 {
			backups = append(backups, BackupJob{Message: m})
			continue
		}
		deletes = append(deletes, DeleteJob{MessageID: m.ID, Timestamp: m.Timestamp})
	}
	return deletes, backups
}

// partitionDeletes splits jobs by bulk-delete eligibility. A bulk subset
// smaller than BulkDeleteMin is folded into the individual path.
func partitionDeletes(jobs []DeleteJob, now time.Time) (bulk, individual []DeleteJob) {
	cutoff := now.Add(-BulkDeleteMaxAge)
	for _, j := range jobs {
		if !j.Timestamp.Before(cutoff) {
			bulk = append(bulk, j)
		} else {
			individual = append(individual, j)
		}
	}
	if len(bulk) < BulkDeleteMin {
		individual = append(individual, bulk...)
		bulk = nil
	}
	return bulk, individual
}
