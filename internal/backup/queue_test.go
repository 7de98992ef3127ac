package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup_queue.toml")
	q, err := Load(path, logger.NewNop())
	require.NoError(t, err)
	return q, path
}

func testBackup(path string, messageID int64) PendingBackup {
	return PendingBackup{
		MessageID:        messageID,
		ChannelID:        -100123,
		LocalPath:        path,
		OriginalFilename: filepath.Base(path),
		Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLoad_MissingFileYieldsEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	assert.Empty(t, q.All())
	assert.Empty(t, q.Pending())
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup_queue.toml")
	require.NoError(t, os.WriteFile(path, []byte("entries = ["), 0644))

	_, err := Load(path, logger.NewNop())
	assert.Error(t, err)
}

func TestQueue_AddResetsRetryAndStatus(t *testing.T) {
	q, _ := newTestQueue(t)

	b := testBackup("/data/a.jpg", 1)
	b.RetryCount = 3
	b.Status = Failed{Error: "boom"}
	require.NoError(t, q.Add(b))

	got, ok := q.Get("/data/a.jpg")
	require.True(t, ok)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, Pending{}, got.Status)
}

func TestQueue_AddRejectsEmptyPath(t *testing.T) {
	q, _ := newTestQueue(t)
	assert.Error(t, q.Add(testBackup("", 1)))
}

func TestQueue_StatusTransitions(t *testing.T) {
	q, _ := newTestQueue(t)
	require.NoError(t, q.Add(testBackup("/data/a.jpg", 1)))

	require.NoError(t, q.MarkInProgress("/data/a.jpg"))
	got, _ := q.Get("/data/a.jpg")
	assert.Equal(t, InProgress{}, got.Status)
	assert.Empty(t, q.Pending())

	require.NoError(t, q.MarkFailed("/data/a.jpg", "network down"))
	got, _ = q.Get("/data/a.jpg")
	assert.Equal(t, Failed{Error: "network down"}, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	require.NoError(t, q.ResetToPending("/data/a.jpg"))
	got, _ = q.Get("/data/a.jpg")
	assert.Equal(t, Pending{}, got.Status)
	assert.Equal(t, 1, got.RetryCount, "reset keeps the retry count")
}

func TestQueue_MutatingMissingEntry(t *testing.T) {
	q, _ := newTestQueue(t)

	assert.ErrorIs(t, q.MarkInProgress("/nope"), ErrNotFound)
	assert.ErrorIs(t, q.MarkFailed("/nope", "x"), ErrNotFound)
	assert.ErrorIs(t, q.ResetToPending("/nope"), ErrNotFound)
	assert.NoError(t, q.Remove("/nope"))
}

func TestQueue_PendingAndFailed(t *testing.T) {
	q, _ := newTestQueue(t)
	for i, p := range []string{"/d/a", "/d/b", "/d/c", "/d/d"} {
		require.NoError(t, q.Add(testBackup(p, int64(i+1))))
	}

	require.NoError(t, q.MarkInProgress("/d/b"))
	require.NoError(t, q.MarkFailed("/d/c", "e1"))
	require.NoError(t, q.MarkFailed("/d/d", "e1"))
	require.NoError(t, q.ResetToPending("/d/d"))
	require.NoError(t, q.MarkFailed("/d/d", "e2"))

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "/d/a", pending[0].LocalPath)

	tests := []struct {
		name       string
		maxRetries int
		want       []string
	}{
		{name: "both under limit", maxRetries: 5, want: []string{"/d/c", "/d/d"}},
		{name: "second exhausted", maxRetries: 2, want: []string{"/d/c"}},
		{name: "all exhausted", maxRetries: 1, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, b := range q.Failed(tt.maxRetries) {
				got = append(got, b.LocalPath)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	counts := q.Counts()
	assert.Equal(t, 1, counts["pending"])
	assert.Equal(t, 1, counts["in_progress"])
	assert.Equal(t, 2, counts["failed"])
}

func TestQueue_MessageLookups(t *testing.T) {
	q, _ := newTestQueue(t)
	require.NoError(t, q.Add(testBackup("/d/a_1.jpg", 7)))
	require.NoError(t, q.Add(testBackup("/d/a_2.jpg", 7)))
	require.NoError(t, q.Add(testBackup("/d/b.jpg", 8)))

	other := testBackup("/d/other_7.jpg", 7)
	other.ChannelID = -100999
	require.NoError(t, q.Add(other))

	assert.True(t, q.HasMessage(-100123, 7))
	assert.False(t, q.HasMessage(-100123, 9))
	assert.Len(t, q.EntriesForMessage(-100123, 7), 2)
	assert.Len(t, q.EntriesForMessage(-100999, 7), 1)
	assert.False(t, q.HasMessage(-100999, 8))

	require.NoError(t, q.Remove("/d/b.jpg"))
	assert.False(t, q.HasMessage(-100123, 8))
}

func TestQueue_Durability(t *testing.T) {
	q, path := newTestQueue(t)

	require.NoError(t, q.Add(testBackup("/d/a.jpg", 1)))
	require.NoError(t, q.Add(testBackup("/d/b.jpg", 2)))
	require.NoError(t, q.Add(testBackup("/d/c.jpg", 3)))
	require.NoError(t, q.MarkFailed("/d/b.jpg", "quota exceeded"))
	require.NoError(t, q.MarkInProgress("/d/c.jpg"))
	require.NoError(t, q.Remove("/d/a.jpg"))

	reloaded, err := Load(path, logger.NewNop())
	require.NoError(t, err)

	all := reloaded.All()
	require.Len(t, all, 2)

	b, ok := reloaded.Get("/d/b.jpg")
	require.True(t, ok)
	assert.Equal(t, Failed{Error: "quota exceeded"}, b.Status)
	assert.Equal(t, 1, b.RetryCount)
	assert.Equal(t, int64(2), b.MessageID)
	assert.Equal(t, int64(-100123), b.ChannelID)
	assert.Equal(t, "b.jpg", b.OriginalFilename)
	assert.True(t, b.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	c, ok := reloaded.Get("/d/c.jpg")
	require.True(t, ok)
	assert.Equal(t, Pending{}, c.Status, "in-progress entries are reset on load")

	_, ok = reloaded.Get("/d/a.jpg")
	assert.False(t, ok)
}

func TestQueue_FileFormat(t *testing.T) {
	q, path := newTestQueue(t)
	require.NoError(t, q.Add(testBackup("/d/a.jpg", 1)))
	require.NoError(t, q.MarkFailed("/d/a.jpg", "boom"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `[entries."/d/a.jpg"]`)
	assert.Contains(t, content, `type = "Failed"`)
	assert.Contains(t, content, `error = "boom"`)
}

func TestQueue_RollbackOnPersistFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	q, err := Load(filepath.Join(blocker, "backup_queue.toml"), logger.NewNop())
	require.NoError(t, err)

	err = q.Add(testBackup("/d/a.jpg", 1))
	require.Error(t, err)

	_, ok := q.Get("/d/a.jpg")
	assert.False(t, ok, "failed add must not stay in memory")
	assert.Empty(t, q.All())
}

func TestQueue_UnknownStatusTreatedAsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup_queue.toml")
	content := `
[entries."/d/a.jpg"]
message_id = 1
channel_id = 2
local_path = "/d/a.jpg"
original_filename = "a.jpg"
timestamp = 2026-03-01T12:00:00Z
retry_count = 0

[entries."/d/a.jpg".status]
type = "Weird"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	q, err := Load(path, logger.NewNop())
	require.NoError(t, err)
	got, ok := q.Get("/d/a.jpg")
	require.True(t, ok)
	assert.Equal(t, Pending{}, got.Status)
}
