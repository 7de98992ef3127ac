package cleanup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aatumaykin/sweepbot/internal/backup"
	"github.com/aatumaykin/sweepbot/internal/cancellation"
	"github.com/aatumaykin/sweepbot/internal/chat"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakePlatform keeps a channel history in memory.
type fakePlatform struct {
	mu         sync.Mutex
	messages   map[int64]chat.Message
	fetches    []int64 // before cursor of every fetch
	bulkCalls  [][]int64
	singles    []int64
	fetchErr   error
	bulkErr    error
	deleteErrs map[int64]error
	onFetch    func()
}

func newFakePlatform(msgs ...chat.Message) *fakePlatform {
	p := &fakePlatform{messages: make(map[int64]chat.Message), deleteErrs: make(map[int64]error)}
	for _, m := range msgs {
		p.messages[m.ID] = m
	}
	return p
}

func (p *fakePlatform) FetchMessages(_ context.Context, _ int64, before int64, limit int) ([]chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches = append(p.fetches, before)
	if p.onFetch != nil {
		p.onFetch()
	}
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}

	var ids []int64
	for id := range p.messages {
		if before == 0 || id < before {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	page := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		page = append(page, p.messages[id])
	}
	return page, nil
}

func (p *fakePlatform) DeleteMessage(_ context.Context, _ int64, messageID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.singles = append(p.singles, messageID)
	if err := p.deleteErrs[messageID]; err != nil {
		return err
	}
	delete(p.messages, messageID)
	return nil
}

func (p *fakePlatform) BulkDeleteMessages(_ context.Context, _ int64, ids []int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bulkCalls = append(p.bulkCalls, append([]int64(nil), ids...))
	if p.bulkErr != nil {
		return p.bulkErr
	}
	for _, id := range ids {
		delete(p.messages, id)
	}
	return nil
}

func (p *fakePlatform) has(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.messages[id]
	return ok
}

type memCursors struct {
	mu      sync.Mutex
	cursors map[int64]int64
	setErr  error
}

func newMemCursors() *memCursors { return &memCursors{cursors: make(map[int64]int64)} }

func (c *memCursors) Cursor(id int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cursors[id]
	return v, ok
}

func (c *memCursors) SetCursor(id, cursor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.cursors[id] = cursor
	return nil
}

func (c *memCursors) ClearCursor(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	delete(c.cursors, id)
	return nil
}

type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Download(ctx context.Context, msg chat.Message) ([]DownloadedFile, error) {
	args := m.Called(ctx, msg)
	files, _ := args.Get(0).([]DownloadedFile)
	return files, args.Error(1)
}

const testChannel int64 = -1001

func textMessage(id int64, ts time.Time) chat.Message {
	return chat.Message{ID: id, ChannelID: testChannel, Timestamp: ts}
}

func photoMessage(id int64, ts time.Time) chat.Message {
	return chat.Message{
		ID:          id,
		ChannelID:   testChannel,
		Timestamp:   ts,
		Attachments: []chat.Attachment{{Kind: chat.KindPhoto, FileID: fmt.Sprintf("photo-%d", id)}},
	}
}

func newTestTask(t *testing.T, p Platform, d Downloader, cursors CursorStore, q BackupQueue) *Task {
	t.Helper()
	return NewTask(p, d, cursors, q, logger.NewNop(), nil,
		WithClock(func() time.Time { return testNow }),
		WithDelays(0, 0))
}

func newTestQueue(t *testing.T) *backup.Queue {
	t.Helper()
	q, err := backup.Load(filepath.Join(t.TempDir(), "queue.toml"), logger.NewNop())
	require.NoError(t, err)
	return q
}

func TestTask_EndToEnd_OneDayRetention(t *testing.T) {
	platform := newFakePlatform(
		textMessage(10, daysAgo(2)),
		photoMessage(11, daysAgo(2)),
		textMessage(12, daysAgo(0.1)),
	)
	queue := newTestQueue(t)
	cursors := newMemCursors()

	downloader := &mockDownloader{}
	downloader.On("Download", mock.Anything, mock.MatchedBy(func(m chat.Message) bool { return m.ID == 11 })).
		Return([]DownloadedFile{{LocalPath: "/media/2026-10-17/11_photo.jpg", OriginalFilename: "photo.jpg"}}, nil).
		Once()

	task := newTestTask(t, platform, downloader, cursors, queue)
	stats, err := task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)

	assert.False(t, platform.has(10), "text message is deleted")
	assert.True(t, platform.has(11), "media message stays until its backup is uploaded")
	assert.True(t, platform.has(12), "recent message is kept")

	all := queue.All()
	require.Len(t, all, 1)
	assert.Equal(t, int64(11), all[0].MessageID)
	assert.Equal(t, testChannel, all[0].ChannelID)
	assert.Equal(t, backup.Pending{}, all[0].Status)
	assert.Equal(t, "photo.jpg", all[0].OriginalFilename)

	assert.Equal(t, 2, stats.Expired)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 1, stats.BackupsQueued)
	assert.True(t, stats.ReachedEnd)
	_, hasCursor := cursors.Cursor(testChannel)
	assert.False(t, hasCursor, "cursor is cleared at end of history")
	downloader.AssertExpectations(t)
}

func TestTask_SkipsMessagesAlreadyQueued(t *testing.T) {
	platform := newFakePlatform(photoMessage(11, daysAgo(2)))
	queue := newTestQueue(t)
	require.NoError(t, queue.Add(backup.PendingBackup{MessageID: 11, ChannelID: testChannel, LocalPath: "/media/11.jpg"}))

	downloader := &mockDownloader{}
	task := newTestTask(t, platform, downloader, newMemCursors(), queue)
	_, err := task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)

	downloader.AssertNotCalled(t, "Download", mock.Anything, mock.Anything)
	assert.Len(t, queue.All(), 1)
}

func TestTask_SameMessageIDInAnotherChannelIsDownloaded(t *testing.T) {
	platform := newFakePlatform(photoMessage(11, daysAgo(2)))
	queue := newTestQueue(t)
	require.NoError(t, queue.Add(backup.PendingBackup{MessageID: 11, ChannelID: -2002, LocalPath: "/media/-2002_11.jpg"}))

	downloader := &mockDownloader{}
	downloader.On("Download", mock.Anything, mock.MatchedBy(func(m chat.Message) bool { return m.ID == 11 })).
		Return([]DownloadedFile{{LocalPath: "/media/-1001_11.jpg", OriginalFilename: "11.jpg"}}, nil).Once()

	task := newTestTask(t, platform, downloader, newMemCursors(), queue)
	stats, err := task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.BackupsQueued)
	assert.Len(t, queue.All(), 2)
	assert.True(t, queue.HasMessage(testChannel, 11))
	assert.True(t, queue.HasMessage(-2002, 11))
	downloader.AssertExpectations(t)
}

func TestTask_DownloadFailureIsIsolated(t *testing.T) {
	platform := newFakePlatform(photoMessage(11, daysAgo(2)), photoMessage(12, daysAgo(2)))
	queue := newTestQueue(t)

	downloader := &mockDownloader{}
	downloader.On("Download", mock.Anything, mock.MatchedBy(func(m chat.Message) bool { return m.ID == 12 })).
		Return(nil, errors.New("file is too big"))
	downloader.On("Download", mock.Anything, mock.MatchedBy(func(m chat.Message) bool { return m.ID == 11 })).
		Return([]DownloadedFile{{LocalPath: "/media/11.jpg", OriginalFilename: "11.jpg"}}, nil)

	task := newTestTask(t, platform, downloader, newMemCursors(), queue)
	stats, err := task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DownloadFailures)
	assert.Equal(t, 1, stats.BackupsQueued)
	assert.True(t, platform.has(11))
	assert.True(t, platform.has(12))
	downloader.AssertNumberOfCalls(t, "Download", 2)
}

func TestTask_BulkAndIndividualDeletes(t *testing.T) {
	var msgs []chat.Message
	for id := int64(1); id <= 3; id++ {
		msgs = append(msgs, textMessage(id, daysAgo(20)))
	}
	for id := int64(4); id <= 6; id++ {
		msgs = append(msgs, textMessage(id, daysAgo(5)))
	}
	platform := newFakePlatform(msgs...)

	task := newTestTask(t, platform, &mockDownloader{}, newMemCursors(), newTestQueue(t))
	stats, err := task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)

	require.Len(t, platform.bulkCalls, 1)
	assert.ElementsMatch(t, []int64{4, 5, 6}, platform.bulkCalls[0])
	assert.ElementsMatch(t, []int64{1, 2, 3}, platform.singles, "individual path only covers old messages")
	assert.Equal(t, 6, stats.Deleted)
}

func TestTask_DeleteFailuresAreIsolated(t *testing.T) {
	platform := newFakePlatform(
		textMessage(1, daysAgo(20)),
		textMessage(2, daysAgo(21)),
		textMessage(3, daysAgo(3)),
		textMessage(4, daysAgo(3)),
	)
	platform.deleteErrs[1] = errors.New("message can't be deleted")
	platform.bulkErr = errors.New("too many requests")

	task := newTestTask(t, platform, &mockDownloader{}, newMemCursors(), newTestQueue(t))
	stats, err := task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)

	assert.True(t, platform.has(1))
	assert.False(t, platform.has(2))
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 3, stats.DeleteFailures)
}

func TestTask_PaginationAdvancesCursor(t *testing.T) {
	// 1500 messages, all too recent to expire: ten full rounds, no end.
	var msgs []chat.Message
	for id := int64(1); id <= 1500; id++ {
		msgs = append(msgs, textMessage(id, daysAgo(0.5)))
	}
	platform := newFakePlatform(msgs...)
	cursors := newMemCursors()
	task := newTestTask(t, platform, &mockDownloader{}, cursors, newTestQueue(t))

	stats, err := task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)
	assert.False(t, stats.ReachedEnd)
	assert.Len(t, platform.fetches, MaxPaginationRounds)
	assert.Equal(t, int64(0), platform.fetches[0])
	for i := 2; i < len(platform.fetches); i++ {
		assert.Less(t, platform.fetches[i], platform.fetches[i-1], "cursor moves to older ids")
	}

	cursor, ok := cursors.Cursor(testChannel)
	require.True(t, ok)
	assert.Equal(t, int64(501), cursor)

	// Second pass resumes at the cursor and reaches the end.
	stats, err = task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)
	assert.True(t, stats.ReachedEnd)
	assert.Equal(t, int64(501), platform.fetches[MaxPaginationRounds])
	_, ok = cursors.Cursor(testChannel)
	assert.False(t, ok, "cursor is cleared on a short page")
}

func TestTask_TruncatesToTarget(t *testing.T) {
	var msgs []chat.Message
	for id := int64(1); id <= 250; id++ {
		msgs = append(msgs, textMessage(id, daysAgo(30)))
	}
	platform := newFakePlatform(msgs...)
	cursors := newMemCursors()
	task := newTestTask(t, platform, &mockDownloader{}, cursors, newTestQueue(t))

	stats, err := task.Run(context.Background(), testChannel, 1, nil)
	require.NoError(t, err)

	assert.Equal(t, TargetExpired, stats.Expired)
	assert.Len(t, platform.fetches, 1)
	cursor, ok := cursors.Cursor(testChannel)
	require.True(t, ok)
	assert.Equal(t, int64(151), cursor, "cursor points at the oldest retained message")
	assert.Len(t, platform.singles, TargetExpired)
}

func TestTask_FetchErrorAborts(t *testing.T) {
	platform := newFakePlatform()
	platform.fetchErr = errors.New("network down")
	cursors := newMemCursors()
	require.NoError(t, cursors.SetCursor(testChannel, 77))

	task := newTestTask(t, platform, &mockDownloader{}, cursors, newTestQueue(t))
	_, err := task.Run(context.Background(), testChannel, 1, nil)
	require.Error(t, err)

	cursor, ok := cursors.Cursor(testChannel)
	assert.True(t, ok)
	assert.Equal(t, int64(77), cursor, "cursor is untouched")
}

func TestTask_CursorPersistErrorAborts(t *testing.T) {
	platform := newFakePlatform(textMessage(1, daysAgo(5)))
	cursors := newMemCursors()
	cursors.setErr = errors.New("disk full")

	task := newTestTask(t, platform, &mockDownloader{}, cursors, newTestQueue(t))
	_, err := task.Run(context.Background(), testChannel, 1, nil)
	require.Error(t, err)
	assert.True(t, platform.has(1), "nothing is deleted when the cursor cannot be saved")
}

func TestTask_CancelledBeforeStart(t *testing.T) {
	platform := newFakePlatform(textMessage(1, daysAgo(5)))
	registry := cancellation.NewRegistry()
	sig := registry.Register(testChannel)
	registry.Cancel(testChannel)

	task := newTestTask(t, platform, &mockDownloader{}, newMemCursors(), newTestQueue(t))
	stats, err := task.Run(context.Background(), testChannel, 1, sig)
	require.NoError(t, err)
	assert.True(t, stats.Cancelled)
	assert.Empty(t, platform.fetches)
	assert.True(t, platform.has(1))
}

func TestTask_CancelledDuringPagination(t *testing.T) {
	var msgs []chat.Message
	for id := int64(1); id <= 300; id++ {
		msgs = append(msgs, textMessage(id, daysAgo(0.5)))
	}
	platform := newFakePlatform(msgs...)
	registry := cancellation.NewRegistry()
	sig := registry.Register(testChannel)
	platform.onFetch = func() { registry.Cancel(testChannel) }
	cursors := newMemCursors()

	task := newTestTask(t, platform, &mockDownloader{}, cursors, newTestQueue(t))
	stats, err := task.Run(context.Background(), testChannel, 1, sig)
	require.NoError(t, err)

	assert.True(t, stats.Cancelled)
	assert.Len(t, platform.fetches, 1)
	_, ok := cursors.Cursor(testChannel)
	assert.False(t, ok, "no progress is saved after cancellation")
}

func TestTask_CancelledAfterPaginationKeepsCursor(t *testing.T) {
	var msgs []chat.Message
	for id := int64(1); id <= 150; id++ {
		msgs = append(msgs, textMessage(id, daysAgo(2)))
	}
	platform := newFakePlatform(msgs...)
	registry := cancellation.NewRegistry()
	sig := registry.Register(testChannel)
	// отмена приходит во время последней страницы, цель уже набрана
	platform.onFetch = func() { registry.Cancel(testChannel) }

	cursors := newMemCursors()
	require.NoError(t, cursors.ClearCursor(testChannel))

	task := newTestTask(t, platform, &mockDownloader{}, cursors, newTestQueue(t))
	stats, err := task.Run(context.Background(), testChannel, 1, sig)
	require.NoError(t, err)

	assert.True(t, stats.Cancelled)
	assert.Len(t, platform.fetches, 1)
	_, ok := cursors.Cursor(testChannel)
	assert.False(t, ok, "a cleared cursor is not written back")
	assert.Empty(t, platform.bulkCalls)
	assert.Empty(t, platform.singles)
}
