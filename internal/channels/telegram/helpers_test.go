package telegram

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aatumaykin/sweepbot/internal/chat"
	"github.com/aatumaykin/sweepbot/internal/retry"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

// memIndex is an in-memory history index.
type memIndex struct {
	mu       sync.Mutex
	messages map[int64]map[int64]chat.Message
	err      error
}

func newMemIndex(msgs ...chat.Message) *memIndex {
	idx := &memIndex{messages: make(map[int64]map[int64]chat.Message)}
	for _, m := range msgs {
		_ = idx.Record(context.Background(), m)
	}
	return idx
}

func (i *memIndex) Record(_ context.Context, msg chat.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	if i.messages[msg.ChannelID] == nil {
		i.messages[msg.ChannelID] = make(map[int64]chat.Message)
	}
	i.messages[msg.ChannelID][msg.ID] = msg
	return nil
}

func (i *memIndex) Before(_ context.Context, chatID, before int64, limit int) ([]chat.Message, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	var out []chat.Message
	for id, m := range i.messages[chatID] {
		if before == 0 || id < before {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (i *memIndex) Delete(_ context.Context, chatID int64, ids ...int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, id := range ids {
		delete(i.messages[chatID], id)
	}
	return nil
}

func (i *memIndex) Count(_ context.Context, chatID int64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.messages[chatID]), nil
}

func (i *memIndex) Forget(_ context.Context, chatID int64) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := int64(len(i.messages[chatID]))
	delete(i.messages, chatID)
	return n, nil
}

func (i *memIndex) has(chatID, id int64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.messages[chatID][id]
	return ok
}
