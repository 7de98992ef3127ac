// Package cancellation tracks in-flight per-channel cleanup tasks and lets
// other parts of the process ask them to stop.
//
// Cancellation is cooperative: a task polls its Signal at checkpoints and may
// finish a network call that is already in flight before it notices.
package cancellation

import (
	"fmt"
	"sort"
	"sync"
)

// Signal is handed to a running task and flipped by Registry.Cancel.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func newSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Cancelled reports whether cancellation was requested. A nil Signal is
// never cancelled.
func (s *Signal) Cancelled() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when cancellation is requested.
func (s *Signal) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

func (s *Signal) cancel() {
	s.once.Do(func() { close(s.done) })
}

// Registry maps a channel id to the signal of the task running for it.
// A channel is present if and only if a task is executing for it.
type Registry struct {
	mu      sync.Mutex
	running map[int64]*Signal
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[int64]*Signal)}
}

// IsRunning reports whether a task is registered for the channel.
func (r *Registry) IsRunning(channelID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[channelID]
	return ok
}

// Register adds the channel and returns its signal. It panics when the channel
// is already registered; callers that race with other registrations must use
// TryRegister.
func (r *Registry) Register(channelID int64) *Signal {
	sig, ok := r.TryRegister(channelID)
	if !ok {
		panic(fmt.Sprintf("cancellation: channel %d already registered", channelID))
	}
	return sig
}

// TryRegister registers the channel unless a task is already registered for
// it. The check and the insert happen in one critical section.
func (r *Registry) TryRegister(channelID int64) (*Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.running[channelID]; ok {
		return nil, false
	}
	sig := newSignal()
	r.running[channelID] = sig
	return sig, true
}

// Deregister removes the channel. Removing an absent channel is a no-op.
func (r *Registry) Deregister(channelID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, channelID)
}

// Cancel requests cancellation of the task running for the channel and
// reports whether such a task was found. The entry stays registered until the
// task itself deregisters.
func (r *Registry) Cancel(channelID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sig, ok := r.running[channelID]
	if !ok {
		return false
	}
	sig.cancel()
	return true
}

// Running returns the registered channel ids in ascending order.
func (r *Registry) Running() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
