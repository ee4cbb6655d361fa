package events

import (
	"context"
	"sync"
)

// AttemptTracker counts failed processing attempts per message id.
type AttemptTracker interface {
	// Increment records a failed attempt and returns the total so far.
	Increment(ctx context.Context, messageID string) (int, error)
	// Reset forgets a message once it has been settled.
	Reset(ctx context.Context, messageID string) error
}

// MemoryAttemptTracker keeps counts in process memory, so they are lost on
// restart.
type MemoryAttemptTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryAttemptTracker() *MemoryAttemptTracker {
	return &MemoryAttemptTracker{counts: map[string]int{}}
}

func (t *MemoryAttemptTracker) Increment(_ context.Context, messageID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[messageID]++
	return t.counts[messageID], nil
}

func (t *MemoryAttemptTracker) Reset(_ context.Context, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, messageID)
	return nil
}
