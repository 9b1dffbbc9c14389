package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"pingme/internal/model"
)

// FlushFunc delivers one user's pending messages.
type FlushFunc func(userID string, msgs []model.NotificationMessage)

// Batcher collects messages per user and flushes them once the user's window
// elapses.
type Batcher struct {
	window time.Duration
	flush  FlushFunc
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string][]model.NotificationMessage
	timers  map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

func NewBatcher(window time.Duration, flush FlushFunc, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Batcher{
		window:  window,
		flush:   flush,
		logger:  logger,
		pending: make(map[string][]model.NotificationMessage),
		timers:  make(map[string]*time.Timer),
	}
}

// Add queues msg for userID. It returns false once the batcher is closed.
func (b *Batcher) Add(userID string, msg model.NotificationMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}

	b.pending[userID] = append(b.pending[userID], msg)
	if _, ok := b.timers[userID]; !ok {
		b.timers[userID] = time.AfterFunc(b.window, func() { b.flushUser(userID) })
	}
	return true
}

// Pending returns the number of queued messages for userID.
func (b *Batcher) Pending(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[userID])
}

func (b *Batcher) flushUser(userID string) {
	b.mu.Lock()
	msgs := b.pending[userID]
	delete(b.pending, userID)
	delete(b.timers, userID)
	if len(msgs) == 0 {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	defer b.wg.Done()
	b.logger.Debug("flushing batch", zap.String("user_id", userID), zap.Int("messages", len(msgs)))
	b.flush(userID, msgs)
}

// Close stops accepting messages and flushes everything pending before returning.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, timer := range b.timers {
		timer.Stop()
	}
	users := make([]string, 0, len(b.pending))
	for userID := range b.pending {
		users = append(users, userID)
	}
	b.mu.Unlock()

	for _, userID := range users {
		b.flushUser(userID)
	}
	b.wg.Wait()
}
