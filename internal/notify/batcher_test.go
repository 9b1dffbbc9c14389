package notify

import (
	"sync"
	"testing"
	"time"

	"pingme/internal/model"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushes map[string][][]model.NotificationMessage
	ch      chan string
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{flushes: make(map[string][][]model.NotificationMessage), ch: make(chan string, 8)}
}

func (r *flushRecorder) flush(userID string, msgs []model.NotificationMessage) {
	r.mu.Lock()
	r.flushes[userID] = append(r.flushes[userID], msgs)
	r.mu.Unlock()
	r.ch <- userID
}

func (r *flushRecorder) get(userID string) [][]model.NotificationMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes[userID]
}

func TestBatcherFlushesAfterWindow(t *testing.T) {
	rec := newFlushRecorder()
	b := NewBatcher(20*time.Millisecond, rec.flush, nil)
	defer b.Close()

	b.Add("u1", model.NotificationMessage{Title: "a"})
	b.Add("u1", model.NotificationMessage{Title: "b"})
	b.Add("u2", model.NotificationMessage{Title: "c"})

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case user := <-rec.ch:
			seen[user] = true
		case <-deadline:
			t.Fatalf("timed out waiting for flush, seen %v", seen)
		}
	}

	if got := rec.get("u1"); len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("expected one flush of 2 for u1, got %v", got)
	}
	if got := rec.get("u2"); len(got) != 1 || len(got[0]) != 1 {
		t.Fatalf("expected one flush of 1 for u2, got %v", got)
	}
	if b.Pending("u1") != 0 {
		t.Fatalf("expected nothing pending")
	}
}

func TestBatcherCloseFlushesPending(t *testing.T) {
	rec := newFlushRecorder()
	b := NewBatcher(time.Hour, rec.flush, nil)

	b.Add("u1", model.NotificationMessage{Title: "a"})
	if b.Pending("u1") != 1 {
		t.Fatalf("expected one pending")
	}
	b.Close()

	if got := rec.get("u1"); len(got) != 1 || len(got[0]) != 1 {
		t.Fatalf("expected flush on close, got %v", got)
	}
	if b.Add("u1", model.NotificationMessage{Title: "b"}) {
		t.Fatalf("add after close must be rejected")
	}
}

func TestRateLimiterBudget(t *testing.T) {
	limiter := NewRateLimiter()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("u1", 3, now) {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if limiter.Allow("u1", 3, now) {
		t.Fatalf("fourth call should be limited")
	}
	if !limiter.Allow("u2", 3, now) {
		t.Fatalf("other users have their own budget")
	}
	if !limiter.Allow("u1", 3, now.Add(21*time.Minute)) {
		t.Fatalf("budget should refill over time")
	}
	if !limiter.Allow("u3", 0, now) {
		t.Fatalf("zero budget means unlimited")
	}
}

func TestRateLimiterFirstHourBound(t *testing.T) {
	limiter := NewRateLimiter()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	drain := func(at time.Time) int {
		n := 0
		for limiter.Allow("u1", 2, at) {
			n++
		}
		return n
	}

	if got := drain(now); got != 2 {
		t.Fatalf("expected burst of 2, got %d", got)
	}
	// One token per 30 minutes: 59 minutes later only one has fully refilled.
	if got := drain(now.Add(59 * time.Minute)); got != 1 {
		t.Fatalf("expected 1 refilled token, got %d", got)
	}
}
