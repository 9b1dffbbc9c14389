package storage

import (
	"context"
	"sync"

	"pingme/internal/model"
)

// MemoryPushRegistry keeps push devices in process.
type MemoryPushRegistry struct {
	mu   sync.RWMutex
	subs map[string][]model.PushSubscription
}

func NewMemoryPushRegistry() *MemoryPushRegistry {
	return &MemoryPushRegistry{subs: make(map[string][]model.PushSubscription)}
}

func (r *MemoryPushRegistry) AddSubscription(_ context.Context, userID string, sub model.PushSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[userID]
	for i, existing := range list {
		if existing.Endpoint == sub.Endpoint {
			list[i] = sub
			return nil
		}
	}
	r.subs[userID] = append(list, sub)
	return nil
}

func (r *MemoryPushRegistry) RemoveSubscription(_ context.Context, userID, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[userID]
	kept := list[:0]
	for _, existing := range list {
		if existing.Endpoint != endpoint {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(r.subs, userID)
		return nil
	}
	r.subs[userID] = kept
	return nil
}

func (r *MemoryPushRegistry) Subscriptions(_ context.Context, userID string) ([]model.PushSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PushSubscription, len(r.subs[userID]))
	copy(out, r.subs[userID])
	return out, nil
}
