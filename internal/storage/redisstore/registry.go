// Package redisstore stores push device registrations in Redis, one hash per user
// keyed by endpoint.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"pingme/internal/model"
)

const keyPushSubs = "push:subs:"

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Registry implements storage.PushRegistry on Redis.
type Registry struct {
	client    *redis.Client
	keyPrefix string
}

func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRegistryWithClient(client, cfg.KeyPrefix), nil
}

func NewRegistryWithClient(client *redis.Client, keyPrefix string) *Registry {
	return &Registry{client: client, keyPrefix: keyPrefix}
}

func (r *Registry) Close() error {
	return r.client.Close()
}

func (r *Registry) key(userID string) string {
	return r.keyPrefix + keyPushSubs + userID
}

func (r *Registry) AddSubscription(ctx context.Context, userID string, sub model.PushSubscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal push subscription: %w", err)
	}
	if err := r.client.HSet(ctx, r.key(userID), sub.Endpoint, data).Err(); err != nil {
		return fmt.Errorf("add push subscription: %w", err)
	}
	return nil
}

func (r *Registry) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	if err := r.client.HDel(ctx, r.key(userID), endpoint).Err(); err != nil {
		return fmt.Errorf("remove push subscription: %w", err)
	}
	return nil
}

// Subscriptions returns the user's devices ordered by endpoint.
func (r *Registry) Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	entries, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}

	subs := make([]model.PushSubscription, 0, len(entries))
	for endpoint, data := range entries {
		var sub model.PushSubscription
		if err := json.Unmarshal([]byte(data), &sub); err != nil {
			return nil, fmt.Errorf("decode push subscription %s: %w", endpoint, err)
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Endpoint < subs[j].Endpoint })
	return subs, nil
}
