package storage

import (
	"context"
	"testing"

	"pingme/internal/model"
)

func TestMemoryPushRegistry(t *testing.T) {
	reg := NewMemoryPushRegistry()
	ctx := context.Background()

	if err := reg.AddSubscription(ctx, "u1", model.PushSubscription{Endpoint: "https://push/a", Auth: "x"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := reg.AddSubscription(ctx, "u1", model.PushSubscription{Endpoint: "https://push/b"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := reg.AddSubscription(ctx, "u1", model.PushSubscription{Endpoint: "https://push/a", Auth: "y"}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	subs, _ := reg.Subscriptions(ctx, "u1")
	if len(subs) != 2 || subs[0].Auth != "y" {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}

	if err := reg.RemoveSubscription(ctx, "u1", "https://push/a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := reg.RemoveSubscription(ctx, "u1", "https://push/missing"); err != nil {
		t.Fatalf("remove unknown: %v", err)
	}
	subs, _ = reg.Subscriptions(ctx, "u1")
	if len(subs) != 1 || subs[0].Endpoint != "https://push/b" {
		t.Fatalf("unexpected subscriptions after remove %+v", subs)
	}

	if subs, _ := reg.Subscriptions(ctx, "nobody"); len(subs) != 0 {
		t.Fatalf("expected no subscriptions, got %+v", subs)
	}
}
