package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"pingme/internal/model"
	"pingme/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PINGME_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PINGME_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestStoreEventLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ev := model.DomainEvent{
		ID:              "0x" + uuid.NewString(),
		ContractAddress: "0xAbCd000000000000000000000000000000000001",
		ContractName:    "Token",
		EventName:       "Transfer",
		BlockNumber:     10,
		TxHash:          "0x01",
		Timestamp:       time.Now().UTC(),
		Raw:             model.RawLog{TxHash: "0x01"},
		Importance:      model.LevelHigh,
	}

	inserted, err := store.SaveEvent(ctx, ev)
	if err != nil || !inserted {
		t.Fatalf("first save: inserted=%v err=%v", inserted, err)
	}
	inserted, err = store.SaveEvent(ctx, ev)
	if err != nil || inserted {
		t.Fatalf("duplicate save: inserted=%v err=%v", inserted, err)
	}
	if err := store.MarkProcessed(ctx, ev.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := store.MarkProcessed(ctx, ev.ID); err != nil {
		t.Fatalf("second mark processed: %v", err)
	}
	if err := store.MarkProcessed(ctx, "0xmissing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorePreferencesAndInterest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "user-" + uuid.NewString()
	contract := "0xAbCd00000000000000000000000000000000" + userID[len(userID)-4:]

	pref := model.DefaultPreference(userID)
	pref.Contracts = []string{contract}
	pref.EventTypes = []string{"Transfer"}
	pref.NotificationMethods = []model.Channel{model.ChannelEmail, model.ChannelPush}
	if err := store.PutPreference(ctx, pref); err != nil {
		t.Fatalf("put preference: %v", err)
	}
	if err := store.PutContact(ctx, model.Contact{UserID: userID, Email: "u@example.com"}); err != nil {
		t.Fatalf("put contact: %v", err)
	}

	got, err := store.GetPreference(ctx, userID)
	if err != nil {
		t.Fatalf("get preference: %v", err)
	}
	if len(got.NotificationMethods) != 2 || got.QuietHours.Start != "22:00" {
		t.Fatalf("unexpected preference: %+v", got)
	}

	users, err := store.Interested(ctx, contract, "Transfer")
	if err != nil {
		t.Fatalf("interested: %v", err)
	}
	found := false
	for _, u := range users {
		if u == userID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in %v", userID, users)
	}

	contact, err := store.Contact(ctx, userID)
	if err != nil || contact.Email != "u@example.com" {
		t.Fatalf("unexpected contact: %+v %v", contact, err)
	}

	records := []model.DeliveryRecord{{
		ID: uuid.NewString(), UserID: userID, Channel: model.ChannelEmail,
		Title: "t", Body: "b", Priority: model.LevelHigh, SentAt: time.Now().UTC(), Delivered: true,
	}}
	if err := store.AppendDeliveries(ctx, records); err != nil {
		t.Fatalf("append deliveries: %v", err)
	}
}
