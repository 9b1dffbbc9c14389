package storage

import (
	"context"
	"errors"

	"pingme/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// EventStore persists decoded events.
type EventStore interface {
	// SaveEvent stores ev unless an event with the same id exists. inserted is false
	// for duplicates.
	SaveEvent(ctx context.Context, ev model.DomainEvent) (inserted bool, err error)
	// MarkProcessed flips processed to true. Calls after the first are no-ops.
	MarkProcessed(ctx context.Context, eventID string) error
}

// PreferenceStore gives read access to user preferences and contacts.
type PreferenceStore interface {
	// GetPreference returns ErrNotFound for users without saved preferences.
	GetPreference(ctx context.Context, userID string) (model.UserPreference, error)
	// Interested lists users whose preferences may match the contract and event.
	Interested(ctx context.Context, contractAddress, eventName string) ([]string, error)
	Contact(ctx context.Context, userID string) (model.Contact, error)
}

// DeliveryStore appends delivery history.
type DeliveryStore interface {
	AppendDeliveries(ctx context.Context, records []model.DeliveryRecord) error
}

// MultiDeliveryStore fans delivery records out to several stores, stopping at the
// first error.
type MultiDeliveryStore []DeliveryStore

func (m MultiDeliveryStore) AppendDeliveries(ctx context.Context, records []model.DeliveryRecord) error {
	for _, store := range m {
		if store == nil {
			continue
		}
		if err := store.AppendDeliveries(ctx, records); err != nil {
			return err
		}
	}
	return nil
}

// PushRegistry owns the push devices registered per user.
type PushRegistry interface {
	// AddSubscription registers sub, replacing any device with the same endpoint.
	AddSubscription(ctx context.Context, userID string, sub model.PushSubscription) error
	// RemoveSubscription drops the device with endpoint. Unknown endpoints are no-ops.
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
	Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
}
