package storage

import (
	"context"
	"sort"
	"sync"

	"pingme/internal/model"
)

// Memory is an in-process implementation of every store interface.
type Memory struct {
	mu          sync.RWMutex
	events      map[string]model.DomainEvent
	preferences map[string]model.UserPreference
	contacts    map[string]model.Contact
	deliveries  []model.DeliveryRecord
}

func NewMemory() *Memory {
	return &Memory{
		events:      make(map[string]model.DomainEvent),
		preferences: make(map[string]model.UserPreference),
		contacts:    make(map[string]model.Contact),
	}
}

func (m *Memory) SaveEvent(_ context.Context, ev model.DomainEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; ok {
		return false, nil
	}
	ev.Processed = false
	m.events[ev.ID] = ev
	return true, nil
}

func (m *Memory) MarkProcessed(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return ErrNotFound
	}
	ev.Processed = true
	m.events[eventID] = ev
	return nil
}

// Event returns a stored event.
func (m *Memory) Event(eventID string) (model.DomainEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[eventID]
	return ev, ok
}

// EventCount returns the number of stored events.
func (m *Memory) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// PutPreference stores or replaces a preference.
func (m *Memory) PutPreference(pref model.UserPreference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[pref.UserID] = pref
}

// PutContact stores or replaces a contact.
func (m *Memory) PutContact(contact model.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[contact.UserID] = contact
}

func (m *Memory) GetPreference(_ context.Context, userID string) (model.UserPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pref, ok := m.preferences[userID]
	if !ok {
		return model.UserPreference{}, ErrNotFound
	}
	return pref, nil
}

func (m *Memory) Interested(_ context.Context, contractAddress, eventName string) ([]string, error) {
	contract := model.AddressKey(contractAddress)

	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0)
	for userID, pref := range m.preferences {
		if !containsFold(pref.Contracts, contract, true) {
			continue
		}
		if !containsFold(pref.EventTypes, eventName, false) {
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

func (m *Memory) Contact(_ context.Context, userID string) (model.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	contact, ok := m.contacts[userID]
	if !ok {
		return model.Contact{}, ErrNotFound
	}
	return contact, nil
}

func (m *Memory) AppendDeliveries(_ context.Context, records []model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, records...)
	return nil
}

// Deliveries returns a copy of all recorded deliveries.
func (m *Memory) Deliveries() []model.DeliveryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DeliveryRecord, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// containsFold reports whether values is empty or holds target. Addresses compare
// case-insensitively, event names exactly.
func containsFold(values []string, target string, address bool) bool {
	if len(values) == 0 {
		return true
	}
	for _, value := range values {
		if address {
			if model.AddressKey(value) == target {
				return true
			}
			continue
		}
		if value == target {
			return true
		}
	}
	return false
}
