package match

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pingme/internal/model"
	"pingme/internal/storage"
)

// Matches reports whether pref covers the event. Empty contract or event lists do
// not restrict; contract addresses compare case-insensitively.
func Matches(pref model.UserPreference, ev model.DomainEvent) bool {
	return matchesContract(pref.Contracts, ev.ContractAddress) && matchesEvent(pref.EventTypes, ev.EventName)
}

func matchesContract(contracts []string, address string) bool {
	if len(contracts) == 0 {
		return true
	}
	key := model.AddressKey(address)
	for _, contract := range contracts {
		if model.AddressKey(contract) == key {
			return true
		}
	}
	return false
}

func matchesEvent(eventTypes []string, name string) bool {
	if len(eventTypes) == 0 {
		return true
	}
	for _, eventType := range eventTypes {
		if eventType == name {
			return true
		}
	}
	return false
}

// Candidates returns the distinct users interested in ev. Store results are
// re-checked against each user's preference; users whose preference cannot be
// loaded are skipped. Only a failed lookup of interested users is an error.
func Candidates(ctx context.Context, store storage.PreferenceStore, ev model.DomainEvent, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userIDs, err := store.Interested(ctx, ev.ContractAddress, ev.EventName)
	if err != nil {
		return nil, fmt.Errorf("interested users: %w", err)
	}

	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}

		pref, err := store.GetPreference(ctx, userID)
		if err != nil {
			logger.Warn("load preference failed, skipping user",
				zap.String("user_id", userID),
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
			continue
		}
		if !Matches(pref, ev) {
			continue
		}
		out = append(out, userID)
	}
	return out, nil
}
