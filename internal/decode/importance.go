package decode

import (
	"fmt"
	"strings"

	"pingme/internal/model"
)

var defaultImportance = map[string]model.Level{
	"transfer":         model.LevelHigh,
	"approval":         model.LevelHigh,
	"swap":             model.LevelHigh,
	"liquidityadded":   model.LevelHigh,
	"liquidityremoved": model.LevelHigh,
	"sale":             model.LevelHigh,
	"bidplaced":        model.LevelHigh,
	"proposalcreated":  model.LevelHigh,
	"votecast":         model.LevelHigh,
	"deposit":          model.LevelMedium,
	"withdrawal":       model.LevelMedium,
	"stake":            model.LevelMedium,
	"unstake":          model.LevelMedium,
	"claim":            model.LevelMedium,
}

// Importance maps event names to levels. Names compare case-insensitively.
type Importance struct {
	overrides map[string]model.Level
}

// NewImportance layers overrides (event name to level name) over the built-in table.
func NewImportance(overrides map[string]string) (Importance, error) {
	parsed := make(map[string]model.Level, len(overrides))
	for name, value := range overrides {
		level, err := model.ParseLevel(value)
		if err != nil {
			return Importance{}, fmt.Errorf("importance for %s: %w", name, err)
		}
		parsed[strings.ToLower(strings.TrimSpace(name))] = level
	}
	return Importance{overrides: parsed}, nil
}

// Of returns the level for eventName, low when unlisted.
func (i Importance) Of(eventName string) model.Level {
	key := strings.ToLower(eventName)
	if level, ok := i.overrides[key]; ok {
		return level
	}
	if level, ok := defaultImportance[key]; ok {
		return level
	}
	return model.LevelLow
}
