package model

import (
	"fmt"
	"strings"
)

// Level is the ordinal severity shared by importance, urgency, priority and thresholds.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Rank returns the ordinal position of the level, 0 for unknown values.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of low, medium or high.
func (l Level) Valid() bool {
	return l.Rank() > 0
}

// AtLeast reports whether l is greater than or equal to threshold.
func (l Level) AtLeast(threshold Level) bool {
	return l.Rank() >= threshold.Rank()
}

// ParseLevel normalizes a level name.
func ParseLevel(input string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(input)))
	if !level.Valid() {
		return "", fmt.Errorf("invalid level: %q", input)
	}
	return level, nil
}

// MaxLevel returns the highest of the given levels, low when empty.
func MaxLevel(levels ...Level) Level {
	out := LevelLow
	for _, level := range levels {
		if level.Rank() > out.Rank() {
			out = level
		}
	}
	return out
}
