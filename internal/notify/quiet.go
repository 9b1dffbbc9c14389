package notify

import (
	"fmt"
	"time"

	"pingme/internal/model"
)

// InQuietHours reports whether now falls inside the quiet window in its time zone.
// Windows may wrap midnight; equal start and end never suppress.
func InQuietHours(q model.QuietHours, now time.Time) (bool, error) {
	if !q.Enabled {
		return false, nil
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false, fmt.Errorf("quiet hours start: %w", err)
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, fmt.Errorf("quiet hours end: %w", err)
	}

	loc := time.UTC
	if q.Timezone != "" {
		loc, err = time.LoadLocation(q.Timezone)
		if err != nil {
			return false, fmt.Errorf("quiet hours timezone: %w", err)
		}
	}
	local := now.In(loc)
	current := local.Hour()*60 + local.Minute()

	switch {
	case start == end:
		return false, nil
	case start < end:
		return current >= start && current <= end, nil
	default:
		return current >= start || current <= end, nil
	}
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
