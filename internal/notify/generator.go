package notify

import (
	"errors"
	"fmt"
	"strings"

	"pingme/internal/enrich"
	"pingme/internal/match"
	"pingme/internal/model"
)

var (
	// ErrNotInterested means the preference does not cover the event.
	ErrNotInterested = errors.New("notify: user not interested in event")
	// ErrBelowThreshold means the analysis urgency is below the user's threshold.
	ErrBelowThreshold = errors.New("notify: urgency below user threshold")
)

// Glyph returns the title prefix for a level.
func Glyph(level model.Level) string {
	switch level {
	case model.LevelHigh:
		return "🚨"
	case model.LevelMedium:
		return "⚠️"
	case model.LevelLow:
		return "ℹ️"
	default:
		return "📢"
	}
}

// Generate builds the full-fidelity message for one user. Channel senders apply
// their own length limits.
func Generate(ev model.DomainEvent, analysis enrich.Analysis, pref model.UserPreference) (model.NotificationMessage, error) {
	if !match.Matches(pref, ev) {
		return model.NotificationMessage{}, ErrNotInterested
	}
	if !analysis.Urgency.AtLeast(pref.UrgencyThreshold) {
		return model.NotificationMessage{}, ErrBelowThreshold
	}

	channels := make([]model.Channel, len(pref.NotificationMethods))
	copy(channels, pref.NotificationMethods)

	return model.NotificationMessage{
		Title:        fmt.Sprintf("%s %s: %s", Glyph(analysis.Urgency), ev.ContractName, ev.EventName),
		Body:         body(ev, analysis, pref.DetailedAnalysis),
		Priority:     analysis.Urgency,
		Channels:     channels,
		EventIDs:     []string{ev.ID},
		ContractName: ev.ContractName,
		EventName:    ev.EventName,
		Counts:       countLevel(analysis.Urgency),
	}, nil
}

func body(ev model.DomainEvent, analysis enrich.Analysis, detailed bool) string {
	var b strings.Builder
	b.WriteString(analysis.UserFriendlyMessage)

	if detailed {
		b.WriteString("\n\n📊 Analysis:\n")
		b.WriteString(analysis.Summary)
		if analysis.Impact != "" {
			b.WriteString("\n\n💡 Impact: ")
			b.WriteString(analysis.Impact)
		}
		if len(analysis.Recommendations) > 0 {
			b.WriteString("\n\n🎯 Recommendations:")
			for _, rec := range analysis.Recommendations {
				b.WriteString("\n• ")
				b.WriteString(rec)
			}
		}
	}

	b.WriteString("\n\n🔗 Details:\n")
	fmt.Fprintf(&b, "• Contract: %s\n", ev.ContractName)
	fmt.Fprintf(&b, "• Block: %d\n", ev.BlockNumber)
	fmt.Fprintf(&b, "• Transaction: %s...", shortHash(ev.TxHash))
	return b.String()
}

func shortHash(hash string) string {
	if len(hash) <= 10 {
		return hash
	}
	return hash[:10]
}

func countLevel(level model.Level) model.LevelCounts {
	var counts model.LevelCounts
	switch level {
	case model.LevelHigh:
		counts.High = 1
	case model.LevelMedium:
		counts.Medium = 1
	default:
		counts.Low = 1
	}
	return counts
}

// Tally counts messages per priority.
func Tally(msgs []model.NotificationMessage) model.LevelCounts {
	var counts model.LevelCounts
	for _, msg := range msgs {
		switch msg.Priority {
		case model.LevelHigh:
			counts.High++
		case model.LevelMedium:
			counts.Medium++
		default:
			counts.Low++
		}
	}
	return counts
}

// HighestPriority returns the highest priority among msgs, low when empty.
func HighestPriority(msgs []model.NotificationMessage) model.Level {
	levels := make([]model.Level, 0, len(msgs))
	for _, msg := range msgs {
		levels = append(levels, msg.Priority)
	}
	return model.MaxLevel(levels...)
}

// Combine merges msgs into one summary grouped by priority tier.
func Combine(msgs []model.NotificationMessage) model.NotificationMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d new blockchain events:\n\n", len(msgs))

	tiers := []struct {
		level model.Level
		label string
	}{
		{model.LevelHigh, "🚨 High Priority"},
		{model.LevelMedium, "⚠️ Medium Priority"},
		{model.LevelLow, "ℹ️ Low Priority"},
	}
	for i, tier := range tiers {
		var items []model.NotificationMessage
		for _, msg := range msgs {
			if tierOf(msg.Priority) == tier.level {
				items = append(items, msg)
			}
		}
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d):\n", tier.label, len(items))
		for _, msg := range items {
			b.WriteString("• ")
			b.WriteString(label(msg))
			b.WriteString("\n")
		}
		if i < len(tiers)-1 {
			b.WriteString("\n")
		}
	}

	eventIDs := make([]string, 0, len(msgs))
	channels := make([]model.Channel, 0)
	seenChannel := make(map[model.Channel]struct{})
	for _, msg := range msgs {
		eventIDs = append(eventIDs, msg.EventIDs...)
		for _, ch := range msg.Channels {
			if _, ok := seenChannel[ch]; ok {
				continue
			}
			seenChannel[ch] = struct{}{}
			channels = append(channels, ch)
		}
	}

	return model.NotificationMessage{
		Title:    "📊 Multiple Blockchain Events",
		Body:     strings.TrimRight(b.String(), "\n"),
		Priority: HighestPriority(msgs),
		Channels: channels,
		EventIDs: eventIDs,
		Counts:   Tally(msgs),
	}
}

func tierOf(level model.Level) model.Level {
	if level.Valid() {
		return level
	}
	return model.LevelLow
}

func label(msg model.NotificationMessage) string {
	if msg.ContractName != "" || msg.EventName != "" {
		return fmt.Sprintf("%s: %s", msg.ContractName, msg.EventName)
	}
	return msg.Title
}
