package pipeline

import (
	"fmt"
	"strings"
)

// HandlerKind selects what happens to a persisted event.
type HandlerKind string

const (
	// HandlerNotify matches, enriches and notifies interested users.
	HandlerNotify HandlerKind = "notify"
	// HandlerRecord persists the event and marks it processed without notifying.
	HandlerRecord HandlerKind = "record"
)

// Handlers maps lowercase event names to their handler kind.
type Handlers map[string]HandlerKind

// ParseHandlers builds Handlers from raw config values.
func ParseHandlers(raw map[string]string) (Handlers, error) {
	handlers := make(Handlers, len(raw))
	for name, value := range raw {
		kind := HandlerKind(strings.ToLower(strings.TrimSpace(value)))
		switch kind {
		case HandlerNotify, HandlerRecord:
		default:
			return nil, fmt.Errorf("handler for %q: unknown kind %q", name, value)
		}
		handlers[strings.ToLower(strings.TrimSpace(name))] = kind
	}
	return handlers, nil
}

// Kind returns the handler for eventName, HandlerNotify when none is configured.
func (h Handlers) Kind(eventName string) HandlerKind {
	if kind, ok := h[strings.ToLower(eventName)]; ok {
		return kind
	}
	return HandlerNotify
}
