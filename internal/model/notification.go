package model

import "time"

// LevelCounts counts messages per priority tier.
type LevelCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Total returns the sum of all tiers.
func (c LevelCounts) Total() int {
	return c.High + c.Medium + c.Low
}

// NotificationMessage is a channel-agnostic notification for one user.
type NotificationMessage struct {
	Title        string      `json:"title"`
	Body         string      `json:"body"`
	Priority     Level       `json:"priority"`
	Channels     []Channel   `json:"channels"`
	EventIDs     []string    `json:"event_ids"`
	ContractName string      `json:"contract_name,omitempty"`
	EventName    string      `json:"event_name,omitempty"`
	Counts       LevelCounts `json:"counts"`
}

// DeliveryRecord is the audit entry for one channel attempt.
type DeliveryRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventIDs  []string  `json:"event_ids"`
	Channel   Channel   `json:"channel"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  Level     `json:"priority"`
	SentAt    time.Time `json:"sent_at"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
}
