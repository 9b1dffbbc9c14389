package model

// Channel is a notification delivery method.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// QuietHours is a daily local-time window during which notifications are suppressed.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// UserPreference holds a user's notification settings. Empty Contracts or EventTypes
// means no restriction on that dimension.
type UserPreference struct {
	UserID              string     `json:"user_id"`
	Contracts           []string   `json:"contracts"`
	EventTypes          []string   `json:"event_types"`
	NotificationMethods []Channel  `json:"notification_methods"`
	UrgencyThreshold    Level      `json:"urgency_threshold"`
	QuietHours          QuietHours `json:"quiet_hours"`
	BatchMode           bool       `json:"batch_mode"`
	MaxPerHour          int        `json:"max_per_hour"`
	DetailedAnalysis    bool       `json:"detailed_analysis"`
}

// Contact holds the channel addresses of a user.
type Contact struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

// PushSubscription is one registered push device of a user.
type PushSubscription struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	P256dh   string `json:"p256dh" yaml:"p256dh"`
	Auth     string `json:"auth" yaml:"auth"`
}

// DefaultPreference returns the settings applied to users who never saved any.
func DefaultPreference(userID string) UserPreference {
	return UserPreference{
		UserID:              userID,
		NotificationMethods: []Channel{ChannelEmail},
		UrgencyThreshold:    LevelMedium,
		QuietHours: QuietHours{
			Enabled:  false,
			Start:    "22:00",
			End:      "08:00",
			Timezone: "UTC",
		},
		MaxPerHour:       10,
		DetailedAnalysis: true,
	}
}
