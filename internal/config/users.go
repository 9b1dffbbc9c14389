package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pingme/internal/model"
)

// UserSeed is one user declared in the users file for the in-memory stores.
type UserSeed struct {
	Preference    model.UserPreference
	Contact       model.Contact
	Subscriptions []model.PushSubscription
}

type usersFile struct {
	Users []userEntry `yaml:"users"`
}

type userEntry struct {
	UserID            string                   `yaml:"user_id"`
	Email             string                   `yaml:"email"`
	Phone             string                   `yaml:"phone"`
	Contracts         []string                 `yaml:"contracts"`
	EventTypes        []string                 `yaml:"event_types"`
	Methods           []string                 `yaml:"notification_methods"`
	UrgencyThreshold  string                   `yaml:"urgency_threshold"`
	QuietHours        *model.QuietHours        `yaml:"quiet_hours"`
	BatchMode         bool                     `yaml:"batch_mode"`
	MaxPerHour        *int                     `yaml:"max_per_hour"`
	DetailedAnalysis  *bool                    `yaml:"detailed_analysis"`
	PushSubscriptions []model.PushSubscription `yaml:"push_subscriptions"`
}

// LoadUsers reads the users file.
func LoadUsers(path string) ([]UserSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	return ParseUsers(data)
}

// ParseUsers decodes users YAML, filling unset fields with the default preference.
func ParseUsers(data []byte) ([]UserSeed, error) {
	var file usersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse users: %w", err)
	}

	seeds := make([]UserSeed, 0, len(file.Users))
	for i, entry := range file.Users {
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			return nil, fmt.Errorf("user %d: user_id is required", i)
		}

		pref := model.DefaultPreference(userID)
		pref.Contracts = cleanStrings(entry.Contracts)
		pref.EventTypes = cleanStrings(entry.EventTypes)
		pref.BatchMode = entry.BatchMode
		if len(entry.Methods) > 0 {
			pref.NotificationMethods = pref.NotificationMethods[:0]
			for _, method := range cleanStrings(entry.Methods) {
				pref.NotificationMethods = append(pref.NotificationMethods, model.Channel(strings.ToLower(method)))
			}
		}
		if entry.UrgencyThreshold != "" {
			level, err := model.ParseLevel(entry.UrgencyThreshold)
			if err != nil {
				return nil, fmt.Errorf("user %s: %w", userID, err)
			}
			pref.UrgencyThreshold = level
		}
		if entry.QuietHours != nil {
			pref.QuietHours = *entry.QuietHours
			if pref.QuietHours.Timezone == "" {
				pref.QuietHours.Timezone = "UTC"
			}
		}
		if entry.MaxPerHour != nil {
			pref.MaxPerHour = *entry.MaxPerHour
		}
		if entry.DetailedAnalysis != nil {
			pref.DetailedAnalysis = *entry.DetailedAnalysis
		}

		seeds = append(seeds, UserSeed{
			Preference:    pref,
			Contact:       model.Contact{UserID: userID, Email: entry.Email, Phone: entry.Phone},
			Subscriptions: entry.PushSubscriptions,
		})
	}
	return seeds, nil
}
