package notify

import (
	"testing"
	"time"

	"pingme/internal/model"
)

func TestInQuietHours(t *testing.T) {
	overnight := model.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"}
	daytime := model.QuietHours{Enabled: true, Start: "09:00", End: "17:00", Timezone: "UTC"}
	same := model.QuietHours{Enabled: true, Start: "10:00", End: "10:00", Timezone: "UTC"}
	disabled := overnight
	disabled.Enabled = false

	at := func(hour, minute int) time.Time {
		return time.Date(2024, 5, 1, hour, minute, 0, 0, time.UTC)
	}

	cases := []struct {
		name  string
		quiet model.QuietHours
		now   time.Time
		want  bool
	}{
		{"overnight late", overnight, at(23, 0), true},
		{"overnight early", overnight, at(3, 30), true},
		{"overnight start inclusive", overnight, at(22, 0), true},
		{"overnight end inclusive", overnight, at(8, 0), true},
		{"overnight noon", overnight, at(12, 0), false},
		{"daytime inside", daytime, at(12, 0), true},
		{"daytime outside", daytime, at(18, 0), false},
		{"equal bounds", same, at(10, 0), false},
		{"disabled", disabled, at(23, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := InQuietHours(tc.quiet, tc.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestInQuietHoursTimezone(t *testing.T) {
	// 13:00 UTC is 22:00 in Tokyo.
	q := model.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "Asia/Tokyo"}
	got, err := InQuietHours(q, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatalf("expected quiet in Tokyo evening")
	}
}

func TestInQuietHoursInvalid(t *testing.T) {
	if _, err := InQuietHours(model.QuietHours{Enabled: true, Start: "25:99", End: "08:00"}, time.Now()); err == nil {
		t.Fatalf("expected error for bad start")
	}
	if _, err := InQuietHours(model.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "Nowhere/City"}, time.Now()); err == nil {
		t.Fatalf("expected error for bad timezone")
	}
}
