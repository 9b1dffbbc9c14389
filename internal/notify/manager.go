package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pingme/internal/metrics"
	"pingme/internal/model"
	"pingme/internal/storage"
)

// Manager delivers messages to a user's channels and records every attempt.
type Manager struct {
	senders    map[model.Channel]Sender
	prefs      storage.PreferenceStore
	deliveries storage.DeliveryStore
	limiter    *RateLimiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRateLimit enforces each user's MaxPerHour.
func WithRateLimit(limiter *RateLimiter) ManagerOption {
	return func(m *Manager) {
		m.limiter = limiter
	}
}

// WithClock overrides the time source used for quiet hours and records.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(senders map[model.Channel]Sender, prefs storage.PreferenceStore, deliveries storage.DeliveryStore, logger *zap.Logger, m *metrics.Metrics, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &Manager{
		senders:    senders,
		prefs:      prefs,
		deliveries: deliveries,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// Send delivers msg on every channel the user selected. It reports true when at
// least one channel delivered. Quiet hours and rate limits return false without
// error.
func (m *Manager) Send(ctx context.Context, userID string, msg model.NotificationMessage) (bool, error) {
	return m.dispatch(ctx, userID, msg, func(ctx context.Context, sender Sender, to Recipient) (bool, error) {
		return sender.Send(ctx, to, msg)
	})
}

// SendBatch delivers msgs as one combined notification per channel.
func (m *Manager) SendBatch(ctx context.Context, userID string, msgs []model.NotificationMessage) (bool, error) {
	if len(msgs) == 0 {
		return false, nil
	}
	combined := Combine(msgs)
	return m.dispatch(ctx, userID, combined, func(ctx context.Context, sender Sender, to Recipient) (bool, error) {
		return sender.SendBatch(ctx, to, msgs)
	})
}

type sendFunc func(ctx context.Context, sender Sender, to Recipient) (bool, error)

func (m *Manager) dispatch(ctx context.Context, userID string, msg model.NotificationMessage, send sendFunc) (bool, error) {
	pref, err := m.prefs.GetPreference(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load preference %s: %w", userID, err)
	}

	now := m.now()
	quiet, err := InQuietHours(pref.QuietHours, now)
	if err != nil {
		m.logger.Warn("invalid quiet hours, not suppressing", zap.String("user_id", userID), zap.Error(err))
	}
	if quiet {
		m.metrics.Suppressed("quiet_hours")
		m.logger.Info("user in quiet hours, skipping notification", zap.String("user_id", userID), zap.String("title", msg.Title))
		return false, nil
	}
	if m.limiter != nil && !m.limiter.Allow(userID, pref.MaxPerHour, now) {
		m.metrics.Suppressed("rate_limited")
		m.logger.Info("hourly notification budget exhausted", zap.String("user_id", userID), zap.Int("max_per_hour", pref.MaxPerHour))
		return false, nil
	}

	recipient := Recipient{UserID: userID, Contact: model.Contact{UserID: userID}}
	contact, err := m.prefs.Contact(ctx, userID)
	switch {
	case err == nil:
		recipient.Contact = contact
	case errors.Is(err, storage.ErrNotFound):
	default:
		m.logger.Warn("contact lookup failed", zap.String("user_id", userID), zap.Error(err))
	}

	channels := uniqueChannels(pref.NotificationMethods)
	records := make([]model.DeliveryRecord, len(channels))
	errs := make([]error, len(channels))

	var wg sync.WaitGroup
	for i, channel := range channels {
		wg.Add(1)
		go func(i int, channel model.Channel) {
			defer wg.Done()
			delivered, err := m.attempt(ctx, channel, recipient, send)
			record := model.DeliveryRecord{
				ID:        uuid.NewString(),
				UserID:    userID,
				EventIDs:  msg.EventIDs,
				Channel:   channel,
				Title:     msg.Title,
				Body:      msg.Body,
				Priority:  msg.Priority,
				SentAt:    m.now().UTC(),
				Delivered: delivered,
			}
			if err != nil {
				record.Error = err.Error()
				errs[i] = fmt.Errorf("%s: %w", channel, err)
			}
			records[i] = record
			m.metrics.Delivery(string(channel), delivered)
		}(i, channel)
	}
	wg.Wait()

	if m.deliveries != nil && len(records) > 0 {
		if err := m.deliveries.AppendDeliveries(ctx, records); err != nil {
			m.logger.Error("record deliveries failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	deliveredCount := 0
	for _, record := range records {
		if record.Delivered {
			deliveredCount++
		}
	}

	fields := []zap.Field{
		zap.String("user_id", userID),
		zap.String("title", msg.Title),
		zap.Int("delivered", deliveredCount),
		zap.Int("channels", len(channels)),
	}
	if combined := multierr.Combine(errs...); combined != nil {
		fields = append(fields, zap.Error(combined))
	}
	if deliveredCount == 0 {
		m.logger.Info("notification not delivered", fields...)
		return false, nil
	}
	m.logger.Info("notification sent", fields...)
	return true, nil
}

func (m *Manager) attempt(ctx context.Context, channel model.Channel, to Recipient, send sendFunc) (bool, error) {
	sender, ok := m.senders[channel]
	if !ok || sender == nil {
		return false, fmt.Errorf("unknown channel %q", channel)
	}
	delivered, err := send(ctx, sender, to)
	if err != nil {
		return false, err
	}
	if !delivered {
		return false, fmt.Errorf("not delivered")
	}
	return true, nil
}

func uniqueChannels(channels []model.Channel) []model.Channel {
	seen := make(map[model.Channel]struct{}, len(channels))
	out := make([]model.Channel, 0, len(channels))
	for _, channel := range channels {
		if _, ok := seen[channel]; ok {
			continue
		}
		seen[channel] = struct{}{}
		out = append(out, channel)
	}
	return out
}
