package channel

import (
	"context"

	"go.uber.org/zap"

	"pingme/internal/model"
	"pingme/internal/notify"
)

// Log is a development sender that writes notifications to the logger and always
// reports delivery.
type Log struct {
	channel model.Channel
	logger  *zap.Logger
}

func NewLog(channel model.Channel, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{channel: channel, logger: logger}
}

func (l *Log) Send(_ context.Context, to notify.Recipient, msg model.NotificationMessage) (bool, error) {
	l.logger.Info("notification",
		zap.String("channel", string(l.channel)),
		zap.String("user_id", to.UserID),
		zap.String("title", msg.Title),
		zap.String("priority", string(msg.Priority)),
		zap.Strings("event_ids", msg.EventIDs),
		zap.String("body", msg.Body),
	)
	return true, nil
}

func (l *Log) SendBatch(_ context.Context, to notify.Recipient, msgs []model.NotificationMessage) (bool, error) {
	counts := notify.Tally(msgs)
	l.logger.Info("notification batch",
		zap.String("channel", string(l.channel)),
		zap.String("user_id", to.UserID),
		zap.Int("events", len(msgs)),
		zap.Int("high", counts.High),
		zap.Int("medium", counts.Medium),
		zap.Int("low", counts.Low),
	)
	return true, nil
}
