package notify

import (
	"context"
	"errors"

	"pingme/internal/model"
)

// ErrNoAddress is returned by senders when the recipient has no address for the
// channel.
var ErrNoAddress = errors.New("notify: recipient has no address for channel")

// Recipient identifies who a channel delivers to.
type Recipient struct {
	UserID  string
	Contact model.Contact
}

// Sender delivers messages on one channel. delivered reports the channel's own
// verdict; err explains a failed attempt.
type Sender interface {
	Send(ctx context.Context, to Recipient, msg model.NotificationMessage) (delivered bool, err error)
	SendBatch(ctx context.Context, to Recipient, msgs []model.NotificationMessage) (delivered bool, err error)
}
