package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pingme/internal/model"
	"pingme/internal/notify"
	"pingme/internal/storage"
)

type pushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type pushPayload struct {
	Title    string      `json:"title"`
	Body     string      `json:"body"`
	Priority model.Level `json:"priority"`
	EventIDs []string    `json:"eventIds"`
}

type pushRequest struct {
	Endpoint string      `json:"endpoint"`
	Keys     pushKeys    `json:"keys"`
	Payload  pushPayload `json:"payload"`
}

// Push delivers notifications to every registered device of a user through a
// push gateway.
type Push struct {
	gatewayURL string
	registry   storage.PushRegistry
	client     *http.Client
	logger     *zap.Logger
}

func NewPush(gatewayURL string, registry storage.PushRegistry, client *http.Client, logger *zap.Logger) *Push {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Push{gatewayURL: gatewayURL, registry: registry, client: client, logger: logger}
}

func (p *Push) Send(ctx context.Context, to notify.Recipient, msg model.NotificationMessage) (bool, error) {
	return p.deliver(ctx, to, pushPayload{
		Title:    msg.Title,
		Body:     msg.Body,
		Priority: msg.Priority,
		EventIDs: msg.EventIDs,
	})
}

func (p *Push) SendBatch(ctx context.Context, to notify.Recipient, msgs []model.NotificationMessage) (bool, error) {
	counts := notify.Tally(msgs)
	eventIDs := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		eventIDs = append(eventIDs, msg.EventIDs...)
	}
	return p.deliver(ctx, to, pushPayload{
		Title: fmt.Sprintf("📊 %d Blockchain Events", len(msgs)),
		Body: fmt.Sprintf("You have %d new blockchain events: %d urgent, %d medium priority, %d low priority. Tap to view details.",
			len(msgs), counts.High, counts.Medium, counts.Low),
		Priority: notify.HighestPriority(msgs),
		EventIDs: eventIDs,
	})
}

func (p *Push) deliver(ctx context.Context, to notify.Recipient, payload pushPayload) (bool, error) {
	subs, err := p.registry.Subscriptions(ctx, to.UserID)
	if err != nil {
		return false, fmt.Errorf("load push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return false, notify.ErrNoAddress
	}
	if p.gatewayURL == "" {
		return false, fmt.Errorf("push gateway not configured")
	}

	delivered := 0
	var errs error
	for _, sub := range subs {
		if err := p.post(ctx, sub, payload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sub.Endpoint, err))
			continue
		}
		delivered++
	}

	p.logger.Debug("push sent",
		zap.String("user_id", to.UserID),
		zap.Int("devices", len(subs)),
		zap.Int("delivered", delivered),
	)
	if delivered == 0 {
		return false, errs
	}
	return true, nil
}

func (p *Push) post(ctx context.Context, sub model.PushSubscription, payload pushPayload) error {
	body, err := json.Marshal(pushRequest{
		Endpoint: sub.Endpoint,
		Keys:     pushKeys{P256dh: sub.P256dh, Auth: sub.Auth},
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	return nil
}
