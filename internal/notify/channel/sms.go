package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"pingme/internal/model"
	"pingme/internal/notify"
)

const smsBodyLimit = 140

// SMSConfig holds the HTTP gateway settings.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	APISecret  string
	From       string
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// SMS delivers notifications through a JSON HTTP gateway.
type SMS struct {
	cfg    SMSConfig
	client *http.Client
	logger *zap.Logger
}

func NewSMS(cfg SMSConfig, client *http.Client, logger *zap.Logger) *SMS {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMS{cfg: cfg, client: client, logger: logger}
}

func (s *SMS) Send(ctx context.Context, to notify.Recipient, msg model.NotificationMessage) (bool, error) {
	return s.deliver(ctx, to, SMSText(msg))
}

func (s *SMS) SendBatch(ctx context.Context, to notify.Recipient, msgs []model.NotificationMessage) (bool, error) {
	counts := notify.Tally(msgs)
	text := fmt.Sprintf("%d blockchain events: %d urgent %d medium %d low priority. Check your email for details.",
		len(msgs), counts.High, counts.Medium, counts.Low)
	return s.deliver(ctx, to, text)
}

// SMSText renders a single message with the body truncated to the SMS limit.
func SMSText(msg model.NotificationMessage) string {
	return msg.Title + "\n\n" + truncate(msg.Body, smsBodyLimit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

func (s *SMS) deliver(ctx context.Context, to notify.Recipient, text string) (bool, error) {
	if to.Contact.Phone == "" {
		return false, notify.ErrNoAddress
	}
	if s.cfg.GatewayURL == "" {
		return false, fmt.Errorf("sms gateway not configured")
	}

	payload, err := json.Marshal(smsRequest{From: s.cfg.From, To: to.Contact.Phone, Text: text})
	if err != nil {
		return false, fmt.Errorf("marshal sms: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.SetBasicAuth(s.cfg.APIKey, s.cfg.APISecret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	s.logger.Debug("sms sent", zap.String("user_id", to.UserID))
	return true, nil
}
