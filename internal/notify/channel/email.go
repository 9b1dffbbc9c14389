package channel

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pingme/internal/model"
	"pingme/internal/notify"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email delivers notifications over SMTP.
type Email struct {
	cfg      EmailConfig
	sendMail sendMailFunc
	logger   *zap.Logger
	now      func() time.Time
}

func NewEmail(cfg EmailConfig, logger *zap.Logger) *Email {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, sendMail: smtp.SendMail, logger: logger, now: time.Now}
}

func (e *Email) Send(ctx context.Context, to notify.Recipient, msg model.NotificationMessage) (bool, error) {
	return e.deliver(ctx, to, msg.Title, msg.Body, msg.Priority)
}

func (e *Email) SendBatch(ctx context.Context, to notify.Recipient, msgs []model.NotificationMessage) (bool, error) {
	subject := fmt.Sprintf("📊 %d Blockchain Events Summary", len(msgs))
	return e.deliver(ctx, to, subject, batchEmailBody(msgs), notify.HighestPriority(msgs))
}

func (e *Email) deliver(ctx context.Context, to notify.Recipient, subject, body string, priority model.Level) (bool, error) {
	if to.Contact.Email == "" {
		return false, notify.ErrNoAddress
	}
	if e.cfg.Host == "" {
		return false, fmt.Errorf("smtp host not configured")
	}

	raw := e.compose(to.Contact.Email, subject, body, priority)
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, e.cfg.From, []string{to.Contact.Email}, raw)
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-done:
		if err != nil {
			return false, fmt.Errorf("smtp send: %w", err)
		}
	}
	e.logger.Debug("email sent", zap.String("user_id", to.UserID), zap.String("subject", subject))
	return true, nil
}

func (e *Email) compose(to, subject, body string, priority model.Level) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().UTC().Format(time.RFC1123Z))
	if priority == model.LevelHigh {
		b.WriteString("X-Priority: 1\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n\r\n--\r\nThis alert was sent by pingme. Manage your notification preferences in your account settings.\r\n")
	return []byte(b.String())
}

func batchEmailBody(msgs []model.NotificationMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d new blockchain events:\n", len(msgs))
	tiers := []struct {
		level model.Level
		label string
	}{
		{model.LevelHigh, "🚨 High Priority"},
		{model.LevelMedium, "⚠️ Medium Priority"},
		{model.LevelLow, "ℹ️ Low Priority"},
	}
	for _, tier := range tiers {
		var titles []string
		for _, msg := range msgs {
			if tierOf(msg.Priority) == tier.level {
				titles = append(titles, msg.Title)
			}
		}
		if len(titles) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d):\n", tier.label, len(titles))
		for _, title := range titles {
			fmt.Fprintf(&b, "• %s\n", title)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func tierOf(level model.Level) model.Level {
	if level.Valid() {
		return level
	}
	return model.LevelLow
}
