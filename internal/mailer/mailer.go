// Package mailer sends transactional email through SendGrid.
package mailer

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"playforge/internal/config"
	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/observability"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendFunc func(ctx context.Context, msg *mail.SGMailV3) (status int, body string, err error)

// Mailer is a no-op when no API key is configured.
type Mailer struct {
	from   *mail.Email
	appURL string
	send   sendFunc
}

func New(cfg *config.Config) *Mailer {
	m := &Mailer{
		from:   mail.NewEmail(cfg.EmailFromName, cfg.EmailFrom),
		appURL: cfg.PublicAppURL,
	}
	if cfg.SendGridAPIKey != "" {
		client := sendgrid.NewSendClient(cfg.SendGridAPIKey)
		m.send = func(ctx context.Context, msg *mail.SGMailV3) (int, string, error) {
			resp, err := client.SendWithContext(ctx, msg)
			if err != nil {
				return 0, "", err
			}
			return resp.StatusCode, resp.Body, nil
		}
	}
	return m
}

// Enabled reports whether mail is actually delivered.
func (m *Mailer) Enabled() bool {
	return m != nil && m.send != nil
}

// SendWelcome greets a new account.
func (m *Mailer) SendWelcome(ctx context.Context, user *models.User) error {
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	subject := "Welcome to Playforge"
	plain := fmt.Sprintf("Hi %s,\n\nYour account is ready. Start building games at %s\n", name, m.appURL)
	htmlBody := fmt.Sprintf("<p>Hi %s,</p><p>Your account is ready. <a href=\"%s\">Start building games</a>.</p>",
		html.EscapeString(name), html.EscapeString(m.appURL))
	return m.Send(ctx, user.Email, name, subject, plain, htmlBody)
}

// Send delivers one message. Without an API key it only logs.
func (m *Mailer) Send(ctx context.Context, toEmail, toName, subject, plain, htmlBody string) (err error) {
	if !m.Enabled() {
		middleware.Logger.DebugContext(ctx, "mail disabled, skipping send",
			slog.String("subject", subject))
		return nil
	}

	start := time.Now()
	defer func() { observability.ObserveUpstream("sendgrid", start, err) }()

	msg := mail.NewSingleEmail(m.from, subject, mail.NewEmail(toName, toEmail), plain, htmlBody)
	status, body, err := m.send(ctx, msg)
	if err != nil {
		return models.NewUpstreamError("Email", err)
	}
	if status >= 300 {
		return models.NewUpstreamError("Email", fmt.Errorf("status %d: %s", status, body))
	}
	middleware.Logger.InfoContext(ctx, "email sent",
		slog.String("subject", subject), slog.Int("status", status))
	return nil
}
