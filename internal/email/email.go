// Package email sends transactional email through the Mailjet API.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mailjet "github.com/mailjet/mailjet-apiv3-go"

	"github.com/positivitypush/backend/internal/config"
	"github.com/positivitypush/backend/internal/database"
)

// Mailer sends the transactional messages the payment flow produces.
type Mailer interface {
	SendWelcome(ctx context.Context, toEmail string, sub *database.Subscriber) error
	SendActivationReminder(ctx context.Context, toEmail, activationLink string) error
}

// Client implements Mailer over the Mailjet API. An unconfigured client
// (missing keys) logs and skips sending instead of failing, so development
// environments work without email credentials.
type Client struct {
	publicKey  string
	privateKey string
	from       string
	logger     *slog.Logger
}

// NewClient creates a Mailjet-backed mailer.
func NewClient(cfg config.EmailConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		publicKey:  cfg.PublicKey,
		privateKey: cfg.PrivateKey,
		from:       cfg.FromEmail,
		logger:     logger.With("component", "email"),
	}
}

// SendWelcome sends the thank-you email after a completed checkout.
func (c *Client) SendWelcome(ctx context.Context, toEmail string, sub *database.Subscriber) error {
	amount := float64(sub.AmountTotal) / 100
	plan := strings.ReplaceAll(sub.PlanType, "_", "-")

	html := fmt.Sprintf(`<h1>Welcome to Positivity Push! 🎉</h1>
<p>Your payment of <strong>$%.2f</strong> for the <strong>%s plan</strong> has been successfully processed.</p>
<p>Next step: check your success page to get your WhatsApp activation link and start chatting with your personal AI coach.</p>
<p>Questions? Reach us at support@positivitypush.com</p>`, amount, plan)

	return c.send(ctx, toEmail, "Welcome to Positivity Push! 🎉", html)
}

// SendActivationReminder nudges a paid user who has not yet linked WhatsApp.
func (c *Client) SendActivationReminder(ctx context.Context, toEmail, activationLink string) error {
	html := fmt.Sprintf(`<h2>Almost there! 🎯</h2>
<p>We noticed you completed your payment for Positivity Push but haven't activated your AI coach yet.</p>
<p><a href="%s">Activate Your AI Coach</a></p>
<p>It only takes one click to start your personalized coaching journey.</p>`, activationLink)

	return c.send(ctx, toEmail, "Don't forget to activate your AI coach! 🤖", html)
}

func (c *Client) send(ctx context.Context, to, subject, html string) error {
	if c.publicKey == "" || c.privateKey == "" {
		c.logger.InfoContext(ctx, "Email keys not configured, skipping send", "to", to, "subject", subject)
		return nil
	}

	clt := mailjet.NewMailjetClient(c.publicKey, c.privateKey)
	msgs := mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{{
		From:     &mailjet.RecipientV31{Email: c.from},
		To:       &mailjet.RecipientsV31{mailjet.RecipientV31{Email: to}},
		Subject:  subject,
		HTMLPart: html,
	}}}

	if _, err := clt.SendMailV31(&msgs); err != nil {
		c.logger.ErrorContext(ctx, "Failed to send email", "to", to, "subject", subject, "error", err)
		return fmt.Errorf("could not send mail: %w", err)
	}

	c.logger.InfoContext(ctx, "Email sent", "to", to, "subject", subject)
	return nil
}
