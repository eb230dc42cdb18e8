package email

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/positivitypush/backend/internal/config"
	"github.com/positivitypush/backend/internal/database"
)

func TestUnconfiguredClientSkipsSending(t *testing.T) {
	// Without API keys the client must be a silent no-op so development
	// environments run without email credentials.
	c := NewClient(config.EmailConfig{FromEmail: "hello@positivitypush.com"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	sub := &database.Subscriber{AmountTotal: 15000, PlanType: database.PlanSixMonth}
	if err := c.SendWelcome(context.Background(), "jamie@example.com", sub); err != nil {
		t.Errorf("SendWelcome() error = %v, want nil for unconfigured client", err)
	}
	if err := c.SendActivationReminder(context.Background(), "jamie@example.com", "https://example.com/activate"); err != nil {
		t.Errorf("SendActivationReminder() error = %v, want nil for unconfigured client", err)
	}
}
