package database

import (
	"database/sql"
	"time"
)

// Subscriber statuses. Stripe subscription update events may additionally
// write the provider's status string verbatim.
const (
	StatusPaidPendingOptin = "paid_pending_optin"
	StatusActive           = "active"
	StatusPaymentFailed    = "payment_failed"
	StatusCancelled        = "cancelled"
)

// Plan types derived from the checkout amount.
const (
	PlanThreeMonth = "3_month"
	PlanSixMonth   = "6_month"
)

// Conversation message types.
const (
	MessageTypeUser      = "user"
	MessageTypeAssistant = "assistant"
)

// Subscriber represents one payment-originated account. It is created when a
// Stripe checkout completes and linked to a WhatsApp identity during
// activation. Lifecycle timestamps are appended as events arrive, never
// cleared.
type Subscriber struct {
	ID                   string         `db:"id"`
	StripeSessionID      string         `db:"stripe_session_id"`
	StripeCustomerID     sql.NullString `db:"stripe_customer_id"`
	StripeSubscriptionID sql.NullString `db:"stripe_subscription_id"`
	WAID                 sql.NullString `db:"wa_id"`
	Email                sql.NullString `db:"email"`
	PhoneNumber          sql.NullString `db:"phone_number"`
	AmountTotal          int64          `db:"amount_total"`
	Currency             string         `db:"currency"`
	PlanType             string         `db:"plan_type"`
	Status               string         `db:"status"`
	PersonalGoals        sql.NullString `db:"personal_goals"`
	CurrentPeriodEnd     sql.NullTime   `db:"current_period_end"`

	CreatedAt       time.Time    `db:"created_at"`
	ActivatedAt     sql.NullTime `db:"activated_at"`
	LastPaymentAt   sql.NullTime `db:"last_payment_at"`
	FailedPaymentAt sql.NullTime `db:"failed_payment_at"`
	CancelledAt     sql.NullTime `db:"cancelled_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// IsActive reports whether the subscriber may use the coaching service.
func (s *Subscriber) IsActive() bool {
	return s.Status == StatusActive
}

// Conversation represents one logged message exchanged with a subscriber.
// Rows are append-only; the WhatsApp message id is present for inbound
// messages and absent for generated replies.
type Conversation struct {
	ID           string         `db:"id"`
	SubscriberID string         `db:"subscriber_id"`
	Content      string         `db:"content"`
	MessageType  string         `db:"message_type"`
	WAMessageID  sql.NullString `db:"wa_message_id"`
	Timestamp    time.Time      `db:"timestamp"`
}
