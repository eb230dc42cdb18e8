package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store defines the interface for record store operations. Lookup methods
// return (nil, nil) when no row matches, so callers can tell "not found"
// apart from a transport failure.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// CreateSubscriber inserts a new subscriber row. The insert is keyed on
	// the Stripe session id; replaying the same checkout event is a no-op.
	// Returns true when a row was actually created.
	CreateSubscriber(ctx context.Context, sub *Subscriber) (bool, error)

	// GetSubscriberBySessionID retrieves a subscriber by Stripe checkout
	// session id. Returns nil, nil if not found.
	GetSubscriberBySessionID(ctx context.Context, sessionID string) (*Subscriber, error)

	// GetSubscriberByWAID retrieves a subscriber by WhatsApp id. Returns
	// nil, nil if not found.
	GetSubscriberByWAID(ctx context.Context, waID string) (*Subscriber, error)

	// ActivateSubscriber links a WhatsApp id to the subscriber and marks it
	// active, stamping the activation time.
	ActivateSubscriber(ctx context.Context, subscriberID, waID string) error

	// MarkPaymentSucceeded sets status active and stamps the last payment
	// time for the subscriber matching the Stripe customer id. Matching no
	// rows is not an error.
	MarkPaymentSucceeded(ctx context.Context, customerID string) error

	// MarkPaymentFailed sets status payment_failed and stamps the failed
	// payment time for the subscriber matching the Stripe customer id.
	MarkPaymentFailed(ctx context.Context, customerID string) error

	// SyncSubscriptionState copies the provider's status and period end onto
	// the subscriber matching the Stripe subscription id.
	SyncSubscriptionState(ctx context.Context, subscriptionID, status string, periodEnd time.Time) error

	// CancelSubscription sets status cancelled and stamps the cancellation
	// time for the subscriber matching the Stripe subscription id.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// UpdatePersonalGoals replaces the subscriber's free-form goals.
	UpdatePersonalGoals(ctx context.Context, subscriberID, goals string) error

	// LogConversation appends one conversation entry.
	LogConversation(ctx context.Context, entry *Conversation) error

	// GetConversationHistory retrieves the most recent 'limit' entries for a
	// subscriber in chronological order.
	GetConversationHistory(ctx context.Context, subscriberID string, limit int) ([]Conversation, error)

	// GetActiveSubscribers retrieves all subscribers with status active,
	// used by the scheduled daily messaging jobs.
	GetActiveSubscribers(ctx context.Context) ([]Subscriber, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const subscriberColumns = `id, stripe_session_id, stripe_customer_id, stripe_subscription_id,
       wa_id, email, phone_number, amount_total, currency, plan_type, status,
       personal_goals, current_period_end, created_at, activated_at,
       last_payment_at, failed_payment_at, cancelled_at, updated_at`

func (s *sqlxStore) CreateSubscriber(ctx context.Context, sub *Subscriber) (bool, error) {
	if sub == nil {
		return false, fmt.Errorf("cannot create nil subscriber")
	}
	if sub.StripeSessionID == "" {
		return false, fmt.Errorf("subscriber must have a stripe session id")
	}
	if sub.PlanType == "" || sub.Status == "" {
		return false, fmt.Errorf("subscriber must have a plan type and status")
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := `
        INSERT INTO subscribers (
            id, stripe_session_id, stripe_customer_id, stripe_subscription_id,
            email, phone_number, amount_total, currency, plan_type, status,
            created_at, updated_at
        ) VALUES (
            :id, :stripe_session_id, :stripe_customer_id, :stripe_subscription_id,
            :email, :phone_number, :amount_total, :currency, :plan_type, :status,
            :created_at, :updated_at
        )
        ON CONFLICT (stripe_session_id) DO NOTHING;
    `

	result, err := s.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating subscriber",
			"stripe_session_id", sub.StripeSessionID, "error", err)
		return false, fmt.Errorf("failed to create subscriber for session %s: %w", sub.StripeSessionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count after creating subscriber",
			"stripe_session_id", sub.StripeSessionID, "error", err)
		return true, nil
	}
	if affected == 0 {
		// Replayed checkout event; the session id row already exists.
		s.logger.InfoContext(ctx, "Subscriber already exists for session, skipping create",
			"stripe_session_id", sub.StripeSessionID)
		return false, nil
	}

	s.logger.DebugContext(ctx, "Subscriber created successfully",
		"subscriber_id", sub.ID, "stripe_session_id", sub.StripeSessionID)
	return true, nil
}

func (s *sqlxStore) GetSubscriberBySessionID(ctx context.Context, sessionID string) (*Subscriber, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	return s.getSubscriberBy(ctx, "stripe_session_id", sessionID)
}

func (s *sqlxStore) GetSubscriberByWAID(ctx context.Context, waID string) (*Subscriber, error) {
	if waID == "" {
		return nil, fmt.Errorf("wa_id cannot be empty")
	}
	return s.getSubscriberBy(ctx, "wa_id", waID)
}

// getSubscriberBy fetches a single subscriber by an equality filter on the
// given column. The column name is always one of our own constants, never
// caller input.
func (s *sqlxStore) getSubscriberBy(ctx context.Context, column, value string) (*Subscriber, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var sub Subscriber
	query := fmt.Sprintf(`SELECT %s FROM subscribers WHERE %s = $1`, subscriberColumns, column)

	err := s.db.GetContext(ctx, &sub, query, value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No subscriber found", "column", column)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching subscriber",
			"column", column, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting subscriber", "column", column, "error", err)
		return nil, fmt.Errorf("failed to get subscriber by %s: %w", column, err)
	}

	return &sub, nil
}

func (s *sqlxStore) ActivateSubscriber(ctx context.Context, subscriberID, waID string) error {
	if subscriberID == "" || waID == "" {
		return fmt.Errorf("subscriber id and wa_id are required for activation")
	}

	query := `
        UPDATE subscribers
        SET wa_id = $1, status = $2, activated_at = $3, updated_at = $3
        WHERE id = $4;
    `

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, waID, StatusActive, now, subscriberID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error activating subscriber",
			"subscriber_id", subscriberID, "error", err)
		return fmt.Errorf("failed to activate subscriber %s: %w", subscriberID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected during activation",
			"subscriber_id", subscriberID, "affected", affected)
	}

	s.logger.InfoContext(ctx, "Subscriber activated", "subscriber_id", subscriberID)
	return nil
}

func (s *sqlxStore) MarkPaymentSucceeded(ctx context.Context, customerID string) error {
	return s.updateByFilter(ctx, "stripe_customer_id", customerID,
		`UPDATE subscribers SET status = $1, last_payment_at = $2, updated_at = $2 WHERE stripe_customer_id = $3`,
		StatusActive)
}

func (s *sqlxStore) MarkPaymentFailed(ctx context.Context, customerID string) error {
	return s.updateByFilter(ctx, "stripe_customer_id", customerID,
		`UPDATE subscribers SET status = $1, failed_payment_at = $2, updated_at = $2 WHERE stripe_customer_id = $3`,
		StatusPaymentFailed)
}

func (s *sqlxStore) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return s.updateByFilter(ctx, "stripe_subscription_id", subscriptionID,
		`UPDATE subscribers SET status = $1, cancelled_at = $2, updated_at = $2 WHERE stripe_subscription_id = $3`,
		StatusCancelled)
}

// updateByFilter performs a single equality-filtered status update. Matching
// zero rows is logged but not an error: payment events can reference
// customers that never completed checkout with us.
func (s *sqlxStore) updateByFilter(ctx context.Context, column, value, query, status string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", column)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, status, now, value)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating subscriber status",
			"column", column, "status", status, "error", err)
		return fmt.Errorf("failed to update subscriber by %s: %w", column, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		s.logger.InfoContext(ctx, "No subscriber matched status update",
			"column", column, "status", status)
		return nil
	}

	s.logger.DebugContext(ctx, "Subscriber status updated",
		"column", column, "status", status, "affected", affected)
	return nil
}

func (s *sqlxStore) SyncSubscriptionState(ctx context.Context, subscriptionID, status string, periodEnd time.Time) error {
	if subscriptionID == "" {
		return fmt.Errorf("subscription id cannot be empty")
	}
	if status == "" {
		return fmt.Errorf("status cannot be empty")
	}

	query := `
        UPDATE subscribers
        SET status = $1, current_period_end = $2, updated_at = $3
        WHERE stripe_subscription_id = $4;
    `

	result, err := s.db.ExecContext(ctx, query, status, periodEnd, time.Now().UTC(), subscriptionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error syncing subscription state",
			"stripe_subscription_id", subscriptionID, "error", err)
		return fmt.Errorf("failed to sync subscription %s: %w", subscriptionID, err)
	}

	affected, _ := result.RowsAffected()
	s.logger.DebugContext(ctx, "Subscription state synced",
		"stripe_subscription_id", subscriptionID, "status", status, "affected", affected)
	return nil
}

func (s *sqlxStore) UpdatePersonalGoals(ctx context.Context, subscriberID, goals string) error {
	if subscriberID == "" {
		return fmt.Errorf("subscriber id cannot be empty")
	}

	query := `UPDATE subscribers SET personal_goals = $1, updated_at = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, goals, time.Now().UTC(), subscriberID); err != nil {
		s.logger.ErrorContext(ctx, "Error updating personal goals",
			"subscriber_id", subscriberID, "error", err)
		return fmt.Errorf("failed to update goals for subscriber %s: %w", subscriberID, err)
	}
	return nil
}

func (s *sqlxStore) LogConversation(ctx context.Context, entry *Conversation) error {
	if entry == nil {
		return fmt.Errorf("cannot log nil conversation entry")
	}
	if entry.SubscriberID == "" {
		return fmt.Errorf("conversation entry must have a subscriber id")
	}
	if entry.MessageType != MessageTypeUser && entry.MessageType != MessageTypeAssistant {
		return fmt.Errorf("invalid message type %q", entry.MessageType)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
        INSERT INTO conversations (id, subscriber_id, content, message_type, wa_message_id, timestamp)
        VALUES (:id, :subscriber_id, :content, :message_type, :wa_message_id, :timestamp);
    `

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		s.logger.ErrorContext(ctx, "Error logging conversation entry",
			"subscriber_id", entry.SubscriberID, "message_type", entry.MessageType, "error", err)
		return fmt.Errorf("failed to log conversation for subscriber %s: %w", entry.SubscriberID, err)
	}

	s.logger.DebugContext(ctx, "Conversation entry logged",
		"subscriber_id", entry.SubscriberID, "message_type", entry.MessageType)
	return nil
}

func (s *sqlxStore) GetConversationHistory(ctx context.Context, subscriberID string, limit int) ([]Conversation, error) {
	if subscriberID == "" {
		return nil, fmt.Errorf("subscriber id cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	} else if limit > 100 {
		limit = 100
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Fetch newest first, then reverse so callers always see chronological
	// order.
	var entries []Conversation
	query := `
        SELECT id, subscriber_id, content, message_type, wa_message_id, timestamp
        FROM conversations
        WHERE subscriber_id = $1
        ORDER BY timestamp DESC
        LIMIT $2;
    `

	err := s.db.SelectContext(ctx, &entries, query, subscriberID, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching conversation history",
			"subscriber_id", subscriberID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting conversation history",
			"subscriber_id", subscriberID, "error", err)
		return nil, fmt.Errorf("failed to get conversation history for subscriber %s: %w", subscriberID, err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	s.logger.DebugContext(ctx, "Fetched conversation history",
		"subscriber_id", subscriberID, "count", len(entries))
	return entries, nil
}

func (s *sqlxStore) GetActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var subs []Subscriber
	query := fmt.Sprintf(`SELECT %s FROM subscribers WHERE status = $1`, subscriberColumns)

	err := s.db.SelectContext(ctx, &subs, query, StatusActive)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching active subscribers", "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting active subscribers", "error", err)
		return nil, fmt.Errorf("failed to get active subscribers: %w", err)
	}

	s.logger.DebugContext(ctx, "Fetched active subscribers", "count", len(subs))
	return subs, nil
}
