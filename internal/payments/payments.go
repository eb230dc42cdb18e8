// Package payments interprets inbound Stripe webhook events and drives the
// subscription lifecycle in the record store. Signature verification is the
// hard precondition gating every write: nothing is touched before the event
// is authenticated and parsed.
package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/positivitypush/backend/internal/database"
	"github.com/positivitypush/backend/internal/email"
)

// Sentinel errors surfaced to the HTTP layer. Signature and payload errors
// map to 400 responses, processing errors to 500.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrProcessingFailed = errors.New("webhook processing failed")
)

// Interpreter verifies and dispatches Stripe events into record store
// mutations.
type Interpreter struct {
	store         database.Store
	mailer        email.Mailer
	webhookSecret string
	logger        *slog.Logger
}

// NewInterpreter creates a payment-event interpreter. The mailer may be nil,
// in which case no thank-you emails are sent.
func NewInterpreter(store database.Store, mailer email.Mailer, webhookSecret string, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		store:         store,
		mailer:        mailer,
		webhookSecret: webhookSecret,
		logger:        logger.With("component", "payments"),
	}
}

// ProcessEvent verifies the signature of a raw webhook delivery and
// dispatches the contained event. Verification failures are returned as
// ErrInvalidSignature or ErrMalformedPayload before any state is touched;
// failures during dispatch come back as ErrProcessingFailed.
func (i *Interpreter) ProcessEvent(ctx context.Context, payload []byte, sigHeader string) error {
	if sigHeader == "" {
		i.logger.ErrorContext(ctx, "Missing Stripe signature header")
		return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEvent(payload, sigHeader, i.webhookSecret)
	if err != nil {
		if isSignatureError(err) {
			i.logger.ErrorContext(ctx, "Invalid Stripe signature", "error", err)
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		i.logger.ErrorContext(ctx, "Invalid Stripe payload", "error", err)
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	i.logger.InfoContext(ctx, "Received Stripe event", "type", event.Type, "event_id", event.ID)

	if err := i.dispatch(ctx, event); err != nil {
		i.logger.ErrorContext(ctx, "Error processing webhook", "type", event.Type, "error", err)
		return fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	return nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func (i *Interpreter) dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("error parsing checkout session: %w", err)
		}
		return i.handleCheckoutCompleted(ctx, &session)

	case stripe.EventTypeInvoicePaymentSucceeded:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("error parsing invoice: %w", err)
		}
		return i.handlePaymentSucceeded(ctx, &invoice)

	case stripe.EventTypeInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("error parsing invoice: %w", err)
		}
		return i.handlePaymentFailed(ctx, &invoice)

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("error parsing subscription: %w", err)
		}
		return i.handleSubscriptionUpdated(ctx, &sub)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("error parsing subscription: %w", err)
		}
		return i.handleSubscriptionCancelled(ctx, &sub)

	default:
		i.logger.InfoContext(ctx, "Unhandled event type", "type", event.Type)
		return nil
	}
}

// handleCheckoutCompleted creates the subscriber row for a completed
// checkout. The create is idempotent under the session id uniqueness
// constraint, so Stripe redelivering the event cannot double-create.
func (i *Interpreter) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	i.logger.InfoContext(ctx, "Processing checkout completion", "session_id", session.ID)

	sub := &database.Subscriber{
		StripeSessionID: session.ID,
		AmountTotal:     session.AmountTotal,
		Currency:        string(session.Currency),
		PlanType:        determinePlanType(session.AmountTotal),
		Status:          database.StatusPaidPendingOptin,
	}

	if session.Customer != nil {
		sub.StripeCustomerID = nullString(session.Customer.ID)
	}
	if session.Subscription != nil {
		sub.StripeSubscriptionID = nullString(session.Subscription.ID)
	}
	if session.CustomerDetails != nil {
		sub.Email = nullString(session.CustomerDetails.Email)
	}
	if phone := customFieldText(session.CustomFields); phone != "" {
		sub.PhoneNumber = nullString(phone)
	}

	created, err := i.store.CreateSubscriber(ctx, sub)
	if err != nil {
		return err
	}

	if created && i.mailer != nil && sub.Email.Valid {
		if err := i.mailer.SendWelcome(ctx, sub.Email.String, sub); err != nil {
			// Email is best-effort; the subscription row is already in place.
			i.logger.WarnContext(ctx, "Failed to send welcome email",
				"session_id", session.ID, "error", err)
		}
	}

	i.logger.InfoContext(ctx, "Subscription created", "session_id", session.ID, "created", created)
	return nil
}

func (i *Interpreter) handlePaymentSucceeded(ctx context.Context, invoice *stripe.Invoice) error {
	i.logger.InfoContext(ctx, "Processing payment success", "invoice_id", invoice.ID)
	if invoice.Customer == nil {
		i.logger.WarnContext(ctx, "Invoice has no customer, skipping", "invoice_id", invoice.ID)
		return nil
	}
	return i.store.MarkPaymentSucceeded(ctx, invoice.Customer.ID)
}

func (i *Interpreter) handlePaymentFailed(ctx context.Context, invoice *stripe.Invoice) error {
	i.logger.InfoContext(ctx, "Processing payment failure", "invoice_id", invoice.ID)
	if invoice.Customer == nil {
		i.logger.WarnContext(ctx, "Invoice has no customer, skipping", "invoice_id", invoice.ID)
		return nil
	}
	return i.store.MarkPaymentFailed(ctx, invoice.Customer.ID)
}

func (i *Interpreter) handleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	i.logger.InfoContext(ctx, "Processing subscription update", "subscription_id", sub.ID)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	return i.store.SyncSubscriptionState(ctx, sub.ID, string(sub.Status), periodEnd)
}

func (i *Interpreter) handleSubscriptionCancelled(ctx context.Context, sub *stripe.Subscription) error {
	i.logger.InfoContext(ctx, "Processing subscription cancellation", "subscription_id", sub.ID)
	return i.store.CancelSubscription(ctx, sub.ID)
}

// determinePlanType derives the plan from the checkout amount in minor
// units.
func determinePlanType(amountTotal int64) string {
	if amountTotal >= 15000 { // $150+ = 6 month
		return database.PlanSixMonth
	}
	// $75+ = 3 month
	return database.PlanThreeMonth
}

// customFieldText returns the first custom field's text value, or "" when
// the checkout form collected none.
func customFieldText(fields []*stripe.CheckoutSessionCustomField) string {
	if len(fields) == 0 || fields[0].Text == nil {
		return ""
	}
	return fields[0].Text.Value
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
