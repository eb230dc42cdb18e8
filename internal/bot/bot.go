// Package bot interprets inbound WhatsApp webhook deliveries: it verifies
// the channel challenge, routes each message to the activation or coaching
// flow, and keeps one malformed message from aborting its batch.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/positivitypush/backend/internal/coach"
	"github.com/positivitypush/backend/internal/database"
	"github.com/positivitypush/backend/internal/whatsapp"
)

// ErrVerificationFailed is returned when the webhook challenge does not
// match the configured verify token.
var ErrVerificationFailed = errors.New("webhook verification failed")

// activationPrefix marks a message as a subscription activation attempt.
// The third whitespace token is the Stripe checkout session id.
const activationPrefix = "POSITIVITY-PUSH START"

// Fixed replies for the routing outcomes that never reach the model.
const (
	msgInvalidActivation = "❌ Invalid activation message. Please use the link from your payment confirmation."
	msgInvalidSession    = "❌ Invalid session ID. Please check your payment confirmation or contact support."
	msgAlreadyActive     = "✅ Your AI coach is already activated! How can I help you today?"
	msgActivationError   = "❌ Something went wrong during activation. Please contact support."
	msgNoSubscription    = "❌ No active subscription found. Please complete your payment first at https://positivity-push.vercel.app"
	msgHavingTrouble     = "❌ I'm having trouble right now. Please try again in a moment."
)

// Handler processes inbound chat events.
type Handler struct {
	store       database.Store
	sender      whatsapp.Sender
	engine      coach.Engine
	verifyToken string
	logger      *slog.Logger
}

// NewHandler creates a chat-event handler.
func NewHandler(store database.Store, sender whatsapp.Sender, engine coach.Engine, verifyToken string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:       store,
		sender:      sender,
		engine:      engine,
		verifyToken: verifyToken,
		logger:      logger.With("component", "bot"),
	}
}

// VerifyChallenge implements the webhook verification handshake Meta
// performs during endpoint setup. It returns the challenge as an integer
// when mode is "subscribe" and the token matches, and
// ErrVerificationFailed for any other combination.
func (h *Handler) VerifyChallenge(mode, token, challenge string) (int, error) {
	if mode != "subscribe" || token != h.verifyToken || token == "" {
		h.logger.Error("WhatsApp webhook verification failed", "mode", mode)
		return 0, ErrVerificationFailed
	}

	value, err := strconv.Atoi(challenge)
	if err != nil {
		h.logger.Error("WhatsApp webhook challenge is not numeric", "challenge", challenge)
		return 0, ErrVerificationFailed
	}

	h.logger.Info("WhatsApp webhook verified successfully")
	return value, nil
}

// ProcessWebhook walks every message in the delivery and handles each one
// inside its own error boundary. A failure in one message is logged and the
// rest of the batch continues; the provider only sees failure when the
// envelope itself was unparseable, which the HTTP layer decides.
func (h *Handler) ProcessWebhook(ctx context.Context, payload *WebhookPayload) {
	if payload.Object != "whatsapp_business_account" {
		h.logger.Debug("Ignoring webhook for unknown object", "object", payload.Object)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for i := range change.Value.Messages {
				msg := &change.Value.Messages[i]
				if msg.Type == "status" {
					continue
				}
				if err := h.processMessage(ctx, msg); err != nil {
					h.logger.ErrorContext(ctx, "Error processing message, continuing with batch",
						"message_id", msg.ID, "from", msg.From, "error", err)
				}
			}
		}
	}
}

func (h *Handler) processMessage(ctx context.Context, msg *InboundMessage) error {
	text := msg.Body()
	h.logger.InfoContext(ctx, "Processing message", "from", msg.From, "message_id", msg.ID)

	if err := h.sender.MarkRead(ctx, msg.ID); err != nil {
		// Read receipts are cosmetic.
		h.logger.DebugContext(ctx, "Could not mark message as read", "message_id", msg.ID, "error", err)
	}

	if strings.HasPrefix(text, activationPrefix) {
		return h.handleActivation(ctx, msg.From, text)
	}
	return h.handleCoaching(ctx, msg.From, text, msg.ID)
}

// handleActivation links a WhatsApp identity to a paid subscription using
// the session id carried in the activation message.
func (h *Handler) handleActivation(ctx context.Context, waID, text string) error {
	parts := strings.Fields(text)
	if len(parts) < 3 {
		h.send(ctx, waID, msgInvalidActivation)
		return nil
	}
	sessionID := parts[2]

	h.logger.InfoContext(ctx, "Activating subscription", "session_id", sessionID)

	sub, err := h.store.GetSubscriberBySessionID(ctx, sessionID)
	if err != nil {
		h.send(ctx, waID, msgActivationError)
		return fmt.Errorf("activation lookup failed: %w", err)
	}
	if sub == nil {
		h.send(ctx, waID, msgInvalidSession)
		return nil
	}
	if sub.IsActive() {
		h.send(ctx, waID, msgAlreadyActive)
		return nil
	}

	if err := h.store.ActivateSubscriber(ctx, sub.ID, waID); err != nil {
		h.send(ctx, waID, msgActivationError)
		return fmt.Errorf("activation update failed: %w", err)
	}
	sub.WAID = sql.NullString{String: waID, Valid: true}
	sub.Status = database.StatusActive

	welcome := h.engine.Welcome(ctx, sub)
	h.send(ctx, waID, welcome)

	h.logger.InfoContext(ctx, "Successfully activated subscription", "wa_id", waID, "subscriber_id", sub.ID)
	return nil
}

// handleCoaching runs the free-form conversation flow. Any failure past the
// subscription gate degrades to a fixed apology so the user always gets
// some reply.
func (h *Handler) handleCoaching(ctx context.Context, waID, text, messageID string) error {
	sub, err := h.store.GetSubscriberByWAID(ctx, waID)
	if err != nil {
		h.send(ctx, waID, msgHavingTrouble)
		return fmt.Errorf("coaching lookup failed: %w", err)
	}
	if sub == nil || !sub.IsActive() {
		h.send(ctx, waID, msgNoSubscription)
		return nil
	}

	if err := h.store.LogConversation(ctx, &database.Conversation{
		SubscriberID: sub.ID,
		Content:      text,
		MessageType:  database.MessageTypeUser,
		WAMessageID:  sql.NullString{String: messageID, Valid: messageID != ""},
	}); err != nil {
		h.send(ctx, waID, msgHavingTrouble)
		return fmt.Errorf("failed to log user message: %w", err)
	}

	reply := h.engine.Respond(ctx, sub, text)
	h.send(ctx, waID, reply)

	if err := h.store.LogConversation(ctx, &database.Conversation{
		SubscriberID: sub.ID,
		Content:      reply,
		MessageType:  database.MessageTypeAssistant,
	}); err != nil {
		// The user already has their reply; only the log is missing.
		return fmt.Errorf("failed to log assistant message: %w", err)
	}

	h.logger.InfoContext(ctx, "Successfully handled coaching message", "wa_id", waID)
	return nil
}

// send delivers a reply, logging delivery failures without escalating them.
// The webhook response to the provider never depends on downstream
// delivery success.
func (h *Handler) send(ctx context.Context, waID, message string) {
	if err := h.sender.SendText(ctx, waID, message); err != nil {
		h.logger.ErrorContext(ctx, "Failed to send WhatsApp reply", "wa_id", waID, "error", err)
	}
}
