package bot

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/positivitypush/backend/internal/database"
)

const testVerifyToken = "verify-me"

// fakeStore serves canned subscribers and records mutations.
type fakeStore struct {
	bySession map[string]*database.Subscriber
	byWAID    map[string]*database.Subscriber
	lookupErr error

	activations []string // subscriberID:waID pairs
	activateErr error

	conversations []*database.Conversation
	logErr        error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateSubscriber(context.Context, *database.Subscriber) (bool, error) {
	return false, nil
}

func (f *fakeStore) GetSubscriberBySessionID(_ context.Context, sessionID string) (*database.Subscriber, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.bySession[sessionID], nil
}

func (f *fakeStore) GetSubscriberByWAID(_ context.Context, waID string) (*database.Subscriber, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.byWAID[waID], nil
}

func (f *fakeStore) ActivateSubscriber(_ context.Context, subscriberID, waID string) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activations = append(f.activations, subscriberID+":"+waID)
	return nil
}

func (f *fakeStore) MarkPaymentSucceeded(context.Context, string) error { return nil }
func (f *fakeStore) MarkPaymentFailed(context.Context, string) error   { return nil }

func (f *fakeStore) SyncSubscriptionState(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeStore) CancelSubscription(context.Context, string) error { return nil }

func (f *fakeStore) UpdatePersonalGoals(context.Context, string, string) error { return nil }

func (f *fakeStore) LogConversation(_ context.Context, entry *database.Conversation) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.conversations = append(f.conversations, entry)
	return nil
}

func (f *fakeStore) GetConversationHistory(context.Context, string, int) ([]database.Conversation, error) {
	return nil, nil
}

func (f *fakeStore) GetActiveSubscribers(context.Context) ([]database.Subscriber, error) {
	return nil, nil
}

// fakeSender records outgoing messages and read receipts.
type fakeSender struct {
	sent    []sentMessage
	marked  []string
	sendErr error
	markErr error
}

type sentMessage struct {
	to      string
	message string
}

func (f *fakeSender) SendText(_ context.Context, to, message string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, message: message})
	return nil
}

func (f *fakeSender) MarkRead(_ context.Context, messageID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, messageID)
	return nil
}

// fakeEngine returns canned generations.
type fakeEngine struct {
	welcome      string
	reply        string
	respondCalls int
}

func (f *fakeEngine) Welcome(context.Context, *database.Subscriber) string { return f.welcome }

func (f *fakeEngine) Respond(context.Context, *database.Subscriber, string) string {
	f.respondCalls++
	return f.reply
}

func (f *fakeEngine) DailyAffirmation(context.Context, *database.Subscriber) string {
	return "affirmation"
}

func (f *fakeEngine) GratitudePrompt(context.Context, *database.Subscriber) string {
	return "gratitude"
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(store *fakeStore, sender *fakeSender, engine *fakeEngine) *Handler {
	return NewHandler(store, sender, engine, testVerifyToken, discardLogger())
}

func textMessage(from, id, body string) InboundMessage {
	return InboundMessage{From: from, ID: id, Type: "text", Text: &TextContent{Body: body}}
}

func singleMessagePayload(msgs ...InboundMessage) *WebhookPayload {
	return &WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []Entry{{
			ID: "entry-1",
			Changes: []Change{{
				Field: "messages",
				Value: ChangeValue{MessagingProduct: "whatsapp", Messages: msgs},
			}},
		}},
	}
}

func activeSubscriber(id, waID string) *database.Subscriber {
	return &database.Subscriber{
		ID:       id,
		Status:   database.StatusActive,
		WAID:     sql.NullString{String: waID, Valid: true},
		PlanType: database.PlanThreeMonth,
	}
}

func TestVerifyChallenge(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		token     string
		challenge string
		want      int
		wantErr   bool
	}{
		{"valid handshake", "subscribe", testVerifyToken, "123456", 123456, false},
		{"wrong mode", "unsubscribe", testVerifyToken, "123456", 0, true},
		{"wrong token", "subscribe", "other-token", "123456", 0, true},
		{"empty token", "subscribe", "", "123456", 0, true},
		{"non-numeric challenge", "subscribe", testVerifyToken, "abc", 0, true},
		{"empty challenge", "subscribe", testVerifyToken, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeStore{}, &fakeSender{}, &fakeEngine{})

			got, err := h.VerifyChallenge(tt.mode, tt.token, tt.challenge)
			if tt.wantErr {
				if !errors.Is(err, ErrVerificationFailed) {
					t.Fatalf("VerifyChallenge() error = %v, want ErrVerificationFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyChallenge() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("VerifyChallenge() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProcessWebhookIgnoresUnknownObject(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	h := newTestHandler(store, sender, &fakeEngine{})

	h.ProcessWebhook(context.Background(), &WebhookPayload{Object: "page"})

	if len(sender.sent) != 0 || len(store.conversations) != 0 {
		t.Error("handler acted on a non-WhatsApp webhook object")
	}
}

func TestProcessWebhookSkipsStatusMessages(t *testing.T) {
	sender := &fakeSender{}
	h := newTestHandler(&fakeStore{}, sender, &fakeEngine{})

	payload := singleMessagePayload(InboundMessage{From: "15551234", ID: "wamid.1", Type: "status"})
	h.ProcessWebhook(context.Background(), payload)

	if len(sender.sent) != 0 {
		t.Errorf("status update produced %d replies, want 0", len(sender.sent))
	}
	if len(sender.marked) != 0 {
		t.Errorf("status update was marked read %d times, want 0", len(sender.marked))
	}
}

func TestProcessWebhookContinuesBatchAfterFailure(t *testing.T) {
	// First message hits a store failure, second message must still be
	// handled.
	store := &fakeStore{lookupErr: errors.New("db down")}
	sender := &fakeSender{}
	engine := &fakeEngine{reply: "hello"}
	h := newTestHandler(store, sender, engine)

	payload := singleMessagePayload(
		textMessage("15551111", "wamid.1", "first"),
		textMessage("15552222", "wamid.2", "second"),
	)
	h.ProcessWebhook(context.Background(), payload)

	// Both messages reach the trouble reply and neither aborts the batch.
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d replies, want 2", len(sender.sent))
	}
	for _, m := range sender.sent {
		if m.message != msgHavingTrouble {
			t.Errorf("reply = %q, want the trouble message", m.message)
		}
	}
}

func TestActivationFlow(t *testing.T) {
	pending := &database.Subscriber{ID: "sub-1", Status: database.StatusPaidPendingOptin}

	tests := []struct {
		name          string
		body          string
		store         *fakeStore
		wantReply     string
		wantActivated bool
		wantWelcome   bool
	}{
		{
			name:      "too few tokens",
			body:      "POSITIVITY-PUSH START",
			store:     &fakeStore{},
			wantReply: msgInvalidActivation,
		},
		{
			name:      "unknown session id",
			body:      "POSITIVITY-PUSH START cs_missing",
			store:     &fakeStore{bySession: map[string]*database.Subscriber{}},
			wantReply: msgInvalidSession,
		},
		{
			name: "already active",
			body: "POSITIVITY-PUSH START cs_1",
			store: &fakeStore{bySession: map[string]*database.Subscriber{
				"cs_1": activeSubscriber("sub-1", "15551234"),
			}},
			wantReply: msgAlreadyActive,
		},
		{
			name: "lookup failure",
			body: "POSITIVITY-PUSH START cs_1",
			store: &fakeStore{
				lookupErr: errors.New("db down"),
			},
			wantReply: msgActivationError,
		},
		{
			name: "activation update failure",
			body: "POSITIVITY-PUSH START cs_1",
			store: &fakeStore{
				bySession:   map[string]*database.Subscriber{"cs_1": pending},
				activateErr: errors.New("db down"),
			},
			wantReply: msgActivationError,
		},
		{
			name: "successful activation",
			body: "POSITIVITY-PUSH START cs_1",
			store: &fakeStore{bySession: map[string]*database.Subscriber{
				"cs_1": {ID: "sub-1", Status: database.StatusPaidPendingOptin},
			}},
			wantReply:     "welcome aboard",
			wantActivated: true,
			wantWelcome:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			engine := &fakeEngine{welcome: "welcome aboard"}
			h := newTestHandler(tt.store, sender, engine)

			h.ProcessWebhook(context.Background(), singleMessagePayload(
				textMessage("15559999", "wamid.1", tt.body)))

			if len(sender.sent) != 1 {
				t.Fatalf("sent %d replies, want 1", len(sender.sent))
			}
			if sender.sent[0].to != "15559999" {
				t.Errorf("reply went to %q, want 15559999", sender.sent[0].to)
			}
			if sender.sent[0].message != tt.wantReply {
				t.Errorf("reply = %q, want %q", sender.sent[0].message, tt.wantReply)
			}

			if tt.wantActivated {
				if len(tt.store.activations) != 1 || tt.store.activations[0] != "sub-1:15559999" {
					t.Errorf("activations = %v, want [sub-1:15559999]", tt.store.activations)
				}
			} else if len(tt.store.activations) != 0 {
				t.Errorf("activations = %v, want none", tt.store.activations)
			}
		})
	}
}

func TestCoachingFlowLogsBothSides(t *testing.T) {
	store := &fakeStore{byWAID: map[string]*database.Subscriber{
		"15551234": activeSubscriber("sub-1", "15551234"),
	}}
	sender := &fakeSender{}
	engine := &fakeEngine{reply: "keep going, you're doing great"}
	h := newTestHandler(store, sender, engine)

	h.ProcessWebhook(context.Background(), singleMessagePayload(
		textMessage("15551234", "wamid.77", "I had a rough day")))

	if len(sender.sent) != 1 || sender.sent[0].message != engine.reply {
		t.Fatalf("sent = %v, want one generated reply", sender.sent)
	}
	if len(sender.marked) != 1 || sender.marked[0] != "wamid.77" {
		t.Errorf("marked read = %v, want [wamid.77]", sender.marked)
	}

	if len(store.conversations) != 2 {
		t.Fatalf("logged %d conversation entries, want 2", len(store.conversations))
	}
	user, assistant := store.conversations[0], store.conversations[1]
	if user.MessageType != database.MessageTypeUser || user.Content != "I had a rough day" {
		t.Errorf("first entry = %+v, want the user message", user)
	}
	if user.WAMessageID.String != "wamid.77" {
		t.Errorf("user entry WAMessageID = %q, want wamid.77", user.WAMessageID.String)
	}
	if assistant.MessageType != database.MessageTypeAssistant || assistant.Content != engine.reply {
		t.Errorf("second entry = %+v, want the assistant reply", assistant)
	}
	if assistant.WAMessageID.Valid {
		t.Error("assistant entry carries a WhatsApp message id, want none")
	}
}

func TestCoachingRequiresActiveSubscription(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
	}{
		{"unknown wa id", &fakeStore{byWAID: map[string]*database.Subscriber{}}},
		{"subscription not active", &fakeStore{byWAID: map[string]*database.Subscriber{
			"15551234": {ID: "sub-1", Status: database.StatusPaymentFailed},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			engine := &fakeEngine{reply: "should not be used"}
			h := newTestHandler(tt.store, sender, engine)

			h.ProcessWebhook(context.Background(), singleMessagePayload(
				textMessage("15551234", "wamid.1", "hello")))

			if len(sender.sent) != 1 || sender.sent[0].message != msgNoSubscription {
				t.Fatalf("sent = %v, want the no-subscription reply", sender.sent)
			}
			if engine.respondCalls != 0 {
				t.Errorf("engine invoked %d times for a gated user, want 0", engine.respondCalls)
			}
			if len(tt.store.conversations) != 0 {
				t.Errorf("logged %d entries for a gated user, want 0", len(tt.store.conversations))
			}
		})
	}
}

func TestCoachingUserLogFailureSkipsGeneration(t *testing.T) {
	store := &fakeStore{
		byWAID: map[string]*database.Subscriber{
			"15551234": activeSubscriber("sub-1", "15551234"),
		},
		logErr: errors.New("db down"),
	}
	sender := &fakeSender{}
	engine := &fakeEngine{reply: "should not be used"}
	h := newTestHandler(store, sender, engine)

	h.ProcessWebhook(context.Background(), singleMessagePayload(
		textMessage("15551234", "wamid.1", "hello")))

	if len(sender.sent) != 1 || sender.sent[0].message != msgHavingTrouble {
		t.Fatalf("sent = %v, want the trouble reply", sender.sent)
	}
	if engine.respondCalls != 0 {
		t.Errorf("engine invoked %d times after log failure, want 0", engine.respondCalls)
	}
}

func TestMarkReadFailureDoesNotBlockReply(t *testing.T) {
	store := &fakeStore{byWAID: map[string]*database.Subscriber{
		"15551234": activeSubscriber("sub-1", "15551234"),
	}}
	sender := &fakeSender{markErr: errors.New("graph api error")}
	engine := &fakeEngine{reply: "still here"}
	h := newTestHandler(store, sender, engine)

	h.ProcessWebhook(context.Background(), singleMessagePayload(
		textMessage("15551234", "wamid.1", "hello")))

	if len(sender.sent) != 1 || sender.sent[0].message != "still here" {
		t.Fatalf("sent = %v, want the generated reply despite read-receipt failure", sender.sent)
	}
}

func TestInboundMessageBody(t *testing.T) {
	withText := textMessage("1", "wamid.1", "hi")
	if got := withText.Body(); got != "hi" {
		t.Errorf("Body() = %q, want hi", got)
	}

	noText := InboundMessage{From: "1", ID: "wamid.2", Type: "image"}
	if got := noText.Body(); got != "" {
		t.Errorf("Body() = %q, want empty string for non-text message", got)
	}
}
