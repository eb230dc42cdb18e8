// Package coach implements the AI coaching engine. It builds role-structured
// prompts from subscriber context and long-term memory, invokes the language
// model, and records each exchange back into memory.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/positivitypush/backend/internal/config"
	"github.com/positivitypush/backend/internal/database"
)

// digestLimit bounds how much memory text is interpolated into the
// scheduled-generation prompts.
const digestLimit = 500

// Engine defines the generation operations used by the webhook flows and
// the scheduler.
type Engine interface {
	// Welcome generates the personalized first message after activation.
	Welcome(ctx context.Context, sub *database.Subscriber) string

	// Respond generates a coaching reply to an inbound message.
	Respond(ctx context.Context, sub *database.Subscriber, message string) string

	// DailyAffirmation generates the scheduled morning affirmation.
	DailyAffirmation(ctx context.Context, sub *database.Subscriber) string

	// GratitudePrompt generates the scheduled evening gratitude question.
	GratitudePrompt(ctx context.Context, sub *database.Subscriber) string
}

// MemoryStore is the subset of the memory gateway the engine needs.
type MemoryStore interface {
	Add(ctx context.Context, userID, message string, metadata map[string]string) error
	Digest(ctx context.Context, userID string) string
}

// contentModel matches the genai Models API so tests can substitute a fake.
type contentModel interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type engine struct {
	model     contentModel
	modelName string
	memory    MemoryStore
	logger    *slog.Logger
}

// NewEngine creates a coaching engine backed by the genai API and the
// supplied memory gateway.
func NewEngine(ctx context.Context, cfg config.AIConfig, memory MemoryStore, logger *slog.Logger) (Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	log := logger.With("component", "coach")
	log.Info("Coaching engine initialized", "model", cfg.Model)
	return &engine{
		model:     client.Models,
		modelName: cfg.Model,
		memory:    memory,
		logger:    log,
	}, nil
}

func (e *engine) Welcome(ctx context.Context, sub *database.Subscriber) string {
	userContext := fmt.Sprintf("User just completed payment for %s plan.\nEmail: %s",
		sub.PlanType, orDefault(sub.Email.String, "Not provided"))

	msg, err := e.generate(ctx, WelcomeSystemInstruction,
		"Generate welcome message for: "+userContext, 0.7, 200)
	if err != nil {
		e.logger.ErrorContext(ctx, "Error generating welcome message", "subscriber_id", sub.ID, "error", err)
		return welcomeFallback
	}

	e.remember(ctx, sub.ID,
		fmt.Sprintf("User just activated subscription. Sent welcome message: %s", msg),
		map[string]string{"interaction_type": "welcome", "plan_type": sub.PlanType})
	return msg
}

func (e *engine) Respond(ctx context.Context, sub *database.Subscriber, message string) string {
	digest := e.memory.Digest(ctx, sub.ID)
	if digest == "" {
		digest = "This is a new conversation - get to know the user!"
	}

	system := fmt.Sprintf(CoachSystemInstruction,
		orDefault(sub.PlanType, "unknown"),
		orDefault(sub.Email.String, "not provided"),
		orDefault(sub.PersonalGoals.String, "to be discovered"),
		orDefault(sub.Status, database.StatusActive),
		digest)

	reply, err := e.generate(ctx, system, message, 0.8, 300)
	if err != nil {
		e.logger.ErrorContext(ctx, "Error generating coaching response", "subscriber_id", sub.ID, "error", err)
		return respondFallback
	}

	e.remember(ctx, sub.ID,
		fmt.Sprintf("User said: %s. Coach responded: %s", message, reply),
		map[string]string{"interaction_type": "conversation"})
	return reply
}

func (e *engine) DailyAffirmation(ctx context.Context, sub *database.Subscriber) string {
	digest := truncate(e.memory.Digest(ctx, sub.ID), digestLimit)
	if digest == "" {
		digest = "New user, no previous context"
	}

	system := fmt.Sprintf(AffirmationSystemInstruction, shortName(sub.Email.String), digest)

	affirmation, err := e.generate(ctx, system, "Generate today's personalized affirmation", 0.9, 100)
	if err != nil {
		e.logger.ErrorContext(ctx, "Error generating daily affirmation", "subscriber_id", sub.ID, "error", err)
		return affirmationFallback
	}

	e.remember(ctx, sub.ID,
		fmt.Sprintf("Sent daily affirmation: %s", affirmation),
		map[string]string{
			"interaction_type": "daily_affirmation",
			"date":             time.Now().UTC().Format(time.RFC3339),
		})
	return affirmation
}

func (e *engine) GratitudePrompt(ctx context.Context, sub *database.Subscriber) string {
	digest := truncate(e.memory.Digest(ctx, sub.ID), digestLimit)
	if digest == "" {
		digest = "New user"
	}

	system := fmt.Sprintf(GratitudeSystemInstruction, digest)

	prompt, err := e.generate(ctx, system, "Generate tonight's gratitude reflection prompt", 0.8, 80)
	if err != nil {
		e.logger.ErrorContext(ctx, "Error generating gratitude prompt", "subscriber_id", sub.ID, "error", err)
		return gratitudeFallback
	}

	e.remember(ctx, sub.ID,
		fmt.Sprintf("Sent gratitude prompt: %s", prompt),
		map[string]string{
			"interaction_type": "gratitude_prompt",
			"date":             time.Now().UTC().Format(time.RFC3339),
		})
	return prompt
}

// generate performs a single model invocation with the given role-structured
// prompt and per-operation sampling budget. A failed call is terminal; the
// caller falls back to a fixed reply.
func (e *engine) generate(ctx context.Context, system, user string, temperature float32, maxTokens int32) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(temperature),
		MaxOutputTokens:   maxTokens,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
	}

	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	resp, err := e.model.GenerateContent(ctx, e.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("model returned empty content")
	}
	return text, nil
}

// remember appends an exchange summary to long-term memory. Failures are
// logged and swallowed; memory is best-effort.
func (e *engine) remember(ctx context.Context, subscriberID, message string, metadata map[string]string) {
	if err := e.memory.Add(ctx, subscriberID, message, metadata); err != nil {
		e.logger.WarnContext(ctx, "Failed to store memory", "subscriber_id", subscriberID, "error", err)
	}
}

// shortName derives a friendly name from an email address local part.
func shortName(email string) string {
	if email == "" {
		return "friend"
	}
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
