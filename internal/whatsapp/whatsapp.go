// Package whatsapp implements the outbound message gateway over the WhatsApp
// Cloud API (graph.facebook.com).
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/positivitypush/backend/internal/config"
)

const graphAPIBase = "https://graph.facebook.com/v18.0"

// Sender sends text messages to a WhatsApp user. The webhook handlers and
// the scheduler depend on this interface so tests can substitute fakes.
type Sender interface {
	SendText(ctx context.Context, to, message string) error
	MarkRead(ctx context.Context, messageID string) error
}

// Client talks to the WhatsApp Cloud API for a single business phone number.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type readReceipt struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

// NewClient creates a WhatsApp Cloud API client for the configured phone id.
func NewClient(cfg config.WhatsAppConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: fmt.Sprintf("%s/%s", graphAPIBase, cfg.PhoneID),
		token:   cfg.Token,
		http:    &http.Client{},
		logger:  logger.With("component", "whatsapp"),
	}
}

// SendText sends a plain text message to the given WhatsApp id.
func (c *Client) SendText(ctx context.Context, to, message string) error {
	payload := textMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: message},
	}

	if err := c.post(ctx, payload); err != nil {
		c.logger.ErrorContext(ctx, "Failed to send WhatsApp message", "to", to, "error", err)
		return err
	}

	c.logger.InfoContext(ctx, "Message sent successfully", "to", to)
	return nil
}

// MarkRead marks an inbound message as read so the user sees delivery ticks.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	payload := readReceipt{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}

	if err := c.post(ctx, payload); err != nil {
		c.logger.WarnContext(ctx, "Failed to mark message as read", "message_id", messageID, "error", err)
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create message request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("message request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("message send returned status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
