// Package memory implements the mem0 long-term memory gateway. The coaching
// engine appends conversation summaries here and reads back a bounded,
// formatted digest of what it knows about a subscriber.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/positivitypush/backend/internal/config"
)

const defaultDigestLimit = 10

// Client talks to the mem0 REST API for a single configured project.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// Record is one stored memory entry.
type Record struct {
	ID       string            `json:"id,omitempty"`
	UserID   string            `json:"user_id"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type memoriesResponse struct {
	Memories []Record `json:"memories"`
}

type searchResponse struct {
	Results []Record `json:"results"`
}

// NewClient creates a mem0 client. The per-call timeout comes from the
// configured memory timeout.
func NewClient(cfg config.MemoryConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "memory"),
	}
}

// Add appends one memory for the subscriber. Metadata tags the interaction
// type so later digests can be filtered server-side.
func (c *Client) Add(ctx context.Context, userID, message string, metadata map[string]string) error {
	payload := Record{
		UserID:   userID,
		Message:  message,
		Metadata: metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode memory payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/memories", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create memory request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("memory add request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("memory add returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	c.logger.DebugContext(ctx, "Memory added", "user_id", userID)
	return nil
}

// Digest returns the subscriber's recent memories formatted as a bulleted
// context block, or an empty string when there is nothing stored. Transport
// failures are logged and reported as an empty digest so prompt building
// never fails on a memory outage.
func (c *Client) Digest(ctx context.Context, userID string) string {
	records, err := c.list(ctx, userID, defaultDigestLimit)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to fetch memories, continuing without digest",
			"user_id", userID, "error", err)
		return ""
	}
	if len(records) == 0 {
		return ""
	}

	var buf bytes.Buffer
	for i, r := range records {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString("- ")
		buf.WriteString(r.Message)
	}

	c.logger.DebugContext(ctx, "Retrieved memory digest", "user_id", userID, "count", len(records))
	return buf.String()
}

func (c *Client) list(ctx context.Context, userID string, limit int) ([]Record, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/memories?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory list request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memory list returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var parsed memoriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode memory list response: %w", err)
	}
	return parsed.Memories, nil
}

// Search queries the subscriber's memories with free text.
func (c *Client) Search(ctx context.Context, userID, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}

	payload := map[string]any{
		"user_id": userID,
		"query":   query,
		"limit":   limit,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/memories/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create memory search request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memory search returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode memory search response: %w", err)
	}

	c.logger.DebugContext(ctx, "Memory search completed", "user_id", userID, "results", len(parsed.Results))
	return parsed.Results, nil
}

// DeleteAll removes every memory stored for the subscriber. Used for data
// deletion requests.
func (c *Client) DeleteAll(ctx context.Context, userID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/memories/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return fmt.Errorf("failed to create memory delete request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("memory delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("memory delete returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	c.logger.InfoContext(ctx, "All memories deleted for user", "user_id", userID)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(b)
}
