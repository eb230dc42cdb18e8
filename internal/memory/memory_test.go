package memory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/positivitypush/backend/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.MemoryConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAdd(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody Record

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	err := c.Add(context.Background(), "sub-1", "User wants to run a marathon",
		map[string]string{"interaction_type": "conversation"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if gotPath != "POST /memories" {
		t.Errorf("request = %q, want POST /memories", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want Bearer test-key", gotAuth)
	}
	if gotBody.UserID != "sub-1" || gotBody.Message != "User wants to run a marathon" {
		t.Errorf("body = %+v, want the memory payload", gotBody)
	}
	if gotBody.Metadata["interaction_type"] != "conversation" {
		t.Errorf("metadata = %v, want interaction_type conversation", gotBody.Metadata)
	}
}

func TestAddServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	if err := c.Add(context.Background(), "sub-1", "msg", nil); err == nil {
		t.Fatal("Add() error = nil, want error for non-2xx status")
	}
}

func TestDigest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "sub-1" {
			t.Errorf("user_id = %q, want sub-1", r.URL.Query().Get("user_id"))
		}
		if r.URL.Query().Get("limit") != "10" {
			t.Errorf("limit = %q, want 10", r.URL.Query().Get("limit"))
		}
		_ = json.NewEncoder(w).Encode(memoriesResponse{Memories: []Record{
			{Message: "Training for a marathon"},
			{Message: "Prefers morning check-ins"},
		}})
	})

	got := c.Digest(context.Background(), "sub-1")
	want := "- Training for a marathon\n- Prefers morning check-ins"
	if got != want {
		t.Errorf("Digest() = %q, want %q", got, want)
	}
}

func TestDigestEmptyAndDegraded(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "no memories stored",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(memoriesResponse{})
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal error", http.StatusInternalServerError)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			if got := c.Digest(context.Background(), "sub-1"); got != "" {
				t.Errorf("Digest() = %q, want empty string", got)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	var gotBody map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/memories/search" {
			t.Errorf("request = %s %s, want POST /memories/search", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(searchResponse{Results: []Record{
			{Message: "Training for a marathon"},
		}})
	})

	results, err := c.Search(context.Background(), "sub-1", "fitness goals", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Message != "Training for a marathon" {
		t.Errorf("Search() = %v, want the matched record", results)
	}
	if gotBody["query"] != "fitness goals" {
		t.Errorf("query = %v, want fitness goals", gotBody["query"])
	}
	if gotBody["limit"] != float64(5) {
		t.Errorf("limit = %v, want default 5", gotBody["limit"])
	}
}

func TestDeleteAll(t *testing.T) {
	var gotPath string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteAll(context.Background(), "sub-1"); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if gotPath != "DELETE /memories/users/sub-1" {
		t.Errorf("request = %q, want DELETE /memories/users/sub-1", gotPath)
	}
}
