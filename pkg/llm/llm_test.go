package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Model     string    `json:"model"`
			Messages  []Message `json:"messages"`
			MaxTokens int       `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" || req.MaxTokens != 50 || len(req.Messages) != 2 {
			t.Errorf("request = %+v, want gpt-4o with 2 messages and max_tokens 50", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  US inflation outlook  "}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "sk-test"})
	out, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "You are a helpful assistant for generating finance-related search queries."},
		{Role: "user", Content: "Generate a finance-related search query for the latest news (1/3)"},
	}, 50)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "US inflation outlook" {
		t.Fatalf("content = %q, want trimmed completion", out)
	}
}

func TestCompleteAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want api error message surfaced", err)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	if _, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0); err == nil {
		t.Fatalf("Complete should fail on empty choices")
	}
}

func TestCompleteNoKey(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
}
