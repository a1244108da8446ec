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

func TestCompleteClaude(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		var req ClaudeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.System != "sys" || len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"hi there"}]}`))
	}))
	defer srv.Close()

	c := NewClient(&ClientConfig{Provider: ProviderClaude, APIKey: "k", Endpoint: srv.URL})
	got, err := c.Complete(context.Background(), "sys", "hello")
	if err != nil || got != "hi there" {
		t.Errorf("Complete() = %q, %v", got, err)
	}
}

func TestCompleteOpenAICompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	for _, p := range []Provider{ProviderOpenAI, ProviderDeepSeek} {
		c := NewClient(&ClientConfig{Provider: p, APIKey: "k", Endpoint: srv.URL})
		if got, err := c.Complete(context.Background(), "s", "u"); err != nil || got != "ok" {
			t.Errorf("%s: Complete() = %q, %v", p, got, err)
		}
	}
}

func TestCompleteGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/gemini-test:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":1}"}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(&ClientConfig{Provider: ProviderGemini, APIKey: "k", Model: "gemini-test", Endpoint: srv.URL})
	got, err := c.Complete(context.Background(), "", "u")
	if err != nil || got != `{"a":1}` {
		t.Errorf("Complete() = %q, %v", got, err)
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request","message":"bad"}}`))
	}))
	defer srv.Close()

	c := NewClient(&ClientConfig{Provider: ProviderClaude, APIKey: "k", Endpoint: srv.URL})
	if _, err := c.Complete(context.Background(), "", "u"); err == nil {
		t.Error("expected API error")
	}
}

func TestCompleteNotConfigured(t *testing.T) {
	c := NewClient(&ClientConfig{Provider: ProviderClaude})
	if _, err := c.Complete(context.Background(), "", "u"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
		{"```json {\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := StripMarkdownCodeBlock(tt.in); got != tt.want {
			t.Errorf("StripMarkdownCodeBlock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
