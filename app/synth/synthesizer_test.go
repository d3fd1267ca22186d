package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/research-digest/app/papers"
	"github.com/lysyi3m/research-digest/app/retry"
)

func testRequest() Request {
	return Request{
		Papers: []papers.Paper{
			{ID: "1", Title: "First Paper", Abstract: "About transformers.", Authors: []string{"A", "B", "C", "D"}},
			{ID: "2", Title: "Second Paper", Abstract: "About diffusion."},
		},
		Params: Params{Model: "test-model", MaxTokens: 1000, Temperature: 0.7, TopP: 0.9},
		Date:   time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
	}
}

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"model": "served-model",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	})
	return string(body)
}

func newTestSynthesizer(serverURL string, maxChars int) *Synthesizer {
	client := NewClient(http.DefaultClient, serverURL, "secret", "test-agent")
	policy := retry.NewPolicy("generation", 3, time.Millisecond, IsRetryable)
	return NewSynthesizer(client, policy, 5*time.Second, maxChars)
}

func TestSynthesizer_Synthesize_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Expected bearer credential, got '%s'", r.Header.Get("Authorization"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		if req.Model != "test-model" || req.MaxTokens != 1000 || req.Temperature != 0.7 {
			t.Errorf("Unexpected generation parameters: %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("Expected system and user messages, got %+v", req.Messages)
		}

		fmt.Fprint(w, completionBody("# Title\n\nBody text."))
	}))
	defer server.Close()

	synthesizer := newTestSynthesizer(server.URL, 10000)

	result, err := synthesizer.Synthesize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !result.Success {
		t.Error("Expected success flag")
	}
	if result.Text != "# Title\n\nBody text." {
		t.Errorf("Unexpected text: %q", result.Text)
	}
	if result.Model != "served-model" {
		t.Errorf("Expected model reported by service, got '%s'", result.Model)
	}
	if result.Usage.TotalTokens != 150 {
		t.Errorf("Expected 150 total tokens, got %d", result.Usage.TotalTokens)
	}
	if result.CompletedAt.IsZero() {
		t.Error("Expected completion timestamp")
	}
	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}
}

func TestSynthesizer_Synthesize_AuthFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	synthesizer := newTestSynthesizer(server.URL, 10000)

	result, err := synthesizer.Synthesize(context.Background(), testRequest())
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("Expected ErrGenerationUnavailable, got: %v", err)
	}
	if result.Success {
		t.Error("Expected failure flag")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestSynthesizer_Synthesize_TransientFailureExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	synthesizer := newTestSynthesizer(server.URL, 10000)

	_, err := synthesizer.Synthesize(context.Background(), testRequest())
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("Expected ErrGenerationUnavailable, got: %v", err)
	}
	// one call plus two retries
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestSynthesizer_Synthesize_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, completionBody("Recovered text."))
	}))
	defer server.Close()

	synthesizer := newTestSynthesizer(server.URL, 10000)

	result, err := synthesizer.Synthesize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", result.Attempts)
	}
}

func TestSynthesizer_Synthesize_EmptyText(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, completionBody("   \n  "))
	}))
	defer server.Close()

	synthesizer := newTestSynthesizer(server.URL, 10000)

	_, err := synthesizer.Synthesize(context.Background(), testRequest())
	if !errors.Is(err, ErrGenerationEmpty) {
		t.Fatalf("Expected ErrGenerationEmpty, got: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestSynthesizer_Synthesize_MalformedResponseIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"choices": "nope"`)
	}))
	defer server.Close()

	synthesizer := newTestSynthesizer(server.URL, 10000)

	_, err := synthesizer.Synthesize(context.Background(), testRequest())
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("Expected ErrGenerationUnavailable, got: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestSynthesizer_Synthesize_TruncatesOversizedText(t *testing.T) {
	long := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(long))
	}))
	defer server.Close()

	synthesizer := newTestSynthesizer(server.URL, 100)

	result, err := synthesizer.Synthesize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Truncated {
		t.Error("Expected truncated flag")
	}
	if result.Text != strings.Repeat("a", 60) {
		t.Errorf("Expected cut at the paragraph break, got %q", result.Text)
	}
}

func TestSynthesizer_Synthesize_InvalidParams(t *testing.T) {
	synthesizer := newTestSynthesizer("http://127.0.0.1:0", 100)

	req := testRequest()
	req.Params.MaxTokens = 0

	if _, err := synthesizer.Synthesize(context.Background(), req); !errors.Is(err, ErrGenerationUnavailable) {
		t.Errorf("Expected ErrGenerationUnavailable for invalid params, got: %v", err)
	}
}

func TestBuildMessages(t *testing.T) {
	messages := BuildMessages(testRequest())

	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}

	user := messages[1].Content
	first := strings.Index(user, "Title: First Paper")
	second := strings.Index(user, "Title: Second Paper")
	if first < 0 || second < 0 || first > second {
		t.Errorf("Expected papers in ranking order, got:\n%s", user)
	}

	for _, marker := range []string{"## Overview", "## Synthesis", "# <an engaging title"} {
		if !strings.Contains(user, marker) {
			t.Errorf("Expected prompt to contain %q", marker)
		}
	}
	if !strings.Contains(user, "Authors: A, B, C et al.") {
		t.Errorf("Expected author list to be shortened, got:\n%s", user)
	}
	if !strings.Contains(user, "January 2, 2024") {
		t.Error("Expected the digest date in the prompt")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unauthorized", &APIError{StatusCode: 401}, false},
		{"forbidden", &APIError{StatusCode: 403}, false},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 500}, true},
		{"timeout", context.DeadlineExceeded, true},
		{"empty", ErrGenerationEmpty, false},
		{"malformed", fmt.Errorf("%w: eof", errMalformedResponse), true},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tt.name, got, tt.want)
		}
	}
}
