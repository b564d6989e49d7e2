// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/papersort/internal/httputil"
	"github.com/pdiddy/papersort/pkg/types"
)

const validModelJSON = `{
	"document_type": "Invoice",
	"correspondent": "Acme Corp",
	"storage_path": "Finance",
	"tags": ["invoice", "2024"],
	"document_date": "2024-05-01",
	"summary": "Invoice for office supplies.",
	"confidence": 0.9,
	"rationale": "Letterhead and line items."
}`

func chatBody(modelJSON string) string {
	wrapped, _ := json.Marshal(modelJSON)
	return fmt.Sprintf(`{
		"choices": [{"message": {"content": %s}}],
		"usage": {"prompt_tokens": 120, "completion_tokens": 40, "total_tokens": 160}
	}`, wrapped)
}

func testClassifier(t *testing.T, ts *httptest.Server, opts Options) *Classifier {
	t.Helper()
	opts.BaseURL = ts.URL
	if opts.APIKey == "" {
		opts.APIKey = "sk-test"
	}
	if opts.Model == "" {
		opts.Model = "gpt-test"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func fastRetries(t *testing.T) {
	t.Helper()
	old := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	t.Cleanup(func() { httputil.RetryBaseDelay = old })
}

// --- Classify ---

func TestClassify(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatBody(validModelJSON))
	}))
	defer ts.Close()

	c := testClassifier(t, ts, Options{})
	doc := types.Document{ID: 7, Title: "Rechnung 2024-05", Content: "Total due: 100 EUR", Created: "2024-05-01"}
	result, err := c.Classify(t.Context(), doc, []string{"inbox"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq["temperature"] != 0.1 {
		t.Errorf("temperature = %v, want 0.1", gotReq["temperature"])
	}
	rf, _ := gotReq["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", gotReq["response_format"])
	}
	msgs, _ := gotReq["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system and user", msgs)
	}
	user := msgs[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, `"current_tags":["inbox"]`) {
		t.Errorf("user message = %q, should carry current tags", user)
	}

	if result.DocumentType != "Invoice" || result.Correspondent != "Acme Corp" {
		t.Errorf("result = %+v", result)
	}
	if result.Confidence != 0.9 {
		t.Errorf("Confidence = %v", result.Confidence)
	}
	if result.Usage.PromptTokens != 120 || result.Usage.Total() != 160 {
		t.Errorf("Usage = %+v, want envelope counts", result.Usage)
	}
}

func TestClassifyRetriesMalformedOutput(t *testing.T) {
	fastRetries(t)

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			fmt.Fprint(w, chatBody(`not json at all`))
			return
		}
		fmt.Fprint(w, chatBody(validModelJSON))
	}))
	defer ts.Close()

	c := testClassifier(t, ts, Options{})
	result, err := c.Classify(t.Context(), types.Document{ID: 1}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want malformed output retried", calls)
	}
	if result.DocumentType != "Invoice" {
		t.Errorf("result = %+v", result)
	}
}

func TestClassifyExhaustedRetries(t *testing.T) {
	fastRetries(t)

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := testClassifier(t, ts, Options{})
	_, err := c.Classify(t.Context(), types.Document{ID: 1}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("error = %T, want *Error", err)
	}
	if calls != httputil.DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", calls, httputil.DefaultMaxAttempts)
	}
	if !strings.Contains(err.Error(), "endpoint returned 500") {
		t.Errorf("error = %q, should carry the last failure", err)
	}
}

func TestClassifyBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fastRetries(t)

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := testClassifier(t, ts, Options{})
	// Two documents: the first burns 3 attempts, the second trips the
	// breaker on its second attempt and stops calling out.
	_, err1 := c.Classify(t.Context(), types.Document{ID: 1}, nil)
	_, err2 := c.Classify(t.Context(), types.Document{ID: 2}, nil)
	if err1 == nil || err2 == nil {
		t.Fatal("expected errors")
	}
	if calls != breakerTrip {
		t.Errorf("calls = %d, want breaker to cut off at %d consecutive failures", calls, breakerTrip)
	}
}

// --- PreflightTokenBudget ---

func TestPreflightTokenBudget(t *testing.T) {
	tests := []struct {
		name      string
		remaining string
		min       int
		wantErr   string
	}{
		{"enough tokens", "50000", 1000, ""},
		{"header missing passes with warning", "", 1000, ""},
		{"too few tokens", "500", 1000, "too few remaining"},
		{"unparseable header", "plenty", 1000, "invalid rate-limit header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Fatalf("decoding probe: %v", err)
				}
				if body["max_tokens"] != float64(1) {
					t.Errorf("max_tokens = %v, want 1", body["max_tokens"])
				}
				if tt.remaining != "" {
					w.Header().Set("x-ratelimit-remaining-tokens", tt.remaining)
				}
				fmt.Fprint(w, chatBody(validModelJSON))
			}))
			defer ts.Close()

			err := testClassifier(t, ts, Options{}).PreflightTokenBudget(t.Context(), tt.min)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("PreflightTokenBudget: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestPreflightTokenBudgetEndpointDown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	err := testClassifier(t, ts, Options{}).PreflightTokenBudget(t.Context(), 100)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %v, want 401 failure", err)
	}
}
