// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package classify sends document context to an OpenAI-compatible chat
// completion endpoint and validates the JSON answer into a Classification.
// Calls are rate limited, retried with backoff, and guarded by a circuit
// breaker so a struggling provider does not absorb the whole retry budget
// of every remaining document.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/pdiddy/papersort/internal/httputil"
	"github.com/pdiddy/papersort/pkg/types"
)

// Error indicates that classification failed: the endpoint was unreachable,
// rejected the request, or returned output that did not survive validation.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "classification: " + e.Reason
	}
	return fmt.Sprintf("classification: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// breakerTrip is the consecutive-failure count that opens the circuit.
const breakerTrip = 5

// Options configures a Classifier.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration

	// RequestsPerMinute caps the call rate; zero or negative disables
	// the limiter.
	RequestsPerMinute int

	// CustomInstructions and BaselineRules are appended to the system
	// prompt; Labels, when non-nil, lists the store's existing entities
	// so the model prefers them over inventing new ones.
	CustomInstructions string
	BaselineRules      map[string]any
	Labels             *types.Mappings

	Log *slog.Logger
}

// Classifier talks to one chat completion endpoint with a fixed system
// prompt.
type Classifier struct {
	endpoint     string
	apiKey       string
	model        string
	http         *http.Client
	log          *slog.Logger
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker[*chatResponse]
	systemPrompt string
}

// New builds a Classifier. The system prompt is rendered once up front;
// a broken prompt configuration fails here, not per document.
func New(opts Options) (*Classifier, error) {
	prompt, err := renderSystemPrompt(opts.CustomInstructions, opts.BaselineRules, opts.Labels)
	if err != nil {
		return nil, &Error{Reason: "rendering system prompt", Err: err}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	c := &Classifier{
		endpoint:     strings.TrimRight(opts.BaseURL, "/") + "/chat/completions",
		apiKey:       opts.APIKey,
		model:        opts.Model,
		http:         &http.Client{Timeout: opts.Timeout},
		log:          opts.Log,
		limiter:      limiter,
		systemPrompt: prompt,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*chatResponse](gobreaker.Settings{
		Name:        "classify",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
	})
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage types.Usage `json:"usage"`
}

// Classify sends one document to the model and returns the validated
// result. Transport failures, non-2xx responses, and invalid model output
// all retry with backoff; only transport and HTTP failures count against
// the circuit breaker, since a malformed answer is the model's fault, not
// the provider's health.
func (c *Classifier) Classify(ctx context.Context, doc types.Document, currentTags []string) (types.Classification, error) {
	user, err := userMessage(doc, currentTags)
	if err != nil {
		return types.Classification{}, &Error{Reason: "building document payload", Err: err}
	}

	body := chatRequest{
		Model:          c.model,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return types.Classification{}, &Error{Reason: "marshaling request", Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= httputil.DefaultMaxAttempts; attempt++ {
		if attempt > 1 {
			if err := httputil.Sleep(ctx, httputil.Backoff(attempt-1)); err != nil {
				return types.Classification{}, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return types.Classification{}, err
		}

		resp, err := c.breaker.Execute(func() (*chatResponse, error) {
			return c.send(ctx, payload)
		})
		if err != nil {
			lastErr = err
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				break
			}
			c.log.Warn("classification request failed",
				"document", doc.ID, "attempt", attempt, "error", err)
			continue
		}

		result, err := parseClassification(resp)
		if err != nil {
			lastErr = err
			c.log.Warn("classification output invalid",
				"document", doc.ID, "attempt", attempt, "error", err)
			continue
		}
		return result, nil
	}

	return types.Classification{}, &Error{Reason: "model response invalid or request failed", Err: lastErr}
}

func (c *Classifier) send(ctx context.Context, payload []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

// PreflightTokenBudget probes the provider's rate-limit headers before a
// run starts and fails when fewer than minRemaining API tokens are left.
// Providers that do not send the header pass with a warning; these are API
// rate limits, not subscription quota.
func (c *Classifier) PreflightTokenBudget(ctx context.Context, minRemaining int) error {
	probe := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: "healthcheck"}},
		MaxTokens:   1,
		Temperature: 0,
	}
	payload, err := json.Marshal(probe)
	if err != nil {
		return &Error{Reason: "marshaling probe", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &Error{Reason: "creating probe request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Reason: "token precheck failed, endpoint unreachable", Err: err}
	}
	defer httputil.DrainClose(resp)

	if resp.StatusCode != http.StatusOK {
		return &Error{Reason: fmt.Sprintf("token precheck failed, endpoint returned %d", resp.StatusCode)}
	}

	raw := resp.Header.Get("x-ratelimit-remaining-tokens")
	if raw == "" {
		c.log.Warn("token precheck skipped, provider sends no x-ratelimit-remaining-tokens header")
		return nil
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return &Error{Reason: "token precheck failed, invalid rate-limit header", Err: err}
	}

	c.log.Info("token precheck", "remaining", remaining, "minimum", minRemaining)
	if remaining < minRemaining {
		return &Error{Reason: fmt.Sprintf("too few remaining API tokens before start: remaining=%d, need at least %d", remaining, minRemaining)}
	}
	return nil
}
