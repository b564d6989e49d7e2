// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package paperless implements the Paperless-ngx REST client used by the
// pipeline: paginated document reads, entity listing and creation, and
// write-back with layered fallbacks. Every network call retries with
// exponential backoff before surfacing a StoreError.
package paperless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/papersort/internal/httputil"
	"github.com/pdiddy/papersort/pkg/types"
)

const userAgent = "papersort/0.1"

// StoreError indicates a document-store failure after retries and
// fallbacks were exhausted. It wraps the last underlying error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("document store: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) *StoreError { return &StoreError{Op: op, Err: err} }

// apiError is a non-2xx response. It is retried like a transport error and
// inspected by the write-back fallback cascade.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:297] + "..."
	}
	if body == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, body)
}

// isServerError reports whether err stems from an HTTP 5xx response,
// the trigger for the write-back fallback cascade.
func isServerError(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status >= 500
}

// Client talks to one Paperless-ngx instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

// NewClient builds a client for the instance at baseURL (no trailing slash).
func NewClient(baseURL, token string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// request performs one JSON API call with bounded retry and exponential
// backoff. Transport errors, malformed bodies, and HTTP status >= 400 all
// count as retryable failures. path may be relative or an absolute URL
// (pagination hands back absolute next links). out, when non-nil, receives
// the decoded response body.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, payload, out any, attempts int) error {
	if attempts <= 0 {
		attempts = httputil.DefaultMaxAttempts
	}

	reqURL := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		reqURL = c.baseURL + path
	}
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := httputil.Sleep(ctx, httputil.Backoff(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = c.do(ctx, method, reqURL, body, out)
		if lastErr == nil {
			return nil
		}
		c.log.Warn("store request failed",
			"method", method, "path", path,
			"attempt", attempt, "attempts", attempts,
			"error", lastErr)
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, attempts, lastErr)
}

func (c *Client) do(ctx context.Context, method, reqURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parsing response body: %w", err)
		}
	}
	return nil
}

// Preflight checks that the store API is reachable and serving JSON before
// the scan starts. It probes a real endpoint rather than the API root, which
// some proxy setups mangle.
func (c *Client) Preflight(ctx context.Context) error {
	params := url.Values{"page_size": {"1"}}
	if err := c.request(ctx, http.MethodGet, "/api/documents/", params, nil, nil, 0); err != nil {
		return storeErr("preflight", err)
	}
	return nil
}

// documentsPage is one page of the documents list endpoint.
type documentsPage struct {
	Next    string           `json:"next"`
	Results []types.Document `json:"results"`
}

// Documents returns a lazy, newest-first iterator over at most limit
// documents. filter entries are added to the list query (e.g. tags__id).
// Iteration stops at limit or when the store reports no further page; a
// failed page fetch yields a single StoreError and ends the sequence.
func (c *Client) Documents(ctx context.Context, limit int, filter url.Values) iter.Seq2[types.Document, error] {
	return func(yield func(types.Document, error) bool) {
		if limit <= 0 {
			return
		}

		params := url.Values{
			"ordering":  {"-created"},
			"page_size": {strconv.Itoa(min(limit, 100))},
		}
		for key, values := range filter {
			params[key] = values
		}

		next := "/api/documents/"
		loaded := 0
		for next != "" && loaded < limit {
			var page documentsPage
			if err := c.request(ctx, http.MethodGet, next, params, nil, &page, 0); err != nil {
				yield(types.Document{}, storeErr("listing documents", err))
				return
			}
			// Subsequent pages carry their own query in the next link.
			params = nil

			for _, doc := range page.Results {
				if !yield(doc, nil) {
					return
				}
				loaded++
				if loaded >= limit {
					return
				}
			}
			next = page.Next
		}
	}
}
