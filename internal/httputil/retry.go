// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP retry helpers shared by the remote clients.
package httputil

import (
	"context"
	"io"
	"net/http"
	"time"
)

// RetryBaseDelay controls the base duration for exponential backoff between
// retry attempts. Tests override this to avoid real sleeps.
var RetryBaseDelay = 500 * time.Millisecond

// DefaultMaxAttempts bounds the retry loop for every network call.
const DefaultMaxAttempts = 3

// Backoff returns the delay before retrying after the given 1-based attempt:
// base, 2×base, 4×base, ...
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return RetryBaseDelay << (attempt - 1)
}

// Sleep waits for d or until the context is cancelled, returning ctx.Err()
// in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// DrainClose discards and closes a response body so the underlying
// connection can be reused across retries.
func DrainClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
