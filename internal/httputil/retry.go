// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the LLM backends.
package httputil

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// HTTP 429 responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

const defaultMaxRetries = 5

// DoWithRetry executes an HTTP request and retries on HTTP 429 (Too Many
// Requests) with exponential backoff. The delay starts at RetryBaseDelay
// and doubles each attempt.
//
// When maxRetries is 0 the default (5) is used. On each 429 the response
// body is drained and closed before sleeping. If the context is cancelled
// during a backoff wait the function returns ctx.Err(). After exhausting
// retries the last 429 response is returned so the caller can inspect it.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	return doWithRetry(ctx, req, maxRetries, zap.NewNop(), func(r *http.Request) (*http.Response, error) {
		return client.Do(r)
	})
}

// RetryTransport is an http.RoundTripper that applies the DoWithRetry
// policy to every request. It lets SDK clients that own their request
// construction share the same 429 handling.
type RetryTransport struct {
	// Base performs the requests. Nil means http.DefaultTransport.
	Base http.RoundTripper
	// MaxRetries of 0 means the default (5).
	MaxRetries int
	// Logger receives one line per rate-limited attempt. Nil discards.
	Logger *zap.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	log := t.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return doWithRetry(req.Context(), req, t.MaxRetries, log, base.RoundTrip)
}

// NewClient returns an http.Client whose transport retries 429 responses.
func NewClient(timeout time.Duration, maxRetries int, logger *zap.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &RetryTransport{MaxRetries: maxRetries, Logger: logger},
	}
}

func doWithRetry(ctx context.Context, req *http.Request, maxRetries int, log *zap.Logger, send func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		r, err := rewind(ctx, req, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := send(r)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Exhausted retries; return the 429 response as-is.
		if attempt >= maxRetries {
			return resp, nil
		}

		// Drain and close the body before retrying.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		log.Info("rate limited, retrying",
			zap.String("host", req.URL.Host),
			zap.Duration("backoff", backoff),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// rewind returns a copy of req whose body is ready to be sent again.
func rewind(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	r := req.Clone(ctx)
	if attempt == 0 || req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("retrying %s %s: request body cannot be replayed", req.Method, req.URL)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewinding request body: %w", err)
	}
	r.Body = body
	return r, nil
}
