// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schedule

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pdiddy/mesh-augment/pkg/types"
)

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

const defaultMaxRetries = 3

// RetryPolicy decides whether a failed outbound call is attempted again.
// The policy runs inside the call's concurrency slot, so retries never push
// the number of in-flight calls over the ceiling.
type RetryPolicy interface {
	Do(ctx context.Context, attempt func(context.Context) ([]string, error)) ([]string, error)
}

// NoRetry makes a call's first failure terminal. The label receives fewer
// generations than its deficit; nothing compensates for it later.
type NoRetry struct{}

// Do runs attempt once.
func (NoRetry) Do(ctx context.Context, attempt func(context.Context) ([]string, error)) ([]string, error) {
	return attempt(ctx)
}

// RetryWithBackoff retries a failed call up to MaxRetries times, waiting
// Base, 2*Base, 4*Base, ... between attempts.
type RetryWithBackoff struct {
	MaxRetries int
	Base       time.Duration
}

// Do runs attempt until it succeeds, retries are exhausted, or ctx ends.
func (p RetryWithBackoff) Do(ctx context.Context, attempt func(context.Context) ([]string, error)) ([]string, error) {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	base := p.Base
	if base <= 0 {
		base = backoffBase
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			backoff := time.Duration(math.Pow(2, float64(i-1))) * base
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		choices, err := attempt(ctx)
		if err == nil {
			return choices, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// PolicyFor maps the configured policy name to a RetryPolicy.
func PolicyFor(cfg types.GenerationConfig) (RetryPolicy, error) {
	switch cfg.RetryPolicy {
	case "", types.RetryNone:
		return NoRetry{}, nil
	case types.RetryBackoff:
		return RetryWithBackoff{MaxRetries: cfg.MaxRetries}, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q: use none or backoff", cfg.RetryPolicy)
	}
}
