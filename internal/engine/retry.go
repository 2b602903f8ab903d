package engine

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// IsRetryableError classifies whether a node failure should be retried.
// Typed EngineErrors carry their own classification; network errors and
// deadline overruns are transient; a cancelled context means the run is
// shutting down and is never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Deadline exceeded is a per-attempt timeout, not a shutdown.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// NextDelay computes the backoff before the given attempt (1-based; the
// delay precedes attempt+1): min(maxDelay, initialDelay * multiplier^(attempt-1)),
// then adjusted by ±jitter fraction.
func NextDelay(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		policy = schema.DefaultRetryPolicy()
	}
	if attempt < 1 {
		attempt = 1
	}

	initial := parseDurationOr(policy.InitialDelay, time.Second)
	maxDelay := parseDurationOr(policy.MaxDelay, 60*time.Second)

	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	delay := float64(initial)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if time.Duration(delay) >= maxDelay {
			delay = float64(maxDelay)
			break
		}
	}
	if time.Duration(delay) > maxDelay {
		delay = float64(maxDelay)
	}

	if policy.Jitter > 0 {
		// uniform in [1-jitter, 1+jitter]
		factor := 1 + policy.Jitter*(2*rand.Float64()-1)
		delay *= factor
	}

	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
