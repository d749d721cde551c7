package llm

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds transport retries. It never applies to parse failures.
type RetryPolicy struct {
	// MaxAttempts includes the first call. Values below 1 mean 1.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles each time.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
}

// DefaultRetryPolicy is used when the configuration leaves fields unset.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

// Delay returns the wait after the given failed attempt (1-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type retrying struct {
	inner  Generator
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithTransportRetry retries retryable transport failures with exponential backoff.
// Successful responses are returned untouched, however malformed.
func WithTransportRetry(g Generator, policy RetryPolicy, logger *slog.Logger) Generator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &retrying{inner: g, policy: policy, logger: logger, sleep: sleepCtx}
}

func (r *retrying) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		out, err := r.inner.Generate(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.policy.Delay(attempt)
		r.logger.Warn("generation transport failure, backing off",
			"attempt", attempt, "max_attempts", r.policy.MaxAttempts, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
