package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"
)

// RetryPolicy configures how failed embedding calls are retried.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first (<= 1 disables retries)
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap for the exponential backoff
	Jitter      float64       // random spread applied to each delay, as a fraction (0.2 = +-20%)
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Backoff returns the un-jittered delay before the given attempt (attempt 1
// is the first retry).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Errors may implement these to steer the retry loop.
type (
	temporary interface{ Temporary() bool }
	delayer   interface{ RetryDelay() time.Duration }
)

// Retrying wraps an Embedder with RetryPolicy.
type Retrying struct {
	inner  Embedder
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps inner. A nil logger discards retry logs.
func NewRetrying(inner Embedder, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Retrying{inner: inner, policy: policy, logger: logger, sleep: sleepCtx}
}

// Name returns the wrapped embedder name.
func (r *Retrying) Name() string { return r.inner.Name() }

// EmbedBatch calls the wrapped embedder until it succeeds, the error is not
// retryable, the attempts are exhausted or ctx is done.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	attempts := max(r.policy.MaxAttempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt, lastErr)
			r.logger.Debug("retrying embedding call",
				"embedder", r.inner.Name(), "attempt", attempt+1, "delay", delay, "err", lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		vecs, err := r.inner.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", attempts, lastErr)
}

func (r *Retrying) delay(attempt int, err error) time.Duration {
	d := r.policy.Backoff(attempt)
	if j := r.policy.Jitter; j > 0 {
		d = time.Duration(float64(d) * (1 + j*(2*rand.Float64()-1)))
	}
	var dl delayer
	if errors.As(err, &dl) {
		if ra := dl.RetryDelay(); ra > d {
			d = ra
		}
	}
	return d
}

// IsRetryable reports whether err is worth another attempt. Errors with a
// Temporary method decide for themselves.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
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
