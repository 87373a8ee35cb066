package model

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy configures call-level retries. These retries are invisible to
// the workflow: a retried call still counts as one stage call and never as an
// extra generation attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first. Must be >= 1.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another try.
	// Defaults to IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient failures twice.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Retryable:   IsRetryable,
	}
}

// Validate checks the policy constraints.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("retry policy: MaxAttempts must be >= 1")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry policy: delays must be non-negative")
	}
	if p.MaxDelay < p.BaseDelay {
		return errors.New("retry policy: MaxDelay must be >= BaseDelay")
	}
	return nil
}

// WorstCase is the longest a call through Resilient can take when every try
// runs for callTimeout, counting the largest backoff and jitter between tries.
// It is zero when callTimeout is zero, since calls are then unbounded.
func (p RetryPolicy) WorstCase(callTimeout time.Duration) time.Duration {
	if callTimeout <= 0 || p.MaxAttempts < 1 {
		return 0
	}
	total := time.Duration(p.MaxAttempts) * callTimeout
	for attempt := 0; attempt < p.MaxAttempts-1; attempt++ {
		delay := p.MaxDelay
		if attempt < 30 {
			if d := p.BaseDelay * (1 << attempt); d > 0 && d < delay {
				delay = d
			}
		}
		total += delay + p.BaseDelay
	}
	return total
}

// computeBackoff returns min(base*2^attempt, maxDelay) plus jitter in [0, base).
// attempt is zero-based (0 = first retry).
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base * (1 << attempt)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	return delay + jitter
}

// Resilient decorates a ChatModel with a per-call timeout, bounded retry with
// exponential backoff and jitter, and an optional shared rate limiter.
//
// One Resilient is safe for concurrent use by many workflows; sharing it
// shares the limiter.
//
//	limiter := rate.NewLimiter(rate.Limit(5), 10)
//	m := model.NewResilient(openai.NewChatModel(key, ""),
//	    model.WithCallTimeout(60*time.Second),
//	    model.WithRateLimiter(limiter))
type Resilient struct {
	next    ChatModel
	timeout time.Duration
	policy  RetryPolicy
	limiter *rate.Limiter
	onRetry func(attempt int, delay time.Duration, err error)

	retries atomic.Int64
}

// ResilientOption configures a Resilient.
type ResilientOption func(*Resilient)

// WithCallTimeout bounds every individual provider call. Zero disables it.
func WithCallTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) { r.timeout = d }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) ResilientOption {
	return func(r *Resilient) { r.policy = p }
}

// WithRateLimiter makes every try wait on limiter first.
func WithRateLimiter(l *rate.Limiter) ResilientOption {
	return func(r *Resilient) { r.limiter = l }
}

// WithRetryHook registers a callback invoked before each backoff sleep.
func WithRetryHook(fn func(attempt int, delay time.Duration, err error)) ResilientOption {
	return func(r *Resilient) { r.onRetry = fn }
}

// NewResilient wraps next.
func NewResilient(next ChatModel, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		next:    next,
		timeout: 60 * time.Second,
		policy:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy.MaxAttempts < 1 {
		r.policy.MaxAttempts = 1
	}
	if r.policy.Retryable == nil {
		r.policy.Retryable = IsRetryable
	}
	return r
}

// Chat implements ChatModel.
func (r *Resilient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatOut, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return ChatOut{}, fmt.Errorf("rate limiter: %w", err)
			}
		}

		out, err := r.try(ctx, messages, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ChatOut{}, ctx.Err()
		}
		if !r.policy.Retryable(err) || attempt == r.policy.MaxAttempts-1 {
			break
		}

		delay := computeBackoff(attempt, r.policy.BaseDelay, r.policy.MaxDelay)
		r.retries.Add(1)
		if r.onRetry != nil {
			r.onRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ChatOut{}, ctx.Err()
		}
	}
	return ChatOut{}, lastErr
}

func (r *Resilient) try(ctx context.Context, messages []Message, opts ChatOptions) (ChatOut, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.next.Chat(callCtx, messages, opts)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return ChatOut{}, &CallError{
			Code:      CodeTimeout,
			Message:   fmt.Sprintf("call exceeded %s", r.timeout),
			Retryable: true,
			Cause:     err,
		}
	}
	return out, err
}

// Retries returns the number of retries performed across all calls.
func (r *Resilient) Retries() int64 {
	return r.retries.Load()
}
