// Package retry wraps a single call with an exponential backoff policy for
// retryable failures.
package retry

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/config"
	"github.com/rs/zerolog/log"
)

// Policy configures retries. MaxAttempts counts retries after the initial
// attempt, so a call is made at most MaxAttempts+1 times. Zero disables
// retrying.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// None is a policy that never retries.
var None = Policy{}

// FromConfig builds the default policy.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  cfg.Multiplier,
	}
}

// Delay is the wait before retry number n (1-based):
// BaseDelay * Multiplier^(n-1).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	return time.Duration(float64(p.BaseDelay) * math.Pow(multiplier, float64(n-1)))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Controller runs calls under a policy.
type Controller struct {
	sleep Sleeper
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleeper replaces the backoff sleep, for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) {
		c.sleep = s
	}
}

// New creates a controller that sleeps on real timers unless WithSleeper
// is given.
func New(opts ...Option) *Controller {
	c := &Controller{sleep: Sleep}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do calls fn until it succeeds, fails with an error that is not retryable,
// or the policy is exhausted. The final error is returned exactly as fn
// produced it. Cancelling ctx during a backoff wait returns ctx.Err().
func Do[T any](ctx context.Context, c *Controller, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	for retries := 0; ; retries++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if !apierror.IsRetryable(err) || retries >= p.MaxAttempts {
			return result, err
		}

		delay := p.Delay(retries + 1)

		log.Ctx(ctx).Debug().
			Int("retry", retries+1).
			Int("max_attempts", p.MaxAttempts).
			Dur("delay", delay).
			Err(err).
			Msg("retrying after retryable failure")

		if serr := c.sleep(ctx, delay); serr != nil {
			var zero T
			return zero, serr
		}
	}
}

// Safe reports whether method is an idempotent read that may be retried
// without the caller opting in.
func Safe(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
