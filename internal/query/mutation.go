package query

import (
	"context"
	"net/http"
	"time"

	"github.com/perkline/perkline/internal/request"
	"github.com/perkline/perkline/internal/retry"
	"github.com/rs/zerolog/log"
)

// MutationOptions configures a write.
type MutationOptions[T any] struct {
	Endpoint string
	// Method defaults to POST.
	Method string
	// Invalidates names the cache key evicted after a successful write.
	Invalidates string

	// Retry opts in to retrying retryable failures with the client's
	// policy, or with Policy when set.
	Retry  bool
	Policy *retry.Policy

	Global bool

	Headers  map[string]string
	Timeout  time.Duration
	SkipAuth bool

	Decode func(request.Body) (T, error)

	OnSuccess func(T)
	OnError   func(error)
	OnState   StateFunc[T]
}

// Mutation is a write with observable state. It never reads or populates
// the cache.
type Mutation[T any] struct {
	client *Client
	opts   MutationOptions[T]
	m      machine[T]
}

// NewMutation creates an idle mutation.
func NewMutation[T any](c *Client, opts MutationOptions[T]) *Mutation[T] {
	mu := &Mutation[T]{
		client: c,
		opts:   opts,
	}
	mu.m.onState = opts.OnState
	return mu
}

func (mu *Mutation[T]) State() State[T] {
	return mu.m.current()
}

// Reset returns the mutation to idle.
func (mu *Mutation[T]) Reset() {
	mu.m.update(func(s *State[T]) {
		*s = State[T]{}
	})
}

// Close stops the mutation publishing state.
func (mu *Mutation[T]) Close() {
	mu.m.close()
}

// Mutate sends body to the endpoint. On success the Invalidates key is
// evicted so that the next read fetches fresh data.
func (mu *Mutation[T]) Mutate(ctx context.Context, body any) (T, error) {
	opts := mu.opts

	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}

	mu.m.update(func(s *State[T]) {
		s.Status = StatusLoading
		s.Err = nil
		s.Message = ""
	})
	mu.notifyLoading(true)

	resp, _, err := mu.client.fetch(ctx, fetchParams{
		descriptor: request.Descriptor{
			Method:   method,
			Endpoint: opts.Endpoint,
			Body:     body,
			Headers:  opts.Headers,
			Timeout:  opts.Timeout,
			SkipAuth: opts.SkipAuth,
		},
		policy: mu.policy(),
	})

	var data T
	if err == nil {
		if opts.Decode != nil {
			data, err = opts.Decode(resp)
		} else {
			data, err = decode[T](resp)
		}
	}

	mu.notifyLoading(false)

	if err != nil {
		message := mu.client.Translate(err)
		if mu.m.update(func(s *State[T]) {
			s.Status = StatusError
			s.Err = err
			s.Message = message
		}) {
			if opts.Global && mu.client.notifier != nil {
				mu.client.notifier.SetError(message)
			}
			if opts.OnError != nil {
				opts.OnError(err)
			}
		}
		return data, err
	}

	if opts.Invalidates != "" {
		if ierr := mu.client.Invalidate(ctx, opts.Invalidates); ierr != nil {
			log.Ctx(ctx).Warn().Err(ierr).Str("key", opts.Invalidates).Msg("cache invalidation failed")
		}
	}

	if mu.m.update(func(s *State[T]) {
		s.Status = StatusSuccess
		s.Data = data
	}) {
		if opts.Global && mu.client.notifier != nil {
			mu.client.notifier.SetError("")
		}
		if opts.OnSuccess != nil {
			opts.OnSuccess(data)
		}
	}

	return data, nil
}

func (mu *Mutation[T]) policy() retry.Policy {
	if !mu.opts.Retry {
		return retry.None
	}
	if mu.opts.Policy != nil {
		return *mu.opts.Policy
	}
	return mu.client.policy
}

func (mu *Mutation[T]) notifyLoading(loading bool) {
	if mu.opts.Global && mu.client.notifier != nil && mu.m.alive() {
		mu.client.notifier.SetLoading(loading)
	}
}
