package query

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/perkline/perkline/internal/cache"
	"github.com/perkline/perkline/internal/request"
	"github.com/perkline/perkline/internal/retry"
)

// Options configures a read.
type Options[T any] struct {
	Endpoint string
	// Method defaults to GET.
	Method string
	// Params are sent as query string parameters and hashed into the cache
	// key.
	Params map[string]string
	// Key names the cache entry explicitly, replacing the derived key.
	Key string
	// TTL of the cached response. Zero uses the client default.
	TTL time.Duration
	// SkipCache always fetches from the network and never stores.
	SkipCache bool
	// Manual stops Activate from fetching; only Refetch does.
	Manual bool

	// Retry overrides the client's retry policy.
	Retry *retry.Policy
	// NoRetry disables retry-on-error for this query.
	NoRetry bool

	// Global surfaces loading and error state through the client's
	// Notifier.
	Global bool

	Headers  map[string]string
	Timeout  time.Duration
	SkipAuth bool

	// Decode converts the response. Defaults to JSON decoding into T.
	Decode func(request.Body) (T, error)

	OnSuccess func(T)
	OnError   func(error)
	OnState   StateFunc[T]
}

// Query is a cached read with observable state. It is safe for concurrent
// use.
type Query[T any] struct {
	client *Client
	m      machine[T]

	mu   sync.Mutex
	opts Options[T]
}

// NewQuery creates an idle query. Nothing is fetched until Activate or
// Refetch.
func NewQuery[T any](c *Client, opts Options[T]) *Query[T] {
	q := &Query[T]{
		client: c,
		opts:   opts,
	}
	q.m.onState = opts.OnState
	return q
}

// State returns the current state.
func (q *Query[T]) State() State[T] {
	return q.m.current()
}

// Key is the cache key of the query's current endpoint and params.
func (q *Query[T]) Key() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.keyLocked()
}

func (q *Query[T]) keyLocked() string {
	if q.opts.Key != "" {
		return q.opts.Key
	}
	if len(q.opts.Params) == 0 {
		return cache.Key(q.opts.Endpoint, nil)
	}
	return cache.Key(q.opts.Endpoint, q.opts.Params)
}

// WithParams appends params to the endpoint's query string.
func WithParams(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}

	return endpoint + sep + values.Encode()
}

// Activate fetches the query's data, consulting the cache first. It does
// nothing for manual queries or when there is no endpoint, returning the
// current data.
func (q *Query[T]) Activate(ctx context.Context) (T, error) {
	q.mu.Lock()
	skip := q.opts.Manual || q.opts.Endpoint == ""
	q.mu.Unlock()

	if skip {
		return q.State().Data, nil
	}

	return q.run(ctx, true)
}

// Refetch fetches from the network, bypassing the cache, and stores the
// fresh result.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	q.mu.Lock()
	empty := q.opts.Endpoint == ""
	q.mu.Unlock()

	if empty {
		return q.State().Data, nil
	}

	return q.run(ctx, false)
}

// SetEndpoint changes the endpoint, as when a tracked dependency changes,
// and activates the query again.
func (q *Query[T]) SetEndpoint(ctx context.Context, endpoint string) (T, error) {
	q.mu.Lock()
	q.opts.Endpoint = endpoint
	q.mu.Unlock()

	return q.Activate(ctx)
}

// Reset clears data and error, and evicts the query's cache entry.
func (q *Query[T]) Reset(ctx context.Context) error {
	q.m.update(func(s *State[T]) {
		*s = State[T]{}
	})

	return q.client.Invalidate(ctx, q.Key())
}

// Close stops the query publishing state. Work in flight completes, but its
// outcome is discarded and no callbacks run.
func (q *Query[T]) Close() {
	q.m.close()
}

func (q *Query[T]) run(ctx context.Context, readCache bool) (T, error) {
	q.mu.Lock()
	opts := q.opts
	key := q.keyLocked()
	q.mu.Unlock()

	if opts.SkipCache {
		readCache = false
	}

	q.m.update(func(s *State[T]) {
		s.Status = StatusLoading
		s.Err = nil
		s.Message = ""
	})
	q.notifyLoading(opts.Global, true)

	body, cached, err := q.client.fetch(ctx, fetchParams{
		descriptor: request.Descriptor{
			Method:   opts.Method,
			Endpoint: WithParams(opts.Endpoint, opts.Params),
			Headers:  opts.Headers,
			Timeout:  opts.Timeout,
			SkipAuth: opts.SkipAuth,
		},
		key:       key,
		readCache: readCache,
		policy:    q.policy(opts),
	})

	var data T
	if err == nil {
		data, err = q.decode(opts, body)
	}

	q.notifyLoading(opts.Global, false)

	if err != nil {
		return data, q.fail(opts, err)
	}

	// a hit keeps its original age; only network results are written
	if !opts.SkipCache && !cached {
		q.client.store(ctx, key, body, opts.TTL)
	}

	q.succeed(opts, data)
	return data, nil
}

func (q *Query[T]) policy(opts Options[T]) retry.Policy {
	switch {
	case opts.NoRetry:
		return retry.None
	case opts.Retry != nil:
		return *opts.Retry
	case retry.Safe(opts.Method):
		return q.client.policy
	default:
		// non-idempotent reads retry only when a policy is given
		return retry.None
	}
}

func (q *Query[T]) decode(opts Options[T], body request.Body) (T, error) {
	if opts.Decode != nil {
		return opts.Decode(body)
	}
	return decode[T](body)
}

func (q *Query[T]) succeed(opts Options[T], data T) {
	published := q.m.update(func(s *State[T]) {
		s.Status = StatusSuccess
		s.Data = data
		s.Err = nil
		s.Message = ""
	})
	if !published {
		return
	}

	if opts.Global && q.client.notifier != nil {
		q.client.notifier.SetError("")
	}

	if opts.OnSuccess != nil {
		opts.OnSuccess(data)
	}
}

func (q *Query[T]) fail(opts Options[T], err error) error {
	message := q.client.Translate(err)

	published := q.m.update(func(s *State[T]) {
		s.Status = StatusError
		s.Err = err
		s.Message = message
	})
	if !published {
		return err
	}

	if opts.Global && q.client.notifier != nil {
		q.client.notifier.SetError(message)
	}

	if opts.OnError != nil {
		opts.OnError(err)
	}

	return err
}

func (q *Query[T]) notifyLoading(global, loading bool) {
	if global && q.client.notifier != nil && q.m.alive() {
		q.client.notifier.SetLoading(loading)
	}
}
