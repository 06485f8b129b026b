// Package query orchestrates reads and writes against the loyalty API: cache
// lookups, retries, error translation and the loading/data/error state that
// callers render.
package query

import (
	"context"
	"time"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/audit"
	"github.com/perkline/perkline/internal/cache"
	"github.com/perkline/perkline/internal/request"
	"github.com/perkline/perkline/internal/retry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

// DefaultTTL applies to cached responses when neither the client nor the
// query set one.
const DefaultTTL = 5 * time.Minute

// Notifier receives app-wide loading and error signals from operations
// marked Global. An empty message clears the error.
type Notifier interface {
	SetLoading(loading bool)
	SetError(message string)
}

// Client holds the collaborators shared by every query and mutation.
type Client struct {
	doer       request.Doer
	retry      *retry.Controller
	policy     retry.Policy
	cache      cache.Cache[request.Body]
	translator *apierror.Translator
	notifier   Notifier
	ttl        time.Duration

	dedupe bool
	group  singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCache enables response caching for reads.
func WithCache(c cache.Cache[request.Body]) ClientOption {
	return func(cl *Client) {
		cl.cache = c
	}
}

// WithRetry sets the default retry policy for reads.
func WithRetry(p retry.Policy) ClientOption {
	return func(cl *Client) {
		cl.policy = p
	}
}

// WithRetryController replaces the controller that runs retries, for tests.
func WithRetryController(rc *retry.Controller) ClientOption {
	return func(cl *Client) {
		cl.retry = rc
	}
}

// WithTranslator sets the source of user-facing error messages.
func WithTranslator(t *apierror.Translator) ClientOption {
	return func(cl *Client) {
		cl.translator = t
	}
}

// WithNotifier receives loading and error signals from Global operations.
func WithNotifier(n Notifier) ClientOption {
	return func(cl *Client) {
		cl.notifier = n
	}
}

// WithTTL sets the default time-to-live of cached responses.
func WithTTL(ttl time.Duration) ClientOption {
	return func(cl *Client) {
		cl.ttl = ttl
	}
}

// WithDedupe coalesces concurrent cache misses for the same key into a
// single network call. Without it, each miss reaches the network.
func WithDedupe() ClientOption {
	return func(cl *Client) {
		cl.dedupe = true
	}
}

// NewClient creates a client that sends calls through doer. Reads are not
// cached or retried unless configured.
func NewClient(doer request.Doer, opts ...ClientOption) *Client {
	c := &Client{
		doer:       doer,
		retry:      retry.New(),
		policy:     retry.None,
		translator: apierror.NewTranslator(language.English),
		ttl:        DefaultTTL,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Translate returns the user-facing message for err.
func (c *Client) Translate(err error) string {
	return c.translator.Message(err)
}

// Invalidate evicts a single cached response.
func (c *Client) Invalidate(ctx context.Context, key string) error {
	if c.cache == nil || key == "" {
		return nil
	}
	return c.cache.Invalidate(ctx, key)
}

// InvalidateAll evicts every cached response, for example on sign-out.
func (c *Client) InvalidateAll(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.InvalidateAll(ctx)
}

// fetchParams describes one logical fetch, including its retries.
type fetchParams struct {
	descriptor request.Descriptor
	key        string
	readCache  bool
	policy     retry.Policy
}

// fetch resolves a response from the cache or the network, reporting
// whether it came from the cache. It does not write the cache: callers store
// network bodies once they have decoded.
func (c *Client) fetch(ctx context.Context, p fetchParams) (request.Body, bool, error) {
	ctx, entry := audit.Context(ctx)
	method := p.descriptor.Method
	if method == "" {
		method = "GET"
	}
	entry.Begin(method, p.descriptor.Endpoint)
	entry.CacheKey = p.key
	defer entry.End(ctx)()

	if p.readCache && c.cache != nil && p.key != "" {
		body, found, err := c.cache.Get(ctx, p.key)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("key", p.key).Msg("cache read failed, fetching from network")
		} else if found {
			entry.CacheHit = true
			return body, true, nil
		}
	}

	call := func(ctx context.Context) (request.Body, error) {
		return retry.Do(ctx, c.retry, p.policy, func(ctx context.Context) (request.Body, error) {
			return c.doer.Execute(ctx, p.descriptor)
		})
	}

	var (
		body request.Body
		err  error
	)
	if c.dedupe && p.key != "" {
		body, err = c.shared(ctx, method+" "+p.key, entry, call)
	} else {
		body, err = call(ctx)
	}

	entry.Fail(err)
	return body, false, err
}

// shared runs call once for all concurrent callers of the same key. The
// call is detached from the first caller's cancellation so that one caller
// giving up does not fail the others; each caller still stops waiting when
// its own context ends. Attempts are recorded on the audit entry of the
// caller that started the call.
func (c *Client) shared(ctx context.Context, key string, entry *audit.Entry, call func(context.Context) (request.Body, error)) (request.Body, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return call(detached)
	})

	select {
	case res := <-ch:
		entry.Deduped = res.Shared
		body, _ := res.Val.(request.Body)
		return body, res.Err
	case <-ctx.Done():
		return request.Body{}, ctx.Err()
	}
}

// store writes a decoded response to the cache. Failures are logged only:
// the cache is an optimization.
func (c *Client) store(ctx context.Context, key string, body request.Body, ttl time.Duration) {
	if c.cache == nil || key == "" {
		return
	}

	if ttl <= 0 {
		ttl = c.ttl
	}

	if err := c.cache.Set(ctx, key, body, ttl); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
