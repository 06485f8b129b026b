// Package request performs single authenticated, timeout-bounded HTTP calls
// against the loyalty API and classifies their outcome. It never retries.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/audit"
	"github.com/perkline/perkline/internal/config"
	"github.com/perkline/perkline/internal/credential"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout applies when neither the executor nor the call set one.
const DefaultTimeout = 10 * time.Second

// Descriptor describes one call. Zero values fall back to the executor's
// defaults: GET, the configured base URL and timeout.
type Descriptor struct {
	Method   string
	Endpoint string
	// Body is encoded as JSON when non-nil.
	Body    any
	Headers map[string]string
	Timeout time.Duration
	// SkipAuth omits the Authorization header.
	SkipAuth bool
	// BaseURL overrides the executor's base URL for this call.
	BaseURL string
}

// Doer executes a single call. Implemented by *Executor, and by test fakes.
type Doer interface {
	Execute(ctx context.Context, d Descriptor) (Body, error)
}

// Executor sends API calls and classifies their outcomes. It never retries.
type Executor struct {
	client      *http.Client
	baseURL     string
	timeout     time.Duration
	headers     map[string]string
	credentials credential.Provider
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient sets the client used to send calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		e.client = c
	}
}

// WithHeader adds a header sent with every call.
func WithHeader(key, value string) Option {
	return func(e *Executor) {
		e.headers[key] = value
	}
}

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithCredentials sets the source of bearer tokens. Without it, calls are
// sent unauthenticated.
func WithCredentials(p credential.Provider) Option {
	return func(e *Executor) {
		e.credentials = p
	}
}

// New creates an executor that resolves endpoints against baseURL.
func New(baseURL string, opts ...Option) *Executor {
	e := &Executor{
		client:  http.DefaultClient,
		baseURL: baseURL,
		timeout: DefaultTimeout,
		headers: map[string]string{},
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

// NewFromConfig creates an executor with the configured base URL, timeout
// and user agent. Further options are applied afterwards.
func NewFromConfig(cfg config.APIConfig, opts ...Option) *Executor {
	base := []Option{WithTimeout(cfg.Timeout)}
	if cfg.UserAgent != "" {
		base = append(base, WithHeader("User-Agent", cfg.UserAgent))
	}

	return New(cfg.BaseURL, append(base, opts...)...)
}

var errCallTimeout = errors.New("call exceeded its timeout")

// Execute performs the call described by d. Failures are returned as
// *apierror.Error, except cancellation of ctx by the caller, which is
// returned as the context error.
func (e *Executor) Execute(ctx context.Context, d Descriptor) (Body, error) {
	method := d.Method
	if method == "" {
		method = http.MethodGet
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	started := time.Now()
	entry := audit.Log(ctx)

	body, status, err := e.execute(ctx, method, timeout, d)

	entry.RecordAttempt(status)
	if !d.SkipAuth && e.credentials != nil {
		entry.Authenticated = true
	}

	ev := log.Ctx(ctx).Debug().
		Str("method", method).
		Str("endpoint", d.Endpoint).
		Int("status", status).
		Dur("duration", time.Since(started))
	if err != nil {
		outcome := "cancelled"
		if ae, ok := apierror.As(err); ok {
			outcome = ae.Kind.String()
		}
		ev = ev.Str("outcome", outcome)
	} else {
		ev = ev.Str("outcome", body.Kind.String())
	}
	ev.Msg("outbound request")

	return body, err
}

func (e *Executor) execute(ctx context.Context, method string, timeout time.Duration, d Descriptor) (Body, int, error) {
	var payload io.Reader
	if d.Body != nil {
		data, err := json.Marshal(d.Body)
		if err != nil {
			return Body{}, 0, apierror.Validation("request body could not be encoded: %v", err)
		}
		payload = bytes.NewReader(data)
	}

	callCtx, cancel := context.WithTimeoutCause(ctx, timeout, errCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, e.url(d), payload)
	if err != nil {
		return Body{}, 0, apierror.Validation("request could not be created: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	if !d.SkipAuth && e.credentials != nil {
		token, err := e.credentials.AccessToken(ctx)
		if err != nil {
			return Body{}, 0, apierror.Credential(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Body{}, 0, classifyTransport(ctx, callCtx, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Body{}, resp.StatusCode, classifyTransport(ctx, callCtx, timeout, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Body{}, resp.StatusCode, apierror.HTTP(resp.StatusCode, string(data))
	}

	body, err := parse(resp.StatusCode, resp.Header.Get("Content-Type"), data)
	return body, resp.StatusCode, err
}

// classifyTransport distinguishes the executor's own timeout from
// cancellation by the caller and from connection failures.
func classifyTransport(parent, call context.Context, timeout time.Duration, err error) error {
	if errors.Is(context.Cause(call), errCallTimeout) {
		return apierror.Timeout(timeout, err)
	}

	if parent.Err() != nil {
		return parent.Err()
	}

	return apierror.Network(err)
}

func (e *Executor) url(d Descriptor) string {
	if strings.HasPrefix(d.Endpoint, "http://") || strings.HasPrefix(d.Endpoint, "https://") {
		return d.Endpoint
	}

	base := d.BaseURL
	if base == "" {
		base = e.baseURL
	}

	if d.Endpoint == "" {
		return base
	}

	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(d.Endpoint, "/")
}
