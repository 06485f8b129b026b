// Package audit records one structured log entry per logical API operation.
// Credentials and response bodies are never recorded.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Level is the level audit entries are written at.
const Level = zerolog.InfoLevel

type key struct{}

// Entry describes a single logical operation: one query fetch, mutation,
// token issue or validation, including every retry it took.
type Entry struct {
	Method        string
	Endpoint      string
	Status        int
	Attempts      int
	Authenticated bool
	Duration      time.Duration

	CacheKey string
	CacheHit bool
	Deduped  bool

	TokenState    string
	TokenFallback bool
	TokenExpiry   time.Time

	Error string

	started time.Time
}

// Context returns the entry attached to ctx, attaching a new one if none is
// present yet.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Log returns the entry attached to ctx. A detached entry is returned when
// there is none, so callers can always write to the result.
func Log(ctx context.Context) *Entry {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return e
	}
	return &Entry{}
}

// Begin marks the start of the operation.
func (e *Entry) Begin(method, endpoint string) {
	e.Method = method
	e.Endpoint = endpoint
	e.started = time.Now()
}

// End returns a function that writes the entry. It is designed to be
// deferred, and records a panic in progress before re-raising it.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if r := recover(); r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
			defer panic(r)
		}

		if !e.started.IsZero() {
			e.Duration = time.Since(e.started)
		}

		zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")
	}
}

// RecordAttempt notes one network attempt and its resulting status.
func (e *Entry) RecordAttempt(status int) {
	e.Attempts++
	e.Status = status
}

// Fail records err as the failure of the operation.
func (e *Entry) Fail(err error) {
	if err == nil {
		return
	}
	e.Error = err.Error()
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	request := zerolog.Dict().
		Str("method", e.Method).
		Str("endpoint", e.Endpoint).
		Int("status", e.Status).
		Int("attempts", e.Attempts).
		Bool("authenticated", e.Authenticated).
		Dur("duration", e.Duration)
	ev.Dict("request", request)

	cache := NewOptionalEvent(nil).
		Str("key", e.CacheKey)
	if e.CacheHit {
		cache.Bool("hit", true)
	}
	if e.Deduped {
		cache.Bool("deduped", true)
	}
	cache.Set(ev, "cache")

	token := NewOptionalEvent(nil).
		Str("state", e.TokenState).
		Time("expiry", e.TokenExpiry)
	if e.TokenFallback {
		token.Bool("fallback", true)
	}
	token.Set(ev, "token")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}
