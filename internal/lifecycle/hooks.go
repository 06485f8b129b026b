// Package lifecycle releases the CLI's resources when a command finishes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

type hookDefinition struct {
	name string
	fn   func(context.Context) error
}

// Hooks holds cleanup steps. They run in reverse order of registration, so
// a resource is released before the resources it was built from.
type Hooks struct {
	hooks []hookDefinition
}

// AddContext registers a hook. Nil hooks are ignored with a warning.
func (h *Hooks) AddContext(name string, hook func(context.Context) error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil cleanup hook; ignoring")
		return
	}

	log.Debug().Str("hook", name).Msg("adding cleanup hook")
	h.hooks = append(h.hooks, hookDefinition{name: name, fn: hook})
}

// AddCloser registers closer.Close as a hook.
func (h *Hooks) AddCloser(name string, closer io.Closer) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil cleanup hook; ignoring")
		return
	}

	h.AddContext(name, func(context.Context) error { return closer.Close() })
}

func (h *Hooks) Len() int {
	return len(h.hooks)
}

// Execute runs every hook, continuing past failures, and returns the
// failures joined. Hooks are cleared once run.
func (h *Hooks) Execute(ctx context.Context) error {
	l := log.Ctx(ctx)

	var errs []error
	for i := len(h.hooks) - 1; i >= 0; i-- {
		hook := h.hooks[i]
		hookLog := l.With().Str("hook", hook.name).Logger()

		if err := hook.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("cleanup failed")
			errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
		} else {
			hookLog.Debug().Msg("cleanup complete")
		}
	}

	h.hooks = nil

	return errors.Join(errs...)
}

// ExecuteWithin runs the hooks with a deadline of timeout.
func (h *Hooks) ExecuteWithin(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	return h.Execute(ctx)
}
