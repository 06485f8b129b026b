package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/justinas/alice"
	"github.com/perkline/perkline/internal/audit"
	"github.com/perkline/perkline/internal/config"
	"github.com/perkline/perkline/internal/observe"
	"github.com/rs/zerolog/log"
)

type routeOptions struct {
	roll func() float64
}

type RouteOption func(*routeOptions)

// WithRoll replaces the random source used for failure injection.
func WithRoll(roll func() float64) RouteOption {
	return func(o *routeOptions) {
		o.roll = roll
	}
}

// Routes builds the API handler for the backend.
func Routes(cfg config.DevServerConfig, b *Backend, opts ...RouteOption) http.Handler {
	ro := routeOptions{roll: defaultRoll}
	for _, o := range opts {
		o(&ro)
	}

	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	requestLimiter := maxRequestSize(int64(20 << 10)) // 20 KB
	faults := injectFaults(cfg.Latency, cfg.FailureRate, ro.roll)

	authorized := alice.New(requestLimiter, audit.Middleware(), faults, authenticate)
	standard := alice.New(requestLimiter)

	mux.Handle("GET /items", authorized.Then(handleListItems(b)))
	mux.Handle("POST /items", authorized.Then(handleCreateItem(b)))
	mux.Handle("POST /qr-token", authorized.Then(handleIssueToken(b, cfg.DenyIssuance)))
	mux.Handle("POST /qr-token/validate", authorized.Then(handleValidateToken(b)))

	// healthchecks are not included in telemetry, faults or authorization
	muxWithoutTelemetry.Handle("GET /healthcheck", standard.Then(handleHealthCheck()))

	return mux
}

// Serve runs the server until ctx is cancelled, then shuts it down
// gracefully.
func Serve(ctx context.Context, cfg config.DevServerConfig, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,
		ReadHeaderTimeout: 20 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("dev server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("dev server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return <-serverErr
}
