package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/cache"
	"github.com/perkline/perkline/internal/config"
	"github.com/perkline/perkline/internal/credential"
	"github.com/perkline/perkline/internal/kv"
	"github.com/perkline/perkline/internal/lifecycle"
	"github.com/perkline/perkline/internal/observe"
	"github.com/perkline/perkline/internal/query"
	"github.com/perkline/perkline/internal/request"
	"github.com/perkline/perkline/internal/retry"
	"github.com/perkline/perkline/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

func main() {
	configureLogging()

	logBuildInfo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}

		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app holds the collaborators shared by every command.
type app struct {
	client    *query.Client
	tokens    *token.Manager
	validator *token.Validator
	hooks     lifecycle.Hooks
}

func newApp(ctx context.Context, cfg config.Config, stderr io.Writer) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.close(ctx)
		}
	}()

	// telemetry is written to stderr so that stdout carries only results
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe, stderr)
	if err != nil {
		return nil, fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	a.hooks.AddContext("telemetry", shutdownTelemetry)

	httpClient := &http.Client{
		Transport: observe.HTTPTransport(configureHTTPTransport(cfg.API), cfg.Observe),
	}
	credentials := credential.Static(cfg.API.AccessToken)

	executor := request.NewFromConfig(cfg.API,
		request.WithHTTPClient(httpClient),
		request.WithCredentials(credentials),
	)

	store, err := kv.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage configuration failed: %w", err)
	}
	a.hooks.AddCloser("storage", store)

	responses, err := cache.NewFromConfig[request.Body](cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache configuration failed: %w", err)
	}
	a.hooks.AddCloser("cache", responses)

	translator := apierror.NewTranslator(language.Make(cfg.Language))

	clientOpts := []query.ClientOption{
		query.WithCache(responses),
		query.WithRetry(retry.FromConfig(cfg.Retry)),
		query.WithTranslator(translator),
		query.WithNotifier(stderrNotifier{w: stderr}),
		query.WithTTL(cfg.Cache.TTL),
	}
	if cfg.Cache.DedupeInFlight {
		clientOpts = append(clientOpts, query.WithDedupe())
	}
	a.client = query.NewClient(executor, clientOpts...)

	a.tokens = token.NewManager(executor, store, cfg.Token, token.WithStateFunc(func(s token.State) {
		log.Debug().Stringer("state", s).Msg("qr token state changed")
	}))
	a.validator = token.NewValidator(executor, credentials, cfg.Token.ValidateEndpoint, translator)

	return a, nil
}

func (a *app) close(ctx context.Context) error {
	return a.hooks.ExecuteWithin(ctx, 5*time.Second)
}

// stderrNotifier reports failures of global operations to the user.
type stderrNotifier struct {
	w io.Writer
}

func (n stderrNotifier) SetLoading(loading bool) {
	log.Debug().Bool("loading", loading).Msg("loading state changed")
}

func (n stderrNotifier) SetError(message string) {
	if message != "" {
		fmt.Fprintln(n.w, message)
	}
}

// reportedError marks a failure the user has already been told about.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// logs share stderr with user messages, so only warnings by default
	log.Logger = log.Output(os.Stderr).Level(zerolog.WarnLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Debug()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.APIConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}

func loadConfig(ctx context.Context) (config.Config, error) {
	// a missing .env file is expected
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg(".env file could not be read")
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return cfg, fmt.Errorf("configuration load failed: %w", err)
	}

	return cfg, nil
}
