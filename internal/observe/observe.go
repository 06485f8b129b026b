package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/go-logr/zerologr"
	"github.com/perkline/perkline/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Configure installs global trace and metric providers. Spans and metrics
// go to an OTLP collector over gRPC, or to w when the type is "stdout".
// When telemetry is disabled the global no-op providers are left in place.
// The returned function flushes and shuts down the providers.
func Configure(ctx context.Context, cfg config.ObserveConfig, w io.Writer) (func(context.Context) error, error) {
	if !cfg.Enabled {
		log.Debug().Msg("telemetry disabled")
		return func(context.Context) error { return nil }, nil
	}

	configureSDKLogging(cfg.SDKLogLevel)

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	traceExporter, err := newTraceExporter(ctx, cfg, w)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(time.Duration(cfg.TraceBatchTimeoutSeconds)*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	shutdown := []func(context.Context) error{tracerProvider.Shutdown}

	if cfg.MetricsEnabled {
		metricExporter, err := newMetricExporter(ctx, cfg, w)
		if err != nil {
			_ = tracerProvider.Shutdown(ctx)
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(time.Duration(cfg.MetricReadIntervalSeconds)*time.Second),
			)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(meterProvider)

		shutdown = append(shutdown, meterProvider.Shutdown)
	}

	log.Info().
		Str("service", cfg.ServiceName).
		Str("type", cfg.Type).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("telemetry configured")

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdown {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func newTraceExporter(ctx context.Context, cfg config.ObserveConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	if cfg.Type == "grpc" {
		return otlptracegrpc.New(ctx)
	}
	return stdouttrace.New(stdouttrace.WithWriter(w))
}

func newMetricExporter(ctx context.Context, cfg config.ObserveConfig, w io.Writer) (sdkmetric.Exporter, error) {
	if cfg.Type == "grpc" {
		return otlpmetricgrpc.New(ctx)
	}
	return stdoutmetric.New(stdoutmetric.WithWriter(w))
}

// configureSDKLogging routes the OTel SDK's internal logging and errors
// through zerolog.
func configureSDKLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown OTel SDK log level, using info")
		lvl = zerolog.InfoLevel
	}

	sdkLogger := log.Logger.Level(lvl).With().Str("component", "otel").Logger()

	otel.SetLogger(zerologr.New(&sdkLogger))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		sdkLogger.Warn().Err(err).Msg("telemetry error")
	}))
}

// HTTPTransport wraps base so that outbound calls are traced, when enabled.
func HTTPTransport(base http.RoundTripper, cfg config.ObserveConfig) http.RoundTripper {
	if !cfg.Enabled || !cfg.HTTPTransportEnabled {
		return base
	}

	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return SpanName(r.Method, r.URL.Path)
		}),
	}

	if cfg.HTTPConnectionTraceEnabled {
		opts = append(opts, otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
			return otelhttptrace.NewClientTrace(ctx)
		}))
	}

	return otelhttp.NewTransport(base, opts...)
}
