package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig describes how this process reports spans.
type TracingConfig struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables tracing.
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	// Environment becomes deployment.environment on every span.
	Environment string
	// SampleRatio is the share of root traces kept. Child spans follow their parent.
	SampleRatio float64
	// HelixHost tags spans with the upstream this instance talks to.
	HelixHost string
}

// InitTracing installs a global tracer provider exporting over OTLP/gRPC.
// The returned func flushes and stops it; with no endpoint it is a no-op.
func InitTracing(cfg TracingConfig) (func(), error) {
	if cfg.Endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := tracingResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.Environment),
		slog.Float64("sample_ratio", cfg.SampleRatio),
		slog.String("endpoint", cfg.Endpoint))

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.Any("err", err))
		}
	}, nil
}

// tracingResource merges OTEL_RESOURCE_ATTRIBUTES with the service identity.
func tracingResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	}
	if cfg.HelixHost != "" {
		attrs = append(attrs, attribute.String("twitch.helix.host", cfg.HelixHost))
	}
	return resource.New(ctx, resource.WithFromEnv(), resource.WithAttributes(attrs...))
}

// sampler keeps every trace at ratio >= 1 and drops them all at <= 0.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan is a helper to start a span with common attributes and correlation ID.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)

	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
	return ctx, span
}

// RecordError records an error on the span and sets error status.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// HTTPMethodAttr, HTTPRouteAttr and HTTPURLAttr build the request attributes used on server spans.
func HTTPMethodAttr(method string) attribute.KeyValue { return semconv.HTTPMethod(method) }
func HTTPRouteAttr(route string) attribute.KeyValue   { return semconv.HTTPRoute(route) }
func HTTPURLAttr(u string) attribute.KeyValue         { return attribute.String("http.url", u) }

// SetSpanHTTPStatus records the response status code on the span.
func SetSpanHTTPStatus(span trace.Span, code int) {
	span.SetAttributes(semconv.HTTPStatusCode(code))
}

// ErrorStatus returns the span status pair for a failed request.
func ErrorStatus(msg string) (codes.Code, string) {
	return codes.Error, msg
}

// WrapTransport instruments an outbound transport so Helix calls appear as client spans.
// A nil base uses http.DefaultTransport.
func WrapTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}
