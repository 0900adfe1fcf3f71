package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/environment"
)

const (
	defaultServiceName = "broadcast-box-client"
	defaultJaegerURL   = "http://localhost:14268/api/traces"
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: defaultServiceName,
		JaegerURL:   defaultJaegerURL,
		Environment: "production",
		SampleRate:  1.0,
	}
}

// ConfigFromEnvironment reads TRACING_ENABLED and TRACING_URL.
func ConfigFromEnvironment() Config {
	config := DefaultConfig()
	config.Enabled = environment.IsEnabled(environment.TracingEnabled)

	if url := os.Getenv(environment.TracingURL); url != "" {
		config.JaegerURL = url
	}
	if appEnv := os.Getenv(environment.AppEnv); appEnv != "" {
		config.Environment = appEnv
	}

	return config
}

// Provider owns the SDK tracer provider when tracing is enabled.
type Provider struct {
	provider *tracesdk.TracerProvider
}

// Init installs a Jaeger backed tracer provider as the global one. With
// tracing disabled the global no-op provider stays in place.
func Init(config Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.L()
	}

	if !config.Enabled {
		return &Provider{}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("tracing: creating jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: creating resource: %w", err)
	}

	provider := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.TraceIDRatioBased(config.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing.Enabled", zap.String("url", config.JaegerURL))
	return &Provider{provider: provider}, nil
}

func (p *Provider) Enabled() bool {
	return p != nil && p.provider != nil
}

// TracerProvider is the provider components should trace with.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if !p.Enabled() {
		return otel.GetTracerProvider()
	}

	return p.provider
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}

	return p.provider.Shutdown(ctx)
}
