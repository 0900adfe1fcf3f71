package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sleroq/web.cum.army/internal/environment"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.False(t, config.Enabled)
	assert.Equal(t, defaultServiceName, config.ServiceName)
	assert.Equal(t, defaultJaegerURL, config.JaegerURL)
	assert.Equal(t, 1.0, config.SampleRate)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv(environment.TracingEnabled, "true")
	t.Setenv(environment.TracingURL, "http://jaeger:14268/api/traces")
	t.Setenv(environment.AppEnv, "development")

	config := ConfigFromEnvironment()
	assert.True(t, config.Enabled)
	assert.Equal(t, "http://jaeger:14268/api/traces", config.JaegerURL)
	assert.Equal(t, "development", config.Environment)
}

func TestDisabledProvider(t *testing.T) {
	provider, err := Init(DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	assert.NotNil(t, provider.TracerProvider())
	assert.NoError(t, provider.Shutdown(context.Background()))

	var missing *Provider
	assert.False(t, missing.Enabled())
	assert.NoError(t, missing.Shutdown(context.Background()))
}

func TestEnabledProvider(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = true
	config.JaegerURL = "http://127.0.0.1:1/api/traces"

	provider, err := Init(config, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, provider.Enabled())

	_, span := provider.TracerProvider().Tracer("test").Start(context.Background(), "span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = provider.Shutdown(ctx)
}
