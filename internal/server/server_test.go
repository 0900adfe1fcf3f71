package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sleroq/web.cum.army/internal/environment"
	"github.com/sleroq/web.cum.army/internal/telemetry"
)

func TestServerExposesMetricsAndHealth(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := telemetry.NewCollector(registry)
	collector.SetViewers("stream", 4)

	server, err := StartWebServer(Config{
		Address:  "127.0.0.1:0",
		Gatherer: registry,
		Health: func() any {
			return map[string]bool{"hasSignal": true}
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, server.Shutdown(context.Background()))
	}()

	base := "http://" + server.Addr().String()

	response, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(response.Body)
	_ = response.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Contains(t, string(body), `broadcastbox_client_viewers{stream_key="stream"} 4`)

	response, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, "application/json", response.Header.Get("Content-Type"))

	health := map[string]bool{}
	require.NoError(t, json.NewDecoder(response.Body).Decode(&health))
	assert.True(t, health["hasSignal"])

	response, err = http.Post(base+"/healthz", "application/json", nil)
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, response.StatusCode)
}

func TestServerAddressFallback(t *testing.T) {
	t.Setenv(environment.MetricsAddress, "")
	assert.Equal(t, defaultHTTPAddress, getHTTPAddress(""))

	t.Setenv(environment.MetricsAddress, "0.0.0.0:9100")
	assert.Equal(t, "0.0.0.0:9100", getHTTPAddress(""))
	assert.Equal(t, "127.0.0.1:0", getHTTPAddress("127.0.0.1:0"))
}

func TestServerRejectsMissingCertificate(t *testing.T) {
	t.Setenv(environment.SSLKey, t.TempDir()+"/missing.key")
	t.Setenv(environment.SSLCert, t.TempDir()+"/missing.crt")

	_, err := StartWebServer(Config{Address: "127.0.0.1:0", Logger: zaptest.NewLogger(t)})
	assert.Error(t, err)
}
