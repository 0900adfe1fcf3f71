package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/server/helpers"
)

// HealthFunc returns the current client state rendered on /healthz.
type HealthFunc func() any

func GetServeMuxHandler(gatherer prometheus.Gatherer, health HealthFunc, logger *zap.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	serveMux := http.NewServeMux()
	serveMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	serveMux.HandleFunc("/healthz", healthHandler(health, logger))

	return serveMux
}

func healthHandler(health HealthFunc, logger *zap.Logger) http.HandlerFunc {
	return func(responseWriter http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodGet {
			helpers.LogHTTPError(logger, responseWriter, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var state any = struct{}{}
		if health != nil {
			state = health()
		}

		responseWriter.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(responseWriter).Encode(state); err != nil {
			logger.Error("API.Healthz.Encode", zap.Error(err))
		}
	}
}
