package helpers

import (
	"net/http"

	"go.uber.org/zap"
)

func LogHTTPError(logger *zap.Logger, responseWriter http.ResponseWriter, error string, code int) {
	logger.Warn("LogHTTPError", zap.String("error", error), zap.Int("status", code))
	http.Error(responseWriter, error, code)
}
