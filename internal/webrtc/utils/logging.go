package utils

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/environment"
)

func DebugOutputOffer(offer string) string {
	if strings.EqualFold(os.Getenv(environment.DebugPrintOffer), "true") {
		zap.L().Info("Offer", zap.String("sdp", offer))
	}

	return offer
}

func DebugOutputAnswer(answer string) string {
	if strings.EqualFold(os.Getenv(environment.DebugPrintAnswer), "true") {
		zap.L().Info("Answer", zap.String("sdp", answer))
	}

	return answer
}

func DebugOutputSSE(event, data string) {
	if strings.EqualFold(os.Getenv(environment.DebugPrintSSEMessages), "true") {
		zap.L().Info("SSE", zap.String("event", event), zap.String("data", data))
	}
}
