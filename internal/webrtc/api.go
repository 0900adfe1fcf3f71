package webrtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/webrtc/codecs"
)

// NewAPI builds the pion API shared by players and broadcasters. The default
// interceptors are required for inbound-rtp statistics and simulcast sending.
func NewAPI(logger *zap.Logger) (*webrtc.API, error) {
	if logger == nil {
		logger = zap.L()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := codecs.RegisterCodecs(mediaEngine); err != nil {
		return nil, err
	}

	if err := webrtc.ConfigureSimulcastExtensionHeaders(mediaEngine); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	logger.Debug("WebRTC.NewAPI")

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(GetSettingEngine(logger)),
	), nil
}
