package webrtc

import (
	"os"
	"strings"

	"github.com/pion/dtls/v3/pkg/crypto/elliptic"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/environment"
	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

func GetSettingEngine(logger *zap.Logger) (settingEngine webrtc.SettingEngine) {
	setupInterfaceFilter(&settingEngine)
	setupMulticastDNS(&settingEngine)

	settingEngine.LoggerFactory = utils.NewZapLoggerFactory(logger)
	settingEngine.SetDTLSEllipticCurves(elliptic.X25519, elliptic.P384, elliptic.P256)
	settingEngine.SetNetworkTypes(setupNetworkTypes(logger))
	settingEngine.SetIncludeLoopbackCandidate(os.Getenv(environment.IncludeLoopbackCandidate) != "")

	return
}

func setupNetworkTypes(logger *zap.Logger) []webrtc.NetworkType {
	networkTypesEnv := os.Getenv(environment.NetworkTypes)

	networkTypes := []webrtc.NetworkType{}
	if networkTypesEnv != "" {
		for networkTypeStr := range strings.SplitSeq(networkTypesEnv, "|") {
			networkType, err := webrtc.NewNetworkType(strings.TrimSpace(networkTypeStr))
			if err != nil {
				logger.Warn("WebRTC.Settings.NetworkType.Invalid", zap.String("value", networkTypeStr))
				continue
			}

			networkTypes = append(networkTypes, networkType)
		}
	}

	if len(networkTypes) == 0 {
		// No network types found, use default values
		networkTypes = append(networkTypes, webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6)
	}

	return networkTypes
}

func setupInterfaceFilter(settingEngine *webrtc.SettingEngine) {
	filter := os.Getenv(environment.InterfaceFilter)

	if filter != "" {
		settingEngine.SetInterfaceFilter(func(i string) bool {
			return i == filter
		})
	}
}

func setupMulticastDNS(settingEngine *webrtc.SettingEngine) {
	if environment.IsEnabled(environment.DisableMDNS) {
		settingEngine.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
}
