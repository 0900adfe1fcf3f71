package environment

const (
	// CLIENT
	AppEnv        = "APP_ENV"
	APIPath       = "API_PATH"
	StreamKey     = "STREAM_KEY"
	DisableStatus = "DISABLE_STATUS"

	// METRICS
	MetricsAddress = "METRICS_ADDRESS"
	SSLKey         = "SSL_KEY"
	SSLCert        = "SSL_CERT"
	TracingEnabled = "TRACING_ENABLED"
	TracingURL     = "TRACING_URL"

	// WEBRTC
	IncludeLoopbackCandidate = "INCLUDE_LOOPBACK_CANDIDATE"
	NetworkTypes             = "NETWORK_TYPES"
	InterfaceFilter          = "INTERFACE_FILTER"
	DisableMDNS              = "DISABLE_MDNS"

	// TURN/STUN
	ICEServers = "ICE_SERVERS"

	// TIMINGS
	ICEGatheringTimeout    = "ICE_GATHERING_TIMEOUT"
	ReconnectDelay         = "RECONNECT_DELAY"
	ReconnectDelayExchange = "RECONNECT_DELAY_EXCHANGE"
	StatsIntervalSignal    = "STATS_INTERVAL_SIGNAL"
	StatsIntervalWaiting   = "STATS_INTERVAL_WAITING"
	StatusPollInterval     = "STATUS_POLL_INTERVAL"

	// PLAYBACK
	PlaybackAudioAddress = "PLAYBACK_AUDIO_ADDRESS"
	PlaybackVideoAddress = "PLAYBACK_VIDEO_ADDRESS"
	PlaybackPreferSound  = "PLAYBACK_PREFER_SOUND"

	// PUBLISH
	PublishAudioAddress = "PUBLISH_AUDIO_ADDRESS"
	PublishVideoAddress = "PUBLISH_VIDEO_ADDRESS"
	PublishScreenShare  = "PUBLISH_SCREEN_SHARE"

	// CHAT
	ChatDisplayName = "CHAT_DISPLAY_NAME"
	ChatSendRate    = "CHAT_SEND_RATE"

	// DEBUGGING
	DebugPrintOffer       = "DEBUG_PRINT_OFFER"
	DebugPrintAnswer      = "DEBUG_PRINT_ANSWER"
	DebugPrintSSEMessages = "DEBUG_PRINT_SSE_MESSAGES"

	// LOGGING
	LoggingLevel  = "LOGGING_LEVEL"
	LoggingFormat = "LOGGING_FORMAT"
)
