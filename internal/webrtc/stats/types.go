package stats

import "github.com/pion/webrtc/v4"

const (
	packetLossThreshold = 0.05

	// Outbound send delay above this marks the broadcaster as losing packets
	sendDelayThreshold = 10

	// Consecutive candidate-pair reads without an incoming bitrate before the signal is dropped
	badSignalLimit = 2

	InitialBadSignalCount = 10
)

// Source is anything that can produce a pion stats report, usually a
// *webrtc.PeerConnection or *webrtc.RTPSender.
type Source interface {
	GetStats() webrtc.StatsReport
}

// Stat is the subset of a W3C RTCStats dictionary read by the sampler.
type Stat struct {
	ID                       string   `json:"id"`
	Type                     string   `json:"type"`
	Kind                     string   `json:"kind"`
	Timestamp                float64  `json:"timestamp"`
	JitterBufferDelay        float64  `json:"jitterBufferDelay"`
	JitterBufferEmittedCount uint64   `json:"jitterBufferEmittedCount"`
	PacketsLost              int64    `json:"packetsLost"`
	PacketsReceived          uint64   `json:"packetsReceived"`
	FramesDecoded            uint64   `json:"framesDecoded"`
	FramesDropped            uint64   `json:"framesDropped"`
	State                    string   `json:"state"`
	CurrentRoundTripTime     float64  `json:"currentRoundTripTime"`
	AvailableIncomingBitrate *float64 `json:"availableIncomingBitrate"`
	TotalPacketSendDelay     float64  `json:"totalPacketSendDelay"`
}

type Report []Stat

// Snapshot holds the counters of the previous inbound video sample.
type Snapshot struct {
	JitterBufferDelay        float64 `json:"jitterBufferDelay"`
	JitterBufferEmittedCount uint64  `json:"jitterBufferEmittedCount"`
	PacketsLost              int64   `json:"packetsLost"`
	PacketsReceived          uint64  `json:"packetsReceived"`
	FramesDecoded            uint64  `json:"framesDecoded"`
	FramesDropped            uint64  `json:"framesDropped"`
	Timestamp                float64 `json:"timestamp"`
}

type DerivedHealth struct {
	LatencyMs     float64 `json:"latencyMs"`
	FPS           float64 `json:"fps"`
	DroppedFrames float64 `json:"droppedFrames"`
	LossRate      float64 `json:"lossRate"`
	HasPacketLoss bool    `json:"hasPacketLoss"`
}

type PublisherHealth struct {
	HasPacketLoss bool `json:"hasPacketLoss"`
	HasSignal     bool `json:"hasSignal"`

	// SignalChanged is false when the bad-signal count sits between the two thresholds
	SignalChanged bool `json:"-"`
}
