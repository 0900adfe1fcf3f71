package codecs

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

type TrackCodeType int

const (
	TrackCodeTypeUnknown TrackCodeType = iota
	VideoTrackCodecH264
	VideoTrackCodecH265
	VideoTrackCodecVP8
	VideoTrackCodecVP9
	VideoTrackCodecAV1
	AudioTrackCodecOpus
)

var videoRTCPFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb", Parameter: ""},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack", Parameter: ""},
	{Type: "nack", Parameter: "pli"},
	{Type: "transport-cc", Parameter: ""},
}

var audioCodecs = []webrtc.RTPCodecParameters{
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1;stereo=1",
		},
		PayloadType: 111,
	},
}

var videoCodecs = []webrtc.RTPCodecParameters{
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 102,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeVP8,
			ClockRate:    90000,
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 96,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeVP9,
			ClockRate:    90000,
			SDPFmtpLine:  "profile-id=0",
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 98,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeAV1,
			ClockRate:    90000,
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 45,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH265,
			ClockRate:    90000,
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 49,
	},
}

func GetVideoTrackCodec(mimeType string) TrackCodeType {
	switch strings.ToLower(mimeType) {
	case strings.ToLower(webrtc.MimeTypeH264):
		return VideoTrackCodecH264
	case strings.ToLower(webrtc.MimeTypeH265):
		return VideoTrackCodecH265
	case strings.ToLower(webrtc.MimeTypeVP8):
		return VideoTrackCodecVP8
	case strings.ToLower(webrtc.MimeTypeVP9):
		return VideoTrackCodecVP9
	case strings.ToLower(webrtc.MimeTypeAV1):
		return VideoTrackCodecAV1
	}

	return TrackCodeTypeUnknown
}

func GetAudioTrackCodec(mimeType string) TrackCodeType {
	if strings.EqualFold(mimeType, webrtc.MimeTypeOpus) {
		return AudioTrackCodecOpus
	}

	return TrackCodeTypeUnknown
}

// VideoCapability returns the registered capability for a video mime type,
// defaulting to H264 for anything unknown.
func VideoCapability(mimeType string) webrtc.RTPCodecCapability {
	for _, codec := range videoCodecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return codec.RTPCodecCapability
		}
	}

	return videoCodecs[0].RTPCodecCapability
}

func AudioCapability() webrtc.RTPCodecCapability {
	return audioCodecs[0].RTPCodecCapability
}

func (t TrackCodeType) String() string {
	switch t {
	case VideoTrackCodecH264:
		return "H264"
	case VideoTrackCodecH265:
		return "H265"
	case VideoTrackCodecVP8:
		return "VP8"
	case VideoTrackCodecVP9:
		return "VP9"
	case VideoTrackCodecAV1:
		return "AV1"
	case AudioTrackCodecOpus:
		return "Opus"
	}

	return "unknown"
}
