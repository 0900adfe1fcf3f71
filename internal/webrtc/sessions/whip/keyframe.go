package whip

import (
	"github.com/pion/rtp"
	pionCodecs "github.com/pion/rtp/codecs"

	"github.com/sleroq/web.cum.army/internal/webrtc/codecs"
)

const (
	naluTypeBitmask = 0x1f

	idrNALUType = 5
	spsNALUType = 7
	ppsNALUType = 8
)

func depacketizerFor(codec codecs.TrackCodeType) rtp.Depacketizer {
	switch codec {
	case codecs.VideoTrackCodecH264:
		return &pionCodecs.H264Packet{}
	case codecs.VideoTrackCodecH265:
		return &pionCodecs.H265Packet{}
	case codecs.VideoTrackCodecVP8:
		return &pionCodecs.VP8Packet{}
	case codecs.VideoTrackCodecVP9:
		return &pionCodecs.VP9Packet{}
	case codecs.VideoTrackCodecAV1:
		return &pionCodecs.AV1Depacketizer{}
	}

	return nil
}

// isPacketKeyframe reports whether packet starts a keyframe. Codecs without a
// check count every packet.
func isPacketKeyframe(packet *rtp.Packet, codec codecs.TrackCodeType, depacketizer rtp.Depacketizer) bool {
	switch codec {
	case codecs.VideoTrackCodecH264:
		nalu, err := depacketizer.Unmarshal(packet.Payload)
		if err != nil || len(nalu) < 6 {
			return false
		}

		firstNaluType := nalu[4] & naluTypeBitmask
		return firstNaluType == idrNALUType || firstNaluType == spsNALUType || firstNaluType == ppsNALUType

	case codecs.VideoTrackCodecVP8:
		vp8, ok := depacketizer.(*pionCodecs.VP8Packet)
		if !ok {
			return false
		}

		payload, err := vp8.Unmarshal(packet.Payload)
		if err != nil || len(payload) == 0 || vp8.S != 1 || vp8.PID != 0 {
			return false
		}

		// Inverse key frame flag of the VP8 frame tag
		return payload[0]&0x01 == 0
	}

	return true
}
