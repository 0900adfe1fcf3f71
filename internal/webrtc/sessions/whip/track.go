package whip

import (
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/sleroq/web.cum.army/internal/webrtc/codecs"
)

type (
	// LayerTrack is a local track fed from one RTP input.
	LayerTrack struct {
		RID   string
		Kind  webrtc.RTPCodecType
		Local *webrtc.TrackLocalStaticRTP

		codec        codecs.TrackCodeType
		depacketizer rtp.Depacketizer

		Bitrate          atomic.Uint64
		PacketsReceived  atomic.Uint64
		PacketsDropped   atomic.Uint64
		KeyframeRequests atomic.Uint64
		LastReceived     atomic.Value
		LastKeyFrame     atomic.Value

		// Only touched by the read loop
		bitrateWindowStart time.Time
		bitrateWindowBytes uint64
	}

	TrackState struct {
		RID              string    `json:"rid"`
		Kind             string    `json:"kind"`
		Bitrate          uint64    `json:"bitrate"`
		PacketsReceived  uint64    `json:"packetsReceived"`
		PacketsDropped   uint64    `json:"packetsDropped"`
		KeyframeRequests uint64    `json:"keyframeRequests"`
		LastKeyframe     time.Time `json:"lastKeyframe"`
	}
)

func newLayerTrack(local *webrtc.TrackLocalStaticRTP, rid string) *LayerTrack {
	track := &LayerTrack{
		RID:   rid,
		Kind:  local.Kind(),
		Local: local,
	}

	if track.Kind == webrtc.RTPCodecTypeVideo {
		track.codec = codecs.GetVideoTrackCodec(local.Codec().MimeType)
		track.depacketizer = depacketizerFor(track.codec)
	} else {
		track.codec = codecs.GetAudioTrackCodec(local.Codec().MimeType)
	}

	track.LastReceived.Store(time.Time{})
	track.LastKeyFrame.Store(time.Time{})
	return track
}

// observe updates the counters for a packet of size bytes read from the input.
func (t *LayerTrack) observe(packet *rtp.Packet, size int, now time.Time) {
	t.PacketsReceived.Add(1)
	t.LastReceived.Store(now)

	if t.Kind == webrtc.RTPCodecTypeVideo && isPacketKeyframe(packet, t.codec, t.depacketizer) {
		t.LastKeyFrame.Store(now)
	}

	if t.bitrateWindowStart.IsZero() {
		t.bitrateWindowStart = now
	}

	t.bitrateWindowBytes += uint64(size)
	if elapsed := now.Sub(t.bitrateWindowStart); elapsed >= time.Second {
		t.Bitrate.Store(uint64(float64(t.bitrateWindowBytes) / elapsed.Seconds()))
		t.bitrateWindowStart = now
		t.bitrateWindowBytes = 0
	}
}

func (t *LayerTrack) State() TrackState {
	return TrackState{
		RID:              t.RID,
		Kind:             t.Kind.String(),
		Bitrate:          t.Bitrate.Load(),
		PacketsReceived:  t.PacketsReceived.Load(),
		PacketsDropped:   t.PacketsDropped.Load(),
		KeyframeRequests: t.KeyframeRequests.Load(),
		LastKeyframe:     t.LastKeyFrame.Load().(time.Time),
	}
}
