package playback

import (
	"context"
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	ErrPlaybackNotAllowed = errors.New("playback: unmuted playback requires a user gesture")
	ErrSinkClosed         = errors.New("playback: sink closed")
)

// Sink is where a player renders remote media. It behaves like a media
// element: it starts paused, it can refuse to play, and it reports when
// frames actually start flowing.
type Sink interface {
	Paused() bool
	Muted() bool
	SetMuted(muted bool)
	Play(ctx context.Context) error
	Pause()

	// Source is the id of the attached stream, empty when nothing is attached
	Source() string
	Attach(streamID string)

	// OnPlaying fires when media starts rendering after an attachment
	OnPlaying(handler func()) (dispose func())
	OnSourceChange(handler func(streamID string)) (dispose func())

	WriteRTP(kind webrtc.RTPCodecType, packet *rtp.Packet) error
}

type gestureKey struct{}

// WithUserGesture marks ctx as originating from an explicit user action.
func WithUserGesture(ctx context.Context) context.Context {
	return context.WithValue(ctx, gestureKey{}, true)
}

func IsUserGesture(ctx context.Context) bool {
	gesture, _ := ctx.Value(gestureKey{}).(bool)
	return gesture
}
