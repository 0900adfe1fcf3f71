package whip

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/pion/webrtc/v4"
)

var (
	ErrNoMediaDevices = errors.New("whip: no media source configured")
	ErrNotAllowed     = errors.New("whip: access to the media source was denied")
	ErrNotFound       = errors.New("whip: media source not found")
)

// MediaAccessError is returned when capture could not be acquired. It is not
// retried; the user has to change something first.
type MediaAccessError struct {
	Reason error
	Err    error
}

func (e *MediaAccessError) Error() string {
	if e.Err == nil {
		return e.Reason.Error()
	}

	return e.Reason.Error() + ": " + e.Err.Error()
}

func (e *MediaAccessError) Unwrap() []error {
	return []error{e.Reason, e.Err}
}

// Message is the text shown to the user.
func (e *MediaAccessError) Message() string {
	switch {
	case errors.Is(e.Reason, ErrNoMediaDevices):
		return "No media source was found. Publishing requires an audio or video RTP input address"
	case errors.Is(e.Reason, ErrNotFound):
		return "Seems like the media input does not exist. Check the configured addresses and network interfaces"
	case errors.Is(e.Reason, ErrNotAllowed):
		return "You can't publish from this media input, because access to it is blocked"
	default:
		return "Could not access your media device"
	}
}

// MediaTracks are the local tracks a source captured. Video holds one track
// per simulcast encoding, highest quality first.
type MediaTracks struct {
	StreamID    string
	Audio       webrtc.TrackLocal
	Video       []webrtc.TrackLocal
	ScreenShare bool
}

type MediaSource interface {
	Open(ctx context.Context) (*MediaTracks, error)
	Close() error
}

// Layer is one simulcast encoding. The encoder feeding the source is expected
// to scale its input by ScaleResolutionDownBy.
type Layer struct {
	RID                   string
	ScaleResolutionDownBy float64
}

var SimulcastLayers = []Layer{
	{RID: "high", ScaleResolutionDownBy: 1},
	{RID: "med", ScaleResolutionDownBy: 2},
	{RID: "low", ScaleResolutionDownBy: 4},
}

func mapListenError(err error) error {
	var addrErr *net.AddrError
	var dnsErr *net.DNSError

	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return &MediaAccessError{Reason: ErrNotAllowed, Err: err}
	case errors.Is(err, syscall.EADDRNOTAVAIL), errors.As(err, &addrErr), errors.As(err, &dnsErr):
		return &MediaAccessError{Reason: ErrNotFound, Err: err}
	default:
		return &MediaAccessError{Reason: err}
	}
}
