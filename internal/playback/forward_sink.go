package playback

import (
	"context"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

// Policy decides whether playback may start. It mirrors a browser autoplay
// policy and returns ErrPlaybackNotAllowed to refuse.
type Policy func(ctx context.Context, muted bool) error

// GesturePolicy only lets unmuted playback start from a user gesture, and
// remembers once sound was unlocked.
func GesturePolicy() Policy {
	var lock sync.Mutex
	unlocked := false

	return func(ctx context.Context, muted bool) error {
		lock.Lock()
		defer lock.Unlock()

		if muted || unlocked {
			return nil
		}

		if IsUserGesture(ctx) {
			unlocked = true
			return nil
		}

		return ErrPlaybackNotAllowed
	}
}

type ForwardSinkConfig struct {
	// Local UDP targets for the RTP of each kind, empty drops that kind
	AudioAddress string
	VideoAddress string

	Policy Policy
	Logger *zap.Logger
}

// ForwardSink relays RTP to local UDP ports, for ffplay or gstreamer to render.
type ForwardSink struct {
	config ForwardSinkConfig
	logger *zap.Logger

	lock         sync.Mutex
	paused       bool
	muted        bool
	closed       bool
	source       string
	playingFired bool
	audioConn    net.Conn
	videoConn    net.Conn
	writeErrors  int

	playing      utils.Listeners[struct{}]
	sourceChange utils.Listeners[string]
}

func NewForwardSink(config ForwardSinkConfig) *ForwardSink {
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	return &ForwardSink{
		config: config,
		logger: config.Logger,
		paused: true,
	}
}

func (s *ForwardSink) Paused() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.paused
}

func (s *ForwardSink) Muted() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.muted
}

func (s *ForwardSink) SetMuted(muted bool) {
	s.lock.Lock()
	s.muted = muted
	s.lock.Unlock()
}

func (s *ForwardSink) Play(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if s.config.Policy != nil {
		if err := s.config.Policy(ctx, s.muted); err != nil {
			s.paused = true
			return err
		}
	}

	if err := s.dialLocked(ctx); err != nil {
		s.paused = true
		return err
	}

	s.paused = false
	return nil
}

func (s *ForwardSink) dialLocked(ctx context.Context) error {
	dialer := net.Dialer{}

	if s.audioConn == nil && s.config.AudioAddress != "" {
		conn, err := dialer.DialContext(ctx, "udp", s.config.AudioAddress)
		if err != nil {
			return err
		}
		s.audioConn = conn
	}

	if s.videoConn == nil && s.config.VideoAddress != "" {
		conn, err := dialer.DialContext(ctx, "udp", s.config.VideoAddress)
		if err != nil {
			return err
		}
		s.videoConn = conn
	}

	return nil
}

func (s *ForwardSink) Pause() {
	s.lock.Lock()
	s.paused = true
	s.lock.Unlock()
}

func (s *ForwardSink) Source() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.source
}

// Attach binds a new stream. Like a media element loading a new source the
// sink pauses until played again.
func (s *ForwardSink) Attach(streamID string) {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.source = streamID
	s.paused = true
	s.playingFired = false
	s.lock.Unlock()

	s.logger.Debug("ForwardSink.Attach", zap.String("streamID", streamID))
	s.sourceChange.Emit(streamID)
}

func (s *ForwardSink) OnPlaying(handler func()) (dispose func()) {
	return s.playing.Add(func(struct{}) { handler() })
}

func (s *ForwardSink) OnSourceChange(handler func(streamID string)) (dispose func()) {
	return s.sourceChange.Add(handler)
}

// WriteRTP drops packets while paused, and audio while muted. The first
// video packet after an attachment signals playing.
func (s *ForwardSink) WriteRTP(kind webrtc.RTPCodecType, packet *rtp.Packet) error {
	s.lock.Lock()
	if s.closed || s.paused || (kind == webrtc.RTPCodecTypeAudio && s.muted) {
		s.lock.Unlock()
		return nil
	}

	conn := s.audioConn
	firePlaying := false
	if kind == webrtc.RTPCodecTypeVideo {
		conn = s.videoConn
		firePlaying = !s.playingFired
		s.playingFired = true
	}
	s.lock.Unlock()

	if firePlaying {
		s.logger.Debug("ForwardSink.Playing", zap.String("streamID", s.Source()))
		s.playing.Emit(struct{}{})
	}

	if conn == nil {
		return nil
	}

	buf, err := packet.Marshal()
	if err != nil {
		return err
	}

	if _, err := conn.Write(buf); err != nil {
		s.lock.Lock()
		s.writeErrors++
		writeErrors := s.writeErrors
		s.lock.Unlock()

		// The player on the other end may not be up yet
		if writeErrors%50 == 1 {
			s.logger.Warn("ForwardSink.WriteRTP.Error", zap.Stringer("kind", kind), zap.Int("errors", writeErrors), zap.Error(err))
		}
	}

	return nil
}

func (s *ForwardSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.paused = true

	var err error
	for _, conn := range []net.Conn{s.audioConn, s.videoConn} {
		if conn != nil {
			if closeErr := conn.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
	}

	s.playing.Clear()
	s.sourceChange.Clear()
	return err
}

// DiscardSink renders nothing but otherwise behaves like a sink, used for
// stats-only sessions.
func DiscardSink(logger *zap.Logger) *ForwardSink {
	return NewForwardSink(ForwardSinkConfig{Logger: logger})
}
