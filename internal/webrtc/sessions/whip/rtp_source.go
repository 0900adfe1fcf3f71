package whip

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/playback"
	"github.com/sleroq/web.cum.army/internal/webrtc/codecs"
)

var errSourceOpen = errors.New("whip: source already open")

type RTPSourceConfig struct {
	// UDP addresses RTP is received on. Video addresses map to SimulcastLayers
	// in order; a screen share only uses the first one.
	AudioAddress   string
	VideoAddresses []string
	VideoMimeType  string
	ScreenShare    bool

	StreamID string

	// Optional local preview of the audio and highest video layer
	Preview playback.Sink

	Logger *zap.Logger
}

// RTPSource captures media by listening for RTP, as sent by ffmpeg or
// gstreamer, and writes it into local tracks.
type RTPSource struct {
	config RTPSourceConfig
	logger *zap.Logger

	lock     sync.Mutex
	open     bool
	conns    []net.PacketConn
	tracks   []*LayerTrack
	byRID    map[string]*LayerTrack
	routines sync.WaitGroup
}

func NewRTPSource(config RTPSourceConfig) *RTPSource {
	if config.Logger == nil {
		config.Logger = zap.L()
	}
	if config.StreamID == "" {
		config.StreamID = "broadcast-" + uuid.New().String()
	}

	return &RTPSource{
		config: config,
		logger: config.Logger,
		byRID:  map[string]*LayerTrack{},
	}
}

func (s *RTPSource) Open(ctx context.Context) (*MediaTracks, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.open {
		return nil, errSourceOpen
	}

	videoAddresses := s.config.VideoAddresses
	if s.config.ScreenShare && len(videoAddresses) > 1 {
		videoAddresses = videoAddresses[:1]
	}
	if len(videoAddresses) > len(SimulcastLayers) {
		s.logger.Warn("RTPSource.Open.ExtraVideoAddresses", zap.Strings("ignored", videoAddresses[len(SimulcastLayers):]))
		videoAddresses = videoAddresses[:len(SimulcastLayers)]
	}

	if s.config.AudioAddress == "" && len(videoAddresses) == 0 {
		return nil, &MediaAccessError{Reason: ErrNoMediaDevices}
	}

	tracks := &MediaTracks{
		StreamID:    s.config.StreamID,
		ScreenShare: s.config.ScreenShare,
	}

	if s.config.AudioAddress != "" {
		local, err := webrtc.NewTrackLocalStaticRTP(codecs.AudioCapability(), "audio", s.config.StreamID)
		if err != nil {
			s.closeLocked()
			return nil, err
		}

		if err := s.listenLocked(ctx, s.config.AudioAddress, newLayerTrack(local, "")); err != nil {
			s.closeLocked()
			return nil, err
		}
		tracks.Audio = local
	}

	for i, address := range videoAddresses {
		layer := SimulcastLayers[i]

		options := []func(*webrtc.TrackLocalStaticRTP){}
		rid := ""
		if !s.config.ScreenShare {
			rid = layer.RID
			options = append(options, webrtc.WithRTPStreamID(rid))
		}

		local, err := webrtc.NewTrackLocalStaticRTP(codecs.VideoCapability(s.config.VideoMimeType), "video", s.config.StreamID, options...)
		if err != nil {
			s.closeLocked()
			return nil, err
		}

		if err := s.listenLocked(ctx, address, newLayerTrack(local, rid)); err != nil {
			s.closeLocked()
			return nil, err
		}
		tracks.Video = append(tracks.Video, local)

		s.logger.Info("RTPSource.Open.VideoLayer",
			zap.String("rid", rid),
			zap.String("address", address),
			zap.Float64("scaleResolutionDownBy", layer.ScaleResolutionDownBy))
	}

	if s.config.Preview != nil {
		s.config.Preview.Attach(s.config.StreamID)
	}

	s.open = true
	return tracks, nil
}

func (s *RTPSource) listenLocked(ctx context.Context, address string, track *LayerTrack) error {
	conn, err := (&net.ListenConfig{}).ListenPacket(ctx, "udp", address)
	if err != nil {
		return mapListenError(err)
	}

	s.conns = append(s.conns, conn)
	s.tracks = append(s.tracks, track)
	if track.Kind == webrtc.RTPCodecTypeVideo {
		s.byRID[track.RID] = track
	}

	// Only the first video input is previewed
	preview := s.config.Preview
	if track.Kind == webrtc.RTPCodecTypeVideo && track.RID != "" && track.RID != SimulcastLayers[0].RID {
		preview = nil
	}

	s.routines.Add(1)
	go func() {
		defer s.routines.Done()
		s.read(conn, track, preview)
	}()

	return nil
}

func (s *RTPSource) read(conn net.PacketConn, track *LayerTrack, preview playback.Sink) {
	buffer := make([]byte, 1500)
	packet := &rtp.Packet{}

	for {
		n, _, err := conn.ReadFrom(buffer)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("RTPSource.Read.Error", zap.String("rid", track.RID), zap.Error(err))
			}
			return
		}

		if err := packet.Unmarshal(buffer[:n]); err != nil {
			track.PacketsDropped.Add(1)
			s.logger.Debug("RTPSource.Read.Unmarshal", zap.Error(err))
			continue
		}

		track.observe(packet, n, time.Now())

		if err := track.Local.WriteRTP(packet); err != nil {
			track.PacketsDropped.Add(1)
			s.logger.Debug("RTPSource.Write.Error", zap.String("rid", track.RID), zap.Error(err))
		}

		if preview != nil {
			_ = preview.WriteRTP(track.Kind, packet)
		}
	}
}

// Addresses lists the local addresses the inputs are bound to.
func (s *RTPSource) Addresses() []net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()

	addresses := make([]net.Addr, 0, len(s.conns))
	for _, conn := range s.conns {
		addresses = append(addresses, conn.LocalAddr())
	}

	return addresses
}

func (s *RTPSource) TrackStates() []TrackState {
	s.lock.Lock()
	defer s.lock.Unlock()

	states := make([]TrackState, 0, len(s.tracks))
	for _, track := range s.tracks {
		states = append(states, track.State())
	}

	return states
}

// RequestKeyframe records a keyframe request for rid. The encoder feeding the
// input is outside our control, so this only counts and logs.
func (s *RTPSource) RequestKeyframe(rid string) {
	s.lock.Lock()
	track, ok := s.byRID[rid]
	s.lock.Unlock()

	if !ok {
		return
	}

	track.KeyframeRequests.Add(1)
	s.logger.Debug("RTPSource.KeyframeRequested", zap.String("rid", rid))
}

func (s *RTPSource) Close() error {
	s.lock.Lock()
	s.closeLocked()
	s.lock.Unlock()

	s.routines.Wait()
	return nil
}

func (s *RTPSource) closeLocked() {
	for _, conn := range s.conns {
		_ = conn.Close()
	}

	s.conns = nil
	s.tracks = nil
	s.byRID = map[string]*LayerTrack{}
	s.open = false
}
