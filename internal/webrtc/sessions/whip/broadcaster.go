package whip

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/telemetry"
	"github.com/sleroq/web.cum.army/internal/webrtc/peerconnection"
	"github.com/sleroq/web.cum.army/internal/webrtc/sessions/session"
	"github.com/sleroq/web.cum.army/internal/webrtc/signaling"
	"github.com/sleroq/web.cum.army/internal/webrtc/stats"
	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

const (
	DefaultGatheringTimeout       = 2 * time.Second
	DefaultReconnectDelay         = 3 * time.Second
	DefaultExchangeReconnectDelay = 5 * time.Second
	DefaultStatsSignalInterval    = 15 * time.Second
	DefaultStatsWaitingInterval   = 2500 * time.Millisecond
)

var (
	ErrIncompleteConfig = errors.New("whip: broadcaster needs a media source, a signaling client and a webrtc API")
	ErrAlreadyStarted   = errors.New("whip: broadcaster already started")
)

type (
	BroadcasterConfig struct {
		StreamKey string
		Source    MediaSource
		Client    *signaling.Client
		API       *webrtc.API

		// Nil resolves the ICE servers from the environment
		Configuration *webrtc.Configuration

		GatheringTimeout       time.Duration
		ReconnectDelay         time.Duration
		ExchangeReconnectDelay time.Duration
		StatsSignalInterval    time.Duration
		StatsWaitingInterval   time.Duration

		Telemetry *telemetry.Collector
		Logger    *zap.Logger
	}

	BroadcasterState struct {
		Session        session.Snapshot `json:"session"`
		PublishSuccess bool             `json:"publishSuccess"`
		Disconnected   bool             `json:"disconnected"`
		ConnectFailed  bool             `json:"connectFailed"`
		HasSignal      bool             `json:"hasSignal"`
		HasPacketLoss  bool             `json:"hasPacketLoss"`
		ScreenShare    bool             `json:"screenShare"`
		Tracks         []TrackState     `json:"tracks,omitempty"`
		MediaError     string           `json:"mediaError,omitempty"`
	}

	// Sources that keep per-layer counters
	trackStater interface {
		TrackStates() []TrackState
	}

	keyframeRequester interface {
		RequestKeyframe(rid string)
	}
)

// Broadcaster publishes a media source over WHIP and keeps republishing it
// after transport or signaling failures until stopped.
type Broadcaster struct {
	config    BroadcasterConfig
	logger    *zap.Logger
	listeners utils.Listeners[BroadcasterState]

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	lock           sync.Mutex
	started        bool
	stopped        bool
	tracks         *MediaTracks
	session        *session.PeerSession
	reconnector    *session.Reconnector
	attempt        *publishAttempt
	publishSuccess bool
	disconnected   bool
	connectFailed  bool
	hasSignal      bool
	hasPacketLoss  bool
	badSignalCount int
	mediaError     *MediaAccessError

	routines sync.WaitGroup
}

type publishAttempt struct {
	token       uint64
	reconnector *session.Reconnector

	ctx            context.Context
	cancel         context.CancelFunc
	peerConnection *webrtc.PeerConnection
	dispatcher     *peerconnection.Dispatcher
	scope          session.Scope
}

func NewBroadcaster(config BroadcasterConfig) (*Broadcaster, error) {
	if config.Source == nil || config.Client == nil || config.API == nil {
		return nil, ErrIncompleteConfig
	}
	if config.Configuration == nil {
		configuration := peerconnection.GetPeerConnectionConfig()
		config.Configuration = &configuration
	}
	if config.GatheringTimeout <= 0 {
		config.GatheringTimeout = DefaultGatheringTimeout
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.ExchangeReconnectDelay <= 0 {
		config.ExchangeReconnectDelay = DefaultExchangeReconnectDelay
	}
	if config.StatsSignalInterval <= 0 {
		config.StatsSignalInterval = DefaultStatsSignalInterval
	}
	if config.StatsWaitingInterval <= 0 {
		config.StatsWaitingInterval = DefaultStatsWaitingInterval
	}
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	broadcaster := &Broadcaster{
		config: config,
		logger: config.Logger,
		wake:   make(chan struct{}, 1),
	}
	broadcaster.ctx, broadcaster.cancel = context.WithCancel(context.Background())

	var reconnector *session.Reconnector
	reconnector = session.NewReconnector(func(token uint64) {
		broadcaster.spawn(func() { broadcaster.connect(reconnector, token) })
	})
	broadcaster.reconnector = reconnector
	broadcaster.session = session.NewPeerSession(config.StreamKey)
	broadcaster.badSignalCount = stats.InitialBadSignalCount

	return broadcaster, nil
}

// Start acquires the media source and begins publishing. A media access
// failure is returned as *MediaAccessError and leaves the broadcaster idle.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.lock.Lock()
	if b.stopped || b.started {
		b.lock.Unlock()
		return ErrAlreadyStarted
	}
	b.lock.Unlock()

	tracks, err := b.config.Source.Open(ctx)
	if err != nil {
		var mediaErr *MediaAccessError
		if !errors.As(err, &mediaErr) {
			mediaErr = &MediaAccessError{Reason: err}
		}

		b.logger.Error("Broadcaster.Start.MediaAccess", zap.Error(err))
		b.lock.Lock()
		b.mediaError = mediaErr
		b.lock.Unlock()
		b.emit()

		return mediaErr
	}

	b.lock.Lock()
	if b.stopped || b.started {
		b.lock.Unlock()
		_ = b.config.Source.Close()
		return ErrAlreadyStarted
	}

	b.started = true
	b.tracks = tracks
	b.mediaError = nil
	reconnector := b.reconnector
	token := reconnector.Next()
	b.spawnLocked(func() { b.connect(reconnector, token) })
	b.spawnLocked(b.statsLoop)
	b.lock.Unlock()

	b.logger.Info("Broadcaster.Start", zap.String("streamID", tracks.StreamID), zap.Int("videoEncodings", len(tracks.Video)))
	b.emit()
	return nil
}

// Stop closes the peer connection and the media source and waits for every
// goroutine the broadcaster started.
func (b *Broadcaster) Stop() {
	b.lock.Lock()
	if b.stopped {
		b.lock.Unlock()
		return
	}

	b.stopped = true
	started := b.started
	current := b.attempt
	b.attempt = nil
	b.reconnector.Close()
	b.session.Close()
	b.lock.Unlock()

	b.logger.Info("Broadcaster.Stop")
	b.cancel()
	if current != nil {
		current.close(b.logger)
	}

	b.routines.Wait()

	if started {
		if err := b.config.Source.Close(); err != nil {
			b.logger.Error("Broadcaster.Stop.Source", zap.Error(err))
		}
	}

	b.config.Telemetry.Forget(telemetry.RoleBroadcaster, b.config.StreamKey)
	b.listeners.Clear()
}

func (b *Broadcaster) Snapshot() BroadcasterState {
	b.lock.Lock()
	state := BroadcasterState{
		Session:        b.session.Snapshot(b.reconnector),
		PublishSuccess: b.publishSuccess,
		Disconnected:   b.disconnected,
		ConnectFailed:  b.connectFailed,
		HasSignal:      b.hasSignal,
		HasPacketLoss:  b.hasPacketLoss,
	}
	if b.tracks != nil {
		state.ScreenShare = b.tracks.ScreenShare
	}
	if b.mediaError != nil {
		state.MediaError = b.mediaError.Message()
	}
	b.lock.Unlock()

	if stater, ok := b.config.Source.(trackStater); ok {
		state.Tracks = stater.TrackStates()
	}

	return state
}

func (b *Broadcaster) OnStateChange(handler func(BroadcasterState)) (dispose func()) {
	return b.listeners.Add(handler)
}

func (b *Broadcaster) emit() {
	b.listeners.Emit(b.Snapshot())
}

func (b *Broadcaster) spawn(routine func()) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.spawnLocked(routine)
}

func (b *Broadcaster) spawnLocked(routine func()) {
	if b.stopped {
		return
	}

	b.routines.Add(1)
	go func() {
		defer b.routines.Done()
		routine()
	}()
}

func (b *Broadcaster) isCurrent(current *publishAttempt) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.isCurrentLocked(current)
}

func (b *Broadcaster) isCurrentLocked(current *publishAttempt) bool {
	return !b.stopped && b.attempt == current && current.reconnector.IsCurrent(current.token)
}

func (b *Broadcaster) connect(reconnector *session.Reconnector, token uint64) {
	b.lock.Lock()
	if b.stopped || !reconnector.IsCurrent(token) {
		b.lock.Unlock()
		return
	}

	previous := b.attempt
	b.attempt = nil
	b.session.SetState(session.StateNegotiating)
	tracks := b.tracks
	b.lock.Unlock()

	if previous != nil {
		previous.close(b.logger)
	}

	b.logger.Info("Broadcaster.Connect", zap.String("streamKey", b.config.StreamKey), zap.Uint64("attempt", token))

	peerConnection, err := b.config.API.NewPeerConnection(*b.config.Configuration)
	if err != nil {
		b.logger.Error("Broadcaster.Connect.PeerConnection", zap.Error(err))
		b.triggerReconnect(reconnector, b.config.ExchangeReconnectDelay)
		return
	}

	ctx, cancel := context.WithCancel(b.ctx)
	current := &publishAttempt{
		token:          token,
		reconnector:    reconnector,
		ctx:            ctx,
		cancel:         cancel,
		peerConnection: peerConnection,
		dispatcher:     peerconnection.NewDispatcher(peerConnection),
	}

	b.lock.Lock()
	if b.stopped || !reconnector.IsCurrent(token) {
		b.lock.Unlock()
		current.close(b.logger)
		return
	}
	b.attempt = current
	b.lock.Unlock()

	current.scope.Add(current.dispatcher.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		b.onICEConnectionState(current, state)
	}))

	if err := b.negotiate(current, tracks); err != nil {
		if !b.isCurrent(current) {
			return
		}

		b.logger.Error("Broadcaster.Connect.Error", zap.Error(err))
		b.triggerReconnect(reconnector, b.config.ExchangeReconnectDelay)
	}
}

func (b *Broadcaster) negotiate(current *publishAttempt, tracks *MediaTracks) error {
	peerConnection := current.peerConnection
	sendOnly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly}

	if tracks.Audio != nil {
		transceiver, err := peerConnection.AddTransceiverFromTrack(tracks.Audio, sendOnly)
		if err != nil {
			return err
		}
		b.spawn(func() { b.readRTCP(current, transceiver.Sender(), "") })
	}

	if len(tracks.Video) > 0 {
		transceiver, err := peerConnection.AddTransceiverFromTrack(tracks.Video[0], sendOnly)
		if err != nil {
			return err
		}

		for _, encoding := range tracks.Video[1:] {
			if err := transceiver.Sender().AddEncoding(encoding); err != nil {
				return err
			}
		}
		b.spawn(func() { b.readRTCP(current, transceiver.Sender(), tracks.Video[0].RID()) })
	}

	offer, err := peerConnection.CreateOffer(nil)
	if err != nil {
		return err
	}

	if err := peerConnection.SetLocalDescription(offer); err != nil {
		return err
	}

	if !peerconnection.AwaitICEGatheringComplete(current.ctx, current.dispatcher, b.config.GatheringTimeout) {
		b.logger.Debug("Broadcaster.Connect.GatheringIncomplete")
	}
	if err := current.ctx.Err(); err != nil {
		return err
	}

	answer, err := b.config.Client.WHIP(current.ctx, b.config.StreamKey, peerConnection.LocalDescription().SDP)
	if current.ctx.Err() != nil {
		return current.ctx.Err()
	}

	b.setConnectFailed(current, err)
	if err != nil {
		return err
	}

	b.logger.Info("Broadcaster.Connect.Accepted")
	return peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
}

func (b *Broadcaster) setConnectFailed(current *publishAttempt, err error) {
	var statusErr *signaling.StatusError
	rejected := errors.As(err, &statusErr)
	if err != nil && !rejected {
		return
	}

	b.lock.Lock()
	if !b.isCurrentLocked(current) {
		b.lock.Unlock()
		return
	}
	b.connectFailed = rejected
	b.lock.Unlock()

	if rejected {
		b.config.Telemetry.RecordConnectFailure(telemetry.RoleBroadcaster, b.config.StreamKey)
	}
	b.emit()
}

func (b *Broadcaster) triggerReconnect(reconnector *session.Reconnector, delay time.Duration) {
	b.lock.Lock()
	if b.stopped || !reconnector.Schedule(delay) {
		b.lock.Unlock()
		return
	}

	b.publishSuccess = false
	b.session.SetState(session.StateReconnectPending)
	b.lock.Unlock()

	b.logger.Info("Broadcaster.Reconnect.Scheduled", zap.Duration("delay", delay))
	b.config.Telemetry.RecordReconnect(telemetry.RoleBroadcaster, b.config.StreamKey)
	b.emit()
}

func (b *Broadcaster) onICEConnectionState(current *publishAttempt, state webrtc.ICEConnectionState) {
	if !b.isCurrent(current) {
		return
	}

	b.logger.Info("Broadcaster.ICEConnectionState", zap.String("state", state.String()))

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		b.lock.Lock()
		b.publishSuccess = true
		b.disconnected = false
		b.mediaError = nil
		b.lock.Unlock()

		b.session.SetState(session.StateConnected)
		b.emit()

	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		b.lock.Lock()
		b.publishSuccess = false
		b.disconnected = true
		b.lock.Unlock()

		b.session.SetState(session.StateDisconnected)
		b.emit()
		b.triggerReconnect(current.reconnector, b.config.ReconnectDelay)

	default:
	}
}

// readRTCP drains the sender so interceptors keep working, and passes
// keyframe requests on to the source.
func (b *Broadcaster) readRTCP(current *publishAttempt, sender *webrtc.RTPSender, rid string) {
	requester, _ := b.config.Source.(keyframeRequester)

	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}

		if requester == nil || !b.isCurrent(current) {
			continue
		}

		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				requester.RequestKeyframe(rid)
			}
		}
	}
}

func (b *Broadcaster) statsInterval() time.Duration {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.hasSignal {
		return b.config.StatsSignalInterval
	}

	return b.config.StatsWaitingInterval
}

func (b *Broadcaster) statsLoop() {
	timer := time.NewTimer(b.statsInterval())
	defer timer.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			b.sampleStats()
		}

		timer.Reset(b.statsInterval())
	}
}

func (b *Broadcaster) sampleStats() {
	b.lock.Lock()
	current := b.attempt
	count := b.badSignalCount
	b.lock.Unlock()

	if current == nil {
		return
	}

	health, count, err := stats.SamplePublisher(current.peerConnection, count)
	if err != nil {
		b.logger.Debug("Broadcaster.Stats.Error", zap.Error(err))
		return
	}

	b.lock.Lock()
	if !b.isCurrentLocked(current) {
		b.lock.Unlock()
		return
	}

	b.badSignalCount = count
	b.hasPacketLoss = health.HasPacketLoss
	signalChanged := health.SignalChanged && health.HasSignal != b.hasSignal
	if signalChanged {
		b.hasSignal = health.HasSignal
	}
	published := stats.PublisherHealth{HasPacketLoss: b.hasPacketLoss, HasSignal: b.hasSignal}
	b.lock.Unlock()

	if signalChanged {
		b.logger.Info("Broadcaster.Signal", zap.Bool("hasSignal", published.HasSignal))
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}

	b.config.Telemetry.ObservePublisher(b.config.StreamKey, published)
	b.emit()
}

func (a *publishAttempt) close(logger *zap.Logger) {
	a.cancel()
	a.scope.Close()
	a.dispatcher.Close()

	if err := a.peerConnection.Close(); err != nil {
		logger.Debug("Broadcaster.PeerConnection.Close", zap.Error(err))
	}
}
