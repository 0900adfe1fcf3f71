package whep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/chat"
	"github.com/sleroq/web.cum.army/internal/playback"
	"github.com/sleroq/web.cum.army/internal/telemetry"
	"github.com/sleroq/web.cum.army/internal/webrtc/chatdc"
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
)

var (
	ErrIncompleteConfig = errors.New("whep: player needs a sink, a signaling client and a webrtc API")
	ErrChatUnavailable  = errors.New("whep: chat data channel unavailable")
)

type PlayerConfig struct {
	StreamKey string
	Sink      playback.Sink
	Client    *signaling.Client
	API       *webrtc.API

	// Nil resolves the ICE servers from the environment
	Configuration *webrtc.Configuration

	// Chat negotiates the room's chat data channel alongside the media
	Chat           bool
	ChatMaxHistory int

	GatheringTimeout       time.Duration
	ReconnectDelay         time.Duration
	ExchangeReconnectDelay time.Duration
	StatsSignalInterval    time.Duration
	StatsWaitingInterval   time.Duration

	Telemetry *telemetry.Collector
	Logger    *zap.Logger
}

// PlayerState is everything a viewer UI renders about a playback session.
type PlayerState struct {
	Session       session.Snapshot    `json:"session"`
	HasSignal     bool                `json:"hasSignal"`
	ConnectFailed bool                `json:"connectFailed"`
	Reconnecting  bool                `json:"reconnecting"`
	Health        stats.DerivedHealth `json:"health"`
	Layers        []string            `json:"layers"`
	CurrentLayer  string              `json:"currentLayer"`
	Status        StreamStatus        `json:"status"`
}

// Player negotiates a WHEP session for one stream key and renders it into a
// sink. Transport and signaling failures are retried for as long as the
// player runs.
type Player struct {
	config    PlayerConfig
	logger    *zap.Logger
	layers    *LayerCatalog
	sampler   *stats.Sampler
	listeners utils.Listeners[PlayerState]

	chatHistory  *chat.History
	chatMessages utils.Listeners[chat.Message]

	ctx    context.Context
	cancel context.CancelFunc

	lock           sync.Mutex
	started        bool
	stopped        bool
	session        *session.PeerSession
	reconnector    *session.Reconnector
	attempt        *attempt
	hasSignal      bool
	connectFailed  bool
	reconnecting   bool
	status         StreamStatus
	playingDispose func()

	routines sync.WaitGroup
}

// attempt is one peer connection and everything hanging off it.
type attempt struct {
	token       uint64
	reconnector *session.Reconnector

	ctx            context.Context
	cancel         context.CancelFunc
	peerConnection *webrtc.PeerConnection
	dispatcher     *peerconnection.Dispatcher
	scope          session.Scope

	// Guarded by Player.lock
	videoSSRC webrtc.SSRC

	chatLock sync.Mutex
	chat     *chatdc.Channel
	closed   bool
}

func NewPlayer(config PlayerConfig) (*Player, error) {
	if config.Sink == nil || config.Client == nil || config.API == nil {
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
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	player := &Player{
		config:      config,
		logger:      config.Logger,
		chatHistory: chat.NewHistory(config.ChatMaxHistory),
	}
	player.ctx, player.cancel = context.WithCancel(context.Background())
	player.layers = NewLayerCatalog(config.Client, player.logger)
	player.sampler = stats.NewSampler(stats.SamplerConfig{
		SignalInterval:  config.StatsSignalInterval,
		WaitingInterval: config.StatsWaitingInterval,
		OnSample:        player.onSample,
		Logger:          player.logger,
	})

	player.lock.Lock()
	player.newSessionLocked(config.StreamKey)
	player.lock.Unlock()

	return player, nil
}

// Start begins the first negotiation. Further calls have no effect.
func (p *Player) Start() {
	p.lock.Lock()
	if p.started || p.stopped {
		p.lock.Unlock()
		return
	}

	p.started = true
	reconnector := p.reconnector
	token := reconnector.Next()
	p.spawnLocked(func() { p.connect(reconnector, token) })
	p.lock.Unlock()

	p.logger.Info("Player.Start")
	p.sampler.Start()
	p.emit()
}

// Stop tears the player down and waits for every goroutine it started.
func (p *Player) Stop() {
	p.lock.Lock()
	if p.stopped {
		p.lock.Unlock()
		return
	}

	p.stopped = true
	current := p.attempt
	p.attempt = nil
	p.closeSessionLocked()
	dispose := p.playingDispose
	p.playingDispose = nil
	streamKey := p.config.StreamKey
	p.lock.Unlock()

	p.logger.Info("Player.Stop")
	p.cancel()
	if dispose != nil {
		dispose()
	}
	if current != nil {
		current.close(p.logger)
	}

	p.sampler.Stop()
	p.routines.Wait()

	p.config.Telemetry.Forget(telemetry.RolePlayer, streamKey)
	p.listeners.Clear()
	p.chatMessages.Clear()
}

// SetStreamKey drops the current session and, when started, negotiates one
// for streamKey.
func (p *Player) SetStreamKey(streamKey string) {
	p.lock.Lock()
	if p.stopped || p.config.StreamKey == streamKey {
		p.lock.Unlock()
		return
	}

	previousKey := p.config.StreamKey
	current := p.attempt
	p.attempt = nil
	p.closeSessionLocked()
	dispose := p.playingDispose
	p.playingDispose = nil

	p.config.StreamKey = streamKey
	p.chatHistory.Reset()
	p.layers.Clear()
	p.sampler.SetSource(nil)
	p.sampler.SetSignal(false)
	reconnector := p.newSessionLocked(streamKey)
	if p.started {
		token := reconnector.Next()
		p.spawnLocked(func() { p.connect(reconnector, token) })
	}
	p.lock.Unlock()

	if dispose != nil {
		dispose()
	}
	if current != nil {
		current.close(p.logger)
	}

	p.config.Telemetry.Forget(telemetry.RolePlayer, previousKey)
	p.emit()
}

// SelectLayer switches the forwarded simulcast layer and asks for a keyframe
// of the new layer.
func (p *Player) SelectLayer(ctx context.Context, encodingID string) error {
	err := p.layers.SelectLayer(ctx, encodingID)
	if err == nil {
		p.lock.Lock()
		current := p.attempt
		p.lock.Unlock()

		if current != nil {
			p.sendPLI(current)
		}
	}

	p.emit()
	return err
}

// SendChat posts a message to the room of the current stream over the chat
// data channel and waits for the server to acknowledge it.
func (p *Player) SendChat(ctx context.Context, text, displayName string) error {
	p.lock.Lock()
	current := p.attempt
	p.lock.Unlock()

	var channel *chatdc.Channel
	if current != nil {
		channel = current.chatChannel()
	}
	if channel == nil {
		return ErrChatUnavailable
	}
	return channel.Send(ctx, text, displayName)
}

// ChatMessages returns the room history received so far, oldest first.
func (p *Player) ChatMessages() []chat.Message {
	return p.chatHistory.Messages()
}

func (p *Player) OnChatMessage(handler func(chat.Message)) (dispose func()) {
	return p.chatMessages.Add(handler)
}

func (p *Player) Layers() *LayerCatalog {
	return p.layers
}

func (p *Player) Snapshot() PlayerState {
	p.lock.Lock()
	state := PlayerState{
		Session:       p.session.Snapshot(p.reconnector),
		HasSignal:     p.hasSignal,
		ConnectFailed: p.connectFailed,
		Reconnecting:  p.reconnecting,
		Status:        p.status,
	}
	p.lock.Unlock()

	state.Health = p.sampler.Latest()
	state.Layers = p.layers.Layers()
	state.CurrentLayer = p.layers.Current()
	return state
}

func (p *Player) OnStateChange(handler func(PlayerState)) (dispose func()) {
	return p.listeners.Add(handler)
}

func (p *Player) emit() {
	p.listeners.Emit(p.Snapshot())
}

func (p *Player) newSessionLocked(streamKey string) *session.Reconnector {
	var reconnector *session.Reconnector
	reconnector = session.NewReconnector(func(token uint64) {
		p.spawn(func() { p.connect(reconnector, token) })
	})

	p.session = session.NewPeerSession(streamKey)
	p.reconnector = reconnector
	p.hasSignal = false
	p.connectFailed = false
	p.reconnecting = false
	p.status = StreamStatus{}

	return reconnector
}

func (p *Player) closeSessionLocked() {
	p.reconnector.Close()
	p.session.Close()
}

func (p *Player) spawn(routine func()) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.spawnLocked(routine)
}

func (p *Player) spawnLocked(routine func()) {
	if p.stopped {
		return
	}

	p.routines.Add(1)
	go func() {
		defer p.routines.Done()
		routine()
	}()
}

func (p *Player) isCurrent(current *attempt) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.isCurrentLocked(current)
}

func (p *Player) isCurrentLocked(current *attempt) bool {
	return !p.stopped && p.attempt == current && current.reconnector.IsCurrent(current.token)
}

func (p *Player) connect(reconnector *session.Reconnector, token uint64) {
	p.lock.Lock()
	if p.stopped || p.reconnector != reconnector || !reconnector.IsCurrent(token) {
		p.lock.Unlock()
		return
	}

	previous := p.attempt
	p.attempt = nil
	p.session.Detach()
	p.session.SetState(session.StateNegotiating)
	streamKey := p.config.StreamKey
	logger := p.logger
	p.lock.Unlock()

	if previous != nil {
		previous.close(logger)
	}
	p.layers.Reset()

	logger.Info("Player.Connect", zap.String("streamKey", streamKey), zap.Uint64("attempt", token))

	peerConnection, err := p.config.API.NewPeerConnection(*p.config.Configuration)
	if err != nil {
		logger.Error("Player.Connect.PeerConnection", zap.Error(err))
		p.triggerReconnect(reconnector, p.config.ExchangeReconnectDelay)
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	current := &attempt{
		token:          token,
		reconnector:    reconnector,
		ctx:            ctx,
		cancel:         cancel,
		peerConnection: peerConnection,
		dispatcher:     peerconnection.NewDispatcher(peerConnection),
	}

	p.lock.Lock()
	if p.stopped || p.reconnector != reconnector || !reconnector.IsCurrent(token) {
		p.lock.Unlock()
		current.close(logger)
		return
	}
	p.attempt = current
	p.lock.Unlock()

	p.sampler.SetSource(peerConnection)

	current.scope.Add(current.dispatcher.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.onConnectionState(current, state)
	}))
	current.scope.Add(current.dispatcher.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.onICEConnectionState(current, state)
	}))
	current.scope.Add(current.dispatcher.OnTrack(func(event peerconnection.TrackEvent) {
		p.onTrack(current, event)
	}))

	if err := p.negotiate(current, streamKey); err != nil {
		if !p.isCurrent(current) {
			return
		}

		logger.Error("Player.Connect.Error", zap.Error(err))
		p.triggerReconnect(reconnector, p.config.ExchangeReconnectDelay)
	}
}

func (p *Player) negotiate(current *attempt, streamKey string) error {
	peerConnection := current.peerConnection

	if p.config.Chat {
		channel, err := chatdc.Open(peerConnection, p.chatHistory, &p.chatMessages, p.logger)
		if err != nil {
			return err
		}

		if !current.setChat(channel) {
			return context.Canceled
		}
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := peerConnection.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}

	offer, err := peerConnection.CreateOffer(nil)
	if err != nil {
		return err
	}

	if err := peerConnection.SetLocalDescription(offer); err != nil {
		return err
	}

	if !peerconnection.AwaitICEGatheringComplete(current.ctx, current.dispatcher, p.config.GatheringTimeout) {
		p.logger.Debug("Player.Connect.GatheringIncomplete")
	}
	if err := current.ctx.Err(); err != nil {
		return err
	}

	// The local description must stay as created, only the posted copy asks for stereo.
	body, err := utils.ForceStereoOpus(peerConnection.LocalDescription().SDP)
	if err != nil {
		return err
	}

	answer, err := p.config.Client.WHEP(current.ctx, streamKey, body)
	if current.ctx.Err() != nil {
		return current.ctx.Err()
	}

	p.setConnectFailed(current, err)
	if err != nil {
		return err
	}

	p.logger.Info("Player.Connect.Accepted", zap.String("layerURL", answer.LayerURL), zap.String("eventsURL", answer.EventsURL))
	p.lock.Lock()
	if !p.isCurrentLocked(current) {
		p.lock.Unlock()
		return context.Canceled
	}
	p.layers.SetEndpoint(answer.LayerURL)
	p.lock.Unlock()

	p.spawn(func() { p.subscribe(current, answer.EventsURL) })

	return peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
}

// setConnectFailed records whether the server accepted the offer. Errors that
// never reached the server leave the flag alone.
func (p *Player) setConnectFailed(current *attempt, err error) {
	var statusErr *signaling.StatusError
	rejected := errors.As(err, &statusErr)
	answered := err == nil || rejected ||
		errors.Is(err, signaling.ErrMissingLinkHeader) ||
		errors.Is(err, signaling.ErrMissingLinkRelation)

	if !answered {
		return
	}

	p.lock.Lock()
	if !p.isCurrentLocked(current) {
		p.lock.Unlock()
		return
	}
	p.connectFailed = rejected
	streamKey := p.config.StreamKey
	p.lock.Unlock()

	if rejected {
		p.config.Telemetry.RecordConnectFailure(telemetry.RolePlayer, streamKey)
	}
	p.emit()
}

// triggerReconnect arms a reconnect unless one is already pending.
func (p *Player) triggerReconnect(reconnector *session.Reconnector, delay time.Duration) {
	p.lock.Lock()
	if p.stopped || p.reconnector != reconnector || !reconnector.Schedule(delay) {
		p.lock.Unlock()
		return
	}

	p.reconnecting = true
	p.hasSignal = false
	p.session.SetState(session.StateReconnectPending)
	streamKey := p.config.StreamKey
	p.lock.Unlock()

	p.logger.Info("Player.Reconnect.Scheduled", zap.Duration("delay", delay))
	p.sampler.SetSignal(false)
	p.config.Telemetry.RecordReconnect(telemetry.RolePlayer, streamKey)
	p.config.Telemetry.SetSignal(telemetry.RolePlayer, streamKey, false)
	p.emit()
}

func (p *Player) onConnectionState(current *attempt, state webrtc.PeerConnectionState) {
	if !p.isCurrent(current) {
		return
	}

	p.logger.Info("Player.ConnectionState", zap.String("state", state.String()))

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		p.session.SetState(session.StateDisconnected)
		p.triggerReconnect(current.reconnector, p.config.ReconnectDelay)
	case webrtc.PeerConnectionStateConnected:
		p.lock.Lock()
		p.reconnecting = false
		p.lock.Unlock()

		p.session.SetState(session.StateConnected)
		p.emit()
	default:
	}
}

func (p *Player) onICEConnectionState(current *attempt, state webrtc.ICEConnectionState) {
	if !p.isCurrent(current) {
		return
	}

	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
		p.logger.Warn("Player.ICEConnectionState", zap.String("state", state.String()))
		p.triggerReconnect(current.reconnector, p.config.ReconnectDelay)
	default:
		p.logger.Debug("Player.ICEConnectionState", zap.String("state", state.String()))
	}
}

func (p *Player) onTrack(current *attempt, event peerconnection.TrackEvent) {
	track := event.Track
	if !p.bindStream(current, track.StreamID()) {
		return
	}

	p.logger.Info("Player.Track", zap.String("kind", track.Kind().String()), zap.String("codec", track.Codec().MimeType))

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		p.lock.Lock()
		current.videoSSRC = track.SSRC()
		p.lock.Unlock()

		p.sendPLI(current)
	}

	p.spawn(func() { p.pump(current, track) })
}

// bindStream attaches streamID to the sink unless it already is. Audio and
// video of one stream arrive as two tracks but bind once. It reports whether
// the attempt is still current.
func (p *Player) bindStream(current *attempt, streamID string) bool {
	p.lock.Lock()
	if !p.isCurrentLocked(current) {
		p.lock.Unlock()
		return false
	}

	attached := p.session.Attach(streamID)
	var previous func()
	if attached {
		previous = p.playingDispose
		p.playingDispose = p.config.Sink.OnPlaying(func() { p.onPlaying(current) })
	}
	p.lock.Unlock()

	if previous != nil {
		previous()
	}
	if attached {
		p.logger.Info("Player.Track.Attached", zap.String("streamID", streamID))
		p.config.Sink.Attach(streamID)
		p.emit()
	}

	return true
}

func (p *Player) onPlaying(current *attempt) {
	p.lock.Lock()
	if !p.isCurrentLocked(current) || p.hasSignal {
		p.lock.Unlock()
		return
	}
	p.hasSignal = true
	streamKey := p.config.StreamKey
	p.lock.Unlock()

	p.logger.Info("Player.Signal")
	p.sampler.SetSignal(true)
	p.config.Telemetry.SetSignal(telemetry.RolePlayer, streamKey, true)
	p.emit()
}

func (p *Player) onSample(health stats.DerivedHealth) {
	p.lock.Lock()
	streamKey := p.config.StreamKey
	p.lock.Unlock()

	p.config.Telemetry.ObserveHealth(telemetry.RolePlayer, streamKey, health)
	p.emit()
}

// pump copies packets from track into the sink until the track ends or the
// attempt is superseded.
func (p *Player) pump(current *attempt, track *webrtc.TrackRemote) {
	kind := track.Kind()

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			p.logger.Debug("Player.Track.Ended", zap.String("kind", kind.String()), zap.Error(err))
			return
		}

		if current.ctx.Err() != nil {
			return
		}

		if err := p.config.Sink.WriteRTP(kind, packet); errors.Is(err, playback.ErrSinkClosed) {
			return
		}
	}
}

func (p *Player) sendPLI(current *attempt) {
	p.lock.Lock()
	ssrc := current.videoSSRC
	p.lock.Unlock()

	if ssrc == 0 {
		return
	}

	if err := current.peerConnection.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
	}); err != nil {
		p.logger.Debug("Player.SendPLI.Error", zap.Error(err))
	}
}

// setChat hands the chat channel to the attempt. A closed attempt refuses it
// and the channel is closed instead.
func (a *attempt) setChat(channel *chatdc.Channel) bool {
	a.chatLock.Lock()
	closed := a.closed
	if !closed {
		a.chat = channel
	}
	a.chatLock.Unlock()

	if closed {
		_ = channel.Close()
	}
	return !closed
}

func (a *attempt) chatChannel() *chatdc.Channel {
	a.chatLock.Lock()
	defer a.chatLock.Unlock()
	return a.chat
}

func (a *attempt) close(logger *zap.Logger) {
	a.cancel()
	a.scope.Close()
	a.dispatcher.Close()

	a.chatLock.Lock()
	a.closed = true
	channel := a.chat
	a.chat = nil
	a.chatLock.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			logger.Debug("Player.Chat.Close", zap.Error(err))
		}
	}

	if err := a.peerConnection.Close(); err != nil {
		logger.Debug("Player.PeerConnection.Close", zap.Error(err))
	}
}
