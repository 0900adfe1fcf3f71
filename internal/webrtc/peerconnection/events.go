package peerconnection

import (
	"github.com/pion/webrtc/v4"

	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

// PeerConnection is the part of *webrtc.PeerConnection the dispatcher hooks into.
type PeerConnection interface {
	ICEGatheringState() webrtc.ICEGatheringState
	OnICEGatheringStateChange(func(webrtc.ICEGatheringState))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
}

type TrackEvent struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// Dispatcher owns the single pion handler slot of every event and fans out to
// any number of listeners, each removable through the disposer it was given.
type Dispatcher struct {
	peerConnection PeerConnection

	gathering     utils.Listeners[webrtc.ICEGatheringState]
	connection    utils.Listeners[webrtc.PeerConnectionState]
	iceConnection utils.Listeners[webrtc.ICEConnectionState]
	track         utils.Listeners[TrackEvent]
}

func NewDispatcher(peerConnection PeerConnection) *Dispatcher {
	dispatcher := &Dispatcher{peerConnection: peerConnection}

	peerConnection.OnICEGatheringStateChange(dispatcher.gathering.Emit)
	peerConnection.OnConnectionStateChange(dispatcher.connection.Emit)
	peerConnection.OnICEConnectionStateChange(dispatcher.iceConnection.Emit)
	peerConnection.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		dispatcher.track.Emit(TrackEvent{Track: track, Receiver: receiver})
	})

	return dispatcher
}

func (d *Dispatcher) ICEGatheringState() webrtc.ICEGatheringState {
	return d.peerConnection.ICEGatheringState()
}

func (d *Dispatcher) OnICEGatheringStateChange(handler func(webrtc.ICEGatheringState)) (dispose func()) {
	return d.gathering.Add(handler)
}

func (d *Dispatcher) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) (dispose func()) {
	return d.connection.Add(handler)
}

func (d *Dispatcher) OnICEConnectionStateChange(handler func(webrtc.ICEConnectionState)) (dispose func()) {
	return d.iceConnection.Add(handler)
}

func (d *Dispatcher) OnTrack(handler func(TrackEvent)) (dispose func()) {
	return d.track.Add(handler)
}

// Close drops every listener. Events raised afterwards reach nobody.
func (d *Dispatcher) Close() {
	d.gathering.Clear()
	d.connection.Clear()
	d.iceConnection.Clear()
	d.track.Clear()
}
