package peerconnection

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockPeerConnection struct {
	mock.Mock

	gathering     func(webrtc.ICEGatheringState)
	connection    func(webrtc.PeerConnectionState)
	iceConnection func(webrtc.ICEConnectionState)
	track         func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (m *mockPeerConnection) ICEGatheringState() webrtc.ICEGatheringState {
	return m.Called().Get(0).(webrtc.ICEGatheringState)
}

func (m *mockPeerConnection) OnICEGatheringStateChange(handler func(webrtc.ICEGatheringState)) {
	m.gathering = handler
}

func (m *mockPeerConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	m.connection = handler
}

func (m *mockPeerConnection) OnICEConnectionStateChange(handler func(webrtc.ICEConnectionState)) {
	m.iceConnection = handler
}

func (m *mockPeerConnection) OnTrack(handler func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.track = handler
}

func TestDispatcherFansOutAndDisposes(t *testing.T) {
	peerConnection := &mockPeerConnection{}
	dispatcher := NewDispatcher(peerConnection)

	var first, second []webrtc.PeerConnectionState
	disposeFirst := dispatcher.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		first = append(first, state)
	})
	dispatcher.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		second = append(second, state)
	})

	peerConnection.connection(webrtc.PeerConnectionStateConnecting)
	disposeFirst()
	disposeFirst()
	peerConnection.connection(webrtc.PeerConnectionStateConnected)

	assert.Equal(t, []webrtc.PeerConnectionState{webrtc.PeerConnectionStateConnecting}, first)
	assert.Equal(t, []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateConnecting,
		webrtc.PeerConnectionStateConnected,
	}, second)
	assert.Equal(t, 1, dispatcher.connection.Len())
}

func TestDispatcherClose(t *testing.T) {
	peerConnection := &mockPeerConnection{}
	dispatcher := NewDispatcher(peerConnection)

	calls := 0
	dispatcher.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) { calls++ })
	dispatcher.OnTrack(func(TrackEvent) { calls++ })

	dispatcher.Close()
	peerConnection.iceConnection(webrtc.ICEConnectionStateFailed)
	peerConnection.track(nil, nil)

	assert.Equal(t, 0, calls)
}

func TestDispatcherReadsGatheringState(t *testing.T) {
	peerConnection := &mockPeerConnection{}
	peerConnection.On("ICEGatheringState").Return(webrtc.ICEGatheringStateGathering)

	dispatcher := NewDispatcher(peerConnection)
	assert.Equal(t, webrtc.ICEGatheringStateGathering, dispatcher.ICEGatheringState())
	peerConnection.AssertExpectations(t)
}
