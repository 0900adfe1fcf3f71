package peerconnection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"

	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

type fakeNotifier struct {
	lock      sync.Mutex
	state     webrtc.ICEGatheringState
	handlers  utils.Listeners[webrtc.ICEGatheringState]
	subscribe atomic.Int32
	disposed  atomic.Int32
}

func (f *fakeNotifier) ICEGatheringState() webrtc.ICEGatheringState {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.state
}

func (f *fakeNotifier) OnICEGatheringStateChange(handler func(webrtc.ICEGatheringState)) func() {
	f.subscribe.Add(1)
	dispose := f.handlers.Add(handler)
	return func() {
		f.disposed.Add(1)
		dispose()
	}
}

func (f *fakeNotifier) set(state webrtc.ICEGatheringState) {
	f.lock.Lock()
	f.state = state
	f.lock.Unlock()
	f.handlers.Emit(state)
}

func TestAwaitICEGatheringAlreadyComplete(t *testing.T) {
	notifier := &fakeNotifier{state: webrtc.ICEGatheringStateComplete}

	assert.True(t, AwaitICEGatheringComplete(context.Background(), notifier, time.Second))
	assert.Equal(t, int32(0), notifier.subscribe.Load())
}

func TestAwaitICEGatheringCompletes(t *testing.T) {
	notifier := &fakeNotifier{state: webrtc.ICEGatheringStateGathering}

	go func() {
		time.Sleep(20 * time.Millisecond)
		notifier.set(webrtc.ICEGatheringStateComplete)
		notifier.set(webrtc.ICEGatheringStateComplete)
	}()

	assert.True(t, AwaitICEGatheringComplete(context.Background(), notifier, 5*time.Second))
	assert.Equal(t, int32(1), notifier.disposed.Load())
	assert.Equal(t, 0, notifier.handlers.Len())
}

func TestAwaitICEGatheringTimesOut(t *testing.T) {
	notifier := &fakeNotifier{state: webrtc.ICEGatheringStateGathering}
	timeout := 50 * time.Millisecond

	start := time.Now()
	assert.False(t, AwaitICEGatheringComplete(context.Background(), notifier, timeout))

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)
	assert.Equal(t, int32(1), notifier.disposed.Load())
	assert.Equal(t, 0, notifier.handlers.Len())

	// A late completion after the timeout reaches nobody
	notifier.set(webrtc.ICEGatheringStateComplete)
}

func TestAwaitICEGatheringCancelled(t *testing.T) {
	notifier := &fakeNotifier{state: webrtc.ICEGatheringStateNew}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, AwaitICEGatheringComplete(ctx, notifier, time.Minute))
	assert.Equal(t, int32(1), notifier.disposed.Load())
}

func TestAwaitICEGatheringOnRealPeerConnection(t *testing.T) {
	peerConnection, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	assert.NoError(t, err)
	defer func() { _ = peerConnection.Close() }()

	dispatcher := NewDispatcher(peerConnection)
	defer dispatcher.Close()

	_, err = peerConnection.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	assert.NoError(t, err)

	offer, err := peerConnection.CreateOffer(nil)
	assert.NoError(t, err)
	assert.NoError(t, peerConnection.SetLocalDescription(offer))

	// Host candidates only, this completes well within the bound
	assert.True(t, AwaitICEGatheringComplete(context.Background(), dispatcher, 10*time.Second))
	assert.Equal(t, 0, dispatcher.gathering.Len())
}
