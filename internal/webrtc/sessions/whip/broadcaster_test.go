package whip

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/sleroq/web.cum.army/internal/webrtc/sessions/session"
	"github.com/sleroq/web.cum.army/internal/webrtc/signaling"
)

type fakeSource struct {
	tracks *MediaTracks
	err    error

	lock      sync.Mutex
	opened    int
	closed    int
	keyframes []string
}

func (s *fakeSource) Open(context.Context) (*MediaTracks, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.opened++
	return s.tracks, s.err
}

func (s *fakeSource) Close() error {
	s.lock.Lock()
	s.closed++
	s.lock.Unlock()
	return nil
}

func (s *fakeSource) RequestKeyframe(rid string) {
	s.lock.Lock()
	s.keyframes = append(s.keyframes, rid)
	s.lock.Unlock()
}

func (s *fakeSource) counts() (opened, closed, keyframes int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.opened, s.closed, len(s.keyframes)
}

func newTestAPI(t *testing.T) *webrtc.API {
	t.Helper()

	mediaEngine := &webrtc.MediaEngine{}
	require.NoError(t, mediaEngine.RegisterDefaultCodecs())
	require.NoError(t, webrtc.ConfigureSimulcastExtensionHeaders(mediaEngine))

	interceptorRegistry := &interceptor.Registry{}
	require.NoError(t, webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry))

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	settingEngine.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	)
}

func newTestBroadcaster(t *testing.T, server *httptest.Server, source MediaSource, logger *zap.Logger, api *webrtc.API) *Broadcaster {
	t.Helper()

	broadcaster, err := NewBroadcaster(BroadcasterConfig{
		StreamKey: "test_stream_key",
		Source:    source,
		Client: signaling.NewClient(signaling.ClientConfig{
			APIPath:    server.URL + "/api",
			HTTPClient: server.Client(),
			Logger:     logger,
		}),
		API:                    api,
		Configuration:          &webrtc.Configuration{},
		GatheringTimeout:       time.Second,
		ReconnectDelay:         50 * time.Millisecond,
		ExchangeReconnectDelay: 50 * time.Millisecond,
		StatsSignalInterval:    50 * time.Millisecond,
		StatsWaitingInterval:   50 * time.Millisecond,
		Logger:                 logger,
	})
	require.NoError(t, err)

	return broadcaster
}

func newVideoTrack(t *testing.T, rid string) *webrtc.TrackLocalStaticRTP {
	t.Helper()

	options := []func(*webrtc.TrackLocalStaticRTP){}
	if rid != "" {
		options = append(options, webrtc.WithRTPStreamID(rid))
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "broadcast", options...)
	require.NoError(t, err)
	return track
}

func TestNewBroadcasterNeedsCollaborators(t *testing.T) {
	_, err := NewBroadcaster(BroadcasterConfig{Source: &fakeSource{}})
	assert.ErrorIs(t, err, ErrIncompleteConfig)
}

func TestBroadcasterMediaErrorIsNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		res.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	source := NewRTPSource(RTPSourceConfig{Logger: zaptest.NewLogger(t)})
	broadcaster := newTestBroadcaster(t, server, source, zaptest.NewLogger(t), newTestAPI(t))
	defer broadcaster.Stop()

	var notified atomic.Bool
	broadcaster.OnStateChange(func(state BroadcasterState) {
		if state.MediaError != "" {
			notified.Store(true)
		}
	})

	err := broadcaster.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoMediaDevices)

	var mediaErr *MediaAccessError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, mediaErr.Message(), broadcaster.Snapshot().MediaError)
	assert.True(t, notified.Load())

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, requests.Load())
	assert.False(t, broadcaster.Snapshot().PublishSuccess)
}

func TestBroadcasterOffersSimulcast(t *testing.T) {
	offers := make(chan string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		if req.URL.Path == "/api/whip" && req.Header.Get("Content-Type") == "application/sdp" {
			select {
			case offers <- string(body):
			default:
			}
		}
		res.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "broadcast")
	require.NoError(t, err)

	source := &fakeSource{tracks: &MediaTracks{
		StreamID: "broadcast",
		Audio:    audio,
		Video:    []webrtc.TrackLocal{newVideoTrack(t, "high"), newVideoTrack(t, "low")},
	}}

	broadcaster := newTestBroadcaster(t, server, source, zap.NewNop(), newTestAPI(t))
	require.NoError(t, broadcaster.Start(context.Background()))
	assert.ErrorIs(t, broadcaster.Start(context.Background()), ErrAlreadyStarted)

	var offer string
	select {
	case offer = <-offers:
	case <-time.After(10 * time.Second):
		t.Fatal("no offer was posted")
	}

	assert.Contains(t, offer, "a=rid:high send")
	assert.Contains(t, offer, "a=rid:low send")
	assert.Contains(t, offer, "a=simulcast:send")
	assert.Contains(t, offer, "a=sendonly")
	assert.Contains(t, offer, "opus")

	// A rejected offer is retried
	select {
	case <-offers:
	case <-time.After(10 * time.Second):
		t.Fatal("offer was not retried")
	}

	require.Eventually(t, func() bool {
		return broadcaster.Snapshot().ConnectFailed
	}, 5*time.Second, 10*time.Millisecond)

	broadcaster.Stop()
	opened, closed, _ := source.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
	assert.Equal(t, session.StateClosed, broadcaster.Snapshot().Session.ConnectionState)
}

func TestBroadcasterPublishes(t *testing.T) {
	api := newTestAPI(t)
	done := make(chan struct{})

	var lock sync.Mutex
	var remotes []*webrtc.PeerConnection
	received := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		offer, _ := io.ReadAll(req.Body)

		peerConnection, err := api.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			res.WriteHeader(http.StatusInternalServerError)
			return
		}

		lock.Lock()
		remotes = append(remotes, peerConnection)
		lock.Unlock()

		peerConnection.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if track.Kind() != webrtc.RTPCodecTypeVideo {
				return
			}

			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
			select {
			case received <- struct{}{}:
			default:
			}

			_ = peerConnection.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		})

		if err := peerConnection.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(offer)}); err != nil {
			res.WriteHeader(http.StatusBadRequest)
			return
		}

		answer, err := peerConnection.CreateAnswer(nil)
		if err != nil {
			res.WriteHeader(http.StatusInternalServerError)
			return
		}

		gathered := webrtc.GatheringCompletePromise(peerConnection)
		if err := peerConnection.SetLocalDescription(answer); err != nil {
			res.WriteHeader(http.StatusInternalServerError)
			return
		}
		<-gathered

		res.Header().Set("Content-Type", "application/sdp")
		res.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(res, peerConnection.LocalDescription().SDP)
	}))
	defer func() {
		close(done)
		lock.Lock()
		for _, peerConnection := range remotes {
			_ = peerConnection.Close()
		}
		lock.Unlock()
		server.Close()
	}()

	video := newVideoTrack(t, "")
	source := &fakeSource{tracks: &MediaTracks{
		StreamID:    "broadcast",
		Video:       []webrtc.TrackLocal{video},
		ScreenShare: true,
	}}

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()

		var sequenceNumber uint16
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sequenceNumber++
				_ = video.WriteRTP(&rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						SequenceNumber: sequenceNumber,
						Timestamp:      uint32(sequenceNumber) * 1800,
						Marker:         true,
					},
					Payload: []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a},
				})
			}
		}
	}()

	broadcaster := newTestBroadcaster(t, server, source, zap.NewNop(), api)
	defer broadcaster.Stop()

	require.NoError(t, broadcaster.Start(context.Background()))

	require.Eventually(t, func() bool {
		return broadcaster.Snapshot().PublishSuccess
	}, 10*time.Second, 20*time.Millisecond)

	state := broadcaster.Snapshot()
	assert.True(t, state.ScreenShare)
	assert.False(t, state.Disconnected)
	assert.False(t, state.ConnectFailed)
	assert.Empty(t, state.MediaError)
	assert.Equal(t, session.StateConnected, state.Session.ConnectionState)

	select {
	case <-received:
	case <-time.After(10 * time.Second):
		t.Fatal("server never received video")
	}

	require.Eventually(t, func() bool {
		_, _, keyframes := source.counts()
		return keyframes > 0
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return broadcaster.Snapshot().HasSignal
	}, 10*time.Second, 20*time.Millisecond)
}
