package chatdc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/chat"
	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

func newTestAPI() *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	settingEngine.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)

	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

// serveChat answers the chat protocol the way a broadcast-box server does.
func serveChat(t *testing.T, dataChannel *webrtc.DataChannel) {
	var lock sync.Mutex
	var eventID uint64

	send := func(payload map[string]any) {
		data, err := json.Marshal(payload)
		require.NoError(t, err)

		lock.Lock()
		defer lock.Unlock()
		_ = dataChannel.SendText(string(data))
	}

	dataChannel.OnOpen(func() {
		send(map[string]any{"type": inboundTypeConnected})
		send(map[string]any{"type": inboundTypeHistory, "events": []chat.Event{
			{Type: chat.EventTypeMessage, Message: chat.Message{ID: "h1", Text: "earlier", DisplayName: "a"}},
		}})
	})

	dataChannel.OnMessage(func(message webrtc.DataChannelMessage) {
		var inbound outboundMessage
		if err := json.Unmarshal(message.Data, &inbound); err != nil {
			return
		}

		if inbound.Text == "rejected" {
			send(map[string]any{"type": inboundTypeError, "clientMsgId": inbound.ClientMessage, "error": "slow down"})
			return
		}

		eventID++
		send(map[string]any{"type": inboundTypeAck, "clientMsgId": inbound.ClientMessage})
		send(map[string]any{"type": inboundTypeMessage, "eventId": eventID, "message": chat.Message{
			ID:          inbound.ClientMessage,
			Text:        inbound.Text,
			DisplayName: inbound.DisplayName,
		}})
	})
}

func connectPair(t *testing.T, client, server *webrtc.PeerConnection) {
	t.Helper()

	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	clientGathered := webrtc.GatheringCompletePromise(client)
	require.NoError(t, client.SetLocalDescription(offer))
	<-clientGathered

	require.NoError(t, server.SetRemoteDescription(*client.LocalDescription()))
	answer, err := server.CreateAnswer(nil)
	require.NoError(t, err)
	serverGathered := webrtc.GatheringCompletePromise(server)
	require.NoError(t, server.SetLocalDescription(answer))
	<-serverGathered

	require.NoError(t, client.SetRemoteDescription(*server.LocalDescription()))
}

func TestChannelExchangesMessages(t *testing.T) {
	api := newTestAPI()

	client, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer client.Close()

	server, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer server.Close()

	server.OnDataChannel(func(dataChannel *webrtc.DataChannel) {
		if dataChannel.Label() == DataChannelLabel {
			serveChat(t, dataChannel)
		}
	})

	history := chat.NewHistory(0)
	listeners := &utils.Listeners[chat.Message]{}
	received := make(chan chat.Message, 8)
	listeners.Add(func(message chat.Message) { received <- message })

	channel, err := Open(client, history, listeners, zap.NewNop())
	require.NoError(t, err)

	assert.ErrorIs(t, channel.Send(context.Background(), "too early", "viewer"), ErrNotOpen)

	connectPair(t, client, server)

	require.Eventually(t, channel.Connected, 10*time.Second, 10*time.Millisecond)

	select {
	case message := <-received:
		assert.Equal(t, "h1", message.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("history never arrived")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, channel.Send(ctx, "  hello  ", " viewer "))

	select {
	case message := <-received:
		assert.Equal(t, "hello", message.Text)
		assert.Equal(t, "viewer", message.DisplayName)
	case <-time.After(5 * time.Second):
		t.Fatal("sent message was not echoed")
	}
	assert.Equal(t, uint64(1), channel.LastEventID())
	assert.Equal(t, 2, history.Len())

	var serverErr *ServerError
	require.ErrorAs(t, channel.Send(ctx, "rejected", "viewer"), &serverErr)
	assert.Equal(t, "slow down", serverErr.Message)

	assert.ErrorIs(t, channel.Send(ctx, " ", "viewer"), chat.ErrInvalidText)
	assert.ErrorIs(t, channel.Send(ctx, "hi", ""), chat.ErrInvalidDisplayName)

	require.NoError(t, channel.Close())
	assert.False(t, channel.Connected())
}
