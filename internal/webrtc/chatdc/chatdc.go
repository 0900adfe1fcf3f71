package chatdc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/chat"
	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

const DataChannelLabel = "bb-chat-v1"

const (
	outboundTypeSend = "chat.send"

	inboundTypeConnected = "chat.connected"
	inboundTypeHistory   = "chat.history"
	inboundTypeMessage   = "chat.message"
	inboundTypeAck       = "chat.ack"
	inboundTypeError     = "chat.error"
)

var (
	ErrChannelClosed = errors.New("chatdc: data channel closed")
	ErrNotOpen       = errors.New("chatdc: data channel not open")
)

// ServerError is a chat.error reply from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "chatdc: " + e.Message
}

type (
	outboundMessage struct {
		Type          string `json:"type"`
		ClientMessage string `json:"clientMsgId,omitempty"`
		Text          string `json:"text,omitempty"`
		DisplayName   string `json:"displayName,omitempty"`
	}

	inboundMessage struct {
		Type          string       `json:"type"`
		ClientMessage string       `json:"clientMsgId,omitempty"`
		Error         string       `json:"error,omitempty"`
		EventID       uint64       `json:"eventId,omitempty"`
		Message       chat.Message `json:"message"`
		Events        []chat.Event `json:"events,omitempty"`
	}
)

// Channel is the client end of the chat data channel negotiated inside a
// playback session. Messages land in a history shared across channels, so a
// reconnect does not repeat them.
type Channel struct {
	dataChannel *webrtc.DataChannel
	history     *chat.History
	logger      *zap.Logger

	messages *utils.Listeners[chat.Message]

	lock      sync.Mutex
	connected bool
	closed    bool
	lastEvent uint64
	pending   map[string]chan error
	writeLock sync.Mutex
}

// Open creates the chat data channel on peerConnection. It has to be called
// before the offer is created.
func Open(peerConnection *webrtc.PeerConnection, history *chat.History, messages *utils.Listeners[chat.Message], logger *zap.Logger) (*Channel, error) {
	if logger == nil {
		logger = zap.L()
	}
	if history == nil {
		history = chat.NewHistory(0)
	}
	if messages == nil {
		messages = &utils.Listeners[chat.Message]{}
	}

	dataChannel, err := peerConnection.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return nil, err
	}

	channel := &Channel{
		dataChannel: dataChannel,
		history:     history,
		logger:      logger,
		messages:    messages,
		pending:     map[string]chan error{},
	}

	dataChannel.OnOpen(func() {
		logger.Debug("ChatDC.Open")
	})
	dataChannel.OnMessage(channel.onMessage)
	dataChannel.OnClose(func() {
		logger.Debug("ChatDC.Closed")
		channel.shutdown()
	})
	dataChannel.OnError(func(err error) {
		logger.Warn("ChatDC.Error", zap.Error(err))
	})

	return channel, nil
}

func (c *Channel) onMessage(message webrtc.DataChannelMessage) {
	var inbound inboundMessage
	if err := json.Unmarshal(message.Data, &inbound); err != nil {
		c.logger.Warn("ChatDC.Message.Invalid", zap.Error(err))
		return
	}

	switch inbound.Type {
	case inboundTypeConnected:
		c.lock.Lock()
		c.connected = true
		c.lock.Unlock()

	case inboundTypeHistory:
		messages := make([]chat.Message, 0, len(inbound.Events))
		for _, event := range inbound.Events {
			messages = append(messages, event.Message)
		}
		c.publish(messages...)

	case inboundTypeMessage:
		c.lock.Lock()
		if inbound.EventID > c.lastEvent {
			c.lastEvent = inbound.EventID
		}
		c.lock.Unlock()
		c.publish(inbound.Message)

	case inboundTypeAck:
		c.resolve(inbound.ClientMessage, nil)

	case inboundTypeError:
		if inbound.ClientMessage == "" {
			c.logger.Warn("ChatDC.ServerError", zap.String("error", inbound.Error))
			return
		}
		c.resolve(inbound.ClientMessage, &ServerError{Message: inbound.Error})
	}
}

func (c *Channel) publish(messages ...chat.Message) {
	for _, message := range c.history.Add(messages...) {
		c.messages.Emit(message)
	}
}

func (c *Channel) resolve(clientMessage string, err error) {
	c.lock.Lock()
	result, ok := c.pending[clientMessage]
	delete(c.pending, clientMessage)
	c.lock.Unlock()

	if ok {
		result <- err
	}
}

// Send posts a message and waits for the server to acknowledge it.
func (c *Channel) Send(ctx context.Context, text, displayName string) error {
	text, displayName = strings.TrimSpace(text), strings.TrimSpace(displayName)
	if len(text) < 1 || len(text) > chat.MaxTextLength {
		return chat.ErrInvalidText
	}
	if len(displayName) < 1 || len(displayName) > chat.MaxDisplayNameLength {
		return chat.ErrInvalidDisplayName
	}

	if c.dataChannel.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}

	clientMessage := uuid.New().String()
	result := make(chan error, 1)

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return ErrChannelClosed
	}
	c.pending[clientMessage] = result
	c.lock.Unlock()

	data, err := json.Marshal(outboundMessage{
		Type:          outboundTypeSend,
		ClientMessage: clientMessage,
		Text:          text,
		DisplayName:   displayName,
	})
	if err != nil {
		c.resolve(clientMessage, nil)
		return err
	}

	c.writeLock.Lock()
	err = c.dataChannel.SendText(string(data))
	c.writeLock.Unlock()
	if err != nil {
		c.lock.Lock()
		delete(c.pending, clientMessage)
		c.lock.Unlock()
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		c.lock.Lock()
		delete(c.pending, clientMessage)
		c.lock.Unlock()
		return ctx.Err()
	}
}

// Connected reports whether the server confirmed the chat subscription.
func (c *Channel) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connected
}

func (c *Channel) LastEventID() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lastEvent
}

// Close closes the data channel and fails pending sends.
func (c *Channel) Close() error {
	err := c.dataChannel.Close()
	c.shutdown()
	return err
}

func (c *Channel) shutdown() {
	c.lock.Lock()
	c.closed = true
	c.connected = false
	pending := c.pending
	c.pending = map[string]chan error{}
	c.lock.Unlock()

	for _, result := range pending {
		result <- ErrChannelClosed
	}
}
