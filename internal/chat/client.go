package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sleroq/web.cum.army/internal/sse"
	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

const DefaultSendRate = 1.0

var ErrRejected = errors.New("chat: request rejected")

type (
	ClientConfig struct {
		APIPath     string
		StreamKey   string
		DisplayName string
		HTTPClient  *http.Client

		RetryDelay time.Duration
		MaxHistory int

		// Messages per second, bursts of SendBurst are allowed
		SendRate  float64
		SendBurst int

		Logger *zap.Logger
	}

	connectRequestJSON struct {
		StreamKey string `json:"streamKey"`
	}
	connectResponseJSON struct {
		ChatSessionID string `json:"chatSessionId"`
	}
	sendRequestJSON struct {
		Text        string `json:"text"`
		DisplayName string `json:"displayName"`
	}
)

// Client follows the chat room of one stream. Run keeps the event stream open
// and resumes it from the last seen event id.
type Client struct {
	config  ClientConfig
	logger  *zap.Logger
	history *History
	limiter *rate.Limiter

	messageListeners utils.Listeners[Message]
	statusListeners  utils.Listeners[Status]

	lock        sync.Mutex
	status      Status
	sessionID   string
	lastEventID string
	err         error
}

func NewClient(config ClientConfig) *Client {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.SendRate <= 0 {
		config.SendRate = DefaultSendRate
	}
	if config.SendBurst <= 0 {
		config.SendBurst = 1
	}
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	return &Client{
		config:  config,
		logger:  config.Logger.With(zap.String("streamKey", config.StreamKey)),
		history: NewHistory(config.MaxHistory),
		limiter: rate.NewLimiter(rate.Limit(config.SendRate), config.SendBurst),
	}
}

func (c *Client) endpoint(parts ...string) string {
	return strings.TrimSuffix(c.config.APIPath, "/") + "/chat/" + strings.Join(parts, "/")
}

// Connect opens a chat session for the stream key and returns its id.
func (c *Client) Connect(ctx context.Context) (string, error) {
	body, err := json.Marshal(connectRequestJSON{StreamKey: c.config.StreamKey})
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("connect"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.config.HTTPClient.Do(request)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", fmt.Errorf("%w: %w: status %d", ErrConnect, ErrRejected, response.StatusCode)
	}

	var connectResponse connectResponseJSON
	if err := json.NewDecoder(response.Body).Decode(&connectResponse); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if connectResponse.ChatSessionID == "" {
		return "", fmt.Errorf("%w: empty session id", ErrConnect)
	}

	c.lock.Lock()
	c.sessionID = connectResponse.ChatSessionID
	c.lock.Unlock()

	c.logger.Info("Chat.Connect", zap.String("chatSessionId", connectResponse.ChatSessionID))
	return connectResponse.ChatSessionID, nil
}

// Run connects and follows the event stream until ctx is cancelled. A broken
// stream is reopened after the retry delay; an unknown session is replaced
// with a fresh one. A rejected connect is not retried.
func (c *Client) Run(ctx context.Context) error {
	for {
		sessionID := c.SessionID()
		if sessionID == "" {
			c.setStatus(StatusConnecting, nil)

			var err error
			if sessionID, err = c.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					c.setStatus(StatusDisconnected, nil)
					return ctx.Err()
				}

				c.logger.Error("Chat.Connect.Error", zap.Error(err))
				c.setStatus(StatusError, err)
				return err
			}
		}

		err := c.subscribe(ctx, sessionID)
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected, nil)
			return ctx.Err()
		}

		var statusErr *sse.StatusError
		if errors.As(err, &statusErr) && isUnknownSession(statusErr.StatusCode, true) {
			c.logger.Info("Chat.Session.Expired", zap.Int("status", statusErr.StatusCode))
			c.dropSession(sessionID)
			continue
		}

		c.logger.Warn("Chat.EventStream.Closed", zap.Error(err), zap.Duration("retry", c.config.RetryDelay))
		c.setStatus(StatusConnecting, nil)

		select {
		case <-ctx.Done():
			c.setStatus(StatusDisconnected, nil)
			return ctx.Err()
		case <-time.After(c.config.RetryDelay):
		}
	}
}

func (c *Client) subscribe(ctx context.Context, sessionID string) error {
	header := http.Header{}
	if lastEventID := c.LastEventID(); lastEventID != "" {
		header.Set("Last-Event-ID", lastEventID)
	}

	return sse.Stream(ctx, c.config.HTTPClient, c.endpoint("sse", url.PathEscape(sessionID)), header, func() {
		c.setStatus(StatusConnected, nil)
	}, c.onEvent)
}

func (c *Client) onEvent(event sse.Event) {
	if event.ID != "" {
		c.lock.Lock()
		c.lastEventID = event.ID
		c.lock.Unlock()
	}

	var messages []Message
	switch event.Event {
	case EventTypeConnected:
		c.setStatus(StatusConnected, nil)
		return

	case EventTypeHistory:
		events := []Event{}
		if err := json.Unmarshal([]byte(event.Data), &events); err != nil {
			c.logger.Warn("Chat.History.Invalid", zap.Error(err))
			return
		}
		for _, historyEvent := range events {
			messages = append(messages, historyEvent.Message)
		}

	case EventTypeMessage:
		var message Message
		if err := json.Unmarshal([]byte(event.Data), &message); err != nil {
			c.logger.Warn("Chat.Message.Invalid", zap.Error(err))
			return
		}
		messages = append(messages, message)

	default:
		return
	}

	for _, message := range c.history.Add(messages...) {
		c.messageListeners.Emit(message)
	}
}

// Send posts text to the room. Sends are paced by the rate limiter and wait
// for a free slot until ctx ends.
func (c *Client) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrInvalidText
	}
	if err := validateText(text); err != nil {
		return err
	}
	if err := validateDisplayName(c.config.DisplayName); err != nil {
		return err
	}

	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(sendRequestJSON{Text: text, DisplayName: c.config.DisplayName})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("send", url.PathEscape(sessionID)), bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.config.HTTPClient.Do(request)
	if err != nil {
		return err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		if isUnknownSession(response.StatusCode, false) {
			c.dropSession(sessionID)
		}

		c.logger.Warn("Chat.Send.Rejected", zap.Int("status", response.StatusCode))
		return fmt.Errorf("%w: status %d", ErrRejected, response.StatusCode)
	}

	return nil
}

// isUnknownSession reports whether status means the session id is no longer
// valid. The event stream answers 400 for sessions it does not know.
func isUnknownSession(status int, stream bool) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusNotFound:
		return true
	case http.StatusBadRequest:
		return stream
	}

	return false
}

func (c *Client) dropSession(sessionID string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.sessionID == sessionID {
		c.sessionID = ""
	}
}

func (c *Client) setStatus(status Status, err error) {
	c.lock.Lock()
	changed := c.status != status
	c.status = status
	c.err = err
	c.lock.Unlock()

	if changed {
		c.statusListeners.Emit(status)
	}
}

func (c *Client) SessionID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.sessionID
}

func (c *Client) LastEventID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lastEventID
}

func (c *Client) Status() (Status, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.status, c.err
}

func (c *Client) Messages() []Message {
	return c.history.Messages()
}

func (c *Client) OnMessage(handler func(Message)) (dispose func()) {
	return c.messageListeners.Add(handler)
}

func (c *Client) OnStatusChange(handler func(Status)) (dispose func()) {
	return c.statusListeners.Add(handler)
}
