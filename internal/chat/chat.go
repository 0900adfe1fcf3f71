package chat

import (
	"errors"
	"sync"
	"time"
)

const (
	DefaultMaxHistory = 1000
	DefaultRetryDelay = 3 * time.Second

	MaxTextLength        = 2000
	MaxDisplayNameLength = 80

	EventTypeMessage   = "message"
	EventTypeHistory   = "history"
	EventTypeConnected = "connected"
)

var (
	ErrInvalidText        = errors.New("chat: message must be between 1 and 2000 characters")
	ErrInvalidDisplayName = errors.New("chat: display name must be between 1 and 80 characters")
	ErrNoSession          = errors.New("chat: not connected")
	ErrConnect            = errors.New("chat: connect rejected")
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}

	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Message struct {
	ID          string `json:"id"`
	TS          int64  `json:"ts"`
	Text        string `json:"text"`
	DisplayName string `json:"displayName"`
}

func (m Message) Time() time.Time {
	return time.UnixMilli(m.TS)
}

// Event is one entry of a history replay.
type Event struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// History keeps the most recent messages of a room in arrival order, without
// duplicates.
type History struct {
	mu         sync.Mutex
	maxHistory int
	messages   []Message
	seen       map[string]struct{}
}

func NewHistory(maxHistory int) *History {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}

	return &History{
		maxHistory: maxHistory,
		messages:   make([]Message, 0, maxHistory),
		seen:       make(map[string]struct{}),
	}
}

// Add appends messages that have an id not seen before and returns those that
// were added.
func (h *History) Add(messages ...Message) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	added := []Message{}
	for _, message := range messages {
		if message.ID == "" {
			continue
		}
		if _, ok := h.seen[message.ID]; ok {
			continue
		}

		h.seen[message.ID] = struct{}{}
		h.messages = append(h.messages, message)
		added = append(added, message)
	}

	if overflow := len(h.messages) - h.maxHistory; overflow > 0 {
		for _, dropped := range h.messages[:overflow] {
			delete(h.seen, dropped.ID)
		}
		h.messages = append(h.messages[:0], h.messages[overflow:]...)
	}

	return added
}

func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	messages := make([]Message, len(h.messages))
	copy(messages, h.messages)
	return messages
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = h.messages[:0]
	h.seen = make(map[string]struct{})
}

func validateText(text string) error {
	if len(text) < 1 || len(text) > MaxTextLength {
		return ErrInvalidText
	}

	return nil
}

func validateDisplayName(displayName string) error {
	if len(displayName) < 1 || len(displayName) > MaxDisplayNameLength {
		return ErrInvalidDisplayName
	}

	return nil
}
