package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

const defaultEventName = "message"

type Event struct {
	ID    string
	Event string
	Data  string

	// Retry is the reconnection time the server asked for, zero when unset
	Retry time.Duration
}

// Reader decodes a text/event-stream body one event at a time.
type Reader struct {
	reader *bufio.Reader
	lastID string
}

func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Next returns the next dispatched event. Comments and events without data
// are skipped. io.EOF marks the end of the stream; an event not closed by a
// blank line before it is dropped.
func (r *Reader) Next() (Event, error) {
	event := Event{ID: r.lastID}
	data := []string{}
	hasData := false

	for {
		// An event or line cut off by the end of the stream is discarded
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return Event{}, err
		}

		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if line == "" {
			if hasData {
				event.Data = strings.Join(data, "\n")
				if event.Event == "" {
					event.Event = defaultEventName
				}
				return event, nil
			}

			event, data = Event{ID: r.lastID}, data[:0]
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			event.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
				event.ID = value
			}
		case "retry":
			if milliseconds, parseErr := strconv.Atoi(value); parseErr == nil {
				event.Retry = time.Duration(milliseconds) * time.Millisecond
			}
		}
	}
}

// LastEventID is the most recent id seen on the stream.
func (r *Reader) LastEventID() string {
	return r.lastID
}
