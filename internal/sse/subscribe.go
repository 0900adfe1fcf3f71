package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sse: %s returned status %d", e.URL, e.StatusCode)
}

// Subscribe opens url as an event stream and hands every event to handle
// until the stream ends, fails or ctx is cancelled. A clean end of stream
// returns io.EOF.
func Subscribe(ctx context.Context, client *http.Client, url string, header http.Header, handle func(Event)) error {
	return Stream(ctx, client, url, header, nil, handle)
}

// Stream is Subscribe with an open callback, run once the server accepted
// the stream and before the first event is read.
func Stream(ctx context.Context, client *http.Client, url string, header http.Header, open func(), handle func(Event)) error {
	if client == nil {
		client = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	for key, values := range header {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return &StatusError{URL: url, StatusCode: response.StatusCode}
	}

	if open != nil {
		open()
	}

	reader := NewReader(response.Body)
	for {
		event, err := reader.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			return err
		}

		utils.DebugOutputSSE(event.Event, event.Data)
		handle(event)
	}
}
