package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedStatus    = errors.New("signaling: unexpected status")
	ErrMissingLinkHeader   = errors.New("signaling: missing link header")
	ErrMissingLinkRelation = errors.New("signaling: missing link relation")
)

// StatusError reports a signaling exchange that did not answer 201.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("signaling: %s returned status %d", e.Endpoint, e.StatusCode)
	}

	return fmt.Sprintf("signaling: %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
