package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrSessionClosed = errors.New("session: closed")

// PeerSession tracks one stream attachment. Its fields are only touched
// through the methods below.
type PeerSession struct {
	ID        string
	StreamKey string

	lock             sync.Mutex
	state            State
	attachedStreamID string
}

type Snapshot struct {
	ID                 string `json:"id"`
	StreamKey          string `json:"streamKey"`
	ConnectionState    State  `json:"connectionState"`
	AttachedStreamID   string `json:"attachedStreamId"`
	ReconnectScheduled bool   `json:"reconnectScheduled"`
	AttemptToken       uint64 `json:"attemptToken"`
}

func NewPeerSession(streamKey string) *PeerSession {
	return &PeerSession{
		ID:        uuid.New().String(),
		StreamKey: streamKey,
		state:     StateNegotiating,
	}
}

func (p *PeerSession) State() State {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// SetState moves the session to state and reports whether it changed.
// A closed session stays closed.
func (p *PeerSession) SetState(state State) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.state == StateClosed || p.state == state {
		return false
	}

	p.state = state
	return true
}

// Attach records streamID as bound to the sink. It returns false when the
// same stream is already attached.
func (p *PeerSession) Attach(streamID string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.state == StateClosed || p.attachedStreamID == streamID {
		return false
	}

	p.attachedStreamID = streamID
	return true
}

// Detach forgets the attached stream. A new transport binds its stream again
// even when the id is unchanged.
func (p *PeerSession) Detach() {
	p.lock.Lock()
	p.attachedStreamID = ""
	p.lock.Unlock()
}

func (p *PeerSession) AttachedStreamID() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.attachedStreamID
}

func (p *PeerSession) Close() {
	p.lock.Lock()
	p.state = StateClosed
	p.lock.Unlock()
}

func (p *PeerSession) Snapshot(reconnector *Reconnector) Snapshot {
	p.lock.Lock()
	snapshot := Snapshot{
		ID:               p.ID,
		StreamKey:        p.StreamKey,
		ConnectionState:  p.state,
		AttachedStreamID: p.attachedStreamID,
	}
	p.lock.Unlock()

	if reconnector != nil {
		snapshot.ReconnectScheduled = reconnector.Scheduled()
		snapshot.AttemptToken = reconnector.Token()
	}

	return snapshot
}
