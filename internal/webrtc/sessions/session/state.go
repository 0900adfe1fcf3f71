package session

type State int

const (
	StateNegotiating State = iota
	StateConnected
	StateDisconnected
	StateReconnectPending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnectPending:
		return "reconnect-pending"
	case StateClosed:
		return "closed"
	}

	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
