package session

import "sync"

// Scope collects disposers and releases them in reverse order, once.
type Scope struct {
	lock      sync.Mutex
	disposers []func()
	closed    bool
}

// Add registers dispose. On a closed scope it runs immediately.
func (s *Scope) Add(dispose func()) {
	if dispose == nil {
		return
	}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		dispose()
		return
	}
	s.disposers = append(s.disposers, dispose)
	s.lock.Unlock()
}

func (s *Scope) Close() {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.closed = true
	disposers := s.disposers
	s.disposers = nil
	s.lock.Unlock()

	for i := len(disposers) - 1; i >= 0; i-- {
		disposers[i]()
	}
}
