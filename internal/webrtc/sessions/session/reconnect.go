package session

import (
	"sync"
	"time"
)

// Reconnector serializes reconnect attempts. At most one timer is pending at
// a time and every attempt gets a fresh token so work tied to an older one can
// tell it has been superseded.
type Reconnector struct {
	reconnect func(token uint64)

	lock      sync.Mutex
	token     uint64
	pending   uint64
	scheduled bool
	closed    bool
	timer     *time.Timer
}

func NewReconnector(reconnect func(token uint64)) *Reconnector {
	return &Reconnector{reconnect: reconnect}
}

// Schedule arms the reconnect timer. It returns false when a reconnect is
// already pending or the reconnector was closed.
func (r *Reconnector) Schedule(delay time.Duration) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed || r.scheduled {
		return false
	}

	r.pending++
	pending := r.pending
	r.scheduled = true
	r.timer = time.AfterFunc(delay, func() {
		r.fire(pending)
	})

	return true
}

func (r *Reconnector) fire(pending uint64) {
	r.lock.Lock()
	if r.closed || !r.scheduled || r.pending != pending {
		r.lock.Unlock()
		return
	}

	r.scheduled = false
	r.timer = nil
	r.token++
	token := r.token
	r.lock.Unlock()

	r.reconnect(token)
}

// Next starts a new attempt outside of the timer, invalidating the current one.
func (r *Reconnector) Next() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.token++
	return r.token
}

func (r *Reconnector) Token() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.token
}

func (r *Reconnector) IsCurrent(token uint64) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return !r.closed && r.token == token
}

func (r *Reconnector) Scheduled() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.scheduled
}

// Cancel drops the pending timer, if any.
func (r *Reconnector) Cancel() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.cancelLocked()
}

func (r *Reconnector) cancelLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.scheduled = false
}

// Close cancels the pending timer and invalidates every token handed out.
func (r *Reconnector) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.cancelLocked()
	r.closed = true
	r.token++
}
