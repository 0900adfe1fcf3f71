package playback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

type AutoplayState int

const (
	AutoplayIdle AutoplayState = iota
	AutoplayAttemptingPreferredMode
	AutoplayAttemptingFallbackMode
	AutoplayPlaying
	AutoplayAwaitingUserGesture
)

func (s AutoplayState) String() string {
	switch s {
	case AutoplayIdle:
		return "idle"
	case AutoplayAttemptingPreferredMode:
		return "attempting-preferred"
	case AutoplayAttemptingFallbackMode:
		return "attempting-fallback"
	case AutoplayPlaying:
		return "playing"
	case AutoplayAwaitingUserGesture:
		return "awaiting-user-gesture"
	}

	return "unknown"
}

type AutoplayConfig struct {
	PreferSound bool
	MaxRetries  int
	RetryDelays []time.Duration

	// SettleDelay is how long a play call gets to actually leave paused state
	SettleDelay time.Duration
	UnmuteDelay time.Duration

	Logger *zap.Logger
}

func DefaultAutoplayConfig() AutoplayConfig {
	return AutoplayConfig{
		PreferSound: true,
		MaxRetries:  3,
		RetryDelays: []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond},
		SettleDelay: 100 * time.Millisecond,
		UnmuteDelay: time.Second,
	}
}

type AutoplayStatus struct {
	State          AutoplayState `json:"state"`
	RetryCount     int           `json:"retryCount"`
	ShowPlayButton bool          `json:"showPlayButton"`
}

// Autoplay gets a sink playing despite policies that refuse unmuted
// playback. It tries with sound, falls back to muted, retries on a fixed
// schedule and finally waits for a user gesture.
type Autoplay struct {
	sink   Sink
	config AutoplayConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// Serializes play attempts between the retry chain and user gestures
	attemptLock sync.Mutex

	lock           sync.Mutex
	status         AutoplayStatus
	token          uint64
	started        bool
	stopped        bool
	retryTimer     *time.Timer
	unmuteTimer    *time.Timer
	sinkDisposers  []func()
	stateObservers utils.Listeners[AutoplayStatus]
}

func NewAutoplay(sink Sink, config AutoplayConfig) *Autoplay {
	defaults := DefaultAutoplayConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if len(config.RetryDelays) == 0 {
		config.RetryDelays = defaults.RetryDelays
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	if config.UnmuteDelay <= 0 {
		config.UnmuteDelay = defaults.UnmuteDelay
	}
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Autoplay{
		sink:   sink,
		config: config,
		logger: config.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start listens to the sink and engages when a source is attached while the
// sink is paused.
func (a *Autoplay) Start() {
	a.lock.Lock()
	if a.started || a.stopped {
		a.lock.Unlock()
		return
	}
	a.started = true
	a.sinkDisposers = append(a.sinkDisposers,
		a.sink.OnPlaying(a.onPlaying),
		a.sink.OnSourceChange(a.onSourceChange),
	)
	a.lock.Unlock()

	if a.sink.Source() != "" && a.sink.Paused() {
		a.begin()
	}
}

// Stop detaches from the sink and cancels every pending attempt.
func (a *Autoplay) Stop() {
	a.lock.Lock()
	if a.stopped {
		a.lock.Unlock()
		return
	}
	a.stopped = true
	a.token++
	a.stopTimersLocked()
	disposers := a.sinkDisposers
	a.sinkDisposers = nil
	a.lock.Unlock()

	a.cancel()
	for _, dispose := range disposers {
		dispose()
	}
	a.stateObservers.Clear()
}

func (a *Autoplay) Status() AutoplayStatus {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.status
}

func (a *Autoplay) OnStateChange(handler func(AutoplayStatus)) (dispose func()) {
	return a.stateObservers.Add(handler)
}

// begin resets the retry state and starts a new attempt chain.
func (a *Autoplay) begin() {
	a.lock.Lock()
	if a.stopped {
		a.lock.Unlock()
		return
	}
	a.token++
	a.stopTimersLocked()
	a.status = AutoplayStatus{State: AutoplayIdle}
	a.scheduleLocked(a.token)
	status := a.status
	a.lock.Unlock()

	a.stateObservers.Emit(status)
}

func (a *Autoplay) scheduleLocked(token uint64) {
	delay := a.config.RetryDelays[len(a.config.RetryDelays)-1]
	if a.status.RetryCount < len(a.config.RetryDelays) {
		delay = a.config.RetryDelays[a.status.RetryCount]
	}

	a.retryTimer = time.AfterFunc(delay, func() {
		a.runAttempt(token)
	})
}

func (a *Autoplay) runAttempt(token uint64) {
	if !a.isCurrent(token) {
		return
	}

	played := a.attemptPlay(a.ctx, token)

	a.lock.Lock()
	if a.stopped || token != a.token {
		a.lock.Unlock()
		return
	}

	if played {
		a.status.RetryCount = 0
		a.status.ShowPlayButton = false
		a.status.State = AutoplayPlaying
	} else {
		a.status.RetryCount++
		if a.status.RetryCount >= a.config.MaxRetries {
			a.status.ShowPlayButton = true
			a.status.State = AutoplayAwaitingUserGesture
		} else {
			a.scheduleLocked(token)
		}
	}
	status := a.status
	a.lock.Unlock()

	if !played {
		a.logger.Debug("Autoplay.Attempt.Failed", zap.Int("retryCount", status.RetryCount), zap.Bool("showPlayButton", status.ShowPlayButton))
	}
	a.stateObservers.Emit(status)
}

// HandleUserGesture retries playback synchronously on behalf of a user
// action and clears the awaiting state on success.
func (a *Autoplay) HandleUserGesture(ctx context.Context) bool {
	a.lock.Lock()
	if a.stopped {
		a.lock.Unlock()
		return false
	}
	a.token++
	token := a.token
	a.stopTimersLocked()
	a.lock.Unlock()

	played := a.attemptPlay(WithUserGesture(ctx), token)

	a.lock.Lock()
	if a.stopped || token != a.token {
		a.lock.Unlock()
		return played
	}
	if played {
		a.status = AutoplayStatus{State: AutoplayPlaying}
	} else {
		a.status.ShowPlayButton = true
		a.status.State = AutoplayAwaitingUserGesture
	}
	status := a.status
	a.lock.Unlock()

	a.logger.Info("Autoplay.UserGesture", zap.Bool("played", played))
	a.stateObservers.Emit(status)
	return played
}

// attemptPlay tries the preferred mode, then muted. A muted start while sound
// is preferred schedules a later unmute.
func (a *Autoplay) attemptPlay(ctx context.Context, token uint64) bool {
	a.attemptLock.Lock()
	defer a.attemptLock.Unlock()

	if !a.isCurrent(token) {
		return false
	}

	if !a.sink.Paused() {
		return true
	}

	a.setState(token, AutoplayAttemptingPreferredMode)
	a.sink.SetMuted(!a.config.PreferSound)
	if a.play(ctx) {
		return true
	}

	if !a.config.PreferSound || !a.isCurrent(token) {
		return false
	}

	a.setState(token, AutoplayAttemptingFallbackMode)
	a.sink.SetMuted(true)
	if !a.play(ctx) {
		return false
	}

	if !IsUserGesture(ctx) {
		a.scheduleUnmute(token)
	}
	return true
}

func (a *Autoplay) play(ctx context.Context) bool {
	if err := a.sink.Play(ctx); err != nil {
		a.logger.Debug("Autoplay.Play.Rejected", zap.Bool("muted", a.sink.Muted()), zap.Error(err))
		return false
	}

	if a.config.SettleDelay > 0 {
		timer := time.NewTimer(a.config.SettleDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return false
		}
	}

	return !a.sink.Paused()
}

// scheduleUnmute tries sound again later. A refusal goes back to muted
// playback without surfacing anything.
func (a *Autoplay) scheduleUnmute(token uint64) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.stopped || token != a.token {
		return
	}

	a.unmuteTimer = time.AfterFunc(a.config.UnmuteDelay, func() {
		a.attemptLock.Lock()
		defer a.attemptLock.Unlock()

		if !a.isCurrent(token) || !a.sink.Muted() {
			return
		}

		a.sink.SetMuted(false)
		if err := a.sink.Play(a.ctx); err != nil {
			a.logger.Debug("Autoplay.Unmute.Rejected", zap.Error(err))
			a.sink.SetMuted(true)
			if err := a.sink.Play(a.ctx); err != nil {
				a.logger.Debug("Autoplay.Unmute.Revert.Error", zap.Error(err))
			}
		}
	})
}

func (a *Autoplay) onPlaying() {
	a.lock.Lock()
	if a.stopped {
		a.lock.Unlock()
		return
	}
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	a.status.State = AutoplayPlaying
	a.status.ShowPlayButton = false
	status := a.status
	a.lock.Unlock()

	a.stateObservers.Emit(status)
}

func (a *Autoplay) onSourceChange(streamID string) {
	a.logger.Debug("Autoplay.SourceChange", zap.String("streamID", streamID))
	a.begin()
}

func (a *Autoplay) setState(token uint64, state AutoplayState) {
	a.lock.Lock()
	if a.stopped || token != a.token || a.status.State == state {
		a.lock.Unlock()
		return
	}
	a.status.State = state
	status := a.status
	a.lock.Unlock()

	a.stateObservers.Emit(status)
}

func (a *Autoplay) isCurrent(token uint64) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return !a.stopped && token == a.token
}

func (a *Autoplay) stopTimersLocked() {
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	if a.unmuteTimer != nil {
		a.unmuteTimer.Stop()
		a.unmuteTimer = nil
	}
}
