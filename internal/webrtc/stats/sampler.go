package stats

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSignalInterval  = 2 * time.Second
	DefaultWaitingInterval = 2500 * time.Millisecond
)

type SamplerConfig struct {
	Source Source

	// Cadence once a signal is present, and while still waiting for one
	SignalInterval  time.Duration
	WaitingInterval time.Duration

	OnSample func(DerivedHealth)
	Logger   *zap.Logger
}

// Sampler polls a stats source on a cadence that follows the signal state.
type Sampler struct {
	config SamplerConfig
	logger *zap.Logger

	lock      sync.Mutex
	source    Source
	previous  Snapshot
	latest    DerivedHealth
	hasSignal bool

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	start    sync.Once
	stopOnce sync.Once
}

func NewSampler(config SamplerConfig) *Sampler {
	if config.SignalInterval <= 0 {
		config.SignalInterval = DefaultSignalInterval
	}
	if config.WaitingInterval <= 0 {
		config.WaitingInterval = DefaultWaitingInterval
	}
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	return &Sampler{
		config: config,
		logger: config.Logger,
		source: config.Source,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the polling loop. Calling it again has no effect.
func (s *Sampler) Start() {
	s.start.Do(func() {
		go s.run()
	})
}

func (s *Sampler) run() {
	defer close(s.done)

	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			s.Tick()
		}

		timer.Reset(s.Interval())
	}
}

// Tick takes one sample and publishes it. Read failures are logged and
// published as a zero sample.
func (s *Sampler) Tick() DerivedHealth {
	s.lock.Lock()
	source, previous := s.source, s.previous
	s.lock.Unlock()

	if source == nil {
		return DerivedHealth{}
	}

	health, next, err := Sample(source, previous)
	if err != nil {
		s.logger.Debug("StatsSampler.Tick.Error", zap.Error(err))
	}

	s.lock.Lock()
	// A source swapped while reading belongs to another session
	if s.source != source {
		s.lock.Unlock()
		return DerivedHealth{}
	}
	s.previous = next
	s.latest = health
	s.lock.Unlock()

	if s.config.OnSample != nil {
		s.config.OnSample(health)
	}

	return health
}

// SetSource switches to a new source and zeroes the snapshot.
func (s *Sampler) SetSource(source Source) {
	s.lock.Lock()
	s.source = source
	s.previous = Snapshot{}
	s.latest = DerivedHealth{}
	s.lock.Unlock()
}

func (s *Sampler) Reset() {
	s.lock.Lock()
	s.previous = Snapshot{}
	s.latest = DerivedHealth{}
	s.lock.Unlock()
}

func (s *Sampler) SetSignal(hasSignal bool) {
	s.lock.Lock()
	changed := s.hasSignal != hasSignal
	s.hasSignal = hasSignal
	s.lock.Unlock()

	if !changed {
		return
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sampler) Interval() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.hasSignal {
		return s.config.SignalInterval
	}

	return s.config.WaitingInterval
}

func (s *Sampler) Latest() DerivedHealth {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.latest
}

func (s *Sampler) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.previous
}

// Stop ends the loop and waits for it when it was started.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	started := true
	s.start.Do(func() {
		started = false
		close(s.done)
	})

	if started {
		<-s.done
	}
}
