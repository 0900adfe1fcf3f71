package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

const (
	DefaultInterval = 5 * time.Second

	tracerName = "github.com/sleroq/web.cum.army/internal/status"
)

var (
	ErrDisabled         = errors.New("status: status API disabled")
	ErrUnexpectedStatus = errors.New("status: unexpected response")
)

type (
	WHEPSession struct {
		ID             string `json:"id"`
		CurrentLayer   string `json:"currentLayer"`
		SequenceNumber uint64 `json:"sequenceNumber"`
		Timestamp      uint64 `json:"timestamp"`
		PacketsWritten uint64 `json:"packetsWritten"`
	}

	VideoStream struct {
		RID              string    `json:"rid"`
		PacketsReceived  uint64    `json:"packetsReceived"`
		LastKeyFrameSeen time.Time `json:"lastKeyFrameSeen"`
	}

	// Result is one active stream as listed by the status endpoint.
	Result struct {
		StreamKey    string        `json:"streamKey"`
		WHEPSessions []WHEPSession `json:"whepSessions"`
		VideoStreams []VideoStream `json:"videoStreams"`
	}

	PollerConfig struct {
		APIPath        string
		HTTPClient     *http.Client
		Interval       time.Duration
		TracerProvider trace.TracerProvider
		Logger         *zap.Logger
	}
)

// Poller keeps the list of active streams fresh. Once the server answers 503
// the status API is treated as disabled and polling stops for good.
type Poller struct {
	config    PollerConfig
	logger    *zap.Logger
	tracer    trace.Tracer
	listeners utils.Listeners[[]Result]

	lock     sync.Mutex
	results  []Result
	active   bool
	disabled bool
	cancel   context.CancelFunc
	routines sync.WaitGroup
}

func NewPoller(config PollerConfig) *Poller {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	return &Poller{
		config: config,
		logger: config.Logger,
		tracer: config.TracerProvider.Tracer(tracerName),
	}
}

// Start fetches the status once and keeps polling only if that succeeded.
func (p *Poller) Start(ctx context.Context) {
	p.lock.Lock()
	if p.cancel != nil {
		p.lock.Unlock()
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.routines.Add(1)
	p.lock.Unlock()

	go func() {
		defer p.routines.Done()

		if _, err := p.Refresh(ctx); err != nil {
			p.logger.Warn("Status.Start.Inactive", zap.Error(err))
			return
		}

		p.poll(ctx)
	}()
}

func (p *Poller) poll(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := p.Refresh(ctx); err != nil {
			if errors.Is(err, ErrDisabled) || ctx.Err() != nil {
				return
			}

			// Status errors never affect the stream
			p.logger.Debug("Status.Poll.Error", zap.Error(err))
		}
	}
}

func (p *Poller) Stop() {
	p.lock.Lock()
	cancel := p.cancel
	p.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	p.routines.Wait()
}

// Refresh fetches the status now and returns the new results.
func (p *Poller) Refresh(ctx context.Context) (results []Result, err error) {
	ctx, span := p.tracer.Start(ctx, "Status.Refresh", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(p.config.APIPath, "/")+"/status", nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.config.HTTPClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	span.SetAttributes(attribute.Int("http.status_code", response.StatusCode))

	if response.StatusCode == http.StatusServiceUnavailable {
		p.lock.Lock()
		p.active, p.disabled, p.results = false, true, nil
		p.lock.Unlock()

		p.logger.Info("Status.Disabled")
		p.listeners.Emit(nil)
		return nil, ErrDisabled
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}

	if err := json.NewDecoder(response.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("status: decoding response: %w", err)
	}

	p.lock.Lock()
	p.results, p.active, p.disabled = results, true, false
	p.lock.Unlock()

	p.listeners.Emit(results)
	return results, nil
}

func (p *Poller) Results() []Result {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]Result(nil), p.results...)
}

// Active reports whether the last fetch succeeded and polling is running.
func (p *Poller) Active() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.active
}

func (p *Poller) Disabled() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.disabled
}

func (p *Poller) Stream(streamKey string) (Result, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	for _, result := range p.results {
		if result.StreamKey == streamKey {
			return result, true
		}
	}

	return Result{}, false
}

// ViewerCount is the number of WHEP sessions of streamKey, zero when the
// stream is not listed.
func (p *Poller) ViewerCount(streamKey string) int {
	result, ok := p.Stream(streamKey)
	if !ok {
		return 0
	}

	return len(result.WHEPSessions)
}

func (p *Poller) OnUpdate(handler func([]Result)) (dispose func()) {
	return p.listeners.Add(handler)
}
