package whep

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/sse"
)

const (
	eventLayers      = "layers"
	eventStatus      = "status"
	eventStreamStart = "streamStart"
)

// StreamStatus is the payload of a status event.
type StreamStatus struct {
	StreamKey   string    `json:"streamKey"`
	MOTD        string    `json:"motd"`
	ViewerCount int       `json:"viewers"`
	IsOnline    bool      `json:"isOnline"`
	StreamStart time.Time `json:"streamStart"`
}

// subscribe follows the session event stream. The stream is not reopened
// once it fails; the next negotiation opens a new one.
func (p *Player) subscribe(current *attempt, eventsURL string) {
	err := sse.Subscribe(current.ctx, p.config.Client.HTTPClient(), eventsURL, nil, func(event sse.Event) {
		p.onEvent(current, event)
	})

	if current.ctx.Err() != nil {
		return
	}

	p.logger.Warn("Player.EventStream.Closed", zap.String("url", eventsURL), zap.Error(err))
}

func (p *Player) onEvent(current *attempt, event sse.Event) {
	if !p.isCurrent(current) {
		return
	}

	switch event.Event {
	case eventLayers:
		layers, ok, err := parseLayerEvent([]byte(event.Data))
		if err != nil {
			p.logger.Warn("Player.EventStream.Layers", zap.Error(err))
			return
		}
		if !ok {
			return
		}

		// A reconnect resets the catalog after dropping the attempt, so checking
		// under the same lock keeps stale layers out.
		p.lock.Lock()
		if !p.isCurrentLocked(current) {
			p.lock.Unlock()
			return
		}
		p.layers.SetLayers(layers)
		p.lock.Unlock()

	case eventStatus:
		status := StreamStatus{}
		if err := json.Unmarshal([]byte(event.Data), &status); err != nil {
			p.logger.Warn("Player.EventStream.Status", zap.Error(err))
			return
		}

		p.lock.Lock()
		p.status = status
		streamKey := p.config.StreamKey
		p.lock.Unlock()

		p.config.Telemetry.SetViewers(streamKey, status.ViewerCount)

	case eventStreamStart:
		p.logger.Info("Player.EventStream.StreamStart")

		p.lock.Lock()
		p.status.IsOnline = true
		p.lock.Unlock()

	default:
		return
	}

	p.emit()
}
