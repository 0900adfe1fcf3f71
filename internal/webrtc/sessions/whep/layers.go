package whep

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const (
	// LayerDisabled leaves layer selection to the server
	LayerDisabled = "disabled"

	videoMediaID = "1"
)

var ErrNoLayerEndpoint = errors.New("whep: no layer endpoint")

type (
	layerEvent map[string]struct {
		Layers []struct {
			EncodingID string `json:"encodingId"`
		} `json:"layers"`
	}

	// LayerSelector posts a layer choice to the server.
	LayerSelector interface {
		SelectLayer(ctx context.Context, layerURL, mediaID, encodingID string) error
	}
)

// LayerCatalog holds the simulcast layers the server announced for the video
// section and the one currently selected.
type LayerCatalog struct {
	selector LayerSelector
	logger   *zap.Logger

	lock     sync.Mutex
	endpoint string
	layers   []string
	current  string
}

func NewLayerCatalog(selector LayerSelector, logger *zap.Logger) *LayerCatalog {
	if logger == nil {
		logger = zap.L()
	}

	return &LayerCatalog{
		selector: selector,
		logger:   logger,
		current:  LayerDisabled,
	}
}

// Layers lists the selectable layers, starting with LayerDisabled.
func (c *LayerCatalog) Layers() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	layers := make([]string, 0, len(c.layers)+1)
	layers = append(layers, LayerDisabled)
	return append(layers, c.layers...)
}

func (c *LayerCatalog) Current() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.current
}

func (c *LayerCatalog) Endpoint() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.endpoint
}

func (c *LayerCatalog) SetEndpoint(endpoint string) {
	c.lock.Lock()
	c.endpoint = endpoint
	c.lock.Unlock()
}

// OnLayerEvent replaces the catalog with the video layers of a layers event.
// Payloads without a video section leave the catalog untouched.
func (c *LayerCatalog) OnLayerEvent(payload []byte) error {
	layers, ok, err := parseLayerEvent(payload)
	if err != nil || !ok {
		return err
	}

	c.SetLayers(layers)
	return nil
}

func (c *LayerCatalog) SetLayers(layers []string) {
	c.lock.Lock()
	c.layers = layers
	c.lock.Unlock()

	c.logger.Debug("LayerCatalog.SetLayers", zap.Strings("layers", layers))
}

// parseLayerEvent returns the encoding ids of the video section, ok is false
// when the payload has none.
func parseLayerEvent(payload []byte) (layers []string, ok bool, err error) {
	event := layerEvent{}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, false, err
	}

	video, ok := event[videoMediaID]
	if !ok || video.Layers == nil {
		return nil, false, nil
	}

	layers = make([]string, 0, len(video.Layers))
	for _, layer := range video.Layers {
		layers = append(layers, layer.EncodingID)
	}
	return layers, true, nil
}

// SelectLayer makes encodingID current right away and then tells the server.
// A failed request is returned but the selection is kept.
func (c *LayerCatalog) SelectLayer(ctx context.Context, encodingID string) error {
	c.lock.Lock()
	c.current = encodingID
	endpoint := c.endpoint
	c.lock.Unlock()

	if endpoint == "" {
		c.logger.Warn("LayerCatalog.SelectLayer.NoEndpoint", zap.String("layer", encodingID))
		return ErrNoLayerEndpoint
	}

	if err := c.selector.SelectLayer(ctx, endpoint, videoMediaID, encodingID); err != nil {
		c.logger.Error("LayerCatalog.SelectLayer.Error", zap.String("layer", encodingID), zap.Error(err))
		return err
	}

	return nil
}

// Reset forgets what a finished negotiation announced. The selected layer is
// kept for the next negotiation of the same stream.
func (c *LayerCatalog) Reset() {
	c.lock.Lock()
	c.endpoint = ""
	c.layers = nil
	c.lock.Unlock()
}

// Clear resets the catalog and returns the selection to LayerDisabled.
func (c *LayerCatalog) Clear() {
	c.lock.Lock()
	c.endpoint = ""
	c.layers = nil
	c.current = LayerDisabled
	c.lock.Unlock()
}
