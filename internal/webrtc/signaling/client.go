package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

const (
	tracerName = "github.com/sleroq/web.cum.army/internal/webrtc/signaling"

	// Error bodies are only kept for logging
	maxErrorBody = 512
)

type ClientConfig struct {
	APIPath        string
	HTTPClient     *http.Client
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
}

// Client talks to the WHIP and WHEP endpoints of a broadcast server.
type Client struct {
	apiPath    string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *zap.Logger
}

// Answer is the outcome of a successful offer/answer exchange.
type Answer struct {
	SDP      string
	Location string

	// Only set for WHEP
	LayerURL  string
	EventsURL string
}

type layerRequest struct {
	MediaID    string `json:"mediaId"`
	EncodingID string `json:"encodingId"`
}

func NewClient(config ClientConfig) *Client {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	return &Client{
		apiPath:    strings.TrimSuffix(config.APIPath, "/"),
		httpClient: config.HTTPClient,
		tracer:     config.TracerProvider.Tracer(tracerName),
		logger:     config.Logger,
	}
}

func (c *Client) APIPath() string {
	return c.apiPath
}

func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// WHIP publishes an offer. Anything but 201 is a failure.
func (c *Client) WHIP(ctx context.Context, streamKey, offer string) (*Answer, error) {
	return c.exchange(ctx, "whip", streamKey, offer)
}

// WHEP requests playback. Besides 201 the answer must advertise the layer
// and event stream URLs in its Link header.
func (c *Client) WHEP(ctx context.Context, streamKey, offer string) (*Answer, error) {
	return c.exchange(ctx, "whep", streamKey, offer)
}

func (c *Client) exchange(ctx context.Context, endpoint, streamKey, offer string) (answer *Answer, err error) {
	ctx, span := c.tracer.Start(ctx, "Signaling."+strings.ToUpper(endpoint), trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiPath+"/"+endpoint, strings.NewReader(utils.DebugOutputOffer(offer)))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+streamKey)
	request.Header.Set("Content-Type", "application/sdp")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("signaling: %s request: %w", endpoint, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	span.SetAttributes(attribute.Int("http.status_code", response.StatusCode))

	if response.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return nil, &StatusError{
			Endpoint:   endpoint,
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	answer = &Answer{Location: response.Header.Get("Location")}
	if endpoint == "whep" {
		if answer.LayerURL, answer.EventsURL, err = parseLinks(response.Header, c.apiPath); err != nil {
			return nil, err
		}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("signaling: reading %s answer: %w", endpoint, err)
	}
	answer.SDP = utils.DebugOutputAnswer(string(body))

	c.logger.Debug("Signaling.Exchange.Accepted", zap.String("endpoint", endpoint), zap.String("location", answer.Location))
	return answer, nil
}

// SelectLayer asks the server to forward encodingID for mediaID.
func (c *Client) SelectLayer(ctx context.Context, layerURL, mediaID, encodingID string) (err error) {
	ctx, span := c.tracer.Start(ctx, "Signaling.SelectLayer", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("layer.media_id", mediaID), attribute.String("layer.encoding_id", encodingID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	payload, err := json.Marshal(layerRequest{MediaID: mediaID, EncodingID: encodingID})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, layerURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("signaling: layer request: %w", err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	span.SetAttributes(attribute.Int("http.status_code", response.StatusCode))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &StatusError{Endpoint: "layer", StatusCode: response.StatusCode}
	}

	return nil
}
