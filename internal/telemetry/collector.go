package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sleroq/web.cum.army/internal/webrtc/stats"
)

type Role string

const (
	RolePlayer      Role = "player"
	RoleBroadcaster Role = "broadcaster"
)

// Collector exports session health as prometheus metrics. A nil *Collector
// records nothing, so components can take one optionally.
type Collector struct {
	latency       *prometheus.GaugeVec
	fps           *prometheus.GaugeVec
	droppedFrames *prometheus.GaugeVec
	packetLoss    *prometheus.GaugeVec
	signal        *prometheus.GaugeVec
	viewers       *prometheus.GaugeVec

	reconnects     *prometheus.CounterVec
	connectFailure *prometheus.CounterVec
}

func NewCollector(registerer prometheus.Registerer) *Collector {
	factory := promauto.With(registerer)
	labels := []string{"stream_key", "role"}

	return &Collector{
		latency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcastbox_client_latency_ms",
			Help: "Jitter buffer delay plus half the round trip time",
		}, labels),

		fps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcastbox_client_fps",
			Help: "Decoded video frames per second",
		}, labels),

		droppedFrames: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcastbox_client_dropped_frames",
			Help: "Frames dropped since the previous sample",
		}, labels),

		packetLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcastbox_client_packet_loss",
			Help: "1 when the loss threshold was exceeded in the last sample",
		}, labels),

		signal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcastbox_client_signal",
			Help: "1 while media is flowing",
		}, labels),

		viewers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broadcastbox_client_viewers",
			Help: "Viewer count reported by the server",
		}, []string{"stream_key"}),

		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcastbox_client_reconnects_total",
			Help: "Reconnects scheduled after a signaling or transport failure",
		}, labels),

		connectFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcastbox_client_connect_failures_total",
			Help: "WHIP/WHEP exchanges rejected by the server",
		}, labels),
	}
}

func (c *Collector) ObserveHealth(role Role, streamKey string, health stats.DerivedHealth) {
	if c == nil {
		return
	}

	c.latency.WithLabelValues(streamKey, string(role)).Set(health.LatencyMs)
	c.fps.WithLabelValues(streamKey, string(role)).Set(health.FPS)
	c.droppedFrames.WithLabelValues(streamKey, string(role)).Set(health.DroppedFrames)
	c.packetLoss.WithLabelValues(streamKey, string(role)).Set(boolToFloat(health.HasPacketLoss))
}

func (c *Collector) ObservePublisher(streamKey string, health stats.PublisherHealth) {
	if c == nil {
		return
	}

	c.packetLoss.WithLabelValues(streamKey, string(RoleBroadcaster)).Set(boolToFloat(health.HasPacketLoss))
	c.signal.WithLabelValues(streamKey, string(RoleBroadcaster)).Set(boolToFloat(health.HasSignal))
}

func (c *Collector) SetSignal(role Role, streamKey string, hasSignal bool) {
	if c == nil {
		return
	}

	c.signal.WithLabelValues(streamKey, string(role)).Set(boolToFloat(hasSignal))
}

func (c *Collector) SetViewers(streamKey string, viewers int) {
	if c == nil {
		return
	}

	c.viewers.WithLabelValues(streamKey).Set(float64(viewers))
}

func (c *Collector) RecordReconnect(role Role, streamKey string) {
	if c == nil {
		return
	}

	c.reconnects.WithLabelValues(streamKey, string(role)).Inc()
}

func (c *Collector) RecordConnectFailure(role Role, streamKey string) {
	if c == nil {
		return
	}

	c.connectFailure.WithLabelValues(streamKey, string(role)).Inc()
}

// Forget drops every series of streamKey once its session is torn down.
func (c *Collector) Forget(role Role, streamKey string) {
	if c == nil {
		return
	}

	for _, vector := range []*prometheus.GaugeVec{c.latency, c.fps, c.droppedFrames, c.packetLoss, c.signal} {
		vector.DeleteLabelValues(streamKey, string(role))
	}
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}

	return 0
}
