package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleroq/web.cum.army/internal/webrtc/stats"
)

func TestCollectorObservesHealth(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	collector.ObserveHealth(RolePlayer, "key", stats.DerivedHealth{
		LatencyMs:     90,
		FPS:           58,
		DroppedFrames: 2,
		HasPacketLoss: true,
	})
	collector.SetSignal(RolePlayer, "key", true)

	assert.Equal(t, 90.0, testutil.ToFloat64(collector.latency.WithLabelValues("key", "player")))
	assert.Equal(t, 58.0, testutil.ToFloat64(collector.fps.WithLabelValues("key", "player")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.droppedFrames.WithLabelValues("key", "player")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.packetLoss.WithLabelValues("key", "player")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.signal.WithLabelValues("key", "player")))
}

func TestCollectorCounters(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	collector.RecordReconnect(RoleBroadcaster, "key")
	collector.RecordReconnect(RoleBroadcaster, "key")
	collector.RecordConnectFailure(RolePlayer, "key")
	collector.SetViewers("key", 7)
	collector.ObservePublisher("key", stats.PublisherHealth{HasSignal: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.reconnects.WithLabelValues("key", "broadcaster")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.connectFailure.WithLabelValues("key", "player")))
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.viewers.WithLabelValues("key")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.signal.WithLabelValues("key", "broadcaster")))
}

func TestCollectorForget(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(registry)

	collector.ObserveHealth(RolePlayer, "key", stats.DerivedHealth{FPS: 30})
	require.Equal(t, 1, testutil.CollectAndCount(collector.fps))

	collector.Forget(RolePlayer, "key")
	assert.Equal(t, 0, testutil.CollectAndCount(collector.fps))
}

func TestNilCollector(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.ObserveHealth(RolePlayer, "key", stats.DerivedHealth{})
		collector.ObservePublisher("key", stats.PublisherHealth{})
		collector.SetSignal(RolePlayer, "key", true)
		collector.SetViewers("key", 1)
		collector.RecordReconnect(RolePlayer, "key")
		collector.RecordConnectFailure(RolePlayer, "key")
		collector.Forget(RolePlayer, "key")
	})
}
