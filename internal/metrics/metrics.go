package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by the relay. Each
// Registry owns its own registerer so independent servers (and tests)
// never collide on metric registration.
type Registry struct {
	Messages messageMetrics
	Sockets  socketMetrics
	Poll     pollMetrics
	Relay    relayMetrics

	registry *prometheus.Registry
}

type messageMetrics struct {
	Received       *prometheus.CounterVec
	PublishSeconds *prometheus.HistogramVec
}

type socketMetrics struct {
	Connections        prometheus.Counter
	Disconnections     prometheus.Counter
	ActiveConnections  prometheus.Gauge
	BroadcastDelivered prometheus.Counter
	BroadcastDropped   prometheus.Counter
}

type pollMetrics struct {
	ActiveWaiters prometheus.Gauge
}

type relayMetrics struct {
	Frames *prometheus.CounterVec
}

// NewRegistry creates the relay's Prometheus collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		Messages: messageMetrics{
			Received: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "pulsar_messages_received_total",
				Help: "Total number of messages accepted for publish, per topic",
			}, []string{"topic"}),
			PublishSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pulsar_message_publish_seconds",
				Help:    "End-to-end publish latency (append plus fan-out), per topic",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		},
		Sockets: socketMetrics{
			Connections: factory.NewCounter(prometheus.CounterOpts{
				Name: "pulsar_websocket_connections_total",
				Help: "Total number of WebSocket connections accepted",
			}),
			Disconnections: factory.NewCounter(prometheus.CounterOpts{
				Name: "pulsar_websocket_disconnections_total",
				Help: "Total number of WebSocket connections closed",
			}),
			ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
				Name: "pulsar_websocket_connections_active",
				Help: "Number of currently connected WebSocket sessions",
			}),
			BroadcastDelivered: factory.NewCounter(prometheus.CounterOpts{
				Name: "pulsar_broadcast_delivered_total",
				Help: "Total number of events delivered to local subscribers",
			}),
			BroadcastDropped: factory.NewCounter(prometheus.CounterOpts{
				Name: "pulsar_broadcast_dropped_total",
				Help: "Total number of events dropped due to slow consumers",
			}),
		},
		Poll: pollMetrics{
			ActiveWaiters: factory.NewGauge(prometheus.GaugeOpts{
				Name: "pulsar_poll_waiters_active",
				Help: "Number of registered long-poll waiters",
			}),
		},
		Relay: relayMetrics{
			Frames: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "pulsar_relay_frames_total",
				Help: "Total number of frames exchanged with the coordinator channel",
			}, []string{"direction"}),
		},
	}
}

// Handler returns an HTTP handler exposing this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
