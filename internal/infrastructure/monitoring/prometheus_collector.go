package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/richardrhg/ocean-live/internal/core/domain"
)

// PrometheusCollector exposes relay metrics on the default registry. The
// relay calls it from the routing path, so every method is a cheap atomic
// update.
type PrometheusCollector struct {
	viewersConnected prometheus.Gauge
	broadcastLive    prometheus.Gauge

	messagesRouted *prometheus.CounterVec
	routingErrors  *prometheus.CounterVec
	reapedTotal    prometheus.Counter

	chatDropped prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		viewersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ocean_viewers_connected",
			Help: "Number of viewers currently registered with the relay",
		}),

		broadcastLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ocean_broadcast_live",
			Help: "1 when a broadcast is live, 0 otherwise",
		}),

		messagesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ocean_messages_routed_total",
			Help: "Signaling messages routed, by message type",
		}, []string{"type"}),

		routingErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ocean_routing_errors_total",
			Help: "Messages that could not be delivered, by message type",
		}, []string{"type"}),

		reapedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ocean_connections_reaped_total",
			Help: "Connections removed by the dead-connection reaper",
		}),

		chatDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ocean_chat_messages_dropped_total",
			Help: "Chat messages dropped by the flood limiter",
		}),
	}
}

func (p *PrometheusCollector) RecordViewerJoined()  { p.viewersConnected.Inc() }
func (p *PrometheusCollector) RecordViewerLeft()    { p.viewersConnected.Dec() }
func (p *PrometheusCollector) SetViewerCount(n int) { p.viewersConnected.Set(float64(n)) }

func (p *PrometheusCollector) RecordBroadcastLive(live bool) {
	if live {
		p.broadcastLive.Set(1)
	} else {
		p.broadcastLive.Set(0)
	}
}

func (p *PrometheusCollector) RecordMessageRouted(t domain.MessageType) {
	p.messagesRouted.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) RecordRoutingError(t domain.MessageType) {
	p.routingErrors.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) RecordReaped()      { p.reapedTotal.Inc() }
func (p *PrometheusCollector) RecordChatDropped() { p.chatDropped.Inc() }
