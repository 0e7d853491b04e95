// Package brokermetrics wraps the broker daemon's Prometheus collectors,
// grounded on go-server-3/internal/metrics.
package brokermetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors exposed by the broker daemon.
type Registry struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec
	EmitsAccepted       prometheus.Counter
	EmitsRejected       *prometheus.CounterVec
	MessagesDelivered   prometheus.Counter
	Subscriptions       prometheus.Gauge
}

// NewRegistry creates and registers the broker daemon's Prometheus
// collectors.
func NewRegistry() *Registry {
	return &Registry{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_broker_connections_active",
			Help: "Number of open connections to the broker's Unix domain socket",
		}),
		ConnectionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_broker_connections_rejected_total",
			Help: "Total number of connections rejected at admission, labeled by rejection reason",
		}, []string{"reason"}),
		EmitsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hydra_broker_emits_accepted_total",
			Help: "Total number of emit commands that passed admission checks",
		}),
		EmitsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hydra_broker_emits_rejected_total",
			Help: "Total number of emit commands rejected, labeled by rejection reason",
		}, []string{"reason"}),
		MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hydra_broker_messages_delivered_total",
			Help: "Total number of messages fanned out to live subscribers",
		}),
		Subscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hydra_broker_subscriptions_active",
			Help: "Number of currently open subscribe streams",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
