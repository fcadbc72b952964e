package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	SessionEvents    *prometheus.CounterVec
	SessionsLive     prometheus.Gauge
	OutgoingMessages *prometheus.CounterVec
	CampaignsStarted prometheus.Counter
	AutoReplies      *prometheus.CounterVec
	AckUpdates       *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Total connection lifecycle events by kind.",
			}, []string{"event"}),
			SessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_live",
				Help:      "Number of live connection handles in the registry.",
			}),
			OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_messages_total",
				Help:      "Total outbound message attempts by outcome.",
			}, []string{"outcome"}),
			CampaignsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "campaigns_started_total",
				Help:      "Total bulk-send campaigns launched.",
			}),
			AutoReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auto_replies_total",
				Help:      "Total auto-reply evaluations by result.",
			}, []string{"result"}),
			AckUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ack_updates_total",
				Help:      "Total delivery acknowledgment updates by resulting status.",
			}, []string{"status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.SessionEvents,
			metricsInstance.SessionsLive,
			metricsInstance.OutgoingMessages,
			metricsInstance.CampaignsStarted,
			metricsInstance.AutoReplies,
			metricsInstance.AckUpdates,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
