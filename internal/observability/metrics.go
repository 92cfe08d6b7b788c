package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gamehub"

// Delivery outcome labels for gamehub_deliveries_total.
const (
	DeliveryOK     = "delivered"
	DeliveryFailed = "failed"
)

// Enqueue failure labels for gamehub_enqueue_failures_total.
const (
	EnqueueTimeout  = "timeout"
	EnqueueStopped  = "stopped"
	EnqueueCanceled = "canceled"
)

// HubMetrics holds the Prometheus collectors updated by the broadcast hub.
// All methods are safe on a nil receiver, which records nothing.
type HubMetrics struct {
	connections     prometheus.Gauge
	players         prometheus.Gauge
	events          *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	enqueueFailures *prometheus.CounterVec
}

// NewHubMetrics creates the hub collectors and registers them with reg.
//
// Precondition: reg must be non-nil and must not already hold gamehub collectors.
// Postcondition: Returns registered HubMetrics or a non-nil error.
func NewHubMetrics(reg prometheus.Registerer) (*HubMetrics, error) {
	m := &HubMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of WebSocket connections registered with the hub.",
		}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players",
			Help:      "Number of players in the presence store.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Hub events processed, by kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Broadcast delivery attempts, by result.",
		}, []string{"result"}),
		enqueueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failures_total",
			Help:      "Events rejected before reaching the hub mailbox, by reason.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{m.connections, m.players, m.events, m.deliveries, m.enqueueFailures} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering hub metrics: %w", err)
		}
	}
	return m, nil
}

// SetConnections records the current registry size.
func (m *HubMetrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// SetPlayers records the current presence store size.
func (m *HubMetrics) SetPlayers(n int) {
	if m == nil {
		return
	}
	m.players.Set(float64(n))
}

// EventProcessed counts one processed event of the given kind.
func (m *HubMetrics) EventProcessed(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// Delivered counts the outcome of one fan-out.
func (m *HubMetrics) Delivered(ok, failed int) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(DeliveryOK).Add(float64(ok))
	m.deliveries.WithLabelValues(DeliveryFailed).Add(float64(failed))
}

// EnqueueFailed counts one event that never reached the mailbox.
func (m *HubMetrics) EnqueueFailed(reason string) {
	if m == nil {
		return
	}
	m.enqueueFailures.WithLabelValues(reason).Inc()
}
