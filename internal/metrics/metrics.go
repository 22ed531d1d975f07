// Package metrics provides Prometheus metrics for the console daemon.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/status"
	"github.com/matheus3301/wppdesk/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var states = []status.State{status.Unknown, status.Disconnected, status.Pairing, status.Connected}

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	GatewayRequests  *prometheus.CounterVec
	GatewayDuration  *prometheus.HistogramVec
	ConnectionState  *prometheus.GaugeVec
	StateTransitions *prometheus.CounterVec
	MessagesStored   *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wppdesk_gateway_requests_total",
				Help: "Gateway requests by operation and HTTP status (0 = unreachable).",
			},
			[]string{"op", "code"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wppdesk_gateway_request_duration_seconds",
				Help:    "Gateway request latency by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wppdesk_connection_state",
				Help: "1 for the current connection state, 0 otherwise.",
			},
			[]string{"state"},
		),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wppdesk_connection_transitions_total",
				Help: "Connection state transitions.",
			},
			[]string{"from", "to"},
		),
		MessagesStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wppdesk_messages_stored_total",
				Help: "Messages appended to the store by direction.",
			},
			[]string{"direction"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wppdesk_webhook_events_total",
				Help: "Gateway webhook events by event name and result.",
			},
			[]string{"event", "result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.GatewayRequests)
	reg.MustRegister(m.GatewayDuration)
	reg.MustRegister(m.ConnectionState)
	reg.MustRegister(m.StateTransitions)
	reg.MustRegister(m.MessagesStored)
	reg.MustRegister(m.WebhookEvents)

	m.setState(status.Unknown)
	return m
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one gateway round trip.
func (m *Metrics) ObserveRequest(op string, code int, took time.Duration) {
	m.GatewayRequests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	m.GatewayDuration.WithLabelValues(op).Observe(took.Seconds())
}

// RecordWebhook increments the webhook counter.
func (m *Metrics) RecordWebhook(event, result string) {
	m.WebhookEvents.WithLabelValues(event, result).Inc()
}

// Run follows state changes and store inserts on b until ctx is done.
func (m *Metrics) Run(ctx context.Context, b *bus.Bus) {
	stateCh, unsubState := b.Subscribe(bus.KindStateChanged, 64)
	defer unsubState()
	msgCh, unsubMsg := b.Subscribe(bus.KindMessageInserted, 256)
	defer unsubMsg()

	for {
		select {
		case evt := <-stateCh:
			if change, ok := evt.Payload.(status.StatusChange); ok {
				m.StateTransitions.WithLabelValues(string(change.From), string(change.To)).Inc()
				m.setState(change.To)
			}
		case evt := <-msgCh:
			if msg, ok := evt.Payload.(store.Message); ok {
				direction := "inbound"
				if msg.FromMe {
					direction = "outbound"
				}
				m.MessagesStored.WithLabelValues(direction).Inc()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Metrics) setState(current status.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.ConnectionState.WithLabelValues(string(s)).Set(v)
	}
}
