package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Receive routes, used as metric labels.
const (
	RouteCommand      = "command"
	RoutePending      = "pending"
	RouteSubscription = "subscription"
	RouteUnmatched    = "unmatched"
)

// Command statuses, used as metric labels.
const (
	CommandOK          = "ok"
	CommandError       = "error"
	CommandUnknown     = "unknown"
	CommandRateLimited = "rate_limited"
)

// Metrics holds Prometheus metrics for a Center and its Responder.
// A nil *Metrics records nothing.
type Metrics struct {
	EnvelopesSent     *prometheus.CounterVec
	EnvelopesReceived *prometheus.CounterVec

	CallsSettled *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	Pending      prometheus.Gauge

	Commands *prometheus.CounterVec
}

// NewMetrics creates the bridge metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default /metrics
// handler; tests pass a fresh prometheus.NewRegistry().
//
// Metrics:
//   - webbridge_envelopes_sent_total{kind} - request or notify
//   - webbridge_envelopes_received_total{route} - command, pending, subscription, unmatched
//   - webbridge_calls_settled_total{outcome} - reply, timeout, transport_error, canceled, closed
//   - webbridge_call_duration_seconds{channel} - send to settlement
//   - webbridge_pending_requests - outstanding futures
//   - webbridge_commands_total{channel,status} - responder executions
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EnvelopesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "webbridge",
				Name:      "envelopes_sent_total",
				Help:      "Total number of envelopes posted on the transport",
			},
			[]string{"kind"},
		),
		EnvelopesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "webbridge",
				Name:      "envelopes_received_total",
				Help:      "Total number of inbound envelopes by route",
			},
			[]string{"route"},
		),
		CallsSettled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "webbridge",
				Name:      "calls_settled_total",
				Help:      "Total number of settled requests by outcome",
			},
			[]string{"outcome"},
		),
		CallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "webbridge",
				Name:      "call_duration_seconds",
				Help:      "Time from send to settlement in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"channel"},
		),
		Pending: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "webbridge",
				Name:      "pending_requests",
				Help:      "Current number of requests awaiting a reply",
			},
		),
		Commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "webbridge",
				Name:      "commands_total",
				Help:      "Total number of responder command executions",
			},
			[]string{"channel", "status"},
		),
	}
}

func (m *Metrics) sent(kind string) {
	if m == nil {
		return
	}
	m.EnvelopesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) received(route string) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(route).Inc()
}

func (m *Metrics) settled(channel, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CallsSettled.WithLabelValues(outcome).Inc()
	m.CallDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) pendingAdd(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Pending.Add(float64(n))
}

func (m *Metrics) command(channel, status string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(channel, status).Inc()
}
