// Package metrics implements the counters and gauges mutated along the
// session, broadcast, and long-polling paths (spec §4.2), and exposes
// them as Prometheus text exposition via the standard client library.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds every counter/gauge named in spec §4.2. All mutation
// methods are safe for concurrent use: prometheus.Counter/Gauge are
// implemented with atomics internally, so no extra locking is needed
// here, matching the "atomics only" rule of spec §5.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsTotal  prometheus.Counter
	MessagesInTotal   prometheus.Counter
	MessagesOutTotal  prometheus.Counter
	ErrorsTotal       prometheus.Counter
	LPSessionsTotal   prometheus.Counter
	LPPollsTotal      prometheus.Counter
	LPMsgEnqueued     prometheus.Counter
	LPMsgDrained      prometheus.Counter

	ConnectionsActive prometheus.Gauge
	LPSessionsActive  prometheus.Gauge
	LPMessagesBuffered prometheus.Gauge
}

// New constructs a Registry with every metric pre-registered, so
// Handler() always emits a full, stable set of HELP/TYPE/sample blocks
// even before any traffic has been observed.
func New() *Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}

	return &Registry{
		reg: reg,

		ConnectionsTotal: counter("connections_total", "Total WebSocket connections accepted."),
		MessagesInTotal:  counter("messages_in_total", "Total messages read from sessions."),
		MessagesOutTotal: counter("messages_out_total", "Total messages written to sessions."),
		ErrorsTotal:      counter("errors_total", "Total session-level errors observed."),
		LPSessionsTotal:  counter("lp_sessions_total", "Total long-polling buffers ever created."),
		LPPollsTotal:     counter("lp_polls_total", "Total GET /ws/poll requests served."),
		LPMsgEnqueued:    counter("lp_messages_enqueued_total", "Total envelopes enqueued into long-polling buffers."),
		LPMsgDrained:     counter("lp_messages_drained_total", "Total envelopes drained via long-polling polls."),

		ConnectionsActive:  gauge("connections_active", "Currently open WebSocket sessions."),
		LPSessionsActive:   gauge("lp_sessions_active", "Currently live (non-expired) long-polling buffers."),
		LPMessagesBuffered: gauge("lp_messages_buffered", "Envelopes currently sitting in long-polling buffers."),
	}
}

// MetricsSnapshot is a point-in-time read of every counter and gauge,
// for tests and other in-process callers that want the current values
// without parsing Prometheus text exposition.
type MetricsSnapshot struct {
	ConnectionsTotal float64
	MessagesInTotal  float64
	MessagesOutTotal float64
	ErrorsTotal      float64
	LPSessionsTotal  float64
	LPPollsTotal     float64
	LPMsgEnqueued    float64
	LPMsgDrained     float64

	ConnectionsActive  float64
	LPSessionsActive   float64
	LPMessagesBuffered float64
}

// Snapshot gathers the registry's current metric families and returns
// their values as a MetricsSnapshot. It reads through prometheus's own
// Gather, so it reflects the same values Handler() would render.
func (r *Registry) Snapshot() MetricsSnapshot {
	families, _ := r.reg.Gather()

	values := make(map[string]float64, len(families))
	for _, mf := range families {
		if len(mf.Metric) == 0 {
			continue
		}
		m := mf.Metric[0]
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	return MetricsSnapshot{
		ConnectionsTotal: values["connections_total"],
		MessagesInTotal:  values["messages_in_total"],
		MessagesOutTotal: values["messages_out_total"],
		ErrorsTotal:      values["errors_total"],
		LPSessionsTotal:  values["lp_sessions_total"],
		LPPollsTotal:     values["lp_polls_total"],
		LPMsgEnqueued:    values["lp_messages_enqueued_total"],
		LPMsgDrained:     values["lp_messages_drained_total"],

		ConnectionsActive:  values["connections_active"],
		LPSessionsActive:   values["lp_sessions_active"],
		LPMessagesBuffered: values["lp_messages_buffered"],
	}
}

// Handler returns an http.Handler suitable for mounting at /metrics.
// This is the only piece of HTTP route wiring in this package; spec §1
// treats route wiring as an external collaborator concern, but the
// handler itself is the natural place to keep it next to the registry
// it serves.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
