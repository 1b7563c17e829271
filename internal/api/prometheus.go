package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raspy-assistant/statehub/internal/state"
)

// Patch results reported by statehub_patches_total.
const (
	resultApplied   = "applied"
	resultInvalid   = "invalid"
	resultForbidden = "forbidden"
)

// Metrics holds the Prometheus collectors for one server. Each server owns
// its registry so tests can run several servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	patches       *prometheus.CounterVec
	resets        prometheus.Counter
	links         prometheus.Counter
	volume        prometheus.Gauge
	ledBrightness prometheus.Gauge
}

// NewMetrics registers the collectors. The client gauges are read from hub
// and store at scrape time.
func NewMetrics(hub *Hub, store *state.Store) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statehub_patches_total",
			Help: "State patches by result.",
		}, []string{"result"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statehub_resets_total",
			Help: "Resets committed.",
		}),
		links: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statehub_links_total",
			Help: "Calls to /vincular.",
		}),
		volume: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statehub_volume",
			Help: "Current volumen value.",
		}),
		ledBrightness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statehub_led_brightness",
			Help: "Current led_brightness value.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.patches,
		m.resets,
		m.links,
		m.volume,
		m.ledBrightness,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "statehub_websocket_clients",
			Help: "Connected WebSocket clients.",
		}, func() float64 { return float64(hub.ClientCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "statehub_registered_clients",
			Help: "Clients registered through /vincular.",
		}, func() float64 { return float64(store.Clients().Len()) }),
	)

	// Pre-create the result series so they scrape as zero.
	for _, result := range []string{resultApplied, resultInvalid, resultForbidden} {
		m.patches.WithLabelValues(result)
	}
	m.setRecord(store.Get())
	return m
}

// Registry returns the registry to serve on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe counts a committed change and updates the record gauges.
func (m *Metrics) Observe(c state.Change) {
	switch c.Action {
	case state.ActionPatch:
		m.patches.WithLabelValues(resultApplied).Inc()
	case state.ActionReset:
		m.resets.Inc()
	case state.ActionLink:
		m.links.Inc()
	}
	m.setRecord(c.Record)
}

func (m *Metrics) setRecord(rec state.Record) {
	m.volume.Set(float64(rec.Volume))
	m.ledBrightness.Set(float64(rec.LEDBrightness))
}
