package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Wire label sets for the state gauges. These are stable output labels,
// not an import of the supervisor's enums.
var (
	linkStates    = []string{"disconnected", "connecting", "connected", "reconnecting"}
	sessionStates = []string{"disconnected", "connecting", "connected", "reconnecting", "suspended"}
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	tickDuration    prom.Histogram
	linkState       *prom.GaugeVec
	sessionState    *prom.GaugeVec
	linkAttempts    *prom.CounterVec
	sessionAttempts *prom.CounterVec
	publishes       *prom.CounterVec
	diagnostics     *prom.CounterVec
	co2             prom.Gauge
	temperature     prom.Gauge
	humidity        prom.Gauge
	faults          *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.tickDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "stead",
			Name:      "tick_duration_seconds",
			Help:      "Duration of supervisor ticks",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		})
		pr.linkState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "stead",
			Name:      "link_state",
			Help:      "Current link state (1 for the active state, 0 otherwise)",
		}, []string{"state"})
		pr.sessionState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "stead",
			Name:      "session_state",
			Help:      "Current session state (1 for the active state, 0 otherwise)",
		}, []string{"state"})
		pr.linkAttempts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stead",
			Name:      "link_attempts_total",
			Help:      "Finished link join attempts by result",
		}, []string{"result"})
		pr.sessionAttempts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stead",
			Name:      "session_attempts_total",
			Help:      "Finished session open attempts by result",
		}, []string{"result"})
		pr.publishes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stead",
			Name:      "publishes_total",
			Help:      "Sample publish calls by result",
		}, []string{"result"})
		pr.diagnostics = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stead",
			Name:      "diagnostics_total",
			Help:      "Diagnostic events by kind and delivery outcome",
		}, []string{"event", "delivered"})
		pr.co2 = prom.NewGauge(prom.GaugeOpts{
			Namespace: "stead",
			Name:      "sensor_co2_ppm",
			Help:      "Latest CO2 reading",
		})
		pr.temperature = prom.NewGauge(prom.GaugeOpts{
			Namespace: "stead",
			Name:      "sensor_temperature_celsius",
			Help:      "Latest temperature reading",
		})
		pr.humidity = prom.NewGauge(prom.GaugeOpts{
			Namespace: "stead",
			Name:      "sensor_humidity_percent",
			Help:      "Latest relative humidity reading",
		})
		pr.faults = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "stead",
			Name:      "faults",
			Help:      "Active fault flags by layer (sensor, runtime)",
		}, []string{"layer"})
		reg.MustRegister(pr.tickDuration, pr.linkState, pr.sessionState,
			pr.linkAttempts, pr.sessionAttempts, pr.publishes,
			pr.diagnostics, pr.co2, pr.temperature, pr.humidity, pr.faults)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveTickDuration(d time.Duration) {
	if p == nil || p.tickDuration == nil {
		return
	}
	p.tickDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetLinkState(state string) {
	if p == nil || p.linkState == nil {
		return
	}
	for _, s := range linkStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		p.linkState.WithLabelValues(s).Set(v)
	}
}

func (p *PrometheusRecorder) SetSessionState(state string) {
	if p == nil || p.sessionState == nil {
		return
	}
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		p.sessionState.WithLabelValues(s).Set(v)
	}
}

func (p *PrometheusRecorder) IncLinkAttempt(success bool) {
	if p == nil || p.linkAttempts == nil {
		return
	}
	p.linkAttempts.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncSessionAttempt(success bool) {
	if p == nil || p.sessionAttempts == nil {
		return
	}
	p.sessionAttempts.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncPublish(success bool) {
	if p == nil || p.publishes == nil {
		return
	}
	p.publishes.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncDiagnostic(event string, delivered bool) {
	if p == nil || p.diagnostics == nil {
		return
	}
	del := "false"
	if delivered {
		del = "true"
	}
	p.diagnostics.WithLabelValues(event, del).Inc()
}

func (p *PrometheusRecorder) SetReading(co2 int, temp, rh float64) {
	if p == nil || p.co2 == nil {
		return
	}
	p.co2.Set(float64(co2))
	p.temperature.Set(temp)
	p.humidity.Set(rh)
}

func (p *PrometheusRecorder) SetFault(layer string, active bool) {
	if p == nil || p.faults == nil {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	p.faults.WithLabelValues(layer).Set(v)
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics
// for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.DefaultRegisterer.(*prom.Registry)
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Compile-time interface satisfaction check.
var _ Recorder = (*PrometheusRecorder)(nil)
