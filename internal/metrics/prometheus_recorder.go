package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dashrender"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	renderDuration   *prom.HistogramVec
	renderOutcomes   *prom.CounterVec
	triggers         *prom.CounterVec
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
	degradedWidgets  *prom.CounterVec
	inFlight         prom.Gauge
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		renderDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Duration of render jobs from pick-up to commit",
			Buckets:   prom.DefBuckets,
		}, []string{"dashboard"}),
		renderOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "render_outcomes_total",
			Help:      "Render job outcomes by dashboard",
		}, []string{"dashboard", "outcome"}),
		triggers: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Render triggers by reason, before coalescing",
		}, []string{"reason"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "render_retries_total",
			Help:      "Retries scheduled after transient failures",
		}, []string{"dashboard"}),
		retriesExhausted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "render_retry_exhausted_total",
			Help:      "Count of jobs where retries were exhausted",
		}, []string{"dashboard"}),
		degradedWidgets: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_widgets_total",
			Help:      "Widgets rendered with a placeholder",
		}, []string{"dashboard"}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Render jobs currently holding a worker slot",
		}),
	}
	reg.MustRegister(pr.renderDuration, pr.renderOutcomes, pr.triggers, pr.retries, pr.retriesExhausted, pr.degradedWidgets, pr.inFlight)
	return pr
}

func (p *PrometheusRecorder) ObserveRenderDuration(dashboard string, d time.Duration) {
	if p == nil || p.renderDuration == nil {
		return
	}
	p.renderDuration.WithLabelValues(dashboard).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRenderOutcome(dashboard string, outcome OutcomeLabel) {
	if p == nil || p.renderOutcomes == nil {
		return
	}
	p.renderOutcomes.WithLabelValues(dashboard, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncTrigger(reason string) {
	if p == nil || p.triggers == nil {
		return
	}
	p.triggers.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncRetry(dashboard string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(dashboard).Inc()
}

func (p *PrometheusRecorder) IncRetryExhausted(dashboard string) {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.WithLabelValues(dashboard).Inc()
}

func (p *PrometheusRecorder) AddDegradedWidgets(dashboard string, n int) {
	if p == nil || p.degradedWidgets == nil || n <= 0 {
		return
	}
	p.degradedWidgets.WithLabelValues(dashboard).Add(float64(n))
}

func (p *PrometheusRecorder) SetInFlight(n int) {
	if p == nil || p.inFlight == nil {
		return
	}
	p.inFlight.Set(float64(n))
}

// HTTPHandler serves the metrics of g in the Prometheus and OpenMetrics
// exposition formats.
func HTTPHandler(g prom.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
