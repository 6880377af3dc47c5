// Package metrics exposes Prometheus collectors for pipeline runs.
package metrics

import (
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue labels used for admission rejections.
const (
	QueueCrawl = "crawl"
	QueueParse = "parse"
)

// Record outcomes.
const (
	OutcomeParsed = "parsed"
	OutcomeFailed = "failed"
)

// Metrics groups the collectors touched by the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	pagesTotal          *prometheus.CounterVec
	bytesTotal          *prometheus.CounterVec
	recordsTotal        *prometheus.CounterVec
	admissionRejections *prometheus.CounterVec
	gateOpenedTotal     prometheus.Counter
	activeWorkers       *prometheus.GaugeVec
	runsTotal           *prometheus.CounterVec
	runDurationSeconds  prometheus.Histogram
	robotsFallbacks     *prometheus.CounterVec
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		pagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_pages_total",
				Help: "Total number of pages fetched by crawl workers, labeled by site and status class.",
			},
			[]string{"site", "status"},
		),
		bytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_bytes_total",
				Help: "Total number of bytes fetched by crawl workers, labeled by site.",
			},
			[]string{"site"},
		),
		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_records_total",
				Help: "Total number of parse targets handled, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		admissionRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_admission_rejections_total",
				Help: "Number of times a producer stopped because a queue reached its admission cap.",
			},
			[]string{"queue"},
		),
		gateOpenedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "spider_parse_gate_opened_total",
				Help: "Number of times the parsing gate was opened (at most one per run).",
			},
		),
		activeWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spider_active_workers",
				Help: "Number of running worker loops, labeled by role.",
			},
			[]string{"role"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_runs_total",
				Help: "Total number of pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		runDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spider_run_duration_seconds",
				Help:    "Histogram of pipeline run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		robotsFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_robots_fallbacks_total",
				Help: "Number of robots.txt requests that fell back to allow-all, labeled by reason.",
			},
			[]string{"reason"},
		),
	}
}

// SanitizeSite extracts a lowercase hostname, or "unknown" for invalid URLs.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass groups an HTTP status code; zero means the request failed.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 200:
		return "other"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	case code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// ObservePage records one crawl fetch.
func (m *Metrics) ObservePage(site string, statusCode int, bytesFetched int) {
	if m == nil {
		return
	}
	sanitized := SanitizeSite(site)
	m.pagesTotal.WithLabelValues(sanitized, StatusClass(statusCode)).Inc()
	if bytesFetched > 0 {
		m.bytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveRecord records one handled parse target.
func (m *Metrics) ObserveRecord(outcome string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRejection records a producer hitting a closed queue.
func (m *Metrics) ObserveRejection(queue string) {
	if m == nil {
		return
	}
	m.admissionRejections.WithLabelValues(queue).Inc()
}

// ObserveGateOpened records the parsing gate opening.
func (m *Metrics) ObserveGateOpened() {
	if m == nil {
		return
	}
	m.gateOpenedTotal.Inc()
}

// IncActiveWorkers increments the active worker gauge for role.
func (m *Metrics) IncActiveWorkers(role string) {
	if m == nil {
		return
	}
	m.activeWorkers.WithLabelValues(role).Inc()
}

// DecActiveWorkers decrements the active worker gauge for role.
func (m *Metrics) DecActiveWorkers(role string) {
	if m == nil {
		return
	}
	m.activeWorkers.WithLabelValues(role).Dec()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDurationSeconds.Observe(duration.Seconds())
}

// ObserveRobotsFallback records a robots.txt request that gave up and allowed all.
func (m *Metrics) ObserveRobotsFallback(reason string) {
	if m == nil {
		return
	}
	m.robotsFallbacks.WithLabelValues(reason).Inc()
}
