// Package metrics exposes scan and pipeline counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the scanner's collectors. The zero value is not usable; use New.
type Recorder struct {
	scans           *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	skippedScans    prometheus.Counter
	marketsAnalyzed prometheus.Counter
	marketErrors    prometheus.Counter
	opportunities   *prometheus.CounterVec
	vetoes          *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	deduplicated    prometheus.Counter
	alerts          *prometheus.CounterVec
	pendingAlerts   prometheus.Gauge
	persistFailures prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		scans: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyedge_scans_total",
				Help: "Completed scans by result",
			},
			[]string{"result"},
		),
		scanDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "polyedge_scan_duration_seconds",
				Help:    "Wall time of one scan",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		skippedScans: f.NewCounter(prometheus.CounterOpts{
			Name: "polyedge_scans_skipped_total",
			Help: "Scan triggers dropped because a scan was already running",
		}),
		marketsAnalyzed: f.NewCounter(prometheus.CounterOpts{
			Name: "polyedge_markets_analyzed_total",
			Help: "Markets run through the pipeline",
		}),
		marketErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "polyedge_market_errors_total",
			Help: "Markets skipped because of an error",
		}),
		opportunities: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyedge_opportunities_total",
				Help: "Approved opportunities by recommended action",
			},
			[]string{"action"},
		),
		vetoes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyedge_risk_vetoes_total",
				Help: "Candidates dropped by the risk gate",
			},
			[]string{"reason"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyedge_oracle_fallbacks_total",
				Help: "Oracle calls replaced by their fallback value",
			},
			[]string{"service"},
		),
		deduplicated: f.NewCounter(prometheus.CounterOpts{
			Name: "polyedge_opportunities_deduplicated_total",
			Help: "Opportunities suppressed by the alert cooldown",
		}),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyedge_alerts_sent_total",
				Help: "Alert delivery attempts by result",
			},
			[]string{"result"},
		),
		pendingAlerts: f.NewGauge(prometheus.GaugeOpts{
			Name: "polyedge_pending_alerts",
			Help: "Alerts waiting for delivery",
		}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "polyedge_state_persist_failures_total",
			Help: "Failed writes of the scan state file",
		}),
	}
}

// ObserveScan records the outcome and duration of one scan.
func (r *Recorder) ObserveScan(ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.scans.WithLabelValues(result).Inc()
	r.scanDuration.Observe(d.Seconds())
}

func (r *Recorder) ScanSkipped() { r.skippedScans.Inc() }

func (r *Recorder) MarketAnalyzed() { r.marketsAnalyzed.Inc() }

func (r *Recorder) MarketError() { r.marketErrors.Inc() }

func (r *Recorder) Opportunity(action string) { r.opportunities.WithLabelValues(action).Inc() }

// Veto counts a risk gate rejection; failedClosed separates service failures
// from real vetoes.
func (r *Recorder) Veto(failedClosed bool) {
	reason := "judgment"
	if failedClosed {
		reason = "fail_closed"
	}
	r.vetoes.WithLabelValues(reason).Inc()
}

func (r *Recorder) OracleFallback(service string) { r.fallbacks.WithLabelValues(service).Inc() }

func (r *Recorder) Deduplicated() { r.deduplicated.Inc() }

func (r *Recorder) AlertSent(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.alerts.WithLabelValues(result).Inc()
}

func (r *Recorder) SetPending(n int) { r.pendingAlerts.Set(float64(n)) }

func (r *Recorder) PersistFailed() { r.persistFailures.Inc() }
