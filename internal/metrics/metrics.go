// ============================================================================
// Spacesaver Metrics - Prometheus
// ============================================================================
//
// Package: internal/metrics
// Purpose: collect and expose server metrics for Prometheus.
//
// Metrics:
//
//   1. Counters:
//      - spacesaver_claims_total{result}: claim outcomes
//        (assigned, no_work, off_hours)
//      - spacesaver_jobs_completed_total
//      - spacesaver_jobs_failed_total{kind}: error, cancelled
//      - spacesaver_cancel_requests_total
//      - spacesaver_bytes_saved_total: source size minus output size
//
//   2. Histograms:
//      - spacesaver_job_duration_seconds: claim to completion
//      - spacesaver_scan_duration_seconds
//
//   3. Gauges:
//      - spacesaver_items{status}
//      - spacesaver_workers_online
//      - spacesaver_recovery_time_seconds: last state load + replay
//
// Example queries:
//
//   # completions per hour
//   increase(spacesaver_jobs_completed_total[1h])
//
//   # failure ratio
//   rate(spacesaver_jobs_failed_total[1d]) / rate(spacesaver_claims_total{result="assigned"}[1d])
//
// The collector registers on an injected Registerer so tests can use a fresh
// registry. The HTTP API serves Handler at /metrics.
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// Claim results.
const (
	ClaimAssigned = "assigned"
	ClaimNoWork   = types.ClaimNoWork
	ClaimOffHours = types.ClaimOffHours
)

// Failure kinds.
const (
	FailError     = "error"
	FailCancelled = "cancelled"
)

var itemStatuses = []types.ItemStatus{
	types.ItemIdle, types.ItemReady, types.ItemProcessing, types.ItemDone, types.ItemFailed,
}

// Collector holds the server's Prometheus metrics.
type Collector struct {
	claims         *prometheus.CounterVec
	jobsCompleted  prometheus.Counter
	jobsFailed     *prometheus.CounterVec
	cancelRequests prometheus.Counter
	bytesSaved     prometheus.Counter

	jobDuration  prometheus.Histogram
	scanDuration prometheus.Histogram

	items         *prometheus.GaugeVec
	workersOnline prometheus.Gauge
	recoveryTime  prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spacesaver_claims_total",
			Help: "Claim requests by result",
		}, []string{"result"}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spacesaver_jobs_completed_total",
			Help: "Jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spacesaver_jobs_failed_total",
			Help: "Jobs failed, by kind",
		}, []string{"kind"}),
		cancelRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spacesaver_cancel_requests_total",
			Help: "Jobs flagged for cancellation",
		}),
		bytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spacesaver_bytes_saved_total",
			Help: "Bytes reclaimed by completed jobs",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spacesaver_job_duration_seconds",
			Help:    "Time from claim to completion",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10), // 1m .. ~8.5h
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spacesaver_scan_duration_seconds",
			Help:    "Entry scan duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spacesaver_items",
			Help: "Items by status",
		}, []string{"status"}),
		workersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacesaver_workers_online",
			Help: "Workers that heartbeated within the liveness window",
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacesaver_recovery_time_seconds",
			Help: "Time taken to load the snapshot and replay the journal",
		}),
	}

	reg.MustRegister(
		c.claims,
		c.jobsCompleted,
		c.jobsFailed,
		c.cancelRequests,
		c.bytesSaved,
		c.jobDuration,
		c.scanDuration,
		c.items,
		c.workersOnline,
		c.recoveryTime,
	)
	return c
}

// RecordClaim counts one claim outcome.
func (c *Collector) RecordClaim(result string) {
	c.claims.WithLabelValues(result).Inc()
}

// RecordCompleted counts a completed job. saved may be negative when the
// output grew; only positive savings are added.
func (c *Collector) RecordCompleted(d time.Duration, saved int64) {
	c.jobsCompleted.Inc()
	if d > 0 {
		c.jobDuration.Observe(d.Seconds())
	}
	if saved > 0 {
		c.bytesSaved.Add(float64(saved))
	}
}

// RecordFailed counts a failed job of the given kind.
func (c *Collector) RecordFailed(kind string) {
	c.jobsFailed.WithLabelValues(kind).Inc()
}

// RecordCancelRequests counts n jobs flagged for cancellation.
func (c *Collector) RecordCancelRequests(n int) {
	if n > 0 {
		c.cancelRequests.Add(float64(n))
	}
}

// RecordScan observes one scan duration.
func (c *Collector) RecordScan(d time.Duration) {
	c.scanDuration.Observe(d.Seconds())
}

// SetRecoveryTime records how long startup recovery took.
func (c *Collector) SetRecoveryTime(d time.Duration) {
	c.recoveryTime.Set(d.Seconds())
}

// UpdateItemCounts sets the per-status gauges. Missing statuses are set to 0.
func (c *Collector) UpdateItemCounts(counts map[types.ItemStatus]int) {
	for _, s := range itemStatuses {
		c.items.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// SetWorkersOnline sets the online worker gauge.
func (c *Collector) SetWorkersOnline(n int) {
	c.workersOnline.Set(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
