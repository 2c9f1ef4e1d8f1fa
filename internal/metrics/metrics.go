package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exposes the service's operational counters. A nil Recorder is a no-op.
type Recorder struct {
	checks          *prometheus.CounterVec
	upserts         prometheus.Counter
	adapterFailures *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	lastScheduled   prometheus.Gauge
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier_risk",
			Name:      "checks_total",
			Help:      "Phone checks served, labelled by whether stored data answered them.",
		}, []string{"cached"}),
		upserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "courier_risk",
			Name:      "metric_upserts_total",
			Help:      "Courier metric rows written.",
		}),
		adapterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier_risk",
			Name:      "adapter_failures_total",
			Help:      "Courier adapter calls that returned an error.",
		}, []string{"provider"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "courier_risk",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of per-phone provider refreshes.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastScheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "courier_risk",
			Name:      "last_scheduled_refresh_timestamp_seconds",
			Help:      "Unix time of the last completed scheduled refresh.",
		}),
	}
	reg.MustRegister(r.checks, r.upserts, r.adapterFailures, r.refreshDuration, r.lastScheduled)
	return r
}

// ObserveCheck counts a served check.
func (r *Recorder) ObserveCheck(cached bool) {
	if r == nil {
		return
	}
	r.checks.WithLabelValues(strconv.FormatBool(cached)).Inc()
}

// ObserveUpsert counts a written row.
func (r *Recorder) ObserveUpsert() {
	if r == nil {
		return
	}
	r.upserts.Inc()
}

// ObserveAdapterFailure counts a failed provider call.
func (r *Recorder) ObserveAdapterFailure(provider string) {
	if r == nil {
		return
	}
	r.adapterFailures.WithLabelValues(provider).Inc()
}

// ObserveRefresh records how long a refresh took.
func (r *Recorder) ObserveRefresh(d time.Duration) {
	if r == nil {
		return
	}
	r.refreshDuration.Observe(d.Seconds())
}

// ObserveScheduledRun marks a completed scheduled refresh.
func (r *Recorder) ObserveScheduledRun(at time.Time) {
	if r == nil {
		return
	}
	r.lastScheduled.Set(float64(at.Unix()))
}
