// Package metrics provides Prometheus collectors for the annotation
// engine's latency samples and commit statistics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxmed/annotate"
	"github.com/voxmed/annotate/mpr"
)

// Recorder observes engine events as Prometheus metrics. It implements
// annotate.PerfSink; ObserveStatus and ObserveViewSync plug into the
// engine's status and view-sync sinks.
type Recorder struct {
	duration      *prometheus.HistogramVec
	samples       *prometheus.CounterVec
	statuses      *prometheus.CounterVec
	deferredLines prometheus.Counter
	budgetHits    prometheus.Counter
}

// NewRecorder creates a recorder and registers its collectors.
// reg may be nil, in which case the default registerer is used.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "annotate_sample_duration_seconds",
				Help: "Latency of brush interaction phases",
				// Interactive painting: sub-millisecond previews up to
				// multi-second commit syncs.
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"sample"},
		),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotate_samples_total",
				Help: "Total number of performance samples observed",
			},
			[]string{"sample"},
		),
		statuses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotate_status_events_total",
				Help: "Status events by phase (preview, commit, error)",
			},
			[]string{"phase"},
		),
		deferredLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "annotate_deferred_lines_total",
				Help: "Contour lines deferred by the shared view-sync line budget",
			},
		),
		budgetHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "annotate_budget_hits_total",
				Help: "View syncs that exhausted the shared line budget",
			},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		r.duration, r.samples, r.statuses, r.deferredLines, r.budgetHits,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records one performance sample.
func (r *Recorder) Observe(sample annotate.PerfSample) {
	r.duration.WithLabelValues(sample.Name).Observe(sample.Duration.Seconds())
	r.samples.WithLabelValues(sample.Name).Inc()
}

// ObserveStatus counts a status event by phase.
func (r *Recorder) ObserveStatus(s annotate.Status) {
	r.statuses.WithLabelValues(string(s.Phase)).Inc()
}

// ObserveViewSync records the budget outcome of a view sync.
func (r *Recorder) ObserveViewSync(ev mpr.ViewSyncEvent) {
	if ev.TotalDeferredLines > 0 {
		r.deferredLines.Add(float64(ev.TotalDeferredLines))
	}
	if ev.BudgetHit {
		r.budgetHits.Inc()
	}
}
