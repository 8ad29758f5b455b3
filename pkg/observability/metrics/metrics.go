package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "widedata_pickup"

// CycleCounts is the per-cycle tally recorded by ObserveCycle.
type CycleCounts struct {
	RowsReturned    int
	MappingAbsences int
	Dispatched      int
	Skipped         int
	Succeeded       int
	Failed          int
	QueryFailed     bool
	Cancelled       bool
	Duration        time.Duration
}

// Recorder owns a private registry so several instances can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	rows            prometheus.Counter
	absences        prometheus.Counter
	dispatches      *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	backlog         prometheus.Gauge
	lastCycleFinish prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Pickup cycles by result.",
		}, []string{"result"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows returned by the pending record query.",
		}),
		absences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_absences_total",
			Help:      "Rows that could not be mapped to a record.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatch outcomes.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time from cycle start until every dispatch had an outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backlog_records",
			Help:      "Records not yet fully done at the last sample.",
		}),
		lastCycleFinish: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_finished_timestamp_seconds",
			Help:      "Unix time of the last finished cycle.",
		}),
	}

	r.registry.MustRegister(
		r.cycles,
		r.rows,
		r.absences,
		r.dispatches,
		r.cycleDuration,
		r.backlog,
		r.lastCycleFinish,
	)
	return r
}

func (r *Recorder) ObserveCycle(c CycleCounts) {
	switch {
	case c.Cancelled:
		r.cycles.WithLabelValues("cancelled").Inc()
		return
	case c.QueryFailed:
		r.cycles.WithLabelValues("query_failed").Inc()
	case c.RowsReturned == 0:
		r.cycles.WithLabelValues("empty").Inc()
	default:
		r.cycles.WithLabelValues("ok").Inc()
	}

	r.rows.Add(float64(c.RowsReturned))
	r.absences.Add(float64(c.MappingAbsences))
	r.dispatches.WithLabelValues("succeeded").Add(float64(c.Succeeded))
	r.dispatches.WithLabelValues("failed").Add(float64(c.Failed))
	r.dispatches.WithLabelValues("skipped").Add(float64(c.Skipped))
	r.cycleDuration.Observe(c.Duration.Seconds())
	r.lastCycleFinish.SetToCurrentTime()
}

func (r *Recorder) ObserveBacklog(n int64) {
	r.backlog.Set(float64(n))
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
