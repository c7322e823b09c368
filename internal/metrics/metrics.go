package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zbysir/vscheduler"
)

// Collector exports scheduler activity as Prometheus metrics. It implements vscheduler.Measure.
type Collector struct {
	scheduled *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	sweeps    *prometheus.CounterVec
	duration  prometheus.Histogram
	lastDue   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector registers its metrics on reg; a nil reg gets a fresh private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vscheduler_tasks_scheduled_total",
			Help: "Tasks added to the delayed set",
		}, []string{"target_type", "method"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vscheduler_tasks_swept_total",
			Help: "Due tasks handled by a sweep, by outcome",
		}, []string{"target_type", "method", "outcome"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vscheduler_runs_total",
			Help: "Calls to Run, by how far they got",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vscheduler_sweep_duration_seconds",
			Help:    "Duration of sweeps that held the lock",
			Buckets: prometheus.DefBuckets,
		}),
		lastDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vscheduler_last_sweep_due",
			Help: "Due entries seen by the latest sweep",
		}),
		gatherer: reg,
	}

	reg.MustRegister(c.scheduled, c.outcomes, c.sweeps, c.duration, c.lastDue)
	return c
}

func (c *Collector) OnSchedule(t vscheduler.Task) {
	c.scheduled.WithLabelValues(t.TargetType, t.MethodName).Inc()
}

func (c *Collector) OnSweep(s vscheduler.Sweep, d time.Duration) {
	switch {
	case !s.Admitted:
		c.sweeps.WithLabelValues("throttled").Inc()
	case !s.Acquired:
		c.sweeps.WithLabelValues("locked").Inc()
	default:
		c.sweeps.WithLabelValues("swept").Inc()
		c.duration.Observe(d.Seconds())
		c.lastDue.Set(float64(s.Due))
	}
}

func (c *Collector) OnDispatch(t vscheduler.Task, o vscheduler.Outcome) {
	c.outcomes.WithLabelValues(t.TargetType, t.MethodName, string(o)).Inc()
}

// Handler serves the registry the collector was registered on.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

var _ vscheduler.Measure = (*Collector)(nil)
