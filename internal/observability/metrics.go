package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for the task loop. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	restarts      prometheus.Counter
	reauths       *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	scores        prometheus.Histogram
	totalPoints   prometheus.Gauge
	dailyPoints   prometheus.Gauge
	completed     prometheus.Gauge
	breakerState  *prometheus.GaugeVec
}

// NewMetrics registers collectors with reg. Tests should pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gata",
			Subsystem: "taskloop",
			Name:      "cycles_total",
			Help:      "Completed task-loop cycles by outcome.",
		}, []string{"outcome"}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gata",
			Subsystem: "taskloop",
			Name:      "restarts_total",
			Help:      "Cycles aborted by an unexpected error and restarted.",
		}),
		reauths: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gata",
			Subsystem: "taskloop",
			Name:      "reauthentications_total",
			Help:      "Session replacements after rejected credentials.",
		}, []string{"status"}),
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gata",
			Subsystem: "taskloop",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each loop phase, excluding deliberate sleeps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "status"}),
		scores: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gata",
			Subsystem: "scoring",
			Name:      "submitted_score",
			Help:      "Distribution of submitted plausibility scores.",
			Buckets:   prometheus.LinearBuckets(-0.9, 0.2, 10),
		}),
		totalPoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gata",
			Subsystem: "rewards",
			Name:      "total_points",
			Help:      "Total reward points reported by the service.",
		}),
		dailyPoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gata",
			Subsystem: "rewards",
			Name:      "daily_points",
			Help:      "Reward points earned today (UTC).",
		}),
		completed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gata",
			Subsystem: "rewards",
			Name:      "completed_tasks",
			Help:      "Completed task count reported by the service.",
		}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gata",
			Subsystem: "http",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per upstream host (0 closed, 1 open, 2 half-open).",
		}, []string{"host"}),
	}
}

// ObserveCycle counts a finished cycle.
func (m *Metrics) ObserveCycle(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

// IncRestart counts a full logical restart.
func (m *Metrics) IncRestart() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

// ObserveReauth counts a re-authentication attempt.
func (m *Metrics) ObserveReauth(err error) {
	if m == nil {
		return
	}
	m.reauths.WithLabelValues(statusLabel(err)).Inc()
}

// ObservePhase records how long a phase took.
func (m *Metrics) ObservePhase(phase string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, statusLabel(err)).Observe(d.Seconds())
}

// ObserveScore records a submitted score.
func (m *Metrics) ObserveScore(score float64) {
	if m == nil {
		return
	}
	m.scores.Observe(score)
}

// SetRewards mirrors the latest reward snapshot.
func (m *Metrics) SetRewards(total, daily, completed int64) {
	if m == nil {
		return
	}
	m.totalPoints.Set(float64(total))
	m.dailyPoints.Set(float64(daily))
	m.completed.Set(float64(completed))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// SetBreakerState mirrors a circuit breaker transition for host.
func (m *Metrics) SetBreakerState(host string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(host).Set(float64(state))
}
