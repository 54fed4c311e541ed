package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the reconcile loop counters. A nil *Metrics records nothing.
type Metrics struct {
	deposits    *prometheus.CounterVec
	cycles      prometheus.Counter
	cycleErrors prometheus.Counter
	lastSuccess prometheus.Gauge
}

// NewMetrics registers the loop metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		deposits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "minter_deposits_total",
			Help: "Deposits examined, by outcome.",
		}, []string{"outcome"}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "minter_cycles_total",
			Help: "Reconcile cycles started.",
		}),
		cycleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "minter_cycle_errors_total",
			Help: "Reconcile cycles aborted because deposits could not be listed.",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "minter_last_cycle_success_timestamp_seconds",
			Help: "Unix time of the last cycle that listed deposits.",
		}),
	}
}

func (m *Metrics) observeOutcome(o Outcome) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) cycleStarted() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

func (m *Metrics) cycleFinished(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.cycleErrors.Inc()
		return
	}
	m.lastSuccess.SetToCurrentTime()
}
