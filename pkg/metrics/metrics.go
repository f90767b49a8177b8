// Package metrics exports commissioning counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mash-protocol/commissioner/pkg/commissioning"
)

const (
	namespace = "commissioner"
)

// Recorder counts engine activity and commissionee exchanges. It implements
// commissioning.Recorder.
type Recorder struct {
	transitions *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	exchanges   *prometheus.HistogramVec
	state       *prometheus.GaugeVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of state transitions",
			},
			[]string{"from", "to"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events that caused no transition",
			},
			[]string{"state", "event"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of finished commissioning runs by end state",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of commissioning runs in seconds",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		exchanges: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exchange_duration_seconds",
				Help:      "Duration of commands sent to the commissionee in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command", "status"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Current engine state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		),
	}

	for _, c := range []prometheus.Collector{r.transitions, r.dropped, r.runs, r.runDuration, r.exchanges, r.state} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	for _, k := range commissioning.StateKinds() {
		r.state.WithLabelValues(k.String()).Set(0)
	}
	r.state.WithLabelValues(commissioning.KindIdle.String()).Set(1)

	return r, nil
}

// Transition counts a state change.
func (r *Recorder) Transition(from, to commissioning.StateKind) {
	r.transitions.WithLabelValues(from.String(), to.String()).Inc()
	r.state.WithLabelValues(from.String()).Set(0)
	r.state.WithLabelValues(to.String()).Set(1)
}

// Dropped counts an event that caused no transition.
func (r *Recorder) Dropped(state commissioning.StateKind, event commissioning.EventKind) {
	r.dropped.WithLabelValues(state.String(), event.String()).Inc()
}

// Completed counts a finished run. Runs ended by Shutdown are reported
// with the "shutdown" outcome.
func (r *Recorder) Completed(terminal commissioning.StateKind, elapsed time.Duration) {
	outcome := outcomeLabel(terminal)
	r.runs.WithLabelValues(outcome).Inc()
	r.runDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// Exchange records one command round trip with the commissionee.
func (r *Recorder) Exchange(command string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.exchanges.WithLabelValues(command, status).Observe(elapsed.Seconds())
}

func outcomeLabel(k commissioning.StateKind) string {
	switch k {
	case commissioning.KindCommissioningComplete:
		return "success"
	case commissioning.KindFailed:
		return "failure"
	case commissioning.KindIdle:
		return "shutdown"
	default:
		return "unknown"
	}
}
