package search

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports loop counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	evaluations  prometheus.Counter
	actions      prometheus.Counter
	discards     prometheus.Counter
	improvements prometheus.Counter
	flaky        prometheus.Counter
	covered      prometheus.Gauge
	targets      prometheus.Gauge
	evalSeconds  prometheus.Histogram
}

// NewMetrics registers the search collectors on reg. Labels are attached as
// constant labels, e.g. the service name. Collectors already registered with
// the same labels are reused, so repeated runs accumulate.
func NewMetrics(reg prometheus.Registerer, labels prometheus.Labels) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("registerer is required")
	}
	var err error
	m := &Metrics{}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels})
		if err == nil {
			c, err = register(reg, c)
		}
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels})
		if err == nil {
			g, err = register(reg, g)
		}
		return g
	}
	m.evaluations = counter("mioforge_evaluations_total", "Individuals evaluated.")
	m.actions = counter("mioforge_actions_total", "Actions executed against the SUT.")
	m.discards = counter("mioforge_discards_total", "Evaluations discarded because the SUT was unreachable.")
	m.improvements = counter("mioforge_archive_improvements_total", "Evaluations that improved at least one target.")
	m.flaky = counter("mioforge_flaky_results_total", "Re-evaluations that disagreed with the first run.")
	m.covered = gauge("mioforge_targets_covered", "Targets with an elite scoring 1.")
	m.targets = gauge("mioforge_targets_known", "Targets known to the archive.")
	m.evalSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "mioforge_evaluation_seconds", Help: "Wall time per evaluation.", ConstLabels: labels,
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	if err == nil {
		m.evalSeconds, err = register(reg, m.evalSeconds)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeEvaluation(actions int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.Inc()
	m.actions.Add(float64(actions))
	m.evalSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) observeActions(actions int) {
	if m == nil {
		return
	}
	m.actions.Add(float64(actions))
}

func (m *Metrics) observeDiscard() {
	if m == nil {
		return
	}
	m.discards.Inc()
}

func (m *Metrics) observeArchive(improved bool, covered, known int) {
	if m == nil {
		return
	}
	if improved {
		m.improvements.Inc()
	}
	m.covered.Set(float64(covered))
	m.targets.Set(float64(known))
}

func (m *Metrics) observeFlaky() {
	if m == nil {
		return
	}
	m.flaky.Inc()
}
