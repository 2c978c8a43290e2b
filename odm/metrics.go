package odm

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Commit results recorded by Metrics.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultNoop    = "noop"
)

// Metrics exposes Prometheus collectors for commits. A nil *Metrics is a no-op.
type Metrics struct {
	commits    *prometheus.CounterVec
	statements prometheus.Histogram
	duration   prometheus.Histogram
}

// NewMetrics creates the commit collectors and registers them with reg.
// Collectors already registered by another session are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "commits_total",
			Help:      "Unit-of-work commits by result.",
		}, []string{"result"}),
		statements: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lattice",
			Name:      "batch_statements",
			Help:      "Statements per submitted batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lattice",
			Name:      "commit_duration_seconds",
			Help:      "Commit latency including batch submission.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.commits, err = register(reg, m.commits); err != nil {
		return nil, err
	}
	if m.statements, err = register(reg, m.statements); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeCommit(result string, statements int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
	if statements > 0 {
		m.statements.Observe(float64(statements))
	}
	m.duration.Observe(elapsed.Seconds())
}
