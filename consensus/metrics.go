package consensus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "consensus"

// Metrics are the prometheus collectors exported by the consensus core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	dagSize               prometheus.Gauge
	lastCommittedRound    prometheus.Gauge
	commitLatency         prometheus.Histogram
	recoveredState        prometheus.Counter
	committedCertificates prometheus.Counter
}

// NewMetrics creates the collectors and registers them.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dagSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dag_size",
			Help:      "Number of certificates held in the consensus DAG, sampled periodically",
		}),
		lastCommittedRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_committed_round",
			Help:      "Highest round committed by consensus",
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "certificate_commit_latency_seconds",
			Help:      "Time between the creation of a certificate and its commit",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}),
		recoveredState: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_consensus_state",
			Help:      "Number of times the consensus state was rebuilt from storage",
		}),
		committedCertificates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_certificates_total",
			Help:      "Number of certificates sequenced by consensus",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.dagSize, m.lastCommittedRound, m.commitLatency, m.recoveredState, m.committedCertificates,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) setDagSize(n int) {
	if m == nil {
		return
	}
	m.dagSize.Set(float64(n))
}

func (m *Metrics) setLastCommittedRound(round uint64) {
	if m == nil {
		return
	}
	m.lastCommittedRound.Set(float64(round))
}

func (m *Metrics) observeCommitLatency(createdAt int64) {
	if m == nil || createdAt <= 0 {
		return
	}
	m.commitLatency.Observe(time.Since(time.Unix(0, createdAt)).Seconds())
}

func (m *Metrics) incRecovered() {
	if m == nil {
		return
	}
	m.recoveredState.Inc()
}

func (m *Metrics) addCommitted(n int) {
	if m == nil {
		return
	}
	m.committedCertificates.Add(float64(n))
}
