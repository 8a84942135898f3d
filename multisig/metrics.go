package multisig

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts proposal transitions and broadcasts.
type Metrics struct {
	Proposals  *prometheus.CounterVec
	Broadcasts *prometheus.CounterVec
}

// NewMetrics returns the orchestrator metrics registered on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avocado",
			Subsystem: "multisig",
			Name:      "proposals_total",
			Help:      "Proposals observed by the orchestrator, by state.",
		}, []string{"state"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avocado",
			Subsystem: "multisig",
			Name:      "broadcasts_total",
			Help:      "Broadcast attempts, by result.",
		}, []string{"result"}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.Proposals, m.Broadcasts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) proposal(s State) {
	m.Proposals.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) broadcast(result string) {
	m.Broadcasts.WithLabelValues(result).Inc()
}
