package metrics

import (
	"strconv"
	"time"

	"github.com/notargets/gocurve/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the run counters of one advection run. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	steps         *prometheus.CounterVec
	handoffs      *prometheus.CounterVec
	messageBytes  *prometheus.CounterVec
	activeCurves  *prometheus.GaugeVec
	terminations  *prometheus.CounterVec
	rounds        prometheus.Counter
	roundDuration prometheus.Histogram
}

// New registers the counters on a fresh registry, so several runs in one
// process do not collide.
func New() (m *Metrics) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m = &Metrics{
		Registry: reg,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gocurve_steps_total",
			Help: "Accepted integration steps",
		}, []string{"rank"}),
		handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gocurve_handoffs_total",
			Help: "Curves sent to another rank",
		}, []string{"rank"}),
		messageBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gocurve_message_bytes_total",
			Help: "Encoded bytes sent in exchanges",
		}, []string{"rank"}),
		activeCurves: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gocurve_active_curves",
			Help: "Running curves held by a rank at the end of the last round",
		}, []string{"rank"}),
		terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gocurve_terminations_total",
			Help: "Merged curves by termination state",
		}, []string{"state"}),
		rounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "gocurve_rounds_total",
			Help: "Scheduler rounds",
		}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gocurve_round_duration_seconds",
			Help:    "Wall time of one scheduler round on rank 0",
			Buckets: prometheus.ExponentialBuckets(1.e-5, 4, 10),
		}),
	}
	return
}

func rankLabel(rank int) string { return strconv.Itoa(rank) }

func (m *Metrics) AddSteps(rank, n int) {
	if m != nil && n > 0 {
		m.steps.WithLabelValues(rankLabel(rank)).Add(float64(n))
	}
}

func (m *Metrics) AddHandoffs(rank, n int) {
	if m != nil && n > 0 {
		m.handoffs.WithLabelValues(rankLabel(rank)).Add(float64(n))
	}
}

func (m *Metrics) AddMessageBytes(rank, n int) {
	if m != nil && n > 0 {
		m.messageBytes.WithLabelValues(rankLabel(rank)).Add(float64(n))
	}
}

func (m *Metrics) SetActive(rank, n int) {
	if m != nil {
		m.activeCurves.WithLabelValues(rankLabel(rank)).Set(float64(n))
	}
}

func (m *Metrics) Terminated(state types.TerminationState) {
	if m != nil {
		m.terminations.WithLabelValues(state.String()).Inc()
	}
}

func (m *Metrics) Round(d time.Duration) {
	if m != nil {
		m.rounds.Inc()
		m.roundDuration.Observe(d.Seconds())
	}
}

// Value returns the current value of the counter or gauge name with the
// given label values, summed over every series that matches. It reads
// through the registry and is meant for reports and tests.
func (m *Metrics) Value(name string, labels map[string]string) (v float64) {
	if m == nil {
		return
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, mt := range fam.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			switch {
			case mt.GetCounter() != nil:
				v += mt.GetCounter().GetValue()
			case mt.GetGauge() != nil:
				v += mt.GetGauge().GetValue()
			case mt.GetHistogram() != nil:
				v += float64(mt.GetHistogram().GetSampleCount())
			}
		}
	}
	return
}
