package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SequencesGauge tracks live sequences across all stores.
	SequencesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatindex",
			Subsystem: "index",
			Name:      "sequences",
			Help:      "Number of sequences held in memory",
		},
	)

	// SegmentsGauge tracks live segments across all stores.
	SegmentsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatindex",
			Subsystem: "index",
			Name:      "segments",
			Help:      "Number of segments held in memory",
		},
	)

	// MutationsTotal counts committed mutations.
	// Labels: op (add, apply, upsert, remove, reset)
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatindex",
			Subsystem: "index",
			Name:      "mutations_total",
			Help:      "Total number of committed index mutations",
		},
		[]string{"op"},
	)
)

func recordSizes(sequences, segments int) {
	SequencesGauge.Add(float64(sequences))
	SegmentsGauge.Add(float64(segments))
}
