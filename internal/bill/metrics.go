package bill

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for bill processing
type Metrics struct {
	BillsIngested      prometheus.Counter
	Extractions        *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram
	ClaimToggles       *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BillsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "billsplitter",
			Name:      "bills_ingested_total",
			Help:      "Receipts uploaded and accepted for extraction.",
		}),
		Extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsplitter",
			Name:      "extractions_total",
			Help:      "Background extractions by result (ok, error, skipped).",
		}, []string{"result"}),
		ExtractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billsplitter",
			Name:      "extraction_duration_seconds",
			Help:      "Time from job start to settled or failed bill.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		ClaimToggles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsplitter",
			Name:      "claim_toggles_total",
			Help:      "Claim toggles by action (join, leave).",
		}, []string{"action"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsplitter",
			Name:      "notifications_total",
			Help:      "Bill-ready webhook deliveries by result (ok, error, skipped).",
		}, []string{"result"}),
	}
}
