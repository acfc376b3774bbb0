package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sop_evaluation_duration_seconds",
			Help:    "Sequence evaluation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_evaluations_total",
			Help: "Total number of sequence evaluations",
		},
		[]string{"status"},
	)

	ObservationsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sop_observations_evaluated_total",
			Help: "Total observations evaluated",
		},
	)

	DeviationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_deviations_total",
			Help: "Total deviations flagged, by severity",
		},
		[]string{"severity"},
	)

	ComplianceViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_compliance_violations_total",
			Help: "Total tool and safety equipment violations",
		},
		[]string{"kind"},
	)

	SimilarityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sop_similarity_score",
			Help:    "Similarity of observations to their matched SOP step",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ComplianceRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sop_last_compliance_rate",
			Help: "Compliance rate of the most recent evaluation per stored SOP (inline SOPs share one label)",
		},
		[]string{"sop"},
	)

	EmbeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_embedding_requests_total",
			Help: "Total embedding API requests",
		},
		[]string{"model", "status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_embedding_cache_hits_total",
			Help: "Total embedding cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_embedding_cache_misses_total",
			Help: "Total embedding cache misses",
		},
		[]string{"cache_type"},
	)

	SOPsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sop_library_size",
			Help: "Number of SOPs in the library",
		},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(EvaluationDuration)
		prometheus.MustRegister(EvaluationsTotal)
		prometheus.MustRegister(ObservationsEvaluated)
		prometheus.MustRegister(DeviationsTotal)
		prometheus.MustRegister(ComplianceViolations)
		prometheus.MustRegister(SimilarityScore)
		prometheus.MustRegister(ComplianceRate)
		prometheus.MustRegister(EmbeddingRequests)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(SOPsStored)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
