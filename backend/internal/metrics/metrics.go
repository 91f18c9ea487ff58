// Package metrics holds the Prometheus collectors for the matching engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "circl/backend/pkg/errors"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	// storeLatency measures every graph store call.
	// Labels: operation, outcome (ok, not_found, timeout, error)
	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "circl",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Graph store operation latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation", "outcome"})

	// likes counts like transitions.
	// Labels: outcome (liked, matched, already_matched)
	likes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circl",
		Subsystem: "matching",
		Name:      "likes_total",
		Help:      "Likes recorded by resulting state",
	}, []string{"outcome"})

	// consistencyViolations counts detected half-written paired edges.
	// Labels: relationship
	consistencyViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circl",
		Subsystem: "store",
		Name:      "consistency_violations_total",
		Help:      "One-directional paired edges detected in the store",
	}, []string{"relationship"})

	// degreeResolutions counts per-candidate degree lookups.
	// Labels: source (resolved, fallback, self)
	degreeResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circl",
		Subsystem: "discovery",
		Name:      "degree_resolutions_total",
		Help:      "Candidate degree resolutions by source",
	}, []string{"source"})

	// candidatesReturned tracks result sizes after filtering.
	candidatesReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "circl",
		Subsystem: "discovery",
		Name:      "candidates_returned",
		Help:      "Candidates returned per discovery request",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	// degradedRequests counts discovery requests answered without the primary store.
	// Labels: reason (store_error, fallback)
	degradedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circl",
		Subsystem: "discovery",
		Name:      "degraded_requests_total",
		Help:      "Discovery requests served degraded",
	}, []string{"reason"})

	// cacheLookups counts candidate pool cache lookups.
	// Labels: result (hit, miss, error)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circl",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Candidate pool cache lookups",
	}, []string{"result"})
)

// Outcome classifies an error for the outcome label
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsNotFound(err):
		return "not_found"
	case apperrors.IsValidation(err):
		return "validation"
	case apperrors.IsConsistency(err):
		return "consistency"
	case apperrors.IsErrorType(err, apperrors.ErrorTypeContext):
		return "timeout"
	default:
		return "error"
	}
}

// ObserveStore records the latency and outcome of one store call
func ObserveStore(operation string, start time.Time, err error) {
	storeLatency.WithLabelValues(operation, Outcome(err)).Observe(time.Since(start).Seconds())
}

// LikeRecorded counts a like by resulting state
func LikeRecorded(outcome string) {
	likes.WithLabelValues(outcome).Inc()
}

// ConsistencyViolation counts a detected half-written edge pair
func ConsistencyViolation(relationship string) {
	consistencyViolations.WithLabelValues(relationship).Inc()
}

// DegreeResolved counts one candidate degree resolution
func DegreeResolved(source string) {
	degreeResolutions.WithLabelValues(source).Inc()
}

// CandidatesReturned records the size of a discovery result
func CandidatesReturned(n int) {
	candidatesReturned.Observe(float64(n))
}

// Degraded counts a discovery request served without the primary store
func Degraded(reason string) {
	degradedRequests.WithLabelValues(reason).Inc()
}

// CacheLookup counts a candidate cache lookup
func CacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}
