// Package metrics holds the Prometheus collectors for the analysis engine.
//
// A nil *Recorder is valid and records nothing, so engine packages can take
// one unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flaketrace"

// Recorder owns one set of collectors.
type Recorder struct {
	flakinessScore      prometheus.Histogram
	rootCauseTotal      *prometheus.CounterVec
	fallbackTotal       *prometheus.CounterVec
	subanalysisFailures *prometheus.CounterVec
	gatewayRequests     *prometheus.CounterVec
	gatewayFailovers    *prometheus.CounterVec
	gatewayDuration     *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		flakinessScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flakiness_score",
			Help:      "Distribution of computed flakiness scores",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		rootCauseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rootcause_total",
			Help:      "Root-cause verdicts by category",
		}, []string{"category"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Explanations served by the deterministic fix table, by reason",
		}, []string{"reason"}),
		subanalysisFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subanalysis_failures_total",
			Help:      "Root-cause sub-analyses that failed and were scored as zero confidence",
		}, []string{"source"}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Generative assist requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		gatewayFailovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_failovers_total",
			Help:      "Calls answered by the local assistant after the primary provider failed",
		}, []string{"provider"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of generative assist requests in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(
			r.flakinessScore,
			r.rootCauseTotal,
			r.fallbackTotal,
			r.subanalysisFailures,
			r.gatewayRequests,
			r.gatewayFailovers,
			r.gatewayDuration,
		)
	}
	return r
}

// ObserveScore records one flakiness score.
func (r *Recorder) ObserveScore(score float64) {
	if r == nil {
		return
	}
	r.flakinessScore.Observe(score)
}

// CountRootCause records one root-cause verdict.
func (r *Recorder) CountRootCause(category string) {
	if r == nil {
		return
	}
	r.rootCauseTotal.WithLabelValues(category).Inc()
}

// CountFallback records one use of the deterministic explanation path.
func (r *Recorder) CountFallback(reason string) {
	if r == nil {
		return
	}
	r.fallbackTotal.WithLabelValues(reason).Inc()
}

// CountSubanalysisFailure records one failed sub-analysis.
func (r *Recorder) CountSubanalysisFailure(source string) {
	if r == nil {
		return
	}
	r.subanalysisFailures.WithLabelValues(source).Inc()
}

// CountFailover records one call the fallback answered because provider
// failed.
func (r *Recorder) CountFailover(provider string) {
	if r == nil {
		return
	}
	r.gatewayFailovers.WithLabelValues(provider).Inc()
}

// ObserveGatewayRequest records one provider call. outcome is "success" or "error".
func (r *Recorder) ObserveGatewayRequest(provider, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.gatewayRequests.WithLabelValues(provider, outcome).Inc()
	r.gatewayDuration.WithLabelValues(provider).Observe(d.Seconds())
}
