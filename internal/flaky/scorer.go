package flaky

import (
	"log/slog"
	"math"
	"time"

	"flaketrace/internal/history"
	"flaketrace/internal/logging"
	"flaketrace/internal/metrics"
)

// DefaultMinRuns is the history length below which Score returns the
// insufficient-data result.
const DefaultMinRuns = 5

const (
	insufficientConfidence = 0.1
	fullConfidenceRuns     = 50.0

	strongBandLow, strongBandHigh = 0.1, 0.9
	weakBandLow, weakBandHigh     = 0.05, 0.95
	streakLow, streakHigh         = 2, 10
)

// Weights are the additive contributions to the score. The defaults are the
// reference calibration; they are heuristic and may be retuned.
type Weights struct {
	StrongBand     float64 `json:"strong_band" yaml:"strong_band"`
	WeakBand       float64 `json:"weak_band" yaml:"weak_band"`
	Inconsistency  float64 `json:"inconsistency" yaml:"inconsistency"`
	ModerateStreak float64 `json:"moderate_streak" yaml:"moderate_streak"`
	TimePattern    float64 `json:"time_pattern" yaml:"time_pattern"`
}

// DefaultWeights returns the reference weights.
func DefaultWeights() Weights {
	return Weights{
		StrongBand:     0.4,
		WeakBand:       0.2,
		Inconsistency:  0.3,
		ModerateStreak: 0.2,
		TimePattern:    0.1,
	}
}

// Scorer computes flakiness analyses. It holds configuration only and is
// safe for concurrent use.
type Scorer struct {
	analyzer *history.Analyzer
	loc      *time.Location
	weights  Weights
	minRuns  int
	workers  int
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWeights overrides the score contributions.
func WithWeights(w Weights) Option { return func(s *Scorer) { s.weights = w } }

// WithMinRuns sets the insufficient-data threshold.
func WithMinRuns(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.minRuns = n
		}
	}
}

// WithWorkers bounds batch parallelism.
func WithWorkers(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLocation sets the time zone for time-of-day and weekday tables.
func WithLocation(loc *time.Location) Option {
	return func(s *Scorer) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scorer) { s.logger = l } }

// WithRecorder records score observations.
func WithRecorder(r *metrics.Recorder) Option { return func(s *Scorer) { s.recorder = r } }

// NewScorer returns a Scorer with the reference weights unless overridden.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		loc:     time.Local,
		weights: DefaultWeights(),
		minRuns: DefaultMinRuns,
		workers: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New("flaky")
	}
	s.analyzer = history.NewAnalyzer(history.WithLocation(s.loc))
	return s
}

// Score analyzes one test. recent may be nil.
func (s *Scorer) Score(testID, testName string, runs []history.TestRun, recent []RecentFailure) Analysis {
	out := Analysis{
		TestID:         testID,
		TestName:       testName,
		HistoricalData: Historical(runs),
	}
	if len(runs) < s.minRuns {
		out.Flakiness = Flakiness{Score: 0, Confidence: insufficientConfidence, Trend: history.TrendStable}
		out.Recommendation = Recommendation{
			Action:   ActionMonitor,
			Priority: PriorityLow,
			Reason:   "insufficient data",
		}
		s.recorder.ObserveScore(0)
		s.logger.Debug("insufficient history", "test_id", testID, "runs", len(runs), "min_runs", s.minRuns)
		return out
	}

	pa := s.analyzer.Analyze(runs)
	score := s.weights.score(pa, history.LongestStreaks(runs))
	out.Flakiness = Flakiness{
		Score:      score,
		Confidence: confidence(len(runs), pa.TimeBasedPatterns),
		Trend:      pa.Trend,
	}
	out.Patterns = s.environment(runs, recent)
	out.Recommendation = Recommend(score, pa)

	s.recorder.ObserveScore(score)
	s.logger.Debug("scored test",
		"test_id", testID, "runs", len(runs), "score", score, "action", out.Recommendation.Action)
	return out
}

func (w Weights) score(pa history.PatternAnalysis, streaks history.Streaks) float64 {
	var sum float64
	switch fr := pa.FailureRate; {
	case fr > strongBandLow && fr < strongBandHigh:
		sum += w.StrongBand
	case fr > weakBandLow && fr < weakBandHigh:
		sum += w.WeakBand
	}
	sum += (1 - pa.ConsistencyScore) * w.Inconsistency
	if l := streaks.Longest(); l > streakLow && l < streakHigh {
		sum += w.ModerateStreak
	}
	sum += averageConfidence(pa.TimeBasedPatterns) * w.TimePattern
	return clamp01(math.Min(sum, 1))
}

func averageConfidence(ps []history.TimePattern) float64 {
	if len(ps) == 0 {
		return 0
	}
	var sum float64
	for _, p := range ps {
		sum += p.Confidence
	}
	return sum / float64(len(ps))
}

// confidence grows with history length and is raised to the strongest
// surfaced time pattern.
func confidence(runs int, ps []history.TimePattern) float64 {
	c := math.Min(float64(runs)/fullConfidenceRuns, 1)
	for _, p := range ps {
		c = math.Max(c, p.Confidence)
	}
	return clamp01(c)
}

// Recommend maps a score to an action. Thresholds are strict and evaluated
// from high to low.
func Recommend(score float64, pa history.PatternAnalysis) Recommendation {
	var r Recommendation
	switch {
	case score > 0.8:
		r = Recommendation{ActionQuarantine, PriorityCritical, "highly flaky, quarantine until fixed"}
	case score > 0.6:
		r = Recommendation{ActionFix, PriorityHigh, "frequently flaky, fix soon"}
	case score > 0.4:
		r = Recommendation{ActionInvestigate, PriorityMedium, "moderately flaky, investigate the failure pattern"}
	case score > 0.2:
		r = Recommendation{ActionMonitor, PriorityLow, "slightly flaky, keep monitoring"}
	default:
		r = Recommendation{ActionMonitor, PriorityLow, "test appears stable"}
	}
	if pa.RecentDegradation {
		r.Reason += "; recent degradation detected"
	}
	if len(pa.TimeBasedPatterns) > 0 {
		r.Reason += "; time-based failure patterns detected"
	}
	return r
}

// Historical summarizes raw runs without pattern analysis.
func Historical(runs []history.TestRun) HistoricalData {
	h := HistoricalData{TotalRuns: len(runs), SuccessRate: 1}
	if len(runs) == 0 {
		return h
	}
	var total float64
	for _, r := range runs {
		total += r.Duration
		if r.Status != history.StatusFailed {
			continue
		}
		h.Failures++
		if h.LastFailureTimestamp == nil || r.Timestamp > *h.LastFailureTimestamp {
			ts := r.Timestamp
			h.LastFailureTimestamp = &ts
		}
	}
	h.AverageDuration = total / float64(len(runs))
	h.SuccessRate = 1 - float64(h.Failures)/float64(len(runs))
	return h
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
