package history

import (
	"math"
	"slices"
	"time"
)

const (
	minRunsForFlaky       = 10
	minRunsForDegradation = 20
	minRunsForTrend       = 10
	recentWindow          = 10
	trendWindowMax        = 10

	alternationThreshold = 0.3
	flakyRateLow         = 0.1
	flakyRateHigh        = 0.9
	degradationDelta     = 0.2
	trendDelta           = 0.1

	// PatternSurfaceThreshold is the confidence a time-based pattern needs
	// before Analyze reports it.
	PatternSurfaceThreshold = 0.6
	patternBucketSaturation = 10.0
	maxRateVariance         = 0.25
)

// Analyzer computes PatternAnalysis values. The zero value buckets in
// time.Local.
type Analyzer struct {
	loc *time.Location
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLocation sets the time zone used for hour, weekday and week buckets.
func WithLocation(loc *time.Location) Option {
	return func(a *Analyzer) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// NewAnalyzer returns an Analyzer configured by opts.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{loc: time.Local}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) location() *time.Location {
	if a == nil || a.loc == nil {
		return time.Local
	}
	return a.loc
}

// Analyze sorts runs by timestamp and derives the full pattern analysis.
func (a *Analyzer) Analyze(runs []TestRun) PatternAnalysis {
	sorted := Sorted(runs)
	rate := FailureRate(sorted)
	return PatternAnalysis{
		IsFlaky:           isFlaky(sorted, rate),
		FailureRate:       rate,
		RecentDegradation: recentDegradation(sorted),
		TimeBasedPatterns: a.TimePatterns(sorted),
		ConsistencyScore:  ConsistencyScore(rate),
		Trend:             TrendOf(sorted),
	}
}

// Sorted returns a copy of runs ordered by ascending timestamp. Ties keep
// their input order.
func Sorted(runs []TestRun) []TestRun {
	out := slices.Clone(runs)
	slices.SortStableFunc(out, func(x, y TestRun) int {
		switch {
		case x.Timestamp < y.Timestamp:
			return -1
		case x.Timestamp > y.Timestamp:
			return 1
		}
		return 0
	})
	return out
}

// CountStatus returns how many runs have status s.
func CountStatus(runs []TestRun, s Status) int {
	n := 0
	for _, r := range runs {
		if r.Status == s {
			n++
		}
	}
	return n
}

// FailureRate is failed/total, 0 for an empty history.
func FailureRate(runs []TestRun) float64 {
	if len(runs) == 0 {
		return 0
	}
	return float64(CountStatus(runs, StatusFailed)) / float64(len(runs))
}

// AlternationRate is the share of adjacent pairs whose status differs.
// runs must already be sorted.
func AlternationRate(runs []TestRun) float64 {
	if len(runs) < 2 {
		return 0
	}
	changes := 0
	for i := 1; i < len(runs); i++ {
		if runs[i].Status != runs[i-1].Status {
			changes++
		}
	}
	return float64(changes) / float64(len(runs)-1)
}

// ConsistencyScore is 1 for a test that always passes or always fails and 0
// for one that fails half the time.
func ConsistencyScore(failureRate float64) float64 {
	return clamp01(2 * math.Abs(failureRate-0.5))
}

func isFlaky(sorted []TestRun, rate float64) bool {
	if len(sorted) < minRunsForFlaky {
		return false
	}
	return AlternationRate(sorted) > alternationThreshold && rate > flakyRateLow && rate < flakyRateHigh
}

func recentDegradation(sorted []TestRun) bool {
	if len(sorted) < minRunsForDegradation {
		return false
	}
	split := len(sorted) - recentWindow
	recent := FailureRate(sorted[split:])
	older := FailureRate(sorted[:split])
	return recent-older > degradationDelta
}

// TrendOf compares the failure rate of the last window with the first.
// runs must already be sorted. Fewer than ten runs is always stable.
func TrendOf(runs []TestRun) Trend {
	n := len(runs)
	if n < minRunsForTrend {
		return TrendStable
	}
	window := min(trendWindowMax, n/3)
	older := FailureRate(runs[:window])
	recent := FailureRate(runs[n-window:])
	switch diff := recent - older; {
	case diff > trendDelta:
		return TrendDegrading
	case diff < -trendDelta:
		return TrendImproving
	}
	return TrendStable
}

// BucketRates returns the per-bucket failure rate for granularity g.
func (a *Analyzer) BucketRates(runs []TestRun, g Granularity) map[int]float64 {
	loc := a.location()
	total := make(map[int]int)
	failed := make(map[int]int)
	for _, r := range runs {
		key := bucketKey(r.Time(loc), g)
		total[key]++
		if r.Status == StatusFailed {
			failed[key]++
		}
	}
	rates := make(map[int]float64, len(total))
	for key, n := range total {
		rates[key] = float64(failed[key]) / float64(n)
	}
	return rates
}

func bucketKey(t time.Time, g Granularity) int {
	switch g {
	case Hourly:
		return t.Hour()
	case Daily:
		return int(t.Weekday())
	default:
		_, week := t.ISOWeek()
		return week
	}
}

// TimePatterns returns the hourly, daily and weekly tables whose confidence
// exceeds PatternSurfaceThreshold.
func (a *Analyzer) TimePatterns(runs []TestRun) []TimePattern {
	var out []TimePattern
	for _, g := range []Granularity{Hourly, Daily, Weekly} {
		p := a.Pattern(runs, g)
		if p.Confidence > PatternSurfaceThreshold {
			out = append(out, p)
		}
	}
	return out
}

// Pattern computes one table regardless of its confidence.
func (a *Analyzer) Pattern(runs []TestRun, g Granularity) TimePattern {
	rates := a.BucketRates(runs, g)
	return TimePattern{
		Granularity: g,
		Buckets:     rates,
		Confidence:  patternConfidence(rates),
	}
}

// patternConfidence is the normalized variance of the bucket rates scaled
// by how many buckets were observed.
func patternConfidence(rates map[int]float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	values := make([]float64, 0, len(rates))
	for _, v := range rates {
		values = append(values, v)
	}
	_, variance := meanVariance(values)
	coverage := math.Min(float64(len(rates))/patternBucketSaturation, 1)
	return clamp01(math.Min(variance/maxRateVariance, 1) * coverage)
}

// LongestStreaks sorts runs and returns the longest pass and fail streaks.
// A skipped run breaks both.
func LongestStreaks(runs []TestRun) Streaks {
	var s Streaks
	var cur int
	var prev Status
	for i, r := range Sorted(runs) {
		if i > 0 && r.Status == prev {
			cur++
		} else {
			cur = 1
		}
		prev = r.Status
		switch r.Status {
		case StatusPassed:
			s.LongestPass = max(s.LongestPass, cur)
		case StatusFailed:
			s.LongestFail = max(s.LongestFail, cur)
		}
	}
	return s
}

// Durations computes mean, variance, trend and slow runs (beyond mean+2σ).
// Non-positive durations are averaged as given.
func Durations(runs []TestRun) DurationStats {
	sorted := Sorted(runs)
	values := make([]float64, len(sorted))
	for i, r := range sorted {
		values[i] = r.Duration
	}
	mean, variance := meanVariance(values)
	stats := DurationStats{
		Mean:     mean,
		Variance: variance,
		StdDev:   math.Sqrt(variance),
		Trend:    durationTrend(values),
	}
	if stats.StdDev > 0 {
		limit := mean + 2*stats.StdDev
		for _, r := range sorted {
			if r.Duration > limit {
				stats.SlowRuns = append(stats.SlowRuns, r)
			}
		}
	}
	return stats
}

func durationTrend(values []float64) DurationTrend {
	n := len(values)
	if n < 6 {
		return DurationStable
	}
	window := n / 3
	older, _ := meanVariance(values[:window])
	recent, _ := meanVariance(values[n-window:])
	if older <= 0 {
		return DurationStable
	}
	switch ratio := recent / older; {
	case ratio > 1.2:
		return DurationSlower
	case ratio < 0.8:
		return DurationFaster
	}
	return DurationStable
}

func meanVariance(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, variance
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
