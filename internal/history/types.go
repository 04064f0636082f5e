// Package history analyzes ordered test execution histories: failure rate,
// alternation, streaks, time-bucketed failure tables, trend and durations.
//
// Every function is pure. Inputs are never mutated; sorting happens on a copy.
package history

import "time"

// Status is the outcome of one test execution.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// TestRun is one execution record. Timestamp is epoch milliseconds and
// Duration is milliseconds; both are untrusted.
type TestRun struct {
	ID        string  `json:"id" yaml:"id"`
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Status    Status  `json:"status" yaml:"status"`
	Duration  float64 `json:"duration" yaml:"duration"`
	Error     string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Time returns the run timestamp in loc.
func (r TestRun) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(r.Timestamp).In(loc)
}

// Trend labels the direction of the failure rate over time.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// Granularity is the bucketing dimension of a time-based pattern.
type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
	Weekly Granularity = "weekly"
)

// TimePattern is a bucket -> failure rate table for one granularity.
// Bucket keys are hour of day (0-23), weekday (0=Sunday) or ISO week number.
type TimePattern struct {
	Granularity Granularity     `json:"granularity"`
	Buckets     map[int]float64 `json:"buckets"`
	Confidence  float64         `json:"confidence"`
}

// PatternAnalysis is the derived view of one run history.
type PatternAnalysis struct {
	IsFlaky           bool          `json:"is_flaky"`
	FailureRate       float64       `json:"failure_rate"`
	RecentDegradation bool          `json:"recent_degradation"`
	TimeBasedPatterns []TimePattern `json:"time_based_patterns"`
	ConsistencyScore  float64       `json:"consistency_score"`
	Trend             Trend         `json:"trend"`
}

// Streaks holds the longest runs of consecutive passes and failures.
type Streaks struct {
	LongestPass int `json:"longest_pass"`
	LongestFail int `json:"longest_fail"`
}

// Longest returns the larger of the two streaks.
func (s Streaks) Longest() int {
	if s.LongestFail > s.LongestPass {
		return s.LongestFail
	}
	return s.LongestPass
}

// DurationTrend labels the direction of execution time.
type DurationTrend string

const (
	DurationFaster DurationTrend = "faster"
	DurationStable DurationTrend = "stable"
	DurationSlower DurationTrend = "slower"
)

// DurationStats summarizes execution durations of a history.
type DurationStats struct {
	Mean     float64       `json:"mean"`
	Variance float64       `json:"variance"`
	StdDev   float64       `json:"std_dev"`
	Trend    DurationTrend `json:"trend"`
	SlowRuns []TestRun     `json:"slow_runs,omitempty"`
}
