// Package flaky scores how flaky a test is from its run history and maps the
// score to a recommendation. Scoring is pure; batch scoring fans out over a
// bounded worker group and returns results ranked by score.
package flaky

import "flaketrace/internal/history"

// Action is the recommended response to a flakiness score.
type Action string

const (
	ActionQuarantine  Action = "quarantine"
	ActionFix         Action = "fix"
	ActionInvestigate Action = "investigate"
	ActionMonitor     Action = "monitor"
)

// Priority orders recommendations.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Flakiness is the bounded score with its confidence and trend.
type Flakiness struct {
	Score      float64       `json:"score"`
	Confidence float64       `json:"confidence"`
	Trend      history.Trend `json:"trend"`
}

// Patterns are per-dimension failure-rate tables attached for inspection.
// They do not feed the score beyond the time-pattern contribution.
type Patterns struct {
	TimeOfDay map[string]float64 `json:"time_of_day,omitempty"`
	DayOfWeek map[string]float64 `json:"day_of_week,omitempty"`
	Browser   map[string]float64 `json:"browser,omitempty"`
}

// Recommendation is what to do about the test.
type Recommendation struct {
	Action   Action   `json:"action"`
	Priority Priority `json:"priority"`
	Reason   string   `json:"reason"`
}

// HistoricalData is computed directly from the raw runs.
type HistoricalData struct {
	TotalRuns            int     `json:"total_runs"`
	Failures             int     `json:"failures"`
	SuccessRate          float64 `json:"success_rate"`
	AverageDuration      float64 `json:"average_duration"`
	LastFailureTimestamp *int64  `json:"last_failure_timestamp,omitempty"`
}

// Analysis is the scored result for one test.
type Analysis struct {
	TestID         string         `json:"test_id"`
	TestName       string         `json:"test_name"`
	Flakiness      Flakiness      `json:"flakiness"`
	Patterns       *Patterns      `json:"patterns,omitempty"`
	Recommendation Recommendation `json:"recommendation"`
	HistoricalData HistoricalData `json:"historical_data"`
}

// RecentFailure is one recent failed execution with its browser, used for
// the per-browser table.
type RecentFailure struct {
	RunID     string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
	Browser   string `json:"browser" yaml:"browser"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Input is one test of a batch.
type Input struct {
	TestID         string            `json:"test_id" yaml:"test_id"`
	TestName       string            `json:"test_name" yaml:"test_name"`
	Runs           []history.TestRun `json:"runs" yaml:"runs"`
	RecentFailures []RecentFailure   `json:"recent_failures,omitempty" yaml:"recent_failures,omitempty"`
}

// Summary aggregates a batch.
type Summary struct {
	TotalTests      int            `json:"total_tests"`
	FlakyTests      int            `json:"flaky_tests"`
	CriticallyFlaky int            `json:"critically_flaky"`
	AverageScore    float64        `json:"average_score"`
	Actions         map[Action]int `json:"actions"`
}
