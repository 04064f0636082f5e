package history

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// runsOf builds one run per status, one hour apart, starting at base.
func runsOf(statuses ...Status) []TestRun {
	runs := make([]TestRun, len(statuses))
	for i, s := range statuses {
		runs[i] = TestRun{
			ID:        string(rune('a' + i%26)),
			Timestamp: base.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Status:    s,
			Duration:  100,
		}
	}
	return runs
}

func repeat(s Status, n int) []Status {
	out := make([]Status, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func alternating(n int) []Status {
	out := make([]Status, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = StatusPassed
		} else {
			out[i] = StatusFailed
		}
	}
	return out
}

func TestSorted_StableAndNonMutating(t *testing.T) {
	in := []TestRun{
		{ID: "late", Timestamp: 300},
		{ID: "tie-1", Timestamp: 100},
		{ID: "tie-2", Timestamp: 100},
		{ID: "bad", Timestamp: -50},
	}
	got := Sorted(in)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"bad", "tie-1", "tie-2", "late"}, ids); diff != "" {
		t.Errorf("Sorted order mismatch:\n%s", diff)
	}
	if in[0].ID != "late" {
		t.Error("Sorted mutated its input")
	}
}

func TestFailureRate(t *testing.T) {
	tests := []struct {
		name string
		runs []TestRun
		want float64
	}{
		{"empty", nil, 0},
		{"all passed", runsOf(repeat(StatusPassed, 4)...), 0},
		{"half", runsOf(alternating(10)...), 0.5},
		{"skipped counts in total", runsOf(StatusFailed, StatusSkipped, StatusSkipped, StatusPassed), 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureRate(tt.runs); got != tt.want {
				t.Errorf("FailureRate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyze_IsFlaky(t *testing.T) {
	a := NewAnalyzer(WithLocation(time.UTC))

	if got := a.Analyze(runsOf(alternating(10)...)); !got.IsFlaky {
		t.Error("10 alternating runs should be flaky")
	}
	if got := a.Analyze(runsOf(alternating(9)...)); got.IsFlaky {
		t.Error("fewer than 10 runs must never be flaky")
	}
	blocks := append(repeat(StatusPassed, 6), repeat(StatusFailed, 6)...)
	if got := a.Analyze(runsOf(blocks...)); got.IsFlaky {
		t.Errorf("block pattern has alternation %.2f and should not be flaky", AlternationRate(runsOf(blocks...)))
	}
}

func TestAnalyze_RecentDegradation(t *testing.T) {
	a := NewAnalyzer(WithLocation(time.UTC))

	degrading := append(repeat(StatusPassed, 10), repeat(StatusFailed, 10)...)
	if got := a.Analyze(runsOf(degrading...)); !got.RecentDegradation {
		t.Error("expected recent degradation for 10 passes followed by 10 failures")
	}
	short := append(repeat(StatusPassed, 9), repeat(StatusFailed, 10)...)
	if got := a.Analyze(runsOf(short...)); got.RecentDegradation {
		t.Error("fewer than 20 runs must not report degradation")
	}
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Trend
	}{
		{"too short", append(repeat(StatusPassed, 4), repeat(StatusFailed, 5)...), TrendStable},
		{"degrading", append(repeat(StatusPassed, 10), repeat(StatusFailed, 5)...), TrendDegrading},
		{"improving", append(repeat(StatusFailed, 10), repeat(StatusPassed, 5)...), TrendImproving},
		{"flat", alternating(30), TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrendOf(runsOf(tt.statuses...)); got != tt.want {
				t.Errorf("TrendOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsistencyScore(t *testing.T) {
	for rate, want := range map[float64]float64{0: 1, 1: 1, 0.5: 0, 0.25: 0.5} {
		if got := ConsistencyScore(rate); math.Abs(got-want) > 1e-9 {
			t.Errorf("ConsistencyScore(%v) = %v, want %v", rate, got, want)
		}
	}
}

func TestTimePatterns_HourlySurfaced(t *testing.T) {
	a := NewAnalyzer(WithLocation(time.UTC))
	// Ten distinct hours on the same day; even hours always fail.
	runs := runsOf(alternating(10)...)
	for i := range runs {
		if i%2 == 0 {
			runs[i].Status = StatusFailed
		} else {
			runs[i].Status = StatusPassed
		}
	}
	patterns := a.TimePatterns(runs)
	if len(patterns) != 1 {
		t.Fatalf("expected only the hourly pattern, got %+v", patterns)
	}
	p := patterns[0]
	if p.Granularity != Hourly {
		t.Errorf("Granularity = %q, want hourly", p.Granularity)
	}
	if p.Confidence <= PatternSurfaceThreshold || p.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0.6, 1]", p.Confidence)
	}
	if p.Buckets[0] != 1 || p.Buckets[1] != 0 {
		t.Errorf("unexpected buckets %v", p.Buckets)
	}
}

func runAt(t time.Time, s Status) TestRun {
	return TestRun{ID: t.Format("2006-01-02"), Timestamp: t.UnixMilli(), Status: s, Duration: 100}
}

func TestTimePatterns_Granularities(t *testing.T) {
	noon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) // a Monday

	// One run a day for two weeks; Sunday, Monday, Wednesday and Friday fail.
	var daily []TestRun
	for d := 0; d < 14; d++ {
		day := noon.AddDate(0, 0, d)
		s := StatusPassed
		switch day.Weekday() {
		case time.Sunday, time.Monday, time.Wednesday, time.Friday:
			s = StatusFailed
		}
		daily = append(daily, runAt(day, s))
	}

	// One run every Monday for ten ISO weeks; odd weeks fail.
	var weekly []TestRun
	for w := 0; w < 10; w++ {
		s := StatusPassed
		if w%2 == 0 {
			s = StatusFailed
		}
		weekly = append(weekly, runAt(noon.AddDate(0, 0, 7*w), s))
	}

	tests := []struct {
		name    string
		runs    []TestRun
		want    Granularity
		buckets map[int]float64
	}{
		{
			name:    "weekday",
			runs:    daily,
			want:    Daily,
			buckets: map[int]float64{0: 1, 1: 1, 2: 0, 3: 1, 4: 0, 5: 1, 6: 0},
		},
		{
			name:    "iso week",
			runs:    weekly,
			want:    Weekly,
			buckets: map[int]float64{1: 1, 2: 0, 3: 1, 4: 0, 5: 1, 6: 0, 7: 1, 8: 0, 9: 1, 10: 0},
		},
	}
	a := NewAnalyzer(WithLocation(time.UTC))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patterns := a.TimePatterns(tt.runs)
			if len(patterns) != 1 {
				t.Fatalf("expected only the %s pattern, got %+v", tt.want, patterns)
			}
			p := patterns[0]
			if p.Granularity != tt.want {
				t.Errorf("Granularity = %q, want %q", p.Granularity, tt.want)
			}
			if p.Confidence <= PatternSurfaceThreshold || p.Confidence > 1 {
				t.Errorf("Confidence = %v, want in (0.6, 1]", p.Confidence)
			}
			if diff := cmp.Diff(tt.buckets, p.Buckets); diff != "" {
				t.Errorf("buckets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBucketKey_ISOWeekAcrossYears(t *testing.T) {
	tests := []struct {
		day  time.Time
		want int
	}{
		{time.Date(2020, 12, 31, 12, 0, 0, 0, time.UTC), 53},
		{time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC), 53},
		{time.Date(2021, 1, 4, 12, 0, 0, 0, time.UTC), 1},
		{time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC), 52},
		{time.Date(2024, 12, 30, 12, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		t.Run(tt.day.Format("2006-01-02"), func(t *testing.T) {
			_, iso := tt.day.ISOWeek()
			got := bucketKey(tt.day, Weekly)
			if got != iso || got != tt.want {
				t.Errorf("bucketKey = %d, ISOWeek = %d, want %d", got, iso, tt.want)
			}
			if got := bucketKey(tt.day, Daily); got != int(tt.day.Weekday()) {
				t.Errorf("daily key = %d, want weekday %d", got, tt.day.Weekday())
			}
			if got := bucketKey(tt.day, Hourly); got != 12 {
				t.Errorf("hourly key = %d, want 12", got)
			}
		})
	}
}

func TestTimePatterns_UniformNotSurfaced(t *testing.T) {
	a := NewAnalyzer(WithLocation(time.UTC))
	if got := a.TimePatterns(runsOf(repeat(StatusPassed, 30)...)); len(got) != 0 {
		t.Errorf("expected no patterns for uniform history, got %+v", got)
	}
}

func TestLongestStreaks(t *testing.T) {
	runs := runsOf(StatusPassed, StatusPassed, StatusFailed, StatusFailed, StatusFailed, StatusSkipped, StatusPassed)
	got := LongestStreaks(runs)
	want := Streaks{LongestPass: 2, LongestFail: 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LongestStreaks mismatch:\n%s", diff)
	}
	if got.Longest() != 3 {
		t.Errorf("Longest = %d, want 3", got.Longest())
	}
}

func TestDurations(t *testing.T) {
	runs := runsOf(repeat(StatusPassed, 10)...)
	runs[9].Duration = 1000

	stats := Durations(runs)
	if math.Abs(stats.Mean-190) > 1e-9 {
		t.Errorf("Mean = %v, want 190", stats.Mean)
	}
	if math.Abs(stats.StdDev-270) > 1e-9 {
		t.Errorf("StdDev = %v, want 270", stats.StdDev)
	}
	if stats.Trend != DurationSlower {
		t.Errorf("Trend = %q, want slower", stats.Trend)
	}
	if len(stats.SlowRuns) != 1 || stats.SlowRuns[0].Duration != 1000 {
		t.Errorf("SlowRuns = %+v, want the single 1000ms run", stats.SlowRuns)
	}
}

func TestDurations_UntrustedInput(t *testing.T) {
	runs := []TestRun{
		{Timestamp: -1, Duration: -20},
		{Timestamp: 0, Duration: 0},
	}
	stats := Durations(runs)
	if stats.Mean != -10 {
		t.Errorf("Mean = %v, want -10 (raw values averaged)", stats.Mean)
	}
	if stats.Trend != DurationStable {
		t.Errorf("Trend = %q, want stable", stats.Trend)
	}
	if got := Durations(nil); got.Mean != 0 || got.SlowRuns != nil {
		t.Errorf("Durations(nil) = %+v, want zero value", got)
	}
}
