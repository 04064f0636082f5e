package flaky

import (
	"fmt"
	"strings"
	"time"

	"flaketrace/internal/history"
)

const unknownBrowser = "unknown"

// environment builds the time-of-day, day-of-week and browser tables.
// The browser table is the share of recent failures per browser and is
// omitted when recent is empty.
func (s *Scorer) environment(runs []history.TestRun, recent []RecentFailure) *Patterns {
	p := &Patterns{
		TimeOfDay: make(map[string]float64),
		DayOfWeek: make(map[string]float64),
	}
	for hour, rate := range s.analyzer.BucketRates(runs, history.Hourly) {
		p.TimeOfDay[fmt.Sprintf("%02d:00", hour)] = rate
	}
	for day, rate := range s.analyzer.BucketRates(runs, history.Daily) {
		p.DayOfWeek[time.Weekday(day).String()] = rate
	}
	if len(recent) == 0 {
		return p
	}

	counts := make(map[string]int)
	for _, f := range recent {
		b := strings.ToLower(strings.TrimSpace(f.Browser))
		if b == "" {
			b = unknownBrowser
		}
		counts[b]++
	}
	p.Browser = make(map[string]float64, len(counts))
	for b, n := range counts {
		p.Browser[b] = float64(n) / float64(len(recent))
	}
	return p
}
