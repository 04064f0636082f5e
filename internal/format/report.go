package format

import (
	"fmt"
	"strings"

	"flaketrace/internal/display"
	"flaketrace/internal/flaky"
	"flaketrace/internal/history"
	"flaketrace/internal/rootcause"
)

// FlakyTable renders one row per analysed test in the given order.
func FlakyTable(m Mode, results []flaky.Analysis) string {
	tb := NewTable(m)
	tb.Title("Flakiness")
	tb.Header("Test", "Score", "Confidence", "Trend", "Runs", "Failures", "Success", "Action", "Priority")
	for _, r := range results {
		name := r.TestName
		if name == "" {
			name = r.TestID
		}
		tb.Row(
			Truncate(name, 48),
			FmtScore(r.Flakiness.Score),
			FmtScore(r.Flakiness.Confidence),
			display.Trend(string(r.Flakiness.Trend)),
			r.HistoricalData.TotalRuns,
			r.HistoricalData.Failures,
			FmtPercent(r.HistoricalData.SuccessRate),
			display.Action(string(r.Recommendation.Action)),
			display.Priority(string(r.Recommendation.Priority)),
		)
	}
	tb.Columns(
		ColumnConfig{Number: 2, Align: AlignRight},
		ColumnConfig{Number: 3, Align: AlignRight},
		ColumnConfig{Number: 5, Align: AlignRight},
		ColumnConfig{Number: 6, Align: AlignRight},
		ColumnConfig{Number: 7, Align: AlignRight},
	)
	return tb.String()
}

// SummaryTable renders batch totals and the action breakdown.
func SummaryTable(m Mode, s flaky.Summary) string {
	tb := NewTable(m)
	tb.Title("Summary")
	tb.Header("Metric", "Value")
	tb.Row("Tests analysed", s.TotalTests)
	tb.Row("Flaky (score > 0.2)", s.FlakyTests)
	tb.Row("Critically flaky (score > 0.8)", s.CriticallyFlaky)
	tb.Row("Average score", FmtScore(s.AverageScore))
	for _, a := range []flaky.Action{flaky.ActionQuarantine, flaky.ActionFix, flaky.ActionInvestigate, flaky.ActionMonitor} {
		tb.Row("Action: "+display.Action(string(a)), s.Actions[a])
	}
	tb.Columns(ColumnConfig{Number: 2, Align: AlignRight})
	return tb.String()
}

// DurationRow pairs a test with its duration statistics.
type DurationRow struct {
	TestName string
	Stats    history.DurationStats
}

// DurationTable renders mean, spread, trend and slow-run counts.
func DurationTable(m Mode, rows []DurationRow) string {
	tb := NewTable(m)
	tb.Title("Durations")
	tb.Header("Test", "Mean", "Std dev", "Trend", "Slow runs")
	for _, r := range rows {
		tb.Row(
			Truncate(r.TestName, 48),
			FmtMillis(r.Stats.Mean),
			FmtMillis(r.Stats.StdDev),
			display.Trend(string(r.Stats.Trend)),
			len(r.Stats.SlowRuns),
		)
	}
	tb.Columns(
		ColumnConfig{Number: 2, Align: AlignRight},
		ColumnConfig{Number: 3, Align: AlignRight},
		ColumnConfig{Number: 5, Align: AlignRight},
	)
	return tb.String()
}

// RootCauseReport renders the fused verdict followed by per-source findings
// and any environmental factors.
func RootCauseReport(m Mode, a rootcause.Analysis) string {
	var sb strings.Builder
	category := display.CategoryWithCode(string(a.Category))
	priority := display.Priority(string(a.SuggestedFix.Priority))

	if m == Markdown {
		fmt.Fprintf(&sb, "## Root cause: %s\n\n", category)
		fmt.Fprintf(&sb, "- **Failure:** %s\n", orDash(a.FailureID))
		fmt.Fprintf(&sb, "- **Confidence:** %s\n", FmtScore(a.Confidence))
		fmt.Fprintf(&sb, "- **Explained by:** %s\n\n", display.ExplainedBy(string(a.ExplainedBy)))
		fmt.Fprintf(&sb, "%s\n\n", a.Explanation)
		fmt.Fprintf(&sb, "### Suggested fix (%s)\n\n%s\n\n", priority, a.SuggestedFix.Description)
		if a.SuggestedFix.Code != "" {
			fmt.Fprintf(&sb, "```\n%s\n```\n\n", a.SuggestedFix.Code)
		}
		sb.WriteString("### Findings\n\n")
	} else {
		fmt.Fprintf(&sb, "Root cause:   %s\n", category)
		fmt.Fprintf(&sb, "Failure:      %s\n", orDash(a.FailureID))
		fmt.Fprintf(&sb, "Confidence:   %s\n", FmtScore(a.Confidence))
		fmt.Fprintf(&sb, "Explained by: %s\n\n", display.ExplainedBy(string(a.ExplainedBy)))
		fmt.Fprintf(&sb, "%s\n\n", a.Explanation)
		fmt.Fprintf(&sb, "Fix [%s]: %s\n", priority, a.SuggestedFix.Description)
		if a.SuggestedFix.Code != "" {
			fmt.Fprintf(&sb, "    %s\n", strings.ReplaceAll(a.SuggestedFix.Code, "\n", "\n    "))
		}
		sb.WriteString("\n")
	}

	findings := NewTable(m)
	findings.Title("Findings")
	findings.Header("Source", "Category", "Confidence", "Detail")
	for _, f := range a.Findings {
		findings.Row(
			display.Source(string(f.Source)),
			display.Category(string(f.Category)),
			FmtScore(f.Confidence),
			Truncate(orDash(f.Detail), 72),
		)
	}
	findings.Columns(ColumnConfig{Number: 3, Align: AlignRight}, ColumnConfig{Number: 4, MaxWidth: 72})
	sb.WriteString(findings.String())
	sb.WriteString("\n")

	if len(a.EnvironmentalFactors) > 0 {
		if m == Markdown {
			sb.WriteString("\n### Environmental factors\n\n")
		} else {
			sb.WriteString("\n")
		}
		factors := NewTable(m)
		factors.Title("Environmental factors")
		factors.Header("Factor", "Value", "Impact")
		for _, f := range a.EnvironmentalFactors {
			factors.Row(display.Factor(string(f.Type)), f.Value, FmtScore(f.Impact))
		}
		factors.Columns(ColumnConfig{Number: 3, Align: AlignRight})
		sb.WriteString(factors.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
