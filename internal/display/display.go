// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI output, markdown reports and logs.
// Keep raw codes for JSON fields, map keys, and equality comparisons.
package display

import "strings"

// --- Root-cause categories ---

var categories = map[string]string{
	"dom_change":            "DOM Change",
	"network_issue":         "Network Issue",
	"timing_issue":          "Timing Issue",
	"browser_compatibility": "Browser Compatibility",
	"test_data_issue":       "Test Data Issue",
	"infrastructure_issue":  "Infrastructure Issue",
	"flaky_test":            "Flaky Test",
	"code_change_impact":    "Code Change Impact",
	"unknown":               "Unknown",
}

// Category returns the human-readable name for a root-cause category.
// Unknown codes are returned as-is.
func Category(code string) string {
	if name, ok := categories[code]; ok {
		return name
	}
	return code
}

// CategoryWithCode returns "DOM Change (dom_change)" format.
func CategoryWithCode(code string) string {
	if name, ok := categories[code]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// --- Sub-analysis sources ---

var sources = map[string]string{
	"error_text":  "Error Text",
	"visual":      "Visual Diff",
	"dom":         "DOM Snapshot",
	"network":     "Network Log",
	"environment": "Environment",
	"history":     "Run History",
}

// Source returns the human-readable name for a sub-analysis source.
func Source(code string) string {
	if name, ok := sources[code]; ok {
		return name
	}
	return code
}

// --- Environmental factors ---

var factors = map[string]string{
	"time_of_day":      "Time of Day",
	"load":             "Load",
	"deployment":       "Deployment",
	"external_service": "External Service",
}

// Factor returns the human-readable name for an environmental factor type.
func Factor(code string) string {
	if name, ok := factors[code]; ok {
		return name
	}
	return code
}

// --- Recommendations ---

var actions = map[string]string{
	"quarantine":  "Quarantine",
	"fix":         "Fix",
	"investigate": "Investigate",
	"monitor":     "Monitor",
}

// Action returns the human-readable name for a recommended action.
func Action(code string) string {
	if name, ok := actions[code]; ok {
		return name
	}
	return code
}

var priorities = map[string]string{
	"low":      "Low",
	"medium":   "Medium",
	"high":     "High",
	"critical": "Critical",
}

// Priority returns "High" for "high". Unknown codes are returned as-is.
func Priority(code string) string {
	if name, ok := priorities[code]; ok {
		return name
	}
	return code
}

// --- Trends ---

var trends = map[string]string{
	"improving": "↓ Improving",
	"stable":    "→ Stable",
	"degrading": "↑ Degrading",
	"faster":    "↓ Faster",
	"slower":    "↑ Slower",
}

// Trend renders a failure-rate or duration trend with a direction arrow.
func Trend(code string) string {
	if name, ok := trends[code]; ok {
		return name
	}
	return code
}

// --- Explanation origin ---

var explainers = map[string]string{
	"assistant": "AI assistant",
	"fix_table": "Rule table",
}

// ExplainedBy names where an explanation came from.
func ExplainedBy(code string) string {
	if name, ok := explainers[code]; ok {
		return name
	}
	return code
}

// SourcePath joins sub-analysis sources into a readable list.
// ["error_text", "dom"] -> "Error Text, DOM Snapshot"
func SourcePath(codes []string) string {
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = Source(c)
	}
	return strings.Join(names, ", ")
}
