package rootcause

import "fmt"

// Category is the closed failure taxonomy.
type Category string

const (
	DOMChange            Category = "dom_change"
	NetworkIssue         Category = "network_issue"
	TimingIssue          Category = "timing_issue"
	BrowserCompatibility Category = "browser_compatibility"
	TestDataIssue        Category = "test_data_issue"
	InfrastructureIssue  Category = "infrastructure_issue"
	FlakyTest            Category = "flaky_test"
	CodeChangeImpact     Category = "code_change_impact"
	Unknown              Category = "unknown"
)

// Categories lists every category in taxonomy order.
func Categories() []Category {
	return []Category{
		DOMChange, NetworkIssue, TimingIssue, BrowserCompatibility, TestDataIssue,
		InfrastructureIssue, FlakyTest, CodeChangeImpact, Unknown,
	}
}

// Valid reports whether c is part of the taxonomy.
func (c Category) Valid() bool {
	switch c {
	case DOMChange, NetworkIssue, TimingIssue, BrowserCompatibility, TestDataIssue,
		InfrastructureIssue, FlakyTest, CodeChangeImpact, Unknown:
		return true
	}
	return false
}

// UnmarshalText rejects names outside the taxonomy.
func (c *Category) UnmarshalText(b []byte) error {
	v := Category(b)
	if !v.Valid() {
		return fmt.Errorf("rootcause: unknown category %q", b)
	}
	*c = v
	return nil
}

// Source names the sub-analysis that produced a finding. The order of
// Sources is the fusion tie-break order.
type Source string

const (
	SourceErrorText   Source = "error_text"
	SourceVisual      Source = "visual"
	SourceDOM         Source = "dom"
	SourceNetwork     Source = "network"
	SourceEnvironment Source = "environment"
	SourceHistory     Source = "history"
)

// Sources lists the sub-analyses in evaluation order.
func Sources() []Source {
	return []Source{SourceErrorText, SourceVisual, SourceDOM, SourceNetwork, SourceEnvironment, SourceHistory}
}
