package rootcause

import (
	"flaketrace/internal/history"
	"flaketrace/internal/netsignal"
)

// ErrorInfo is the structured error of a failed test.
type ErrorInfo struct {
	Message string `json:"message" yaml:"message"`
	Stack   string `json:"stack,omitempty" yaml:"stack,omitempty"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Screenshots are encoded images (PNG, JPEG, GIF or WebP). JSON carries
// them as base64.
type Screenshots struct {
	Before []byte `json:"before,omitempty" yaml:"before,omitempty"`
	After  []byte `json:"after,omitempty" yaml:"after,omitempty"`
	Diff   []byte `json:"diff,omitempty" yaml:"diff,omitempty"`
}

// ExecutionContext describes where the test ran.
type ExecutionContext struct {
	Browser   string `json:"browser,omitempty" yaml:"browser,omitempty"`
	Viewport  string `json:"viewport,omitempty" yaml:"viewport,omitempty"`
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Failure is one failed execution with its optional artifacts. Every
// optional field may be absent.
type Failure struct {
	ID          string            `json:"id" yaml:"id"`
	TestID      string            `json:"test_id,omitempty" yaml:"test_id,omitempty"`
	TestName    string            `json:"test_name" yaml:"test_name"`
	Timestamp   int64             `json:"timestamp" yaml:"timestamp"`
	Error       ErrorInfo         `json:"error" yaml:"error"`
	Screenshots *Screenshots      `json:"screenshots,omitempty" yaml:"screenshots,omitempty"`
	DOMSnapshot string            `json:"dom_snapshot,omitempty" yaml:"dom_snapshot,omitempty"`
	BaselineDOM string            `json:"baseline_dom,omitempty" yaml:"baseline_dom,omitempty"`
	NetworkLogs []netsignal.Event `json:"network_logs,omitempty" yaml:"network_logs,omitempty"`
	Context     ExecutionContext  `json:"context" yaml:"context"`
	PriorRuns   []history.TestRun `json:"prior_runs,omitempty" yaml:"prior_runs,omitempty"`
}

// FactorType classifies an environmental factor.
type FactorType string

const (
	FactorTimeOfDay       FactorType = "time_of_day"
	FactorLoad            FactorType = "load"
	FactorDeployment      FactorType = "deployment"
	FactorExternalService FactorType = "external_service"
)

// EnvironmentalFactor is side-channel evidence. Impact is in [0,1].
type EnvironmentalFactor struct {
	Type   FactorType `json:"type"`
	Value  string     `json:"value"`
	Impact float64    `json:"impact"`
}

// Priority of a suggested fix.
type Priority string

const (
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Fix is the suggested remedy.
type Fix struct {
	Description string   `json:"description"`
	Code        string   `json:"code,omitempty"`
	Priority    Priority `json:"priority"`
}

// Finding is the result of one sub-analysis.
type Finding struct {
	Source     Source                `json:"source"`
	Category   Category              `json:"category"`
	Confidence float64               `json:"confidence"`
	Detail     string                `json:"detail,omitempty"`
	Factors    []EnvironmentalFactor `json:"-"`
}

// ExplanationSource records which path produced the explanation.
type ExplanationSource string

const (
	ExplainedByAssistant ExplanationSource = "assistant"
	ExplainedByFixTable  ExplanationSource = "fix_table"
)

// Analysis is the fused verdict for one failure.
type Analysis struct {
	FailureID            string                `json:"failure_id"`
	Category             Category              `json:"category"`
	Confidence           float64               `json:"confidence"`
	Explanation          string                `json:"explanation"`
	SuggestedFix         Fix                   `json:"suggested_fix"`
	RelatedFailures      []string              `json:"related_failures"`
	EnvironmentalFactors []EnvironmentalFactor `json:"environmental_factors"`
	Findings             []Finding             `json:"findings"`
	ExplainedBy          ExplanationSource     `json:"explained_by"`
}
