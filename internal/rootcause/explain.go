package rootcause

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flaketrace/internal/gateway"
)

var explanationSchema = gateway.MustSchema(`{
  "type": "object",
  "required": ["explanation", "suggestedFix"],
  "properties": {
    "explanation": {"type": "string", "minLength": 1},
    "suggestedFix": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {
          "type": "object",
          "required": ["description"],
          "properties": {
            "description": {"type": "string", "minLength": 1},
            "code": {"type": "string"}
          }
        }
      ]
    }
  }
}`)

type assistFix struct {
	Description string `json:"description"`
	Code        string `json:"code"`
}

// UnmarshalJSON accepts either a bare description string or an object.
func (f *assistFix) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.Description = s
		return nil
	}
	type plain assistFix
	return json.Unmarshal(b, (*plain)(f))
}

type assistReply struct {
	Explanation  string    `json:"explanation"`
	SuggestedFix assistFix `json:"suggestedFix"`
	// Provider is set by gateway.Local only.
	Provider string `json:"provider,omitempty"`
}

// explain fills the explanation and fix. The assistant gets one attempt;
// any error falls through to the fix table. Priority always comes from the
// table.
//
// gateway.Local is the deterministic tier itself: used directly it is
// never called, and an answer it gave after a remote failover is replaced
// by the fix table so both paths produce the same text.
func (a *Analyzer) explain(ctx context.Context, f *Failure, out *Analysis) {
	entry := FixFor(out.Category)
	out.SuggestedFix = Fix{Description: entry.Fix, Code: entry.Code, Priority: entry.Priority}
	out.Explanation = entry.Explanation
	out.ExplainedBy = ExplainedByFixTable

	if a.assistant == nil || a.assistant.Name() == gateway.LocalName {
		a.recorder.CountFallback("no_assistant")
		return
	}
	var reply assistReply
	err := gateway.GenerateJSON(ctx, a.assistant, BuildPrompt(f, out.Category, out.Confidence, a.loc), explanationSchema, &reply)
	if err != nil {
		reason := "assist_error"
		if errors.Is(err, gateway.ErrMalformedResponse) || errors.Is(err, gateway.ErrEmptyResponse) {
			reason = "malformed_response"
		}
		a.recorder.CountFallback(reason)
		a.logger.WarnContext(ctx, "explanation from fix table",
			"failure_id", f.ID, "provider", a.assistant.Name(), "reason", reason, "error", err)
		return
	}
	if reply.Provider == gateway.LocalName {
		// The gateway has already logged the failover.
		a.recorder.CountFallback("assist_error")
		a.logger.DebugContext(ctx, "explanation from fix table after failover",
			"failure_id", f.ID, "provider", a.assistant.Name())
		return
	}

	explanation := strings.TrimSpace(reply.Explanation)
	if explanation == "" {
		a.recorder.CountFallback("malformed_response")
		a.logger.WarnContext(ctx, "explanation from fix table",
			"failure_id", f.ID, "provider", a.assistant.Name(), "reason", "blank explanation")
		return
	}
	out.Explanation = explanation
	if desc := strings.TrimSpace(reply.SuggestedFix.Description); desc != "" {
		out.SuggestedFix.Description = desc
	}
	if reply.SuggestedFix.Code != "" {
		out.SuggestedFix.Code = reply.SuggestedFix.Code
	}
	out.ExplainedBy = ExplainedByAssistant
}

// BuildPrompt renders the context sent to the assistant.
func BuildPrompt(f *Failure, category Category, confidence float64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var sb strings.Builder
	sb.WriteString("Analyze this automated test failure and suggest a fix.\n\n")
	fmt.Fprintf(&sb, "Test: %s\n", orNone(f.TestName))
	fmt.Fprintf(&sb, "Error: %s\n", orNone(f.Error.Message))
	if f.Error.Type != "" {
		fmt.Fprintf(&sb, "Error type: %s\n", f.Error.Type)
	}
	fmt.Fprintf(&sb, "Derived category: %s\n", category)
	fmt.Fprintf(&sb, "Confidence: %.2f\n", confidence)
	fmt.Fprintf(&sb, "Browser: %s\n", orNone(f.Context.Browser))
	fmt.Fprintf(&sb, "URL: %s\n", orNone(f.Context.URL))
	if f.Timestamp > 0 {
		fmt.Fprintf(&sb, "Timestamp: %s\n", time.UnixMilli(f.Timestamp).In(loc).Format(time.RFC3339))
	}
	sb.WriteString("\n" + gateway.JSONReplyInstruction + ": ")
	sb.WriteString(`{"explanation": "<why it failed>", "suggestedFix": {"description": "<what to change>", "code": "<optional snippet>"}}`)
	return sb.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// FixEntry is one row of the deterministic fix table.
type FixEntry struct {
	Explanation string
	Fix         string
	Code        string
	Priority    Priority
}

// FixFor returns the canned explanation and fix for c. The switch covers
// the whole taxonomy; adding a category must add a row here.
func FixFor(c Category) FixEntry {
	switch c {
	case DOMChange:
		return FixEntry{
			Explanation: "The page structure changed and the test could not locate the element it depends on.",
			Fix:         "Update the selector to a stable attribute such as data-testid and wait for the element before interacting.",
			Code:        "await page.locator('[data-testid=\"submit\"]').waitFor({ state: 'visible' });",
			Priority:    PriorityHigh,
		}
	case NetworkIssue:
		return FixEntry{
			Explanation: "One or more network requests failed while the test was running.",
			Fix:         "Wait for the required responses explicitly and mock unstable third-party endpoints.",
			Code:        "await page.waitForResponse(r => r.url().includes('/api/') && r.ok());",
			Priority:    PriorityMedium,
		}
	case TimingIssue:
		return FixEntry{
			Explanation: "The test timed out or raced the application because an operation took longer than expected.",
			Fix:         "Replace fixed sleeps with waits on the condition under test and review timeout budgets.",
			Code:        "await expect(page.locator('#result')).toBeVisible({ timeout: 10000 });",
			Priority:    PriorityMedium,
		}
	case BrowserCompatibility:
		return FixEntry{
			Explanation: "The failure is specific to the browser the test ran in.",
			Fix:         "Reproduce on the affected browser and feature-detect or polyfill the API in use.",
			Code:        "test.skip(browserName === 'webkit', 'tracked browser incompatibility');",
			Priority:    PriorityMedium,
		}
	case TestDataIssue:
		return FixEntry{
			Explanation: "An assertion failed because the data the test relied on was not in the expected state.",
			Fix:         "Create the test data in setup and isolate it from other tests.",
			Code:        "test.beforeEach(async ({ request }) => { await request.post('/api/test-data/reset'); });",
			Priority:    PriorityMedium,
		}
	case InfrastructureIssue:
		return FixEntry{
			Explanation: "The test environment failed: the browser, runner or a backing service was not healthy.",
			Fix:         "Check runner resources and service health, and rerun on a clean environment.",
			Code:        "",
			Priority:    PriorityHigh,
		}
	case FlakyTest:
		return FixEntry{
			Explanation: "The test history alternates between passing and failing without code changes.",
			Fix:         "Quarantine the test and remove the nondeterminism, usually an unawaited action or shared state.",
			Code:        "test.describe.configure({ retries: 0 }); // surface the flake instead of hiding it",
			Priority:    PriorityHigh,
		}
	case CodeChangeImpact:
		return FixEntry{
			Explanation: "The failure rate rose recently, which points to a change in the application or the test.",
			Fix:         "Bisect the recent changes against the first failing run and update the test or fix the regression.",
			Code:        "",
			Priority:    PriorityMedium,
		}
	case Unknown:
		return unknownFix
	default:
		return unknownFix
	}
}

var unknownFix = FixEntry{
	Explanation: "No known failure signature matched; manual investigation required.",
	Fix:         "Manual investigation required: reproduce the failure locally and inspect logs, screenshots and traces.",
	Priority:    PriorityMedium,
}
