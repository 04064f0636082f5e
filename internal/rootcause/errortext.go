package rootcause

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var keywordsYAML []byte

const (
	keywordConfidence = 0.8
	defaultConfidence = 0.5
	stackConfidence   = 0.85
)

// KeywordRule maps substrings of an error message to a category.
type KeywordRule struct {
	Category Category `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// StackRule maps exception names found in a stack trace or error type to a
// category.
type StackRule struct {
	Category Category `yaml:"category"`
	Names    []string `yaml:"names"`
}

// Rules is the error-text classification table.
type Rules struct {
	ErrorText []KeywordRule `yaml:"error_text"`
	Stack     []StackRule   `yaml:"stack"`
}

// ParseRules decodes a rules document. Categories outside the taxonomy are
// rejected.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	for _, kr := range r.ErrorText {
		if !kr.Category.Valid() {
			return Rules{}, fmt.Errorf("parse rules: unknown category %q", kr.Category)
		}
	}
	for _, sr := range r.Stack {
		if !sr.Category.Valid() {
			return Rules{}, fmt.Errorf("parse rules: unknown category %q", sr.Category)
		}
	}
	return r, nil
}

// DefaultRules returns the built-in table.
func DefaultRules() Rules {
	r, err := ParseRules(keywordsYAML)
	if err != nil {
		panic(fmt.Sprintf("load keywords.yaml: %v", err))
	}
	return r
}

// classifyText returns the first matching keyword rule, or Unknown.
func (r Rules) classifyText(message string) (Category, string, bool) {
	lower := strings.ToLower(message)
	for _, rule := range r.ErrorText {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Category, kw, true
			}
		}
	}
	return Unknown, "", false
}

func (r Rules) classifyStack(text string) (Category, string, bool) {
	for _, rule := range r.Stack {
		for _, name := range rule.Names {
			if strings.Contains(text, name) {
				return rule.Category, name, true
			}
		}
	}
	return Unknown, "", false
}

// analyzeErrorText matches the error message against the keyword table and,
// when a stack trace or type hint is present, the exception-name table. The
// stack match only wins when its confidence is higher.
func (a *Analyzer) analyzeErrorText(_ context.Context, f *Failure) (Finding, error) {
	out := Finding{Category: Unknown, Confidence: defaultConfidence, Detail: "no keyword matched"}
	if cat, kw, ok := a.rules.classifyText(f.Error.Message); ok {
		out = Finding{Category: cat, Confidence: keywordConfidence, Detail: fmt.Sprintf("message contains %q", kw)}
	}
	if f.Error.Stack == "" && f.Error.Type == "" {
		return out, nil
	}
	if cat, name, ok := a.rules.classifyStack(f.Error.Type + "\n" + f.Error.Stack); ok && stackConfidence > out.Confidence {
		out = Finding{Category: cat, Confidence: stackConfidence, Detail: fmt.Sprintf("stack mentions %s", name)}
	}
	return out, nil
}
