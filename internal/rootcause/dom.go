package rootcause

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

const (
	domConfidence        = 0.85
	structuralDeltaRatio = 0.3
)

// DOMIssueKind names one DOM-diff finding.
type DOMIssueKind string

const (
	IssueMissingElement   DOMIssueKind = "missing_element"
	IssueChangedSelector  DOMIssueKind = "changed_selector"
	IssueStructuralChange DOMIssueKind = "structural_change"
)

// DOMIssue is one problem found in a snapshot.
type DOMIssue struct {
	Kind     DOMIssueKind `json:"kind"`
	Selector string       `json:"selector,omitempty"`
	Detail   string       `json:"detail"`
}

var (
	idSelector     = regexp.MustCompile(`#([A-Za-z][\w-]*)`)
	testIDSelector = regexp.MustCompile(`\[(data-testid|data-test-id|data-test|data-cy)=["']?([^"'\]]+)["']?\]`)
	classSelector  = regexp.MustCompile(`(?:^|[\s'"(>])\.([A-Za-z][\w-]*)`)
)

var testIDAttrs = []string{"data-testid", "data-test-id", "data-test", "data-cy"}

// domIndex is the set of addressable names in a parsed document.
type domIndex struct {
	ids      map[string]bool
	testIDs  map[string]bool
	classes  map[string]bool
	elements int
	bodyKids int
}

func indexDOM(src string) (*domIndex, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse DOM snapshot: %w", err)
	}
	idx := &domIndex{ids: map[string]bool{}, testIDs: map[string]bool{}, classes: map[string]bool{}}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			idx.elements++
			if n.Data == "body" {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.ElementNode {
						idx.bodyKids++
					}
				}
			}
			for _, attr := range n.Attr {
				switch {
				case attr.Key == "id" && attr.Val != "":
					idx.ids[attr.Val] = true
				case attr.Key == "class":
					for _, c := range strings.Fields(attr.Val) {
						idx.classes[c] = true
					}
				case slices.Contains(testIDAttrs, attr.Key) && attr.Val != "":
					idx.testIDs[attr.Key+"="+attr.Val] = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return idx, nil
}

// referencedSelectors extracts id, test-id and class selectors from an
// error message: test ids first, then ids, then classes.
func referencedSelectors(message string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range testIDSelector.FindAllStringSubmatch(message, -1) {
		add(m[1] + "=" + m[2])
	}
	for _, m := range idSelector.FindAllStringSubmatch(message, -1) {
		add("#" + m[1])
	}
	for _, m := range classSelector.FindAllStringSubmatch(message, -1) {
		add("." + m[1])
	}
	return out
}

func (idx *domIndex) has(selector string) bool {
	switch {
	case strings.HasPrefix(selector, "#"):
		return idx.ids[selector[1:]]
	case strings.HasPrefix(selector, "."):
		return idx.classes[selector[1:]]
	default:
		return idx.testIDs[selector]
	}
}

// DiffDOM reports missing, changed and structural issues in current. The
// error message supplies referenced selectors; baseline may be empty.
func DiffDOM(current, baseline, message string) ([]DOMIssue, error) {
	cur, err := indexDOM(current)
	if err != nil {
		return nil, err
	}
	var issues []DOMIssue
	for _, sel := range referencedSelectors(message) {
		if !cur.has(sel) {
			issues = append(issues, DOMIssue{
				Kind: IssueMissingElement, Selector: sel,
				Detail: fmt.Sprintf("%s referenced by the error is absent from the snapshot", sel),
			})
		}
	}
	if cur.bodyKids == 0 {
		issues = append(issues, DOMIssue{Kind: IssueStructuralChange, Detail: "document body is empty"})
	}
	if strings.TrimSpace(baseline) == "" {
		return issues, nil
	}

	base, err := indexDOM(baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	for _, id := range sortedKeys(base.ids) {
		if !cur.ids[id] {
			issues = append(issues, DOMIssue{
				Kind: IssueChangedSelector, Selector: "#" + id,
				Detail: fmt.Sprintf("id %q present in baseline is gone", id),
			})
		}
	}
	for _, tid := range sortedKeys(base.testIDs) {
		if !cur.testIDs[tid] {
			issues = append(issues, DOMIssue{
				Kind: IssueChangedSelector, Selector: tid,
				Detail: fmt.Sprintf("%s present in baseline is gone", tid),
			})
		}
	}
	if base.elements > 0 {
		delta := math.Abs(float64(cur.elements-base.elements)) / float64(base.elements)
		if delta > structuralDeltaRatio {
			issues = append(issues, DOMIssue{
				Kind:   IssueStructuralChange,
				Detail: fmt.Sprintf("element count changed from %d to %d", base.elements, cur.elements),
			})
		}
	}
	return issues, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (a *Analyzer) analyzeDOM(_ context.Context, f *Failure) (Finding, error) {
	out := Finding{Category: Unknown}
	if strings.TrimSpace(f.DOMSnapshot) == "" {
		out.Detail = "DOM snapshot not supplied"
		return out, nil
	}
	issues, err := DiffDOM(f.DOMSnapshot, f.BaselineDOM, f.Error.Message)
	if err != nil {
		return out, err
	}
	if len(issues) == 0 {
		out.Detail = "no DOM issues"
		return out, nil
	}
	kinds := make([]string, len(issues))
	for i, is := range issues {
		kinds[i] = string(is.Kind)
	}
	out.Category = DOMChange
	out.Confidence = domConfidence
	out.Detail = fmt.Sprintf("%d issue(s): %s; first: %s", len(issues), strings.Join(slices.Compact(kinds), ", "), issues[0].Detail)
	return out, nil
}
