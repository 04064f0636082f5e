package ingest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jstemmer/go-junit-report/v2/junit"

	"flaketrace/internal/flaky"
	"flaketrace/internal/history"
	"flaketrace/internal/rootcause"
)

var retrySuffix = regexp.MustCompile(`\s*\((?:retry \d+|final)\)$`)

// NormalizeTestName strips trailing "(retry N)" and "(final)" markers so
// reruns of the same test share one history.
func NormalizeTestName(name string) string {
	for {
		stripped := retrySuffix.ReplaceAllString(name, "")
		if stripped == name {
			return strings.TrimSpace(name)
		}
		name = stripped
	}
}

// ParseJUnit decodes a report rooted at either <testsuites> or a single
// <testsuite>.
func ParseJUnit(r io.Reader) (*junit.Testsuites, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read junit: %w", err)
	}
	var suites junit.Testsuites
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&suites); err == nil {
		return &suites, nil
	}
	var suite junit.Testsuite
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&suite); err != nil {
		return nil, fmt.Errorf("parse junit xml: %w", err)
	}
	suites.Suites = []junit.Testsuite{suite}
	return &suites, nil
}

// LoadJUnit parses each report file in order.
func LoadJUnit(paths ...string) ([]*junit.Testsuites, error) {
	reports := make([]*junit.Testsuites, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open junit report: %w", err)
		}
		r, err := ParseJUnit(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// FromJUnit turns reports into one history per normalized test name. Each
// testcase becomes a run stamped with its suite timestamp; suites without a
// parseable timestamp keep report order. The result is sorted by test ID.
func FromJUnit(reports ...*junit.Testsuites) []flaky.Input {
	byID := map[string]*flaky.Input{}
	seq := 0
	for ri, report := range reports {
		if report == nil {
			continue
		}
		for si, suite := range report.Suites {
			ts := suiteTimestamp(suite)
			for ci, tc := range suite.Testcases {
				seq++
				name := NormalizeTestName(tc.Name)
				id := testID(tc.Classname, name)
				in, ok := byID[id]
				if !ok {
					in = &flaky.Input{TestID: id, TestName: name}
					byID[id] = in
				}
				stamp := ts
				if stamp == 0 {
					stamp = int64(seq)
				}
				in.Runs = append(in.Runs, history.TestRun{
					ID:        fmt.Sprintf("r%d-s%d-c%d", ri, si, ci),
					Timestamp: stamp,
					Status:    caseStatus(tc),
					Duration:  seconds(tc.Time) * 1000,
					Error:     caseError(tc),
				})
			}
		}
	}

	out := make([]flaky.Input, 0, len(byID))
	for _, in := range byID {
		out = append(out, *in)
	}
	slices.SortFunc(out, func(a, b flaky.Input) int { return strings.Compare(a.TestID, b.TestID) })
	return out
}

// FailuresFromJUnit returns one failure record per failed or errored
// testcase, for root-cause analysis.
func FailuresFromJUnit(reports ...*junit.Testsuites) []rootcause.Failure {
	var out []rootcause.Failure
	for ri, report := range reports {
		if report == nil {
			continue
		}
		for si, suite := range report.Suites {
			ts := suiteTimestamp(suite)
			for ci, tc := range suite.Testcases {
				res := tc.Failure
				if res == nil {
					res = tc.Error
				}
				if res == nil {
					continue
				}
				name := NormalizeTestName(tc.Name)
				out = append(out, rootcause.Failure{
					ID:        fmt.Sprintf("r%d-s%d-c%d", ri, si, ci),
					TestID:    testID(tc.Classname, name),
					TestName:  name,
					Timestamp: ts,
					Error: rootcause.ErrorInfo{
						Message: firstNonEmpty(res.Message, firstLine(res.Data)),
						Stack:   strings.TrimSpace(res.Data),
						Type:    res.Type,
					},
				})
			}
		}
	}
	return out
}

func testID(classname, name string) string {
	if classname == "" {
		return name
	}
	return classname + "." + name
}

func caseStatus(tc junit.Testcase) history.Status {
	switch {
	case tc.Failure != nil, tc.Error != nil:
		return history.StatusFailed
	case tc.Skipped != nil:
		return history.StatusSkipped
	}
	return history.StatusPassed
}

func caseError(tc junit.Testcase) string {
	for _, r := range []*junit.Result{tc.Failure, tc.Error} {
		if r != nil {
			return firstNonEmpty(r.Message, firstLine(r.Data))
		}
	}
	return ""
}

var suiteLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// suiteTimestamp returns epoch millis or 0 when absent or unparseable.
// Zone-less timestamps are read as UTC.
func suiteTimestamp(s junit.Testsuite) int64 {
	v := strings.TrimSpace(s.Timestamp)
	if v == "" {
		return 0
	}
	for _, layout := range suiteLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

func seconds(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
