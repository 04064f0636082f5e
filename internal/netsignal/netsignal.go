// Package netsignal classifies captured network events into failed and slow
// requests and tags suspicious patterns. Logs are supplied by the caller; the
// package performs no I/O.
package netsignal

import (
	"net/url"
	"path"
	"slices"
	"strings"
)

const (
	// SlowThresholdMS marks a request as slow.
	SlowThresholdMS = 5000
	// TimeoutThresholdMS marks a request as a probable timeout.
	TimeoutThresholdMS = 30000

	excessiveRedirects = 5
	maxExamples        = 3
)

var failureStatuses = []int{400, 401, 403, 404, 500, 502, 503, 504}

var staticExtensions = []string{
	".js", ".mjs", ".css", ".map", ".png", ".jpg", ".jpeg", ".gif", ".svg",
	".ico", ".webp", ".woff", ".woff2", ".ttf", ".eot",
}

// Event is one captured request/response pair. ResponseTime is milliseconds.
type Event struct {
	URL          string            `json:"url" yaml:"url"`
	Method       string            `json:"method" yaml:"method"`
	Status       int               `json:"status" yaml:"status"`
	ResponseTime float64           `json:"response_time" yaml:"response_time"`
	Timestamp    int64             `json:"timestamp" yaml:"timestamp"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// PatternKind names a suspicious-pattern heuristic.
type PatternKind string

const (
	PatternCORS            PatternKind = "cors_failure"
	PatternRateLimited     PatternKind = "rate_limited"
	PatternAuth            PatternKind = "auth_failure"
	PatternTimeout         PatternKind = "timeout"
	PatternRedirects       PatternKind = "excessive_redirects"
	PatternMissingAsset    PatternKind = "missing_static_asset"
	PatternVersionMismatch PatternKind = "api_version_mismatch"
)

// Pattern is one suspicious pattern with its occurrence count and a few
// example URLs.
type Pattern struct {
	Kind        PatternKind `json:"kind"`
	Description string      `json:"description"`
	Count       int         `json:"count"`
	Examples    []string    `json:"examples,omitempty"`
}

// Analysis is the classification of one network log.
type Analysis struct {
	Total     int       `json:"total"`
	Failed    []Event   `json:"failed,omitempty"`
	Slow      []Event   `json:"slow,omitempty"`
	ErrorRate float64   `json:"error_rate"`
	SlowRate  float64   `json:"slow_rate"`
	Patterns  []Pattern `json:"patterns,omitempty"`
}

// HasErrors reports whether any request failed.
func (a Analysis) HasErrors() bool { return len(a.Failed) > 0 }

// HasSlowRequests reports whether any request exceeded SlowThresholdMS.
func (a Analysis) HasSlowRequests() bool { return len(a.Slow) > 0 }

// IsFailure reports whether status is one of the classified failure codes.
func IsFailure(status int) bool {
	return slices.Contains(failureStatuses, status)
}

// Analyze classifies events.
func Analyze(events []Event) Analysis {
	a := Analysis{Total: len(events)}
	if len(events) == 0 {
		return a
	}
	for _, e := range events {
		if IsFailure(e.Status) {
			a.Failed = append(a.Failed, e)
		}
		if e.ResponseTime > SlowThresholdMS {
			a.Slow = append(a.Slow, e)
		}
	}
	a.ErrorRate = float64(len(a.Failed)) / float64(len(events))
	a.SlowRate = float64(len(a.Slow)) / float64(len(events))
	a.Patterns = detectPatterns(events)
	return a
}

type detector struct {
	kind        PatternKind
	description string
	match       func(Event) bool
	minCount    int
}

var detectors = []detector{
	{PatternCORS, "requests blocked before a response, typical of CORS rejections", isCORSLike, 1},
	{PatternRateLimited, "server is rate limiting requests (HTTP 429)", statusIs(429), 1},
	{PatternAuth, "authentication or authorization failures (HTTP 401/403)", statusIs(401, 403), 1},
	{PatternTimeout, "requests exceeding 30s, probable timeouts", func(e Event) bool { return e.ResponseTime > TimeoutThresholdMS }, 1},
	{PatternRedirects, "excessive redirects", isRedirect, excessiveRedirects},
	{PatternMissingAsset, "static assets returning 404", isMissingAsset, 1},
	{PatternVersionMismatch, "API endpoints returning 404/410, possible version mismatch", isVersionMismatch, 1},
}

func detectPatterns(events []Event) []Pattern {
	var out []Pattern
	for _, d := range detectors {
		p := Pattern{Kind: d.kind, Description: d.description}
		for _, e := range events {
			if !d.match(e) {
				continue
			}
			p.Count++
			if len(p.Examples) < maxExamples && !slices.Contains(p.Examples, e.URL) {
				p.Examples = append(p.Examples, e.URL)
			}
		}
		if p.Count >= d.minCount {
			out = append(out, p)
		}
	}
	return out
}

func statusIs(codes ...int) func(Event) bool {
	return func(e Event) bool { return slices.Contains(codes, e.Status) }
}

func isRedirect(e Event) bool {
	switch e.Status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// isCORSLike matches opaque status-0 responses and failed preflights.
func isCORSLike(e Event) bool {
	if e.Status == 0 {
		return true
	}
	if strings.EqualFold(e.Method, "OPTIONS") && e.Status >= 400 {
		return true
	}
	return e.Status >= 400 && headerValue(e.Headers, "origin") != "" &&
		headerValue(e.Headers, "access-control-allow-origin") == ""
}

func isMissingAsset(e Event) bool {
	if e.Status != 404 {
		return false
	}
	ext := strings.ToLower(path.Ext(urlPath(e.URL)))
	return slices.Contains(staticExtensions, ext)
}

func isVersionMismatch(e Event) bool {
	if e.Status != 404 && e.Status != 410 {
		return false
	}
	return strings.Contains(urlPath(e.URL), "/api/")
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	return u.Path
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
