package rootcause

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"flaketrace/internal/netsignal"
)

const (
	networkErrorConfidence = 0.8
	networkSlowConfidence  = 0.7
	flakyConfidence        = 0.9
	degradationConfidence  = 0.8

	offHoursImpact    = 0.3
	safariImpact      = 0.4
	degradationImpact = 0.5

	offHoursStart = 22
	offHoursEnd   = 6
)

func (a *Analyzer) analyzeNetwork(_ context.Context, f *Failure) (Finding, error) {
	out := Finding{Category: Unknown}
	if len(f.NetworkLogs) == 0 {
		out.Detail = "network log not supplied"
		return out, nil
	}
	na := netsignal.Analyze(f.NetworkLogs)
	kinds := make([]string, len(na.Patterns))
	for i, p := range na.Patterns {
		kinds[i] = string(p.Kind)
	}
	switch {
	case na.HasErrors():
		out.Category = NetworkIssue
		out.Confidence = networkErrorConfidence
		out.Detail = fmt.Sprintf("%d of %d requests failed", len(na.Failed), na.Total)
		out.Factors = append(out.Factors, EnvironmentalFactor{
			Type: FactorExternalService, Value: hostOf(na.Failed[0].URL), Impact: clamp01(na.ErrorRate),
		})
	case na.HasSlowRequests():
		out.Category = TimingIssue
		out.Confidence = networkSlowConfidence
		out.Detail = fmt.Sprintf("%d of %d requests slower than %dms", len(na.Slow), na.Total, netsignal.SlowThresholdMS)
		out.Factors = append(out.Factors, EnvironmentalFactor{
			Type: FactorLoad, Value: "slow_requests", Impact: clamp01(na.SlowRate),
		})
	default:
		out.Detail = "no failed or slow requests"
	}
	if len(kinds) > 0 {
		out.Detail += "; patterns: " + strings.Join(kinds, ", ")
	}
	return out, nil
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

// analyzeEnvironment never picks a category. It only contributes factors.
func (a *Analyzer) analyzeEnvironment(_ context.Context, f *Failure) (Finding, error) {
	out := Finding{Category: Unknown}
	if f.Timestamp > 0 {
		hour := time.UnixMilli(f.Timestamp).In(a.loc).Hour()
		if hour >= offHoursStart || hour <= offHoursEnd {
			out.Factors = append(out.Factors, EnvironmentalFactor{
				Type: FactorTimeOfDay, Value: fmt.Sprintf("off_hours (%02d:00)", hour), Impact: offHoursImpact,
			})
		}
	}
	if isSafari(f.Context.Browser, f.Context.UserAgent) {
		out.Factors = append(out.Factors, EnvironmentalFactor{
			Type: FactorDeployment, Value: "safari_compatibility", Impact: safariImpact,
		})
	}
	out.Detail = fmt.Sprintf("%d environmental factor(s)", len(out.Factors))
	return out, nil
}

// isSafari reports whether the browser name or user agent identifies Safari.
// Chromium-family agents carry a Safari token and are excluded.
func isSafari(browser, userAgent string) bool {
	if strings.Contains(strings.ToLower(browser), "safari") {
		return true
	}
	ua := strings.ToLower(userAgent)
	if !strings.Contains(ua, "safari") {
		return false
	}
	for _, other := range []string{"chrome", "chromium", "crios", "edg", "opr/"} {
		if strings.Contains(ua, other) {
			return false
		}
	}
	return true
}

func (a *Analyzer) analyzeHistory(_ context.Context, f *Failure) (Finding, error) {
	out := Finding{Category: Unknown}
	if len(f.PriorRuns) == 0 {
		out.Detail = "prior runs not supplied"
		return out, nil
	}
	pa := a.history.Analyze(f.PriorRuns)
	switch {
	case pa.IsFlaky:
		out.Category = FlakyTest
		out.Confidence = flakyConfidence
	case pa.RecentDegradation:
		out.Category = CodeChangeImpact
		out.Confidence = degradationConfidence
	}
	if pa.RecentDegradation {
		out.Factors = append(out.Factors, EnvironmentalFactor{
			Type: FactorDeployment, Value: "recent_degradation", Impact: degradationImpact,
		})
	}
	out.Detail = fmt.Sprintf("%d prior runs, failure rate %.2f, trend %s",
		len(f.PriorRuns), pa.FailureRate, pa.Trend)
	return out, nil
}
