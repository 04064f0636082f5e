// Package rootcause classifies a single test failure. Six independent
// sub-analyses run concurrently over the same failure record; their findings
// are fused into one category with a confidence, and an explanation with a
// suggested fix comes from the assistant or, on any failure, the fix table.
package rootcause

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"flaketrace/internal/gateway"
	"flaketrace/internal/history"
	"flaketrace/internal/logging"
	"flaketrace/internal/metrics"
)

// defaultVerdictConfidence is reported when no sub-analysis found anything.
const defaultVerdictConfidence = 0.5

var tracer = otel.Tracer("flaketrace/internal/rootcause")

type subAnalysis func(ctx context.Context, f *Failure) (Finding, error)

type step struct {
	source Source
	run    subAnalysis
}

// Analyzer runs root-cause analysis. It holds configuration only and is
// safe for concurrent use.
type Analyzer struct {
	assistant gateway.Assistant
	rules     Rules
	loc       *time.Location
	history   *history.Analyzer
	logger    *slog.Logger
	recorder  *metrics.Recorder
	steps     []step
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithAssistant sets the generative assist. Without one, explanations come
// from the fix table.
func WithAssistant(a gateway.Assistant) Option { return func(an *Analyzer) { an.assistant = a } }

// WithRules replaces the error-text classification table.
func WithRules(r Rules) Option { return func(an *Analyzer) { an.rules = r } }

// WithLocation sets the time zone for off-hours detection and history
// bucketing.
func WithLocation(loc *time.Location) Option {
	return func(an *Analyzer) {
		if loc != nil {
			an.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(an *Analyzer) { an.logger = l } }

// WithRecorder records verdicts, fallbacks and sub-analysis failures.
func WithRecorder(r *metrics.Recorder) Option { return func(an *Analyzer) { an.recorder = r } }

// New returns an Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{loc: time.Local, rules: DefaultRules()}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.New("rootcause")
	}
	a.history = history.NewAnalyzer(history.WithLocation(a.loc))
	a.steps = []step{
		{SourceErrorText, a.analyzeErrorText},
		{SourceVisual, a.analyzeVisual},
		{SourceDOM, a.analyzeDOM},
		{SourceNetwork, a.analyzeNetwork},
		{SourceEnvironment, a.analyzeEnvironment},
		{SourceHistory, a.analyzeHistory},
	}
	return a
}

// Analyze classifies f. It always returns a complete Analysis; sub-analysis
// and assistant failures degrade to zero-confidence findings and the fix
// table respectively.
func (a *Analyzer) Analyze(ctx context.Context, f Failure) Analysis {
	ctx, span := tracer.Start(ctx, "rootcause.Analyze",
		trace.WithAttributes(attribute.String("rootcause.failure_id", f.ID)))
	defer span.End()

	findings := make([]Finding, len(a.steps))
	var g errgroup.Group
	for i, s := range a.steps {
		g.Go(func() error {
			findings[i] = a.runStep(ctx, s, &f)
			return nil
		})
	}
	_ = g.Wait()

	category, confidence := Fuse(findings)
	out := Analysis{
		FailureID:            f.ID,
		Category:             category,
		Confidence:           confidence,
		RelatedFailures:      []string{},
		EnvironmentalFactors: unionFactors(findings),
		Findings:             findings,
	}
	a.explain(ctx, &f, &out)

	span.SetAttributes(
		attribute.String("rootcause.category", string(out.Category)),
		attribute.Float64("rootcause.confidence", out.Confidence),
		attribute.String("rootcause.explained_by", string(out.ExplainedBy)),
	)
	a.recorder.CountRootCause(string(out.Category))
	a.logger.DebugContext(ctx, "failure analyzed",
		"failure_id", f.ID, "category", out.Category, "confidence", out.Confidence, "explained_by", out.ExplainedBy)
	return out
}

// runStep runs one sub-analysis. Errors and panics become a zero-confidence
// finding so the remaining steps are unaffected.
func (a *Analyzer) runStep(ctx context.Context, s step, f *Failure) (out Finding) {
	ctx, span := tracer.Start(ctx, "rootcause."+string(s.source))
	defer span.End()

	fail := func(err error) {
		out = Finding{Source: s.source, Category: Unknown, Detail: err.Error()}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.recorder.CountSubanalysisFailure(string(s.source))
		a.logger.WarnContext(ctx, "sub-analysis failed", "source", s.source, "failure_id", f.ID, "error", err)
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
	}()

	fd, err := s.run(ctx, f)
	if err != nil {
		fail(err)
		return out
	}
	fd.Source = s.source
	fd.Confidence = clamp01(fd.Confidence)
	if !fd.Category.Valid() {
		fd.Category = Unknown
	}
	for i := range fd.Factors {
		fd.Factors[i].Impact = clamp01(fd.Factors[i].Impact)
	}
	span.SetAttributes(
		attribute.String("rootcause.category", string(fd.Category)),
		attribute.Float64("rootcause.confidence", fd.Confidence),
	)
	return fd
}

// Fuse picks the finding with the strictly highest confidence; ties keep
// the earlier finding. When every confidence is zero the verdict is Unknown
// at the default confidence.
func Fuse(findings []Finding) (Category, float64) {
	best := -1
	for i, f := range findings {
		if f.Confidence <= 0 {
			continue
		}
		if best < 0 || f.Confidence > findings[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return Unknown, defaultVerdictConfidence
	}
	return findings[best].Category, findings[best].Confidence
}

// unionFactors collects factors from every finding in source order. A
// repeated type and value keeps the highest impact.
func unionFactors(findings []Finding) []EnvironmentalFactor {
	out := []EnvironmentalFactor{}
	index := map[[2]string]int{}
	for _, f := range findings {
		for _, ef := range f.Factors {
			key := [2]string{string(ef.Type), ef.Value}
			if i, ok := index[key]; ok {
				out[i].Impact = math.Max(out[i].Impact, ef.Impact)
				continue
			}
			index[key] = len(out)
			out = append(out, ef)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
