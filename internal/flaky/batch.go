package flaky

import (
	"cmp"
	"context"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	flakyThreshold    = 0.2
	criticalThreshold = 0.8
)

var tracer = otel.Tracer("flaketrace/internal/flaky")

// AnalyzeMultiple scores every input independently and returns the results
// sorted by score descending. Equal scores keep input order, so the output
// is the same regardless of worker scheduling. ctx carries the trace span;
// scoring itself does not block.
func (s *Scorer) AnalyzeMultiple(ctx context.Context, inputs []Input) []Analysis {
	_, span := tracer.Start(ctx, "flaky.AnalyzeMultiple",
		trace.WithAttributes(attribute.Int("flaky.tests", len(inputs))))
	defer span.End()

	results := make([]Analysis, len(inputs))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, in := range inputs {
		g.Go(func() error {
			results[i] = s.Score(in.TestID, in.TestName, in.Runs, in.RecentFailures)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortStableFunc(results, func(a, b Analysis) int {
		return cmp.Compare(b.Flakiness.Score, a.Flakiness.Score)
	})

	sum := Summarize(results)
	span.SetAttributes(
		attribute.Int("flaky.flaky_tests", sum.FlakyTests),
		attribute.Int("flaky.critically_flaky", sum.CriticallyFlaky),
	)
	s.logger.Info("batch scored",
		"tests", sum.TotalTests, "flaky", sum.FlakyTests, "critical", sum.CriticallyFlaky)
	return results
}

// Summarize aggregates a batch. An empty batch has an average score of 0.
func Summarize(results []Analysis) Summary {
	sum := Summary{
		TotalTests: len(results),
		Actions:    make(map[Action]int),
	}
	var total float64
	for _, r := range results {
		score := r.Flakiness.Score
		total += score
		if score > flakyThreshold {
			sum.FlakyTests++
		}
		if score > criticalThreshold {
			sum.CriticallyFlaky++
		}
		sum.Actions[r.Recommendation.Action]++
	}
	if len(results) > 0 {
		sum.AverageScore = total / float64(len(results))
	}
	return sum
}
