package gateway

import (
	"context"
	"log/slog"

	"flaketrace/internal/logging"
	"flaketrace/internal/metrics"
)

// Fallback tries the primary Assistant once and answers from the fallback
// on any error. It never retries.
type Fallback struct {
	primary  Assistant
	fallback Assistant
	logger   *slog.Logger
	recorder *metrics.Recorder
}

var _ Assistant = (*Fallback)(nil)

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithFallbackLogger sets the logger used for failover warnings.
func WithFallbackLogger(l *slog.Logger) FallbackOption {
	return func(f *Fallback) { f.logger = l }
}

// WithFallbackRecorder counts failovers per primary provider.
func WithFallbackRecorder(r *metrics.Recorder) FallbackOption {
	return func(f *Fallback) { f.recorder = r }
}

// WithFallback pairs primary with fallback. A nil fallback means Local.
func WithFallback(primary, fallback Assistant, opts ...FallbackOption) *Fallback {
	if fallback == nil {
		fallback = Local{}
	}
	f := &Fallback{primary: primary, fallback: fallback}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.New("gateway")
	}
	return f
}

// Name reports the primary provider.
func (f *Fallback) Name() string {
	if f.primary == nil {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

// Primary returns the wrapped primary provider.
func (f *Fallback) Primary() Assistant { return f.primary }

func (f *Fallback) GenerateAnalysis(ctx context.Context, prompt string) (string, error) {
	return f.do(ctx, "analysis", func(a Assistant) (string, error) {
		return a.GenerateAnalysis(ctx, prompt)
	})
}

func (f *Fallback) GenerateCode(ctx context.Context, prompt, language string) (string, error) {
	return f.do(ctx, "code", func(a Assistant) (string, error) {
		return a.GenerateCode(ctx, prompt, language)
	})
}

func (f *Fallback) AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	return f.do(ctx, "image", func(a Assistant) (string, error) {
		return a.AnalyzeImage(ctx, image, prompt)
	})
}

func (f *Fallback) do(ctx context.Context, op string, call func(Assistant) (string, error)) (string, error) {
	if f.primary == nil {
		return call(f.fallback)
	}
	out, err := call(f.primary)
	if err == nil {
		return out, nil
	}
	f.logger.WarnContext(ctx, "assistant failed, using fallback",
		"provider", f.primary.Name(), "fallback", f.fallback.Name(), "op", op, "error", err)
	f.recorder.CountFailover(f.primary.Name())
	return call(f.fallback)
}
