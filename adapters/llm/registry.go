package llm

import (
	"fmt"
	"log/slog"
	"strings"

	"flaketrace/internal/gateway"
)

// Config selects and configures the primary provider.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

// Providers lists the names New accepts.
func Providers() []string {
	return []string{gateway.LocalName, ClaudeName, OpenAIName}
}

// New builds the assistant for cfg. Remote providers are wrapped so that
// any failure is answered by gateway.Local. "local" or an empty provider
// returns gateway.Local alone.
func New(cfg Config, opts ...Option) (gateway.Assistant, error) {
	var (
		primary gateway.Assistant
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", gateway.LocalName:
		return gateway.Local{}, nil
	case ClaudeName:
		primary, err = NewClaude(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, opts...)
	case OpenAIName:
		primary, err = NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, opts...)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q (want one of %s)",
			cfg.Provider, strings.Join(Providers(), ", "))
	}
	if err != nil {
		return nil, err
	}

	resolved := &clientConfig{}
	for _, opt := range opts {
		_ = opt(resolved)
	}
	var fopts []gateway.FallbackOption
	if resolved.logger != nil {
		fopts = append(fopts, gateway.WithFallbackLogger(resolved.logger.With(slog.String("component", "gateway"))))
	}
	if resolved.recorder != nil {
		fopts = append(fopts, gateway.WithFallbackRecorder(resolved.recorder))
	}
	return gateway.WithFallback(primary, gateway.Local{}, fopts...), nil
}
