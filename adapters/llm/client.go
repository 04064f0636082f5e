// Package llm implements remote generative assist providers (Anthropic
// Claude and OpenAI-compatible chat completions) behind gateway.Assistant.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"flaketrace/internal/gateway"
	"flaketrace/internal/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 1024
	maxErrorBody     = 512
)

// Option configures a provider during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   *metrics.Recorder
	timeout    time.Duration
	timeoutSet bool
}

// WithHTTPClient overrides the default HTTP client. The provider works on a
// copy, so c itself is never modified, and c's own Timeout is kept unless
// WithTimeout is also given.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithRecorder records request counts and latency.
func WithRecorder(r *metrics.Recorder) Option {
	return func(cfg *clientConfig) error {
		cfg.recorder = r
		return nil
	}
}

// WithTimeout sets the request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("llm: negative timeout %s", d)
		}
		cfg.timeout = d
		cfg.timeoutSet = true
		return nil
	}
}

// client is the HTTP plumbing shared by every provider.
type client struct {
	provider   string
	httpClient *http.Client
	logger     *slog.Logger
	recorder   *metrics.Recorder
}

func newClient(provider string, opts []Option) (client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return client{}, err
		}
	}
	httpClient := &http.Client{}
	if cfg.httpClient != nil {
		cp := *cfg.httpClient
		httpClient = &cp
	}
	switch {
	case cfg.timeoutSet:
		httpClient.Timeout = cfg.timeout
	case httpClient.Timeout == 0:
		httpClient.Timeout = defaultTimeout
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return client{
		provider:   provider,
		httpClient: httpClient,
		logger:     logger.With("provider", provider),
		recorder:   cfg.recorder,
	}, nil
}

// postJSON sends req as JSON and decodes the response into dst. Every
// failure is a *gateway.ProviderError.
func (c *client) postJSON(ctx context.Context, url string, headers map[string]string, req, dst any) error {
	start := time.Now()
	err := c.doPost(ctx, url, headers, req, dst)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.recorder.ObserveGatewayRequest(c.provider, outcome, time.Since(start))
	return err
}

func (c *client) doPost(ctx context.Context, url string, headers map[string]string, req, dst any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return c.fail(0, fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.fail(0, fmt.Errorf("create request: %w", err))
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.DebugContext(ctx, "API request", "url", url, "request_id", requestID, "headers", maskHeaders(headers))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.fail(0, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(resp.StatusCode, fmt.Errorf("%w: read response: %v", gateway.ErrUnavailable, err))
	}
	c.logger.DebugContext(ctx, "API response", "request_id", requestID, "status", resp.StatusCode, "bytes", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = resp.Status
		}
		return c.fail(resp.StatusCode, fmt.Errorf("%w: %s", gateway.ErrUnavailable, msg))
	}
	if err := json.Unmarshal(respBody, dst); err != nil {
		return c.fail(resp.StatusCode, fmt.Errorf("%w: decode response: %v", gateway.ErrMalformedResponse, err))
	}
	return nil
}

func (c *client) fail(status int, err error) error {
	return &gateway.ProviderError{Provider: c.provider, StatusCode: status, Err: err}
}

func (c *client) empty() error {
	return c.fail(http.StatusOK, gateway.ErrEmptyResponse)
}

func maskHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "api-key":
			out[k] = "***"
		default:
			out[k] = v
		}
	}
	return out
}

// codePrompt wraps a code request so both providers phrase it the same way.
func codePrompt(prompt, language string) string {
	if language == "" {
		language = "typescript"
	}
	return fmt.Sprintf("Write %s code for the following request. Reply with code only.\n\n%s", language, prompt)
}

// sniffMediaType returns the image MIME type for the supported formats.
func sniffMediaType(data []byte) (string, error) {
	mt := http.DetectContentType(data)
	switch mt {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return mt, nil
	}
	return "", fmt.Errorf("%w: unsupported image type %q", gateway.ErrUnsupported, mt)
}

// IsStatus reports whether err is a provider error with the given HTTP status.
func IsStatus(err error, code int) bool {
	var pe *gateway.ProviderError
	return errors.As(err, &pe) && pe.StatusCode == code
}
