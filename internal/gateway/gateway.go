// Package gateway defines the generative assist contract consumed by the
// analysis engine, a deterministic local implementation, and the helpers
// that pair a remote provider with that local fallback.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Assistant produces free-form analysis, code and image descriptions.
// Implementations must return an error, never a silent empty string, when
// the backing service fails.
type Assistant interface {
	Name() string
	GenerateAnalysis(ctx context.Context, prompt string) (string, error)
	GenerateCode(ctx context.Context, prompt, language string) (string, error)
	AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error)
}

var (
	// ErrUnavailable means the provider could not be reached or refused
	// the request.
	ErrUnavailable = errors.New("gateway: assistant unavailable")
	// ErrEmptyResponse means the provider answered with no content.
	ErrEmptyResponse = errors.New("gateway: empty response")
	// ErrMalformedResponse means the content could not be parsed as expected.
	ErrMalformedResponse = errors.New("gateway: malformed response")
	// ErrUnsupported means the provider does not implement the operation.
	ErrUnsupported = errors.New("gateway: operation not supported")
)

// JSONReplyInstruction marks a prompt that expects a single JSON object in
// reply. Local answers such prompts in JSON so that GenerateJSON succeeds
// on the fallback path too.
const JSONReplyInstruction = "Respond with a JSON object only"

// ProviderError carries the provider name and HTTP status of a failed call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
