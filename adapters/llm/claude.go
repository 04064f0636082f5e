package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"flaketrace/internal/gateway"
)

const (
	ClaudeName         = "claude"
	claudeBaseURL      = "https://api.anthropic.com"
	claudeMessagesPath = "/v1/messages"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-3-5-sonnet-20241022"
)

// Claude calls the Anthropic Messages API.
type Claude struct {
	client
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
}

var _ gateway.Assistant = (*Claude)(nil)

// NewClaude returns a Claude provider. Empty baseURL and model select the
// public endpoint and the default model.
func NewClaude(apiKey, model, baseURL string, maxTokens int, opts ...Option) (*Claude, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: claude: API key is required")
	}
	c, err := newClient(ClaudeName, opts)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = claudeBaseURL
	}
	if model == "" {
		model = claudeDefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Claude{
		client:    c,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

type claudeContentBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Name implements gateway.Assistant.
func (c *Claude) Name() string { return ClaudeName }

func (c *Claude) GenerateAnalysis(ctx context.Context, prompt string) (string, error) {
	return c.send(ctx, "", []claudeContentBlock{{Type: "text", Text: prompt}})
}

func (c *Claude) GenerateCode(ctx context.Context, prompt, language string) (string, error) {
	return c.send(ctx, "You are a test automation engineer.",
		[]claudeContentBlock{{Type: "text", Text: codePrompt(prompt, language)}})
}

func (c *Claude) AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	mt, err := sniffMediaType(image)
	if err != nil {
		return "", c.fail(0, err)
	}
	return c.send(ctx, "", []claudeContentBlock{
		{Type: "image", Source: &claudeImageSource{
			Type:      "base64",
			MediaType: mt,
			Data:      base64.StdEncoding.EncodeToString(image),
		}},
		{Type: "text", Text: prompt},
	})
}

func (c *Claude) send(ctx context.Context, system string, content []claudeContentBlock) (string, error) {
	req := claudeRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []claudeMessage{{Role: "user", Content: content}},
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": claudeAPIVersion,
	}
	var resp claudeResponse
	if err := c.postJSON(ctx, c.baseURL+claudeMessagesPath, headers, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", c.fail(0, fmt.Errorf("%w: %s: %s", gateway.ErrUnavailable, resp.Error.Type, resp.Error.Message))
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", c.empty()
	}
	return sb.String(), nil
}
