package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"flaketrace/internal/gateway"
)

const (
	OpenAIName            = "openai"
	openAIBaseURL         = "https://api.openai.com/v1"
	openAICompletionsPath = "/chat/completions"
	openAIDefaultModel    = "gpt-4o"
	bearerPrefix          = "Bearer "
)

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
}

var _ gateway.Assistant = (*OpenAI)(nil)

// NewOpenAI returns an OpenAI provider. baseURL may point at any compatible
// server; it must include the version prefix.
func NewOpenAI(apiKey, model, baseURL string, maxTokens int, opts ...Option) (*OpenAI, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("llm: openai: API key is required")
	}
	c, err := newClient(OpenAIName, opts)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if model == "" {
		model = openAIDefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{
		client:    c,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role string `json:"role"`
	// Content is a string, or a list of parts for multimodal input.
	Content any `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Name implements gateway.Assistant.
func (o *OpenAI) Name() string { return OpenAIName }

func (o *OpenAI) GenerateAnalysis(ctx context.Context, prompt string) (string, error) {
	return o.send(ctx, []openAIMessage{{Role: "user", Content: prompt}})
}

func (o *OpenAI) GenerateCode(ctx context.Context, prompt, language string) (string, error) {
	return o.send(ctx, []openAIMessage{
		{Role: "system", Content: "You are a test automation engineer."},
		{Role: "user", Content: codePrompt(prompt, language)},
	})
}

func (o *OpenAI) AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	mt, err := sniffMediaType(image)
	if err != nil {
		return "", o.fail(0, err)
	}
	dataURL := "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(image)
	return o.send(ctx, []openAIMessage{{
		Role: "user",
		Content: []openAIPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
		},
	}})
}

func (o *OpenAI) send(ctx context.Context, messages []openAIMessage) (string, error) {
	req := openAIRequest{Model: o.model, Messages: messages, MaxTokens: o.maxTokens}
	headers := map[string]string{}
	if o.apiKey != "" {
		headers["Authorization"] = bearerPrefix + o.apiKey
	}
	var resp openAIResponse
	if err := o.postJSON(ctx, o.baseURL+openAICompletionsPath, headers, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", o.fail(0, fmt.Errorf("%w: %s: %s", gateway.ErrUnavailable, resp.Error.Type, resp.Error.Message))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", o.empty()
	}
	return resp.Choices[0].Message.Content, nil
}
