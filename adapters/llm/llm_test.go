package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"flaketrace/internal/gateway"
	"flaketrace/internal/metrics"
)

func TestClaude_GenerateAnalysis(t *testing.T) {
	var gotReq claudeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != claudeMessagesPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != claudeAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing X-Request-Id")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = io.WriteString(w, `{"id":"msg_1","content":[{"type":"text","text":"{\"explanation\":\"e\"}"}],"stop_reason":"end_turn"}`)
	}))
	defer server.Close()

	c, err := NewClaude("sk-test", "", server.URL, 0, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.GenerateAnalysis(context.Background(), "why did it fail?")
	if err != nil {
		t.Fatalf("GenerateAnalysis: %v", err)
	}
	if got != `{"explanation":"e"}` {
		t.Errorf("got %q", got)
	}
	if gotReq.Model != claudeDefaultModel || gotReq.MaxTokens != defaultMaxTokens {
		t.Errorf("request model/max_tokens = %q/%d", gotReq.Model, gotReq.MaxTokens)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content[0].Text != "why did it fail?" {
		t.Errorf("unexpected messages: %+v", gotReq.Messages)
	}
}

func TestClaude_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    error
		wantStatus int
	}{
		{"server error", http.StatusServiceUnavailable, `overloaded`, gateway.ErrUnavailable, 503},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"type":"authentication_error"}}`, gateway.ErrUnavailable, 401},
		{"empty content", http.StatusOK, `{"content":[]}`, gateway.ErrEmptyResponse, 200},
		{"not json", http.StatusOK, `<html>`, gateway.ErrMalformedResponse, 200},
		{"api error body", http.StatusOK, `{"error":{"type":"invalid_request_error","message":"bad"}}`, gateway.ErrUnavailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c, _ := NewClaude("sk-test", "m", server.URL, 10, WithHTTPClient(server.Client()))
			_, err := c.GenerateAnalysis(context.Background(), "p")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			var pe *gateway.ProviderError
			if !errors.As(err, &pe) || pe.Provider != ClaudeName {
				t.Fatalf("err = %v, want *gateway.ProviderError from claude", err)
			}
			if pe.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", pe.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestNewClaude_RequiresKey(t *testing.T) {
	if _, err := NewClaude("", "", "", 0); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewClient_Timeout(t *testing.T) {
	tests := []struct {
		name   string
		caller *http.Client
		opts   []Option
		want   time.Duration
	}{
		{"default", nil, nil, defaultTimeout},
		{"explicit", nil, []Option{WithTimeout(5 * time.Second)}, 5 * time.Second},
		{"caller timeout kept", &http.Client{Timeout: 3 * time.Second}, nil, 3 * time.Second},
		{"caller without timeout", &http.Client{}, nil, defaultTimeout},
		{"explicit beats caller", &http.Client{Timeout: 3 * time.Second}, []Option{WithTimeout(time.Second)}, time.Second},
		{"explicit zero disables", nil, []Option{WithTimeout(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before time.Duration
			opts := tt.opts
			if tt.caller != nil {
				before = tt.caller.Timeout
				opts = append([]Option{WithHTTPClient(tt.caller)}, opts...)
			}
			c, err := NewClaude("k", "", "", 0, opts...)
			if err != nil {
				t.Fatal(err)
			}
			if c.httpClient.Timeout != tt.want {
				t.Errorf("timeout = %s, want %s", c.httpClient.Timeout, tt.want)
			}
			if tt.caller != nil {
				if tt.caller.Timeout != before {
					t.Errorf("caller's client modified: timeout %s, was %s", tt.caller.Timeout, before)
				}
				if c.httpClient == tt.caller {
					t.Error("provider shares the caller's *http.Client")
				}
			}
		})
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOpenAI_AnalyzeImage(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != openAICompletionsPath {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-openai" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = io.WriteString(w, `{"id":"c1","choices":[{"message":{"role":"assistant","content":"a blank square"}}]}`)
	}))
	defer server.Close()

	o, err := NewOpenAI("sk-openai", "", server.URL, 0, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := o.AnalyzeImage(context.Background(), pngBytes(t), "describe")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if got != "a blank square" {
		t.Errorf("got %q", got)
	}

	messages := raw["messages"].([]any)
	parts := messages[0].(map[string]any)["content"].([]any)
	img := parts[1].(map[string]any)
	if img["type"] != "image_url" {
		t.Errorf("part type = %v", img["type"])
	}
	url := img["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %q", url)
	}
}

func TestOpenAI_UnsupportedImage(t *testing.T) {
	o, _ := NewOpenAI("k", "", "http://127.0.0.1:1", 0)
	_, err := o.AnalyzeImage(context.Background(), []byte("plain text"), "x")
	if !errors.Is(err, gateway.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestOpenAI_GenerateCode(t *testing.T) {
	var req openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"func TestX(t *testing.T) {}"}}]}`)
	}))
	defer server.Close()

	o, _ := NewOpenAI("", "local-model", server.URL, 0, WithHTTPClient(server.Client()))
	if _, err := o.GenerateCode(context.Background(), "wait for button", "go"); err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Model != "local-model" {
		t.Errorf("model = %q", req.Model)
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"", "local", "LOCAL"} {
		a, err := New(Config{Provider: name})
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if a.Name() != gateway.LocalName {
			t.Errorf("New(%q).Name() = %q", name, a.Name())
		}
	}
	if _, err := New(Config{Provider: "gemini"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(Config{Provider: "claude"}); err == nil {
		t.Error("expected error for claude without key")
	}
}

func TestNew_FallsBackToLocal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	a, err := New(Config{Provider: "claude", APIKey: "k", BaseURL: server.URL},
		WithHTTPClient(server.Client()), WithRecorder(rec))
	if err != nil {
		t.Fatal(err)
	}
	if a.Name() != ClaudeName {
		t.Errorf("Name = %q", a.Name())
	}
	got, err := a.GenerateAnalysis(context.Background(), "timeout waiting for page")
	if err != nil {
		t.Fatalf("GenerateAnalysis: %v", err)
	}
	if !strings.HasPrefix(got, "Rule-based analysis") {
		t.Errorf("expected local answer, got %q", got)
	}

	n, err := testutil.GatherAndCount(reg, "flaketrace_gateway_requests_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("gateway_requests_total series = %d, want 1", n)
	}
	n, _ = testutil.GatherAndCount(reg, "flaketrace_gateway_failovers_total")
	if n != 1 {
		t.Errorf("gateway_failovers_total series = %d, want 1", n)
	}
	if n, _ = testutil.GatherAndCount(reg, "flaketrace_fallback_total"); n != 0 {
		t.Errorf("a failover alone must not count as an explanation fallback, got %d series", n)
	}
}
