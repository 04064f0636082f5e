package gateway

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"flaketrace/internal/logging"
)

type stubAssistant struct {
	name  string
	reply string
	err   error
	calls int
}

func (s *stubAssistant) Name() string { return s.name }

func (s *stubAssistant) GenerateAnalysis(context.Context, string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubAssistant) GenerateCode(context.Context, string, string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubAssistant) AnalyzeImage(context.Context, []byte, string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestLocal_GenerateAnalysis(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"Error: Timeout 30000ms exceeded", "timing problem"},
		{"TypeError: fetch failed", "network problem"},
		{"element not found: #submit", "DOM problem"},
		{"expected 3 got 4", "test data problem"},
		{"something odd", "no known failure signature"},
		{"", "no known failure signature"},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			got, err := Local{}.GenerateAnalysis(context.Background(), tt.prompt)
			if err != nil {
				t.Fatalf("GenerateAnalysis: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("got %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestLocal_Deterministic(t *testing.T) {
	l := Local{}
	a, _ := l.GenerateAnalysis(context.Background(), "network error on /api")
	b, _ := l.GenerateAnalysis(context.Background(), "network error on /api")
	if a != b {
		t.Errorf("outputs differ: %q vs %q", a, b)
	}
}

func TestLocal_GenerateCode(t *testing.T) {
	got, err := Local{}.GenerateCode(context.Background(), "wait for login button\nmore", "go")
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if !strings.HasPrefix(got, "// wait for login button\nfunc TestGenerated") {
		t.Errorf("unexpected skeleton:\n%s", got)
	}

	if _, err := (Local{}).GenerateCode(context.Background(), "x", "cobol"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("cobol: err = %v, want ErrUnsupported", err)
	}
}

func TestLocal_AnalyzeImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.SetGray(x, 0, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	got, err := Local{}.AnalyzeImage(context.Background(), buf.Bytes(), "")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if want := "png image, 4x2 pixels, mean luminance 0.50"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := (Local{}).AnalyzeImage(context.Background(), []byte("not an image"), ""); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("corrupt image: err = %v, want ErrMalformedResponse", err)
	}
}

func TestWithFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubAssistant{name: "claude", reply: "remote"}
		backup := &stubAssistant{name: "local", reply: "local"}
		f := WithFallback(primary, backup, WithFallbackLogger(logging.Discard()))
		got, err := f.GenerateAnalysis(ctx, "p")
		if err != nil || got != "remote" {
			t.Fatalf("got %q, %v", got, err)
		}
		if backup.calls != 0 {
			t.Errorf("fallback called %d times", backup.calls)
		}
	})

	t.Run("primary fails once", func(t *testing.T) {
		primary := &stubAssistant{name: "claude", err: ErrUnavailable}
		backup := &stubAssistant{name: "local", reply: "local"}
		f := WithFallback(primary, backup, WithFallbackLogger(logging.Discard()))
		got, err := f.GenerateCode(ctx, "p", "go")
		if err != nil || got != "local" {
			t.Fatalf("got %q, %v", got, err)
		}
		if primary.calls != 1 {
			t.Errorf("primary called %d times, want exactly 1", primary.calls)
		}
		if f.Name() != "claude" {
			t.Errorf("Name = %q", f.Name())
		}
	})

	t.Run("nil primary", func(t *testing.T) {
		f := WithFallback(nil, nil, WithFallbackLogger(logging.Discard()))
		if f.Name() != LocalName {
			t.Errorf("Name = %q, want %q", f.Name(), LocalName)
		}
		if _, err := f.GenerateAnalysis(ctx, "timeout"); err != nil {
			t.Errorf("GenerateAnalysis: %v", err)
		}
	})
}

var fixSchema = MustSchema(`{
  "type": "object",
  "required": ["explanation", "suggestedFix"],
  "properties": {
    "explanation": {"type": "string", "minLength": 1},
    "suggestedFix": {"type": "string"}
  }
}`)

type fixReply struct {
	Explanation  string `json:"explanation"`
	SuggestedFix string `json:"suggestedFix"`
}

func TestGenerateJSON(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		err     error
		want    fixReply
		wantErr error
	}{
		{
			name:  "fenced",
			reply: "Here you go:\n```json\n{\"explanation\": \"slow {api}\", \"suggestedFix\": \"wait\"}\n```",
			want:  fixReply{Explanation: "slow {api}", SuggestedFix: "wait"},
		},
		{name: "prose", reply: "I think it is a timing issue.", wantErr: ErrMalformedResponse},
		{name: "schema violation", reply: `{"explanation": ""}`, wantErr: ErrMalformedResponse},
		{name: "empty", reply: "  \n", wantErr: ErrEmptyResponse},
		{name: "provider error", err: ErrUnavailable, wantErr: ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &stubAssistant{name: "stub", reply: tt.reply, err: tt.err}
			var got fixReply
			err := GenerateJSON(context.Background(), a, "prompt", fixSchema, &got)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateJSON: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateJSON_Local(t *testing.T) {
	schema := MustSchema(`{
	  "type": "object",
	  "required": ["explanation", "suggestedFix"],
	  "properties": {
	    "explanation": {"type": "string", "minLength": 1},
	    "suggestedFix": {"type": "object", "required": ["description"]}
	  }
	}`)

	var prose LocalReply
	err := GenerateJSON(context.Background(), Local{}, "timeout waiting for selector", schema, &prose)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("prompt without the JSON instruction: err = %v, want ErrMalformedResponse", err)
	}

	var got LocalReply
	prompt := "Error: Timeout 30000ms exceeded\n" + JSONReplyInstruction + ": {...}"
	if err := GenerateJSON(context.Background(), Local{}, prompt, schema, &got); err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	want := LocalReply{
		Explanation:  `Rule-based analysis: the failure matches a timing problem (keyword "timeout").`,
		SuggestedFix: LocalFix{Description: "Replace fixed sleeps with explicit waits on the condition the test depends on."},
		Provider:     LocalName,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{`x {"a":{"b":"}"}} y {"c":2}`, `{"a":{"b":"}"}}`, true},
		{`{"a":"\"}"}`, `{"a":"\"}"}`, true},
		{`{"a":`, "", false},
		{`none`, "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractJSON(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestProviderError(t *testing.T) {
	err := &ProviderError{Provider: "openai", StatusCode: 503, Err: ErrUnavailable}
	if !errors.Is(err, ErrUnavailable) {
		t.Error("ProviderError should unwrap to ErrUnavailable")
	}
	if got := err.Error(); got != "openai: status 503: gateway: assistant unavailable" {
		t.Errorf("Error() = %q", got)
	}
}
