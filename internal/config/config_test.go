package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"flaketrace/internal/flaky"
)

func testdataPath(name string) string {
	_, f, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(f), "testdata", name)
}

func TestLoadFromPath_YAML(t *testing.T) {
	t.Setenv(EnvProvider, "")
	cfg, err := LoadFromPath(testdataPath("flaketrace.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	want := Config{
		Log: Log{Level: "debug", Format: "json"},
		Assist: Assist{
			Provider:  "claude",
			Model:     "claude-3-5-haiku-20241022",
			APIKeyEnv: "TEST_FLAKETRACE_KEY",
			Timeout:   Duration(5 * time.Second),
			MaxTokens: 512,
		},
		Scoring: Scoring{
			MinRuns:      10,
			BatchWorkers: 2,
			Timezone:     "UTC",
			Weights: &flaky.Weights{
				StrongBand: 0.5, WeakBand: 0.2, Inconsistency: 0.3, ModerateStreak: 0.2, TimePattern: 0.1,
			},
		},
		Metrics: Metrics{Addr: "127.0.0.1:9464"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromPath_JSONKeepsDefaults(t *testing.T) {
	t.Setenv(EnvProvider, "")
	cfg, err := LoadFromPath(testdataPath("flaketrace.json"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Assist.Provider != "openai" || cfg.Assist.Timeout.Std() != 45*time.Second {
		t.Errorf("assist = %+v", cfg.Assist)
	}
	if cfg.Scoring.MinRuns != 3 || cfg.Scoring.BatchWorkers != 8 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if cfg.Log.Level != "info" || cfg.Assist.MaxTokens != 1024 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_Detect(t *testing.T) {
	t.Setenv(EnvProvider, "")
	cfg, err := Load([]byte(`{"scoring":{"batch_workers":4}}`), "")
	if err != nil || cfg.Scoring.BatchWorkers != 4 {
		t.Errorf("json detect: %+v, %v", cfg.Scoring, err)
	}
	cfg, err = Load([]byte("scoring:\n  batch_workers: 3\n"), "")
	if err != nil || cfg.Scoring.BatchWorkers != 3 {
		t.Errorf("yaml detect: %+v, %v", cfg.Scoring, err)
	}
	if _, err := Load([]byte("{not json"), ".json"); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromPath_Empty(t *testing.T) {
	t.Setenv(EnvProvider, "")
	cfg, err := LoadFromPath("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("empty path should give defaults (-want +got):\n%s", diff)
	}
	if _, err := LoadFromPath(testdataPath("missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv(EnvProvider, "openai")
	cfg, err := Load([]byte("assist:\n  provider: claude\n"), ".yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Assist.Provider != "openai" {
		t.Errorf("provider = %q, want env override", cfg.Assist.Provider)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty provider", func(c *Config) { c.Assist.Provider = "" }, ""},
		{"unknown provider", func(c *Config) { c.Assist.Provider = "gemini" }, "unknown provider"},
		{"zero timeout", func(c *Config) { c.Assist.Timeout = 0 }, "assist.timeout"},
		{"min runs", func(c *Config) { c.Scoring.MinRuns = 0 }, "scoring.min_runs"},
		{"workers", func(c *Config) { c.Scoring.BatchWorkers = 0 }, "scoring.batch_workers"},
		{"timezone", func(c *Config) { c.Scoring.Timezone = "Mars/Olympus" }, "scoring.timezone"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAPIKeyAndLLM(t *testing.T) {
	t.Setenv("TEST_FLAKETRACE_KEY", "sk-custom")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	cfg := Default()
	cfg.Assist.Provider = "claude"
	if got := cfg.APIKey(); got != "sk-ant" {
		t.Errorf("conventional env: got %q", got)
	}
	cfg.Assist.APIKeyEnv = "TEST_FLAKETRACE_KEY"
	l := cfg.LLM()
	if l.APIKey != "sk-custom" || l.Provider != "claude" || l.MaxTokens != 1024 {
		t.Errorf("LLM() = %+v", l)
	}
	if got := Default().APIKey(); got != "" {
		t.Errorf("local provider should need no key, got %q", got)
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	if loc, _ := cfg.Location(); loc != time.Local {
		t.Errorf("Local expected, got %v", loc)
	}
	cfg.Scoring.Timezone = "UTC"
	if loc, err := cfg.Location(); err != nil || loc.String() != "UTC" {
		t.Errorf("UTC: %v, %v", loc, err)
	}
}
