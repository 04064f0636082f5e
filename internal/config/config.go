// Package config loads flaketrace settings from YAML or JSON files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"flaketrace/adapters/llm"
	"flaketrace/internal/flaky"
	"flaketrace/internal/gateway"
)

// EnvProvider overrides Assist.Provider when set.
const EnvProvider = "FLAKETRACE_ASSIST_PROVIDER"

// Config is the full engine configuration.
type Config struct {
	Log     Log     `json:"log" yaml:"log"`
	Assist  Assist  `json:"assist" yaml:"assist"`
	Scoring Scoring `json:"scoring" yaml:"scoring"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Assist selects the generative assistant used for root-cause wording.
type Assist struct {
	Provider  string   `json:"provider" yaml:"provider"`
	Model     string   `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL   string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv string   `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	Timeout   Duration `json:"timeout" yaml:"timeout"`
	MaxTokens int      `json:"max_tokens" yaml:"max_tokens"`
}

type Scoring struct {
	MinRuns      int            `json:"min_runs" yaml:"min_runs"`
	BatchWorkers int            `json:"batch_workers" yaml:"batch_workers"`
	Timezone     string         `json:"timezone" yaml:"timezone"`
	Weights      *flaky.Weights `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Metrics.Addr enables the /metrics listener in serve mode when non-empty.
type Metrics struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Duration is a time.Duration that reads "30s" style strings from YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:    Log{Level: "info", Format: "text"},
		Assist: Assist{Provider: gateway.LocalName, Timeout: Duration(30 * time.Second), MaxTokens: 1024},
		Scoring: Scoring{
			MinRuns:      flaky.DefaultMinRuns,
			BatchWorkers: 8,
			Timezone:     "Local",
		},
	}
}

// LoadFromPath reads a config file. An empty path yields Default with the
// environment override applied.
func LoadFromPath(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Load(data, filepath.Ext(path))
}

// Load parses config bytes over Default. ext is a format hint (".json",
// ".yaml", ".yml"); empty means detect from the first non-space byte.
func Load(data []byte, ext string) (Config, error) {
	cfg := Default()
	if err := decode(data, ext, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, ext string, cfg *Config) error {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if ext == "" && strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		ext = ".json"
	}
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config json: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if p := strings.TrimSpace(os.Getenv(EnvProvider)); p != "" {
		c.Assist.Provider = p
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if !knownProvider(c.Assist.Provider) {
		errs = append(errs, fmt.Errorf("assist.provider: unknown provider %q (want one of %s)",
			c.Assist.Provider, strings.Join(llm.Providers(), ", ")))
	}
	if c.Assist.Timeout <= 0 {
		errs = append(errs, errors.New("assist.timeout must be positive"))
	}
	if c.Assist.MaxTokens < 0 {
		errs = append(errs, errors.New("assist.max_tokens must not be negative"))
	}
	if c.Scoring.MinRuns < 1 {
		errs = append(errs, errors.New("scoring.min_runs must be at least 1"))
	}
	if c.Scoring.BatchWorkers < 1 {
		errs = append(errs, errors.New("scoring.batch_workers must be at least 1"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("scoring.timezone: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: want text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Location resolves Scoring.Timezone. Empty and "Local" mean time.Local.
func (c Config) Location() (*time.Location, error) {
	switch c.Scoring.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Scoring.Timezone)
}

// APIKey reads the provider key from the configured environment variable,
// falling back to the provider's conventional one.
func (c Config) APIKey() string {
	env := c.Assist.APIKeyEnv
	if env == "" {
		switch strings.ToLower(c.Assist.Provider) {
		case llm.ClaudeName:
			env = "ANTHROPIC_API_KEY"
		case llm.OpenAIName:
			env = "OPENAI_API_KEY"
		default:
			return ""
		}
	}
	return os.Getenv(env)
}

// LLM converts the assist section into a provider registry config.
func (c Config) LLM() llm.Config {
	return llm.Config{
		Provider:  c.Assist.Provider,
		Model:     c.Assist.Model,
		BaseURL:   c.Assist.BaseURL,
		APIKey:    c.APIKey(),
		MaxTokens: c.Assist.MaxTokens,
	}
}

func knownProvider(p string) bool {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return true
	}
	for _, name := range llm.Providers() {
		if p == name {
			return true
		}
	}
	return false
}
