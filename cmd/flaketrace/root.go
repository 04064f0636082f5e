package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"flaketrace/adapters/llm"
	"flaketrace/internal/config"
	"flaketrace/internal/flaky"
	"flaketrace/internal/logging"
	"flaketrace/internal/metrics"
	"flaketrace/internal/rootcause"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	output     string
	timezone   string
	provider   string
}

// app holds the engine built from configuration for one invocation.
type app struct {
	cfg      config.Config
	loc      *time.Location
	registry *prometheus.Registry
	recorder *metrics.Recorder
	scorer   *flaky.Scorer
	analyzer *rootcause.Analyzer
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	var (
		flags rootFlags
		a     app
	)
	root := &cobra.Command{
		Use:   "flaketrace",
		Short: "Flakiness scoring and root-cause analysis for automated UI tests",
		Long: `flaketrace scores how flaky a test is from its run history and explains
why a single run failed by combining its error, screenshots, DOM snapshot,
network log, environment and history.

Run histories are read from JSON, YAML or JUnit XML. Failures are read from
JSON or YAML records.`,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			built, err := buildApp(cmd, flags)
			if err != nil {
				return err
			}
			a = *built
			return nil
		},
	}
	root.Version = version

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file (YAML or JSON)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: text or json (default from config)")
	pf.StringVarP(&flags.output, "output", "o", "ascii", "Output: json, ascii or markdown")
	pf.StringVar(&flags.timezone, "timezone", "", "IANA zone for hour and weekday buckets (default from config)")
	pf.StringVar(&flags.provider, "assist-provider", "", "Generative assist provider: local, claude, openai (default from config)")

	root.AddCommand(newScoreCmd(&a, &flags))
	root.AddCommand(newBatchCmd(&a, &flags))
	root.AddCommand(newRCACmd(&a, &flags))
	root.AddCommand(newServeCmd(&a))
	return root
}

// buildApp loads configuration, applies flag overrides and wires the engine.
func buildApp(cmd *cobra.Command, flags rootFlags) (*app, error) {
	cfg, err := config.LoadFromPath(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if flags.timezone != "" {
		cfg.Scoring.Timezone = flags.timezone
	}
	if flags.provider != "" {
		cfg.Assist.Provider = flags.provider
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := parseOutput(flags.output); err != nil {
		return nil, err
	}

	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
	logger := logging.New("cli")

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	reg := metrics.NewRegistry()
	rec := metrics.NewRecorder(reg)

	assistant, err := llm.New(cfg.LLM(),
		llm.WithTimeout(cfg.Assist.Timeout.Std()),
		llm.WithLogger(logging.New("llm")),
		llm.WithRecorder(rec),
	)
	if err != nil {
		return nil, err
	}

	scorerOpts := []flaky.Option{
		flaky.WithMinRuns(cfg.Scoring.MinRuns),
		flaky.WithWorkers(cfg.Scoring.BatchWorkers),
		flaky.WithLocation(loc),
		flaky.WithRecorder(rec),
	}
	if cfg.Scoring.Weights != nil {
		scorerOpts = append(scorerOpts, flaky.WithWeights(*cfg.Scoring.Weights))
	}

	logger.Debug("engine configured",
		"assist_provider", assistant.Name(), "timezone", loc.String(),
		"min_runs", cfg.Scoring.MinRuns, "workers", cfg.Scoring.BatchWorkers)

	return &app{
		cfg:      cfg,
		loc:      loc,
		registry: reg,
		recorder: rec,
		scorer:   flaky.NewScorer(scorerOpts...),
		analyzer: rootcause.New(
			rootcause.WithAssistant(assistant),
			rootcause.WithLocation(loc),
			rootcause.WithRecorder(rec),
		),
		logger: logger,
	}, nil
}
