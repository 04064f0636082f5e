// Package mcp exposes the flakiness scorer and root-cause analyzer as MCP
// tools over stdio.
package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"flaketrace/internal/flaky"
	"flaketrace/internal/history"
	"flaketrace/internal/logging"
	"flaketrace/internal/netsignal"
	"flaketrace/internal/rootcause"
)

var (
	DefaultJobWaitTimeout = 10 * time.Second
	DefaultJobTTL         = 15 * time.Minute
)

// Server wraps the MCP SDK server around the analysis engine.
type Server struct {
	MCPServer *sdkmcp.Server

	scorer   *flaky.Scorer
	analyzer *rootcause.Analyzer
	history  *history.Analyzer
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	logger  *slog.Logger
	version string
	loc     *time.Location
}

func WithLogger(l *slog.Logger) Option { return func(c *serverConfig) { c.logger = l } }

func WithVersion(v string) Option { return func(c *serverConfig) { c.version = v } }

// WithLocation sets the zone used by analyze_history bucketing.
func WithLocation(loc *time.Location) Option { return func(c *serverConfig) { c.loc = loc } }

// NewServer registers the tools. A nil scorer or analyzer gets the defaults.
func NewServer(scorer *flaky.Scorer, analyzer *rootcause.Analyzer, opts ...Option) *Server {
	cfg := serverConfig{version: "dev"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.New("mcp")
	}
	if scorer == nil {
		scorer = flaky.NewScorer()
	}
	if analyzer == nil {
		analyzer = rootcause.New()
	}
	s := &Server{
		scorer:   scorer,
		analyzer: analyzer,
		history:  history.NewAnalyzer(history.WithLocation(cfg.loc)),
		logger:   cfg.logger,
		jobs:     map[string]*Job{},
	}
	s.MCPServer = sdkmcp.NewServer(&sdkmcp.Implementation{Name: "flaketrace", Version: cfg.version}, nil)
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "score_flakiness",
		Description: "Score one test's run history for flakiness in [0,1] and recommend quarantine, fix, investigate or monitor.",
	}, s.handleScoreFlakiness)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze_batch",
		Description: "Score many tests at once. Results are sorted by flakiness score, highest first, with a batch summary.",
	}, s.handleAnalyzeBatch)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze_history",
		Description: "Describe a run history: failure rate, alternation-based flakiness, trend, streaks, hour, weekday and ISO-week failure tables, durations. Runs may be in any order.",
	}, s.handleAnalyzeHistory)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze_failure",
		Description: "Classify a failed test run into a root-cause category using its error, screenshots, DOM, network log, environment and history.",
	}, s.handleAnalyzeFailure)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_rca_job",
		Description: "Start root-cause analysis of several failures in the background. Returns a job ID for get_rca_job.",
	}, s.handleStartRCAJob)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_rca_job",
		Description: "Wait for a root-cause job started with start_rca_job and return its results when done.",
	}, s.handleGetRCAJob)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "cancel_rca_job",
		Description: "Cancel a root-cause job. The failure being analysed finishes; the rest are skipped. Returns the final state and the results so far.",
	}, s.handleCancelRCAJob)
}

// --- Tool input/output types ---

type scoreInput struct {
	TestID         string                `json:"test_id" jsonschema:"stable test identifier"`
	TestName       string                `json:"test_name,omitempty" jsonschema:"human-readable test name"`
	Runs           []history.TestRun     `json:"runs" jsonschema:"execution history; order does not matter"`
	RecentFailures []flaky.RecentFailure `json:"recent_failures,omitempty" jsonschema:"recent failures with browser, for the per-browser table"`
}

type batchInput struct {
	Tests []flaky.Input `json:"tests" jsonschema:"tests to score"`
}

type batchOutput struct {
	Results []flaky.Analysis `json:"results"`
	Summary flaky.Summary    `json:"summary"`
}

type historyInput struct {
	Runs []history.TestRun `json:"runs" jsonschema:"execution history; order does not matter"`
}

type timePatternOutput struct {
	Granularity history.Granularity `json:"granularity"`
	Confidence  float64             `json:"confidence"`
	// Buckets is keyed by the decimal bucket number.
	Buckets map[string]float64 `json:"buckets"`
}

type durationOutput struct {
	Mean     float64               `json:"mean"`
	StdDev   float64               `json:"std_dev"`
	Trend    history.DurationTrend `json:"trend"`
	SlowRuns []string              `json:"slow_runs"`
}

type historyOutput struct {
	IsFlaky           bool                `json:"is_flaky"`
	FailureRate       float64             `json:"failure_rate"`
	AlternationRate   float64             `json:"alternation_rate"`
	RecentDegradation bool                `json:"recent_degradation"`
	ConsistencyScore  float64             `json:"consistency_score"`
	Trend             history.Trend       `json:"trend"`
	LongestPass       int                 `json:"longest_pass"`
	LongestFail       int                 `json:"longest_fail"`
	TimePatterns      []timePatternOutput `json:"time_patterns"`
	Durations         durationOutput      `json:"durations"`
}

// failureArg is the wire form of a failure. Screenshots travel as base64.
type failureArg struct {
	ID               string                     `json:"id,omitempty" jsonschema:"failure identifier"`
	TestID           string                     `json:"test_id,omitempty"`
	TestName         string                     `json:"test_name,omitempty"`
	Timestamp        int64                      `json:"timestamp,omitempty" jsonschema:"failure time, epoch milliseconds"`
	Error            rootcause.ErrorInfo        `json:"error" jsonschema:"error message, optional stack and type"`
	ScreenshotBefore string                     `json:"screenshot_before,omitempty" jsonschema:"base64 image from before the failing step"`
	ScreenshotAfter  string                     `json:"screenshot_after,omitempty" jsonschema:"base64 image from the failure"`
	ScreenshotDiff   string                     `json:"screenshot_diff,omitempty" jsonschema:"base64 diff image produced by the test runner"`
	DOMSnapshot      string                     `json:"dom_snapshot,omitempty" jsonschema:"page HTML at failure time"`
	BaselineDOM      string                     `json:"baseline_dom,omitempty" jsonschema:"page HTML from the last passing run"`
	NetworkLogs      []netsignal.Event          `json:"network_logs,omitempty"`
	Context          rootcause.ExecutionContext `json:"context,omitempty"`
	PriorRuns        []history.TestRun          `json:"prior_runs,omitempty" jsonschema:"earlier runs of the same test"`
}

func (a failureArg) failure() (rootcause.Failure, error) {
	f := rootcause.Failure{
		ID:          a.ID,
		TestID:      a.TestID,
		TestName:    a.TestName,
		Timestamp:   a.Timestamp,
		Error:       a.Error,
		DOMSnapshot: a.DOMSnapshot,
		BaselineDOM: a.BaselineDOM,
		NetworkLogs: a.NetworkLogs,
		Context:     a.Context,
		PriorRuns:   a.PriorRuns,
	}
	if a.ScreenshotBefore == "" && a.ScreenshotAfter == "" && a.ScreenshotDiff == "" {
		return f, nil
	}
	var shots rootcause.Screenshots
	for _, shot := range []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"screenshot_before", a.ScreenshotBefore, &shots.Before},
		{"screenshot_after", a.ScreenshotAfter, &shots.After},
		{"screenshot_diff", a.ScreenshotDiff, &shots.Diff},
	} {
		b, err := base64.StdEncoding.DecodeString(shot.src)
		if err != nil {
			return f, fmt.Errorf("%s: %w", shot.name, err)
		}
		if len(b) > 0 {
			*shot.dst = b
		}
	}
	f.Screenshots = &shots
	return f, nil
}

type startJobInput struct {
	Failures []failureArg `json:"failures" jsonschema:"failures to analyse, in order"`
}

type startJobOutput struct {
	JobID string `json:"job_id"`
	Total int    `json:"total"`
	State string `json:"state"`
}

type getJobInput struct {
	JobID     string `json:"job_id" jsonschema:"job ID from start_rca_job"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"max wait in milliseconds (0 = server default)"`
}

type getJobOutput struct {
	State     string               `json:"state"`
	Done      bool                 `json:"done"`
	Completed int                  `json:"completed"`
	Total     int                  `json:"total"`
	Results   []rootcause.Analysis `json:"results,omitempty"`
}

type cancelJobInput struct {
	JobID string `json:"job_id" jsonschema:"job ID from start_rca_job"`
}

// --- Tool handlers ---

func (s *Server) handleScoreFlakiness(ctx context.Context, _ *sdkmcp.CallToolRequest, in scoreInput) (*sdkmcp.CallToolResult, flaky.Analysis, error) {
	if in.TestID == "" {
		return nil, flaky.Analysis{}, fmt.Errorf("test_id is required")
	}
	out := s.scorer.Score(in.TestID, in.TestName, in.Runs, in.RecentFailures)
	s.logger.DebugContext(ctx, "scored", "test_id", in.TestID, "score", out.Flakiness.Score)
	return nil, out, nil
}

func (s *Server) handleAnalyzeBatch(ctx context.Context, _ *sdkmcp.CallToolRequest, in batchInput) (*sdkmcp.CallToolResult, batchOutput, error) {
	results := s.scorer.AnalyzeMultiple(ctx, in.Tests)
	return nil, batchOutput{Results: results, Summary: flaky.Summarize(results)}, nil
}

func (s *Server) handleAnalyzeHistory(_ context.Context, _ *sdkmcp.CallToolRequest, in historyInput) (*sdkmcp.CallToolResult, historyOutput, error) {
	sorted := history.Sorted(in.Runs)
	pa := s.history.Analyze(sorted)
	streaks := history.LongestStreaks(sorted)
	ds := history.Durations(sorted)

	out := historyOutput{
		IsFlaky:           pa.IsFlaky,
		FailureRate:       pa.FailureRate,
		AlternationRate:   history.AlternationRate(sorted),
		RecentDegradation: pa.RecentDegradation,
		ConsistencyScore:  pa.ConsistencyScore,
		Trend:             pa.Trend,
		LongestPass:       streaks.LongestPass,
		LongestFail:       streaks.LongestFail,
		TimePatterns:      make([]timePatternOutput, 0, len(pa.TimeBasedPatterns)),
		Durations: durationOutput{
			Mean:     ds.Mean,
			StdDev:   ds.StdDev,
			Trend:    ds.Trend,
			SlowRuns: make([]string, 0, len(ds.SlowRuns)),
		},
	}
	for _, p := range pa.TimeBasedPatterns {
		buckets := make(map[string]float64, len(p.Buckets))
		for k, v := range p.Buckets {
			buckets[strconv.Itoa(k)] = v
		}
		out.TimePatterns = append(out.TimePatterns, timePatternOutput{Granularity: p.Granularity, Confidence: p.Confidence, Buckets: buckets})
	}
	for _, r := range ds.SlowRuns {
		out.Durations.SlowRuns = append(out.Durations.SlowRuns, r.ID)
	}
	return nil, out, nil
}

func (s *Server) handleAnalyzeFailure(ctx context.Context, _ *sdkmcp.CallToolRequest, in failureArg) (*sdkmcp.CallToolResult, rootcause.Analysis, error) {
	f, err := in.failure()
	if err != nil {
		return nil, rootcause.Analysis{}, err
	}
	return nil, s.analyzer.Analyze(ctx, f), nil
}

func (s *Server) handleStartRCAJob(ctx context.Context, _ *sdkmcp.CallToolRequest, in startJobInput) (*sdkmcp.CallToolResult, startJobOutput, error) {
	if len(in.Failures) == 0 {
		return nil, startJobOutput{}, fmt.Errorf("failures is empty")
	}
	failures := make([]rootcause.Failure, len(in.Failures))
	for i, a := range in.Failures {
		f, err := a.failure()
		if err != nil {
			return nil, startJobOutput{}, fmt.Errorf("failures[%d]: %w", i, err)
		}
		failures[i] = f
	}

	j := StartJob(ctx, s.analyzer, failures, s.logger)
	s.mu.Lock()
	s.pruneLocked(time.Now())
	s.jobs[j.ID] = j
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "rca job started", "job_id", j.ID, "total", j.Total)

	return nil, startJobOutput{JobID: j.ID, Total: j.Total, State: string(JobRunning)}, nil
}

func (s *Server) handleGetRCAJob(ctx context.Context, _ *sdkmcp.CallToolRequest, in getJobInput) (*sdkmcp.CallToolResult, getJobOutput, error) {
	j, err := s.getJob(in.JobID)
	if err != nil {
		return nil, getJobOutput{}, err
	}

	timeout := DefaultJobWaitTimeout
	if in.TimeoutMS > 0 {
		timeout = time.Duration(in.TimeoutMS) * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-j.Done():
	case <-timer.C:
	case <-ctx.Done():
		return nil, getJobOutput{}, ctx.Err()
	}

	out := getJobOutput{State: string(j.State()), Completed: j.Completed(), Total: j.Total}
	select {
	case <-j.Done():
		out.Done = true
		out.Results = j.Results()
	default:
	}
	return nil, out, nil
}

func (s *Server) handleCancelRCAJob(ctx context.Context, _ *sdkmcp.CallToolRequest, in cancelJobInput) (*sdkmcp.CallToolResult, getJobOutput, error) {
	j, err := s.getJob(in.JobID)
	if err != nil {
		return nil, getJobOutput{}, err
	}
	j.Cancel()

	timer := time.NewTimer(DefaultJobWaitTimeout)
	defer timer.Stop()
	out := getJobOutput{Total: j.Total}
	select {
	case <-j.Done():
		out.Done = true
		out.Results = j.Results()
	case <-timer.C:
	case <-ctx.Done():
		return nil, getJobOutput{}, ctx.Err()
	}
	out.State = string(j.State())
	out.Completed = j.Completed()
	s.logger.InfoContext(ctx, "rca job cancel requested", "job_id", j.ID, "state", out.State, "completed", out.Completed)
	return nil, out, nil
}

// Shutdown cancels every running job.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		j.Cancel()
		delete(s.jobs, id)
	}
}

func (s *Server) getJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("unknown job_id %q (call start_rca_job first)", id)
	}
	return j, nil
}

func (s *Server) pruneLocked(now time.Time) {
	for id, j := range s.jobs {
		if j.expired(now, DefaultJobTTL) {
			delete(s.jobs, id)
		}
	}
}
