package mcp

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flaketrace/internal/rootcause"
)

// JobState tracks the lifecycle of an asynchronous root-cause job.
type JobState string

const (
	JobRunning  JobState = "running"
	JobDone     JobState = "done"
	JobCanceled JobState = "canceled"
)

// Job analyses a list of failures in the background. Failures are analysed
// in order; cancellation stops before the next one.
type Job struct {
	ID    string
	Total int

	completed atomic.Int64
	doneCh    chan struct{}
	cancel    context.CancelFunc

	mu       sync.Mutex
	state    JobState
	results  []rootcause.Analysis
	finished time.Time
}

// StartJob spawns the runner goroutine and returns immediately. The job
// runs detached from ctx except for its values (trace context).
func StartJob(ctx context.Context, analyzer *rootcause.Analyzer, failures []rootcause.Failure, logger *slog.Logger) *Job {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &Job{
		ID:     "rca-" + uuid.NewString(),
		Total:  len(failures),
		doneCh: make(chan struct{}),
		cancel: cancel,
		state:  JobRunning,
	}
	go j.run(runCtx, analyzer, failures, logger)
	return j
}

func (j *Job) run(ctx context.Context, analyzer *rootcause.Analyzer, failures []rootcause.Failure, logger *slog.Logger) {
	defer close(j.doneCh)
	defer j.cancel()

	results := make([]rootcause.Analysis, 0, len(failures))
	state := JobDone
	for _, f := range failures {
		if ctx.Err() != nil {
			state = JobCanceled
			break
		}
		results = append(results, analyzer.Analyze(ctx, f))
		j.completed.Add(1)
	}

	j.mu.Lock()
	j.state = state
	j.results = results
	j.finished = time.Now()
	j.mu.Unlock()
	logger.Info("rca job finished", "job_id", j.ID, "state", state, "analysed", len(results), "total", j.Total)
}

// Cancel stops the job before its next failure.
func (j *Job) Cancel() { j.cancel() }

// Done returns a channel that closes when the job stops.
func (j *Job) Done() <-chan struct{} { return j.doneCh }

// Completed is the number of failures analysed so far.
func (j *Job) Completed() int { return int(j.completed.Load()) }

// State returns the current state in a thread-safe manner.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Results returns the analyses, or nil while the job is running.
func (j *Job) Results() []rootcause.Analysis {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.results
}

// expired reports whether a finished job has been kept longer than ttl.
func (j *Job) expired(now time.Time, ttl time.Duration) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state != JobRunning && !j.finished.IsZero() && now.Sub(j.finished) > ttl
}
