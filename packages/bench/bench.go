package bench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

// progressInterval is how often the live progress display refreshes.
const progressInterval = 500 * time.Millisecond

// Runner executes bench runs against an engine
type Runner struct {
	config    *Config
	engine    transfer.Executor
	scheduler *Scheduler
	metrics   *Metrics
	reporter  *Reporter
	logger    *slog.Logger
	newID     func() transfer.TaskID
}

// RunnerOption configures the runner
type RunnerOption func(*Runner)

// WithReporter sets the reporter
func WithReporter(reporter *Reporter) RunnerOption {
	return func(r *Runner) {
		r.reporter = reporter
	}
}

// WithLogger sets the logger used for per-transfer debug records
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTaskIDs overrides how task IDs are generated
func WithTaskIDs(fn func() transfer.TaskID) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRunner creates a new bench runner
func NewRunner(config *Config, engine transfer.Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		config:    config,
		engine:    engine,
		metrics:   NewMetrics(),
		scheduler: NewScheduler(config),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:     func() transfer.TaskID { return transfer.TaskID(uuid.NewString()) },
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.reporter == nil {
		r.reporter = NewReporter()
	}

	return r
}

// Run issues req repeatedly according to the config. Transfers already
// started when Duration elapses are allowed to finish; cancelling ctx
// cancels them.
func (r *Runner) Run(ctx context.Context, req *transfer.Request) (*Result, error) {
	if err := r.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r.reporter.Header(req.Method, req.BuildURL(), r.config)

	r.metrics.Start()

	dispatchCtx := ctx
	if r.config.Duration > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, r.config.Duration)
		defer cancel()
	}

	progressDone := make(chan struct{})
	progressStopped := make(chan struct{})
	go r.progressLoop(progressDone, progressStopped)

	r.dispatch(ctx, dispatchCtx, req)

	r.metrics.Stop()
	close(progressDone)
	<-progressStopped
	r.reporter.ClearProgress()

	summary := r.metrics.GetSummary()
	var thresholdResults []ThresholdResult
	if r.config.Thresholds.HasThresholds() {
		thresholdResults = EvaluateThresholds(summary, r.config.Thresholds)
	}

	r.reporter.Summary(summary, thresholdResults)

	result := &Result{
		Summary:    summary,
		Thresholds: thresholdResults,
	}
	result.Passed = !result.HasThresholdFailures()
	return result, nil
}

// dispatch starts transfers until the request count is reached or
// dispatchCtx is done, then waits for every started transfer.
func (r *Runner) dispatch(ctx, dispatchCtx context.Context, req *transfer.Request) {
	var wg sync.WaitGroup
	defer wg.Wait()

	startTime := time.Now()
	for i := 0; r.config.Requests == 0 || i < r.config.Requests; i++ {
		if r.config.RampUp > 0 {
			r.scheduler.UpdateRate(r.scheduler.GetCurrentRate(time.Since(startTime)))
		}

		if err := r.scheduler.Wait(dispatchCtx); err != nil {
			return
		}
		if err := r.scheduler.Acquire(dispatchCtx); err != nil {
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.scheduler.Release()

			r.execute(ctx, req)
		}()
	}
}

// execute runs one transfer and records it. Response bodies are discarded.
func (r *Runner) execute(ctx context.Context, req *transfer.Request) {
	id := r.newID()

	if r.config.CancelAfter > 0 {
		timer := time.AfterFunc(r.config.CancelAfter, func() {
			r.engine.Cancel(id)
		})
		defer timer.Stop()
	}

	start := time.Now()
	resp, err := r.engine.Execute(ctx, req, id)
	elapsed := time.Since(start)

	r.metrics.Record(elapsed, resp, err)

	if err != nil {
		r.logger.Debug("bench transfer failed", "task", id, "kind", transfer.KindOf(err).String(), "error", err)
		return
	}
	r.logger.Debug("bench transfer", "task", id, "status", resp.StatusCode, "size", resp.Size, "elapsed", elapsed)
	if rmErr := resp.Remove(); rmErr != nil {
		r.logger.Warn("removing spilled body", "task", id, "path", resp.BodyFile, "error", rmErr)
	}
}

// progressLoop updates the progress display
func (r *Runner) progressLoop(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.reporter.Progress(r.metrics.GetCurrentStats(r.scheduler.Active()), r.config)
		}
	}
}

// Result holds the final result of a bench run
type Result struct {
	Summary    *Summary
	Thresholds []ThresholdResult
	Passed     bool
}

// HasThresholdFailures returns true if any thresholds failed
func (r *Result) HasThresholdFailures() bool {
	for _, tr := range r.Thresholds {
		if !tr.Passed {
			return true
		}
	}
	return false
}
