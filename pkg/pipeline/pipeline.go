// Package pipeline orchestrates the five-stage run: ingestion,
// preprocessing, extraction, resolution, loading. Run rows live in
// Postgres; per-stage progress is checkpointed to JSONL so an
// interrupted run resumes where it stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/checkpoint"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/config"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
)

// ErrCanceled is the cause carried by the run context when CancelRun
// was requested.
var ErrCanceled = errors.New("run canceled")

// Publisher hands a run id to whoever executes runs. The server
// publishes to the queue; tests run inline.
type Publisher interface {
	PublishRun(ctx context.Context, runID string) error
}

// Orchestrator drives pipeline runs end to end.
type Orchestrator struct {
	registry      Registry
	checkpoints   *checkpoint.Store
	publisher     Publisher
	stages        []Stage
	backoff       util.Backoff
	cancelPoll    time.Duration
	progressFlush time.Duration
}

type Params struct {
	Registry    Registry
	Checkpoints *checkpoint.Store
	// Publisher is optional; StartRun without one only records the
	// run and leaves execution to the caller.
	Publisher Publisher
	Stages    []Stage
	Backoff   util.Backoff
	// CancelPoll is how often the cancel flag is checked during a
	// run. Defaults to 2s.
	CancelPoll time.Duration
	// ProgressFlush is the minimum interval between mid-stage counter
	// writes to the registry. Defaults to 5s.
	ProgressFlush time.Duration
}

func New(params Params) *Orchestrator {
	backoff := params.Backoff
	if backoff.MaxTries == 0 {
		backoff = util.DefaultBackoff
	}
	cancelPoll := params.CancelPoll
	if cancelPoll <= 0 {
		cancelPoll = 2 * time.Second
	}
	progressFlush := params.ProgressFlush
	if progressFlush <= 0 {
		progressFlush = 5 * time.Second
	}
	return &Orchestrator{
		registry:      params.Registry,
		checkpoints:   params.Checkpoints,
		publisher:     params.Publisher,
		stages:        params.Stages,
		backoff:       backoff,
		cancelPoll:    cancelPoll,
		progressFlush: progressFlush,
	}
}

// StartRun validates the options, registers the run and publishes it
// for execution. It returns the run id immediately; progress is read
// through GetStatus.
func (o *Orchestrator) StartRun(ctx context.Context, opts config.RunOptions) (string, error) {
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return "", &ConfigurationError{Err: err}
	}
	for _, stage := range opts.ForceStages {
		if !KnownStage(stage) {
			return "", &ConfigurationError{Err: fmt.Errorf("unknown stage %q", stage)}
		}
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	runID := "run_" + id

	run := &Run{ID: runID, Options: opts, Status: StatusPending, Counters: map[string]int{}}
	if err := o.registry.Create(ctx, run); err != nil {
		return "", fmt.Errorf("register run: %w", err)
	}

	if o.publisher != nil {
		if err := o.publisher.PublishRun(ctx, runID); err != nil {
			if statusErr := o.registry.UpdateStatus(ctx, runID, StatusFailed, err.Error()); statusErr != nil {
				logger.Error("[Pipeline] Failed to mark unpublished run", "run", runID, "err", statusErr)
			}
			return "", fmt.Errorf("publish run: %w", err)
		}
	}

	logger.Info("[Pipeline] Run started", "run", runID, "sources", opts.Sources)
	return runID, nil
}

// ExecuteRun runs every stage in order, skipping stages a previous
// attempt already completed unless they are force-rerun. It is called
// by the worker and may be called again after a failure to resume.
func (o *Orchestrator) ExecuteRun(ctx context.Context, runID string) error {
	run, err := o.registry.Get(ctx, runID)
	if err != nil {
		return err
	}
	replayed, err := o.checkpoints.Replay(runID)
	if err != nil {
		return fmt.Errorf("replay checkpoints: %w", err)
	}
	if err := o.registry.UpdateStatus(ctx, runID, StatusRunning, ""); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopWatch := o.watchCancel(runCtx, runID, cancel)
	defer stopWatch()

	force := map[string]bool{}
	for _, name := range run.Options.ForceStages {
		force[name] = true
	}

	st := newState(runID, run.Options)
	for key, value := range run.Counters {
		st.Counters[key] = value
	}
	lastFlush := time.Now()
	st.Flush = func() {
		if time.Since(lastFlush) < o.progressFlush {
			return
		}
		lastFlush = time.Now()
		o.persistCounters(runID, st.Counters)
	}

	for _, stage := range o.stages {
		// A skipped record is itself proof of completion: it is what a
		// previous resume appended on top of the succeeded one.
		if last, ok := replayed[stage.Name()]; ok && !force[stage.Name()] &&
			(last.Status == checkpoint.StatusSucceeded || last.Status == checkpoint.StatusSkipped) {
			resumeErr := stage.Resume(runCtx, st, last.ArtifactRef)
			if resumeErr == nil {
				o.appendCheckpoint(checkpoint.Record{
					RunID: runID, Stage: stage.Name(), Status: checkpoint.StatusSkipped,
					ArtifactRef: last.ArtifactRef,
				})
				logger.Info("[Pipeline] Stage skipped", "run", runID, "stage", stage.Name())
				continue
			}
			logger.Warn("[Pipeline] Resume failed, re-running stage",
				"run", runID, "stage", stage.Name(), "err", resumeErr)
		}

		if err := o.runStage(runCtx, st, stage); err != nil {
			o.persistCounters(runID, st.Counters)
			if errors.Is(context.Cause(runCtx), ErrCanceled) {
				if statusErr := o.registry.UpdateStatus(ctx, runID, StatusCanceled, ""); statusErr != nil {
					logger.Error("[Pipeline] Failed to mark run canceled", "run", runID, "err", statusErr)
				}
				logger.Info("[Pipeline] Run canceled", "run", runID, "stage", stage.Name())
				return ErrCanceled
			}
			if statusErr := o.registry.UpdateStatus(ctx, runID, StatusFailed, err.Error()); statusErr != nil {
				logger.Error("[Pipeline] Failed to mark run failed", "run", runID, "err", statusErr)
			}
			logger.Error("[Pipeline] Run failed", "run", runID, "stage", stage.Name(), "err", err)
			return err
		}
		o.persistCounters(runID, st.Counters)
	}

	if err := o.registry.UpdateStatus(ctx, runID, StatusSucceeded, ""); err != nil {
		return err
	}
	logger.Info("[Pipeline] Run succeeded", "run", runID, "counters", st.Counters)
	return nil
}

// runStage executes one stage under the retry schedule, bracketing it
// with Running and Succeeded/Failed checkpoints.
func (o *Orchestrator) runStage(ctx context.Context, st *State, stage Stage) error {
	attempt := 0
	o.appendCheckpoint(checkpoint.Record{
		RunID: st.RunID, Stage: stage.Name(), Status: checkpoint.StatusRunning,
	})

	var artifact string
	err := util.RetryErrWithContext(ctx, o.backoff, IsRetryable, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			logger.Warn("[Pipeline] Retrying stage", "run", st.RunID, "stage", stage.Name(), "attempt", attempt)
		}
		ref, execErr := stage.Execute(ctx, st)
		if execErr == nil {
			artifact = ref
		}
		return execErr
	})
	if err != nil {
		o.appendCheckpoint(checkpoint.Record{
			RunID: st.RunID, Stage: stage.Name(), Status: checkpoint.StatusFailed,
			Attempt: attempt, Error: err.Error(),
		})
		return err
	}

	o.appendCheckpoint(checkpoint.Record{
		RunID: st.RunID, Stage: stage.Name(), Status: checkpoint.StatusSucceeded,
		ArtifactRef: artifact, Attempt: attempt,
	})
	return nil
}

// watchCancel polls the run's cancel flag and cancels the run context
// when it is set. The running work unit finishes before the stages see
// the cancellation.
func (o *Orchestrator) watchCancel(ctx context.Context, runID string, cancel context.CancelCauseFunc) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				requested, err := o.registry.CancelRequested(ctx, runID)
				if err != nil {
					logger.Warn("[Pipeline] Cancel poll failed", "run", runID, "err", err)
					continue
				}
				if requested {
					cancel(ErrCanceled)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (o *Orchestrator) appendCheckpoint(record checkpoint.Record) {
	if err := o.checkpoints.Append(record); err != nil {
		logger.Warn("[Pipeline] Checkpoint write failed", "run", record.RunID, "stage", record.Stage, "err", err)
	}
}

func (o *Orchestrator) persistCounters(runID string, counters map[string]int) {
	if err := o.registry.UpdateCounters(context.Background(), runID, counters); err != nil {
		logger.Warn("[Pipeline] Counter update failed", "run", runID, "err", err)
	}
}

// Status is the full run status document: the registry row plus the
// last checkpoint of every stage. Stages never attempted are pending.
type Status struct {
	Run    Run                          `json:"run"`
	Stages map[string]checkpoint.Record `json:"stages"`
}

// GetStatus is non-blocking: it reads the run row and replays the
// checkpoint file, without touching the running pipeline.
func (o *Orchestrator) GetStatus(ctx context.Context, runID string) (Status, error) {
	run, err := o.registry.Get(ctx, runID)
	if err != nil {
		return Status{}, err
	}
	replayed, err := o.checkpoints.Replay(runID)
	if err != nil {
		return Status{}, fmt.Errorf("replay checkpoints: %w", err)
	}

	stages := make(map[string]checkpoint.Record, len(StageOrder))
	for _, name := range StageOrder {
		if record, ok := replayed[name]; ok {
			stages[name] = record
			continue
		}
		stages[name] = checkpoint.Record{RunID: runID, Stage: name, Status: checkpoint.StatusPending}
	}
	return Status{Run: *run, Stages: stages}, nil
}

// ListRuns returns the most recent runs.
func (o *Orchestrator) ListRuns(ctx context.Context) ([]Run, error) {
	return o.registry.List(ctx)
}

// CancelRun requests cooperative cancellation. The orchestrator picks
// the flag up between work units; the run ends up canceled and
// resumable, not rolled back.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	if err := o.registry.RequestCancel(ctx, runID); err != nil {
		return err
	}
	logger.Info("[Pipeline] Cancel requested", "run", runID)
	return nil
}
