package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"video-job-orchestrator/internal/entity"
	"video-job-orchestrator/internal/metrics"
	"video-job-orchestrator/internal/pipeline"
	"video-job-orchestrator/internal/progress"
)

// Process implements worker.Processor. It advances the job from its NextStage
// until it succeeds, fails, is cancelled or reaches a requested pause.
// ctx is the pool's context: when it ends mid-job the job is marked interrupted.
func (r *JobRunner) Process(ctx context.Context, jobID string) error {
	ctl := r.claim(jobID)
	if ctl == nil {
		return nil
	}
	defer r.release(jobID, ctl)

	job, err := r.store.Update(jobID, func(j *entity.Job) error {
		if j.CancelRequested {
			return errSkip
		}
		now := r.now()
		switch j.Status {
		case entity.StatusQueued:
			j.Status = entity.StatusRunning
			if j.StartedAt == nil {
				j.StartedAt = &now
			}
			j.AppendLog(now, "job started")
		case entity.StatusRunning:
			// resumed after a pause
		default:
			return errSkip
		}
		return nil
	})
	if errors.Is(err, errSkip) || errors.Is(err, entity.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	stageCtx, stop := context.WithCancel(ctl.ctx)
	defer stop()
	unlink := context.AfterFunc(ctx, stop)
	defer unlink()

	r.logger(job).WithField("next_stage", r.stageName(job.NextStage)).Info("job picked up")

	for i := job.NextStage; i < len(r.stages); i++ {
		stage := r.stages[i]

		job, err = r.enterStage(stageCtx, jobID, i)
		if err != nil {
			if errors.Is(err, errSkip) {
				r.stopAtBoundary(ctx, jobID)
				return nil
			}
			return err
		}
		if job.Status == entity.StatusPaused {
			r.logger(job).WithField("stage", stage.Name()).Info("job paused")
			return nil
		}

		r.onProgress(jobID, stage, pipeline.Update{Message: stage.Name() + " started"})

		artifacts, err := r.runStage(stageCtx, job, stage)
		if err != nil {
			r.handleStageError(ctx, jobID, stage, err)
			return nil
		}

		r.onProgress(jobID, stage, pipeline.Update{Percent: 100, Message: stage.Name() + " completed"})

		job, err = r.store.Update(jobID, func(j *entity.Job) error {
			if j.Status != entity.StatusRunning {
				return errSkip
			}
			j.Artifacts = append(j.Artifacts, artifacts...)
			j.NextStage = i + 1
			j.AppendLog(r.now(), fmt.Sprintf("stage %s completed", stage.Name()))
			return nil
		})
		if errors.Is(err, errSkip) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	r.finishSucceeded(jobID)
	return nil
}

// enterStage is the boundary checkpoint before stage i. It either pauses the
// job there or records the stage as current. errSkip means the job must not
// continue: it is cancelled, no longer Running, or the pool is shutting down.
func (r *JobRunner) enterStage(ctx context.Context, id string, i int) (*entity.Job, error) {
	stage := r.stages[i]

	return r.store.Update(id, func(j *entity.Job) error {
		if j.Status != entity.StatusRunning || j.CancelRequested || ctx.Err() != nil {
			return errSkip
		}
		now := r.now()
		j.NextStage = i
		if j.PauseRequested {
			j.Status = entity.StatusPaused
			j.PauseRequested = false
			j.Eta = nil
			j.AppendLog(now, fmt.Sprintf("job paused before stage %s", stage.Name()))
			return nil
		}
		j.Stage = stage.Name()
		j.Phase = string(stage.Phase())
		j.AppendLog(now, fmt.Sprintf("stage %s started", stage.Name()))
		return nil
	})
}

// stopAtBoundary settles a job that could not enter its next stage.
func (r *JobRunner) stopAtBoundary(ctx context.Context, id string) {
	job, err := r.store.Get(id)
	if err != nil {
		return
	}
	switch {
	case job.Status.IsTerminal():
	case job.CancelRequested:
		r.settleCanceled(id)
	case ctx.Err() != nil:
		r.interrupt(id)
	}
}

// runStage executes one stage with automatic retries of transient errors.
func (r *JobRunner) runStage(ctx context.Context, job *entity.Job, stage pipeline.Stage) ([]entity.Artifact, error) {
	policy := r.opts.Retry
	attempts := policy.StageRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	started := time.Now()

	var (
		attempt   int
		artifacts []entity.Artifact
	)
	err := retry.Do(
		func() error {
			attempt++
			out, err := r.invoke(ctx, job, stage, attempt)
			if err != nil {
				return err
			}
			artifacts = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(policy.StageRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(entity.IsTransient),
		retry.OnRetry(func(n uint, err error) {
			if int(n)+1 >= attempts {
				return
			}
			metrics.RecordStageRetry(stage.Name())
			_, _ = r.store.Update(job.ID, func(j *entity.Job) error {
				if j.Status != entity.StatusRunning {
					return errSkip
				}
				j.AppendLog(r.now(), fmt.Sprintf("warning: stage %s attempt %d failed, retrying: %v", stage.Name(), n+1, err))
				return nil
			})
			r.logger(job).WithFields(log.Fields{
				"stage":   stage.Name(),
				"attempt": n + 1,
			}).WithError(err).Warn("transient stage error, retrying")
		}),
	)

	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	metrics.RecordStage(stage.Name(), outcome, time.Since(started))
	return artifacts, err
}

type stageResult struct {
	artifacts []entity.Artifact
	err       error
}

// invoke runs a single attempt of stage. The provider is registered with the
// cancellation orchestrator while it runs. Once ctx ends the stage gets
// AbandonGrace to return before the worker moves on without it.
func (r *JobRunner) invoke(ctx context.Context, job *entity.Job, stage pipeline.Stage, attempt int) ([]entity.Artifact, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	info := stage.Provider()
	var stopProvider func() error
	if info.SupportsCancellation {
		stopProvider = func() error {
			cancelRun()
			return nil
		}
	}
	unregister := r.cancels.Register(job.ID, info, stopProvider)
	defer unregister()

	// reports from an abandoned attempt are dropped
	var live atomic.Bool
	live.Store(true)
	defer live.Store(false)

	in := pipeline.Input{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Request:       job.Request,
		Artifacts:     append([]entity.Artifact(nil), job.Artifacts...),
		Attempt:       attempt,
	}

	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- stageResult{err: &entity.UnrecoverableError{
					Code:        entity.CodeStageFailed,
					Message:     fmt.Sprintf("stage %s panicked: %v", stage.Name(), p),
					Remediation: "report the failure to the provider maintainers",
				}}
			}
		}()
		out, err := stage.Run(runCtx, in, func(u pipeline.Update) {
			if live.Load() {
				r.onProgress(job.ID, stage, u)
			}
		})
		done <- stageResult{artifacts: out, err: err}
	}()

	select {
	case res := <-done:
		return res.artifacts, res.err
	case <-ctx.Done():
	}

	timer := time.NewTimer(r.opts.AbandonGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		msg := fmt.Sprintf("warning: stage %s did not stop within %s and was abandoned", stage.Name(), r.opts.AbandonGrace)
		r.cancels.MarkAbandoned(job.ID, info.Name, msg)
		_, _ = r.store.Update(job.ID, func(j *entity.Job) error {
			if j.Status.IsTerminal() {
				return errSkip
			}
			j.AppendLog(r.now(), msg)
			return nil
		})
		r.logger(job).WithField("stage", stage.Name()).Warn("stage abandoned after cancellation")
	}
	return nil, ctx.Err()
}

// onProgress feeds one stage report through the aggregator and mirrors the
// aggregated view onto the job.
func (r *JobRunner) onProgress(id string, stage pipeline.Stage, u pipeline.Update) {
	view := r.progress.ReportProgress(id, progress.Report{
		Stage:          stage.Name(),
		Phase:          stage.Phase(),
		Percent:        u.Percent,
		Message:        u.Message,
		SubstageDetail: u.SubstageDetail,
		CurrentItem:    u.CurrentItem,
		TotalItems:     u.TotalItems,
	})

	_, _ = r.store.Update(id, func(j *entity.Job) error {
		if j.Status != entity.StatusRunning {
			return errSkip
		}
		j.SetPercent(view.Percent)
		if eta, ok := view.ETA(); ok {
			j.Eta = &eta
		}
		if u.Message != "" {
			j.ProgressMessage = u.Message
		}
		return nil
	})
}

func (r *JobRunner) handleStageError(ctx context.Context, id string, stage pipeline.Stage, err error) {
	job, gerr := r.store.Get(id)
	if gerr != nil {
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, entity.ErrCancellationRequested) {
		switch {
		case job.Status.IsTerminal():
			return
		case job.CancelRequested:
			r.settleCanceled(id)
			return
		case ctx.Err() != nil:
			r.interrupt(id)
			return
		}
	}

	code, remediation, restart := describeFailure(err)
	now := r.now()
	job, uerr := r.store.Update(id, func(j *entity.Job) error {
		if j.Status != entity.StatusRunning {
			return errSkip
		}
		if j.CancelRequested {
			markCanceled(j, now)
			return nil
		}
		markFailed(j, now, entity.FailureDetails{
			Stage:           stage.Name(),
			Message:         err.Error(),
			Code:            code,
			Remediation:     remediation,
			Timestamp:       now,
			RequiresRestart: restart,
		})
		return nil
	})
	if uerr != nil {
		return
	}

	metrics.RecordJobFinished(string(job.Status))
	if job.Status == entity.StatusCanceled {
		r.logger(job).Info("job cancelled")
		return
	}

	if r.opts.Ledger != nil {
		if lerr := r.opts.Ledger.RecordFailure(context.WithoutCancel(ctx), id, now); lerr != nil {
			r.logger(job).WithError(lerr).Warn("record failure in retry ledger")
		}
	}
	r.logger(job).WithFields(log.Fields{
		"stage": stage.Name(),
		"code":  code,
	}).WithError(err).Error("job failed")
}

func (r *JobRunner) finishSucceeded(id string) {
	job, err := r.store.Update(id, func(j *entity.Job) error {
		if j.Status != entity.StatusRunning {
			return errSkip
		}
		now := r.now()
		if j.CancelRequested {
			markCanceled(j, now)
			return nil
		}

		j.Status = entity.StatusSucceeded
		j.Stage = string(pipeline.PhaseComplete)
		j.Phase = string(pipeline.PhaseComplete)
		j.PauseRequested = false
		j.NextStage = len(r.stages)
		j.SetPercent(100)
		zero := time.Duration(0)
		j.Eta = &zero
		j.ProgressMessage = "job completed"
		if n := len(j.Artifacts); n > 0 {
			j.OutputPath = j.Artifacts[n-1].Path
		}
		j.CompletedAt = &now
		j.AppendLog(now, "job completed")
		return nil
	})
	if err != nil {
		return
	}
	if job.Status == entity.StatusSucceeded {
		r.progress.ReportProgress(id, progress.Report{
			Stage:   string(pipeline.PhaseComplete),
			Phase:   pipeline.PhaseComplete,
			Percent: 100,
			Message: "job completed",
		})
	}

	metrics.RecordJobFinished(string(job.Status))
	r.logger(job).WithField("output", job.OutputPath).Info("job finished")
}

// settleCanceled moves a job that is not yet terminal to Canceled. Safe to
// call more than once.
func (r *JobRunner) settleCanceled(id string) {
	job, err := r.store.Update(id, func(j *entity.Job) error {
		if j.Status.IsTerminal() {
			return errSkip
		}
		markCanceled(j, r.now())
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkip) && !errors.Is(err, entity.ErrNotFound) {
			log.WithField("job_id", id).WithError(err).Error("settle cancelled job")
		}
		return
	}

	metrics.RecordJobFinished(string(entity.StatusCanceled))
	r.logger(job).Info("job cancelled")
}

// interrupt fails a job whose worker was stopped by shutdown.
func (r *JobRunner) interrupt(id string) {
	now := r.now()
	job, err := r.store.Update(id, func(j *entity.Job) error {
		if j.Status.IsTerminal() {
			return errSkip
		}
		markFailed(j, now, entity.FailureDetails{
			Stage:       j.Stage,
			Message:     "job interrupted by shutdown",
			Code:        entity.CodeInterrupted,
			Remediation: "retry the job",
			Timestamp:   now,
		})
		return nil
	})
	if err != nil {
		return
	}

	metrics.RecordJobFinished(string(job.Status))
	r.logger(job).Warn("job interrupted")
}

// failInternal fails a job after an orchestration error outside any stage.
func (r *JobRunner) failInternal(id, op string, cause error) {
	now := r.now()
	job, err := r.store.Update(id, func(j *entity.Job) error {
		if j.Status.IsTerminal() {
			return errSkip
		}
		markFailed(j, now, entity.FailureDetails{
			Stage:       j.Stage,
			Message:     fmt.Sprintf("%s: %v", op, cause),
			Code:        entity.CodeInternal,
			Remediation: "retry the job",
			Timestamp:   now,
		})
		return nil
	})
	if err != nil {
		log.WithField("job_id", id).WithError(err).Error("mark job failed")
		return
	}

	metrics.RecordJobFinished(string(job.Status))
	r.logger(job).WithError(cause).Error(op + " failed")
}

func markCanceled(j *entity.Job, now time.Time) {
	j.Status = entity.StatusCanceled
	j.CancelRequested = true
	j.PauseRequested = false
	j.Eta = nil
	j.CompletedAt = &now
	j.AppendLog(now, "job cancelled")
}

func markFailed(j *entity.Job, now time.Time, fd entity.FailureDetails) {
	j.Status = entity.StatusFailed
	j.PauseRequested = false
	j.Eta = nil
	j.FailureDetails = &fd
	j.Errors = append(j.Errors, entity.JobError{
		Code:        fd.Code,
		Message:     fd.Message,
		Remediation: fd.Remediation,
	})
	j.CompletedAt = &now
	j.AppendLog(now, fmt.Sprintf("error: stage %s failed: %s", fd.Stage, fd.Message))
}

func describeFailure(err error) (code, remediation string, restart bool) {
	var ue *entity.UnrecoverableError
	switch {
	case errors.As(err, &ue):
		code = ue.Code
		if code == "" {
			code = entity.CodeStageFailed
		}
		remediation = ue.Remediation
		if remediation == "" {
			remediation = "inspect the job logs and retry"
		}
		return code, remediation, ue.RequiresRestart
	case entity.IsTransient(err):
		return entity.CodeTransient, "the provider kept failing; retry the job later", false
	default:
		return entity.CodeStageFailed, "inspect the job logs and retry", false
	}
}
