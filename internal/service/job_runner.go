package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"video-job-orchestrator/internal/cancellation"
	"video-job-orchestrator/internal/entity"
	"video-job-orchestrator/internal/metrics"
	"video-job-orchestrator/internal/pipeline"
	"video-job-orchestrator/internal/progress"
)

// JobStore is the port onto the job registry (implementation: memory.JobStore).
type JobStore interface {
	Create(job *entity.Job) error
	Get(id string) (*entity.Job, error)
	List(limit int) []*entity.Job
	Update(id string, mutate func(j *entity.Job) error) (*entity.Job, error)
}

// JobQueue only hands job ids to the worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// CooldownLedger optionally keeps failure times outside the process
// (implementation: redis.RetryLedger).
type CooldownLedger interface {
	RecordFailure(ctx context.Context, jobID string, at time.Time) error
	LastFailure(ctx context.Context, jobID string) (time.Time, bool, error)
}

type Options struct {
	Retry RetryPolicy
	// CancelTimeout bounds how long a cancel waits for the in-flight stage to stop.
	CancelTimeout time.Duration
	// AbandonGrace is how long a cancelled stage may keep running before its
	// worker gives up on it.
	AbandonGrace time.Duration
	Ledger       CooldownLedger
}

func DefaultOptions() Options {
	return Options{
		Retry:         DefaultRetryPolicy(),
		CancelTimeout: 10 * time.Second,
		AbandonGrace:  2 * time.Second,
	}
}

type CreateRequest struct {
	entity.JobRequest
	CorrelationID string
}

// control is the per-job handle shared by the worker advancing the job and
// the API calls steering it. One exists from enqueue until the worker lets go.
type control struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	claimed bool
}

var errSkip = errors.New("skip")

// JobRunner drives jobs through the stage pipeline and owns every state
// transition after creation.
type JobRunner struct {
	store    JobStore
	queue    JobQueue
	progress *progress.Aggregator
	cancels  *cancellation.Orchestrator
	stages   []pipeline.Stage
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	controls map[string]*control
	tasks    sync.WaitGroup
}

func NewJobRunner(
	store JobStore,
	queue JobQueue,
	agg *progress.Aggregator,
	cancels *cancellation.Orchestrator,
	stages []pipeline.Stage,
	opts Options,
) *JobRunner {
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = 10 * time.Second
	}
	if opts.AbandonGrace <= 0 {
		opts.AbandonGrace = 2 * time.Second
	}
	return &JobRunner{
		store:    store,
		queue:    queue,
		progress: agg,
		cancels:  cancels,
		stages:   stages,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		controls: make(map[string]*control),
	}
}

// CreateAndStart validates the request, registers a Queued job and hands it
// to the worker pool. It returns without waiting for any stage.
func (r *JobRunner) CreateAndStart(ctx context.Context, req CreateRequest) (*entity.Job, error) {
	if err := ValidateRequest(req.JobRequest); err != nil {
		return nil, err
	}

	corrID := strings.TrimSpace(req.CorrelationID)
	if corrID == "" {
		corrID = uuid.NewString()
	}

	now := r.now()
	job := &entity.Job{
		ID:            uuid.NewString(),
		Status:        entity.StatusQueued,
		Stage:         "queued",
		CorrelationID: corrID,
		Request:       req.JobRequest,
		Logs:          []entity.LogEntry{},
		Artifacts:     []entity.Artifact{},
		Errors:        []entity.JobError{},
		CreatedAt:     now,
	}
	job.AppendLog(now, fmt.Sprintf("job created for topic %q", req.Brief.Topic))

	if err := r.store.Create(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := r.enqueue(ctx, job.ID); err != nil {
		r.failInternal(job.ID, "enqueue", err)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.RecordJobCreated()
	r.logger(job).Info("job queued")

	return r.store.Get(job.ID)
}

func (r *JobRunner) Get(id string) (*entity.Job, error) {
	return r.store.Get(id)
}

func (r *JobRunner) List(limit int) []*entity.Job {
	return r.store.List(limit)
}

func (r *JobRunner) Progress(id string) (progress.AggregatedProgress, bool) {
	return r.progress.GetProgress(id)
}

// Pause asks the worker to stop at the next stage boundary. It reports false
// when the job is not Running.
func (r *JobRunner) Pause(id string) (bool, error) {
	job, err := r.store.Update(id, func(j *entity.Job) error {
		if j.Status != entity.StatusRunning || j.CancelRequested {
			return errSkip
		}
		if !j.PauseRequested {
			j.PauseRequested = true
			j.AppendLog(r.now(), "pause requested; pausing at next stage boundary")
		}
		return nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.logger(job).Info("pause requested")
	return true, nil
}

// Resume continues a Paused job at the stage it paused before. A pause that
// has been requested but not yet reached is simply withdrawn.
func (r *JobRunner) Resume(ctx context.Context, id string) (bool, error) {
	requeue := false
	job, err := r.store.Update(id, func(j *entity.Job) error {
		requeue = false
		switch {
		case j.Status == entity.StatusPaused && !j.CancelRequested:
			j.Status = entity.StatusRunning
			j.AppendLog(r.now(), "job resumed")
			requeue = true
		case j.Status == entity.StatusRunning && j.PauseRequested:
			j.PauseRequested = false
			j.AppendLog(r.now(), "pause request withdrawn")
		default:
			return errSkip
		}
		return nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if requeue {
		if err := r.enqueue(ctx, id); err != nil {
			r.failInternal(id, "resume", err)
			return false, err
		}
	}
	r.logger(job).Info("job resumed")
	return true, nil
}

// Cancel marks the intent to cancel, fans the request out to active providers
// and settles the job as Canceled. Queued and Paused jobs are settled at once;
// a Running job is settled by a supervised task once its stage stops or
// CancelTimeout passes. Repeated calls return a no-action result carrying the
// recorded provider outcomes, including providers abandoned since.
func (r *JobRunner) Cancel(id string) (cancellation.Result, error) {
	var prev entity.JobStatus
	var already entity.JobStatus
	job, err := r.store.Update(id, func(j *entity.Job) error {
		if j.Status.IsTerminal() || j.CancelRequested {
			already = j.Status
			return errSkip
		}
		now := r.now()
		prev = j.Status
		j.CancelRequested = true
		j.PauseRequested = false
		j.AppendLog(now, "cancellation requested")
		if j.Status != entity.StatusRunning {
			markCanceled(j, now)
		}
		return nil
	})
	if errors.Is(err, errSkip) {
		return r.cancels.Recorded(id, fmt.Sprintf("job is already %s; no action needed", already)), nil
	}
	if err != nil {
		return cancellation.Result{}, err
	}

	res := r.cancels.CancelJob(id)
	ctl := r.controlFor(id)
	if ctl != nil {
		ctl.cancel()
	}

	if len(res.Warnings) > 0 {
		_, _ = r.store.Update(id, func(j *entity.Job) error {
			for _, w := range res.Warnings {
				j.AppendLog(r.now(), "warning: "+w)
			}
			return nil
		})
	}

	if prev == entity.StatusRunning {
		r.superviseCancel(id, ctl)
	} else {
		metrics.RecordJobFinished(string(entity.StatusCanceled))
	}

	r.logger(job).WithFields(log.Fields{
		"from":      prev,
		"providers": len(res.ProviderStatuses),
		"warnings":  len(res.Warnings),
	}).Info("job cancellation accepted")
	return res, nil
}

// Retry re-queues a Failed job. It resumes at the failed stage unless the
// failure requires a restart, and is refused past the retry ceiling or inside
// the exponential cool-down window.
func (r *JobRunner) Retry(ctx context.Context, id string) (*entity.Job, error) {
	ledgerFailure := r.ledgerFailure(ctx, id)
	restart := false

	job, err := r.store.Update(id, func(j *entity.Job) error {
		if j.Status != entity.StatusFailed {
			return fmt.Errorf("%w: retry requires a failed job, job is %s", entity.ErrInvalidState, j.Status)
		}
		policy := r.opts.Retry
		if j.RetryCount >= policy.MaxJobRetries {
			return &entity.RetryNotAllowedError{
				Reason:     entity.RetryDenyCeiling,
				RetryCount: j.RetryCount,
				MaxRetries: policy.MaxJobRetries,
			}
		}

		now := r.now()
		last := lastFailure(j)
		if ledgerFailure.After(last) {
			last = ledgerFailure
		}
		cooldown := policy.Cooldown(j.RetryCount)
		if elapsed := now.Sub(last); elapsed < cooldown {
			return &entity.RetryNotAllowedError{
				Reason:     entity.RetryDenyCooldown,
				RetryCount: j.RetryCount,
				MaxRetries: policy.MaxJobRetries,
				Remaining:  cooldown - elapsed,
			}
		}

		restart = j.FailureDetails != nil && j.FailureDetails.RequiresRestart
		j.Status = entity.StatusQueued
		j.RetryCount++
		j.CompletedAt = nil
		j.CancelRequested = false
		j.PauseRequested = false
		if restart || j.NextStage >= len(r.stages) {
			j.NextStage = 0
			j.Percent = 0
			j.Eta = nil
			j.OutputPath = ""
			restart = true
		}
		j.AppendLog(now, fmt.Sprintf("retry %d of %d accepted; resuming at stage %s",
			j.RetryCount, policy.MaxJobRetries, r.stageName(j.NextStage)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if restart {
		r.progress.Reset(id)
	}
	r.cancels.Forget(id)

	if err := r.enqueue(ctx, id); err != nil {
		r.failInternal(id, "retry", err)
		return nil, err
	}

	r.logger(job).WithField("retry_count", job.RetryCount).Info("job retry queued")
	return job, nil
}

// Forget drops per-job bookkeeping once the store evicts the job.
func (r *JobRunner) Forget(id string) {
	r.progress.Remove(id)
	r.cancels.Forget(id)
}

// Wait blocks until every supervised background task (cancellation settling)
// has finished.
func (r *JobRunner) Wait() {
	r.tasks.Wait()
}

func (r *JobRunner) enqueue(ctx context.Context, id string) error {
	r.register(id)
	return r.queue.Enqueue(ctx, id)
}

func (r *JobRunner) register(id string) *control {
	ctx, cancel := context.WithCancel(context.Background())
	ctl := &control{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.controls[id] = ctl
	r.mu.Unlock()
	return ctl
}

// claim hands the job's control to exactly one worker; stale queue entries
// and duplicates get nil.
func (r *JobRunner) claim(id string) *control {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctl, ok := r.controls[id]
	if !ok || ctl.claimed {
		return nil
	}
	ctl.claimed = true
	return ctl
}

func (r *JobRunner) release(id string, ctl *control) {
	r.mu.Lock()
	if cur, ok := r.controls[id]; ok && cur == ctl {
		delete(r.controls, id)
	}
	r.mu.Unlock()

	ctl.cancel()
	close(ctl.done)
}

func (r *JobRunner) isClaimed(ctl *control) bool {
	if ctl == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return ctl.claimed
}

func (r *JobRunner) controlFor(id string) *control {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controls[id]
}

func (r *JobRunner) superviseCancel(id string, ctl *control) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()

		if r.isClaimed(ctl) {
			timer := time.NewTimer(r.opts.CancelTimeout)
			defer timer.Stop()
			select {
			case <-ctl.done:
			case <-timer.C:
				log.WithField("job_id", id).Warn("cancellation timed out; abandoning in-flight stage")
			}
		}
		r.settleCanceled(id)
	}()
}

func (r *JobRunner) ledgerFailure(ctx context.Context, id string) time.Time {
	if r.opts.Ledger == nil {
		return time.Time{}
	}
	at, ok, err := r.opts.Ledger.LastFailure(ctx, id)
	if err != nil {
		log.WithField("job_id", id).WithError(err).Warn("read retry ledger")
		return time.Time{}
	}
	if !ok {
		return time.Time{}
	}
	return at
}

func (r *JobRunner) stageName(i int) string {
	if i >= 0 && i < len(r.stages) {
		return r.stages[i].Name()
	}
	return "complete"
}

func (r *JobRunner) logger(j *entity.Job) *log.Entry {
	if j == nil {
		return log.NewEntry(log.StandardLogger())
	}
	return log.WithFields(log.Fields{
		"job_id":         j.ID,
		"correlation_id": j.CorrelationID,
		"status":         j.Status,
	})
}

func lastFailure(j *entity.Job) time.Time {
	if j.FailureDetails != nil {
		return j.FailureDetails.Timestamp
	}
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.UpdatedAt
}
