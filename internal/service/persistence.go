package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"video-job-orchestrator/internal/entity"
)

// SnapshotRepository is durable job storage (implementation: postgresql.JobRepository).
type SnapshotRepository interface {
	Save(ctx context.Context, job *entity.Job) error
	LoadRecent(ctx context.Context, limit int) ([]*entity.Job, error)
	Delete(ctx context.Context, id string) error
}

// Restorer accepts jobs loaded from durable storage (implementation: memory.JobStore).
type Restorer interface {
	Restore(job *entity.Job) error
}

// Persister writes store changes through to a SnapshotRepository in the
// background. Consecutive changes to one job between flushes collapse into the
// newest snapshot.
type Persister struct {
	repo     SnapshotRepository
	interval time.Duration

	mu      sync.Mutex
	dirty   map[string]*entity.Job
	deleted map[string]struct{}
	wake    chan struct{}
}

func NewPersister(repo SnapshotRepository, interval time.Duration) *Persister {
	if interval <= 0 {
		interval = time.Second
	}
	return &Persister{
		repo:     repo,
		interval: interval,
		dirty:    make(map[string]*entity.Job),
		deleted:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Observe is a store observer. It never blocks.
func (p *Persister) Observe(job *entity.Job) {
	p.mu.Lock()
	if cur, ok := p.dirty[job.ID]; !ok || cur.Version < job.Version {
		p.dirty[job.ID] = job
	}
	delete(p.deleted, job.ID)
	terminal := job.Status.IsTerminal()
	p.mu.Unlock()

	if terminal {
		p.signal()
	}
}

// Forget schedules removal of an evicted job.
func (p *Persister) Forget(id string) {
	p.mu.Lock()
	delete(p.dirty, id)
	p.deleted[id] = struct{}{}
	p.mu.Unlock()
	p.signal()
}

func (p *Persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := p.Flush(flushCtx); err != nil {
				log.WithError(err).Error("final job snapshot flush")
			}
			return nil
		case <-ticker.C:
		case <-p.wake:
		}

		if err := p.Flush(ctx); err != nil {
			log.WithError(err).Warn("job snapshot flush")
		}
	}
}

// Flush writes every pending change. Failed writes stay pending for the next
// flush unless a newer snapshot has arrived in the meantime.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	dirty := p.dirty
	deleted := p.deleted
	p.dirty = make(map[string]*entity.Job)
	p.deleted = make(map[string]struct{})
	p.mu.Unlock()

	var errs *multierror.Error
	for _, job := range dirty {
		if err := p.repo.Save(ctx, job); err != nil {
			errs = multierror.Append(errs, err)
			p.requeue(job)
		}
	}
	for id := range deleted {
		if err := p.repo.Delete(ctx, id); err != nil {
			errs = multierror.Append(errs, err)
			p.mu.Lock()
			if _, ok := p.dirty[id]; !ok {
				p.deleted[id] = struct{}{}
			}
			p.mu.Unlock()
		}
	}
	return errs.ErrorOrNil()
}

func (p *Persister) requeue(job *entity.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, gone := p.deleted[job.ID]; gone {
		return
	}
	if cur, ok := p.dirty[job.ID]; !ok || cur.Version < job.Version {
		p.dirty[job.ID] = job
	}
}

// Pending returns the number of jobs waiting to be written.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty) + len(p.deleted)
}

// RestoreJobs loads up to limit recent snapshots into the store. Jobs that were
// still in flight when the previous process stopped are settled first: they
// become Failed with INTERRUPTED so a caller can Retry them, or Canceled if a
// cancel had already been requested.
func RestoreJobs(ctx context.Context, repo SnapshotRepository, store Restorer, limit int, now time.Time) (int, error) {
	jobs, err := repo.LoadRecent(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load job snapshots: %w", err)
	}

	var errs *multierror.Error
	restored := 0
	for _, j := range jobs {
		if !j.Status.IsTerminal() {
			prev := j.Status
			if j.CancelRequested {
				markCanceled(j, now)
			} else {
				markFailed(j, now, entity.FailureDetails{
					Stage:       j.Stage,
					Message:     fmt.Sprintf("job was %s when the service stopped", prev),
					Code:        entity.CodeInterrupted,
					Remediation: "retry the job",
					Timestamp:   now,
				})
			}
			j.Version++
			j.UpdatedAt = now
			if err := repo.Save(ctx, j); err != nil {
				errs = multierror.Append(errs, err)
			}
			log.WithFields(log.Fields{"job_id": j.ID, "from": prev, "to": j.Status}).Warn("settled interrupted job on restore")
		}

		if err := store.Restore(j); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("restore job %s: %w", j.ID, err))
			continue
		}
		restored++
	}
	return restored, errs.ErrorOrNil()
}
