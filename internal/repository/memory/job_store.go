package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"video-job-orchestrator/internal/entity"
)

// Observer receives a snapshot of every committed change, in commit order.
// It runs under the store lock and must not block or call back into the store.
type Observer func(job *entity.Job)

// JobStore is the in-memory registry of jobs. All mutations go through Update,
// which serializes writers and commits a mutated copy atomically.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*entity.Job
	maxJobs   int
	now       func() time.Time
	observers []Observer
	onEvict   []func(id string)
}

func NewJobStore(maxJobs int) *JobStore {
	if maxJobs <= 0 {
		maxJobs = 500
	}
	return &JobStore{
		jobs:    make(map[string]*entity.Job),
		maxJobs: maxJobs,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Observe registers an observer. Call before the store is shared.
func (s *JobStore) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// OnEvict registers a callback run (outside the lock) for every evicted job id.
func (s *JobStore) OnEvict(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = append(s.onEvict, fn)
}

func (s *JobStore) Create(job *entity.Job) error {
	s.mu.Lock()
	if _, ok := s.jobs[job.ID]; ok {
		s.mu.Unlock()
		return entity.ErrDuplicateID
	}

	c := job.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = c.CreatedAt
	c.Version = 1
	s.jobs[c.ID] = c
	s.notifyLocked(c)

	evicted := s.evictOverflowLocked()
	hooks := s.onEvict
	s.mu.Unlock()

	runEvictHooks(hooks, evicted)
	return nil
}

// Restore inserts a previously persisted job verbatim (version and timestamps kept).
func (s *JobStore) Restore(job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return entity.ErrDuplicateID
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *JobStore) Get(id string) (*entity.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return j.Clone(), nil
}

// List returns up to limit jobs, most recently updated first.
func (s *JobStore) List(limit int) []*entity.Job {
	s.mu.RLock()
	out := make([]*entity.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].UpdatedAt.Equal(out[b].UpdatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].UpdatedAt.After(out[b].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Update applies mutate to a copy of the job and commits it if mutate returns nil.
// Returning an error from mutate leaves the stored job untouched.
func (s *JobStore) Update(id string, mutate func(j *entity.Job) error) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if next.Status != cur.Status && !entity.CanTransition(cur.Status, next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", entity.ErrInvalidState, cur.Status, next.Status)
	}
	next.ID = cur.ID
	next.CorrelationID = cur.CorrelationID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	s.jobs[id] = next
	s.notifyLocked(next)

	return next.Clone(), nil
}

// EvictOlderThan removes terminal jobs that finished before cutoff.
func (s *JobStore) EvictOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	var evicted []string
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && finishedAt(j).Before(cutoff) {
			delete(s.jobs, id)
			evicted = append(evicted, id)
		}
	}
	hooks := s.onEvict
	s.mu.Unlock()

	runEvictHooks(hooks, evicted)
	return len(evicted)
}

func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// evictOverflowLocked drops the oldest terminal jobs until the store is within
// maxJobs. Non-terminal jobs are never evicted, so the store may stay over the cap.
func (s *JobStore) evictOverflowLocked() []string {
	over := len(s.jobs) - s.maxJobs
	if over <= 0 {
		return nil
	}

	candidates := make([]*entity.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Status.IsTerminal() {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		return finishedAt(candidates[a]).Before(finishedAt(candidates[b]))
	})

	var evicted []string
	for _, j := range candidates {
		if over == 0 {
			break
		}
		delete(s.jobs, j.ID)
		evicted = append(evicted, j.ID)
		over--
	}
	return evicted
}

func (s *JobStore) notifyLocked(j *entity.Job) {
	for _, o := range s.observers {
		o(j.Clone())
	}
}

func finishedAt(j *entity.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.UpdatedAt
}

func runEvictHooks(hooks []func(string), ids []string) {
	for _, id := range ids {
		for _, h := range hooks {
			h(id)
		}
	}
}
