package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/entity"
	"video-job-orchestrator/internal/repository/memory"
)

type fakeSnapshotRepo struct {
	mu      sync.Mutex
	saved   map[string]*entity.Job
	saves   int
	deleted []string
	failing bool
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{saved: map[string]*entity.Job{}}
}

func (r *fakeSnapshotRepo) Save(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("connection refused")
	}
	r.saves++
	r.saved[job.ID] = job.Clone()
	return nil
}

func (r *fakeSnapshotRepo) LoadRecent(_ context.Context, limit int) ([]*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Job, 0, len(r.saved))
	for _, j := range r.saved {
		out = append(out, j.Clone())
	}
	return out, nil
}

func (r *fakeSnapshotRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.saved, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func TestPersister_CoalescesToNewestVersion(t *testing.T) {
	repo := newFakeSnapshotRepo()
	p := NewPersister(repo, time.Hour)

	p.Observe(&entity.Job{ID: "a", Version: 1, Status: entity.StatusQueued})
	p.Observe(&entity.Job{ID: "a", Version: 3, Status: entity.StatusRunning})
	p.Observe(&entity.Job{ID: "a", Version: 2, Status: entity.StatusQueued})
	assert.Equal(t, 1, p.Pending())

	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 1, repo.saves)
	assert.Equal(t, uint64(3), repo.saved["a"].Version)
	assert.Zero(t, p.Pending())
}

func TestPersister_FailedSaveStaysPending(t *testing.T) {
	repo := newFakeSnapshotRepo()
	repo.failing = true
	p := NewPersister(repo, time.Hour)

	p.Observe(&entity.Job{ID: "a", Version: 1})
	require.Error(t, p.Flush(context.Background()))
	assert.Equal(t, 1, p.Pending())

	repo.failing = false
	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, repo.saved, "a")
}

func TestPersister_ForgetDeletesRow(t *testing.T) {
	repo := newFakeSnapshotRepo()
	p := NewPersister(repo, time.Hour)

	p.Observe(&entity.Job{ID: "a", Version: 1})
	require.NoError(t, p.Flush(context.Background()))

	p.Forget("a")
	require.NoError(t, p.Flush(context.Background()))
	assert.NotContains(t, repo.saved, "a")
	assert.Equal(t, []string{"a"}, repo.deleted)
}

func TestPersister_RunWritesThroughStore(t *testing.T) {
	repo := newFakeSnapshotRepo()
	p := NewPersister(repo, 10*time.Millisecond)
	store := memory.NewJobStore(10)
	store.Observe(p.Observe)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	require.NoError(t, store.Create(&entity.Job{ID: "a", Status: entity.StatusQueued}))
	_, err := store.Update("a", func(j *entity.Job) error {
		j.Status = entity.StatusCanceled
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		j, ok := repo.saved["a"]
		return ok && j.Status == entity.StatusCanceled
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRestoreJobs_SettlesInFlightJobs(t *testing.T) {
	repo := newFakeSnapshotRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.saved["running"] = &entity.Job{ID: "running", Status: entity.StatusRunning, Stage: "tts", NextStage: 1, Version: 7}
	repo.saved["cancelling"] = &entity.Job{ID: "cancelling", Status: entity.StatusRunning, CancelRequested: true, Version: 4}
	repo.saved["done"] = &entity.Job{ID: "done", Status: entity.StatusSucceeded, Version: 9}

	store := memory.NewJobStore(10)
	n, err := RestoreJobs(context.Background(), repo, store, 100, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	running, err := store.Get("running")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, running.Status)
	require.NotNil(t, running.FailureDetails)
	assert.Equal(t, entity.CodeInterrupted, running.FailureDetails.Code)
	assert.Equal(t, "tts", running.FailureDetails.Stage)
	assert.Equal(t, 1, running.NextStage)
	assert.Equal(t, uint64(8), running.Version)
	assert.Equal(t, entity.StatusFailed, repo.saved["running"].Status)

	cancelling, _ := store.Get("cancelling")
	assert.Equal(t, entity.StatusCanceled, cancelling.Status)

	done, _ := store.Get("done")
	assert.Equal(t, uint64(9), done.Version)
}
