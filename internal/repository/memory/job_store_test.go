package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/entity"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(max int) *JobStore {
	s := NewJobStore(max)
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = clk.Now
	return s
}

func TestJobStore_CreateDuplicate(t *testing.T) {
	s := newTestStore(10)
	require.NoError(t, s.Create(&entity.Job{ID: "a", Status: entity.StatusQueued}))

	err := s.Create(&entity.Job{ID: "a"})
	require.ErrorIs(t, err, entity.ErrDuplicateID)
}

func TestJobStore_GetReturnsSnapshot(t *testing.T) {
	s := newTestStore(10)
	require.NoError(t, s.Create(&entity.Job{ID: "a", Status: entity.StatusQueued}))

	j, err := s.Get("a")
	require.NoError(t, err)
	j.Status = entity.StatusFailed
	j.AppendLog(time.Now(), "local only")

	again, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, again.Status)
	assert.Empty(t, again.Logs)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestJobStore_UpdateAbortLeavesJobUntouched(t *testing.T) {
	s := newTestStore(10)
	require.NoError(t, s.Create(&entity.Job{ID: "a", Status: entity.StatusQueued}))

	boom := errors.New("guard")
	_, err := s.Update("a", func(j *entity.Job) error {
		j.Status = entity.StatusRunning
		return boom
	})
	require.ErrorIs(t, err, boom)

	j, _ := s.Get("a")
	assert.Equal(t, entity.StatusQueued, j.Status)
	assert.Equal(t, uint64(1), j.Version)
}

func TestJobStore_UpdateRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(10)
	require.NoError(t, s.Create(&entity.Job{ID: "a", Status: entity.StatusSucceeded}))

	_, err := s.Update("a", func(j *entity.Job) error {
		j.Status = entity.StatusRunning
		return nil
	})
	require.ErrorIs(t, err, entity.ErrInvalidState)

	j, _ := s.Get("a")
	assert.Equal(t, entity.StatusSucceeded, j.Status)
}

func TestJobStore_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	s := newTestStore(10)
	require.NoError(t, s.Create(&entity.Job{ID: "a"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Update("a", func(j *entity.Job) error {
				j.AppendLog(time.Now(), fmt.Sprintf("line %d", n))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	j, _ := s.Get("a")
	assert.Len(t, j.Logs, 50)
	assert.Equal(t, uint64(51), j.Version)
}

func TestJobStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(10)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(&entity.Job{ID: id}))
	}
	_, err := s.Update("a", func(j *entity.Job) error { return nil })
	require.NoError(t, err)

	got := s.List(2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestJobStore_EvictsOldestTerminalOnly(t *testing.T) {
	s := newTestStore(2)
	var evicted []string
	s.OnEvict(func(id string) { evicted = append(evicted, id) })

	require.NoError(t, s.Create(&entity.Job{ID: "running", Status: entity.StatusRunning}))
	require.NoError(t, s.Create(&entity.Job{ID: "done-old", Status: entity.StatusSucceeded}))
	require.NoError(t, s.Create(&entity.Job{ID: "done-new", Status: entity.StatusFailed}))

	assert.Equal(t, []string{"done-old"}, evicted)
	assert.Equal(t, 2, s.Len())

	// only non-terminal jobs left to choose from: store grows past the cap
	require.NoError(t, s.Create(&entity.Job{ID: "queued", Status: entity.StatusQueued}))
	_, err := s.Get("running")
	require.NoError(t, err)
	_, err = s.Get("queued")
	require.NoError(t, err)
}

func TestJobStore_EvictOlderThan(t *testing.T) {
	s := newTestStore(10)
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(&entity.Job{ID: "old", Status: entity.StatusCanceled, CompletedAt: &old}))
	require.NoError(t, s.Create(&entity.Job{ID: "active", Status: entity.StatusRunning}))

	n := s.EvictOlderThan(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, n)
	_, err := s.Get("old")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestJobStore_ObserversSeeCommitOrder(t *testing.T) {
	s := newTestStore(10)
	var versions []uint64
	s.Observe(func(j *entity.Job) { versions = append(versions, j.Version) })

	require.NoError(t, s.Create(&entity.Job{ID: "a"}))
	for i := 0; i < 3; i++ {
		_, err := s.Update("a", func(j *entity.Job) error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, versions)
}
