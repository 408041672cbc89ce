package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/worker"
)

type recordingProcessor struct {
	mu          sync.Mutex
	seen        []string
	hold        chan struct{}
	inflight    int
	maxInflight int
}

func (p *recordingProcessor) Process(ctx context.Context, jobID string) error {
	p.mu.Lock()
	p.inflight++
	if p.inflight > p.maxInflight {
		p.maxInflight = p.inflight
	}
	p.mu.Unlock()

	if p.hold != nil {
		<-p.hold
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	p.seen = append(p.seen, jobID)
	return nil
}

func (p *recordingProcessor) peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInflight
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func TestMemoryQueue_FIFOAndAck(t *testing.T) {
	ctx := context.Background()
	q := worker.NewMemoryQueue()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))

	id, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	pending, processing := q.Len()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, processing)

	require.NoError(t, q.Ack(ctx, "a"))
	_, processing = q.Len()
	assert.Equal(t, 0, processing)
}

func TestMemoryQueue_ClaimTimesOut(t *testing.T) {
	q := worker.NewMemoryQueue()

	_, err := q.ClaimBlocking(context.Background(), 10*time.Millisecond)
	assert.True(t, errors.Is(err, worker.ErrEmpty))
}

func TestMemoryQueue_ClaimWakesOnEnqueue(t *testing.T) {
	q := worker.NewMemoryQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(context.Background(), "late")
	}()

	id, err := q.ClaimBlocking(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", id)
}

func TestPool_ProcessesAllAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := worker.NewMemoryQueue()
	proc := &recordingProcessor{}
	pool := worker.NewPool(q, proc, 2)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(proc.processed()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, proc.processed())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := worker.NewMemoryQueue()
	proc := &recordingProcessor{hold: make(chan struct{})}
	pool := worker.NewPool(q, proc, 1)
	go pool.Run(ctx)

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))

	require.Eventually(t, func() bool { return proc.peak() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, proc.peak())
	assert.Empty(t, proc.processed())

	close(proc.hold)
	require.Eventually(t, func() bool { return len(proc.processed()) == 2 }, time.Second, 5*time.Millisecond)
}
