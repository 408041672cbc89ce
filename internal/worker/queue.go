package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEmpty is returned by ClaimBlocking when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
}

// MemoryQueue is a FIFO of job ids with an in-flight set.
// Claim moves an id from pending to processing, Ack removes it from processing.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    []string
	processing map[string]struct{}
	signal     chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string]struct{}),
		signal:     make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.pending = append(q.pending, jobID)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// ClaimBlocking waits up to timeout for an id. A non-positive timeout waits
// until ctx is done.
func (q *MemoryQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		if id, ok := q.pop(); ok {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", ErrEmpty
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, jobID)
	return nil
}

// Len returns pending and in-flight counts.
func (q *MemoryQueue) Len() (pending, processing int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.processing)
}

func (q *MemoryQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.processing[id] = struct{}{}

	// wake another claimer if more work is waiting
	if len(q.pending) > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return id, true
}
