package events

import (
	"sync"

	"video-job-orchestrator/internal/entity"
)

// Subscription receives committed snapshots of one job in commit order.
// Snapshots are dropped, not queued, when the reader falls behind; readers
// recover by re-reading the job.
type Subscription struct {
	C <-chan *entity.Job

	ch chan *entity.Job
}

// Broker fans job store commits out to the streams watching each job.
type Broker struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*Subscription]struct{}
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe starts delivering snapshots of jobID. The returned func ends the
// subscription and must be called.
func (b *Broker) Subscribe(jobID string) (*Subscription, func()) {
	ch := make(chan *entity.Job, b.buffer)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*Subscription]struct{})
	}
	b.subs[jobID][sub] = struct{}{}
	b.mu.Unlock()

	return sub, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[jobID], sub)
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}
}

// Publish is a job store observer. It never blocks.
func (b *Broker) Publish(job *entity.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[job.ID] {
		select {
		case sub.ch <- job:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions for jobID.
func (b *Broker) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
