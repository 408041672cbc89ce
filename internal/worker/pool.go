package worker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Processor advances one claimed job. The Job Runner implements it.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Pool runs a fixed number of workers. Each claimed job is processed start to
// finish (or to its next pause point) by exactly one worker.
type Pool struct {
	queue      Queue
	processor  Processor
	workers    int
	claimDelay time.Duration
}

func NewPool(queue Queue, processor Processor, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
	}
}

// Run blocks until ctx is done and every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	log.WithField("workers", p.workers).Info("worker pool started")

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				if err := p.processor.Process(ctx, jobID); err != nil {
					log.WithFields(log.Fields{"worker": n, "job_id": jobID}).WithError(err).Error("process job")
				}

				// ack regardless: the job's own status records the outcome
				if ackErr := p.queue.Ack(context.WithoutCancel(ctx), jobID); ackErr != nil {
					log.WithFields(log.Fields{"worker": n, "job_id": jobID}).WithError(ackErr).Error("ack job")
				}
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		log.Info("worker pool stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			// timeout or ctx cancel, not fatal
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			return
		}
	}
}
