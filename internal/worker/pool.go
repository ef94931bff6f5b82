package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/service"
)

type TaskProcessor interface {
	Process(ctx context.Context, task entity.Task) error
}

type Pool struct {
	queue      service.Queue
	processor  TaskProcessor
	workers    int
	claimDelay time.Duration
	retryDelay time.Duration
}

func NewPool(queue service.Queue, processor TaskProcessor, workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		retryDelay: time.Second,
	}
}

// Run claims tasks until ctx is canceled, then waits for in-flight tasks to finish.
// A task is only claimed when a worker is idle, so nothing sits claimed but unstarted.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("[worker] pool started workers=%d", p.workers)

	deliveries := make(chan *service.Delivery)
	idle := make(chan struct{}, p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		idle <- struct{}{}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for d := range deliveries {
				p.handle(ctx, n, d)
				idle <- struct{}{}
			}
		}(i + 1)
	}

	defer func() {
		close(deliveries)
		wg.Wait()
		log.Printf("[worker] pool stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle:
		}

		d, err := p.queue.Claim(ctx, p.claimDelay)
		if err != nil {
			idle <- struct{}{}
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, service.ErrNoDelivery) {
				log.Printf("[worker] claim error=%v", err)
				p.sleep(ctx)
			}
			continue
		}
		deliveries <- d
	}
}

func (p *Pool) handle(ctx context.Context, n int, d *service.Delivery) {
	if err := p.processor.Process(ctx, d.Task); err != nil && !errors.Is(err, ErrAlreadyStarted) {
		log.Printf("[worker-%d] job_id=%s process error=%v", n, d.Task.ID, err)
	}

	// always ack: the outcome is already in the status registry
	if err := p.queue.Ack(context.WithoutCancel(ctx), d); err != nil {
		log.Printf("[worker-%d] job_id=%s ack error=%v", n, d.Task.ID, err)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
