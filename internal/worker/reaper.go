package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/service"
)

// Reaper fails tasks whose worker vanished without acking.
// It never requeues: a lost task ends as FAILURE and the client may resubmit.
type Reaper struct {
	queue    service.Queue
	statuses StatusStore
	blobs    BlobStore
	maxAge   time.Duration
	interval time.Duration
	batch    int64
}

func NewReaper(queue service.Queue, statuses StatusStore, blobs BlobStore, maxAge, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		queue:    queue,
		statuses: statuses,
		blobs:    blobs,
		maxAge:   maxAge,
		interval: interval,
		batch:    100,
	}
}

func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				log.Printf("[reaper] sweep error=%v", err)
				continue
			}
			if n > 0 {
				log.Printf("[reaper] failed %d stale jobs", n)
			}
		}
	}
}

// Sweep handles one batch of stale deliveries and reports how many were failed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	stale, err := r.queue.Stale(ctx, r.maxAge, r.batch)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, d := range stale {
		id := d.Task.ID.String()

		cur, _, err := r.statuses.Get(ctx, id)
		if err != nil {
			log.Printf("[reaper] job_id=%s get_status error=%v", id, err)
			continue
		}
		if !cur.State.Terminal() {
			st := entity.TaskStatus{
				ID:        id,
				State:     entity.StateFailure,
				Progress:  cur.Progress,
				Message:   entity.MsgFailed,
				Error:     errWorkerTimedOut,
				UpdatedAt: time.Now().UTC(),
			}
			if err := r.statuses.Set(ctx, st); err != nil && !errors.Is(err, entity.ErrTerminalState) {
				log.Printf("[reaper] job_id=%s set_status=FAILURE error=%v", id, err)
				continue
			}
			failed++
			log.Printf("[reaper] job_id=%s claimed_at=%s status=error error=%q", id, d.ClaimedAt.Format(time.RFC3339), errWorkerTimedOut)
		}

		if d.Task.BlobKey != "" {
			if err := r.blobs.Delete(ctx, d.Task.BlobKey); err != nil {
				log.Printf("[reaper] job_id=%s delete_blob error=%v", id, err)
			}
		}
		if err := r.queue.Ack(ctx, d); err != nil {
			log.Printf("[reaper] job_id=%s ack error=%v", id, err)
		}
	}
	return failed, nil
}
