package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/service"
	"doc-ingest-service/internal/worker"
)

func TestReaper_FailsStaleTasks(t *testing.T) {
	running := entity.Task{ID: uuid.New(), BlobKey: "uploads/a.pdf"}
	finished := entity.Task{ID: uuid.New(), BlobKey: "uploads/b.pdf"}

	statuses := newMemStatuses()
	ctx := context.Background()
	_ = statuses.Set(ctx, entity.TaskStatus{ID: running.ID.String(), State: entity.StateProgress, Progress: 30, Message: entity.MsgExtracting})
	_ = statuses.Set(ctx, entity.TaskStatus{ID: finished.ID.String(), State: entity.StateSuccess, Progress: 100,
		Result: &entity.TaskResult{DocumentID: 1, NumChunks: 1}})

	q := &memQueue{stale: []*service.Delivery{
		{Task: running, Receipt: "r1", ClaimedAt: time.Now().Add(-time.Hour)},
		{Task: finished, Receipt: "r2", ClaimedAt: time.Now().Add(-time.Hour)},
	}}
	blobs := &memBlobs{data: map[string][]byte{"uploads/a.pdf": []byte("x"), "uploads/b.pdf": []byte("y")}}

	n, err := worker.NewReaper(q, statuses, blobs, 31*time.Minute, time.Minute).Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 failed task, got %d", n)
	}

	st, _, _ := statuses.Get(ctx, running.ID.String())
	if st.State != entity.StateFailure || st.Progress != 30 || st.Error != "worker lost: time limit exceeded" {
		t.Fatalf("unexpected status %+v", st)
	}
	done, _, _ := statuses.Get(ctx, finished.ID.String())
	if done.State != entity.StateSuccess {
		t.Fatalf("finished task must keep SUCCESS, got %s", done.State)
	}
	if q.ackCount() != 2 || len(blobs.deleted) != 2 {
		t.Fatalf("expected both deliveries acked and blobs removed, acks=%d deleted=%d", q.ackCount(), len(blobs.deleted))
	}
}
