package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/service"
)

func newRedisQueue(t *testing.T) (service.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return service.NewRedisQueue(rdb, "test:queue"), mr
}

func sampleTask() entity.Task {
	return entity.Task{
		ID:       uuid.New(),
		Filename: "a.pdf",
		OwnerID:  3,
		Format:   entity.FormatPDF,
		BlobKey:  "uploads/a.pdf",
	}
}

func TestRedisQueue_EnqueueClaimAck(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()
	task := sampleTask()

	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	d, err := q.Claim(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if d.Task.ID != task.ID || d.Task.Format != entity.FormatPDF || d.Task.BlobKey != task.BlobKey {
		t.Fatalf("unexpected delivery %+v", d.Task)
	}

	processing, _ := mr.List("test:queue:processing")
	if len(processing) != 1 {
		t.Fatalf("expected claimed task in processing list, got %v", processing)
	}

	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if mr.Exists("test:queue:processing") {
		t.Fatalf("processing list must be empty after ack")
	}
	if mr.Exists("test:queue:claims") {
		t.Fatalf("claims hash must be empty after ack")
	}
}

func TestRedisQueue_FIFO(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()
	first, second := sampleTask(), sampleTask()

	_ = q.Enqueue(ctx, first)
	_ = q.Enqueue(ctx, second)

	d1, err := q.Claim(ctx, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	d2, err := q.Claim(ctx, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if d1.Task.ID != first.ID || d2.Task.ID != second.ID {
		t.Fatalf("expected FIFO order")
	}
}

func TestRedisQueue_ClaimTimeout(t *testing.T) {
	q, _ := newRedisQueue(t)

	_, err := q.Claim(context.Background(), time.Second)
	if !errors.Is(err, service.ErrNoDelivery) {
		t.Fatalf("expected ErrNoDelivery, got %v", err)
	}
}

func TestRedisQueue_Stale(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()
	task := sampleTask()

	_ = q.Enqueue(ctx, task)
	d, err := q.Claim(ctx, time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	stale, err := q.Stale(ctx, time.Hour, 10)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh claim reported as stale")
	}

	mr.HSet("test:queue:claims", d.Receipt, "1000")

	stale, err = q.Stale(ctx, time.Hour, 10)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 1 || stale[0].Task.ID != task.ID {
		t.Fatalf("expected the old claim to be stale, got %d", len(stale))
	}

	if err := q.Ack(ctx, stale[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if mr.Exists("test:queue:processing") {
		t.Fatalf("stale delivery not removed")
	}
}

func TestRedisQueue_StaleStampsUnclaimedEntries(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	if _, err := mr.Lpush("test:queue:processing", `{"id":"00000000-0000-0000-0000-000000000001"}`); err != nil {
		t.Fatalf("lpush: %v", err)
	}

	stale, err := q.Stale(ctx, time.Hour, 10)
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("entry without claim time must first be stamped, not reported")
	}
	if mr.HGet("test:queue:claims", `{"id":"00000000-0000-0000-0000-000000000001"}`) == "" {
		t.Fatalf("expected claim stamp to be written")
	}
}

func TestRedisQueue_Depth(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()

	dr, ok := q.(service.DepthReporter)
	if !ok {
		t.Fatalf("redis queue should report depth")
	}
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, sampleTask()); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := q.Claim(ctx, time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := dr.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 waiting tasks, got %d", n)
	}
}
