package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"doc-ingest-service/internal/entity"
)

// ErrNoDelivery is returned by Claim when nothing arrived before the timeout.
var ErrNoDelivery = errors.New("no task available")

// Delivery is one claimed task. Receipt identifies the claim to the backend.
type Delivery struct {
	Task      entity.Task
	Receipt   string
	ClaimedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, task entity.Task) error
	// Claim blocks up to timeout (forever if timeout <= 0) for the next task.
	Claim(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Stale lists up to max deliveries claimed longer than olderThan ago and never acked.
	Stale(ctx context.Context, olderThan time.Duration, max int64) ([]*Delivery, error)
}

// DepthReporter is implemented by queues that can report how many tasks wait to be claimed.
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

// redisQueue implements a reliable queue on Redis lists.
// Claim: BRPOPLPUSH queue -> processing, claim time recorded in the claims hash
// Ack:   LREM from processing + HDEL from claims
type redisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
	claimsKey     string
}

func NewRedisQueue(rdb *redis.Client, queueKey string) Queue {
	return &redisQueue{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: queueKey + ":processing",
		claimsKey:     queueKey + ":claims",
	}
}

func (q *redisQueue) Enqueue(ctx context.Context, task entity.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return q.rdb.LPush(ctx, q.queueKey, payload).Err()
}

// Claim waits in short slots so a long timeout still notices ctx cancellation between slots.
func (q *redisQueue) Claim(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wait := slot
		if !forever {
			remain := time.Until(deadline)
			if remain <= 0 {
				return nil, ErrNoDelivery
			}
			if remain < wait {
				wait = remain
			}
		}

		payload, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, wait).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}

		now := time.Now()
		if err := q.rdb.HSet(ctx, q.claimsKey, payload, now.UnixMilli()).Err(); err != nil {
			return nil, err
		}

		var task entity.Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			// undecodable message: drop it rather than loop on it
			_ = q.Ack(ctx, &Delivery{Receipt: payload})
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return &Delivery{Task: task, Receipt: payload, ClaimedAt: now}, nil
	}
}

func (q *redisQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueKey).Result()
}

func (q *redisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, q.processingKey, 1, d.Receipt).Err(); err != nil {
		return err
	}
	return q.rdb.HDel(ctx, q.claimsKey, d.Receipt).Err()
}

// Stale also stamps processing entries that have no claim time yet
// (claimer died between BRPOPLPUSH and HSET), so they age out too.
func (q *redisQueue) Stale(ctx context.Context, olderThan time.Duration, max int64) ([]*Delivery, error) {
	processing, err := q.rdb.LRange(ctx, q.processingKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(processing) == 0 {
		return nil, nil
	}

	now := time.Now()
	cutoff := now.Add(-olderThan)
	var out []*Delivery

	for _, payload := range processing {
		if max > 0 && int64(len(out)) >= max {
			break
		}

		claimed := now
		raw, err := q.rdb.HGet(ctx, q.claimsKey, payload).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if err := q.rdb.HSetNX(ctx, q.claimsKey, payload, now.UnixMilli()).Err(); err != nil {
				return out, err
			}
		case err != nil:
			return out, err
		default:
			ms, perr := strconv.ParseInt(raw, 10, 64)
			if perr == nil {
				claimed = time.UnixMilli(ms)
			}
		}
		if claimed.After(cutoff) {
			continue
		}

		d := &Delivery{Receipt: payload, ClaimedAt: claimed}
		_ = json.Unmarshal([]byte(payload), &d.Task)
		out = append(out, d)
	}
	return out, nil
}
