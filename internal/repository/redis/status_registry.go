// Package redisrepo keeps task statuses in Redis hashes.
package redisrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"doc-ingest-service/internal/entity"
)

const (
	statusKeyPrefix  = "docjobs:status:"
	defaultStatusTTL = 24 * time.Hour
)

// setStatus writes a status hash unless the stored state is terminal
// or the new progress is lower than the stored one.
// Returns 1 on write, 0 over a terminal state, -1 on progress regression.
var setStatus = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if cur == 'SUCCESS' or cur == 'FAILURE' then
  return 0
end
local prev = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
if tonumber(ARGV[2]) < prev then
  return -1
end
redis.call('HSET', KEYS[1],
  'state', ARGV[1],
  'progress', ARGV[2],
  'message', ARGV[3],
  'result', ARGV[4],
  'error', ARGV[5],
  'updated_at', ARGV[6])
redis.call('EXPIRE', KEYS[1], ARGV[7])
return 1
`)

type StatusRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusRegistry(rdb *redis.Client, ttl time.Duration) *StatusRegistry {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusRegistry{rdb: rdb, ttl: ttl}
}

func statusKey(id string) string { return statusKeyPrefix + id }

// Set records st atomically and refreshes the key TTL.
func (r *StatusRegistry) Set(ctx context.Context, st entity.TaskStatus) error {
	if err := st.Validate(); err != nil {
		return err
	}

	var result string
	if st.Result != nil {
		b, err := json.Marshal(st.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = string(b)
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	res, err := setStatus.Run(ctx, r.rdb, []string{statusKey(st.ID)},
		string(st.State),
		st.Progress,
		st.Message,
		result,
		st.Error,
		updated.UTC().Format(time.RFC3339Nano),
		int64(r.ttl/time.Second),
	).Int()
	if err != nil {
		return fmt.Errorf("set status %s: %w", st.ID, err)
	}

	switch res {
	case 0:
		return fmt.Errorf("%w: task %s", entity.ErrTerminalState, st.ID)
	case -1:
		return fmt.Errorf("%w: task %s progress %d", entity.ErrInvalidTransition, st.ID, st.Progress)
	}
	return nil
}

// Get returns the stored status. An unknown id is reported as PENDING with found=false.
func (r *StatusRegistry) Get(ctx context.Context, id string) (entity.TaskStatus, bool, error) {
	vals, err := r.rdb.HGetAll(ctx, statusKey(id)).Result()
	if err != nil {
		return entity.TaskStatus{}, false, fmt.Errorf("get status %s: %w", id, err)
	}
	if len(vals) == 0 {
		return entity.PendingStatus(id), false, nil
	}

	st := entity.TaskStatus{
		ID:      id,
		State:   entity.TaskState(vals["state"]),
		Message: vals["message"],
		Error:   vals["error"],
	}
	if st.Progress, err = strconv.Atoi(vals["progress"]); err != nil {
		return entity.TaskStatus{}, false, fmt.Errorf("decode status %s progress: %w", id, err)
	}
	if raw := vals["result"]; raw != "" {
		var res entity.TaskResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return entity.TaskStatus{}, false, fmt.Errorf("decode status %s result: %w", id, err)
		}
		st.Result = &res
	}
	if ts := vals["updated_at"]; ts != "" {
		st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return st, true, nil
}
