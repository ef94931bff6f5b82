package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blobKeyPrefix = "docjobs:blob:"

// RedisBlobStore keeps uploads as plain string keys with an expiry,
// so blobs of lost jobs disappear on their own.
type RedisBlobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBlobStore(rdb *redis.Client, ttl time.Duration) *RedisBlobStore {
	return &RedisBlobStore{rdb: rdb, ttl: ttl}
}

func (s *RedisBlobStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := s.rdb.Set(ctx, blobKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis put blob %s: %w", key, err)
	}
	return nil
}

func (s *RedisBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, blobKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("redis get blob %s: %w", key, err)
	}
	return b, nil
}

func (s *RedisBlobStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, blobKeyPrefix+key).Err()
}
