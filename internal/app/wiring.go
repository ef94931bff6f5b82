// Package app builds the backends selected by configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"doc-ingest-service/internal/config"
	"doc-ingest-service/internal/service"
	"doc-ingest-service/internal/storage"
)

func NewRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rdb, nil
}

func NewBlobStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BlobS3:
		return storage.NewS3BlobStore(ctx, storage.S3Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return storage.NewRedisBlobStore(rdb, cfg.BlobTTL), nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewQueue returns the configured work queue and a closer for its connection.
func NewQueue(cfg *config.Config, rdb *redis.Client) (service.Queue, io.Closer, error) {
	if cfg.QueueBackend != config.QueueRabbitMQ {
		return service.NewRedisQueue(rdb, cfg.RedisQueueKey), nopCloser{}, nil
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: %w", err)
	}
	q, err := service.NewRabbitQueue(conn, cfg.RabbitMQQueue, cfg.Workers)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: %w", err)
	}
	log.Printf("[app] rabbitmq queue=%s prefetch=%d", cfg.RabbitMQQueue, cfg.Workers)
	return q, closerFunc(func() error {
		_ = q.Close()
		return conn.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
