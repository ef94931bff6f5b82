package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"doc-ingest-service/internal/entity"
)

// AMQPChannel is the part of *amqp.Channel the queue uses.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Ack(tag uint64, multiple bool) error
	Close() error
}

// RabbitQueue is a durable work queue with manual acks.
// Unacked deliveries go back to the broker when the channel closes,
// so Stale has nothing to report.
type RabbitQueue struct {
	channel  AMQPChannel
	queue    string
	prefetch int

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

func NewRabbitQueue(conn *amqp.Connection, queue string, prefetch int) (*RabbitQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	return NewRabbitQueueOnChannel(ch, queue, prefetch)
}

// NewRabbitQueueOnChannel declares the durable queue on ch and takes ownership of ch.
func NewRabbitQueueOnChannel(ch AMQPChannel, queue string, prefetch int) (*RabbitQueue, error) {
	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, err
	}

	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitQueue{channel: ch, queue: queue, prefetch: prefetch}, nil
}

func (q *RabbitQueue) Enqueue(ctx context.Context, task entity.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return q.channel.PublishWithContext(ctx,
		"",
		q.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    task.ID.String(),
			Timestamp:    task.EnqueuedAt,
			Body:         body,
		},
	)
}

// consume starts the consumer on first Claim; publishers never open one.
func (q *RabbitQueue) consume() error {
	q.consumeOnce.Do(func() {
		if err := q.channel.Qos(q.prefetch, 0, false); err != nil {
			q.consumeErr = err
			return
		}
		q.deliveries, q.consumeErr = q.channel.Consume(
			q.queue,
			"",
			false,
			false,
			false,
			false,
			nil,
		)
	})
	return q.consumeErr
}

func (q *RabbitQueue) Claim(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if err := q.consume(); err != nil {
		return nil, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		return nil, ErrNoDelivery
	case msg, ok := <-q.deliveries:
		if !ok {
			return nil, errors.New("rabbitmq: delivery channel closed")
		}
		var task entity.Task
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			_ = msg.Nack(false, false)
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return &Delivery{
			Task:      task,
			Receipt:   strconv.FormatUint(msg.DeliveryTag, 10),
			ClaimedAt: time.Now(),
		}, nil
	}
}

func (q *RabbitQueue) Ack(_ context.Context, d *Delivery) error {
	tag, err := strconv.ParseUint(d.Receipt, 10, 64)
	if err != nil {
		return fmt.Errorf("bad delivery tag %q: %w", d.Receipt, err)
	}
	return q.channel.Ack(tag, false)
}

func (q *RabbitQueue) Stale(context.Context, time.Duration, int64) ([]*Delivery, error) {
	return nil, nil
}

// Depth counts ready messages; unacked deliveries are not included.
func (q *RabbitQueue) Depth(context.Context) (int64, error) {
	st, err := q.channel.QueueDeclarePassive(q.queue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return int64(st.Messages), nil
}

func (q *RabbitQueue) Close() error {
	return q.channel.Close()
}
