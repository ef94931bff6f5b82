package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/service"
	"doc-ingest-service/internal/storage"
)

type memStatuses struct {
	mu      sync.Mutex
	current map[string]entity.TaskStatus
	history map[string][]entity.TaskStatus
	failOn  func(st entity.TaskStatus) error
}

func newMemStatuses() *memStatuses {
	return &memStatuses{current: map[string]entity.TaskStatus{}, history: map[string][]entity.TaskStatus{}}
}

func (m *memStatuses) Get(ctx context.Context, id string) (entity.TaskStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.current[id]
	if !ok {
		return entity.PendingStatus(id), false, nil
	}
	return st, true, nil
}

func (m *memStatuses) Set(ctx context.Context, st entity.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		if err := m.failOn(st); err != nil {
			return err
		}
	}
	if cur, ok := m.current[st.ID]; ok {
		if cur.State.Terminal() {
			return entity.ErrTerminalState
		}
		if st.Progress < cur.Progress {
			return entity.ErrInvalidTransition
		}
	}
	m.current[st.ID] = st
	m.history[st.ID] = append(m.history[st.ID], st)
	return nil
}

func (m *memStatuses) seq(id string) []entity.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.TaskStatus(nil), m.history[id]...)
}

type memBlobs struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func (b *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrBlobNotFound, key)
	}
	return d, nil
}

func (b *memBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	b.deleted = append(b.deleted, key)
	return nil
}

type fnExtractor func(ctx context.Context, format entity.Format, data []byte) (string, error)

func (f fnExtractor) Extract(ctx context.Context, format entity.Format, data []byte) (string, error) {
	return f(ctx, format, data)
}

type memDocs struct {
	mu     sync.Mutex
	nextID int64
	saved  map[int64][]string
	err    error
	calls  int
}

func (d *memDocs) CreateWithChunks(ctx context.Context, doc entity.Document, chunks []string) (*entity.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	d.nextID++
	if d.saved == nil {
		d.saved = map[int64][]string{}
	}
	d.saved[d.nextID] = chunks
	doc.ID = d.nextID
	doc.NumChunks = len(chunks)
	doc.UploadTime = time.Now()
	return &doc, nil
}

// memQueue serves a fixed set of deliveries and records acks.
type memQueue struct {
	mu      sync.Mutex
	pending []*service.Delivery
	acked   []string
	stale   []*service.Delivery
}

func (q *memQueue) Enqueue(ctx context.Context, task entity.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &service.Delivery{Task: task, Receipt: task.ID.String()})
	return nil
}

func (q *memQueue) Claim(ctx context.Context, timeout time.Duration) (*service.Delivery, error) {
	q.mu.Lock()
	if len(q.pending) > 0 {
		d := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		d.ClaimedAt = time.Now()
		return d, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, service.ErrNoDelivery
	}
}

func (q *memQueue) Ack(ctx context.Context, d *service.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, d.Receipt)
	return nil
}

func (q *memQueue) Stale(ctx context.Context, olderThan time.Duration, max int64) ([]*service.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stale, nil
}

func (q *memQueue) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

var errBoom = errors.New("boom")
