package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
)

// MaxUploadSize is the largest accepted upload, 20 MiB.
const MaxUploadSize = 20 << 20

var (
	ErrUnsupportedFormat = entity.ErrUnsupportedFormat
	ErrFileTooLarge      = errors.New("file too large")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Small queue port used only for submission.
// (Queue in queue_service.go is the full worker-side interface.)
type TaskQueue interface {
	Enqueue(ctx context.Context, task entity.Task) error
}

type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// UploadObserver is told the outcome of every submission: "queued", "rejected" or "error".
type UploadObserver interface {
	UploadFinished(ctx context.Context, format entity.Format, outcome string, size int64)
}

type UploadOption func(*UploadService)

func WithUploadObserver(o UploadObserver) UploadOption {
	return func(s *UploadService) { s.observer = o }
}

type UploadService struct {
	blobs    BlobWriter
	queue    TaskQueue
	observer UploadObserver
}

func NewUploadService(blobs BlobWriter, queue TaskQueue, opts ...UploadOption) *UploadService {
	s := &UploadService{blobs: blobs, queue: queue}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type UploadRequest struct {
	Filename    string
	ContentType string
	OwnerID     int64
	Data        []byte
}

// Submit validates the upload, stores its bytes and enqueues a task.
// It returns as soon as the task is queued; processing happens in the worker.
func (s *UploadService) Submit(ctx context.Context, req UploadRequest) (uuid.UUID, error) {
	id, format, err := s.submit(ctx, req)
	if s.observer != nil {
		outcome := "queued"
		switch {
		case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrFileTooLarge), errors.Is(err, ErrInvalidRequest):
			outcome = "rejected"
		case err != nil:
			outcome = "error"
		}
		s.observer.UploadFinished(ctx, format, outcome, int64(len(req.Data)))
	}
	return id, err
}

func (s *UploadService) submit(ctx context.Context, req UploadRequest) (uuid.UUID, entity.Format, error) {
	if req.Filename == "" {
		return uuid.Nil, "", fmt.Errorf("%w: file is required", ErrInvalidRequest)
	}
	format, err := entity.FormatFromFilename(req.Filename)
	if err != nil {
		return uuid.Nil, "", err
	}
	if len(req.Data) > MaxUploadSize {
		return uuid.Nil, format, fmt.Errorf("%w: %d bytes, max %d", ErrFileTooLarge, len(req.Data), MaxUploadSize)
	}
	if req.ContentType == "" || req.ContentType == "application/octet-stream" {
		req.ContentType = format.ContentType()
	}

	id := uuid.New()
	task := entity.Task{
		ID:          id,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		OwnerID:     req.OwnerID,
		Format:      format,
		Size:        int64(len(req.Data)),
		BlobKey:     "uploads/" + id.String() + "." + string(format),
		EnqueuedAt:  time.Now().UTC(),
	}

	if err := s.blobs.Put(ctx, task.BlobKey, req.Data, task.ContentType); err != nil {
		return uuid.Nil, format, fmt.Errorf("store upload: %w", err)
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), task.BlobKey); delErr != nil {
			log.Printf("[gateway] task_id=%s delete_blob error=%v", id, delErr)
		}
		return uuid.Nil, format, fmt.Errorf("enqueue task: %w", err)
	}

	log.Printf("[gateway] task_id=%s owner_id=%d filename=%q format=%s size=%d status=queued",
		id, req.OwnerID, req.Filename, format, len(req.Data),
	)
	return id, format, nil
}
