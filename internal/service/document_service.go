package service

import (
	"context"
	"fmt"

	"doc-ingest-service/internal/entity"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Repository port (implemented by postgresql.DocumentRepository)
type DocumentRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Document, error)
	List(ctx context.Context, ownerID *int64, skip, limit int) ([]entity.Document, int64, error)
	ListChunks(ctx context.Context, documentID int64, skip, limit int) ([]entity.Chunk, error)
}

type StatusReader interface {
	Get(ctx context.Context, id string) (entity.TaskStatus, bool, error)
}

type DocumentService struct {
	repo     DocumentRepository
	statuses StatusReader
}

func NewDocumentService(repo DocumentRepository, statuses StatusReader) *DocumentService {
	return &DocumentService{repo: repo, statuses: statuses}
}

type Page struct {
	Skip  int
	Limit int
}

// Validate rejects negative offsets and limits outside 1..MaxPageLimit.
func (p Page) Validate() error {
	if p.Skip < 0 {
		return fmt.Errorf("%w: skip must not be negative", ErrInvalidRequest)
	}
	if p.Limit < 1 || p.Limit > MaxPageLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, MaxPageLimit)
	}
	return nil
}

type DocumentPage struct {
	Documents []entity.Document
	Total     int64
	Page
}

type ChunkPage struct {
	Document *entity.Document
	Chunks   []entity.Chunk
	Page
}

// TaskStatus never fails for unknown ids; they read as PENDING.
func (s *DocumentService) TaskStatus(ctx context.Context, id string) (entity.TaskStatus, error) {
	st, _, err := s.statuses.Get(ctx, id)
	return st, err
}

func (s *DocumentService) ListDocuments(ctx context.Context, ownerID *int64, page Page) (*DocumentPage, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	docs, total, err := s.repo.List(ctx, ownerID, page.Skip, page.Limit)
	if err != nil {
		return nil, err
	}
	return &DocumentPage{Documents: docs, Total: total, Page: page}, nil
}

func (s *DocumentService) DocumentChunks(ctx context.Context, documentID int64, page Page) (*ChunkPage, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.repo.ListChunks(ctx, documentID, page.Skip, page.Limit)
	if err != nil {
		return nil, err
	}
	return &ChunkPage{Document: doc, Chunks: chunks, Page: page}, nil
}
