package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"doc-ingest-service/internal/entity"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persist document")
)

type DocumentRepository struct {
	db DBTX
}

func NewDocumentRepository(db DBTX) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateWithChunks writes the document row and its chunks in one transaction.
// Chunk i is stored with chunk_index i. Either everything is committed or nothing is.
func (r *DocumentRepository) CreateWithChunks(ctx context.Context, doc entity.Document, chunks []string) (*entity.Document, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", ErrPersistence)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}

	const q = `
INSERT INTO documents (owner_id, filename, content_type, num_chunks)
VALUES ($1, $2, $3, $4)
RETURNING id, upload_time;
`
	if err := tx.QueryRow(ctx, q, doc.OwnerID, doc.Filename, doc.ContentType, len(chunks)).
		Scan(&doc.ID, &doc.UploadTime); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("%w: insert document: %w", ErrPersistence, err)
	}

	rows := make([][]any, len(chunks))
	for i, text := range chunks {
		rows[i] = []any{doc.ID, i, text}
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"document_chunks"},
		[]string{"document_id", "chunk_index", "text"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("%w: copy chunks: %w", ErrPersistence, err)
	}
	if n != int64(len(chunks)) {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("%w: copied %d of %d chunks", ErrPersistence, n, len(chunks))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}

	doc.NumChunks = len(chunks)
	return &doc, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*entity.Document, error) {
	const q = `
SELECT id, owner_id, filename, content_type, upload_time, num_chunks
FROM documents
WHERE id = $1;
`
	var d entity.Document
	if err := r.db.QueryRow(ctx, q, id).Scan(
		&d.ID, &d.OwnerID, &d.Filename, &d.ContentType, &d.UploadTime, &d.NumChunks,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// List returns one page of documents, newest first, and the total matching count.
// A nil ownerID lists every owner.
func (r *DocumentRepository) List(ctx context.Context, ownerID *int64, skip, limit int) ([]entity.Document, int64, error) {
	const countQ = `
SELECT count(*)
FROM documents
WHERE ($1::bigint IS NULL OR owner_id = $1);
`
	var total int64
	if err := r.db.QueryRow(ctx, countQ, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `
SELECT id, owner_id, filename, content_type, upload_time, num_chunks
FROM documents
WHERE ($1::bigint IS NULL OR owner_id = $1)
ORDER BY upload_time DESC, id DESC
OFFSET $2 LIMIT $3;
`
	rows, err := r.db.Query(ctx, q, ownerID, skip, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	docs := make([]entity.Document, 0, limit)
	for rows.Next() {
		var d entity.Document
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.ContentType, &d.UploadTime, &d.NumChunks); err != nil {
			return nil, 0, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListChunks returns one page of a document's chunks in chunk_index order.
func (r *DocumentRepository) ListChunks(ctx context.Context, documentID int64, skip, limit int) ([]entity.Chunk, error) {
	const q = `
SELECT id, document_id, chunk_index, text
FROM document_chunks
WHERE document_id = $1
ORDER BY chunk_index
OFFSET $2 LIMIT $3;
`
	rows, err := r.db.Query(ctx, q, documentID, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make([]entity.Chunk, 0, limit)
	for rows.Next() {
		var c entity.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteOlderThan removes documents uploaded before cutoff; chunks go with them.
func (r *DocumentRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE upload_time < $1;`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
