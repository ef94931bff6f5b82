// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"doc-ingest-service/internal/entity"
)

var ErrEmptyContent = errors.New("no text extracted from file")

// Func extracts text from the raw bytes of one document.
type Func func(ctx context.Context, data []byte) (string, error)

// Registry dispatches extraction by document format.
type Registry struct {
	mu    sync.RWMutex
	funcs map[entity.Format]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[entity.Format]Func)}
}

// Default returns a registry with the docconv backed PDF and DOCX extractors.
// PDF input is staged in tmpDir ("" means the OS default).
func Default(tmpDir string) *Registry {
	r := NewRegistry()
	r.Register(entity.FormatPDF, PDF(tmpDir))
	r.Register(entity.FormatDOCX, DOCX())
	return r
}

func (r *Registry) Register(format entity.Format, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[format] = fn
}

func (r *Registry) Formats() []entity.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.Format, 0, len(r.funcs))
	for f := range r.funcs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Extract runs the extractor registered for format.
// Whitespace-only output is reported as ErrEmptyContent.
func (r *Registry) Extract(ctx context.Context, format entity.Format, data []byte) (string, error) {
	r.mu.RLock()
	fn, ok := r.funcs[format]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", entity.ErrUnsupportedFormat, format)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := fn(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

// ExtractFile resolves the format from filename and extracts.
func (r *Registry) ExtractFile(ctx context.Context, filename string, data []byte) (string, error) {
	format, err := entity.FormatFromFilename(filename)
	if err != nil {
		return "", err
	}
	return r.Extract(ctx, format, data)
}
