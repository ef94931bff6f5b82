package worker

import (
	"context"
	"log"
	"time"
)

type DocumentPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention deletes documents (and their chunks) older than maxAge.
type Retention struct {
	docs     DocumentPurger
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewRetention(docs DocumentPurger, maxAge, interval time.Duration) *Retention {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Retention{docs: docs, maxAge: maxAge, interval: interval, now: time.Now}
}

func (r *Retention) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Printf("[retention] sweep error=%v", err)
			}
		}
	}
}

func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.docs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Printf("[retention] cutoff=%s deleted=%d", cutoff.UTC().Format(time.RFC3339), n)
	return n, nil
}
