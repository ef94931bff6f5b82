package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"doc-ingest-service/internal/chunker"
	"doc-ingest-service/internal/entity"
)

// ErrAlreadyStarted is returned when a delivered task has already been picked up before.
var ErrAlreadyStarted = errors.New("task already started")

// Failure reasons for tasks whose worker disappeared.
const (
	errWorkerTimedOut   = "worker lost: time limit exceeded"
	errWorkerRedelivery = "worker lost: task was interrupted"
)

type DocumentStore interface {
	CreateWithChunks(ctx context.Context, doc entity.Document, chunks []string) (*entity.Document, error)
}

type StatusStore interface {
	Get(ctx context.Context, id string) (entity.TaskStatus, bool, error)
	Set(ctx context.Context, st entity.TaskStatus) error
}

type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type Extractor interface {
	Extract(ctx context.Context, format entity.Format, data []byte) (string, error)
}

// TaskObserver is notified once per task that reaches a terminal state.
type TaskObserver interface {
	TaskFinished(ctx context.Context, state entity.TaskState, elapsed time.Duration)
}

type Options struct {
	ChunkSize     int
	TimeLimit     time.Duration
	SoftTimeLimit time.Duration
	Observer      TaskObserver
}

type noopObserver struct{}

func (noopObserver) TaskFinished(context.Context, entity.TaskState, time.Duration) {}

type Processor struct {
	docs      DocumentStore
	statuses  StatusStore
	blobs     BlobStore
	extractor Extractor
	opts      Options
}

func NewProcessor(docs DocumentStore, statuses StatusStore, blobs BlobStore, extractor Extractor, opts Options) *Processor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultSize
	}
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = 30 * time.Minute
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &Processor{
		docs:      docs,
		statuses:  statuses,
		blobs:     blobs,
		extractor: extractor,
		opts:      opts,
	}
}

// Process runs one task to a terminal state. The returned error is for logging only:
// by the time Process returns, the outcome is already recorded in the status registry
// (unless the registry itself is unreachable).
func (p *Processor) Process(ctx context.Context, task entity.Task) error {
	start := time.Now()
	id := task.ID.String()

	// a claimed task runs to the end even if the claiming loop is shutting down
	ctx = context.WithoutCancel(ctx)

	cur, found, err := p.statuses.Get(ctx, id)
	if err != nil {
		log.Printf("[worker] job_id=%s get_status error=%v", id, err)
		return err
	}
	if found && cur.State != entity.StatePending {
		if !cur.State.Terminal() {
			// redelivered after the first worker died mid-run
			lost := entity.TaskStatus{
				ID: id, State: entity.StateFailure, Progress: cur.Progress,
				Message: entity.MsgFailed, Error: errWorkerRedelivery, UpdatedAt: time.Now().UTC(),
			}
			if err := p.statuses.Set(ctx, lost); err != nil {
				log.Printf("[worker] job_id=%s set_status=FAILURE error=%v", id, err)
			}
			p.dropBlob(ctx, task)
			p.opts.Observer.TaskFinished(ctx, entity.StateFailure, time.Since(start))
		}
		log.Printf("[worker] job_id=%s state=%s status=skipped", id, cur.State)
		return ErrAlreadyStarted
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.opts.TimeLimit)
	defer cancel()
	if p.opts.SoftTimeLimit > 0 {
		soft := time.AfterFunc(p.opts.SoftTimeLimit, func() {
			log.Printf("[worker] job_id=%s soft_time_limit=%s exceeded", id, p.opts.SoftTimeLimit)
		})
		defer soft.Stop()
	}

	log.Printf("[worker] job_id=%s filename=%q format=%s size=%d status=started", id, task.Filename, task.Format, task.Size)

	run := &execution{p: p, task: task, status: entity.PendingStatus(id)}
	res, runErr := run.pipeline(jobCtx)
	if runErr == nil {
		runErr = run.succeed(ctx, jobCtx, res)
	}

	defer p.dropBlob(ctx, task)

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			runErr = fmt.Errorf("time limit %s exceeded: %w", p.opts.TimeLimit, runErr)
		}
		failCtx, failCancel := context.WithTimeout(ctx, 10*time.Second)
		defer failCancel()
		if err := run.fail(failCtx, runErr); err != nil {
			log.Printf("[worker] job_id=%s set_status=FAILURE error=%v", id, err)
		}
		log.Printf("[worker] job_id=%s status=error progress=%d duration_ms=%d error=%s",
			id, run.status.Progress, time.Since(start).Milliseconds(), runErr,
		)
		p.opts.Observer.TaskFinished(ctx, entity.StateFailure, time.Since(start))
		return runErr
	}

	log.Printf("[worker] job_id=%s status=done document_id=%d num_chunks=%d duration_ms=%d",
		id, res.DocumentID, res.NumChunks, time.Since(start).Milliseconds(),
	)
	p.opts.Observer.TaskFinished(ctx, entity.StateSuccess, time.Since(start))
	return nil
}

func (p *Processor) dropBlob(ctx context.Context, task entity.Task) {
	if task.BlobKey == "" {
		return
	}
	if err := p.blobs.Delete(ctx, task.BlobKey); err != nil {
		log.Printf("[worker] job_id=%s delete_blob error=%v", task.ID, err)
	}
}

// execution tracks the last recorded status of one run.
type execution struct {
	p      *Processor
	task   entity.Task
	status entity.TaskStatus
}

func (e *execution) advance(ctx context.Context, next entity.TaskStatus) error {
	next.ID = e.status.ID
	next.UpdatedAt = time.Now().UTC()
	if err := e.status.CanTransition(next); err != nil {
		return err
	}
	if err := e.p.statuses.Set(ctx, next); err != nil {
		return fmt.Errorf("record %s %d%%: %w", next.State, next.Progress, err)
	}
	e.status = next
	return nil
}

func (e *execution) checkpoint(ctx context.Context, progress int, msg string) error {
	return e.advance(ctx, entity.TaskStatus{State: entity.StateProgress, Progress: progress, Message: msg})
}

// succeed records SUCCESS. The document is committed by now, so a failed write is
// retried once on a fresh context before the task falls back to FAILURE.
func (e *execution) succeed(ctx, jobCtx context.Context, res *entity.TaskResult) error {
	done := entity.TaskStatus{State: entity.StateSuccess, Progress: 100, Message: entity.MsgCompleted, Result: res}
	err := e.advance(jobCtx, done)
	if err == nil {
		return nil
	}
	log.Printf("[worker] job_id=%s set_status=SUCCESS error=%v retry=true", e.status.ID, err)

	retryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err = e.advance(retryCtx, done); err == nil {
		return nil
	}
	// the first write may have landed even though it reported an error
	if errors.Is(err, entity.ErrTerminalState) {
		if cur, _, getErr := e.p.statuses.Get(retryCtx, e.status.ID); getErr == nil && cur.State == entity.StateSuccess {
			e.status = cur
			return nil
		}
	}
	return fmt.Errorf("document %d saved but status not recorded: %w", res.DocumentID, err)
}

// fail records FAILURE keeping the last reported progress.
func (e *execution) fail(ctx context.Context, cause error) error {
	return e.advance(ctx, entity.TaskStatus{
		State:    entity.StateFailure,
		Progress: e.status.Progress,
		Message:  entity.MsgFailed,
		Error:    cause.Error(),
	})
}

func (e *execution) pipeline(ctx context.Context) (res *entity.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	if err := e.checkpoint(ctx, 10, entity.MsgProcessing); err != nil {
		return nil, err
	}

	if err := e.checkpoint(ctx, 30, entity.MsgExtracting); err != nil {
		return nil, err
	}
	data, err := e.p.blobs.Get(ctx, e.task.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("load upload: %w", err)
	}
	text, err := e.p.extractor.Extract(ctx, e.task.Format, data)
	if err != nil {
		return nil, err
	}

	if err := e.checkpoint(ctx, 60, entity.MsgChunking); err != nil {
		return nil, err
	}
	chunks, err := chunker.Split(text, e.p.opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	if err := e.checkpoint(ctx, 80, entity.MsgSaving); err != nil {
		return nil, err
	}
	doc, err := e.p.docs.CreateWithChunks(ctx, entity.Document{
		OwnerID:     e.task.OwnerID,
		Filename:    e.task.Filename,
		ContentType: e.task.ContentType,
	}, chunks)
	if err != nil {
		return nil, err
	}

	return &entity.TaskResult{DocumentID: doc.ID, NumChunks: doc.NumChunks}, nil
}
