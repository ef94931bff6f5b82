package worker_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/extract"
	"doc-ingest-service/internal/worker"
)

type fixture struct {
	statuses *memStatuses
	blobs    *memBlobs
	docs     *memDocs
	task     entity.Task
}

func newFixture(data string) *fixture {
	task := entity.Task{
		ID:          uuid.New(),
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		OwnerID:     7,
		Format:      entity.FormatPDF,
		BlobKey:     "uploads/report.pdf",
	}
	return &fixture{
		statuses: newMemStatuses(),
		blobs:    &memBlobs{data: map[string][]byte{task.BlobKey: []byte(data)}},
		docs:     &memDocs{},
		task:     task,
	}
}

func (f *fixture) processor(ex worker.Extractor, chunkSize int) *worker.Processor {
	return worker.NewProcessor(f.docs, f.statuses, f.blobs, ex, worker.Options{
		ChunkSize: chunkSize,
		TimeLimit: time.Minute,
	})
}

var echoExtractor = fnExtractor(func(ctx context.Context, format entity.Format, data []byte) (string, error) {
	return string(data), nil
})

func TestProcessor_Success_ReportsCheckpointsInOrder(t *testing.T) {
	f := newFixture(strings.Repeat("x", 25))

	if err := f.processor(echoExtractor, 10).Process(context.Background(), f.task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seq := f.statuses.seq(f.task.ID.String())
	wantProgress := []int{10, 30, 60, 80, 100}
	wantMsg := []string{entity.MsgProcessing, entity.MsgExtracting, entity.MsgChunking, entity.MsgSaving, entity.MsgCompleted}
	if len(seq) != len(wantProgress) {
		t.Fatalf("expected %d status writes, got %d: %+v", len(wantProgress), len(seq), seq)
	}
	for i, st := range seq {
		if st.Progress != wantProgress[i] || st.Message != wantMsg[i] {
			t.Fatalf("step %d: got %d %q, want %d %q", i, st.Progress, st.Message, wantProgress[i], wantMsg[i])
		}
		if i < len(seq)-1 && st.State != entity.StateProgress {
			t.Fatalf("step %d: expected PROGRESS, got %s", i, st.State)
		}
	}

	final := seq[len(seq)-1]
	if final.State != entity.StateSuccess || final.Result == nil {
		t.Fatalf("expected SUCCESS with result, got %+v", final)
	}
	if final.Result.NumChunks != 3 {
		t.Fatalf("expected ceil(25/10)=3 chunks, got %d", final.Result.NumChunks)
	}
	if got := f.docs.saved[final.Result.DocumentID]; strings.Join(got, "") != strings.Repeat("x", 25) {
		t.Fatalf("persisted chunks do not cover the text: %q", got)
	}
	if len(f.blobs.deleted) != 1 {
		t.Fatalf("expected blob to be deleted after completion")
	}
}

func TestProcessor_EmptyText_FailsWithoutPersisting(t *testing.T) {
	f := newFixture("   ")
	reg := extract.NewRegistry()
	reg.Register(entity.FormatPDF, func(ctx context.Context, data []byte) (string, error) {
		return string(data), nil
	})

	err := f.processor(reg, 10).Process(context.Background(), f.task)
	if !errors.Is(err, extract.ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateFailure || st.Progress != 30 {
		t.Fatalf("expected FAILURE at 30, got %s at %d", st.State, st.Progress)
	}
	if st.Error != extract.ErrEmptyContent.Error() {
		t.Fatalf("unexpected error text %q", st.Error)
	}
	if f.docs.calls != 0 {
		t.Fatalf("nothing must be persisted for empty text")
	}
}

func TestProcessor_PersistenceFailure_KeepsProgress(t *testing.T) {
	f := newFixture("some text")
	f.docs.err = errBoom

	err := f.processor(echoExtractor, 3).Process(context.Background(), f.task)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateFailure || st.Progress != 80 || st.Result != nil {
		t.Fatalf("expected FAILURE at 80 without result, got %+v", st)
	}
}

func TestProcessor_MissingBlob_Fails(t *testing.T) {
	f := newFixture("text")
	delete(f.blobs.data, f.task.BlobKey)

	if err := f.processor(echoExtractor, 3).Process(context.Background(), f.task); err == nil {
		t.Fatalf("expected error")
	}
	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateFailure || !strings.Contains(st.Error, "load upload") {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestProcessor_PanicBecomesFailure(t *testing.T) {
	f := newFixture("text")
	panicky := fnExtractor(func(ctx context.Context, format entity.Format, data []byte) (string, error) {
		panic("corrupt document")
	})

	err := f.processor(panicky, 3).Process(context.Background(), f.task)
	if err == nil || !strings.Contains(err.Error(), "panic: corrupt document") {
		t.Fatalf("expected panic error, got %v", err)
	}
	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateFailure || st.Progress != 30 {
		t.Fatalf("expected FAILURE at 30, got %+v", st)
	}
}

func TestProcessor_CheckpointWriteFailure_StopsBeforePersisting(t *testing.T) {
	f := newFixture("text")
	f.statuses.failOn = func(st entity.TaskStatus) error {
		if st.Progress == 60 {
			return errBoom
		}
		return nil
	}

	if err := f.processor(echoExtractor, 3).Process(context.Background(), f.task); !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if f.docs.calls != 0 {
		t.Fatalf("persistence must not run after a failed checkpoint")
	}
	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateFailure || st.Progress != 30 {
		t.Fatalf("expected FAILURE at last recorded progress, got %+v", st)
	}
}

func TestProcessor_TerminalTaskIsSkipped(t *testing.T) {
	f := newFixture("text")
	id := f.task.ID.String()
	done := entity.TaskStatus{ID: id, State: entity.StateSuccess, Progress: 100, Result: &entity.TaskResult{DocumentID: 1, NumChunks: 1}}
	_ = f.statuses.Set(context.Background(), done)

	err := f.processor(echoExtractor, 3).Process(context.Background(), f.task)
	if !errors.Is(err, worker.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if len(f.statuses.seq(id)) != 1 || f.docs.calls != 0 {
		t.Fatalf("terminal task must not be processed again")
	}
}

func TestProcessor_RedeliveredInProgressTaskFails(t *testing.T) {
	f := newFixture("text")
	id := f.task.ID.String()
	_ = f.statuses.Set(context.Background(), entity.TaskStatus{ID: id, State: entity.StateProgress, Progress: 60, Message: entity.MsgChunking})

	err := f.processor(echoExtractor, 3).Process(context.Background(), f.task)
	if !errors.Is(err, worker.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	st, _, _ := f.statuses.Get(context.Background(), id)
	if st.State != entity.StateFailure || st.Progress != 60 || !strings.HasPrefix(st.Error, "worker lost") {
		t.Fatalf("expected worker-lost FAILURE at 60, got %+v", st)
	}
	if f.docs.calls != 0 {
		t.Fatalf("redelivered task must not be run again")
	}
}

func TestProcessor_TimeLimit(t *testing.T) {
	f := newFixture("text")
	slow := fnExtractor(func(ctx context.Context, format entity.Format, data []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	p := worker.NewProcessor(f.docs, f.statuses, f.blobs, slow, worker.Options{
		ChunkSize: 3,
		TimeLimit: 50 * time.Millisecond,
	})

	err := p.Process(context.Background(), f.task)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateFailure || !strings.Contains(st.Error, "time limit") {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestProcessor_SurvivesCanceledParent(t *testing.T) {
	f := newFixture("abcdef")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.processor(echoExtractor, 3).Process(ctx, f.task); err != nil {
		t.Fatalf("a claimed task must run to completion after shutdown starts: %v", err)
	}
	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateSuccess || st.Result.NumChunks != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
}

type recordingObserver struct {
	states []entity.TaskState
}

func (o *recordingObserver) TaskFinished(_ context.Context, state entity.TaskState, _ time.Duration) {
	o.states = append(o.states, state)
}

func TestProcessor_ReportsOutcomeToObserver(t *testing.T) {
	obs := &recordingObserver{}

	ok := newFixture("hello")
	p := worker.NewProcessor(ok.docs, ok.statuses, ok.blobs, echoExtractor, worker.Options{ChunkSize: 3, Observer: obs})
	if err := p.Process(context.Background(), ok.task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := newFixture("hello")
	bad.docs.err = errBoom
	p = worker.NewProcessor(bad.docs, bad.statuses, bad.blobs, echoExtractor, worker.Options{ChunkSize: 3, Observer: obs})
	_ = p.Process(context.Background(), bad.task)

	// a second delivery of a finished task is not counted again
	_ = p.Process(context.Background(), bad.task)

	want := []entity.TaskState{entity.StateSuccess, entity.StateFailure}
	if len(obs.states) != len(want) {
		t.Fatalf("expected %v, got %v", want, obs.states)
	}
	for i := range want {
		if obs.states[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, obs.states)
		}
	}
}

func TestProcessor_SuccessWriteRetried(t *testing.T) {
	f := newFixture("hello")
	attempts := 0
	f.statuses.failOn = func(st entity.TaskStatus) error {
		if st.State == entity.StateSuccess {
			attempts++
			if attempts == 1 {
				return errBoom
			}
		}
		return nil
	}

	if err := f.processor(echoExtractor, 3).Process(context.Background(), f.task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateSuccess || st.Result == nil || st.Result.DocumentID != 1 {
		t.Fatalf("expected SUCCESS for document 1, got %+v", st)
	}
	if attempts != 2 || f.docs.calls != 1 {
		t.Fatalf("expected 2 SUCCESS writes and 1 persist, got %d/%d", attempts, f.docs.calls)
	}
}

func TestProcessor_SuccessWriteLost_FailureNamesDocument(t *testing.T) {
	f := newFixture("hello")
	f.statuses.failOn = func(st entity.TaskStatus) error {
		if st.State == entity.StateSuccess {
			return errBoom
		}
		return nil
	}

	err := f.processor(echoExtractor, 3).Process(context.Background(), f.task)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	st, _, _ := f.statuses.Get(context.Background(), f.task.ID.String())
	if st.State != entity.StateFailure || st.Progress != 80 {
		t.Fatalf("expected FAILURE at 80, got %+v", st)
	}
	if !strings.Contains(st.Error, "document 1 saved") {
		t.Fatalf("failure should name the saved document, got %q", st.Error)
	}
}
