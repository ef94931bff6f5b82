package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TaskState string

const (
	StatePending  TaskState = "PENDING"
	StateProgress TaskState = "PROGRESS"
	StateSuccess  TaskState = "SUCCESS"
	StateFailure  TaskState = "FAILURE"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskState) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Status messages reported to clients.
const (
	MsgPending    = "Task is pending..."
	MsgProcessing = "Processing document"
	MsgExtracting = "Extracting text"
	MsgChunking   = "Chunking text"
	MsgSaving     = "Saving to database"
	MsgCompleted  = "Document processed successfully"
	MsgFailed     = "Document processing failed"
)

var (
	ErrTerminalState     = errors.New("task already in terminal state")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrInvalidStatus     = errors.New("invalid task status")
)

// Task is the queue message for one uploaded document.
type Task struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	OwnerID     int64     `json:"owner_id"`
	Format      Format    `json:"format"`
	Size        int64     `json:"size"`
	BlobKey     string    `json:"blob_key"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type TaskResult struct {
	DocumentID int64 `json:"document_id"`
	NumChunks  int   `json:"num_chunks"`
}

type TaskStatus struct {
	ID        string
	State     TaskState
	Progress  int
	Message   string
	Result    *TaskResult
	Error     string
	UpdatedAt time.Time
}

// PendingStatus is what an unknown or not yet started task reports.
func PendingStatus(id string) TaskStatus {
	return TaskStatus{ID: id, State: StatePending, Message: MsgPending}
}

// Validate checks the fields carried by each state.
func (s TaskStatus) Validate() error {
	if s.Progress < 0 || s.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidStatus, s.Progress)
	}
	switch s.State {
	case StatePending, StateProgress:
		if s.Result != nil || s.Error != "" {
			return fmt.Errorf("%w: %s carries result or error", ErrInvalidStatus, s.State)
		}
	case StateSuccess:
		if s.Result == nil {
			return fmt.Errorf("%w: SUCCESS without result", ErrInvalidStatus)
		}
		if s.Progress != 100 || s.Error != "" {
			return fmt.Errorf("%w: SUCCESS must be 100%% without error", ErrInvalidStatus)
		}
	case StateFailure:
		if s.Error == "" || s.Result != nil {
			return fmt.Errorf("%w: FAILURE needs an error and no result", ErrInvalidStatus)
		}
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStatus, s.State)
	}
	return nil
}

// CanTransition reports whether next may be recorded after s.
func (s TaskStatus) CanTransition(next TaskStatus) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, s.State)
	}
	if next.State == StatePending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next.State)
	}
	if next.Progress < s.Progress {
		return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, s.Progress, next.Progress)
	}
	return nil
}
