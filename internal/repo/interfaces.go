package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/domain"
)

var (
	// ErrNotFound signals that the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateRun signals an insert with an already-used run identifier.
	// Identifiers are caller-generated, so this is a real runtime condition.
	ErrDuplicateRun = errors.New("duplicate run id")
	// ErrInvalidTransition signals a status update that would move a run
	// backward along the lifecycle order.
	ErrInvalidTransition = errors.New("invalid run state transition")
)

// RunFilter narrows run listings.
type RunFilter struct {
	Status domain.RunState
	Limit  int
	Offset int
}

// RunStatusUpdate carries the optional fields of a partial status update.
// Nil fields are left untouched.
type RunStatusUpdate struct {
	ErrorMessage *string
	FabricJobID  *string
	KPIs         json.RawMessage
}

// RunRepository manages pipeline run rows. Lifecycle fields are written only
// by the orchestrator; reads are unrestricted.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	// GetActiveRun returns the newest non-terminal run, or ErrNotFound.
	GetActiveRun(ctx context.Context) (domain.Run, error)
	// GetLatestSucceededRun returns the most recently finished succeeded
	// run, or ErrNotFound.
	GetLatestSucceededRun(ctx context.Context) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	// UpdateRunStatus applies a forward-only transition, setting started_at
	// on entering RUNNING and finished_at on entering a terminal state.
	// A backward request fails with ErrInvalidTransition.
	UpdateRunStatus(ctx context.Context, id string, status domain.RunState, update RunStatusUpdate) error
}

// LockRepository manages the single-row run lock. Acquire and Release are
// atomic conditional updates against the backing store; an in-process mutex
// would not survive multiple portal sessions or processes.
type LockRepository interface {
	// Acquire claims the lock for runID. It returns false, with no side
	// effects, when the lock is already held. An error means the store was
	// unreachable, which is distinct from contention.
	Acquire(ctx context.Context, runID, lockedBy string) (bool, error)
	// Release clears the lock only when runID is the current holder.
	Release(ctx context.Context, runID string) (bool, error)
	// ForceRelease unconditionally clears the lock. Administrative recovery
	// only; never part of the normal lifecycle.
	ForceRelease(ctx context.Context) error
	Status(ctx context.Context) (domain.RunLock, error)
}

// EventLog is the append-only record of run history. The absence of any
// update or delete method is deliberate and load-bearing.
type EventLog interface {
	Append(ctx context.Context, runID string, kind domain.EventKind, message string) error
	ListByRun(ctx context.Context, runID string) ([]domain.Event, error)
}

// RestoreRepository records promote-historical-result actions. Insert-only.
type RestoreRepository interface {
	InsertRestore(ctx context.Context, record domain.RestoreRecord) error
	ListRestores(ctx context.Context, limit int) ([]domain.RestoreRecord, error)
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
