package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/domain"
)

// The lock is a single fixed row. Acquire and Release are conditional
// updates so that the null-check and the claim are one atomic statement:
// under concurrent callers exactly one UPDATE matches.
const acquireLockQuery = `UPDATE run_lock
	SET run_id = $1,
		locked_at = $2,
		locked_by = $3
	WHERE lock_key = $4
	  AND run_id IS NULL`

const releaseLockQuery = `UPDATE run_lock
	SET run_id = NULL,
		locked_at = NULL,
		locked_by = NULL
	WHERE lock_key = $1
	  AND run_id = $2`

const forceReleaseLockQuery = `UPDATE run_lock
	SET run_id = NULL,
		locked_at = NULL,
		locked_by = NULL
	WHERE lock_key = $1`

const selectLockQuery = `SELECT lock_key, run_id, locked_by, locked_at
	FROM run_lock
	WHERE lock_key = $1`

const seedLockQuery = `INSERT INTO run_lock (lock_key)
	VALUES ($1)
	ON CONFLICT (lock_key) DO NOTHING`

type LockStore struct {
	db DB
}

func NewLockStore(db DB) *LockStore {
	if db == nil {
		return nil
	}
	return &LockStore{db: db}
}

// EnsureRow seeds the fixed lock row so conditional updates have a
// target. Safe to call on every startup.
func (s *LockStore) EnsureRow(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("lock store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, seedLockQuery, domain.LockKeyActiveRun); err != nil {
		return fmt.Errorf("seed lock row: %w", err)
	}
	return nil
}

func (s *LockStore) Acquire(ctx context.Context, runID, lockedBy string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("lock store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return false, fmt.Errorf("run id is required")
	}
	lockedBy = strings.TrimSpace(lockedBy)
	if lockedBy == "" {
		return false, fmt.Errorf("locked_by is required")
	}
	res, err := s.db.ExecContext(ctx, acquireLockQuery, runID, time.Now().UTC(), lockedBy, domain.LockKeyActiveRun)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return affected == 1, nil
}

func (s *LockStore) Release(ctx context.Context, runID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("lock store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return false, fmt.Errorf("run id is required")
	}
	res, err := s.db.ExecContext(ctx, releaseLockQuery, domain.LockKeyActiveRun, runID)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return affected == 1, nil
}

func (s *LockStore) ForceRelease(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("lock store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, forceReleaseLockQuery, domain.LockKeyActiveRun); err != nil {
		return fmt.Errorf("force release lock: %w", err)
	}
	return nil
}

func (s *LockStore) Status(ctx context.Context) (domain.RunLock, error) {
	if s == nil || s.db == nil {
		return domain.RunLock{}, fmt.Errorf("lock store not initialized")
	}
	var (
		lock     domain.RunLock
		runID    sql.NullString
		lockedBy sql.NullString
		lockedAt sql.NullTime
	)
	row := s.db.QueryRowContext(ctx, selectLockQuery, domain.LockKeyActiveRun)
	if err := row.Scan(&lock.LockKey, &runID, &lockedBy, &lockedAt); err != nil {
		return domain.RunLock{}, handleNotFound(err)
	}
	if runID.Valid {
		holder := runID.String
		lock.RunID = &holder
	}
	lock.LockedBy = lockedBy.String
	if lockedAt.Valid {
		at := lockedAt.Time.UTC()
		lock.LockedAt = &at
	}
	return lock, nil
}
