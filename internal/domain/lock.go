package domain

import "time"

// LockKeyActiveRun is the fixed slot name of the single contended resource:
// "a pipeline run is currently active".
const LockKeyActiveRun = "ACTIVE_PIPELINE_RUN"

// RunLock is the single-row lock record. A nil RunID means the lock is free.
type RunLock struct {
	LockKey  string
	RunID    *string
	LockedBy string
	LockedAt *time.Time
}

// Held reports whether the lock currently has a holder.
func (l RunLock) Held() bool {
	return l.RunID != nil && *l.RunID != ""
}
