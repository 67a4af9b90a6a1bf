package domain

import (
	"errors"
	"strings"
	"time"
)

// RestoreRecord is the provenance of a "promote historical result to current"
// action. It is inserted even when the underlying trigger failed: the record
// exists to make the intent traceable, not just the success.
type RestoreRecord struct {
	ID          string
	RestoredAt  time.Time
	RestoredBy  string
	SourceRunID string
	// TargetRunID is empty when the promotion itself never started.
	TargetRunID string
}

func (r RestoreRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("restore id is required")
	}
	if strings.TrimSpace(r.RestoredBy) == "" {
		return errors.New("restored_by is required")
	}
	if strings.TrimSpace(r.SourceRunID) == "" {
		return errors.New("source run id is required")
	}
	return nil
}
