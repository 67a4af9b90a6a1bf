package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Run represents a single Fabric pipeline execution from trigger to terminal
// outcome. Rows are never deleted; a run is a permanent record.
type Run struct {
	ID             string
	TriggeredBy    string
	InputFile      string
	WorkspaceID    string
	PipelineItemID string
	JobLocationURL string
	FabricJobID    string
	Status         RunState
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	ErrorMessage   string
	KPIs           json.RawMessage
	AppVersion     string
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.TriggeredBy) == "" {
		return errors.New("triggered_by is required")
	}
	if strings.TrimSpace(r.InputFile) == "" {
		return errors.New("input file is required")
	}
	if NormalizeRunState(string(r.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}

// IsTerminal reports whether the run has reached a final state.
func (r Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}
