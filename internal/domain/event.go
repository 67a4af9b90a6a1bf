package domain

import (
	"errors"
	"strings"
	"time"
)

// EventKind classifies run events.
type EventKind string

const (
	EventStatusChange EventKind = "STATUS_CHANGE"
	EventLogMessage   EventKind = "LOG"
	EventWarning      EventKind = "WARNING"
	EventError        EventKind = "ERROR"
)

// Event is an immutable fact about a run. Events are append-only: there is no
// update or delete surface anywhere in the repository contract.
type Event struct {
	ID        string
	RunID     string
	EventTime time.Time
	Kind      EventKind
	Message   string
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("run id is required")
	}
	switch e.Kind {
	case EventStatusChange, EventLogMessage, EventWarning, EventError:
	default:
		return errors.New("unknown event kind")
	}
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("message is required")
	}
	return nil
}
