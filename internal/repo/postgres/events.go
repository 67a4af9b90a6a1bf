package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/domain"
	"github.com/google/uuid"
)

const insertEventQuery = `INSERT INTO run_events (id, run_id, event_time, event_type, message)
	VALUES ($1,$2,$3,$4,$5)`

// Ordering is by timestamp with insertion order as the tie-breaker, so
// clock skew between writers cannot reorder a run's history.
const listEventsQuery = `SELECT id, run_id, event_time, event_type, message
	FROM run_events
	WHERE run_id = $1
	ORDER BY event_time ASC, seq ASC`

// EventStore is the append-only run event log. It exposes no update or
// delete operation on existing rows; immutability is structural.
type EventStore struct {
	db DB
}

func NewEventStore(db DB) *EventStore {
	if db == nil {
		return nil
	}
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, runID string, kind domain.EventKind, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("event store not initialized")
	}
	event := domain.Event{
		ID:        uuid.NewString(),
		RunID:     strings.TrimSpace(runID),
		EventTime: time.Now().UTC(),
		Kind:      kind,
		Message:   strings.TrimSpace(message),
	}
	if err := event.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertEventQuery,
		event.ID,
		event.RunID,
		event.EventTime,
		string(event.Kind),
		event.Message,
	)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

func (s *EventStore) ListByRun(ctx context.Context, runID string) ([]domain.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("event store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, listEventsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			event domain.Event
			kind  string
		)
		if err := rows.Scan(&event.ID, &event.RunID, &event.EventTime, &kind, &event.Message); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		event.Kind = domain.EventKind(kind)
		event.EventTime = event.EventTime.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	return events, nil
}
