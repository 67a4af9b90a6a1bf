package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fewa2000/fabric-data-portal/internal/domain"
)

const insertRestoreQuery = `INSERT INTO run_restores (id, restored_at, restored_by, source_run_id, target_run_id)
	VALUES ($1,$2,$3,$4,$5)`

const listRestoresQuery = `SELECT id, restored_at, restored_by, source_run_id, target_run_id
	FROM run_restores
	ORDER BY restored_at DESC
	LIMIT $1`

// RestoreStore records promote-to-current actions. Insert-only, like the
// event log: failed restore intents are part of the history too.
type RestoreStore struct {
	db DB
}

func NewRestoreStore(db DB) *RestoreStore {
	if db == nil {
		return nil
	}
	return &RestoreStore{db: db}
}

func (s *RestoreStore) InsertRestore(ctx context.Context, record domain.RestoreRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("restore store not initialized")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRestoreQuery,
		strings.TrimSpace(record.ID),
		normalizeTime(record.RestoredAt),
		strings.TrimSpace(record.RestoredBy),
		strings.TrimSpace(record.SourceRunID),
		nullIfEmpty(record.TargetRunID),
	)
	if err != nil {
		return fmt.Errorf("insert restore record: %w", err)
	}
	return nil
}

func (s *RestoreStore) ListRestores(ctx context.Context, limit int) ([]domain.RestoreRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("restore store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, listRestoresQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list restore records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.RestoreRecord, 0)
	for rows.Next() {
		var (
			record      domain.RestoreRecord
			targetRunID sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.RestoredAt, &record.RestoredBy, &record.SourceRunID, &targetRunID); err != nil {
			return nil, fmt.Errorf("scan restore record: %w", err)
		}
		record.RestoredAt = record.RestoredAt.UTC()
		record.TargetRunID = targetRunID.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list restore records: %w", err)
	}
	return records, nil
}
