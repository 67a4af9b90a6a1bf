// Package restore promotes the result of a historical succeeded run by
// re-running the pipeline against that run's archived output. Every
// attempt, failed or not, leaves a provenance record.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fewa2000/fabric-data-portal/internal/domain"
	"github.com/fewa2000/fabric-data-portal/internal/repo"
	"github.com/fewa2000/fabric-data-portal/internal/service/orchestrator"
)

// ErrValidation marks a restore request rejected before any side
// effect: unknown source run, source not succeeded, missing actor.
var ErrValidation = errors.New("restore request invalid")

// RestoreInputPrefix marks the synthetic input reference handed to the
// pipeline so it reads from the archived run instead of the drop zone.
const RestoreInputPrefix = "restore://"

// Starter is the slice of the orchestrator a restore needs.
type Starter interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (domain.Run, error)
}

type Service struct {
	runs     repo.RunRepository
	restores repo.RestoreRepository
	events   repo.EventLog
	starter  Starter

	logger *slog.Logger
	now    repo.Clock
	newID  func() string
}

func New(runs repo.RunRepository, restores repo.RestoreRepository, events repo.EventLog, starter Starter, logger *slog.Logger) (*Service, error) {
	if runs == nil {
		return nil, errors.New("run repository is required")
	}
	if restores == nil {
		return nil, errors.New("restore repository is required")
	}
	if events == nil {
		return nil, errors.New("event log is required")
	}
	if starter == nil {
		return nil, errors.New("starter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runs:     runs,
		restores: restores,
		events:   events,
		starter:  starter,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Restore validates the source run, then delegates to the
// orchestrator's normal start path. The restore run competes for the
// pipeline lock like any other run. The provenance record is written
// whether or not the run started; a failed start leaves the target
// empty and a WARNING on the source run's timeline.
func (s *Service) Restore(ctx context.Context, sourceRunID, actor string) (domain.RestoreRecord, error) {
	if s == nil || s.runs == nil {
		return domain.RestoreRecord{}, errors.New("restore service not initialized")
	}

	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.RestoreRecord{}, fmt.Errorf("%w: actor is required", ErrValidation)
	}
	sourceRunID = strings.TrimSpace(sourceRunID)
	if sourceRunID == "" {
		return domain.RestoreRecord{}, fmt.Errorf("%w: source run id is required", ErrValidation)
	}

	source, err := s.runs.GetRun(ctx, sourceRunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.RestoreRecord{}, fmt.Errorf("%w: source run %s not found", ErrValidation, sourceRunID)
		}
		return domain.RestoreRecord{}, err
	}
	if source.Status != domain.RunStateSucceeded {
		return domain.RestoreRecord{}, fmt.Errorf("%w: source run %s is %s, only SUCCEEDED runs can be restored",
			ErrValidation, sourceRunID, source.Status)
	}

	record := domain.RestoreRecord{
		ID:          s.newID(),
		RestoredAt:  s.now().UTC(),
		RestoredBy:  actor,
		SourceRunID: sourceRunID,
	}

	run, startErr := s.starter.Start(ctx, orchestrator.StartRequest{
		InputFile:   RestoreInputPrefix + sourceRunID,
		RequestedBy: actor,
	})
	if startErr == nil {
		record.TargetRunID = run.ID
	} else {
		s.logger.Warn("restore run failed to start", "source_run_id", sourceRunID, "error", startErr)
		if err := s.events.Append(ctx, sourceRunID, domain.EventWarning,
			fmt.Sprintf("Restore attempt by %s failed to start: %v", actor, startErr)); err != nil {
			s.logger.Warn("append restore warning", "source_run_id", sourceRunID, "error", err)
		}
	}

	if err := s.restores.InsertRestore(ctx, record); err != nil {
		return domain.RestoreRecord{}, fmt.Errorf("record restore: %w", err)
	}
	if startErr != nil {
		return record, startErr
	}
	return record, nil
}

// List returns recent restore actions, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]domain.RestoreRecord, error) {
	if s == nil || s.restores == nil {
		return nil, errors.New("restore service not initialized")
	}
	return s.restores.ListRestores(ctx, limit)
}
