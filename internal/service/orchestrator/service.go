// Package orchestrator coordinates the run lifecycle: lock acquisition,
// pipeline submission, poll-driven state transitions, KPI capture, and
// lock release. One run holds the lock from trigger to terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fewa2000/fabric-data-portal/internal/artifacts"
	"github.com/fewa2000/fabric-data-portal/internal/domain"
	"github.com/fewa2000/fabric-data-portal/internal/fabric"
	"github.com/fewa2000/fabric-data-portal/internal/repo"
)

// ErrLockHeld signals that another run currently owns the pipeline
// lock. Contention, not failure: the store was reachable and said no.
var ErrLockHeld = errors.New("pipeline lock is held by another run")

// FabricClient is the slice of the Fabric API the orchestrator needs.
type FabricClient interface {
	TriggerPipeline(ctx context.Context, req fabric.TriggerRequest) (string, error)
	PollJob(ctx context.Context, locationURL string) (fabric.PollResult, error)
}

type Service struct {
	runs   repo.RunRepository
	lock   repo.LockRepository
	events repo.EventLog
	client FabricClient
	kpis   artifacts.Source

	workspaceID    string
	pipelineItemID string
	appVersion     string

	logger *slog.Logger
	now    repo.Clock
	newID  func() string
}

type Options struct {
	WorkspaceID    string
	PipelineItemID string
	AppVersion     string
}

func New(runs repo.RunRepository, lock repo.LockRepository, events repo.EventLog, client FabricClient, kpis artifacts.Source, opts Options, logger *slog.Logger) (*Service, error) {
	if runs == nil {
		return nil, errors.New("run repository is required")
	}
	if lock == nil {
		return nil, errors.New("lock repository is required")
	}
	if events == nil {
		return nil, errors.New("event log is required")
	}
	if client == nil {
		return nil, errors.New("fabric client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runs:           runs,
		lock:           lock,
		events:         events,
		client:         client,
		kpis:           kpis,
		workspaceID:    strings.TrimSpace(opts.WorkspaceID),
		pipelineItemID: strings.TrimSpace(opts.PipelineItemID),
		appVersion:     strings.TrimSpace(opts.AppVersion),
		logger:         logger,
		now:            time.Now,
		newID:          uuid.NewString,
	}, nil
}

type StartRequest struct {
	InputFile   string
	RequestedBy string
}

func (r StartRequest) Validate() error {
	if strings.TrimSpace(r.InputFile) == "" {
		return errors.New("input file is required")
	}
	if strings.TrimSpace(r.RequestedBy) == "" {
		return errors.New("requested by is required")
	}
	return nil
}

// Start acquires the pipeline lock, triggers the pipeline, and records
// the new run. The trigger happens only after the lock is held; any
// failure after acquisition releases the lock on the way out.
func (s *Service) Start(ctx context.Context, req StartRequest) (domain.Run, error) {
	if s == nil || s.runs == nil {
		return domain.Run{}, errors.New("orchestrator not initialized")
	}
	if err := req.Validate(); err != nil {
		return domain.Run{}, err
	}

	runID := s.newID()
	requestedBy := strings.TrimSpace(req.RequestedBy)
	inputFile := strings.TrimSpace(req.InputFile)

	acquired, err := s.lock.Acquire(ctx, runID, requestedBy)
	if err != nil {
		return domain.Run{}, fmt.Errorf("acquire pipeline lock: %w", err)
	}
	if !acquired {
		return domain.Run{}, ErrLockHeld
	}

	location, err := s.client.TriggerPipeline(ctx, fabric.TriggerRequest{
		RunID:       runID,
		InputFile:   inputFile,
		RequestedBy: requestedBy,
	})
	if err != nil {
		s.releaseOnFailure(ctx, runID, "trigger")
		return domain.Run{}, err
	}

	run := domain.Run{
		ID:             runID,
		TriggeredBy:    requestedBy,
		InputFile:      inputFile,
		WorkspaceID:    s.workspaceID,
		PipelineItemID: s.pipelineItemID,
		JobLocationURL: location,
		Status:         domain.RunStateSubmitted,
		CreatedAt:      s.now().UTC(),
		AppVersion:     s.appVersion,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		s.releaseOnFailure(ctx, runID, "create run")
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}

	s.appendEvent(ctx, runID, domain.EventStatusChange,
		fmt.Sprintf("Pipeline submitted by %s for file %s", requestedBy, inputFile))
	return run, nil
}

// AdvanceResult reports the outcome of one poll cycle.
type AdvanceResult struct {
	Run      domain.Run
	Previous domain.RunState
	Current  domain.RunState
	Changed  bool
}

// Advance polls the Fabric job behind runID once and applies the
// resulting transition. Polling a terminal run is a no-op, as is a poll
// that observes the state the run is already in. A poll failure changes
// nothing and appends nothing; the error surfaces to the caller.
func (s *Service) Advance(ctx context.Context, runID string) (AdvanceResult, error) {
	if s == nil || s.runs == nil {
		return AdvanceResult{}, errors.New("orchestrator not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return AdvanceResult{}, errors.New("run id is required")
	}

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if run.IsTerminal() {
		return AdvanceResult{Run: run, Previous: run.Status, Current: run.Status}, nil
	}

	poll, err := s.client.PollJob(ctx, run.JobLocationURL)
	if err != nil {
		return AdvanceResult{}, err
	}

	next := domain.MapFabricStatus(poll.Status)
	if next == run.Status {
		return AdvanceResult{Run: run, Previous: run.Status, Current: run.Status}, nil
	}

	update := repo.RunStatusUpdate{}
	if jobID := strings.TrimSpace(poll.JobID); jobID != "" && run.FabricJobID == "" {
		update.FabricJobID = &jobID
	}
	if next == domain.RunStateFailed {
		message := strings.TrimSpace(poll.ErrorMessage)
		if message == "" {
			message = fmt.Sprintf("Fabric reported status %s", poll.Status)
		}
		update.ErrorMessage = &message
	}
	if next == domain.RunStateSucceeded {
		update.KPIs = s.fetchKPIs(ctx, runID)
	}

	if err := s.runs.UpdateRunStatus(ctx, runID, next, update); err != nil {
		return AdvanceResult{}, err
	}

	s.appendEvent(ctx, runID, domain.EventStatusChange,
		fmt.Sprintf("Status changed: %s -> %s (Fabric: %s)", run.Status, next, poll.Status))

	if next.IsTerminal() {
		s.releaseAfterFinish(ctx, runID, next)
	}

	previous := run.Status
	updated, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		s.logger.Warn("reload run after transition", "run_id", runID, "error", err)
		updated = run
		updated.Status = next
	}
	return AdvanceResult{Run: updated, Previous: previous, Current: next, Changed: true}, nil
}

// ForceUnlock clears the pipeline lock regardless of holder.
// Administrative recovery for wedged runs.
func (s *Service) ForceUnlock(ctx context.Context) error {
	if s == nil || s.lock == nil {
		return errors.New("orchestrator not initialized")
	}
	return s.lock.ForceRelease(ctx)
}

func (s *Service) LockStatus(ctx context.Context) (domain.RunLock, error) {
	if s == nil || s.lock == nil {
		return domain.RunLock{}, errors.New("orchestrator not initialized")
	}
	return s.lock.Status(ctx)
}

// fetchKPIs reads the run-scoped KPI slot, then the shared current
// slot. Absence and read failures both degrade to a run without a
// snapshot; the success transition must not hinge on the artifact
// store being reachable.
func (s *Service) fetchKPIs(ctx context.Context, runID string) []byte {
	if s.kpis == nil {
		return nil
	}
	for _, ref := range []string{artifacts.RunKPIPath(runID), artifacts.CurrentKPIPath} {
		data, err := s.kpis.ReadKPIs(ctx, ref)
		if err != nil {
			s.logger.Warn("read kpi artifact", "run_id", runID, "ref", ref, "error", err)
			continue
		}
		if data != nil {
			return data
		}
	}
	return nil
}

func (s *Service) releaseOnFailure(ctx context.Context, runID, stage string) {
	if _, err := s.lock.Release(ctx, runID); err != nil {
		s.logger.Error("release pipeline lock after failed "+stage, "run_id", runID, "error", err)
	}
}

// releaseAfterFinish releases the lock when this run still holds it and
// records the release exactly once. A release that reports false means
// another actor (force-unlock, typically) already cleared it.
func (s *Service) releaseAfterFinish(ctx context.Context, runID string, final domain.RunState) {
	released, err := s.lock.Release(ctx, runID)
	if err != nil {
		s.logger.Error("release pipeline lock", "run_id", runID, "error", err)
		return
	}
	if !released {
		return
	}
	s.appendEvent(ctx, runID, domain.EventLogMessage,
		fmt.Sprintf("Pipeline lock released. Final status: %s", final))
}

// appendEvent is best-effort: the event log records history, it does
// not gate the lifecycle.
func (s *Service) appendEvent(ctx context.Context, runID string, kind domain.EventKind, message string) {
	if err := s.events.Append(ctx, runID, kind, message); err != nil {
		s.logger.Warn("append run event", "run_id", runID, "kind", string(kind), "error", err)
	}
}
