package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/artifacts"
	"github.com/fewa2000/fabric-data-portal/internal/domain"
	"github.com/fewa2000/fabric-data-portal/internal/fabric"
	"github.com/fewa2000/fabric-data-portal/internal/platform/auth"
	"github.com/fewa2000/fabric-data-portal/internal/repo"
	"github.com/fewa2000/fabric-data-portal/internal/service/orchestrator"
	"github.com/fewa2000/fabric-data-portal/internal/service/restore"
)

type portalAPI struct {
	logger   *slog.Logger
	runner   *orchestrator.Service
	restorer *restore.Service
	kpis     *artifacts.Reconciler
	runs     repo.RunRepository
	events   repo.EventLog
	imports  artifacts.ImportLister
}

func newPortalAPI(logger *slog.Logger, runner *orchestrator.Service, restorer *restore.Service, kpis *artifacts.Reconciler, runs repo.RunRepository, events repo.EventLog, imports artifacts.ImportLister) *portalAPI {
	return &portalAPI{
		logger:   logger,
		runner:   runner,
		restorer: restorer,
		kpis:     kpis,
		runs:     runs,
		events:   events,
		imports:  imports,
	}
}

func (api *portalAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", api.handleStartRun)
	mux.HandleFunc("POST /runs/{run_id}/poll", api.handlePollRun)
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/active", api.handleActiveRun)
	mux.HandleFunc("GET /runs/latest-succeeded", api.handleLatestSucceeded)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/events", api.handleRunEvents)
	mux.HandleFunc("GET /runs/{run_id}/kpis", api.handleRunKPIs)
	mux.HandleFunc("GET /kpis/current", api.handleCurrentKPIs)
	mux.HandleFunc("POST /restores", api.handleCreateRestore)
	mux.HandleFunc("GET /restores", api.handleListRestores)
	mux.HandleFunc("GET /lock", api.handleLockStatus)
	mux.HandleFunc("DELETE /lock", api.handleForceUnlock)
	mux.HandleFunc("GET /imports", api.handleListImports)
}

type runResponse struct {
	RunID          string          `json:"run_id"`
	Status         string          `json:"status"`
	TriggeredBy    string          `json:"triggered_by"`
	InputFile      string          `json:"input_file"`
	WorkspaceID    string          `json:"workspace_id,omitempty"`
	PipelineItemID string          `json:"pipeline_item_id,omitempty"`
	FabricJobID    string          `json:"fabric_job_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	KPIs           json.RawMessage `json:"kpis,omitempty"`
	AppVersion     string          `json:"app_version,omitempty"`
}

func toRunResponse(run domain.Run) runResponse {
	return runResponse{
		RunID:          run.ID,
		Status:         string(run.Status),
		TriggeredBy:    run.TriggeredBy,
		InputFile:      run.InputFile,
		WorkspaceID:    run.WorkspaceID,
		PipelineItemID: run.PipelineItemID,
		FabricJobID:    run.FabricJobID,
		CreatedAt:      run.CreatedAt,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		ErrorMessage:   run.ErrorMessage,
		KPIs:           run.KPIs,
		AppVersion:     run.AppVersion,
	}
}

type startRunRequest struct {
	InputFile string `json:"input_file"`
}

func (api *portalAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.InputFile) == "" {
		api.writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", "input_file is required")
		return
	}

	run, err := api.runner.Start(r.Context(), orchestrator.StartRequest{
		InputFile:   req.InputFile,
		RequestedBy: actorFrom(r),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toRunResponse(run))
}

func (api *portalAPI) handlePollRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required", "")
		return
	}

	result, err := api.runner.Advance(r.Context(), runID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"run":      toRunResponse(result.Run),
		"previous": string(result.Previous),
		"current":  string(result.Current),
		"changed":  result.Changed,
	})
}

func (api *portalAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Limit:  clampInt(parseIntQuery(r, "limit", 50), 1, 500),
		Offset: clampInt(parseIntQuery(r, "offset", 0), 0, 1<<30),
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		normalized := domain.NormalizeRunState(status)
		if normalized == "" {
			api.writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", "unknown status filter")
			return
		}
		filter.Status = normalized
	}

	runs, err := api.runs.ListRuns(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *portalAPI) handleActiveRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.runs.GetActiveRun(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *portalAPI) handleLatestSucceeded(w http.ResponseWriter, r *http.Request) {
	run, err := api.runs.GetLatestSucceededRun(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *portalAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required", "")
		return
	}
	run, err := api.runs.GetRun(r.Context(), runID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(run))
}

type eventResponse struct {
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	EventTime time.Time `json:"event_time"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

func (api *portalAPI) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required", "")
		return
	}
	if _, err := api.runs.GetRun(r.Context(), runID); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	events, err := api.events.ListByRun(r.Context(), runID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			EventID:   e.ID,
			RunID:     e.RunID,
			EventTime: e.EventTime,
			Kind:      string(e.Kind),
			Message:   e.Message,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (api *portalAPI) handleCurrentKPIs(w http.ResponseWriter, r *http.Request) {
	view, err := api.kpis.Current(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if view.KPIs == nil {
		api.writeError(w, r, http.StatusNotFound, "no_kpis", "no KPI results available yet")
		return
	}
	api.writeJSON(w, http.StatusOK, view)
}

func (api *portalAPI) handleRunKPIs(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required", "")
		return
	}
	view, err := api.kpis.ForRun(r.Context(), runID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if view.KPIs == nil {
		api.writeError(w, r, http.StatusNotFound, "no_kpis", "no KPIs recorded for this run")
		return
	}
	api.writeJSON(w, http.StatusOK, view)
}

type restoreRequest struct {
	SourceRunID string `json:"source_run_id"`
}

type restoreResponse struct {
	RestoreID   string    `json:"restore_id"`
	RestoredAt  time.Time `json:"restored_at"`
	RestoredBy  string    `json:"restored_by"`
	SourceRunID string    `json:"source_run_id"`
	TargetRunID string    `json:"target_run_id,omitempty"`
}

func toRestoreResponse(record domain.RestoreRecord) restoreResponse {
	return restoreResponse{
		RestoreID:   record.ID,
		RestoredAt:  record.RestoredAt,
		RestoredBy:  record.RestoredBy,
		SourceRunID: record.SourceRunID,
		TargetRunID: record.TargetRunID,
	}
}

func (api *portalAPI) handleCreateRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}

	record, err := api.restorer.Restore(r.Context(), req.SourceRunID, actorFrom(r))
	if err != nil {
		// The record may exist even when the start failed; surface both.
		if record.ID != "" {
			status, code := statusForError(err)
			api.writeJSON(w, status, map[string]any{
				"error":      code,
				"restore":    toRestoreResponse(record),
				"request_id": r.Header.Get("X-Request-Id"),
			})
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toRestoreResponse(record))
}

func (api *portalAPI) handleListRestores(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 50), 1, 500)
	records, err := api.restorer.List(r.Context(), limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]restoreResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toRestoreResponse(record))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"restores": out})
}

func (api *portalAPI) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	lock, err := api.runner.LockStatus(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	resp := map[string]any{
		"lock_key": lock.LockKey,
		"held":     lock.Held(),
	}
	if lock.Held() {
		resp["run_id"] = *lock.RunID
		resp["locked_by"] = lock.LockedBy
		if lock.LockedAt != nil {
			resp["locked_at"] = lock.LockedAt
			resp["held_for_seconds"] = int64(time.Since(*lock.LockedAt).Seconds())
		}
	}
	api.writeJSON(w, http.StatusOK, resp)
}

func (api *portalAPI) handleForceUnlock(w http.ResponseWriter, r *http.Request) {
	if err := api.runner.ForceUnlock(r.Context()); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.logger.Warn("pipeline lock force-released", "actor", actorFrom(r))
	api.writeJSON(w, http.StatusOK, map[string]any{"released": true})
}

func (api *portalAPI) handleListImports(w http.ResponseWriter, r *http.Request) {
	if api.imports == nil {
		api.writeError(w, r, http.StatusNotImplemented, "imports_unavailable", "no artifact source configured")
		return
	}
	files, err := api.imports.ListImportFiles(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if files == nil {
		files = []artifacts.ImportFile{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func actorFrom(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if actor := identity.Actor(); actor != "" {
			return actor
		}
	}
	return "anonymous"
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrLockHeld):
		return http.StatusConflict, "lock_held"
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repo.ErrDuplicateRun):
		return http.StatusConflict, "duplicate_run"
	case errors.Is(err, repo.ErrInvalidTransition):
		return http.StatusConflict, "state_conflict"
	case errors.Is(err, restore.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, fabric.ErrTriggerRejected):
		return http.StatusBadGateway, "trigger_rejected"
	case errors.Is(err, fabric.ErrPollUnavailable):
		return http.StatusBadGateway, "poll_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (api *portalAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		api.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	api.writeError(w, r, status, code, "")
}

func (api *portalAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *portalAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, detail string) {
	body := map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	}
	if detail != "" {
		body["detail"] = detail
	}
	api.writeJSON(w, status, body)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
