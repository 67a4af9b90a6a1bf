package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/artifacts"
	"github.com/fewa2000/fabric-data-portal/internal/domain"
	"github.com/fewa2000/fabric-data-portal/internal/fabric"
	"github.com/fewa2000/fabric-data-portal/internal/repo"
	"github.com/fewa2000/fabric-data-portal/internal/service/orchestrator"
	"github.com/fewa2000/fabric-data-portal/internal/service/restore"
)

type memRuns struct {
	runs map[string]domain.Run
}

func (m *memRuns) CreateRun(ctx context.Context, run domain.Run) error {
	if _, ok := m.runs[run.ID]; ok {
		return repo.ErrDuplicateRun
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) GetRun(ctx context.Context, id string) (domain.Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (m *memRuns) GetActiveRun(ctx context.Context) (domain.Run, error) {
	for _, run := range m.runs {
		if !run.IsTerminal() {
			return run, nil
		}
	}
	return domain.Run{}, repo.ErrNotFound
}

func (m *memRuns) GetLatestSucceededRun(ctx context.Context) (domain.Run, error) {
	for _, run := range m.runs {
		if run.Status == domain.RunStateSucceeded {
			return run, nil
		}
	}
	return domain.Run{}, repo.ErrNotFound
}

func (m *memRuns) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	out := make([]domain.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (m *memRuns) UpdateRunStatus(ctx context.Context, id string, status domain.RunState, update repo.RunStatusUpdate) error {
	run, ok := m.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !domain.CanTransitionRunState(run.Status, status) {
		return repo.ErrInvalidTransition
	}
	run.Status = status
	if update.KPIs != nil {
		run.KPIs = update.KPIs
	}
	m.runs[id] = run
	return nil
}

type memLock struct {
	holder string
}

func (m *memLock) Acquire(ctx context.Context, runID, lockedBy string) (bool, error) {
	if m.holder != "" {
		return false, nil
	}
	m.holder = runID
	return true, nil
}

func (m *memLock) Release(ctx context.Context, runID string) (bool, error) {
	if m.holder != runID {
		return false, nil
	}
	m.holder = ""
	return true, nil
}

func (m *memLock) ForceRelease(ctx context.Context) error {
	m.holder = ""
	return nil
}

func (m *memLock) Status(ctx context.Context) (domain.RunLock, error) {
	lock := domain.RunLock{LockKey: domain.LockKeyActiveRun}
	if m.holder != "" {
		holder := m.holder
		now := time.Now().UTC()
		lock.RunID = &holder
		lock.LockedBy = "alice@example.com"
		lock.LockedAt = &now
	}
	return lock, nil
}

type memEvents struct {
	events []domain.Event
}

func (m *memEvents) Append(ctx context.Context, runID string, kind domain.EventKind, message string) error {
	m.events = append(m.events, domain.Event{ID: "e1", RunID: runID, EventTime: time.Now().UTC(), Kind: kind, Message: message})
	return nil
}

func (m *memEvents) ListByRun(ctx context.Context, runID string) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memRestores struct {
	records []domain.RestoreRecord
}

func (m *memRestores) InsertRestore(ctx context.Context, record domain.RestoreRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *memRestores) ListRestores(ctx context.Context, limit int) ([]domain.RestoreRecord, error) {
	return m.records, nil
}

type memFabric struct {
	triggerErr error
	pollResult fabric.PollResult
	pollErr    error
}

func (m *memFabric) TriggerPipeline(ctx context.Context, req fabric.TriggerRequest) (string, error) {
	if m.triggerErr != nil {
		return "", m.triggerErr
	}
	return "https://fabric.example/jobs/instances/job-1", nil
}

func (m *memFabric) PollJob(ctx context.Context, locationURL string) (fabric.PollResult, error) {
	return m.pollResult, m.pollErr
}

type memSource struct {
	docs map[string]string
}

func (m *memSource) ReadKPIs(ctx context.Context, ref string) (json.RawMessage, error) {
	doc, ok := m.docs[ref]
	if !ok {
		return nil, nil
	}
	return json.RawMessage(doc), nil
}

func (m *memSource) ListImportFiles(ctx context.Context) ([]artifacts.ImportFile, error) {
	return []artifacts.ImportFile{{Name: "input.csv", Size: 42}}, nil
}

type apiFixture struct {
	mux    *http.ServeMux
	runs   *memRuns
	lock   *memLock
	fab    *memFabric
	source *memSource
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		runs:   &memRuns{runs: map[string]domain.Run{}},
		lock:   &memLock{},
		fab:    &memFabric{},
		source: &memSource{docs: map[string]string{}},
	}
	events := &memEvents{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	runner, err := orchestrator.New(f.runs, f.lock, events, f.fab, f.source, orchestrator.Options{
		WorkspaceID:    "ws-1",
		PipelineItemID: "pipe-1",
		AppVersion:     "test",
	}, logger)
	if err != nil {
		t.Fatalf("orchestrator.New() err=%v", err)
	}
	restorer, err := restore.New(f.runs, &memRestores{}, events, runner, logger)
	if err != nil {
		t.Fatalf("restore.New() err=%v", err)
	}

	api := newPortalAPI(logger, runner, restorer, artifacts.NewReconciler(f.runs, f.source), f.runs, events, f.source)
	f.mux = http.NewServeMux()
	api.register(f.mux)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestStartRunEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/runs", `{"input_file": "Files/import/input.csv"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "SUBMITTED" {
		t.Fatalf("status field=%v", body["status"])
	}
	if body["triggered_by"] != "anonymous" {
		t.Fatalf("triggered_by=%v", body["triggered_by"])
	}
}

func TestStartRunValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/runs", `{"input_file": "  "}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d, want 422", rec.Code)
	}
}

func TestStartRunLockHeldConflict(t *testing.T) {
	f := newAPIFixture(t)
	f.lock.holder = "other-run"

	rec := f.do(t, http.MethodPost, "/runs", `{"input_file": "Files/import/input.csv"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "lock_held" {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestStartRunTriggerRejectedBadGateway(t *testing.T) {
	f := newAPIFixture(t)
	f.fab.triggerErr = fabric.ErrTriggerRejected

	rec := f.do(t, http.MethodPost, "/runs", `{"input_file": "Files/import/input.csv"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/runs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestPollEndpointAdvancesRun(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.runs["run-1"] = domain.Run{
		ID:             "run-1",
		Status:         domain.RunStateSubmitted,
		JobLocationURL: "https://fabric.example/jobs/instances/job-1",
	}
	f.lock.holder = "run-1"
	f.fab.pollResult = fabric.PollResult{Status: "InProgress"}

	rec := f.do(t, http.MethodPost, "/runs/run-1/poll", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["current"] != "RUNNING" || body["changed"] != true {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestPollEndpointUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.runs["run-1"] = domain.Run{ID: "run-1", Status: domain.RunStateRunning}
	f.fab.pollErr = fabric.ErrPollUnavailable

	rec := f.do(t, http.MethodPost, "/runs/run-1/poll", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", rec.Code)
	}
}

func TestCurrentKPIsFromArtifact(t *testing.T) {
	f := newAPIFixture(t)
	f.source.docs[artifacts.CurrentKPIPath] = `{"rows": 7}`

	rec := f.do(t, http.MethodGet, "/kpis/current", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["origin"] != "artifact" {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestCurrentKPIsEmpty(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/kpis/current", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestRestoreEndpointValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.runs["run-1"] = domain.Run{ID: "run-1", Status: domain.RunStateFailed}

	rec := f.do(t, http.MethodPost, "/restores", `{"source_run_id": "run-1"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d, want 422", rec.Code)
	}
}

func TestRestoreEndpointHappyPath(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.runs["run-1"] = domain.Run{ID: "run-1", Status: domain.RunStateSucceeded}

	rec := f.do(t, http.MethodPost, "/restores", `{"source_run_id": "run-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["source_run_id"] != "run-1" || body["target_run_id"] == nil || body["target_run_id"] == "" {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestRestoreEndpointLockHeldStillReturnsRecord(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.runs["run-1"] = domain.Run{ID: "run-1", Status: domain.RunStateSucceeded}
	f.lock.holder = "other-run"

	rec := f.do(t, http.MethodPost, "/restores", `{"source_run_id": "run-1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "lock_held" {
		t.Fatalf("body=%s", rec.Body.String())
	}
	if _, ok := body["restore"]; !ok {
		t.Fatalf("restore record missing from conflict response: %s", rec.Body.String())
	}
}

func TestLockEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.lock.holder = "run-1"

	rec := f.do(t, http.MethodGet, "/lock", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if decodeBody(t, rec)["held"] != true {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = f.do(t, http.MethodDelete, "/lock", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if f.lock.holder != "" {
		t.Fatalf("lock not released")
	}

	rec = f.do(t, http.MethodGet, "/lock", "")
	if decodeBody(t, rec)["held"] != false {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestListImportsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/imports", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "input.csv") {
		t.Fatalf("body=%s", rec.Body.String())
	}
}
