package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/fewa2000/fabric-data-portal/internal/repo"
)

// KPI origin labels reported to callers.
const (
	OriginArtifact = "artifact"
	OriginDatabase = "database"
)

// KPIView is one resolved KPI document plus where it came from.
type KPIView struct {
	RunID  string          `json:"run_id,omitempty"`
	Origin string          `json:"origin"`
	KPIs   json.RawMessage `json:"kpis"`
}

// Reconciler resolves KPI documents across the two stores. The
// artifact store holds what the pipeline last wrote; the run registry
// holds the snapshot captured when the run reached SUCCEEDED. Each
// view picks its authoritative side and falls back to the other.
type Reconciler struct {
	runs   repo.RunRepository
	source Source
}

func NewReconciler(runs repo.RunRepository, source Source) *Reconciler {
	return &Reconciler{runs: runs, source: source}
}

// Current resolves the live view: the artifact "current" slot wins,
// the latest succeeded run's snapshot backs it. Both missing is a
// clean (zero-value, nil) result.
func (r *Reconciler) Current(ctx context.Context) (KPIView, error) {
	if r == nil || r.runs == nil {
		return KPIView{}, errors.New("reconciler not initialized")
	}

	latestID := ""
	registry := SourceFunc(func(ctx context.Context, _ string) (json.RawMessage, error) {
		run, err := r.runs.GetLatestSucceededRun(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if len(run.KPIs) == 0 {
			return nil, nil
		}
		latestID = run.ID
		return run.KPIs, nil
	})

	data, idx, err := FirstAvailable(ctx, CurrentKPIPath, r.source, registry)
	if err != nil || data == nil {
		return KPIView{}, err
	}
	view := KPIView{Origin: OriginArtifact, KPIs: data}
	if idx == 1 {
		view.Origin = OriginDatabase
		view.RunID = latestID
	}
	return view, nil
}

// ForRun resolves the archive view of one run: the snapshot persisted
// with the SUCCEEDED transition wins, the run-scoped artifact slot
// backs it. Unknown runs surface repo.ErrNotFound.
func (r *Reconciler) ForRun(ctx context.Context, runID string) (KPIView, error) {
	if r == nil || r.runs == nil {
		return KPIView{}, errors.New("reconciler not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return KPIView{}, errors.New("run id is required")
	}

	run, err := r.runs.GetRun(ctx, runID)
	if err != nil {
		return KPIView{}, err
	}

	registry := SourceFunc(func(context.Context, string) (json.RawMessage, error) {
		if len(run.KPIs) == 0 {
			return nil, nil
		}
		return run.KPIs, nil
	})

	data, idx, err := FirstAvailable(ctx, RunKPIPath(runID), registry, r.source)
	if err != nil || data == nil {
		return KPIView{}, err
	}
	view := KPIView{RunID: runID, Origin: OriginDatabase, KPIs: data}
	if idx == 1 {
		view.Origin = OriginArtifact
	}
	return view, nil
}
