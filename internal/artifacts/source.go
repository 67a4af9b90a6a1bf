// Package artifacts reads pipeline outputs from the lakehouse: KPI
// snapshots written by the notebook and the import-file drop zone.
// Reads degrade gracefully: a missing artifact is (nil, nil), never an
// error, so callers can fall through to the next source.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// CurrentKPIPath is the slot the pipeline overwrites on every
	// successful run.
	CurrentKPIPath = "Files/results/current/kpis.json"
	// ImportPrefix is the drop zone users upload input files into.
	ImportPrefix = "Files/import"
)

// RunKPIPath returns the immutable per-run KPI slot.
func RunKPIPath(runID string) string {
	return fmt.Sprintf("Files/results/runs/%s/kpis.json", strings.TrimSpace(runID))
}

// Source reads one KPI document. A clean miss is (nil, nil); errors are
// reserved for actual read failures.
type Source interface {
	ReadKPIs(ctx context.Context, ref string) (json.RawMessage, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, ref string) (json.RawMessage, error)

func (f SourceFunc) ReadKPIs(ctx context.Context, ref string) (json.RawMessage, error) {
	return f(ctx, ref)
}

// ImportFile is one object under the import drop zone.
type ImportFile struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ImportLister enumerates the import drop zone.
type ImportLister interface {
	ListImportFiles(ctx context.Context) ([]ImportFile, error)
}

// FirstAvailable reads ref from each source in order and returns the
// first document found along with the index of the source that held
// it. All-miss is (nil, -1, nil); a read failure aborts the scan.
func FirstAvailable(ctx context.Context, ref string, sources ...Source) (json.RawMessage, int, error) {
	for i, src := range sources {
		if src == nil {
			continue
		}
		data, err := src.ReadKPIs(ctx, ref)
		if err != nil {
			return nil, -1, err
		}
		if data != nil {
			return data, i, nil
		}
	}
	return nil, -1, nil
}
