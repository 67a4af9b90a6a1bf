package artifacts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fewa2000/fabric-data-portal/internal/config"
)

func newTestOneLake(t *testing.T, handler http.HandlerFunc) *OneLakeSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src, err := NewOneLakeSourceWithBaseURL(srv.URL, config.Fabric{
		WorkspaceID: "ws-1",
		LakehouseID: "lake-1",
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewOneLakeSourceWithBaseURL() err=%v", err)
	}
	return src
}

func TestOneLakeReadKPIs(t *testing.T) {
	var gotPath string
	src := newTestOneLake(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rows": 120}`))
	})

	data, err := src.ReadKPIs(context.Background(), RunKPIPath("run-1"))
	if err != nil {
		t.Fatalf("ReadKPIs() err=%v", err)
	}
	if string(data) != `{"rows": 120}` {
		t.Fatalf("ReadKPIs()=%s", data)
	}
	if gotPath != "/ws-1/lake-1/Files/results/runs/run-1/kpis.json" {
		t.Fatalf("path=%q", gotPath)
	}
}

func TestOneLakeReadKPIsMiss(t *testing.T) {
	src := newTestOneLake(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	data, err := src.ReadKPIs(context.Background(), CurrentKPIPath)
	if err != nil {
		t.Fatalf("ReadKPIs() err=%v", err)
	}
	if data != nil {
		t.Fatalf("ReadKPIs()=%s, want nil for miss", data)
	}
}

func TestOneLakeReadKPIsRejectsBadJSON(t *testing.T) {
	src := newTestOneLake(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	if _, err := src.ReadKPIs(context.Background(), CurrentKPIPath); err == nil {
		t.Fatalf("ReadKPIs() expected error for invalid json")
	}
}

func TestOneLakeReadKPIsServerError(t *testing.T) {
	src := newTestOneLake(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := src.ReadKPIs(context.Background(), CurrentKPIPath); err == nil {
		t.Fatalf("ReadKPIs() expected error for server failure")
	}
}

func TestOneLakeListImportFiles(t *testing.T) {
	src := newTestOneLake(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("resource") != "filesystem" {
			t.Errorf("resource=%q", r.URL.Query().Get("resource"))
		}
		if r.URL.Query().Get("directory") != "lake-1/Files/import" {
			t.Errorf("directory=%q", r.URL.Query().Get("directory"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"paths": [
			{"name": "lake-1/Files/import/older.csv", "contentLength": "100", "lastModified": "Mon, 02 Jan 2006 15:04:05 GMT"},
			{"name": "lake-1/Files/import/newer.csv", "contentLength": "250", "lastModified": "Tue, 03 Jan 2006 15:04:05 GMT"},
			{"name": "lake-1/Files/import/archive", "isDirectory": "true"}
		]}`))
	})

	files, err := src.ListImportFiles(context.Background())
	if err != nil {
		t.Fatalf("ListImportFiles() err=%v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ListImportFiles() returned %d files, want 2", len(files))
	}
	if files[0].Name != "newer.csv" {
		t.Fatalf("files[0].Name=%q, want newest first", files[0].Name)
	}
	if files[1].Size != 100 {
		t.Fatalf("files[1].Size=%d", files[1].Size)
	}
}
