package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fewa2000/fabric-data-portal/internal/config"
)

func testFabricConfig() config.Fabric {
	return config.Fabric{
		TenantID:       "tenant",
		ClientID:       "client",
		ClientSecret:   "secret",
		WorkspaceID:    "ws-1",
		PipelineItemID: "pipe-1",
		LakehouseID:    "lake-1",
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClientWithHTTP(srv.URL, testFabricConfig(), srv.Client())
	if err != nil {
		t.Fatalf("NewClientWithHTTP() err=%v", err)
	}
	return client, srv
}

func TestTriggerPipelineAccepted(t *testing.T) {
	var gotPath, gotQuery string
	var gotPayload triggerPayload
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Location", "https://api.fabric.microsoft.com/v1/workspaces/ws-1/items/pipe-1/jobs/instances/job-42")
		w.WriteHeader(http.StatusAccepted)
	})

	location, err := client.TriggerPipeline(context.Background(), TriggerRequest{
		RunID:       "run-1",
		InputFile:   "Files/import/input.csv",
		RequestedBy: "alice@example.com",
	})
	if err != nil {
		t.Fatalf("TriggerPipeline() err=%v", err)
	}
	if location == "" {
		t.Fatalf("TriggerPipeline() returned empty location")
	}
	if gotPath != "/workspaces/ws-1/items/pipe-1/jobs/instances" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotQuery != "jobType=Pipeline" {
		t.Fatalf("query=%q", gotQuery)
	}
	params := gotPayload.ExecutionData.Parameters
	if params["run_id"] != "run-1" || params["input_file"] != "Files/import/input.csv" || params["requested_by"] != "alice@example.com" {
		t.Fatalf("parameters=%v", params)
	}
}

func TestTriggerPipelineRejectedStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorCode":"Unauthorized"}`, http.StatusUnauthorized)
	})

	_, err := client.TriggerPipeline(context.Background(), TriggerRequest{RunID: "run-1"})
	if !errors.Is(err, ErrTriggerRejected) {
		t.Fatalf("TriggerPipeline() err=%v, want ErrTriggerRejected", err)
	}
}

func TestTriggerPipelineMissingLocation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	_, err := client.TriggerPipeline(context.Background(), TriggerRequest{RunID: "run-1"})
	if !errors.Is(err, ErrTriggerRejected) {
		t.Fatalf("TriggerPipeline() err=%v, want ErrTriggerRejected", err)
	}
}

func TestPollJobCompleted(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "job-42",
			"status": "Completed",
		})
	})

	result, err := client.PollJob(context.Background(), srv.URL+"/jobs/instances/job-42")
	if err != nil {
		t.Fatalf("PollJob() err=%v", err)
	}
	if result.Status != "Completed" {
		t.Fatalf("Status=%q", result.Status)
	}
	if result.JobID != "job-42" {
		t.Fatalf("JobID=%q", result.JobID)
	}
}

func TestPollJobFailedCarriesMessage(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "job-42",
			"status": "Failed",
			"failureReason": map[string]string{
				"message":   "notebook exploded",
				"errorCode": "NotebookExecutionFailure",
			},
		})
	})

	result, err := client.PollJob(context.Background(), srv.URL+"/jobs/instances/job-42")
	if err != nil {
		t.Fatalf("PollJob() err=%v", err)
	}
	if result.Status != "Failed" {
		t.Fatalf("Status=%q", result.Status)
	}
	if result.ErrorMessage != "notebook exploded" {
		t.Fatalf("ErrorMessage=%q", result.ErrorMessage)
	}
}

func TestPollJobAcceptedMeansInProgress(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	result, err := client.PollJob(context.Background(), srv.URL+"/jobs/instances/job-42")
	if err != nil {
		t.Fatalf("PollJob() err=%v", err)
	}
	if result.Status != "InProgress" {
		t.Fatalf("Status=%q, want InProgress", result.Status)
	}
}

func TestPollJobServerErrorUnavailable(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.PollJob(context.Background(), srv.URL+"/jobs/instances/job-42")
	if !errors.Is(err, ErrPollUnavailable) {
		t.Fatalf("PollJob() err=%v, want ErrPollUnavailable", err)
	}
}

func TestNewClientWithHTTPRequiresWorkspace(t *testing.T) {
	cfg := testFabricConfig()
	cfg.WorkspaceID = " "
	if _, err := NewClientWithHTTP("https://example.test", cfg, nil); err == nil {
		t.Fatalf("NewClientWithHTTP() expected error for blank workspace")
	}
}
