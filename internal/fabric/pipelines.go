package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/config"
)

const defaultBaseURL = "https://api.fabric.microsoft.com/v1"

var (
	// ErrTriggerRejected marks a pipeline submission the Fabric API did
	// not accept. The run was never created on the Fabric side.
	ErrTriggerRejected = errors.New("fabric trigger rejected")
	// ErrPollUnavailable marks a poll attempt that produced no usable
	// status. The job itself may still be running.
	ErrPollUnavailable = errors.New("fabric poll unavailable")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("fabric api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("fabric api error (status=%d): %s", e.StatusCode, body)
}

// TriggerRequest carries the execution parameters the pipeline reads
// from its job instance payload.
type TriggerRequest struct {
	RunID       string
	InputFile   string
	RequestedBy string
}

// PollResult is one observation of a Fabric job instance.
type PollResult struct {
	Status       string
	JobID        string
	ErrorMessage string
	Raw          json.RawMessage
}

type Client struct {
	baseURL        string
	workspaceID    string
	pipelineItemID string
	http           *http.Client
}

// NewClient builds a pipeline client authenticated through the token
// provider's Fabric scope.
func NewClient(ctx context.Context, cfg config.Fabric, provider *TokenProvider) (*Client, error) {
	httpClient, err := provider.HTTPClient(ctx, ScopeFabric)
	if err != nil {
		return nil, err
	}
	httpClient.Timeout = 30 * time.Second
	return NewClientWithHTTP(defaultBaseURL, cfg, httpClient)
}

// NewClientWithHTTP builds a client against an explicit base URL and
// HTTP client. Tests use this with httptest servers.
func NewClientWithHTTP(baseURL string, cfg config.Fabric, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.WorkspaceID) == "" {
		return nil, errors.New("workspace id is required")
	}
	if strings.TrimSpace(cfg.PipelineItemID) == "" {
		return nil, errors.New("pipeline item id is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		workspaceID:    strings.TrimSpace(cfg.WorkspaceID),
		pipelineItemID: strings.TrimSpace(cfg.PipelineItemID),
		http:           httpClient,
	}, nil
}

type triggerPayload struct {
	ExecutionData executionData `json:"executionData"`
}

type executionData struct {
	Parameters map[string]string `json:"parameters"`
}

// TriggerPipeline submits one on-demand pipeline job and returns the
// job instance URL from the Location header. Anything other than a 202
// with a Location header wraps ErrTriggerRejected.
func (c *Client) TriggerPipeline(ctx context.Context, req TriggerRequest) (string, error) {
	if c == nil || c.http == nil {
		return "", errors.New("fabric client not initialized")
	}
	if strings.TrimSpace(req.RunID) == "" {
		return "", errors.New("run id is required")
	}

	payload := triggerPayload{ExecutionData: executionData{Parameters: map[string]string{
		"input_file":   req.InputFile,
		"run_id":       req.RunID,
		"requested_by": req.RequestedBy,
	}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal trigger payload: %w", err)
	}

	url := fmt.Sprintf("%s/workspaces/%s/items/%s/jobs/instances?jobType=Pipeline",
		c.baseURL, c.workspaceID, c.pipelineItemID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTriggerRejected, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: %s", ErrTriggerRejected,
			(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)}).Error())
	}
	location := strings.TrimSpace(resp.Header.Get("Location"))
	if location == "" {
		return "", fmt.Errorf("%w: accepted response missing Location header", ErrTriggerRejected)
	}
	return location, nil
}

type jobInstance struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason *struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	} `json:"failureReason"`
}

// PollJob reads the job instance at locationURL once. A 202 means the
// job is still being scheduled and reports InProgress; a 200 body
// carries the real status. Everything else wraps ErrPollUnavailable.
func (c *Client) PollJob(ctx context.Context, locationURL string) (PollResult, error) {
	if c == nil || c.http == nil {
		return PollResult{}, errors.New("fabric client not initialized")
	}
	locationURL = strings.TrimSpace(locationURL)
	if locationURL == "" {
		return PollResult{}, errors.New("job location url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locationURL, nil)
	if err != nil {
		return PollResult{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", ErrPollUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", ErrPollUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		result := PollResult{Status: "InProgress", Raw: json.RawMessage(body)}
		var instance jobInstance
		if err := json.Unmarshal(body, &instance); err == nil && strings.TrimSpace(instance.Status) != "" {
			result.Status = strings.TrimSpace(instance.Status)
			result.JobID = strings.TrimSpace(instance.ID)
		}
		return result, nil
	case http.StatusOK:
		var instance jobInstance
		if err := json.Unmarshal(body, &instance); err != nil {
			return PollResult{}, fmt.Errorf("%w: decode job instance: %v", ErrPollUnavailable, err)
		}
		result := PollResult{
			Status: strings.TrimSpace(instance.Status),
			JobID:  strings.TrimSpace(instance.ID),
			Raw:    json.RawMessage(body),
		}
		if instance.FailureReason != nil {
			result.ErrorMessage = strings.TrimSpace(instance.FailureReason.Message)
		}
		return result, nil
	default:
		return PollResult{}, fmt.Errorf("%w: %s", ErrPollUnavailable,
			(&APIError{StatusCode: resp.StatusCode, Body: string(body)}).Error())
	}
}
