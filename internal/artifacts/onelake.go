package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/config"
)

const defaultOneLakeURL = "https://onelake.dfs.fabric.microsoft.com"

// OneLakeSource reads lakehouse files through the OneLake DFS endpoint.
// The HTTP client is expected to attach a storage-scoped bearer token.
type OneLakeSource struct {
	baseURL     string
	workspaceID string
	lakehouseID string
	http        *http.Client
}

func NewOneLakeSource(cfg config.Fabric, httpClient *http.Client) (*OneLakeSource, error) {
	return NewOneLakeSourceWithBaseURL(defaultOneLakeURL, cfg, httpClient)
}

func NewOneLakeSourceWithBaseURL(baseURL string, cfg config.Fabric, httpClient *http.Client) (*OneLakeSource, error) {
	if strings.TrimSpace(cfg.WorkspaceID) == "" {
		return nil, errors.New("workspace id is required")
	}
	if strings.TrimSpace(cfg.LakehouseID) == "" {
		return nil, errors.New("lakehouse id is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OneLakeSource{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		workspaceID: strings.TrimSpace(cfg.WorkspaceID),
		lakehouseID: strings.TrimSpace(cfg.LakehouseID),
		http:        httpClient,
	}, nil
}

func (s *OneLakeSource) ReadKPIs(ctx context.Context, ref string) (json.RawMessage, error) {
	data, err := s.ReadFile(ctx, ref)
	if err != nil || data == nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("artifact %s is not valid json", ref)
	}
	return json.RawMessage(data), nil
}

// ReadFile downloads one lakehouse file. A 404 is a clean miss.
func (s *OneLakeSource) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if s == nil || s.http == nil {
		return nil, errors.New("onelake source not initialized")
	}
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, errors.New("file path is required")
	}

	fileURL := fmt.Sprintf("%s/%s/%s/%s", s.baseURL, s.workspaceID, s.lakehouseID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read onelake file: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read onelake file: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("read onelake file %s: status=%d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

type dfsPath struct {
	Name          string `json:"name"`
	IsDirectory   string `json:"isDirectory"`
	ContentLength string `json:"contentLength"`
	LastModified  string `json:"lastModified"`
}

type dfsListing struct {
	Paths []dfsPath `json:"paths"`
}

// ListImportFiles enumerates the import drop zone, newest first.
func (s *OneLakeSource) ListImportFiles(ctx context.Context) ([]ImportFile, error) {
	if s == nil || s.http == nil {
		return nil, errors.New("onelake source not initialized")
	}

	query := url.Values{}
	query.Set("resource", "filesystem")
	query.Set("recursive", "false")
	query.Set("directory", s.lakehouseID+"/"+ImportPrefix)
	listURL := fmt.Sprintf("%s/%s?%s", s.baseURL, s.workspaceID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list import files: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("list import files: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("list import files: status=%d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var listing dfsListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode import listing: %w", err)
	}

	files := make([]ImportFile, 0, len(listing.Paths))
	for _, p := range listing.Paths {
		if strings.EqualFold(p.IsDirectory, "true") {
			continue
		}
		file := ImportFile{Name: importBaseName(p.Name)}
		if size, err := strconv.ParseInt(p.ContentLength, 10, 64); err == nil {
			file.Size = size
		}
		if ts, err := time.Parse(time.RFC1123, p.LastModified); err == nil {
			file.LastModified = ts
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].LastModified.After(files[j].LastModified)
	})
	return files, nil
}

func importBaseName(name string) string {
	name = strings.TrimRight(name, "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
