package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
)

// MinioSource reads the same lakehouse layout out of a MinIO bucket.
// Local and staging environments mirror OneLake into it so the portal
// runs without a Fabric tenant.
type MinioSource struct {
	client *minio.Client
	bucket string
}

func NewMinioSource(client *minio.Client, bucket string) (*MinioSource, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &MinioSource{client: client, bucket: bucket}, nil
}

func (s *MinioSource) ReadKPIs(ctx context.Context, ref string) (json.RawMessage, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("minio source not initialized")
	}
	ref = strings.TrimLeft(strings.TrimSpace(ref), "/")
	if ref == "" {
		return nil, errors.New("object key is required")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, 32<<20))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read object %s: %w", ref, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("object %s is not valid json", ref)
	}
	return json.RawMessage(data), nil
}

// ListImportFiles enumerates the import drop zone, newest first.
func (s *MinioSource) ListImportFiles(ctx context.Context) ([]ImportFile, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("minio source not initialized")
	}

	opts := minio.ListObjectsOptions{Prefix: ImportPrefix + "/", Recursive: false}
	var files []ImportFile
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list import files: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		files = append(files, ImportFile{
			Name:         importBaseName(obj.Key),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].LastModified.After(files[j].LastModified)
	})
	return files, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
