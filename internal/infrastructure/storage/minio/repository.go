package minio

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// runsPrefix is the key prefix under which every run's artifacts live.
const runsPrefix = "runs"

// ArtifactInfo describes one stored artifact.
type ArtifactInfo struct {
	RunID        string    `json:"run_id"`
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// ArtifactRepository stores run artifacts under runs/<run-id>/<name>.
type ArtifactRepository interface {
	UploadArtifact(ctx context.Context, runID, localPath string) (*ArtifactInfo, error)
	DownloadArtifact(ctx context.Context, runID, name, localPath string) error
	ListArtifacts(ctx context.Context, runID string) ([]ArtifactInfo, error)
}

type minioRepository struct {
	client *MinIOClient
	logger logging.Logger
}

// NewArtifactRepository returns an ArtifactRepository backed by client.
func NewArtifactRepository(client *MinIOClient, logger logging.Logger) ArtifactRepository {
	return &minioRepository{client: client, logger: logging.OrNop(logger).Named("artifacts")}
}

// ArtifactKey returns the object key of name within runID.
func ArtifactKey(runID, name string) string {
	return path.Join(runsPrefix, runID, name)
}

func validateRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, "/\\") || runID == "." || runID == ".." {
		return errors.Newf(errors.CodeInvalidParam, "invalid run id %q", runID)
	}
	return nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".prom", ".txt":
		return "text/plain; version=0.0.4"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}

// UploadArtifact stores the file at localPath under its base name.
func (r *minioRepository) UploadArtifact(ctx context.Context, runID, localPath string) (*ArtifactInfo, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(localPath); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "artifact "+localPath+" is not readable")
	}

	name := filepath.Base(localPath)
	key := ArtifactKey(runID, name)
	info, err := api.FPutObject(ctx, r.client.Bucket(), key, localPath, minio.PutObjectOptions{
		ContentType:  contentType(name),
		UserMetadata: map[string]string{"run-id": runID},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to upload "+key)
	}
	r.logger.Info("artifact uploaded", logging.String("key", key), logging.Any("size", info.Size))
	return &ArtifactInfo{
		RunID:        runID,
		Name:         name,
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// DownloadArtifact writes the named artifact of runID to localPath.
func (r *minioRepository) DownloadArtifact(ctx context.Context, runID, name, localPath string) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	if name == "" || strings.ContainsAny(name, "/\\") {
		return errors.Newf(errors.CodeInvalidParam, "invalid artifact name %q", name)
	}
	api, err := r.client.api()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "create download directory")
	}
	key := ArtifactKey(runID, name)
	if err := api.FGetObject(ctx, r.client.Bucket(), key, localPath, minio.GetObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return errors.Newf(errors.CodeStorageError, "artifact %s does not exist", key)
		}
		return errors.Wrap(err, errors.CodeStorageError, "failed to download "+key)
	}
	r.logger.Debug("artifact downloaded", logging.String("key", key), logging.String("path", localPath))
	return nil
}

// ListArtifacts returns the artifacts of runID sorted by name.
func (r *minioRepository) ListArtifacts(ctx context.Context, runID string) ([]ArtifactInfo, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	prefix := ArtifactKey(runID, "") + "/"
	var out []ArtifactInfo
	for obj := range api.ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.CodeStorageError, "failed to list "+prefix)
		}
		out = append(out, ArtifactInfo{
			RunID:        runID,
			Name:         strings.TrimPrefix(obj.Key, prefix),
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
