// Package storage defines the object-store contract consumed by the pipeline
// and embedding code, plus the factory that picks an implementation.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/storage/gcs"
	"github.com/angelmondragon/studioflow-backend/pkg/storage/local"
)

// MediaStore is the object storage surface used by pipeline stages.
type MediaStore interface {
	GetObject(ctx context.Context, objectPath string) ([]byte, error)
	UploadFile(ctx context.Context, content io.Reader, objectPath, contentType string) (string, error)
	// DownloadFileToPath reports false when the object does not exist.
	DownloadFileToPath(ctx context.Context, objectPath, localPath string) (bool, error)
	CDNURL(objectPath string) string
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// New builds the configured MediaStore.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger) (MediaStore, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "", config.StorageBackendGCS:
		client, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.StorageBackendLocal:
		store, err := local.New(cfg.Storage.LocalRoot, cfg.Storage.LocalCDN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// MediaObjectPath is where pipeline outputs for one media record live:
// <prefix>/<organization>/<media>/<name>.
func MediaObjectPath(prefix, organizationID, mediaID, name string) string {
	return path.Join(strings.Trim(prefix, "/"), organizationID, mediaID, name)
}
