// Package objectstore moves media payloads and result artifacts between
// object storage and local scratch files.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"derbyflow/internal/asset"
	"derbyflow/internal/awsclient"
	"derbyflow/internal/config"
	"derbyflow/internal/services"
)

// Store reads and writes objects addressed by bucket and key.
type Store interface {
	Open(ctx context.Context, loc asset.Location) (io.ReadCloser, error)
	Upload(ctx context.Context, src string, loc asset.Location) error
}

// Download copies the object at loc to dst.
func Download(ctx context.Context, store Store, loc asset.Location, dst string) error {
	reader, err := store.Open(ctx, loc)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	if _, err := io.Copy(out, reader); err != nil {
		_ = out.Close()
		return fmt.Errorf("download %s: %w", loc, err)
	}
	return out.Close()
}

// New constructs the backend selected by cfg.ObjectStore.Backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ObjectStore.Backend {
	case config.ObjectStoreS3:
		awsCfg, err := awsclient.Load(ctx, cfg.AWS, "")
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "objectstore", "aws config", "Unable to load AWS configuration", err)
		}
		return NewS3(NewS3Client(awsCfg, awsclient.Endpoint(cfg.AWS), cfg.AWS.UsePathStyle)), nil
	case config.ObjectStoreFilesystem:
		return NewFileStore(cfg.ObjectStore.Root), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "open", fmt.Sprintf("Unsupported backend %q", cfg.ObjectStore.Backend), nil)
	}
}
