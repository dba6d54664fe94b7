package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"derbyflow/internal/asset"
	"derbyflow/internal/fileutil"
	"derbyflow/internal/services"
)

// FileStore maps bucket/key to Root/bucket/key on the local filesystem.
type FileStore struct {
	Root string
}

// NewFileStore returns a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// Path returns the local file backing loc.
func (s *FileStore) Path(loc asset.Location) (string, error) {
	key := path.Clean("/" + loc.Key)
	if loc.Bucket == "" || strings.ContainsAny(loc.Bucket, `/\`) || key == "/" {
		return "", services.Wrap(services.ErrValidation, "objectstore", "resolve", fmt.Sprintf("Invalid location %q", loc.String()), nil)
	}
	return filepath.Join(s.Root, loc.Bucket, filepath.FromSlash(key)), nil
}

// Open reads the object at loc.
func (s *FileStore) Open(_ context.Context, loc asset.Location) (io.ReadCloser, error) {
	p, err := s.Path(loc)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "objectstore", "open", loc.String(), err)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "objectstore", "open", loc.String(), err)
	}
	return file, nil
}

// Upload copies src to loc.
func (s *FileStore) Upload(_ context.Context, src string, loc asset.Location) error {
	p, err := s.Path(loc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	if err := fileutil.CopyFileVerified(src, p); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "upload", loc.String(), err)
	}
	return nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
