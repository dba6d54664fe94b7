package testsupport

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"derbyflow/internal/asset"
	"derbyflow/internal/config"
	"derbyflow/internal/docstore/sqlitestore"
	"derbyflow/internal/fileutil"
	"derbyflow/internal/objectstore"
	"derbyflow/internal/queue/sqlitequeue"
)

// MustOpenDocStore opens the SQLite document store for cfg and registers cleanup.
func MustOpenDocStore(t testing.TB, cfg *config.Config) *sqlitestore.Store {
	t.Helper()

	store, err := sqlitestore.Open(cfg.DocumentStore.SQLitePath)
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenQueue opens the SQLite queue for cfg and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config, opts ...sqlitequeue.Option) *sqlitequeue.Queue {
	t.Helper()

	q, err := sqlitequeue.Open(cfg.Queue.SQLitePath, opts...)
	if err != nil {
		t.Fatalf("sqlitequeue.Open: %v", err)
	}
	t.Cleanup(func() {
		q.Close()
	})
	return q
}

// NewObjectStore returns the filesystem object store for cfg.
func NewObjectStore(cfg *config.Config) *objectstore.FileStore {
	return objectstore.NewFileStore(cfg.ObjectStore.Root)
}

// PutObject writes size bytes (at least one) at loc in the filesystem object store and
// returns the backing path.
func PutObject(t testing.TB, cfg *config.Config, loc asset.Location, size int64) string {
	t.Helper()

	path := filepath.Join(cfg.ObjectStore.Root, loc.Bucket, filepath.FromSlash(loc.Key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := fileutil.WriteFileAtomic(path, bytes.Repeat([]byte{0x42}, int(max(size, 1))), 0o644); err != nil {
		t.Fatalf("put object %s: %v", loc, err)
	}
	return path
}

// SeedDocument stores doc as a new document.
func SeedDocument(t testing.TB, store *sqlitestore.Store, doc *asset.Document) *asset.Document {
	t.Helper()

	if err := store.Put(context.Background(), doc); err != nil {
		t.Fatalf("seed document %d: %v", doc.ID, err)
	}
	return doc
}
