package docstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"derbyflow/internal/asset"
	"derbyflow/internal/config"
	"derbyflow/internal/docstore"
	"derbyflow/internal/services"
)

func TestOpenSQLiteBackend(t *testing.T) {
	cfg := config.Default()
	cfg.DocumentStore.Backend = config.DocumentStoreSQLite
	cfg.DocumentStore.SQLitePath = filepath.Join(t.TempDir(), "docs.db")

	store, err := docstore.Open(context.Background(), &cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	doc := &asset.Document{ID: 1}
	if err := store.Put(context.Background(), doc); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Get(context.Background(), 1); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.DocumentStore.Backend = "cassandra"
	_, err := docstore.Open(context.Background(), &cfg, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
