// Package docstore defines the asset document store contract and opens the
// configured backend.
//
// Writes are conditional on the document version read: a document with
// Version zero must not exist yet, and any other version must match the
// stored one. A lost race surfaces as services.ErrConflict and a missing
// document as services.ErrNotFound.
package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"derbyflow/internal/asset"
	"derbyflow/internal/awsclient"
	"derbyflow/internal/config"
	"derbyflow/internal/docstore/dynamo"
	"derbyflow/internal/docstore/mongostore"
	"derbyflow/internal/docstore/sqlitestore"
	"derbyflow/internal/logging"
	"derbyflow/internal/services"
)

// Store reads and writes asset documents by identifier.
type Store interface {
	Get(ctx context.Context, id int64) (*asset.Document, error)
	// Put stores doc and advances doc.Version on success.
	Put(ctx context.Context, doc *asset.Document) error
	Close() error
}

// Ensurer is implemented by backends that can provision their table.
type Ensurer interface {
	Ensure(ctx context.Context) error
}

// Open constructs the backend selected by cfg.DocumentStore.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	logger = logging.NewComponentLogger(logger, "docstore")
	switch cfg.DocumentStore.Backend {
	case config.DocumentStoreDynamo:
		awsCfg, err := awsclient.Load(ctx, cfg.AWS, cfg.DocumentStore.Region)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "docstore", "aws config", "Unable to load AWS configuration", err)
		}
		logger.Debug("opening dynamodb document store", logging.String("table", cfg.DocumentStore.Table))
		return dynamo.New(dynamo.NewClient(awsCfg, awsclient.Endpoint(cfg.AWS)), cfg.DocumentStore.Table), nil
	case config.DocumentStoreSQLite:
		logger.Debug("opening sqlite document store", logging.String("path", cfg.DocumentStore.SQLitePath))
		store, err := sqlitestore.Open(cfg.DocumentStore.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DocumentStoreMongo:
		logger.Debug("opening mongo document store", logging.String("database", cfg.DocumentStore.MongoDatabase))
		store, err := mongostore.Open(ctx, cfg.DocumentStore.MongoURI, cfg.DocumentStore.MongoDatabase, cfg.DocumentStore.MongoCollection)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "docstore", "open", fmt.Sprintf("Unsupported backend %q", cfg.DocumentStore.Backend), nil)
	}
}
