// Package sqlitestore keeps asset documents as JSON rows in a local SQLite
// database for development and hermetic tests.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"derbyflow/internal/asset"
	"derbyflow/internal/services"
	"derbyflow/internal/sqliteutil"
)

const schema = `CREATE TABLE IF NOT EXISTS asset_documents (
	id INTEGER PRIMARY KEY,
	version INTEGER NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Store is a SQLite-backed document store.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the document database at path.
func Open(path string) (*Store, error) {
	db, err := sqliteutil.Open(context.Background(), path, schema)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "docstore", "open sqlite", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Get loads the document with id.
func (s *Store) Get(ctx context.Context, id int64) (*asset.Document, error) {
	var body string
	err := sqliteutil.RetryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT body FROM asset_documents WHERE id = ?`, id).Scan(&body)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "docstore", "get", fmt.Sprintf("No document with id %d", id), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "docstore", "get", fmt.Sprintf("Query document %d", id), err)
	}
	var doc asset.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "docstore", "decode", fmt.Sprintf("Document %d is malformed", id), err)
	}
	return &doc, nil
}

// Put inserts a new document or updates one whose stored version matches.
func (s *Store) Put(ctx context.Context, doc *asset.Document) error {
	if doc == nil {
		return services.Wrap(services.ErrValidation, "docstore", "put", "Nil document", nil)
	}
	expected := doc.Version
	next := *doc
	next.Version = expected + 1
	body, err := json.Marshal(next)
	if err != nil {
		return services.Wrap(services.ErrValidation, "docstore", "encode", fmt.Sprintf("Document %d cannot be encoded", doc.ID), err)
	}

	var res sql.Result
	if expected == 0 {
		res, err = sqliteutil.Exec(ctx, s.db,
			`INSERT INTO asset_documents (id, version, body) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			doc.ID, next.Version, string(body))
	} else {
		res, err = sqliteutil.Exec(ctx, s.db,
			`UPDATE asset_documents SET version = ?, body = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND version = ?`,
			next.Version, string(body), doc.ID, expected)
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "docstore", "put", fmt.Sprintf("Write document %d", doc.ID), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrTransient, "docstore", "put", "Rows affected", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "docstore", "put", fmt.Sprintf("Document %d changed since version %d", doc.ID, expected), nil)
	}
	doc.Version = next.Version
	return nil
}

// List returns up to limit documents, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]*asset.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM asset_documents ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "docstore", "list", "Query documents", err)
	}
	defer rows.Close()
	var docs []*asset.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc asset.Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, services.Wrap(services.ErrValidation, "docstore", "decode", "Malformed document row", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
