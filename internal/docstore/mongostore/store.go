// Package mongostore stores asset documents in a MongoDB collection using the
// asset identifier as _id.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"derbyflow/internal/asset"
	"derbyflow/internal/services"
)

const connectTimeout = 10 * time.Second

// Store is a MongoDB-backed document store.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Open connects to uri and verifies the server is reachable.
func Open(ctx context.Context, uri, database, collection string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "docstore", "mongo connect", uri, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, services.Wrap(services.ErrTransient, "docstore", "mongo ping", uri, err)
	}
	return &Store{client: client, collection: client.Database(database).Collection(collection)}, nil
}

// Get loads the document with id.
func (s *Store) Get(ctx context.Context, id int64) (*asset.Document, error) {
	var doc asset.Document
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, services.Wrap(services.ErrNotFound, "docstore", "find", fmt.Sprintf("No document with id %d", id), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "docstore", "find", fmt.Sprintf("Query document %d", id), err)
	}
	return &doc, nil
}

// Put inserts a new document or replaces one whose stored version matches.
func (s *Store) Put(ctx context.Context, doc *asset.Document) error {
	if doc == nil {
		return services.Wrap(services.ErrValidation, "docstore", "put", "Nil document", nil)
	}
	expected := doc.Version
	next := *doc
	next.Version = expected + 1

	if expected == 0 {
		if _, err := s.collection.InsertOne(ctx, next); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return services.Wrap(services.ErrConflict, "docstore", "insert", fmt.Sprintf("Document %d already exists", doc.ID), err)
			}
			return services.Wrap(services.ErrTransient, "docstore", "insert", fmt.Sprintf("Insert document %d", doc.ID), err)
		}
		doc.Version = next.Version
		return nil
	}

	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": expected}, next)
	if err != nil {
		return services.Wrap(services.ErrTransient, "docstore", "replace", fmt.Sprintf("Replace document %d", doc.ID), err)
	}
	if res.MatchedCount == 0 {
		return services.Wrap(services.ErrConflict, "docstore", "replace", fmt.Sprintf("Document %d changed since version %d", doc.ID, expected), nil)
	}
	doc.Version = next.Version
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
