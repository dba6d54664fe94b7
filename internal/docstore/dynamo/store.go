// Package dynamo stores asset documents in a DynamoDB table keyed by the
// numeric AssetId attribute.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"derbyflow/internal/asset"
	"derbyflow/internal/services"
)

// KeyAttribute is the table's partition key.
const KeyAttribute = "AssetId"

const versionAttribute = "version"

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// NewClient builds a DynamoDB client with an optional endpoint override.
func NewClient(cfg aws.Config, endpoint *string) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// Store is a DynamoDB-backed document store.
type Store struct {
	api   API
	table string
}

// New wraps api for table.
func New(api API, table string) *Store {
	return &Store{api: api, table: table}
}

// Get fetches the document with id using a consistent read.
func (s *Store) Get(ctx context.Context, id int64) (*asset.Document, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyFor(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "docstore", "get item", fmt.Sprintf("DynamoDB get %d failed", id), err)
	}
	if len(out.Item) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "docstore", "get item", fmt.Sprintf("No document with %s %d", KeyAttribute, id), nil)
	}
	var doc asset.Document
	if err := attributevalue.UnmarshalMap(out.Item, &doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "docstore", "decode item", fmt.Sprintf("Document %d is malformed", id), err)
	}
	return &doc, nil
}

// Put writes doc if the stored version still matches doc.Version.
func (s *Store) Put(ctx context.Context, doc *asset.Document) error {
	if doc == nil {
		return services.Wrap(services.ErrValidation, "docstore", "put item", "Nil document", nil)
	}
	expected := doc.Version
	next := *doc
	next.Version = expected + 1
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return services.Wrap(services.ErrValidation, "docstore", "encode item", fmt.Sprintf("Document %d cannot be encoded", doc.ID), err)
	}

	var cond expression.ConditionBuilder
	if expected == 0 {
		cond = expression.AttributeNotExists(expression.Name(KeyAttribute))
	} else {
		cond = expression.Name(versionAttribute).Equal(expression.Value(expected))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return services.Wrap(services.ErrConflict, "docstore", "put item", fmt.Sprintf("Document %d changed since version %d", doc.ID, expected), err)
		}
		return services.Wrap(services.ErrTransient, "docstore", "put item", fmt.Sprintf("DynamoDB put %d failed", doc.ID), err)
	}
	doc.Version = next.Version
	return nil
}

// Ensure creates the table with on-demand billing when it is missing.
func (s *Store) Ensure(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var missing *types.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return services.Wrap(services.ErrTransient, "docstore", "describe table", s.table, err)
	}
	_, err = s.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(KeyAttribute), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(KeyAttribute), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "docstore", "create table", s.table, err)
	}
	waiter := dynamodb.NewTableExistsWaiter(s.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, 2*time.Minute); err != nil {
		return services.Wrap(services.ErrTransient, "docstore", "wait table", s.table, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections that need closing.
func (s *Store) Close() error { return nil }

func keyFor(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		KeyAttribute: &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}
