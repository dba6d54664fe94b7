package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"derbyflow/internal/asset"
	"derbyflow/internal/logging"
)

// DocumentFromImage decodes a stream record image into a document.
func DocumentFromImage(image map[string]events.DynamoDBAttributeValue) (*asset.Document, error) {
	item := make(map[string]types.AttributeValue, len(image))
	for name, value := range image {
		converted, err := convertAttribute(value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		item[name] = converted
	}
	var doc asset.Document
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal stream image: %w", err)
	}
	return &doc, nil
}

func convertAttribute(value events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch value.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: value.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: value.Number()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: value.Boolean()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: value.Binary()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: value.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: value.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: value.BinarySet()}, nil
	case events.DataTypeList:
		list := value.List()
		out := make([]types.AttributeValue, len(list))
		for i, item := range list {
			converted, err := convertAttribute(item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case events.DataTypeMap:
		members := value.Map()
		out := make(map[string]types.AttributeValue, len(members))
		for name, item := range members {
			converted, err := convertAttribute(item)
			if err != nil {
				return nil, err
			}
			out[name] = converted
		}
		return &types.AttributeValueMemberM{Value: out}, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %d", value.DataType())
	}
}

// HandleStream routes every inserted or modified document in a DynamoDB
// stream batch. A record that cannot be decoded is logged and skipped; send
// failures are joined and returned so the batch is retried.
func (r *Router) HandleStream(ctx context.Context, event events.DynamoDBEvent) error {
	var errs []error
	for _, record := range event.Records {
		if record.EventName == string(events.DynamoDBOperationTypeRemove) || len(record.Change.NewImage) == 0 {
			continue
		}
		doc, err := DocumentFromImage(record.Change.NewImage)
		if err != nil {
			logging.WarnWithContext(r.logger, "stream record skipped", "stream_record_invalid",
				logging.String("event_id", record.EventID),
				logging.Error(err),
			)
			continue
		}
		if _, err := r.Route(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
