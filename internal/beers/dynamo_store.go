package beers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
)

// scanPageSize bounds each Scan call; filters apply after the page is read.
const scanPageSize = 100

// DynamoStore encapsulates operations on the beers table.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a new beers store.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Put writes a full beer item, replacing any existing one.
func (s *DynamoStore) Put(ctx context.Context, b Beer) error {
	now := s.nowFunc().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	item, err := attributevalue.MarshalMap(b)
	if err != nil {
		return fmt.Errorf("marshal beer: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches a beer by id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, beerID string) (*Beer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       beerKey(beerID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var b Beer
	if err := attributevalue.UnmarshalMap(out.Item, &b); err != nil {
		return nil, fmt.Errorf("unmarshal beer: %w", err)
	}
	return &b, nil
}

// SetABV overwrites the enrichment fields. The beer must exist.
func (s *DynamoStore) SetABV(ctx context.Context, beerID string, res ABVResult) error {
	now := s.nowFunc().UTC().Format(time.RFC3339)
	values := map[string]types.AttributeValue{
		":st":  &types.AttributeValueMemberS{Value: res.Status},
		":cf":  &types.AttributeValueMemberS{Value: res.Confidence},
		":src": &types.AttributeValueMemberS{Value: res.Source},
		":ua":  &types.AttributeValueMemberS{Value: now},
	}
	expr := "SET abv_status = :st, abv_confidence = :cf, abv_source = :src, abv_updated_at = :ua, updated_at = :ua"
	if res.ABV != nil {
		values[":abv"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(*res.ABV, 'f', -1, 64)}
		expr += ", abv = :abv"
	} else {
		expr += " REMOVE abv"
	}

	return s.update(ctx, beerID, expr, values, "set abv")
}

// SetCleanedDescription overwrites the cleaned description. The beer must exist.
func (s *DynamoStore) SetCleanedDescription(ctx context.Context, beerID, text string) error {
	now := s.nowFunc().UTC().Format(time.RFC3339)
	return s.update(ctx, beerID,
		"SET cleaned_description = :cd, cleaned_at = :ua, updated_at = :ua",
		map[string]types.AttributeValue{
			":cd": &types.AttributeValueMemberS{Value: text},
			":ua": &types.AttributeValueMemberS{Value: now},
		}, "set cleaned description")
}

func (s *DynamoStore) update(ctx context.Context, beerID, expr string, values map[string]types.AttributeValue, op string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       beerKey(beerID),
		UpdateExpression:          &expr,
		ConditionExpression:       awsString("attribute_exists(beer_id)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%s %s: %w", op, beerID, ErrNotFound)
		}
		return fmt.Errorf("update item (%s): %w", op, err)
	}
	return nil
}

// ListMissingABV returns up to limit beers that were never enriched.
func (s *DynamoStore) ListMissingABV(ctx context.Context, limit int) ([]Beer, error) {
	return s.scan(ctx, limit, "attribute_not_exists(abv_status)", nil)
}

// ListMissingCleanup returns up to limit beers that have a description but no cleaned one.
func (s *DynamoStore) ListMissingCleanup(ctx context.Context, limit int) ([]Beer, error) {
	return s.scan(ctx, limit,
		"attribute_not_exists(cleaned_description) AND attribute_exists(description) AND description <> :empty",
		map[string]types.AttributeValue{":empty": &types.AttributeValueMemberS{Value: ""}})
}

func (s *DynamoStore) scan(ctx context.Context, limit int, filter string, values map[string]types.AttributeValue) ([]Beer, error) {
	var out []Beer
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                 &s.tableName,
			FilterExpression:          &filter,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
			Limit:                     awsInt32(scanPageSize),
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for _, item := range page.Items {
			var b Beer
			if err := attributevalue.UnmarshalMap(item, &b); err != nil {
				return nil, fmt.Errorf("unmarshal beer: %w", err)
			}
			out = append(out, b)
			if len(out) == limit {
				return out, nil
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startKey = page.LastEvaluatedKey
	}
}

func beerKey(beerID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"beer_id": &types.AttributeValueMemberS{Value: beerID},
	}
}

func awsString(s string) *string { return &s }
func awsInt32(n int32) *int32    { return &n }
