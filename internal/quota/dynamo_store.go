package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
)

const (
	// counters outlive their period by this much before TTL removes them
	counterRetention = 62 * 24 * time.Hour
	maxConflictRetry = 3
)

// DynamoStore keeps one item per (pipeline, period key) with a numeric count.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func counterKey(pipeline, periodKey string) string {
	return pipeline + "#" + periodKey
}

// Admit increments the day and month counters in one TransactWriteItems call.
// Each update is conditioned on the counter being below its limit, so either
// both move or neither does.
func (s *DynamoStore) Admit(ctx context.Context, pipeline string, period Period, limits Limits) (bool, error) {
	expires := strconv.FormatInt(s.nowFunc().Add(counterRetention).Unix(), 10)
	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: s.incrementUpdate(pipeline, period.Day, limits.Daily, expires)},
			{Update: s.incrementUpdate(pipeline, period.Month, limits.Monthly, expires)},
		},
	}

	var lastErr error
	for attempt := 0; attempt < maxConflictRetry; attempt++ {
		_, err := s.client.TransactWriteItems(ctx, input)
		if err == nil {
			return true, nil
		}

		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return false, fmt.Errorf("transact write: %w", err)
		}
		switch cancellationCause(tce) {
		case "ConditionalCheckFailed":
			return false, nil
		case "TransactionConflict":
			// another admission touched the same counters; try again
			lastErr = err
			continue
		default:
			return false, fmt.Errorf("transact write canceled: %w", err)
		}
	}
	return false, fmt.Errorf("transact write: conflict retries exhausted: %w", lastErr)
}

func (s *DynamoStore) incrementUpdate(pipeline, periodKey string, limit int64, expires string) *types.Update {
	return &types.Update{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"counter_key": &types.AttributeValueMemberS{Value: counterKey(pipeline, periodKey)},
		},
		UpdateExpression:    awsString("SET pipeline = :p, period_key = :pk, expires_at = :exp ADD #c :one"),
		ConditionExpression: awsString("attribute_not_exists(#c) OR #c < :limit"),
		ExpressionAttributeNames: map[string]string{
			"#c": "count",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":     &types.AttributeValueMemberS{Value: pipeline},
			":pk":    &types.AttributeValueMemberS{Value: periodKey},
			":exp":   &types.AttributeValueMemberN{Value: expires},
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":limit": &types.AttributeValueMemberN{Value: strconv.FormatInt(limit, 10)},
		},
	}
}

// cancellationCause returns the first non-"None" cancellation code.
func cancellationCause(tce *types.TransactionCanceledException) string {
	for _, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code != "None" {
			return *r.Code
		}
	}
	return ""
}

func (s *DynamoStore) Counts(ctx context.Context, pipeline string, period Period) (int64, int64, error) {
	day, err := s.count(ctx, counterKey(pipeline, period.Day))
	if err != nil {
		return 0, 0, err
	}
	month, err := s.count(ctx, counterKey(pipeline, period.Month))
	if err != nil {
		return 0, 0, err
	}
	return day, month, nil
}

func (s *DynamoStore) count(ctx context.Context, key string) (int64, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"counter_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get item: %w", err)
	}
	n, ok := out.Item["count"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", n.Value, err)
	}
	return v, nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
