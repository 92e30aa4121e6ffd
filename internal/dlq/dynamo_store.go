package dlq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-beer-pipeline/internal/aws"
)

// StatusIndex is the GSI used by List with a status filter:
// partition key status, sort key failed_at.
const StatusIndex = "status-failed_at-index"

// DynamoStore keeps records in a DynamoDB table keyed by message_id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, nowFunc: time.Now}
}

func (s *DynamoStore) Insert(ctx context.Context, rec Record) error {
	now := s.nowFunc().UTC()
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.FailedAt.IsZero() {
		rec.FailedAt = now
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal dlq record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(message_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("put dlq record: %w", err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, messageID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            recordKey(messageID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get dlq record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal dlq record: %w", err)
	}
	return &rec, nil
}

func (s *DynamoStore) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Status != "" {
		return s.queryByStatus(ctx, f.Status, f.limit())
	}
	return s.scanAll(ctx, f.limit())
}

func (s *DynamoStore) queryByStatus(ctx context.Context, status Status, limit int) ([]Record, error) {
	var (
		out   []Record
		start map[string]types.AttributeValue
	)
	for len(out) < limit {
		res, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                &s.tableName,
			IndexName:                awsString(StatusIndex),
			KeyConditionExpression:   awsString("#s = :s"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":s": &types.AttributeValueMemberS{Value: string(status)},
			},
			ScanIndexForward:  awsBool(false),
			Limit:             awsInt32(int32(limit - len(out))),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query dlq by status: %w", err)
		}
		var page []Record
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal dlq records: %w", err)
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		start = res.LastEvaluatedKey
	}
	return out, nil
}

// scanAll reads the whole table; the unfiltered listing is an operator view
// over a small table.
func (s *DynamoStore) scanAll(ctx context.Context, limit int) ([]Record, error) {
	var (
		out   []Record
		start map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan dlq: %w", err)
		}
		var page []Record
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal dlq records: %w", err)
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		start = res.LastEvaluatedKey
	}

	sortRecent(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *DynamoStore) Transition(ctx context.Context, messageID string, from, to Status) error {
	now := s.nowFunc().UTC()
	values := map[string]types.AttributeValue{
		":from": &types.AttributeValueMemberS{Value: string(from)},
		":to":   &types.AttributeValueMemberS{Value: string(to)},
		":now":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	expr := "SET #s = :to, updated_at = :now"
	switch to {
	case StatusReplayed:
		expr += ", replayed_at = :now"
	case StatusAcknowledged:
		expr += ", acknowledged_at = :now"
	case StatusPending:
		expr += " REMOVE replayed_at, replay_message_id"
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       recordKey(messageID),
		UpdateExpression:          awsString(expr),
		ConditionExpression:       awsString("attribute_exists(message_id) AND #s = :from"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return fmt.Errorf("transition dlq record: %w", err)
	}
	rec, gerr := s.Get(ctx, messageID)
	if gerr != nil {
		return gerr
	}
	return fmt.Errorf("%w: %s is %s, expected %s", ErrStatusMismatch, messageID, rec.Status, from)
}

func (s *DynamoStore) SetReplayMessageID(ctx context.Context, messageID, replayMessageID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 recordKey(messageID),
		UpdateExpression:    awsString("SET replay_message_id = :r"),
		ConditionExpression: awsString("attribute_exists(message_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r": &types.AttributeValueMemberS{Value: replayMessageID},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrNotFound, messageID)
		}
		return fmt.Errorf("set replay message id: %w", err)
	}
	return nil
}

func (s *DynamoStore) Acknowledge(ctx context.Context, messageID string) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      recordKey(messageID),
		UpdateExpression:         awsString("SET #s = :ack, updated_at = :now, acknowledged_at = if_not_exists(acknowledged_at, :now)"),
		ConditionExpression:      awsString("attribute_exists(message_id)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ack": &types.AttributeValueMemberS{Value: string(StatusAcknowledged)},
			":now": &types.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrNotFound, messageID)
		}
		return fmt.Errorf("acknowledge dlq record: %w", err)
	}
	return nil
}

func sortRecent(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].FailedAt.Equal(recs[j].FailedAt) {
			return recs[i].FailedAt.After(recs[j].FailedAt)
		}
		return recs[i].MessageID < recs[j].MessageID
	})
}

func recordKey(messageID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"message_id": &types.AttributeValueMemberS{Value: messageID},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }
