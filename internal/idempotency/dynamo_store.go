package idempotency

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

// DynamoStore encapsulates claim operations against DynamoDB.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	window    time.Duration // how long a claim blocks re-enqueueing
	nowFunc   func() time.Time
}

// NewDynamoStore returns a configured store.
// window: how long a claim stays live (e.g. 24*time.Hour). The table's TTL
// attribute should be expires_at so stale claims are swept.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, window time.Duration) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		window:    window,
		nowFunc:   time.Now,
	}
}

// Claim creates a claim if none exists or the existing one has expired.
// TTL deletion is lazy, so expiry is checked in the condition too.
// Returns (true, nil) if claimed, (false, nil) if a live claim exists.
func (s *DynamoStore) Claim(ctx context.Context, pipeline, beerID string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := ClaimRecord{
		ClaimKey:  ClaimKey(pipeline, beerID),
		Pipeline:  pipeline,
		BeerID:    beerID,
		Status:    StatusInProgress,
		ClaimedAt: now,
		ExpiresAt: now.Add(s.window).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal claim: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(claim_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("put claim: %w", err)
	}
	return true, nil
}

// Get retrieves a claim. If not found, returns (nil, nil).
func (s *DynamoStore) Get(ctx context.Context, pipeline, beerID string) (*ClaimRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       claimKey(pipeline, beerID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec ClaimRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone records the enqueued message id on the claim.
func (s *DynamoStore) MarkDone(ctx context.Context, pipeline, beerID, messageID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              claimKey(pipeline, beerID),
		UpdateExpression: awsString("SET #s = :done, message_id = :mid"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":mid":  &types.AttributeValueMemberS{Value: messageID},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the claim FAILED and expires it.
func (s *DynamoStore) MarkFailed(ctx context.Context, pipeline, beerID, note string) error {
	past := s.nowFunc().UTC().Add(-time.Second).Unix()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              claimKey(pipeline, beerID),
		UpdateExpression: awsString("SET #s = :failed, note = :n, expires_at = :exp"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":exp":    &types.AttributeValueMemberN{Value: strconv.FormatInt(past, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func claimKey(pipeline, beerID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"claim_key": &types.AttributeValueMemberS{Value: ClaimKey(pipeline, beerID)},
	}
}

// Helper
func awsString(s string) *string { return &s }
