package quota

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// counterMock understands the counter update this package emits: a
// transaction of "ADD #c :one" updates guarded by "#c < :limit".
type counterMock struct {
	mu       sync.Mutex
	counts   map[string]int64
	conflict int // number of upcoming calls to reject with TransactionConflict
	err      error
	calls    int
}

func newCounterMock() *counterMock {
	return &counterMock{counts: map[string]int64{}}
}

func (m *counterMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	if m.conflict > 0 {
		m.conflict--
		for i := range reasons {
			reasons[i] = types.CancellationReason{Code: strPtr("TransactionConflict")}
		}
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	failed := false
	for i, it := range params.TransactItems {
		u := it.Update
		if u == nil {
			return nil, errors.New("counterMock: only updates supported")
		}
		key := u.Key["counter_key"].(*types.AttributeValueMemberS).Value
		limit, _ := strconv.ParseInt(u.ExpressionAttributeValues[":limit"].(*types.AttributeValueMemberN).Value, 10, 64)
		code := "None"
		if cur, ok := m.counts[key]; ok && cur >= limit {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: strPtr(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, it := range params.TransactItems {
		key := it.Update.Key["counter_key"].(*types.AttributeValueMemberS).Value
		m.counts[key]++
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *counterMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := params.Key["counter_key"].(*types.AttributeValueMemberS).Value
	n, ok := m.counts[key]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: map[string]types.AttributeValue{
		"counter_key": &types.AttributeValueMemberS{Value: key},
		"count":       &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)},
	}}, nil
}

func (m *counterMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	return nil, errors.New("counterMock: PutItem not supported")
}

func (m *counterMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("counterMock: UpdateItem not supported")
}

func (m *counterMock) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("counterMock: Query not supported")
}

func (m *counterMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return nil, errors.New("counterMock: Scan not supported")
}

func strPtr(s string) *string { return &s }
