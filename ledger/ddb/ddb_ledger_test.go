package ddb

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/vecvault/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient emulates the subset of DynamoDB semantics the ledger relies on:
// conditional puts on the sort key and descending-order queries.
type fakeClient struct {
	items map[string]map[string]map[string]types.AttributeValue // pk -> sk -> item
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]map[string]types.AttributeValue)}
}

func (f *fakeClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	pk := params.Item["pk"].(*types.AttributeValueMemberS).Value
	sk := params.Item["sk"].(*types.AttributeValueMemberS).Value

	if f.items[pk] == nil {
		f.items[pk] = make(map[string]map[string]types.AttributeValue)
	}

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(sk)" {
		if _, exists := f.items[pk][sk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	f.items[pk][sk] = params.Item

	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	pk := params.Key["pk"].(*types.AttributeValueMemberS).Value
	sk := params.Key["sk"].(*types.AttributeValueMemberS).Value

	item, ok := f.items[pk][sk]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}

	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	pk := params.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value

	var maxSK string
	var maxItem map[string]types.AttributeValue

	for sk, item := range f.items[pk] {
		if maxItem == nil || sk > maxSK {
			maxSK, maxItem = sk, item
		}
	}

	if maxItem == nil {
		return &dynamodb.QueryOutput{}, nil
	}

	return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{maxItem}}, nil
}

func TestLedgerRecordAndLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFakeClient(), "test-table")

	_, err := l.LatestSnapshot(ctx, "alice")
	require.ErrorIs(t, err, ledger.ErrNoSnapshot)

	require.NoError(t, l.RecordSnapshot(ctx, "alice", ledger.SnapshotRef{Version: 1, BlobRef: "ref-1"}))
	require.NoError(t, l.RecordSnapshot(ctx, "alice", ledger.SnapshotRef{Version: 2, BlobRef: "ref-2"}))

	latest, err := l.LatestSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Version)
	assert.Equal(t, "ref-2", string(latest.BlobRef))
}

func TestLedgerVersionConflict(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFakeClient(), "test-table")

	require.NoError(t, l.RecordSnapshot(ctx, "alice", ledger.SnapshotRef{Version: 3, BlobRef: "ref-a"}))

	err := l.RecordSnapshot(ctx, "alice", ledger.SnapshotRef{Version: 3, BlobRef: "ref-b"})
	require.ErrorIs(t, err, ledger.ErrVersionConflict)
}

func TestLedgerVersionOrderingAcrossWideRange(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFakeClient(), "test-table")

	// Sort keys are zero-padded; version 10 must sort above version 9.
	require.NoError(t, l.RecordSnapshot(ctx, "alice", ledger.SnapshotRef{Version: 9, BlobRef: "ref-9"}))
	require.NoError(t, l.RecordSnapshot(ctx, "alice", ledger.SnapshotRef{Version: 10, BlobRef: "ref-10"}))

	latest, err := l.LatestSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), latest.Version)
}

func TestLedgerGrants(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFakeClient(), "test-table")

	_, err := l.CheckGrant(ctx, "alice", "bob", ledger.ScopeRead)
	require.ErrorIs(t, err, ledger.ErrNoGrant)

	require.NoError(t, l.PutGrant(ctx, ledger.AccessGrant{
		ContextID: "alice",
		GranteeID: "bob",
		Scope:     ledger.ScopeRead,
		Proof:     []byte("approval"),
	}))

	grant, err := l.CheckGrant(ctx, "alice", "bob", ledger.ScopeRead)
	require.NoError(t, err)
	assert.Equal(t, []byte("approval"), grant.Proof)
}

func TestLedgerGrantExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFakeClient(), "test-table")

	require.NoError(t, l.PutGrant(ctx, ledger.AccessGrant{
		ContextID: "alice",
		GranteeID: "bob",
		Scope:     ledger.ScopeRead,
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	_, err := l.CheckGrant(ctx, "alice", "bob", ledger.ScopeRead)
	require.ErrorIs(t, err, ledger.ErrNoGrant)
}
