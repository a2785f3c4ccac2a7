package s3

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDDBClient is an in-memory DynamoDB mock honoring the conditional write
// the anchor relies on.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	id := item["ledger_id"].(*types.AttributeValueMemberS).Value
	seq := item["seq"].(*types.AttributeValueMemberN).Value
	return id + ":" + seq
}

func (m *mockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemKey(params.Item)
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(seq)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id := params.ExpressionAttributeValues[":id"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["ledger_id"].(*types.AttributeValueMemberS).Value == id {
			items = append(items, item)
		}
	}

	// Descending by numeric seq.
	for i := 0; i < len(items)-1; i++ {
		for j := i + 1; j < len(items); j++ {
			var vi, vj uint64
			_, _ = fmt.Sscanf(items[i]["seq"].(*types.AttributeValueMemberN).Value, "%d", &vi)
			_, _ = fmt.Sscanf(items[j]["seq"].(*types.AttributeValueMemberN).Value, "%d", &vj)
			if vi < vj {
				items[i], items[j] = items[j], items[i]
			}
		}
	}

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (m *mockDDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if item, ok := m.items[itemKey(params.Key)]; ok {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func TestHeadAnchor(t *testing.T) {
	ctx := context.Background()

	t.Run("AnchorAndReadBack", func(t *testing.T) {
		anchor := NewHeadAnchor(newMockDDBClient(), "resolvgo-anchors", "ledger-1")

		require.NoError(t, anchor.Anchor(ctx, 10, "hash-10"))
		require.NoError(t, anchor.Anchor(ctx, 20, "hash-20"))

		seq, hash, err := anchor.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(20), seq)
		assert.Equal(t, "hash-20", hash)

		at, err := anchor.At(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, "hash-10", at)
	})

	t.Run("ReanchorSameHashIsIdempotent", func(t *testing.T) {
		anchor := NewHeadAnchor(newMockDDBClient(), "resolvgo-anchors", "ledger-1")

		require.NoError(t, anchor.Anchor(ctx, 5, "hash-5"))
		require.NoError(t, anchor.Anchor(ctx, 5, "hash-5"))
	})

	t.Run("DifferentHashAtAnchoredSeqFails", func(t *testing.T) {
		anchor := NewHeadAnchor(newMockDDBClient(), "resolvgo-anchors", "ledger-1")

		require.NoError(t, anchor.Anchor(ctx, 5, "hash-5"))
		require.ErrorIs(t, anchor.Anchor(ctx, 5, "forged"), ErrAlreadyAnchored)
	})

	t.Run("EmptyLedger", func(t *testing.T) {
		anchor := NewHeadAnchor(newMockDDBClient(), "resolvgo-anchors", "ledger-1")

		_, _, err := anchor.Latest(ctx)
		require.ErrorIs(t, err, ErrNotAnchored)

		_, err = anchor.At(ctx, 1)
		require.ErrorIs(t, err, ErrNotAnchored)
	})

	t.Run("IsolatedLedgers", func(t *testing.T) {
		ddb := newMockDDBClient()
		a := NewHeadAnchor(ddb, "resolvgo-anchors", "ledger-a")
		b := NewHeadAnchor(ddb, "resolvgo-anchors", "ledger-b")

		require.NoError(t, a.Anchor(ctx, 1, "hash-a"))
		require.NoError(t, b.Anchor(ctx, 1, "hash-b"))

		_, hashA, err := a.Latest(ctx)
		require.NoError(t, err)
		_, hashB, err := b.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hash-a", hashA)
		assert.Equal(t, "hash-b", hashB)
	})
}
