package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API the anchor uses.
// *dynamodb.Client satisfies it.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// ErrAlreadyAnchored is returned when a sequence is anchored with a different
// head hash. A clean re-anchor of the same (seq, hash) pair is idempotent.
var ErrAlreadyAnchored = errors.New("sequence already anchored with different hash")

// ErrNotAnchored is returned when no anchor exists yet.
var ErrNotAnchored = errors.New("no anchor recorded")

// HeadAnchor records audit-chain heads in DynamoDB using conditional writes.
//
// Anchoring puts the chain head (sequence, entry hash) beyond the reach of
// whoever can rewrite the local segment files: a verifier cross-checks the
// replayed chain against the anchored heads. Anchors are append-only, one
// item per anchored sequence.
//
// Table schema:
//   - Partition key: ledger_id (string)
//   - Sort key: seq (number)
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name resolvgo-anchors \
//	  --attribute-definitions AttributeName=ledger_id,AttributeType=S AttributeName=seq,AttributeType=N \
//	  --key-schema AttributeName=ledger_id,KeyType=HASH AttributeName=seq,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type HeadAnchor struct {
	client   DDBClient
	table    string
	ledgerID string
}

// NewHeadAnchor creates an anchor writer for one logical ledger. ledgerID is
// the partition key and should be stable per deployment.
func NewHeadAnchor(client DDBClient, table, ledgerID string) *HeadAnchor {
	return &HeadAnchor{
		client:   client,
		table:    table,
		ledgerID: ledgerID,
	}
}

// Anchor records the chain head at seq. Re-anchoring the same (seq, hash)
// pair succeeds; a different hash at an anchored seq fails, which is exactly
// the tamper signal the anchor exists to raise.
func (a *HeadAnchor) Anchor(ctx context.Context, seq uint64, headHash string) error {
	_, err := a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.table),
		Item: map[string]types.AttributeValue{
			"ledger_id": &types.AttributeValueMemberS{Value: a.ledgerID},
			"seq":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", seq)},
			"head_hash": &types.AttributeValueMemberS{Value: headHash},
		},
		ConditionExpression: aws.String("attribute_not_exists(seq)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return fmt.Errorf("anchor seq %d: %w", seq, err)
		}

		existing, atErr := a.At(ctx, seq)
		if atErr != nil {
			return fmt.Errorf("anchor seq %d: %w", seq, atErr)
		}
		if existing == headHash {
			return nil
		}
		return ErrAlreadyAnchored
	}
	return nil
}

// Latest returns the highest anchored sequence and its head hash.
func (a *HeadAnchor) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := a.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.table),
		KeyConditionExpression: aws.String("ledger_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: a.ledgerID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query anchors: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", ErrNotAnchored
	}
	return decodeAnchorItem(resp.Items[0])
}

// At returns the anchored head hash for an exact sequence.
func (a *HeadAnchor) At(ctx context.Context, seq uint64) (string, error) {
	resp, err := a.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(a.table),
		Key: map[string]types.AttributeValue{
			"ledger_id": &types.AttributeValueMemberS{Value: a.ledgerID},
			"seq":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", seq)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("get anchor %d: %w", seq, err)
	}
	if len(resp.Item) == 0 {
		return "", ErrNotAnchored
	}
	_, hash, err := decodeAnchorItem(resp.Item)
	return hash, err
}

func decodeAnchorItem(item map[string]types.AttributeValue) (uint64, string, error) {
	seqAttr, ok := item["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("anchor item missing seq attribute")
	}
	hashAttr, ok := item["head_hash"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("anchor item missing head_hash attribute")
	}

	var seq uint64
	if _, err := fmt.Sscanf(seqAttr.Value, "%d", &seq); err != nil {
		return 0, "", fmt.Errorf("parse anchor seq: %w", err)
	}
	return seq, hashAttr.Value, nil
}
