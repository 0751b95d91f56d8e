// Package ddb provides a ledger.Ledger backed by DynamoDB.
//
// DynamoDB conditional writes supply the atomic compare-and-swap that keeps
// snapshot versions strictly monotonic across concurrent writers.
//
// Table schema (single table):
//   - Partition key: pk (string) - "SNAP#<owner>" or "GRANT#<context>"
//   - Sort key: sk (string) - zero-padded version, or "<grantee>#<scope>"
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name vecvault-ledger \
//	  --attribute-definitions AttributeName=pk,AttributeType=S AttributeName=sk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH AttributeName=sk,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package ddb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/ledger"
)

// Client is the interface for DynamoDB operations.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Ledger implements ledger.Ledger on DynamoDB.
type Ledger struct {
	client    Client
	tableName string
}

// NewLedger creates a DynamoDB-backed ledger.
func NewLedger(client Client, tableName string) *Ledger {
	return &Ledger{
		client:    client,
		tableName: tableName,
	}
}

func snapshotPK(ownerID string) string { return "SNAP#" + ownerID }

func grantPK(contextID string) string { return "GRANT#" + contextID }

func grantSK(granteeID string, scope ledger.Scope) string {
	return granteeID + "#" + string(scope)
}

// Zero-padded so lexicographic sort-key order equals numeric version order.
func versionSK(version uint64) string {
	return fmt.Sprintf("%020d", version)
}

// LatestSnapshot returns the highest recorded snapshot for the owner.
func (l *Ledger) LatestSnapshot(ctx context.Context, ownerID string) (ledger.SnapshotRef, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: snapshotPK(ownerID)},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return ledger.SnapshotRef{}, fmt.Errorf("query latest snapshot: %w", err)
	}

	if len(resp.Items) == 0 {
		return ledger.SnapshotRef{}, ledger.ErrNoSnapshot
	}

	return decodeSnapshotItem(resp.Items[0])
}

// RecordSnapshot records a new snapshot version with a conditional write.
func (l *Ledger) RecordSnapshot(ctx context.Context, ownerID string, ref ledger.SnapshotRef) error {
	createdAt := ref.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			"pk":         &types.AttributeValueMemberS{Value: snapshotPK(ownerID)},
			"sk":         &types.AttributeValueMemberS{Value: versionSK(ref.Version)},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatUint(ref.Version, 10)},
			"blob_ref":   &types.AttributeValueMemberS{Value: string(ref.BlobRef)},
			"created_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(createdAt.Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ledger.ErrVersionConflict
		}

		return fmt.Errorf("record snapshot: %w", err)
	}

	return nil
}

// CheckGrant looks up the grant item for (contextID, granteeID, scope).
func (l *Ledger) CheckGrant(ctx context.Context, contextID, granteeID string, scope ledger.Scope) (*ledger.AccessGrant, error) {
	resp, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: grantPK(contextID)},
			"sk": &types.AttributeValueMemberS{Value: grantSK(granteeID, scope)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}

	if resp.Item == nil {
		return nil, ledger.ErrNoGrant
	}

	grant := &ledger.AccessGrant{
		ContextID: contextID,
		GranteeID: granteeID,
		Scope:     scope,
	}

	if proof, ok := resp.Item["proof"].(*types.AttributeValueMemberB); ok {
		grant.Proof = proof.Value
	}

	if exp, ok := resp.Item["expires_at"].(*types.AttributeValueMemberN); ok {
		epoch, err := strconv.ParseInt(exp.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}

		grant.ExpiresAt = time.Unix(epoch, 0)
	}

	if grant.Expired(time.Now()) {
		return nil, ledger.ErrNoGrant
	}

	return grant, nil
}

// PutGrant writes a grant item. Provided for provisioning and tests; grant
// issuance normally happens outside this library.
func (l *Ledger) PutGrant(ctx context.Context, grant ledger.AccessGrant) error {
	item := map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: grantPK(grant.ContextID)},
		"sk": &types.AttributeValueMemberS{Value: grantSK(grant.GranteeID, grant.Scope)},
	}

	if len(grant.Proof) > 0 {
		item["proof"] = &types.AttributeValueMemberB{Value: grant.Proof}
	}

	if !grant.ExpiresAt.IsZero() {
		item["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(grant.ExpiresAt.Unix(), 10)}
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put grant: %w", err)
	}

	return nil
}

func decodeSnapshotItem(item map[string]types.AttributeValue) (ledger.SnapshotRef, error) {
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return ledger.SnapshotRef{}, errors.New("invalid version attribute")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return ledger.SnapshotRef{}, fmt.Errorf("parse version: %w", err)
	}

	refAttr, ok := item["blob_ref"].(*types.AttributeValueMemberS)
	if !ok {
		return ledger.SnapshotRef{}, errors.New("invalid blob_ref attribute")
	}

	ref := ledger.SnapshotRef{
		Version: version,
		BlobRef: blobstore.Ref(refAttr.Value),
	}

	if created, ok := item["created_at"].(*types.AttributeValueMemberN); ok {
		epoch, err := strconv.ParseInt(created.Value, 10, 64)
		if err != nil {
			return ledger.SnapshotRef{}, fmt.Errorf("parse created_at: %w", err)
		}

		ref.CreatedAt = time.Unix(epoch, 0)
	}

	return ref, nil
}
