package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client is the subset of *dynamodb.Client used by the Store.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	dynamodb.QueryAPIClient
	dynamodb.ScanAPIClient
}

var _ Client = (*dynamodb.Client)(nil)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// Key returns the primary key of a document table item.
func Key(id string) PK {
	return PK{"id": &types.AttributeValueMemberS{Value: id}}
}

// Managed attributes written by the Store alongside document fields.
const (
	attrID        = "id"
	attrVersion   = "version"
	attrEntityRef = "entity_ref"
	attrParentRef = "parent_ref"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
	attrTTL       = "ttl"

	// attrIndex holds an embedded child's position in its relation.
	attrIndex = "_index"
)

func isManaged(name string) bool {
	switch name {
	case attrID, attrVersion, attrEntityRef, attrParentRef, attrCreatedAt, attrUpdatedAt, attrTTL, attrIndex:
		return true
	}
	return false
}

// ChildRef represents a reference to a child document in the relationship table.
type ChildRef struct {
	// Ref is the child's entity reference.
	Ref string

	// Type is the child's schema name.
	Type string

	// TableName is the DynamoDB table containing the child.
	TableName string

	// Key is the primary key to locate the child.
	Key PK

	// ShardPK is the relationship table partition key (for TTL updates).
	ShardPK string
}
