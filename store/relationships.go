package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/paranoia/internal/shard"
)

// errFound stops the shard fan-out once an active child is seen.
var errFound = errors.New("active child found")

// HasActiveChildren reports whether entityRef has any child whose
// relationship record is neither expired nor soft-deleted.
func (s *Store) HasActiveChildren(ctx context.Context, entityRef string) (bool, error) {
	var found atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	for _, shardPK := range shard.All(entityRef, s.config.NumShards) {
		g.Go(func() error {
			paginator := dynamodb.NewQueryPaginator(s.client, s.activeChildrenQuery(shardPK))
			for paginator.HasMorePages() {
				page, err := paginator.NextPage(gctx)
				if err != nil {
					return err
				}
				if len(page.Items) > 0 {
					found.Store(true)
					return errFound
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if found.Load() {
		return true, nil
	}
	return false, err
}

func (s *Store) activeChildrenQuery(shardPK string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.config.RelationshipTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		FilterExpression:       aws.String("(" + TTLFilterExpr() + ") AND attribute_not_exists(#del)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": attrTTL,
			"#del": s.config.DeletedAtField,
		},
		ExpressionAttributeValues: mergeExprValues(TTLFilterValues(), map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shardPK},
		}),
	}
}

// QueryAllChildren returns all children of an entity (including deleted ones).
// This is used by the stream handler to cascade deletes. Children are
// returned in shard order.
func (s *Store) QueryAllChildren(ctx context.Context, parentRef string) ([]ChildRef, error) {
	pks := shard.All(parentRef, s.config.NumShards)
	perShard := make([][]ChildRef, len(pks))

	g, gctx := errgroup.WithContext(ctx)
	for i, shardPK := range pks {
		g.Go(func() error {
			paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
				TableName:              aws.String(s.config.RelationshipTable),
				KeyConditionExpression: aws.String("pk = :pk"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":pk": &types.AttributeValueMemberS{Value: shardPK},
				},
			})
			for paginator.HasMorePages() {
				page, err := paginator.NextPage(gctx)
				if err != nil {
					return fmt.Errorf("shard %s: %w", shardPK, err)
				}
				for _, item := range page.Items {
					perShard[i] = append(perShard[i], unmarshalChildRef(item, shardPK))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var children []ChildRef
	for _, refs := range perShard {
		children = append(children, refs...)
	}
	return children, nil
}

// SetTTLByKey sets TTL on a document by table and key.
// Already expired documents are left unchanged.
func (s *Store) SetTTLByKey(ctx context.Context, table string, key PK, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 key,
		UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	return ignoreConditionFailure(err)
}

// SoftDeleteByKey sets field to at on a document by table and key.
// Documents that are missing, expired or already soft-deleted are left unchanged.
func (s *Store) SoftDeleteByKey(ctx context.Context, table string, key PK, field string, at time.Time) error {
	atValue, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 key,
		UpdateExpression:    aws.String("SET #del = :at, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl) AND (attribute_not_exists(#del) OR attribute_type(#del, :null))"),
		ExpressionAttributeNames: map[string]string{
			"#del":     field,
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":   atValue,
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":null": &types.AttributeValueMemberS{Value: "NULL"},
		},
	})
	return ignoreConditionFailure(err)
}

// SetRelationshipTTL sets TTL on a relationship record.
func (s *Store) SetRelationshipTTL(ctx context.Context, childRef, parentRef string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.RelationshipTable),
		Key:                 s.relationshipKey(childRef, parentRef),
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": attrTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
	})
	return ignoreConditionFailure(err)
}

// SoftDeleteRelationship marks a relationship record soft-deleted so the
// child no longer counts as active.
func (s *Store) SoftDeleteRelationship(ctx context.Context, childRef, parentRef string, at time.Time) error {
	atValue, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.RelationshipTable),
		Key:                 s.relationshipKey(childRef, parentRef),
		UpdateExpression:    aws.String("SET #del = :at"),
		ConditionExpression: aws.String("attribute_exists(pk) AND attribute_not_exists(#del)"),
		ExpressionAttributeNames: map[string]string{
			"#del": s.config.DeletedAtField,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": atValue,
		},
	})
	return ignoreConditionFailure(err)
}

func (s *Store) restoreRelationship(ctx context.Context, childRef, parentRef string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.RelationshipTable),
		Key:                 s.relationshipKey(childRef, parentRef),
		UpdateExpression:    aws.String("REMOVE #del"),
		ConditionExpression: aws.String("attribute_exists(pk)"),
		ExpressionAttributeNames: map[string]string{
			"#del": s.config.DeletedAtField,
		},
	})
	return ignoreConditionFailure(err)
}

func (s *Store) relationshipKey(childRef, parentRef string) PK {
	return PK{
		"pk":        &types.AttributeValueMemberS{Value: s.relationshipPK(parentRef, childRef)},
		"child_ref": &types.AttributeValueMemberS{Value: childRef},
	}
}

// ignoreConditionFailure treats a failed condition as an already applied change.
func ignoreConditionFailure(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// unmarshalChildRef converts a relationship item to a ChildRef.
func unmarshalChildRef(item map[string]types.AttributeValue, shardPK string) ChildRef {
	ref := ChildRef{ShardPK: shardPK}

	if v, ok := item["child_ref"].(*types.AttributeValueMemberS); ok {
		ref.Ref = v.Value
	}
	if v, ok := item["child_type"].(*types.AttributeValueMemberS); ok {
		ref.Type = v.Value
	}
	if v, ok := item["child_table"].(*types.AttributeValueMemberS); ok {
		ref.TableName = v.Value
	}
	if v, ok := item["child_key"].(*types.AttributeValueMemberM); ok {
		ref.Key = v.Value
	}

	return ref
}
