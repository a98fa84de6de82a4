// Package stream provides DynamoDB Streams handlers for cascade operations.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/paranoia/store"
)

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
		now:    time.Now,
	}
}

// HandleCascadeDelete processes DynamoDB stream events and propagates removals
// to referenced children. A newly set TTL is copied to every child; a newly
// set deleted-at soft-deletes capable children with the same timestamp and
// expires the others.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "MODIFY" {
		return nil
	}
	oldImage, newImage := record.Change.OldImage, record.Change.NewImage

	entityRef := getStringAttr(newImage, "entity_ref")
	if entityRef == "" {
		return nil
	}
	parentRef := getStringAttr(newImage, "parent_ref")

	// TTL wins when both changed in one write.
	if oldTTL, newTTL := getNumberAttr(oldImage, "ttl"), getNumberAttr(newImage, "ttl"); oldTTL == 0 && newTTL != 0 {
		return h.cascadeTTL(ctx, entityRef, parentRef, newTTL)
	}

	field := h.deletedAtField(entityRef)
	if isSet(oldImage, field) || !isSet(newImage, field) {
		return nil
	}
	at, err := time.Parse(time.RFC3339Nano, getStringAttr(newImage, field))
	if err != nil {
		h.logger.Warn("unreadable deleted-at, using current time",
			"entityRef", entityRef,
			"field", field,
			"error", err,
		)
		at = h.now()
	}
	return h.cascadeSoftDelete(ctx, entityRef, parentRef, at)
}

// cascadeTTL sets ttl on all children and on the entity's own relationship
// record. Each child's TTL write triggers its own cascade.
func (h *Handler) cascadeTTL(ctx context.Context, entityRef, parentRef string, ttl int64) error {
	h.logger.Info("processing cascade delete",
		"entityRef", entityRef,
		"parentRef", parentRef,
		"ttl", ttl,
	)

	// Already-deleted children are included; the writes are idempotent.
	children, err := h.store.QueryAllChildren(ctx, entityRef)
	if err != nil {
		return fmt.Errorf("query children: %w", err)
	}

	for _, child := range children {
		if err := h.store.SetTTLByKey(ctx, child.TableName, child.Key, ttl); err != nil {
			h.logger.Warn("failed to set TTL on child",
				"child", child.Ref,
				"error", err,
			)
		}
	}

	if parentRef != "" {
		if err := h.store.SetRelationshipTTL(ctx, entityRef, parentRef, ttl); err != nil {
			h.logger.Warn("failed to set relationship TTL",
				"entity", entityRef,
				"parent", parentRef,
				"error", err,
			)
		}
	}

	h.logger.Info("cascade delete completed",
		"entityRef", entityRef,
		"childrenProcessed", len(children),
	)
	return nil
}

// cascadeSoftDelete soft-deletes capable children at the parent's deletion
// time and expires the rest, then marks the entity's relationship record.
func (h *Handler) cascadeSoftDelete(ctx context.Context, entityRef, parentRef string, at time.Time) error {
	h.logger.Info("processing cascade soft delete",
		"entityRef", entityRef,
		"parentRef", parentRef,
		"deletedAt", at,
	)

	children, err := h.store.QueryAllChildren(ctx, entityRef)
	if err != nil {
		return fmt.Errorf("query children: %w", err)
	}

	var soft int
	for _, child := range children {
		if field := h.childDeletedAt(child.Type); field != "" {
			soft++
			err = h.store.SoftDeleteByKey(ctx, child.TableName, child.Key, field, at)
		} else {
			err = h.store.SetTTLByKey(ctx, child.TableName, child.Key, at.Unix())
		}
		if err != nil {
			h.logger.Warn("failed to cascade soft delete to child",
				"child", child.Ref,
				"error", err,
			)
		}
	}

	if parentRef != "" {
		if err := h.store.SoftDeleteRelationship(ctx, entityRef, parentRef, at); err != nil {
			h.logger.Warn("failed to soft-delete relationship",
				"entity", entityRef,
				"parent", parentRef,
				"error", err,
			)
		}
	}

	h.logger.Info("cascade soft delete completed",
		"entityRef", entityRef,
		"childrenProcessed", len(children),
		"softDeleted", soft,
	)
	return nil
}

// deletedAtField returns the soft-delete field watched for entityRef: the one
// registered for its type, or the store default.
func (h *Handler) deletedAtField(entityRef string) string {
	entityType, _, _ := strings.Cut(entityRef, "#")
	if registry := h.store.Registry(); registry != nil {
		if field, ok := registry.DeletedAtField(entityType); ok {
			return field
		}
	}
	return h.store.Config().DeletedAtField
}

// childDeletedAt returns the registered soft-delete field of childType, or ""
// when the type is unknown or not capable.
func (h *Handler) childDeletedAt(childType string) string {
	registry := h.store.Registry()
	if registry == nil {
		return ""
	}
	rel, ok := registry.ParentOf(childType)
	if !ok {
		return ""
	}
	return rel.ChildDeletedAt
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// isSet reports whether key holds a non-null, non-empty value.
func isSet(image map[string]events.DynamoDBAttributeValue, key string) bool {
	v, ok := image[key]
	if !ok {
		return false
	}
	switch v.DataType() {
	case events.DataTypeNull:
		return false
	case events.DataTypeString:
		return v.String() != ""
	default:
		return true
	}
}

// ConvertStreamKey converts a DynamoDB stream key to a store.PK.
// Use this when you need to convert keys from stream records to store operations.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.PK {
	result := make(store.PK)
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
