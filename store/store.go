package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/paranoia/document"
	"github.com/jacentio/paranoia/internal/shard"
)

// Store persists documents in DynamoDB and implements the persistence side
// of soft deletion for relations and nested destroys.
type Store struct {
	client    Client
	config    Config
	registry  *Registry
	logger    *slog.Logger
	destroyer *document.NestedDestroyer
	now       func() time.Time
}

var (
	_ document.Persister = (*Store)(nil)
	_ document.Finder    = (*Store)(nil)
)

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	logger := slog.Default()
	return &Store{
		client:    client,
		config:    config,
		logger:    logger,
		destroyer: document.NewNestedDestroyer(logger),
		now:       time.Now,
	}
}

// NewWithRegistry creates a new Store instance with a relationship registry.
func NewWithRegistry(client Client, config Config, registry *Registry) *Store {
	s := New(client, config)
	s.registry = registry
	return s
}

// SetRegistry sets the relationship registry for cascade operations.
func (s *Store) SetRegistry(registry *Registry) {
	s.registry = registry
}

// Registry returns the relationship registry, or nil if not set.
func (s *Store) Registry() *Registry {
	return s.registry
}

// SetLogger replaces the logger used by the store and its nested destroyer.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
	s.destroyer = document.NewNestedDestroyer(logger)
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Destroyer returns the nested destroyer whose queues Save drains.
func (s *Store) Destroyer() *document.NestedDestroyer {
	return s.destroyer
}

// relationshipPK computes the sharded partition key for a relationship record.
func (s *Store) relationshipPK(parentRef, childRef string) string {
	return shard.RelationshipPK(parentRef, childRef, s.config.NumShards)
}

// Build returns a new document attached to the store.
func (s *Store) Build(schema *document.Schema, attrs map[string]any) *document.Document {
	doc := document.New(schema, attrs)
	doc.SetPersister(s)
	return doc
}

// Get loads a root or referenced document. Expired and soft-deleted
// documents return ErrNotFound.
func (s *Store) Get(ctx context.Context, schema *document.Schema, id string) (*document.Document, error) {
	doc, err := s.GetUnscoped(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	if document.IsDeleted(doc) {
		return nil, ErrNotFound
	}
	return doc, nil
}

// GetUnscoped loads a document even when it is soft-deleted. Expired
// documents still return ErrNotFound.
func (s *Store) GetUnscoped(ctx context.Context, schema *document.Schema, id string) (*document.Document, error) {
	if schema.Embedded {
		return nil, fmt.Errorf("get %s: %w", schema.Name, ErrEmbedded)
	}
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(schema.Table),
		Key:            Key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || IsExpired(result.Item) {
		return nil, ErrNotFound
	}

	doc, err := decodeDocument(schema, result.Item)
	if err != nil {
		return nil, err
	}
	doc.SetPersister(s)
	return doc, nil
}

// LoadReferenced loads the visible members of a referenced relation of parent.
func (s *Store) LoadReferenced(ctx context.Context, parent *document.Document, relation string) error {
	rm := parent.References(relation)
	if rm == nil {
		return fmt.Errorf("%w: %s.%s", document.ErrUnknownRelation, parent.Schema.Name, relation)
	}
	assoc, _ := parent.Schema.Association(relation)
	docs, err := s.Find(ctx, assoc.Child, criteriaForChildren(assoc.Child, parent.ID))
	if err != nil {
		return err
	}
	return rm.Load(docs)
}

// Save validates and writes doc, then runs the destroys queued against it.
//
// When validation or the write fails the destroy queue is discarded. Errors
// from validator collaborators, such as a failed uniqueness lookup, are
// returned with the queue left intact. New documents are created in a
// transaction that checks the parent of a referenced document; persisted
// documents are updated under an optimistic version lock, with one SET per
// embedded child and one REMOVE per pending atomic pull.
func (s *Store) Save(ctx context.Context, doc *document.Document) error {
	if doc.Embedded() {
		return fmt.Errorf("save %s: %w", doc.EntityRef(), ErrEmbedded)
	}
	if doc.Persister() == nil {
		doc.SetPersister(s)
	}

	if err := document.Validate(ctx, doc); err != nil {
		var invalid *document.ValidationError
		if errors.As(err, &invalid) {
			s.discard(doc, "validation")
		}
		return err
	}

	var (
		version int64
		err     error
	)
	if doc.NewRecord() {
		version, err = s.create(ctx, doc)
	} else {
		version, err = s.update(ctx, doc)
	}
	if err != nil {
		s.discard(doc, "write")
		return err
	}
	doc.MarkPersisted(version)

	return s.destroyer.Drain(ctx, doc)
}

// discard drops the destroys queued against doc after a failed save.
func (s *Store) discard(doc *document.Document, stage string) {
	if n := s.destroyer.Discard(doc); n > 0 {
		s.logger.Debug("discarded nested destroys after failed save",
			"entity_ref", doc.EntityRef(),
			"stage", stage,
			"count", n,
		)
	}
}

// create writes a new document. A referenced document bound to a parent is
// written with a parent condition check and a relationship record.
func (s *Store) create(ctx context.Context, doc *document.Document) (int64, error) {
	item, err := encodeDocument(doc)
	if err != nil {
		return 0, err
	}

	now := s.now()
	nowISO := now.UTC().Format(time.RFC3339)
	items := []types.TransactWriteItem{}
	parentCheckIndex := -1

	var parentRef string
	if base := doc.Base(); base != nil {
		parentRef = base.EntityRef()
		parentCheckIndex = len(items)
		items = append(items, types.TransactWriteItem{
			ConditionCheck: parentCheck(base, now),
		})
	}

	item[attrEntityRef] = &types.AttributeValueMemberS{Value: doc.EntityRef()}
	item[attrVersion] = &types.AttributeValueMemberN{Value: "1"}
	item[attrCreatedAt] = &types.AttributeValueMemberS{Value: nowISO}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: nowISO}
	if parentRef != "" {
		item[attrParentRef] = &types.AttributeValueMemberS{Value: parentRef}
	}

	entityPutIndex := len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(doc.Schema.Table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	})

	if parentRef != "" {
		childRef := doc.EntityRef()
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.config.RelationshipTable),
				Item: map[string]types.AttributeValue{
					"pk":          &types.AttributeValueMemberS{Value: s.relationshipPK(parentRef, childRef)},
					"child_ref":   &types.AttributeValueMemberS{Value: childRef},
					"child_type":  &types.AttributeValueMemberS{Value: doc.Schema.Name},
					"parent_ref":  &types.AttributeValueMemberS{Value: parentRef},
					"child_table": &types.AttributeValueMemberS{Value: doc.Schema.Table},
					"child_key":   &types.AttributeValueMemberM{Value: Key(doc.ID)},
				},
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err := mapCreateTransactionError(err, parentCheckIndex, entityPutIndex); err != nil {
		return 0, err
	}
	return 1, nil
}

// parentCheck requires base to exist, not be expired and not be soft-deleted.
func parentCheck(base *document.Document, now time.Time) *types.ConditionCheck {
	del := base.Schema.DeletedAtField()
	names := map[string]string{"#ttl": attrTTL}
	values := map[string]types.AttributeValue{":now": unixValue(now)}
	if del != "" {
		names["#del"] = del
		values[":null"] = &types.AttributeValueMemberS{Value: "NULL"}
	}
	return &types.ConditionCheck{
		TableName:                 aws.String(base.Schema.Table),
		Key:                       Key(base.ID),
		ConditionExpression:       aws.String(ParentExistsCondition(del)),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
}

// update writes the fields and embedded children of a persisted document.
func (s *Store) update(ctx context.Context, doc *document.Document) (int64, error) {
	fields, err := encodeFields(doc)
	if err != nil {
		return 0, err
	}

	u := newUpdateExpr()
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		u.Set(u.path(name), fields[name])
	}
	for _, em := range embeddedRelations(doc) {
		for pos, child := range em.Unscoped() {
			av, err := encodeChild(child, pos)
			if err != nil {
				return 0, err
			}
			u.Set(u.path(em.Name(), child.ID), av)
		}
	}
	for _, pull := range doc.AtomicPulls() {
		u.Remove(u.path(pull.Relation, pull.ID))
	}

	u.Name("#version", attrVersion)
	u.Name("#updated_at", attrUpdatedAt)
	u.Name("#ttl", attrTTL)
	u.Value(":updated_at", &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)})
	u.Value(":one", &types.AttributeValueMemberN{Value: "1"})
	u.Value(":expected_version", &types.AttributeValueMemberN{Value: strconv.FormatInt(doc.Version(), 10)})
	u.SetClause("#updated_at = :updated_at")
	u.SetClause("#version = #version + :one")

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(doc.Schema.Table),
		Key:                       Key(doc.ID),
		UpdateExpression:          aws.String(u.String()),
		ConditionExpression:       aws.String("#version = :expected_version AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, ErrConcurrentModification
		}
		return 0, err
	}
	return doc.Version() + 1, nil
}

// DeleteSuppressed implements document.Persister. Embedded documents are
// removed from their root item; capable ones are soft-deleted in place.
func (s *Store) DeleteSuppressed(ctx context.Context, doc *document.Document) error {
	if !doc.Embedded() {
		return s.Destroy(ctx, doc)
	}
	return s.removeEmbedded(ctx, doc)
}

// DestroySuppressed implements document.Persister. The store runs no
// document callbacks, so it writes the same change as DeleteSuppressed.
func (s *Store) DestroySuppressed(ctx context.Context, doc *document.Document) error {
	return s.DeleteSuppressed(ctx, doc)
}

// RegisterAtomicPull implements document.Persister. The removal is written
// by the next Save of base's root.
func (s *Store) RegisterAtomicPull(base, doc *document.Document) error {
	base.AddAtomicPull(document.AtomicPull{Relation: doc.RelationName(), ID: doc.ID})
	doc.MarkDestroyed()
	s.logger.Debug("registered atomic pull",
		"base", base.EntityRef(),
		"relation", doc.RelationName(),
		"child", doc.ID,
	)
	return nil
}

// removeEmbedded writes the removal of an embedded document into its root
// item. Nothing is written while the root is a new record; the document is
// only marked.
func (s *Store) removeEmbedded(ctx context.Context, doc *document.Document) error {
	root, path, err := embeddedPath(doc)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if root.NewRecord() {
		markRemoved(doc, now)
		return nil
	}

	u := newUpdateExpr()
	target := u.path(path...)
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(root.Schema.Table),
		Key:       Key(root.ID),
	}
	if del := doc.Schema.DeletedAtField(); del != "" {
		at, err := attributevalue.Marshal(now)
		if err != nil {
			return err
		}
		u.Set(u.path(slices.Concat(path, []string{del})...), at)
		input.ConditionExpression = aws.String("attribute_exists(" + target + ")")
	} else {
		u.Remove(target)
	}
	input.UpdateExpression = aws.String(u.String())
	input.ExpressionAttributeNames = u.names
	if len(u.values) > 0 {
		input.ExpressionAttributeValues = u.values
	}

	_, err = s.client.UpdateItem(ctx, input)
	var condErr *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &condErr) {
		return err
	}
	markRemoved(doc, now)

	s.logger.Debug("removed embedded document",
		"root", root.EntityRef(),
		"child", doc.EntityRef(),
		"soft", document.IsCapable(doc.Schema),
	)
	return nil
}

// embeddedPath walks the base chain of doc up to its root and returns the
// attribute path of doc inside the root item.
func embeddedPath(doc *document.Document) (*document.Document, []string, error) {
	var rev []string
	cur := doc
	for cur.Embedded() {
		base := cur.Base()
		if base == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnbound, cur.EntityRef())
		}
		rev = append(rev, cur.ID, cur.RelationName())
		cur = base
	}
	slices.Reverse(rev)
	return cur, rev, nil
}

func markRemoved(doc *document.Document, at time.Time) {
	doc.MarkDeleted(at)
	doc.MarkDestroyed()
}

// DestroyOptions configures destroy behavior.
type DestroyOptions struct {
	// OrphanProtect fails the destroy if active children exist.
	OrphanProtect bool
}

// Destroy implements document.Persister.
func (s *Store) Destroy(ctx context.Context, doc *document.Document) error {
	return s.DestroyWithOptions(ctx, doc, DestroyOptions{})
}

// DestroyWithOptions removes a document. Capable root and referenced
// documents are soft-deleted; others get an expired TTL. The document's
// relationship record follows. Cascading to children happens in the stream
// handler.
func (s *Store) DestroyWithOptions(ctx context.Context, doc *document.Document, opts DestroyOptions) error {
	if doc.Embedded() {
		return s.removeEmbedded(ctx, doc)
	}
	now := s.now().UTC()
	if doc.NewRecord() {
		markRemoved(doc, now)
		return nil
	}

	if opts.OrphanProtect && (s.registry == nil || s.registry.HasChildren(doc.Schema.Name)) {
		hasChildren, err := s.HasActiveChildren(ctx, doc.EntityRef())
		if err != nil {
			return err
		}
		if hasChildren {
			return ErrHasChildren
		}
	}

	del := doc.Schema.DeletedAtField()
	var err error
	if del != "" {
		err = s.SoftDeleteByKey(ctx, doc.Schema.Table, Key(doc.ID), del, now)
	} else {
		err = s.SetTTLByKey(ctx, doc.Schema.Table, Key(doc.ID), now.Unix())
	}
	if err != nil {
		return err
	}

	if parentRef := s.parentRefOf(doc); parentRef != "" {
		if del != "" {
			err = s.SoftDeleteRelationship(ctx, doc.EntityRef(), parentRef, now)
		} else {
			err = s.SetRelationshipTTL(ctx, doc.EntityRef(), parentRef, now.Unix())
		}
		if err != nil {
			return fmt.Errorf("relationship of %s: %w", doc.EntityRef(), err)
		}
	}

	markRemoved(doc, now)
	doc.SetVersion(doc.Version() + 1)
	return nil
}

// Restore clears the soft delete of a root or referenced document and of
// its relationship record.
func (s *Store) Restore(ctx context.Context, doc *document.Document) error {
	if doc.Embedded() {
		return fmt.Errorf("restore %s: %w", doc.EntityRef(), ErrEmbedded)
	}
	if !document.IsCapable(doc.Schema) {
		return fmt.Errorf("restore %s: %w", doc.EntityRef(), ErrNotCapable)
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(doc.Schema.Table),
		Key:                 Key(doc.ID),
		UpdateExpression:    aws.String("REMOVE #del SET #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(#del) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#del":     doc.Schema.DeletedAtField(),
			"#version": attrVersion,
			"#ttl":     attrTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return err
	}

	if parentRef := s.parentRefOf(doc); parentRef != "" {
		if err := s.restoreRelationship(ctx, doc.EntityRef(), parentRef); err != nil {
			return fmt.Errorf("relationship of %s: %w", doc.EntityRef(), err)
		}
	}

	doc.ClearDeleted()
	doc.SetVersion(doc.Version() + 1)
	return nil
}

// parentRefOf returns the entity reference of doc's parent: the current or
// last bound base, otherwise the registered parent key attribute.
func (s *Store) parentRefOf(doc *document.Document) string {
	if ref := doc.ParentRef(); ref != "" {
		return ref
	}
	if s.registry == nil {
		return ""
	}
	rel, ok := s.registry.ParentOf(doc.Schema.Name)
	if !ok || rel.ParentKeyAttr == "" {
		return ""
	}
	id, _ := doc.Get(rel.ParentKeyAttr).(string)
	if id == "" {
		return ""
	}
	return rel.ParentType + "#" + id
}

// mapCreateTransactionError maps DynamoDB transaction errors for create.
// parentCheckIndex is the index of the parent check item (-1 if none).
// entityPutIndex is the index of the document put item.
func mapCreateTransactionError(err error, parentCheckIndex, entityPutIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			switch i {
			case parentCheckIndex:
				return ErrParentNotFound
			case entityPutIndex:
				return ErrAlreadyExists
			}
		}
	}

	return err
}
