package stream_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/paranoia/store"
	"github.com/jacentio/paranoia/stream"
)

// fakeClient serves relationship queries keyed by the ":pk" value and
// records updates.
type fakeClient struct {
	mu         sync.Mutex
	queryItems map[string][]map[string]types.AttributeValue
	updates    []*dynamodb.UpdateItemInput
	queryErr   error
	updateErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{queryItems: make(map[string][]map[string]types.AttributeValue)}
}

func (f *fakeClient) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeClient) TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	return &dynamodb.QueryOutput{Items: f.queryItems[pk]}, nil
}

func (f *fakeClient) Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return &dynamodb.ScanOutput{}, nil
}

func childRecord(childType, id, table string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"child_ref":   &types.AttributeValueMemberS{Value: childType + "#" + id},
		"child_type":  &types.AttributeValueMemberS{Value: childType},
		"child_table": &types.AttributeValueMemberS{Value: table},
		"child_key":   &types.AttributeValueMemberM{Value: store.Key(id)},
	}
}

func modify(oldImage, newImage map[string]events.DynamoDBAttributeValue) events.DynamoDBEvent {
	return events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
		EventID:   "1",
		EventName: "MODIFY",
		Change: events.DynamoDBStreamRecord{
			OldImage: oldImage,
			NewImage: newImage,
		},
	}}}
}

func newHandler(fc *fakeClient, registry *store.Registry) *stream.Handler {
	s := store.NewWithRegistry(fc, store.DefaultConfig(), registry)
	return stream.NewHandler(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func strValue(av types.AttributeValue) string {
	if v, ok := av.(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numValue(av types.AttributeValue) string {
	if v, ok := av.(*types.AttributeValueMemberN); ok {
		return v.Value
	}
	return ""
}

func TestNewHandler(t *testing.T) {
	// Test with nil store and logger (should not panic)
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

func TestHandleCascadeDelete_EmptyEvent(t *testing.T) {
	h := stream.NewHandler(nil, nil)
	if err := h.HandleCascadeDelete(context.Background(), events.DynamoDBEvent{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

// --- TTL cascade ---

func TestHandleCascadeDelete_TTL(t *testing.T) {
	fc := newFakeClient()
	fc.queryItems["person#p1#00"] = []map[string]types.AttributeValue{childRecord("project", "c1", "projects")}
	h := newHandler(fc, nil)

	event := modify(
		map[string]events.DynamoDBAttributeValue{
			"entity_ref": events.NewStringAttribute("person#p1"),
		},
		map[string]events.DynamoDBAttributeValue{
			"entity_ref": events.NewStringAttribute("person#p1"),
			"parent_ref": events.NewStringAttribute("org#o1"),
			"ttl":        events.NewNumberAttribute("1700000000"),
		},
	)
	if err := h.HandleCascadeDelete(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.updates) != 2 {
		t.Fatalf("expected child and relationship updates, got %d", len(fc.updates))
	}
	child := fc.updates[0]
	if *child.TableName != "projects" || strValue(child.Key["id"]) != "c1" {
		t.Errorf("expected update of projects/c1, got %s %v", *child.TableName, child.Key)
	}
	if got := numValue(child.ExpressionAttributeValues[":ttl"]); got != "1700000000" {
		t.Errorf("expected the parent's TTL, got %q", got)
	}

	rel := fc.updates[1]
	if *rel.TableName != "paranoia_relationships" || *rel.UpdateExpression != "SET #ttl = :ttl" {
		t.Errorf("unexpected relationship update %s %q", *rel.TableName, *rel.UpdateExpression)
	}
	if got := strValue(rel.Key["pk"]); got != "org#o1#00" {
		t.Errorf("expected pk 'org#o1#00', got %q", got)
	}
}

func TestHandleCascadeDelete_SkipsExistingTTL(t *testing.T) {
	fc := newFakeClient()
	h := newHandler(fc, nil)

	event := modify(
		map[string]events.DynamoDBAttributeValue{
			"entity_ref": events.NewStringAttribute("person#p1"),
			"ttl":        events.NewNumberAttribute("1600000000"),
		},
		map[string]events.DynamoDBAttributeValue{
			"entity_ref": events.NewStringAttribute("person#p1"),
			"ttl":        events.NewNumberAttribute("1700000000"),
		},
	)
	if err := h.HandleCascadeDelete(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.updates) != 0 {
		t.Errorf("expected no updates, got %d", len(fc.updates))
	}
}

// --- Soft-delete cascade ---

func cascadeRegistry(projectField string) *store.Registry {
	r := store.NewRegistry()
	r.Register(store.Relationship{
		ParentType:     "person",
		ChildType:      "project",
		ChildTableName: "projects",
		ParentKeyAttr:  "person_id",
		ChildDeletedAt: projectField,
	})
	r.Register(store.Relationship{
		ParentType:     "person",
		ChildType:      "note",
		ChildTableName: "notes",
		ParentKeyAttr:  "person_id",
	})
	return r
}

func TestHandleCascadeDelete_SoftDelete(t *testing.T) {
	fc := newFakeClient()
	fc.queryItems["person#p1#00"] = []map[string]types.AttributeValue{
		childRecord("project", "c1", "projects"),
		childRecord("note", "n1", "notes"),
	}
	h := newHandler(fc, cascadeRegistry("deleted_at"))

	event := modify(
		map[string]events.DynamoDBAttributeValue{
			"entity_ref": events.NewStringAttribute("person#p1"),
		},
		map[string]events.DynamoDBAttributeValue{
			"entity_ref": events.NewStringAttribute("person#p1"),
			"deleted_at": events.NewStringAttribute("2024-06-01T12:00:00Z"),
		},
	)
	if err := h.HandleCascadeDelete(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.updates) != 2 {
		t.Fatalf("expected one update per child, got %d", len(fc.updates))
	}

	project := fc.updates[0]
	if *project.UpdateExpression != "SET #del = :at, #version = #version + :one" {
		t.Errorf("expected soft delete of project, got %q", *project.UpdateExpression)
	}
	if got := strValue(project.ExpressionAttributeValues[":at"]); got != "2024-06-01T12:00:00Z" {
		t.Errorf("expected the parent's deletion time, got %q", got)
	}

	note := fc.updates[1]
	if *note.TableName != "notes" || *note.UpdateExpression != "SET #ttl = :ttl, #version = #version + :one" {
		t.Errorf("expected TTL on note, got %s %q", *note.TableName, *note.UpdateExpression)
	}
	if got := numValue(note.ExpressionAttributeValues[":ttl"]); got != "1717243200" {
		t.Errorf("expected TTL at the deletion time, got %q", got)
	}
}

func TestHandleCascadeDelete_SoftDeleteCustomField(t *testing.T) {
	fc := newFakeClient()
	h := newHandler(fc, cascadeRegistry("archived_at"))

	event := modify(
		map[string]events.DynamoDBAttributeValue{
			"entity_ref": events.NewStringAttribute("project#c1"),
			"parent_ref": events.NewStringAttribute("person#p1"),
		},
		map[string]events.DynamoDBAttributeValue{
			"entity_ref":  events.NewStringAttribute("project#c1"),
			"parent_ref":  events.NewStringAttribute("person#p1"),
			"archived_at": events.NewStringAttribute("2024-06-01T12:00:00Z"),
		},
	)
	if err := h.HandleCascadeDelete(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.updates) != 1 {
		t.Fatalf("expected the relationship update, got %d", len(fc.updates))
	}
	rel := fc.updates[0]
	if *rel.TableName != "paranoia_relationships" || *rel.UpdateExpression != "SET #del = :at" {
		t.Errorf("unexpected relationship update %s %q", *rel.TableName, *rel.UpdateExpression)
	}
	if got := strValue(rel.Key["child_ref"]); got != "project#c1" {
		t.Errorf("expected child_ref 'project#c1', got %q", got)
	}
}

func TestHandleCascadeDelete_SoftDeleteRootCustomField(t *testing.T) {
	fc := newFakeClient()
	fc.queryItems["person#p1#00"] = []map[string]types.AttributeValue{
		childRecord("project", "c1", "projects"),
	}
	registry := cascadeRegistry("deleted_at")
	registry.RegisterDeletedAt("person", "archived_at")
	h := newHandler(fc, registry)

	event := modify(
		map[string]events.DynamoDBAttributeValue{
			"entity_ref": events.NewStringAttribute("person#p1"),
		},
		map[string]events.DynamoDBAttributeValue{
			"entity_ref":  events.NewStringAttribute("person#p1"),
			"archived_at": events.NewStringAttribute("2024-06-01T12:00:00Z"),
		},
	)
	if err := h.HandleCascadeDelete(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.updates) != 1 {
		t.Fatalf("expected the project soft delete, got %d updates", len(fc.updates))
	}
	project := fc.updates[0]
	if *project.TableName != "projects" || project.ExpressionAttributeNames["#del"] != "deleted_at" {
		t.Errorf("unexpected child update %s %v", *project.TableName, project.ExpressionAttributeNames)
	}
	if got := strValue(project.ExpressionAttributeValues[":at"]); got != "2024-06-01T12:00:00Z" {
		t.Errorf("expected the parent's deletion time, got %q", got)
	}
}

func TestHandleCascadeDelete_SkipsAlreadyDeleted(t *testing.T) {
	fc := newFakeClient()
	h := newHandler(fc, cascadeRegistry("deleted_at"))

	deleted := map[string]events.DynamoDBAttributeValue{
		"entity_ref": events.NewStringAttribute("person#p1"),
		"deleted_at": events.NewStringAttribute("2024-06-01T12:00:00Z"),
	}
	if err := h.HandleCascadeDelete(context.Background(), modify(deleted, deleted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.updates) != 0 {
		t.Errorf("expected no updates, got %d", len(fc.updates))
	}
}

// --- Failures ---

func TestHandleCascadeDelete_QueryError(t *testing.T) {
	fc := newFakeClient()
	fc.queryErr = errors.New("throttled")
	h := newHandler(fc, nil)

	event := modify(nil, map[string]events.DynamoDBAttributeValue{
		"entity_ref": events.NewStringAttribute("person#p1"),
		"ttl":        events.NewNumberAttribute("1700000000"),
	})
	if err := h.HandleCascadeDelete(context.Background(), event); err == nil {
		t.Error("expected the record to fail")
	}
}

func TestHandleCascadeDelete_ChildFailuresAreBestEffort(t *testing.T) {
	fc := newFakeClient()
	fc.updateErr = errors.New("throttled")
	fc.queryItems["person#p1#00"] = []map[string]types.AttributeValue{
		childRecord("project", "c1", "projects"),
		childRecord("project", "c2", "projects"),
	}
	h := newHandler(fc, nil)

	event := modify(nil, map[string]events.DynamoDBAttributeValue{
		"entity_ref": events.NewStringAttribute("person#p1"),
		"ttl":        events.NewNumberAttribute("1700000000"),
	})
	if err := h.HandleCascadeDelete(context.Background(), event); err != nil {
		t.Fatalf("expected child failures to be logged, got %v", err)
	}
	if len(fc.updates) != 2 {
		t.Errorf("expected every child to be attempted, got %d", len(fc.updates))
	}
}

// --- ConvertStreamKey ---

func TestConvertStreamKey(t *testing.T) {
	streamKey := map[string]events.DynamoDBAttributeValue{
		"id":      events.NewStringAttribute("test-id"),
		"version": events.NewNumberAttribute("42"),
		"data":    events.NewBinaryAttribute([]byte{0x01, 0x02}),
		"flag":    events.NewBooleanAttribute(true),
	}

	pk := stream.ConvertStreamKey(streamKey)
	if len(pk) != 3 {
		t.Errorf("expected 3 keys, unsupported types skipped, got %d", len(pk))
	}
	if v, ok := pk["id"].(*types.AttributeValueMemberS); !ok || v.Value != "test-id" {
		t.Error("expected string id")
	}
	if v, ok := pk["version"].(*types.AttributeValueMemberN); !ok || v.Value != "42" {
		t.Error("expected number version")
	}
	if v, ok := pk["data"].(*types.AttributeValueMemberB); !ok || len(v.Value) != 2 {
		t.Error("expected binary data")
	}
}

func TestConvertStreamKey_Nil(t *testing.T) {
	pk := stream.ConvertStreamKey(nil)
	if pk == nil || len(pk) != 0 {
		t.Errorf("expected empty non-nil PK, got %v", pk)
	}
}

// Ensure store.PK is compatible
var _ store.PK = stream.ConvertStreamKey(nil)
