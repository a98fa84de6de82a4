package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/paranoia/document"
	"github.com/jacentio/paranoia/store"
)

// --- Fake DynamoDB Client ---

// fakeClient records every request. Items are served from items (GetItem),
// queryItems keyed by the ":pk" value or table name (Query), and scanItems
// keyed by table name (Scan). Results are returned in a single page.
type fakeClient struct {
	mu sync.Mutex

	items      map[string]map[string]map[string]types.AttributeValue
	queryItems map[string][]map[string]types.AttributeValue
	scanItems  map[string][]map[string]types.AttributeValue

	gets    []*dynamodb.GetItemInput
	updates []*dynamodb.UpdateItemInput
	txs     []*dynamodb.TransactWriteItemsInput
	queries []*dynamodb.QueryInput
	scans   []*dynamodb.ScanInput

	updateErr error
	txErr     error
	queryErr  error
	scanErr   error
}

var _ store.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		items:      make(map[string]map[string]map[string]types.AttributeValue),
		queryItems: make(map[string][]map[string]types.AttributeValue),
		scanItems:  make(map[string][]map[string]types.AttributeValue),
	}
}

func (f *fakeClient) put(table string, item map[string]types.AttributeValue) {
	if f.items[table] == nil {
		f.items[table] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[table][item["id"].(*types.AttributeValueMemberS).Value] = item
}

func (f *fakeClient) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets, f.updates, f.txs, f.queries, f.scans = nil, nil, nil, nil, nil
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, in)
	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[*in.TableName][id]}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeClient) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, in)
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	key := *in.TableName
	if pk, ok := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS); ok {
		key = pk.Value
	}
	return &dynamodb.QueryOutput{Items: f.queryItems[key]}, nil
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, in)
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return &dynamodb.ScanOutput{Items: f.scanItems[*in.TableName]}, nil
}

// --- Test Schemas ---

type schemas struct {
	person  *document.Schema
	address *document.Schema
	project *document.Schema
}

// newSchemas builds person -> addresses (embedded) and person -> projects
// (referenced). paranoid applies to every type.
func newSchemas(paranoid bool) schemas {
	var p *document.Paranoia
	if paranoid {
		p = &document.Paranoia{}
	}
	address := &document.Schema{
		Name:     "address",
		Embedded: true,
		Fields:   []string{"street"},
		Paranoia: p,
	}
	project := &document.Schema{
		Name:      "project",
		Table:     "projects",
		Fields:    []string{"title", "person_id"},
		ParentKey: "person_id",
		Paranoia:  p,
	}
	person := &document.Schema{
		Name:     "person",
		Table:    "people",
		Fields:   []string{"name"},
		Paranoia: p,
		Relations: []document.Association{
			{Name: "addresses", Child: address},
			{Name: "projects", Child: project},
		},
	}
	return schemas{person: person, address: address, project: project}
}

// savedPerson creates a person with one address per street and clears the
// recorded requests.
func savedPerson(t *testing.T, s *store.Store, fc *fakeClient, sc schemas, streets ...string) *document.Document {
	t.Helper()
	person := s.Build(sc.person, map[string]any{"name": "Ada"})
	for _, street := range streets {
		if err := person.Embeds("addresses").Push(document.New(sc.address, map[string]any{"street": street})); err != nil {
			t.Fatalf("push %s: %v", street, err)
		}
	}
	if err := s.Save(context.Background(), person); err != nil {
		t.Fatalf("save person: %v", err)
	}
	fc.reset()
	return person
}

func findStreet(rel *document.EmbeddedMany, street string) *document.Document {
	for _, d := range rel.Unscoped() {
		if d.Get("street") == street {
			return d
		}
	}
	return nil
}

func strAttr(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numAttr(av types.AttributeValue) string {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		return n.Value
	}
	return ""
}
