package store

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/paranoia/document"
)

// Item layout
//
// A root or referenced document is one item keyed by "id". Its fields are
// top-level attributes. Each embedded relation is a map attribute keyed by
// child id; a child holds its own fields, its nested relations, and "_index",
// its position in the relation's unscoped order:
//
//	{
//	  "id": "p1", "name": "Ada", "version": 3,
//	  "addresses": {
//	    "a1": {"id": "a1", "street": "Main", "_index": 0},
//	    "a2": {"id": "a2", "street": "Elm", "_index": 1, "deleted_at": "2024-06-01T12:00:00Z"}
//	  }
//	}
//
// Soft-deleted children stay in the map so an unscoped load can see them.

// encodeDocument marshals doc's fields and embedded relations.
// Managed attributes are not included.
func encodeDocument(doc *document.Document) (map[string]types.AttributeValue, error) {
	item, err := encodeFields(doc)
	if err != nil {
		return nil, err
	}
	item[attrID] = &types.AttributeValueMemberS{Value: doc.ID}

	for _, em := range embeddedRelations(doc) {
		children := make(map[string]types.AttributeValue, len(em.Unscoped()))
		for pos, child := range em.Unscoped() {
			av, err := encodeChild(child, pos)
			if err != nil {
				return nil, err
			}
			children[child.ID] = av
		}
		item[em.Name()] = &types.AttributeValueMemberM{Value: children}
	}
	return item, nil
}

// encodeFields marshals the plain attributes of doc, skipping "id",
// managed attributes and relation names.
func encodeFields(doc *document.Document) (map[string]types.AttributeValue, error) {
	fields := make(map[string]any)
	for name, v := range doc.Attributes() {
		if isManaged(name) {
			continue
		}
		if _, ok := doc.Schema.Association(name); ok {
			continue
		}
		fields[name] = v
	}
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", doc.EntityRef(), err)
	}
	return item, nil
}

func encodeChild(child *document.Document, pos int) (types.AttributeValue, error) {
	item, err := encodeDocument(child)
	if err != nil {
		return nil, err
	}
	item[attrIndex] = &types.AttributeValueMemberN{Value: strconv.Itoa(pos)}
	return &types.AttributeValueMemberM{Value: item}, nil
}

func embeddedRelations(doc *document.Document) []*document.EmbeddedMany {
	var out []*document.EmbeddedMany
	for _, rel := range doc.Relations() {
		if em, ok := rel.(*document.EmbeddedMany); ok {
			out = append(out, em)
		}
	}
	return out
}

// decodeDocument builds a persisted document from a stored item, loading
// every embedded relation.
func decodeDocument(schema *document.Schema, raw map[string]types.AttributeValue) (*document.Document, error) {
	id, ok := raw[attrID].(*types.AttributeValueMemberS)
	if !ok || id.Value == "" {
		return nil, fmt.Errorf("%w: %s item without id", ErrDecode, schema.Name)
	}

	attrs := make(map[string]any, len(raw))
	for name, av := range raw {
		if isManaged(name) {
			continue
		}
		if _, ok := schema.Association(name); ok {
			continue
		}
		var v any
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			return nil, fmt.Errorf("%w: %s#%s.%s: %v", ErrDecode, schema.Name, id.Value, name, err)
		}
		attrs[name] = v
	}

	doc := document.Instantiate(schema, id.Value, attrs)
	if v, ok := raw[attrVersion].(*types.AttributeValueMemberN); ok {
		version, _ := strconv.ParseInt(v.Value, 10, 64)
		doc.SetVersion(version)
	}
	if v, ok := raw[attrParentRef].(*types.AttributeValueMemberS); ok {
		doc.SetParentRef(v.Value)
	}

	for _, assoc := range schema.Relations {
		if !assoc.Child.Embedded {
			continue
		}
		m, ok := raw[assoc.Name].(*types.AttributeValueMemberM)
		if !ok {
			continue
		}
		children, err := decodeChildren(assoc.Child, m.Value)
		if err != nil {
			return nil, err
		}
		if err := doc.Embeds(assoc.Name).Load(children); err != nil {
			return nil, fmt.Errorf("load %s.%s: %w", doc.EntityRef(), assoc.Name, err)
		}
	}
	return doc, nil
}

func decodeChildren(schema *document.Schema, raw map[string]types.AttributeValue) ([]*document.Document, error) {
	type positioned struct {
		pos int
		doc *document.Document
	}
	children := make([]positioned, 0, len(raw))
	for key, av := range raw {
		m, ok := av.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("%w: %s child %s is not a map", ErrDecode, schema.Name, key)
		}
		item := m.Value
		if _, ok := item[attrID]; !ok {
			item = mergeExprValues(item, map[string]types.AttributeValue{
				attrID: &types.AttributeValueMemberS{Value: key},
			})
		}
		doc, err := decodeDocument(schema, item)
		if err != nil {
			return nil, err
		}
		pos := len(raw)
		if n, ok := item[attrIndex].(*types.AttributeValueMemberN); ok {
			if p, err := strconv.Atoi(n.Value); err == nil {
				pos = p
			}
		}
		children = append(children, positioned{pos: pos, doc: doc})
	}

	slices.SortFunc(children, func(a, b positioned) int {
		if c := cmp.Compare(a.pos, b.pos); c != 0 {
			return c
		}
		return cmp.Compare(a.doc.ID, b.doc.ID)
	})
	out := make([]*document.Document, len(children))
	for i, c := range children {
		out[i] = c.doc
	}
	return out, nil
}
