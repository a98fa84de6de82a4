package document

import (
	"context"
	"fmt"
)

// ReferencedMany is a collection of documents stored in their own table and
// linked to the base through a parent key.
type ReferencedMany struct {
	base   *Document
	assoc  Association
	target []*Document
}

func newReferencedMany(base *Document, assoc Association) *ReferencedMany {
	return &ReferencedMany{base: base, assoc: assoc}
}

// Name returns the relation name.
func (r *ReferencedMany) Name() string { return r.assoc.Name }

// Base returns the owning document.
func (r *ReferencedMany) Base() *Document { return r.base }

// Embedded is always false.
func (r *ReferencedMany) Embedded() bool { return false }

// Target returns the loaded members.
func (r *ReferencedMany) Target() []*Document {
	out := make([]*Document, len(r.target))
	copy(out, r.target)
	return out
}

// Find returns the member with id, or nil.
func (r *ReferencedMany) Find(id string) *Document {
	for _, d := range r.target {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Push appends documents and points their parent key at the base.
func (r *ReferencedMany) Push(docs ...*Document) error {
	for _, doc := range docs {
		if doc.Schema != r.assoc.Child {
			return fmt.Errorf("%w: %s into %s", ErrSchemaMismatch, doc.Schema.Name, r.assoc.Name)
		}
		if doc.base != nil && (doc.base != r.base || doc.relation != r.assoc.Name) {
			return fmt.Errorf("%w: %s", ErrAlreadyBound, doc.EntityRef())
		}
		if contains(r.target, doc) {
			continue
		}
		doc.bind(r.base, r.assoc.Name)
		if key := doc.Schema.ParentKey; key != "" {
			doc.attributes[key] = r.base.ID
		}
		r.target = append(r.target, doc)
	}
	return nil
}

// Load materializes stored members. Soft-deleted documents are skipped.
func (r *ReferencedMany) Load(docs []*Document) error {
	visible := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		if !IsDeleted(doc) {
			visible = append(visible, doc)
		}
	}
	return r.Push(visible...)
}

// Delete removes doc from the loaded members and unbinds it. Storage is not
// touched; destroying the document is the caller's decision.
func (r *ReferencedMany) Delete(ctx context.Context, document *Document) (*Document, error) {
	if err := executeCallback(ctx, r.assoc.Callbacks, BeforeRemove, document); err != nil {
		return nil, err
	}

	var doc *Document
	r.target, doc = deleteOne(r.target, document)
	if doc != nil {
		doc.unbind()
	}

	if err := executeCallback(ctx, r.assoc.Callbacks, AfterRemove, document); err != nil {
		return doc, err
	}
	return doc, nil
}
