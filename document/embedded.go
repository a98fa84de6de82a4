package document

import (
	"context"
	"fmt"
)

// EmbeddedMany is an array-backed collection of documents stored inside the
// base document.
//
// target holds the members visible under default scoping. unscoped holds every
// member materialized in this session, soft-deleted ones included, and always
// contains target as a subsequence.
type EmbeddedMany struct {
	base  *Document
	assoc Association

	target   []*Document
	unscoped []*Document

	binding   bool
	assigning bool
}

func newEmbeddedMany(base *Document, assoc Association) *EmbeddedMany {
	return &EmbeddedMany{base: base, assoc: assoc}
}

// Name returns the relation name.
func (r *EmbeddedMany) Name() string { return r.assoc.Name }

// Base returns the owning document.
func (r *EmbeddedMany) Base() *Document { return r.base }

// Embedded is always true.
func (r *EmbeddedMany) Embedded() bool { return true }

// Target returns the visible members in index order.
func (r *EmbeddedMany) Target() []*Document {
	out := make([]*Document, len(r.target))
	copy(out, r.target)
	return out
}

// Unscoped returns every member, soft-deleted ones included.
func (r *EmbeddedMany) Unscoped() []*Document {
	out := make([]*Document, len(r.unscoped))
	copy(out, r.unscoped)
	return out
}

// Len returns the number of visible members.
func (r *EmbeddedMany) Len() int { return len(r.target) }

// Find returns the visible member with id, or nil.
func (r *EmbeddedMany) Find(id string) *Document {
	for _, d := range r.target {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Binding reports whether the relation is being materialized by a binder.
func (r *EmbeddedMany) Binding() bool { return r.binding }

// Assigning reports whether the relation is being bulk-replaced.
func (r *EmbeddedMany) Assigning() bool { return r.assigning }

// WithBinding runs fn while the relation is marked as binding. Deletes made
// inside fn only touch the visible target and never reach storage.
func (r *EmbeddedMany) WithBinding(fn func() error) error {
	prev := r.binding
	r.binding = true
	defer func() { r.binding = prev }()
	return fn()
}

// Push appends documents. Soft-deleted documents join the unscoped set only.
func (r *EmbeddedMany) Push(docs ...*Document) error {
	for _, doc := range docs {
		if doc.Schema != r.assoc.Child {
			return fmt.Errorf("%w: %s into %s", ErrSchemaMismatch, doc.Schema.Name, r.assoc.Name)
		}
		if doc.base != nil && (doc.base != r.base || doc.relation != r.assoc.Name) {
			return fmt.Errorf("%w: %s", ErrAlreadyBound, doc.EntityRef())
		}
		if contains(r.unscoped, doc) {
			continue
		}
		doc.bind(r.base, r.assoc.Name)
		r.unscoped = append(r.unscoped, doc)
		if !IsDeleted(doc) {
			r.target = append(r.target, doc)
		}
	}
	r.reindex()
	return r.CheckConsistency()
}

// Load materializes stored members in order without touching storage.
func (r *EmbeddedMany) Load(docs []*Document) error {
	return r.WithBinding(func() error {
		return r.Push(docs...)
	})
}

// Delete removes document from the relation.
//
// before_remove fires first and after_remove last, whether or not document
// was a member; indices are rebuilt in between. Membership is by identity.
// When the relation is not binding, the unscoped set and storage are
// reconciled: soft-delete capable documents stay in the unscoped set, and
// while assigning, capable documents are destroyed and others are pulled with
// the base document's next save.
func (r *EmbeddedMany) Delete(ctx context.Context, document *Document) (*Document, error) {
	if err := executeCallback(ctx, r.assoc.Callbacks, BeforeRemove, document); err != nil {
		return nil, err
	}

	var p Persister
	if !r.binding && contains(r.target, document) {
		if p = r.base.Persister(); p == nil {
			return nil, ErrDetached
		}
	}

	var doc *Document
	r.target, doc = deleteOne(r.target, document)

	var err error
	if doc != nil && !r.binding {
		err = r.reconcile(ctx, p, doc)
	}

	r.reindex()
	if err != nil {
		return doc, err
	}
	if err := r.CheckConsistency(); err != nil {
		return doc, err
	}

	if err := executeCallback(ctx, r.assoc.Callbacks, AfterRemove, document); err != nil {
		return doc, err
	}
	return doc, nil
}

func (r *EmbeddedMany) reconcile(ctx context.Context, p Persister, doc *Document) error {
	paranoid := IsCapable(doc.Schema)
	if !paranoid {
		r.unscoped, _ = deleteOne(r.unscoped, doc)
	}

	if r.assigning {
		if paranoid {
			return p.DestroySuppressed(ctx, doc)
		}
		return p.RegisterAtomicPull(r.base, doc)
	}

	if err := p.DeleteSuppressed(ctx, doc); err != nil {
		return err
	}
	doc.unbind()
	return nil
}

// Replace bulk-assigns the visible members. Members missing from docs are
// deleted in assigning mode; new documents are appended. The result is
// ordered as docs.
func (r *EmbeddedMany) Replace(ctx context.Context, docs []*Document) error {
	r.assigning = true
	defer func() { r.assigning = false }()

	for _, existing := range r.Target() {
		if contains(docs, existing) {
			continue
		}
		if _, err := r.Delete(ctx, existing); err != nil {
			return err
		}
	}

	for _, doc := range docs {
		if doc.Schema != r.assoc.Child {
			return fmt.Errorf("%w: %s into %s", ErrSchemaMismatch, doc.Schema.Name, r.assoc.Name)
		}
		if doc.base != nil && doc.base != r.base {
			return fmt.Errorf("%w: %s", ErrAlreadyBound, doc.EntityRef())
		}
	}

	// Hidden members keep their relative order ahead of the new visible set.
	unscoped := make([]*Document, 0, len(r.unscoped)+len(docs))
	for _, d := range r.unscoped {
		if !contains(r.target, d) && !contains(docs, d) {
			unscoped = append(unscoped, d)
		}
	}
	target := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		doc.bind(r.base, r.assoc.Name)
		unscoped = append(unscoped, doc)
		if !IsDeleted(doc) {
			target = append(target, doc)
		}
	}
	r.unscoped = unscoped
	r.target = target

	r.reindex()
	return r.CheckConsistency()
}

func (r *EmbeddedMany) reindex() {
	for i, d := range r.target {
		d.index = i
	}
}

// CheckConsistency verifies that the visible target is a subsequence of the
// unscoped set, holds no soft-deleted members, and that every visible index
// matches its position.
func (r *EmbeddedMany) CheckConsistency() error {
	j := 0
	for i, d := range r.target {
		if d.index != i {
			return fmt.Errorf("%w: %s has index %d at position %d", ErrInconsistent, d.EntityRef(), d.index, i)
		}
		if IsDeleted(d) {
			return fmt.Errorf("%w: soft-deleted %s is visible", ErrInconsistent, d.EntityRef())
		}
		for j < len(r.unscoped) && r.unscoped[j] != d {
			j++
		}
		if j == len(r.unscoped) {
			return fmt.Errorf("%w: %s missing from unscoped set", ErrInconsistent, d.EntityRef())
		}
		j++
	}
	return nil
}
