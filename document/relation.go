package document

import "context"

// Relation is a child collection owned by a document.
type Relation interface {
	// Name returns the declared relation name.
	Name() string

	// Base returns the owning document.
	Base() *Document

	// Embedded reports whether children are stored inside the base document.
	Embedded() bool

	// Target returns the visible children in order.
	Target() []*Document

	// Find returns the visible child with id, or nil.
	Find(id string) *Document

	// Push appends children and binds them to the base.
	Push(docs ...*Document) error

	// Delete removes doc by identity. It returns the removed document, or nil
	// when doc was not a member.
	Delete(ctx context.Context, doc *Document) (*Document, error)
}

// Persister is the storage collaborator consumed by relations and the
// nested destroy scheduler.
type Persister interface {
	// DeleteSuppressed removes an embedded document without firing callbacks.
	// Soft-delete capable documents are soft-deleted.
	DeleteSuppressed(ctx context.Context, doc *Document) error

	// DestroySuppressed destroys an embedded document without firing callbacks.
	// Soft-delete capable documents are soft-deleted.
	DestroySuppressed(ctx context.Context, doc *Document) error

	// RegisterAtomicPull defers the storage removal of doc to base's next save.
	RegisterAtomicPull(base, doc *Document) error

	// Destroy removes a root or referenced document.
	Destroy(ctx context.Context, doc *Document) error
}

// CallbackKind identifies a relation notification.
type CallbackKind int

const (
	BeforeRemove CallbackKind = iota
	AfterRemove
)

func (k CallbackKind) String() string {
	switch k {
	case BeforeRemove:
		return "before_remove"
	case AfterRemove:
		return "after_remove"
	default:
		return "unknown"
	}
}

// Callbacks receives relation notifications. A returned error aborts the
// operation that fired it.
type Callbacks interface {
	Execute(ctx context.Context, kind CallbackKind, doc *Document) error
}

// CallbackFunc adapts a function to Callbacks.
type CallbackFunc func(ctx context.Context, kind CallbackKind, doc *Document) error

// Execute calls f.
func (f CallbackFunc) Execute(ctx context.Context, kind CallbackKind, doc *Document) error {
	return f(ctx, kind, doc)
}

func executeCallback(ctx context.Context, cb Callbacks, kind CallbackKind, doc *Document) error {
	if cb == nil {
		return nil
	}
	return cb.Execute(ctx, kind, doc)
}

// deleteOne removes the first element identical to doc.
func deleteOne(docs []*Document, doc *Document) ([]*Document, *Document) {
	for i, d := range docs {
		if d == doc {
			return append(docs[:i], docs[i+1:]...), d
		}
	}
	return docs, nil
}

func contains(docs []*Document, doc *Document) bool {
	for _, d := range docs {
		if d == doc {
			return true
		}
	}
	return false
}
