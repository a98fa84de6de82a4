package document

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Document is an in-memory aggregate: identity, attributes keyed by storage
// field name, and the relations declared by its schema.
//
// A Document is not safe for concurrent use. Callers serialize mutations per
// root aggregate.
type Document struct {
	ID     string
	Schema *Schema

	attributes map[string]any
	index      int
	version    int64

	newRecord bool
	destroyed bool
	flagged   bool

	// Binding to the relation that holds this document.
	base     *Document
	relation string

	// Parent entity reference, kept after unbind.
	parentRef string

	persister Persister
	relations map[string]Relation
	destroys  DestroyQueue
	pulls     []AtomicPull
}

// AtomicPull is a pending removal of an embedded child, written with the
// base document's next save.
type AtomicPull struct {
	Relation string
	ID       string
}

// New builds a new record. The id is generated unless attrs carries one.
// Unknown attribute names are stored as given.
func New(schema *Schema, attrs map[string]any) *Document {
	d := Instantiate(schema, uuid.New().String(), nil)
	d.newRecord = true
	for k, v := range attrs {
		if k == "id" {
			if id, ok := v.(string); ok && id != "" {
				d.ID = id
			}
			continue
		}
		if stored, err := schema.ResolveField(k); err == nil {
			k = stored
		}
		d.attributes[k] = v
	}
	return d
}

// Instantiate builds a persisted document from storage-level attributes.
func Instantiate(schema *Schema, id string, attrs map[string]any) *Document {
	d := &Document{
		ID:         id,
		Schema:     schema,
		attributes: make(map[string]any, len(attrs)),
		relations:  make(map[string]Relation, len(schema.Relations)),
	}
	maps.Copy(d.attributes, attrs)
	delete(d.attributes, "id")
	for _, assoc := range schema.Relations {
		if assoc.Child.Embedded {
			d.relations[assoc.Name] = newEmbeddedMany(d, assoc)
		} else {
			d.relations[assoc.Name] = newReferencedMany(d, assoc)
		}
	}
	return d
}

// EntityRef returns the type-qualified reference (e.g., "person#uuid").
func (d *Document) EntityRef() string {
	return d.Schema.Name + "#" + d.ID
}

// Get returns the value of a logical or storage field, or nil.
func (d *Document) Get(name string) any {
	stored, err := d.Schema.ResolveField(name)
	if err != nil {
		return d.attributes[name]
	}
	return d.attributes[stored]
}

// Set assigns a field after resolving its storage name.
func (d *Document) Set(name string, value any) error {
	stored, err := d.Schema.ResolveField(name)
	if err != nil {
		return err
	}
	d.attributes[stored] = value
	return nil
}

// Attributes returns a copy of the storage-level attributes, including "id".
func (d *Document) Attributes() map[string]any {
	out := make(map[string]any, len(d.attributes)+1)
	maps.Copy(out, d.attributes)
	out["id"] = d.ID
	return out
}

// Index returns the position of an embedded document in its relation.
func (d *Document) Index() int { return d.index }

// Version returns the optimistic lock version (0 for new records).
func (d *Document) Version() int64 { return d.version }

// Embedded reports whether the document lives inside a parent document.
func (d *Document) Embedded() bool { return d.Schema.Embedded }

// NewRecord reports whether the document has never been persisted.
func (d *Document) NewRecord() bool { return d.newRecord }

// Destroyed reports whether the document was deleted or destroyed.
func (d *Document) Destroyed() bool { return d.destroyed }

// FlaggedForDestroy reports whether the document is committed to removal.
// Flagged documents are skipped by validation.
func (d *Document) FlaggedForDestroy() bool { return d.flagged }

// FlagForDestroy marks the document for removal. Idempotent.
func (d *Document) FlagForDestroy() { d.flagged = true }

// Base returns the document holding this one in a relation, or nil.
func (d *Document) Base() *Document { return d.base }

// ParentRef returns the entity reference of the bound base, or of the last
// base this document was bound to or loaded under.
func (d *Document) ParentRef() string {
	if d.base != nil {
		return d.base.EntityRef()
	}
	return d.parentRef
}

// SetParentRef records the parent of a document loaded without its base.
func (d *Document) SetParentRef(ref string) { d.parentRef = ref }

// RelationName returns the name of the base relation holding this document.
func (d *Document) RelationName() string { return d.relation }

// DeletedAt returns the soft-delete timestamp, if set.
func (d *Document) DeletedAt() (time.Time, bool) {
	if !IsCapable(d.Schema) {
		return time.Time{}, false
	}
	return parseTimestamp(d.attributes[d.Schema.DeletedAtField()])
}

// MarkDeleted records a soft delete at t. Used by the persistence layer.
func (d *Document) MarkDeleted(t time.Time) {
	if IsCapable(d.Schema) {
		d.attributes[d.Schema.DeletedAtField()] = t.UTC()
	}
}

// ClearDeleted removes the soft-delete timestamp. Used by the persistence layer.
func (d *Document) ClearDeleted() {
	if IsCapable(d.Schema) {
		delete(d.attributes, d.Schema.DeletedAtField())
	}
	d.destroyed = false
}

// MarkDestroyed records that the document was removed from storage.
func (d *Document) MarkDestroyed() { d.destroyed = true }

// MarkPersisted records a successful write at version. Embedded descendants
// are persisted with their root, so their pending pulls are written too.
func (d *Document) MarkPersisted(version int64) {
	d.newRecord = false
	d.version = version
	d.ClearAtomicPulls()
	for _, rel := range d.Relations() {
		if em, ok := rel.(*EmbeddedMany); ok {
			for _, child := range em.unscoped {
				child.MarkPersisted(0)
			}
		}
	}
}

// SetVersion records the stored version after a write that bypassed Save.
func (d *Document) SetVersion(version int64) { d.version = version }

// SetPersister attaches the persistence collaborator.
func (d *Document) SetPersister(p Persister) { d.persister = p }

// Persister returns the attached persister, falling back to the base chain.
func (d *Document) Persister() Persister {
	for cur := d; cur != nil; cur = cur.base {
		if cur.persister != nil {
			return cur.persister
		}
	}
	return nil
}

// Relation returns the relation declared under name, or nil.
func (d *Document) Relation(name string) Relation {
	return d.relations[name]
}

// Relations returns the relations in schema declaration order.
func (d *Document) Relations() []Relation {
	out := make([]Relation, 0, len(d.Schema.Relations))
	for _, assoc := range d.Schema.Relations {
		out = append(out, d.relations[assoc.Name])
	}
	return out
}

// Embeds returns the embedded relation declared under name, or nil.
func (d *Document) Embeds(name string) *EmbeddedMany {
	em, _ := d.relations[name].(*EmbeddedMany)
	return em
}

// References returns the referenced relation declared under name, or nil.
func (d *Document) References(name string) *ReferencedMany {
	rm, _ := d.relations[name].(*ReferencedMany)
	return rm
}

// DestroyQueue returns the deferred destroys scheduled against this document.
func (d *Document) DestroyQueue() *DestroyQueue { return &d.destroys }

// AddAtomicPull registers a pending removal for the next save.
func (d *Document) AddAtomicPull(p AtomicPull) {
	d.pulls = append(d.pulls, p)
}

// AtomicPulls returns the pending removals in registration order.
func (d *Document) AtomicPulls() []AtomicPull {
	out := make([]AtomicPull, len(d.pulls))
	copy(out, d.pulls)
	return out
}

// ClearAtomicPulls drops pending removals after they were written.
func (d *Document) ClearAtomicPulls() { d.pulls = nil }

func (d *Document) bind(base *Document, relation string) {
	d.base = base
	d.relation = relation
	d.parentRef = base.EntityRef()
}

func (d *Document) unbind() {
	d.base = nil
	d.relation = ""
}
