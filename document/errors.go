package document

import "errors"

var (
	// ErrUnknownField is returned when a field name cannot be resolved to a storage field.
	ErrUnknownField = errors.New("paranoia: unknown field")

	// ErrUnknownRelation is returned when a relation name is not declared on the schema.
	ErrUnknownRelation = errors.New("paranoia: unknown relation")

	// ErrSchemaMismatch is returned when a document is pushed into a relation of another type.
	ErrSchemaMismatch = errors.New("paranoia: document schema does not match relation")

	// ErrAlreadyBound is returned when pushing a document that belongs to another relation.
	ErrAlreadyBound = errors.New("paranoia: document is bound to another relation")

	// ErrDetached is returned when an operation needs a persister and none is attached.
	ErrDetached = errors.New("paranoia: document has no persister")

	// ErrNotFound is returned when a nested attribute id matches no child.
	ErrNotFound = errors.New("paranoia: document not found")

	// ErrDuplicateValue is returned when a uniqueness validation fails.
	ErrDuplicateValue = errors.New("paranoia: duplicate value for unique field")

	// ErrInconsistent is returned when a relation's scoped and unscoped targets disagree.
	ErrInconsistent = errors.New("paranoia: relation targets are inconsistent")
)
