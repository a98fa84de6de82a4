package store

import "errors"

var (
	// ErrParentNotFound is returned when the parent document doesn't exist or is deleted.
	ErrParentNotFound = errors.New("paranoia: parent document not found")

	// ErrNotFound is returned when a document doesn't exist, has an expired TTL,
	// or is soft-deleted and was not requested unscoped.
	ErrNotFound = errors.New("paranoia: document not found")

	// ErrAlreadyExists is returned when attempting to create a document with an existing ID.
	ErrAlreadyExists = errors.New("paranoia: document already exists")

	// ErrHasChildren is returned when attempting to destroy a document with active children.
	ErrHasChildren = errors.New("paranoia: document has active children")

	// ErrConcurrentModification is returned when optimistic lock fails (version mismatch).
	ErrConcurrentModification = errors.New("paranoia: document was modified concurrently")

	// ErrEmbedded is returned when an operation needs a root or referenced document.
	ErrEmbedded = errors.New("paranoia: document is embedded")

	// ErrUnbound is returned when an embedded document has no base to write through.
	ErrUnbound = errors.New("paranoia: embedded document is not bound to a parent")

	// ErrNotCapable is returned when restoring a document whose type is not soft-delete capable.
	ErrNotCapable = errors.New("paranoia: document type is not soft-delete capable")

	// ErrDecode is returned when a stored item cannot be mapped to a document.
	ErrDecode = errors.New("paranoia: cannot decode item")
)
