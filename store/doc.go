// Package store persists documents in DynamoDB with soft-delete support.
//
// The Store is the persistence collaborator of package document: it
// implements [document.Persister] for relations and nested destroys, and
// [document.Finder] for uniqueness validation.
//
// # Key Features
//
//   - Soft deletion of capable root, referenced and embedded documents
//   - Expiry through DynamoDB TTL for documents that are not capable
//   - Parent validation on child creation (atomic)
//   - Orphan protection (prevent destroying parents with active children)
//   - Cascading deletes via DynamoDB Streams (see package stream)
//   - Optimistic locking with version field
//   - Configurable write sharding for the relationship table
//
// # Saving
//
// [Store.Save] validates the document and its embedded children, writes it,
// then runs the destroys queued by [document.NestedDestroyer]:
//
//	doc := s.Build(personSchema, map[string]any{"name": "Ada"})
//	if err := s.Save(ctx, doc); err != nil {
//	    return err
//	}
//
// Embedded children are stored inside their root item. Removing one from a
// persisted root either sets its deleted-at field in place or removes it from
// the item, depending on the child's capability.
//
// # Configuration
//
// Use [DefaultConfig] for small datasets (NumShards=1, single queries).
// Increase NumShards for higher throughput:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16 // 16,000 writes/sec per parent
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist, is expired or soft-deleted
//   - [ErrParentNotFound] - parent validation failed
//   - [ErrAlreadyExists] - document with ID already exists
//   - [ErrHasChildren] - cannot destroy a document with active children
//   - [ErrConcurrentModification] - optimistic lock failed
package store
