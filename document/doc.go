// Package document implements soft-delete aware documents and relations.
//
// It coordinates three behaviours around an optional soft-delete capability:
// scoping uniqueness checks, deferring destroys of nested children until the
// parent saves, and removing members from embedded collections.
//
// # Soft-delete capability
//
// A [Schema] with a non-nil [Paranoia] is capable: its documents record a
// deleted-at timestamp instead of being removed. [IsCapable] and [IsDeleted]
// are the only capability checks.
//
// # Embedded collections
//
// [EmbeddedMany] keeps two ordered sets: the visible target and the unscoped
// set, which also holds soft-deleted members. [EmbeddedMany.Delete] fires
// before_remove, removes by identity, reconciles the unscoped set and storage,
// reindexes and fires after_remove, in that order, even when nothing matched.
//
// # Nested destroys
//
// [NestedDestroyer.Schedule] destroys a child immediately when it is not
// embedded, when the parent is new, or when the child is capable. Otherwise the
// destroy waits in the parent's [DestroyQueue] until the parent saves:
//
//	if err := store.Save(ctx, parent); err != nil {
//	    // queue discarded, queued children untouched
//	}
//
// # Uniqueness
//
// [BuildScope] narrows a uniqueness criteria by scope fields and, for capable
// types, excludes soft-deleted records. [UniquenessValidator] uses it.
package document
