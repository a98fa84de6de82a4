package document

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NestedDestroyer destroys children removed through nested attributes.
//
// A destroy is deferred to the parent's DestroyQueue only when it could not be
// undone if the parent later fails validation: the child is embedded, the
// parent is persisted and the child type is not soft-delete capable.
type NestedDestroyer struct {
	logger *slog.Logger
}

// NewNestedDestroyer creates a NestedDestroyer. A nil logger uses slog.Default().
func NewNestedDestroyer(logger *slog.Logger) *NestedDestroyer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NestedDestroyer{logger: logger}
}

// Schedule flags child for destroy, then destroys it now or queues it on parent.
func (n *NestedDestroyer) Schedule(ctx context.Context, parent *Document, rel Relation, child *Document) error {
	child.FlagForDestroy()

	if !child.Embedded() || parent.NewRecord() || IsCapable(child.Schema) {
		n.logger.Debug("destroying nested document",
			"parent", parent.EntityRef(),
			"relation", rel.Name(),
			"child", child.EntityRef(),
		)
		return n.destroyDocument(ctx, rel, child)
	}

	parent.DestroyQueue().Push(PendingDestroy{Relation: rel.Name(), ChildID: child.ID})
	n.logger.Debug("deferred nested destroy",
		"parent", parent.EntityRef(),
		"relation", rel.Name(),
		"child", child.EntityRef(),
		"queued", parent.DestroyQueue().Len(),
	)
	return nil
}

// Drain runs the parent's queued destroys in enqueue order. The queue is
// emptied up front; the first failure stops the drain and is reported as a
// *DrainError.
func (n *NestedDestroyer) Drain(ctx context.Context, parent *Document) error {
	pending := parent.DestroyQueue().take()
	if len(pending) == 0 {
		return nil
	}

	for i, p := range pending {
		if err := n.run(ctx, parent, p); err != nil {
			return &DrainError{
				Completed: pending[:i],
				Failed:    p,
				Skipped:   pending[i+1:],
				Err:       err,
			}
		}
	}

	n.logger.Debug("drained destroy queue",
		"parent", parent.EntityRef(),
		"count", len(pending),
	)
	return nil
}

// Discard drops the parent's queued destroys without running them and clears
// the destroy flag on the children they named. It returns how many were dropped.
func (n *NestedDestroyer) Discard(parent *Document) int {
	pending := parent.DestroyQueue().take()
	for _, p := range pending {
		if rel := parent.Relation(p.Relation); rel != nil {
			if child := rel.Find(p.ChildID); child != nil {
				child.flagged = false
			}
		}
	}
	if len(pending) > 0 {
		n.logger.Debug("discarded destroy queue",
			"parent", parent.EntityRef(),
			"count", len(pending),
		)
	}
	return len(pending)
}

func (n *NestedDestroyer) run(ctx context.Context, parent *Document, p PendingDestroy) error {
	rel := parent.Relation(p.Relation)
	if rel == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownRelation, parent.Schema.Name, p.Relation)
	}
	child := rel.Find(p.ChildID)
	if child == nil {
		n.logger.Debug("queued child already removed",
			"parent", parent.EntityRef(),
			"action", p.String(),
		)
		return nil
	}
	return n.destroyDocument(ctx, rel, child)
}

// destroyDocument removes child from rel; documents outside the base item are
// then destroyed in their own table.
func (n *NestedDestroyer) destroyDocument(ctx context.Context, rel Relation, child *Document) error {
	if _, err := rel.Delete(ctx, child); err != nil {
		return err
	}
	if child.Embedded() || child.Destroyed() {
		return nil
	}
	p := rel.Base().Persister()
	if p == nil {
		return ErrDetached
	}
	return p.Destroy(ctx, child)
}

// Attributes is one nested attribute hash.
type Attributes map[string]any

// NestedBuilder applies nested attribute hashes to a relation.
type NestedBuilder struct {
	Destroyer *NestedDestroyer

	// AllowDestroy lets a truthy "_destroy" remove the child. Without it the
	// key is ignored and the hash updates the child.
	AllowDestroy bool
}

// Assign processes attrs in order against parent's relation: hashes with an
// id update or destroy that child, hashes without one build a new child.
func (b *NestedBuilder) Assign(ctx context.Context, parent *Document, relation string, attrs []Attributes) error {
	rel := parent.Relation(relation)
	if rel == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownRelation, parent.Schema.Name, relation)
	}
	assoc, _ := parent.Schema.Association(relation)

	for _, a := range attrs {
		id, _ := a["id"].(string)
		destroy := truthy(a["_destroy"])

		if id == "" {
			if destroy {
				continue
			}
			child := New(assoc.Child, nil)
			if err := assign(child, a); err != nil {
				return err
			}
			if err := rel.Push(child); err != nil {
				return err
			}
			continue
		}

		child := rel.Find(id)
		if child == nil {
			return fmt.Errorf("%w: %s %s", ErrNotFound, relation, id)
		}
		if destroy && b.AllowDestroy {
			if err := b.Destroyer.Schedule(ctx, parent, rel, child); err != nil {
				return err
			}
			continue
		}
		if err := assign(child, a); err != nil {
			return err
		}
	}
	return nil
}

func assign(doc *Document, a Attributes) error {
	for k, v := range a {
		if k == "id" || k == "_destroy" {
			continue
		}
		if err := doc.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t == 1
	case float64:
		return t == 1
	case string:
		switch strings.ToLower(t) {
		case "1", "true", "t", "yes":
			return true
		}
	}
	return false
}
