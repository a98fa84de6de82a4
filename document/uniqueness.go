package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/paranoia/criteria"
)

// BuildScope narrows base, which already filters on the constrained attribute,
// by the declared scope fields in order and, for soft-delete capable types,
// by an unset deleted-at so soft-deleted records never conflict.
//
// base is not modified. Scope names that do not resolve return the resolution
// error.
func BuildScope(base criteria.Criteria, doc *Document, attribute string, scope []string) (criteria.Criteria, error) {
	c := base
	for _, item := range scope {
		name, err := doc.Schema.ResolveField(item)
		if err != nil {
			return base, fmt.Errorf("scope %s for %s: %w", item, attribute, err)
		}
		c = c.Where(name, doc.attributes[name])
	}
	if IsCapable(doc.Schema) {
		c = c.Where(doc.Schema.DeletedAtField(), nil)
	}
	return c, nil
}

// Validator checks a document before it is saved. A rejected document is
// reported as a *ValidationError; any other error is a failure to check.
type Validator interface {
	Validate(ctx context.Context, doc *Document) error
}

// Finder answers whether any stored record matches a criteria.
type Finder interface {
	Exists(ctx context.Context, c criteria.Criteria) (bool, error)
}

// ValidationError reports a failed validation on one field.
type ValidationError struct {
	Ref   string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("paranoia: %s invalid on %s: %v", e.Ref, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UniquenessValidator rejects a document whose Field value is already used by
// another document sharing the same Scope values.
//
// Root and referenced documents are checked in storage through Finder.
// Embedded documents are checked against their siblings in memory.
type UniquenessValidator struct {
	Field  string
	Scope  []string
	Finder Finder

	// AllowNil skips the check when the value is unset.
	AllowNil bool
}

// Validate implements Validator.
func (v UniquenessValidator) Validate(ctx context.Context, doc *Document) error {
	field, err := doc.Schema.ResolveField(v.Field)
	if err != nil {
		return err
	}
	value := doc.attributes[field]
	if value == nil && v.AllowNil {
		return nil
	}

	var duplicate bool
	if doc.Embedded() {
		duplicate, err = v.embeddedConflict(doc, field, value)
	} else {
		duplicate, err = v.storedConflict(ctx, doc, field, value)
	}
	if err != nil {
		return err
	}
	if duplicate {
		return &ValidationError{Ref: doc.EntityRef(), Field: v.Field, Err: ErrDuplicateValue}
	}
	return nil
}

func (v UniquenessValidator) storedConflict(ctx context.Context, doc *Document, field string, value any) (bool, error) {
	if v.Finder == nil {
		return false, fmt.Errorf("uniqueness of %s.%s: %w", doc.Schema.Name, v.Field, ErrDetached)
	}
	base := criteria.New(doc.Schema.Table).Where(field, value)
	if !doc.NewRecord() {
		base = base.Excludes("id", doc.ID)
	}
	scoped, err := BuildScope(base, doc, v.Field, v.Scope)
	if err != nil {
		return false, err
	}
	return v.Finder.Exists(ctx, scoped)
}

func (v UniquenessValidator) embeddedConflict(doc *Document, field string, value any) (bool, error) {
	if doc.base == nil {
		return false, nil
	}
	rel := doc.base.Embeds(doc.relation)
	if rel == nil {
		return false, nil
	}
	scoped, err := BuildScope(criteria.New("").Where(field, value), doc, v.Field, v.Scope)
	if err != nil {
		return false, err
	}
	for _, sibling := range rel.unscoped {
		if sibling == doc || sibling.flagged {
			continue
		}
		ok, err := scoped.Matches(sibling.attributes)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Validate runs the validators of doc and of every embedded descendant that
// is not flagged for destroy. All failures are joined.
func Validate(ctx context.Context, doc *Document) error {
	var errs []error
	for _, v := range doc.Schema.Validators {
		if err := v.Validate(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	for _, rel := range doc.Relations() {
		em, ok := rel.(*EmbeddedMany)
		if !ok {
			continue
		}
		for _, child := range em.target {
			if child.flagged {
				continue
			}
			if err := Validate(ctx, child); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
