package document

import "fmt"

// Schema describes a document type. Soft-delete capability, embedding and
// relations are properties of the type, never of a single instance.
type Schema struct {
	// Name is the type name used in entity references (e.g., "person").
	Name string

	// Table is the DynamoDB table for root and referenced types.
	// Empty for embedded types, which live inside their parent's item.
	Table string

	// Embedded is true for types stored inside a parent document.
	Embedded bool

	// Fields lists the declared storage field names.
	Fields []string

	// Aliases maps logical field names to storage field names (e.g., "name" -> "n").
	Aliases map[string]string

	// Paranoia enables soft deletion when non-nil.
	Paranoia *Paranoia

	// Relations declares the child collections of this type.
	Relations []Association

	// ParentKey is the field a referenced child uses to hold its parent's id.
	ParentKey string

	// Validators run on every save of a document of this type.
	Validators []Validator
}

// Association declares a named child collection.
type Association struct {
	Name  string
	Child *Schema

	// Callbacks receives before_remove and after_remove notifications. Optional.
	Callbacks Callbacks
}

// ResolveField maps a logical field name to its storage name.
// "id" and the deleted-at field always resolve to themselves.
func (s *Schema) ResolveField(name string) (string, error) {
	if stored, ok := s.Aliases[name]; ok {
		return stored, nil
	}
	if name == "id" || (IsCapable(s) && name == s.Paranoia.FieldName()) {
		return name, nil
	}
	for _, f := range s.Fields {
		if f == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Name, name)
}

// Association returns the relation declared under name.
func (s *Schema) Association(name string) (Association, bool) {
	for _, a := range s.Relations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

// DeletedAtField returns the soft-delete field, or "" for non-capable types.
func (s *Schema) DeletedAtField() string {
	if !IsCapable(s) {
		return ""
	}
	return s.Paranoia.FieldName()
}
