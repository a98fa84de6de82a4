package document

import "time"

// DefaultDeletedAtField is the storage field that records a soft delete.
const DefaultDeletedAtField = "deleted_at"

// Paranoia marks a schema as soft-delete capable.
type Paranoia struct {
	// Field holds the deletion timestamp. Default: "deleted_at"
	Field string
}

// FieldName returns the deleted-at storage field.
func (p *Paranoia) FieldName() string {
	if p == nil || p.Field == "" {
		return DefaultDeletedAtField
	}
	return p.Field
}

// IsCapable reports whether documents of the schema are soft-deleted instead
// of removed.
func IsCapable(schema *Schema) bool {
	return schema != nil && schema.Paranoia != nil
}

// IsDeleted reports whether doc has been soft-deleted. It is always false for
// documents whose schema is not capable.
func IsDeleted(doc *Document) bool {
	if doc == nil || !IsCapable(doc.Schema) {
		return false
	}
	_, ok := doc.DeletedAt()
	return ok
}

// parseTimestamp accepts the shapes a deleted-at value takes in memory and
// after a round trip through DynamoDB.
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
