package store

import "github.com/jacentio/paranoia/document"

// Relationship defines a parent-child link between referenced document types.
type Relationship struct {
	// ParentType is the parent schema name (e.g., "person").
	ParentType string

	// ChildType is the child schema name (e.g., "project").
	ChildType string

	// ChildTableName is the DynamoDB table name for the child (e.g., "projects").
	ChildTableName string

	// ParentKeyAttr is the attribute in the child that holds the parent id (e.g., "person_id").
	ParentKeyAttr string

	// ChildDeletedAt is the child's soft-delete field, or "" when the child
	// type is not soft-delete capable.
	ChildDeletedAt string
}

// Registry holds all known relationships for cascade operations.
type Registry struct {
	relationships []Relationship
	byParent      map[string][]Relationship
	byChild       map[string]Relationship
	deletedAt     map[string]string
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byParent:  make(map[string][]Relationship),
		byChild:   make(map[string]Relationship),
		deletedAt: make(map[string]string),
	}
}

// Register adds a relationship to the registry.
func (r *Registry) Register(rel Relationship) {
	r.relationships = append(r.relationships, rel)
	r.byParent[rel.ParentType] = append(r.byParent[rel.ParentType], rel)
	r.byChild[rel.ChildType] = rel
	if rel.ChildDeletedAt != "" {
		r.deletedAt[rel.ChildType] = rel.ChildDeletedAt
	}
}

// RegisterDeletedAt records the soft-delete field of entityType. Root types
// are not covered by any relationship and need this to cascade a custom field.
func (r *Registry) RegisterDeletedAt(entityType, field string) {
	if field != "" {
		r.deletedAt[entityType] = field
	}
}

// DeletedAtField returns the registered soft-delete field of entityType.
func (r *Registry) DeletedAtField(entityType string) (string, bool) {
	field, ok := r.deletedAt[entityType]
	return field, ok
}

// RegisterSchema registers every referenced relation declared by schema and,
// recursively, by its children, along with the soft-delete field of each
// type. Embedded relations live inside the parent item and are not
// registered.
func (r *Registry) RegisterSchema(schema *document.Schema) {
	r.RegisterDeletedAt(schema.Name, schema.DeletedAtField())
	for _, assoc := range schema.Relations {
		if assoc.Child.Embedded {
			continue
		}
		if _, ok := r.byChild[assoc.Child.Name]; ok {
			continue
		}
		r.Register(Relationship{
			ParentType:     schema.Name,
			ChildType:      assoc.Child.Name,
			ChildTableName: assoc.Child.Table,
			ParentKeyAttr:  assoc.Child.ParentKey,
			ChildDeletedAt: assoc.Child.DeletedAtField(),
		})
		r.RegisterSchema(assoc.Child)
	}
}

// ChildrenOf returns all child relationships for a given parent type.
func (r *Registry) ChildrenOf(parentType string) []Relationship {
	return r.byParent[parentType]
}

// ParentOf returns the relationship in which childType is the child.
func (r *Registry) ParentOf(childType string) (Relationship, bool) {
	rel, ok := r.byChild[childType]
	return rel, ok
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasChildren returns true if the parent type has any registered child relationships.
func (r *Registry) HasChildren(parentType string) bool {
	return len(r.byParent[parentType]) > 0
}
