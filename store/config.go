package store

import "github.com/jacentio/paranoia/document"

const defaultRelationshipTable = "paranoia_relationships"

// Config holds configuration for the Store.
type Config struct {
	// RelationshipTable is the name of the parent/child relationship table.
	// Default: "paranoia_relationships"
	RelationshipTable string

	// NumShards is the number of shards for the relationship table.
	// Higher values increase write throughput but require more parallel queries.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Per-shard limits:
	//   - Writes: 1,000/sec
	//   - Reads: 3,000/sec
	NumShards int

	// DeletedAtField is the soft-delete attribute the stream handler watches
	// and cascades to referenced children.
	// Default: "deleted_at"
	DeletedAtField string
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		RelationshipTable: defaultRelationshipTable,
		NumShards:         1,
		DeletedAtField:    document.DefaultDeletedAtField,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RelationshipTable == "" {
		c.RelationshipTable = defaultRelationshipTable
	}
	if c.DeletedAtField == "" {
		c.DeletedAtField = document.DefaultDeletedAtField
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
}
