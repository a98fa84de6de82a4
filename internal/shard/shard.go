// Package shard provides shard key generation for the relationship table.
package shard

import (
	"fmt"
	"hash/fnv"
)

// RelationshipPK computes the sharded partition key for a relationship record.
// With numShards=1, all records go to shard "00".
// With numShards>1, records are distributed across shards based on childRef hash.
func RelationshipPK(parentRef, childRef string, numShards int) string {
	if numShards <= 1 {
		return ForShard(parentRef, 0)
	}
	h := fnv.New32a()
	h.Write([]byte(childRef))
	return ForShard(parentRef, int(h.Sum32()%uint32(numShards)))
}

// ForShard returns the partition key of one shard of parentRef.
func ForShard(parentRef string, shardNum int) string {
	return fmt.Sprintf("%s#%02x", parentRef, shardNum)
}

// All returns the partition keys of every shard of parentRef, in shard order.
func All(parentRef string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = ForShard(parentRef, i)
	}
	return pks
}
