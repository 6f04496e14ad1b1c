// Package shardring implements consistent hashing with virtual nodes.
//
// A PartitionTable places every physical node on a Ring at several
// positions and locates a key on the first position at or after the key's
// hash, wrapping around to the lowest position. Adding or removing one of
// N nodes moves about 1/N of the keys.
package shardring
