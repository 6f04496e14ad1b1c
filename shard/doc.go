// Package shard implements a key/value store partitioned over a
// consistent-hash ring.
//
// # Overview
//
// A Store owns a shardring.PartitionTable and one Backend per physical
// node. Every key is routed by hashing it onto the ring:
//
//	Put/Get(key) → PartitionTable.Locate(key) → Ring.SuccessorOf(hash(key))
//	             → node id → node backend
//
// # Topology changes
//
// AddShard and RemoveShard change the ring and then migrate keys until every
// key lives on the node Locate returns for it. Two strategies honor that
// contract:
//
//   - StrategyFull collects every pair, clears all backends and writes the
//     whole dataset again. Simple, and a useful reference, but it rewrites
//     everything on each change.
//   - StrategyArcDiff (default) moves only keys whose owner changed. A new
//     node can only take keys from the nodes that follow its positions on
//     the ring (PartitionTable.Neighbors), so only those are scanned; a
//     removed node's keys are re-routed and nothing else moves. The expected
//     fraction of keys moved is about 1/N for N nodes.
//
// # Concurrency
//
// The store lock covers the table and the backend set as one unit. Put, Get
// and Delete share it; AddShard and RemoveShard hold it exclusively for the
// ring edit and the whole migration, so readers see either the old or the
// new topology, never a partial one. State reports StateRebalancing while a
// migration runs without waiting for the lock.
//
// A migration can not be cancelled halfway: stopping it would leave keys on
// nodes that no longer own them.
//
// # Backends
//
// Backend is the two-operation capability (LocalPut, LocalGet) a node's
// storage has to offer; Scanner adds what migration needs. MemoryBackend is
// the in-memory implementation. A backend doing remote I/O should apply its
// own timeouts, since it is called with the store lock held.
//
// # Usage
//
//	table := shardring.NewPartitionTable(shardring.Config{})
//	store, _ := shard.NewStore(table, shard.Config{})
//
//	store.AddShard("shard1", 0)
//	store.AddShard("shard2", 0)
//
//	store.Put("user:123", []byte(`{"name":"Alice"}`))
//	value, ok, err := store.Get("user:123")
package shard
