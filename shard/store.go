package shard

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/odvarkadaniel/shardring"
)

// State is the observable state of a Store.
type State string

const (
	// StateStable means routing and data agree.
	StateStable State = "stable"
	// StateRebalancing is held while a topology change migrates keys.
	StateRebalancing State = "rebalancing"
)

type Config struct {
	// Backends allocates storage for each added node. In-memory backends
	// are used when nil.
	Backends BackendFactory

	// Strategy selects how keys are migrated after a topology change.
	// StrategyArcDiff is used when empty.
	Strategy Strategy

	Logger *log.Logger
}

// Store routes every key to exactly one node's backend through a
// PartitionTable and migrates keys when nodes are added or removed.
//
// The store takes ownership of the table: mutating the table outside the
// store breaks the routing invariant.
type Store struct {
	// mu covers the table and the shards map as one unit. Put, Get and
	// Delete hold it shared; topology changes and the rebalance they
	// trigger hold it exclusively.
	mu sync.RWMutex

	table    *shardring.PartitionTable
	shards   map[string]ShardBackend
	backends BackendFactory
	strategy Strategy
	logger   *log.Logger

	state atomic.Value
	last  Report
}

// NewStore returns a store over table. Nodes already in the table get an
// empty backend each.
func NewStore(table *shardring.PartitionTable, config Config) (*Store, error) {
	if config.Backends == nil {
		config.Backends = NewMemoryBackendFactory()
	}

	if config.Strategy == "" {
		config.Strategy = StrategyArcDiff
	}

	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}

	if _, err := rebalancerFor(config.Strategy); err != nil {
		return nil, err
	}

	s := &Store{
		table:    table,
		shards:   make(map[string]ShardBackend),
		backends: config.Backends,
		strategy: config.Strategy,
		logger:   config.Logger,
	}
	s.state.Store(StateStable)

	for _, id := range table.Nodes() {
		s.shards[id] = s.backends(id)
	}

	return s, nil
}

// Put stores value on the node the key is located on.
func (s *Store) Put(key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.put(key, value)
}

func (s *Store) put(key string, value []byte) error {
	backend, nodeID, err := s.route(key)
	if err != nil {
		return err
	}

	if err := backend.LocalPut(key, value); err != nil {
		return fmt.Errorf("put %q on %s: %w", key, nodeID, err)
	}

	return nil
}

// Get returns the value of key and whether it was found.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	backend, nodeID, err := s.route(key)
	if err != nil {
		return nil, false, err
	}

	value, ok, err := backend.LocalGet(key)
	if err != nil {
		return nil, false, fmt.Errorf("get %q from %s: %w", key, nodeID, err)
	}

	return value, ok, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	backend, nodeID, err := s.route(key)
	if err != nil {
		return err
	}

	if err := backend.LocalDelete(key); err != nil {
		return fmt.Errorf("delete %q from %s: %w", key, nodeID, err)
	}

	return nil
}

func (s *Store) route(key string) (ShardBackend, string, error) {
	nodeID, err := s.table.Locate(key)
	if err != nil {
		return nil, "", err
	}

	backend, ok := s.shards[nodeID]
	if !ok {
		// The table was changed behind the store's back.
		return nil, "", fmt.Errorf("%w: no backend for %s", shardring.ErrUnknownNode, nodeID)
	}

	return backend, nodeID, nil
}

// Locate returns the node key is routed to.
func (s *Store) Locate(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.table.Locate(key)
}

// AddShard registers nodeID with virtualCount ring positions and migrates
// the keys it now owns. Put and Get wait until the migration finished.
//
// A backend error during migration is returned after the node has joined
// the table. Keys moved before the failure stay on the new node and the
// rest stay where they were, so later Gets for them can miss.
func (s *Store) AddShard(nodeID string, virtualCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.table.AddNode(nodeID, virtualCount); err != nil {
		return err
	}

	s.shards[nodeID] = s.backends(nodeID)

	return s.rebalance(topologyChange{added: nodeID})
}

// RemoveShard unregisters nodeID and re-routes the keys it held. Removing
// the last node fails with ErrNoNodesAvailable while it still holds keys.
//
// A backend error while re-routing is returned after the node has left the
// table. Pairs not yet written to their new owner are lost.
func (s *Store) RemoveShard(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backend, ok := s.shards[nodeID]
	if !ok || !s.table.Has(nodeID) {
		return fmt.Errorf("%w: %s", shardring.ErrUnknownNode, nodeID)
	}

	if s.table.Len() == 1 && backend.LocalLen() > 0 {
		return fmt.Errorf("%w: removing %s would drop %d keys",
			shardring.ErrNoNodesAvailable, nodeID, backend.LocalLen())
	}

	orphans, err := collectFrom(nodeID, backend)
	if err != nil {
		return err
	}

	if err := s.table.RemoveNode(nodeID); err != nil {
		return err
	}

	delete(s.shards, nodeID)

	return s.rebalance(topologyChange{removed: nodeID, orphans: orphans})
}

// ShardStats returns the number of keys held by each node.
func (s *Store) ShardStats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int, len(s.shards))
	for id, backend := range s.shards {
		stats[id] = backend.LocalLen()
	}

	return stats
}

// Len returns the number of keys across all nodes.
func (s *Store) Len() int {
	total := 0
	for _, n := range s.ShardStats() {
		total += n
	}

	return total
}

// Nodes returns the registered node ids in sorted order.
func (s *Store) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.table.Nodes()
}

// State reports whether a topology change is being applied. It does not
// wait for the store lock.
func (s *Store) State() State {
	return s.state.Load().(State)
}

// LastRebalance describes the most recent topology change.
func (s *Store) LastRebalance() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.last
}
