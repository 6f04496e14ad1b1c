package shardring

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"golang.org/x/exp/slices"
)

// PartitionTable owns the ring and maps each physical node to the virtual
// nodes it placed on it. A node is in the table if and only if all of its
// virtual nodes are on the ring.
type PartitionTable struct {
	mu sync.RWMutex

	hasher       HashFn
	virtualNodes int
	maxRetries   int
	logger       *log.Logger

	ring  *Ring
	nodes map[string][]VirtualNode
}

// NewPartitionTable returns an empty table.
func NewPartitionTable(config Config) *PartitionTable {
	config = config.withDefaults()

	return &PartitionTable{
		hasher:       config.Hasher,
		virtualNodes: config.VirtualNodes,
		maxRetries:   config.MaxCollisionRetries,
		logger:       config.Logger,
		ring:         NewRing(),
		nodes:        make(map[string][]VirtualNode),
	}
}

// AddNode places virtualCount virtual nodes for nodeID on the ring. A count
// of zero or less falls back to the configured default. The change is
// visible to Locate as soon as AddNode returns.
func (pt *PartitionTable) AddNode(nodeID string, virtualCount int) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	return pt.addNode(nodeID, virtualCount)
}

func (pt *PartitionTable) addNode(nodeID string, virtualCount int) error {
	if nodeID == "" {
		return ErrInvalidNodeID
	}

	if _, ok := pt.nodes[nodeID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, nodeID)
	}

	if virtualCount <= 0 {
		virtualCount = pt.virtualNodes
	}

	placed := make([]VirtualNode, 0, virtualCount)
	for i := 0; i < virtualCount; i++ {
		vn, err := pt.place(nodeID, i)
		if err != nil {
			for _, p := range placed {
				if rerr := pt.ring.Remove(p); rerr != nil {
					pt.logger.Printf("[partition] rolling back %s: %v", nodeID, rerr)
				}
			}

			return fmt.Errorf("%w: %s: %w", ErrAddNodeFailed, nodeID, err)
		}

		placed = append(placed, vn)
	}

	pt.nodes[nodeID] = placed

	return nil
}

// place inserts one replica, re-salting its label on collision.
func (pt *PartitionTable) place(nodeID string, replica int) (VirtualNode, error) {
	var err error
	for salt := 0; salt <= pt.maxRetries; salt++ {
		vn := newVirtualNode(pt.hasher, nodeID, replica, salt)

		err = pt.ring.Insert(vn)
		if err == nil {
			return vn, nil
		}

		if !errors.Is(err, ErrHashCollision) {
			return VirtualNode{}, err
		}

		pt.logger.Printf("[partition] %v, retrying with salt %d", err, salt+1)
	}

	return VirtualNode{}, err
}

// RemoveNode takes every virtual node of nodeID off the ring.
func (pt *PartitionTable) RemoveNode(nodeID string) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	return pt.removeNode(nodeID)
}

func (pt *PartitionTable) removeNode(nodeID string) error {
	vnodes, ok := pt.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	for _, vn := range vnodes {
		if err := pt.ring.Remove(vn); err != nil {
			pt.logger.Printf("[partition] removing %s: %v", nodeID, err)
		}
	}

	delete(pt.nodes, nodeID)

	return nil
}

// Locate returns the node responsible for key.
func (pt *PartitionTable) Locate(key string) (string, error) {
	return pt.LocateBytes([]byte(key))
}

func (pt *PartitionTable) LocateBytes(key []byte) (string, error) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.locateHash(pt.hasher(key))
}

// LocateHash returns the owner of the arc containing h.
func (pt *PartitionTable) LocateHash(h uint64) (string, error) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.locateHash(h)
}

func (pt *PartitionTable) locateHash(h uint64) (string, error) {
	vn, err := pt.ring.SuccessorOf(h)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoNodesAvailable, err)
	}

	return vn.Owner, nil
}

// LocateN returns up to n distinct nodes, walking the ring clockwise from
// the key's position. The first one is the node Locate returns. A count of
// zero or less yields an empty slice.
func (pt *PartitionTable) LocateN(key string, n int) ([]string, error) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	idx, err := pt.ring.successorIndex(pt.hasher([]byte(key)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoNodesAvailable, err)
	}

	if n <= 0 {
		return []string{}, nil
	}

	if n > len(pt.nodes) {
		n = len(pt.nodes)
	}

	owners := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for i := 0; i < pt.ring.Len() && len(owners) < n; i++ {
		owner := pt.ring.vnodes[(idx+i)%pt.ring.Len()].Owner
		if _, ok := seen[owner]; ok {
			continue
		}

		seen[owner] = struct{}{}
		owners = append(owners, owner)
	}

	return owners, nil
}

// Neighbors returns the distinct nodes owning the virtual node that follows
// each of nodeID's positions clockwise. When nodeID was just added these are
// the only nodes that lost keys to it.
func (pt *PartitionTable) Neighbors(nodeID string) ([]string, error) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	vnodes, ok := pt.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	seen := make(map[string]struct{})
	for _, vn := range vnodes {
		idx, _ := pt.ring.search(vn.Position)
		for i := 1; i < pt.ring.Len(); i++ {
			next := pt.ring.vnodes[(idx+i)%pt.ring.Len()]
			if next.Owner != nodeID {
				seen[next.Owner] = struct{}{}
				break
			}
		}
	}

	neighbors := make([]string, 0, len(seen))
	for owner := range seen {
		neighbors = append(neighbors, owner)
	}

	slices.Sort(neighbors)

	return neighbors, nil
}

// Ownership returns the fraction of the hash space owned by each node.
func (pt *PartitionTable) Ownership() map[string]float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	ownership := make(map[string]float64, len(pt.nodes))
	for _, arc := range pt.ring.Arcs() {
		ownership[arc.Owner] += float64(arc.Size()) / math.MaxUint64
	}

	return ownership
}

// Nodes returns the registered node ids in sorted order.
func (pt *PartitionTable) Nodes() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	nodes := make([]string, 0, len(pt.nodes))
	for id := range pt.nodes {
		nodes = append(nodes, id)
	}

	slices.Sort(nodes)

	return nodes
}

func (pt *PartitionTable) Has(nodeID string) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	_, ok := pt.nodes[nodeID]

	return ok
}

// VirtualCount returns how many ring positions nodeID holds, or 0.
func (pt *PartitionTable) VirtualCount(nodeID string) int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return len(pt.nodes[nodeID])
}

// VirtualNodes returns a copy of nodeID's virtual nodes.
func (pt *PartitionTable) VirtualNodes(nodeID string) []VirtualNode {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return slices.Clone(pt.nodes[nodeID])
}

// Len returns the number of physical nodes.
func (pt *PartitionTable) Len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return len(pt.nodes)
}

// Hash exposes the table's hash function.
func (pt *PartitionTable) Hash(key []byte) uint64 {
	return pt.hasher(key)
}
