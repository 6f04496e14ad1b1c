package shardring

import (
	"cmp"
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// Ring is the sorted sequence of virtual nodes. It is not safe for
// concurrent use; PartitionTable serializes access to it.
type Ring struct {
	vnodes []VirtualNode
}

// Arc is the range of hash space (Start, End] owned by the virtual node
// at End. The arc of the first virtual node wraps around zero.
type Arc struct {
	Start uint64
	End   uint64
	Owner string
}

func NewRing() *Ring {
	return &Ring{vnodes: []VirtualNode{}}
}

func (r *Ring) search(pos uint64) (int, bool) {
	return slices.BinarySearchFunc(r.vnodes, pos, func(vn VirtualNode, target uint64) int {
		return cmp.Compare(vn.Position, target)
	})
}

// Insert adds vn keeping the ring sorted. A virtual node already holding
// the same position makes Insert fail with ErrHashCollision.
func (r *Ring) Insert(vn VirtualNode) error {
	idx, found := r.search(vn.Position)
	if found {
		return fmt.Errorf("%w: %s and %s at %d", ErrHashCollision, r.vnodes[idx], vn, vn.Position)
	}

	r.vnodes = slices.Insert(r.vnodes, idx, vn)

	return nil
}

// Remove deletes the entry with the same owner and replica as vn.
func (r *Ring) Remove(vn VirtualNode) error {
	idx, found := r.search(vn.Position)
	if !found || r.vnodes[idx].Owner != vn.Owner || r.vnodes[idx].Replica != vn.Replica {
		return fmt.Errorf("%w: %s", ErrVirtualNodeNotFound, vn)
	}

	r.vnodes = slices.Delete(r.vnodes, idx, idx+1)

	return nil
}

// SuccessorOf returns the first virtual node whose position is >= h,
// wrapping around to the first one when h is past every position.
func (r *Ring) SuccessorOf(h uint64) (VirtualNode, error) {
	idx, err := r.successorIndex(h)
	if err != nil {
		return VirtualNode{}, err
	}

	return r.vnodes[idx], nil
}

func (r *Ring) successorIndex(h uint64) (int, error) {
	if len(r.vnodes) == 0 {
		return 0, ErrEmptyRing
	}

	idx, _ := r.search(h)
	if idx >= len(r.vnodes) {
		idx = 0
	}

	return idx, nil
}

func (r *Ring) Len() int {
	return len(r.vnodes)
}

// VirtualNodes returns a copy of the ring in position order.
func (r *Ring) VirtualNodes() []VirtualNode {
	return slices.Clone(r.vnodes)
}

// Arcs returns one arc per virtual node in position order. A ring with a
// single virtual node yields one arc covering the whole space.
func (r *Ring) Arcs() []Arc {
	arcs := make([]Arc, 0, len(r.vnodes))
	for i, vn := range r.vnodes {
		prev := r.vnodes[(i+len(r.vnodes)-1)%len(r.vnodes)]
		arcs = append(arcs, Arc{Start: prev.Position, End: vn.Position, Owner: vn.Owner})
	}

	return arcs
}

// Size is the number of hash values the arc covers.
func (a Arc) Size() uint64 {
	if a.Start == a.End {
		return math.MaxUint64
	}

	// Unsigned wrap-around handles the arc that crosses zero.
	return a.End - a.Start
}

// Contains reports whether h falls in (Start, End].
func (a Arc) Contains(h uint64) bool {
	switch {
	case a.Start == a.End:
		return true
	case a.Start < a.End:
		return h > a.Start && h <= a.End
	default:
		return h > a.Start || h <= a.End
	}
}
