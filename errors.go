package shardring

import "errors"

var (
	// ErrHashCollision is returned by Ring.Insert when the position is
	// already taken. PartitionTable recovers from it by re-salting.
	ErrHashCollision = errors.New("hash collision")

	// ErrVirtualNodeNotFound is returned by Ring.Remove for an absent entry.
	ErrVirtualNodeNotFound = errors.New("virtual node not found")

	// ErrEmptyRing is returned by Ring.SuccessorOf when the ring has no entries.
	ErrEmptyRing = errors.New("ring is empty")

	// ErrNoNodesAvailable means no physical node is registered. Callers should
	// treat it as "service unavailable" and not retry internally.
	ErrNoNodesAvailable = errors.New("no nodes available")

	ErrDuplicateNode = errors.New("node already exists")
	ErrUnknownNode   = errors.New("unknown node")
	ErrInvalidNodeID = errors.New("node id can not be empty")

	// ErrAddNodeFailed wraps a collision that survived every retry.
	ErrAddNodeFailed = errors.New("add node failed")
)
