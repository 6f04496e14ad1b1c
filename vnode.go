package shardring

import "strconv"

// VirtualNode is one position of a physical node on the ring. Values are
// never edited in place; membership changes insert or remove whole values.
type VirtualNode struct {
	Owner   string
	Replica int

	// Salt is non-zero only when the unsalted label collided with an
	// existing position and the replica had to be re-hashed.
	Salt int

	Position uint64
}

func newVirtualNode(hasher HashFn, owner string, replica, salt int) VirtualNode {
	return VirtualNode{
		Owner:    owner,
		Replica:  replica,
		Salt:     salt,
		Position: hasher([]byte(vnodeLabel(owner, replica, salt))),
	}
}

// vnodeLabel returns "owner:replica", or "owner:replica#salt" for a
// re-salted candidate.
func vnodeLabel(owner string, replica, salt int) string {
	label := owner + ":" + strconv.Itoa(replica)
	if salt > 0 {
		label += "#" + strconv.Itoa(salt)
	}

	return label
}

func (vn VirtualNode) String() string {
	return vnodeLabel(vn.Owner, vn.Replica, vn.Salt)
}
