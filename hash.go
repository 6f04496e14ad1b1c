package shardring

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// HashFn maps an arbitrary byte key onto the ring space.
type HashFn func([]byte) uint64

// XXHash is the default hasher.
func XXHash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// MD5 interprets the leading 8 bytes of the MD5 digest as a big-endian integer.
func MD5(data []byte) uint64 {
	sum := md5.Sum(data)
	return binary.BigEndian.Uint64(sum[:8])
}

// FNV64a is the 64-bit FNV-1a hash from hash/fnv.
func FNV64a(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// HasherByName resolves a hasher from its configuration name. An empty name
// selects XXHash.
func HasherByName(name string) (HashFn, error) {
	switch name {
	case "", "xxhash":
		return XXHash, nil
	case "md5":
		return MD5, nil
	case "fnv":
		return FNV64a, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
}
