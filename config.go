package shardring

import (
	"io"
	"log"
)

const (
	DefaultVirtualNodes        = 160
	DefaultMaxCollisionRetries = 8
)

type Config struct {
	// Hasher is the hash function used to place virtual nodes and keys on
	// the ring. XXHash is used when nil.
	Hasher HashFn

	// VirtualNodes is the number of ring positions given to a node added
	// without an explicit count.
	VirtualNodes int

	// MaxCollisionRetries bounds how many salts are tried for a single
	// replica whose position is already taken.
	MaxCollisionRetries int

	// Logger receives collision and removal notices. Discarded when nil.
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Hasher == nil {
		c.Hasher = XXHash
	}

	if c.VirtualNodes <= 0 {
		c.VirtualNodes = DefaultVirtualNodes
	}

	if c.MaxCollisionRetries <= 0 {
		c.MaxCollisionRetries = DefaultMaxCollisionRetries
	}

	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}

	return c
}
