// Package topology loads a ring topology from YAML and builds a store
// from it.
package topology

import (
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odvarkadaniel/shardring"
	"github.com/odvarkadaniel/shardring/shard"
)

// Topology is the file form of a store's initial membership.
//
//	hasher: xxhash
//	virtual_nodes: 160
//	max_collision_retries: 8
//	strategy: arc-diff
//	shards:
//	  - id: shard1
//	  - id: shard2
//	    virtual_nodes: 320
type Topology struct {
	Hasher              string  `yaml:"hasher"`
	VirtualNodes        int     `yaml:"virtual_nodes"`
	MaxCollisionRetries int     `yaml:"max_collision_retries"`
	Strategy            string  `yaml:"strategy"`
	Shards              []Shard `yaml:"shards"`
}

// Shard is one node entry. VirtualNodes overrides the topology default and
// expresses relative capacity.
type Shard struct {
	ID           string `yaml:"id"`
	VirtualNodes int    `yaml:"virtual_nodes"`
}

// Load reads and validates the topology file at path.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML topology.
func Parse(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing topology: %w", err)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return &t, nil
}

// Validate checks names and shard ids without building anything.
func (t *Topology) Validate() error {
	if _, err := shardring.HasherByName(t.Hasher); err != nil {
		return err
	}

	if _, err := shard.ParseStrategy(t.Strategy); err != nil {
		return err
	}

	if t.VirtualNodes < 0 {
		return fmt.Errorf("virtual_nodes must not be negative, got %d", t.VirtualNodes)
	}

	seen := make(map[string]struct{}, len(t.Shards))
	for i, s := range t.Shards {
		if s.ID == "" {
			return fmt.Errorf("shard %d: %w", i, shardring.ErrInvalidNodeID)
		}

		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("shard %d: %w: %s", i, shardring.ErrDuplicateNode, s.ID)
		}

		seen[s.ID] = struct{}{}
	}

	return nil
}

// Config returns the partition table configuration.
func (t *Topology) Config(logger *log.Logger) (shardring.Config, error) {
	hasher, err := shardring.HasherByName(t.Hasher)
	if err != nil {
		return shardring.Config{}, err
	}

	return shardring.Config{
		Hasher:              hasher,
		VirtualNodes:        t.VirtualNodes,
		MaxCollisionRetries: t.MaxCollisionRetries,
		Logger:              logger,
	}, nil
}

// Build creates an empty store and adds every shard in file order.
func (t *Topology) Build(logger *log.Logger) (*shard.Store, error) {
	cfg, err := t.Config(logger)
	if err != nil {
		return nil, err
	}

	strategy, err := shard.ParseStrategy(t.Strategy)
	if err != nil {
		return nil, err
	}

	store, err := shard.NewStore(shardring.NewPartitionTable(cfg), shard.Config{
		Strategy: strategy,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, s := range t.Shards {
		if err := store.AddShard(s.ID, s.VirtualNodes); err != nil {
			errs = append(errs, fmt.Errorf("adding %s: %w", s.ID, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return store, nil
}
