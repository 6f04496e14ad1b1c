package shard

import (
	"fmt"
	"time"
)

// Strategy names a key migration policy. Every strategy leaves each key on
// the node Locate returns for it once the topology change completes.
type Strategy string

const (
	// StrategyFull collects every pair, clears every node and writes all of
	// them again. It rewrites the whole dataset on each topology change.
	StrategyFull Strategy = "full"

	// StrategyArcDiff moves only the keys whose owner changed: on add it
	// scans the nodes that donated arcs to the new node, on remove it
	// re-routes the departed node's keys.
	StrategyArcDiff Strategy = "arc-diff"
)

// ParseStrategy resolves a configuration name. Empty selects StrategyArcDiff.
func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return StrategyArcDiff, nil
	}

	s := Strategy(name)
	if _, err := rebalancerFor(s); err != nil {
		return "", err
	}

	return s, nil
}

// Report summarizes one rebalance.
type Report struct {
	Strategy Strategy
	Added    string
	Removed  string

	// Scanned is the number of pairs inspected, Moved the number that
	// ended up on a different node.
	Scanned int
	Moved   int

	Duration time.Duration
}

type topologyChange struct {
	added   string
	removed string

	// orphans holds the removed node's pairs, captured before the node
	// left the table.
	orphans []pair
}

type pair struct {
	key   string
	value []byte
	from  string
}

type rebalancer func(s *Store, change topologyChange, report *Report) error

func rebalancerFor(strategy Strategy) (rebalancer, error) {
	switch strategy {
	case StrategyFull:
		return rebalanceFull, nil
	case StrategyArcDiff:
		return rebalanceArcDiff, nil
	default:
		return nil, fmt.Errorf("unknown rebalance strategy %q", strategy)
	}
}

// rebalance runs with s.mu held exclusively.
func (s *Store) rebalance(change topologyChange) error {
	s.state.Store(StateRebalancing)
	defer s.state.Store(StateStable)

	run, err := rebalancerFor(s.strategy)
	if err != nil {
		return err
	}

	report := Report{Strategy: s.strategy, Added: change.added, Removed: change.removed}
	start := time.Now()

	if err := run(s, change, &report); err != nil {
		s.logger.Printf("[store] rebalance (%s) failed after moving %d keys: %v", s.strategy, report.Moved, err)
		return fmt.Errorf("rebalance: %w", err)
	}

	report.Duration = time.Since(start)
	s.last = report

	s.logger.Printf("[store] rebalanced (%s, +%q -%q): scanned %d, moved %d in %s",
		s.strategy, change.added, change.removed, report.Scanned, report.Moved, report.Duration)

	return nil
}

func rebalanceFull(s *Store, change topologyChange, report *Report) error {
	pairs := change.orphans
	for id, backend := range s.shards {
		collected, err := collectFrom(id, backend)
		if err != nil {
			return err
		}

		pairs = append(pairs, collected...)
	}

	for _, p := range pairs {
		if p.from == change.removed {
			continue
		}

		if err := s.shards[p.from].LocalDelete(p.key); err != nil {
			return fmt.Errorf("clearing %s: %w", p.from, err)
		}
	}

	report.Scanned = len(pairs)

	return s.reput(pairs, report)
}

func rebalanceArcDiff(s *Store, change topologyChange, report *Report) error {
	if change.removed != "" {
		report.Scanned = len(change.orphans)
		return s.reput(change.orphans, report)
	}

	donors, err := s.table.Neighbors(change.added)
	if err != nil {
		return err
	}

	target := s.shards[change.added]
	for _, donor := range donors {
		pairs, err := collectFrom(donor, s.shards[donor])
		if err != nil {
			return err
		}

		report.Scanned += len(pairs)

		for _, p := range pairs {
			owner, err := s.table.Locate(p.key)
			if err != nil {
				return err
			}

			if owner != change.added {
				continue
			}

			if err := target.LocalPut(p.key, p.value); err != nil {
				return fmt.Errorf("moving %q to %s: %w", p.key, change.added, err)
			}

			if err := s.shards[donor].LocalDelete(p.key); err != nil {
				return fmt.Errorf("moving %q off %s: %w", p.key, donor, err)
			}

			report.Moved++
		}
	}

	return nil
}

// reput routes every pair through the current table.
func (s *Store) reput(pairs []pair, report *Report) error {
	for _, p := range pairs {
		backend, owner, err := s.route(p.key)
		if err != nil {
			return err
		}

		if err := backend.LocalPut(p.key, p.value); err != nil {
			return fmt.Errorf("put %q on %s: %w", p.key, owner, err)
		}

		if owner != p.from {
			report.Moved++
		}
	}

	return nil
}

func collectFrom(nodeID string, backend ShardBackend) ([]pair, error) {
	pairs := make([]pair, 0, backend.LocalLen())
	err := backend.LocalRange(func(key string, value []byte) bool {
		pairs = append(pairs, pair{key: key, value: value, from: nodeID})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", nodeID, err)
	}

	return pairs, nil
}
