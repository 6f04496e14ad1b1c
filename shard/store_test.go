package shard

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvarkadaniel/shardring"
)

var strategies = []Strategy{StrategyFull, StrategyArcDiff}

func newTestStore(t *testing.T, strategy Strategy, virtualCount int, nodes ...string) *Store {
	t.Helper()

	store, err := NewStore(shardring.NewPartitionTable(shardring.Config{}), Config{Strategy: strategy})
	require.NoError(t, err)

	for _, n := range nodes {
		require.NoError(t, store.AddShard(n, virtualCount))
	}

	return store
}

func fill(t *testing.T, store *Store, prefix string, n int) map[string]string {
	t.Helper()

	data := make(map[string]string, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("%s_%d", prefix, i)
		data[key] = fmt.Sprintf("data_%d", i)
		require.NoError(t, store.Put(key, []byte(data[key])))
	}

	return data
}

// assertConsistent checks that every key reads back its value and lives
// only on the backend of the node Locate returns for it.
func assertConsistent(t *testing.T, store *Store, data map[string]string) {
	t.Helper()

	for key, want := range data {
		value, ok, err := store.Get(key)
		require.NoError(t, err)
		require.True(t, ok, "key %s missing", key)
		require.Equal(t, want, string(value), "key %s", key)

		owner, err := store.Locate(key)
		require.NoError(t, err)

		for id, backend := range store.shards {
			_, held, err := backend.LocalGet(key)
			require.NoError(t, err)
			require.Equal(t, id == owner, held, "key %s on %s, owner %s", key, id, owner)
		}
	}

	assert.Equal(t, len(data), store.Len())
}

func sum(stats map[string]int) int {
	total := 0
	for _, n := range stats {
		total += n
	}

	return total
}

func TestStoreScenario(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			store := newTestStore(t, strategy, 3, "shard1", "shard2", "shard3")
			data := fill(t, store, "user", 100)

			stats := store.ShardStats()
			assert.Equal(t, 100, sum(stats))
			assert.Len(t, stats, 3)
			for id, n := range stats {
				assert.NotZero(t, n, "%s holds no keys", id)
			}

			require.NoError(t, store.AddShard("shard4", 3))
			stats = store.ShardStats()
			assert.Equal(t, 100, sum(stats))
			assert.Contains(t, stats, "shard4")
			assertConsistent(t, store, data)

			require.NoError(t, store.RemoveShard("shard2"))
			stats = store.ShardStats()
			assert.Equal(t, 100, sum(stats))
			assert.NotContains(t, stats, "shard2")
			assertConsistent(t, store, data)

			for key := range data {
				owner, err := store.Locate(key)
				require.NoError(t, err)
				assert.NotEqual(t, "shard2", owner)
			}

			assert.Equal(t, StateStable, store.State())
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t, StrategyArcDiff, 0, "a", "b", "c")

	require.NoError(t, store.Put("key", []byte("v1")))
	value, ok, err := store.Get("key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, store.Put("key", []byte("v2")))
	value, _, _ = store.Get("key")
	assert.Equal(t, []byte("v2"), value)

	_, ok, err = store.Get("never-written")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete("key"))
	_, ok, _ = store.Get("key")
	assert.False(t, ok)
	require.NoError(t, store.Delete("key"))
}

func TestStoreNoNodes(t *testing.T) {
	store := newTestStore(t, StrategyArcDiff, 0)

	err := store.Put("key", []byte("v"))
	assert.ErrorIs(t, err, shardring.ErrNoNodesAvailable)

	_, _, err = store.Get("key")
	assert.ErrorIs(t, err, shardring.ErrNoNodesAvailable)

	_, err = store.Locate("key")
	assert.ErrorIs(t, err, shardring.ErrNoNodesAvailable)

	assert.Empty(t, store.ShardStats())
}

func TestStoreAddDuplicate(t *testing.T) {
	store := newTestStore(t, StrategyArcDiff, 0, "a", "b")
	fill(t, store, "key", 50)
	before := store.ShardStats()

	err := store.AddShard("a", 0)
	assert.ErrorIs(t, err, shardring.ErrDuplicateNode)
	assert.Equal(t, before, store.ShardStats())
}

func TestStoreRemoveUnknown(t *testing.T) {
	store := newTestStore(t, StrategyArcDiff, 0, "a", "b")
	fill(t, store, "key", 50)
	before := store.ShardStats()

	err := store.RemoveShard("c")
	assert.ErrorIs(t, err, shardring.ErrUnknownNode)
	assert.Equal(t, before, store.ShardStats())
}

func TestStoreRemoveLastNode(t *testing.T) {
	store := newTestStore(t, StrategyArcDiff, 0, "a")
	data := fill(t, store, "key", 10)

	err := store.RemoveShard("a")
	assert.ErrorIs(t, err, shardring.ErrNoNodesAvailable)
	assert.Equal(t, []string{"a"}, store.Nodes())
	assertConsistent(t, store, data)

	for key := range data {
		require.NoError(t, store.Delete(key))
	}

	require.NoError(t, store.RemoveShard("a"))
	assert.Empty(t, store.Nodes())
}

func TestStorePostRebalanceConsistency(t *testing.T) {
	steps := []struct {
		add    string
		remove string
	}{
		{add: "n4"},
		{remove: "n1"},
		{add: "n5"},
		{add: "n1"},
		{remove: "n3"},
		{remove: "n4"},
		{add: "n6"},
	}

	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			store := newTestStore(t, strategy, 32, "n1", "n2", "n3")
			data := fill(t, store, "key", 2000)

			for i, step := range steps {
				if step.add != "" {
					require.NoError(t, store.AddShard(step.add, 32))
				} else {
					require.NoError(t, store.RemoveShard(step.remove))
				}

				// Overwrite a slice of the keys between changes.
				for j := i * 100; j < i*100+100; j++ {
					key := fmt.Sprintf("key_%d", j)
					data[key] = fmt.Sprintf("step_%d", i)
					require.NoError(t, store.Put(key, []byte(data[key])))
				}

				assertConsistent(t, store, data)
			}
		})
	}
}

func TestStrategiesAgree(t *testing.T) {
	nodes := []string{"node-0", "node-1", "node-2", "node-3", "node-4"}
	full := newTestStore(t, StrategyFull, 0, nodes...)
	diff := newTestStore(t, StrategyArcDiff, 0, nodes...)

	fill(t, full, "key", 10000)
	fill(t, diff, "key", 10000)

	require.NoError(t, full.AddShard("node-5", 0))
	require.NoError(t, diff.AddShard("node-5", 0))

	assert.Equal(t, full.ShardStats(), diff.ShardStats())

	fullReport, diffReport := full.LastRebalance(), diff.LastRebalance()
	assert.Equal(t, fullReport.Moved, diffReport.Moved)
	assert.Equal(t, 10000, fullReport.Scanned)
	assert.LessOrEqual(t, diffReport.Scanned, 10000)

	// Expected share of a sixth node is 1/6.
	moved := float64(diffReport.Moved) / 10000
	assert.InDelta(t, 1.0/6, moved, 1.0/9, "moved fraction %.3f", moved)
	assert.Equal(t, diffReport.Moved, diff.ShardStats()["node-5"])

	require.NoError(t, full.RemoveShard("node-2"))
	require.NoError(t, diff.RemoveShard("node-2"))
	assert.Equal(t, full.ShardStats(), diff.ShardStats())
	assert.Equal(t, full.LastRebalance().Moved, diff.LastRebalance().Moved)
	assert.Equal(t, diff.LastRebalance().Moved, diff.LastRebalance().Scanned)
}

func TestNewStoreUnknownStrategy(t *testing.T) {
	_, err := NewStore(shardring.NewPartitionTable(shardring.Config{}), Config{Strategy: "random"})
	assert.Error(t, err)

	_, err = ParseStrategy("random")
	assert.Error(t, err)

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyArcDiff, s)
}

func TestNewStoreAdoptsTableNodes(t *testing.T) {
	table := shardring.NewPartitionTable(shardring.Config{})
	require.NoError(t, table.AddNode("a", 0))
	require.NoError(t, table.AddNode("b", 0))

	store, err := NewStore(table, Config{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 0}, store.ShardStats())

	data := fill(t, store, "key", 100)
	assertConsistent(t, store, data)
}

// stateRecorder records the store state seen by each write.
type stateRecorder struct {
	*MemoryBackend

	mu     sync.Mutex
	store  **Store
	states []State
}

func (r *stateRecorder) LocalPut(key string, value []byte) error {
	r.mu.Lock()
	r.states = append(r.states, (*r.store).State())
	r.mu.Unlock()

	return r.MemoryBackend.LocalPut(key, value)
}

func TestStoreStateDuringRebalance(t *testing.T) {
	var store *Store
	recorders := make(map[string]*stateRecorder)

	factory := func(nodeID string) ShardBackend {
		r := &stateRecorder{MemoryBackend: NewMemoryBackend(), store: &store}
		recorders[nodeID] = r
		return r
	}

	store, err := NewStore(shardring.NewPartitionTable(shardring.Config{}), Config{Backends: factory})
	require.NoError(t, err)
	require.NoError(t, store.AddShard("a", 0))
	fill(t, store, "key", 500)

	for _, s := range recorders["a"].states {
		assert.Equal(t, StateStable, s)
	}

	require.NoError(t, store.AddShard("b", 0))
	require.NotEmpty(t, recorders["b"].states)
	for _, s := range recorders["b"].states {
		assert.Equal(t, StateRebalancing, s)
	}

	assert.Equal(t, StateStable, store.State())
}

var errBackendFull = errors.New("backend full")

// rejectingBackend refuses every write.
type rejectingBackend struct {
	*MemoryBackend
}

func (rejectingBackend) LocalPut(string, []byte) error {
	return errBackendFull
}

func TestStoreAddShardBackendFailure(t *testing.T) {
	factory := func(nodeID string) ShardBackend {
		if nodeID == "b" {
			return rejectingBackend{NewMemoryBackend()}
		}
		return NewMemoryBackend()
	}

	store, err := NewStore(shardring.NewPartitionTable(shardring.Config{}), Config{Backends: factory})
	require.NoError(t, err)
	require.NoError(t, store.AddShard("a", 0))
	fill(t, store, "key", 200)

	err = store.AddShard("b", 0)
	require.ErrorIs(t, err, errBackendFull)

	// The ring change is kept; nothing was moved off a.
	assert.Equal(t, []string{"a", "b"}, store.Nodes())
	assert.Equal(t, 200, store.ShardStats()["a"])
	assert.Equal(t, 0, store.ShardStats()["b"])
	assert.Equal(t, StateStable, store.State())
	assert.Equal(t, "a", store.LastRebalance().Added)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := newTestStore(t, StrategyArcDiff, 64, "n0", "n1", "n2")
	data := fill(t, store, "stable", 1000)

	var wg sync.WaitGroup
	done := make(chan struct{})

	// Readers must never observe a key missing while it is being migrated.
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				for key, want := range data {
					value, ok, err := store.Get(key)
					if !assert.NoError(t, err) || !assert.True(t, ok, "key %s missing", key) {
						return
					}
					assert.Equal(t, want, string(value))
				}
			}
		}()
	}

	written := make([]map[string]string, 2)
	for g := range written {
		written[g] = make(map[string]string)
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("writer%d_%d", g, i)
				if assert.NoError(t, store.Put(key, []byte(key))) {
					written[g][key] = key
				}
			}
		}(g)
	}

	for i := 3; i < 7; i++ {
		require.NoError(t, store.AddShard(fmt.Sprintf("n%d", i), 64))
	}
	require.NoError(t, store.RemoveShard("n1"))
	require.NoError(t, store.RemoveShard("n4"))

	close(done)
	wg.Wait()

	for _, w := range written {
		for k, v := range w {
			data[k] = v
		}
	}

	assertConsistent(t, store, data)
}

func BenchmarkStorePut(b *testing.B) {
	store, _ := NewStore(shardring.NewPartitionTable(shardring.Config{}), Config{})
	for i := 0; i < 10; i++ {
		store.AddShard(fmt.Sprintf("node%d", i), 0)
	}

	value := []byte("value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Put(fmt.Sprintf("key%d", i), value)
	}
}
