package assets

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-stream/engine/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstantiator struct {
	mu           sync.Mutex
	bound        uint32
	classes      map[AssetID]AssetClass
	instantiated map[AssetID]int
	released     map[AssetID]int
	latches      int
	// zeroCost makes instantiation report failure for these IDs.
	zeroCost map[AssetID]bool
}

func newFakeInstantiator() *fakeInstantiator {
	return &fakeInstantiator{
		classes:      make(map[AssetID]AssetClass),
		instantiated: make(map[AssetID]int),
		released:     make(map[AssetID]int),
		zeroCost:     make(map[AssetID]bool),
	}
}

func (f *fakeInstantiator) SetIDBounds(bound uint32) {
	f.mu.Lock()
	f.bound = bound
	f.mu.Unlock()
}

func (f *fakeInstantiator) SetAssetClass(id AssetID, class AssetClass) {
	f.mu.Lock()
	f.classes[id] = class
	f.mu.Unlock()
}

func (f *fakeInstantiator) EstimateCost(id AssetID, file vfs.File) uint64 {
	return file.Size()
}

func (f *fakeInstantiator) Instantiate(costs CostUpdater, group TaskGroup, id AssetID, file vfs.File) {
	group.Enqueue(func() {
		f.mu.Lock()
		f.instantiated[id]++
		zero := f.zeroCost[id]
		f.mu.Unlock()
		if zero {
			costs.UpdateCost(id, 0)
		} else {
			costs.UpdateCost(id, file.Size())
		}
	})
}

func (f *fakeInstantiator) Release(id AssetID) {
	f.mu.Lock()
	f.released[id]++
	f.mu.Unlock()
}

func (f *fakeInstantiator) LatchHandles() {
	f.mu.Lock()
	f.latches++
	f.mu.Unlock()
}

func (f *fakeInstantiator) count(id AssetID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instantiated[id]
}

// heldGroup queues tasks until run is called.
type heldGroup struct {
	tasks []func()
}

func (g *heldGroup) Enqueue(task func()) {
	g.tasks = append(g.tasks, task)
}

func (g *heldGroup) run() {
	tasks := g.tasks
	g.tasks = nil
	for _, t := range tasks {
		t()
	}
}

func sized(name string, size int) vfs.File {
	return vfs.NewMemoryFile(name, make([]byte, size))
}

func newManager(t *testing.T, budget, perIteration uint64) (*AssetManager, *fakeInstantiator) {
	m, err := NewAssetManager(&AssetManagerConfig{Budget: budget, BudgetPerIteration: perIteration, MaxPendingIterations: 3})
	require.NoError(t, err)
	f := newFakeInstantiator()
	m.SetInstantiator(f)
	return m, f
}

func TestRegisterInformsInstantiator(t *testing.T) {
	m, f := newManager(t, 1000, 1000)
	a := m.Register(sized("a", 10), ClassColor, 1)
	b := m.Register(sized("b", 10), ClassMesh, 1)

	assert.Equal(t, AssetID(0), a)
	assert.Equal(t, AssetID(1), b)
	assert.Equal(t, uint32(2), f.bound)
	assert.Equal(t, ClassMesh, f.classes[b])
	assert.True(t, a.Valid())
	assert.False(t, InvalidAssetID.Valid())
}

func TestIterateActivatesByPriorityWithinBudget(t *testing.T) {
	m, f := newManager(t, 250, 1000)
	low := m.Register(sized("low", 100), ClassColor, 1)
	high := m.Register(sized("high", 100), ClassColor, 3)
	mid := m.Register(sized("mid", 100), ClassColor, 2)
	off := m.Register(sized("off", 10), ClassColor, 0)

	m.Iterate(nil)
	assert.Equal(t, 1, f.count(high))
	assert.Equal(t, 1, f.count(mid))
	assert.Equal(t, 0, f.count(low))
	assert.Equal(t, 0, f.count(off))
	assert.Equal(t, 1, f.latches)

	m.Iterate(nil)
	assert.Equal(t, uint64(200), m.TotalConsumed())
	consumed, pending := m.Consumed(high)
	assert.Equal(t, uint64(100), consumed)
	assert.Zero(t, pending)
	assert.Equal(t, 0, f.count(low))
}

func TestIterateRespectsPerIterationBudget(t *testing.T) {
	m, f := newManager(t, 1000, 150)
	ids := []AssetID{
		m.Register(sized("a", 100), ClassColor, 1),
		m.Register(sized("b", 100), ClassColor, 1),
		m.Register(sized("c", 100), ClassColor, 1),
	}

	m.Iterate(nil)
	assert.Equal(t, 1, f.count(ids[0]))
	assert.Equal(t, 1, f.count(ids[1]))
	assert.Equal(t, 0, f.count(ids[2]))

	m.Iterate(nil)
	assert.Equal(t, 1, f.count(ids[2]))
}

func TestIterateReleasesWhenOverBudget(t *testing.T) {
	m, f := newManager(t, 1000, 1000)
	keep := m.Register(sized("keep", 100), ClassColor, 3)
	first := m.Register(sized("first", 100), ClassColor, 2)
	second := m.Register(sized("second", 100), ClassColor, 1)
	m.Iterate(nil)
	m.Iterate(nil)
	require.Equal(t, uint64(300), m.TotalConsumed())

	m.SetBudget(150)
	m.Iterate(nil)
	assert.Equal(t, 0, f.released[keep])
	assert.Equal(t, 1, f.released[first])
	assert.Equal(t, 1, f.released[second])
	assert.Equal(t, uint64(100), m.TotalConsumed())
}

func TestFailedAssetIsNotRetried(t *testing.T) {
	m, f := newManager(t, 1000, 1000)
	id := m.Register(sized("broken", 100), ClassColor, 1)
	f.zeroCost[id] = true

	m.Iterate(nil)
	m.Iterate(nil)
	m.Iterate(nil)
	assert.Equal(t, 1, f.count(id))
	assert.Zero(t, m.TotalConsumed())

	require.True(t, m.SetResidencyPriority(id, 2))
	m.Iterate(nil)
	assert.Equal(t, 2, f.count(id))
	assert.False(t, m.SetResidencyPriority(AssetID(7), 1))
}

func TestMarkUsedOrdersActivation(t *testing.T) {
	m, f := newManager(t, 100, 1000)
	a := m.Register(sized("a", 100), ClassColor, 1)
	b := m.Register(sized("b", 100), ClassColor, 1)

	m.MarkUsed(b)
	m.Iterate(nil)
	assert.Equal(t, 0, f.count(a))
	assert.Equal(t, 1, f.count(b))
}

func TestIterateBlockingIgnoresBudget(t *testing.T) {
	m, f := newManager(t, 0, 0)
	id := m.Register(sized("a", 100), ClassColor, 1)

	m.Iterate(nil)
	assert.Equal(t, 0, f.count(id))

	assert.True(t, m.IterateBlocking(nil, id))
	assert.Equal(t, 1, f.count(id))
	// Already pending, nothing new is started.
	assert.True(t, m.IterateBlocking(nil, id))
	assert.Equal(t, 1, f.count(id))
	assert.False(t, m.IterateBlocking(nil, AssetID(3)))
}

func TestIterateOnlyLatchesWithTooMuchPendingWork(t *testing.T) {
	m, err := NewAssetManager(&AssetManagerConfig{Budget: 1000, BudgetPerIteration: 100, MaxPendingIterations: 1})
	require.NoError(t, err)
	f := newFakeInstantiator()
	m.SetInstantiator(f)
	a := m.Register(sized("a", 100), ClassColor, 1)
	b := m.Register(sized("b", 100), ClassColor, 1)

	group := &heldGroup{}
	m.Iterate(group)
	require.Len(t, group.tasks, 1)

	m.Iterate(group)
	assert.Equal(t, 2, f.latches)
	assert.Len(t, group.tasks, 1)

	group.run()
	assert.Equal(t, 1, f.count(a))
	m.Iterate(group)
	group.run()
	assert.Equal(t, 1, f.count(b))
}

func TestSetInstantiatorReleasesPrevious(t *testing.T) {
	m, f := newManager(t, 1000, 1000)
	id := m.Register(sized("a", 100), ClassColor, 1)
	m.Iterate(nil)

	next := newFakeInstantiator()
	m.SetInstantiator(next)
	assert.Equal(t, 1, f.released[id])
	assert.Equal(t, uint32(1), next.bound)
	assert.Zero(t, m.TotalConsumed())

	m.Iterate(nil)
	assert.Equal(t, 1, next.count(id))
}

func TestNewAssetManagerRejectsBadConfig(t *testing.T) {
	_, err := NewAssetManager(&AssetManagerConfig{})
	assert.Error(t, err)
}

func TestClassFromPath(t *testing.T) {
	cases := map[string]AssetClass{
		"rock.msh":           ClassMesh,
		"rock.meshlet.lz4":   ClassMesh,
		"rock_normal.png":    ClassNormal,
		"rock_mr.atx":        ClassMetallicRoughness,
		"textures/rock.JPG":  ClassColor,
		"textures/rock.webp": ClassColor,
		"textures/rock.atx":  ClassColor,
	}
	for path, want := range cases {
		got, ok := ClassFromPath(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	_, ok := ClassFromPath("notes.txt")
	assert.False(t, ok)
}

func TestWatchReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rock.png")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	m, f := newManager(t, 1000, 1000)
	id, err := m.RegisterPath(path, 1)
	require.NoError(t, err)
	again, err := m.RegisterPath(path, 1)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	require.NoError(t, m.Watch(dir))
	assert.ErrorIs(t, m.Watch(dir), ErrAlreadyWatching)
	defer m.Shutdown()

	m.Iterate(nil)
	m.Iterate(nil)
	require.Equal(t, 1, f.count(id))

	require.NoError(t, os.WriteFile(path, make([]byte, 32), 0o644))
	// A rewrite can arrive as several events, so only the end state is checked.
	require.Eventually(t, func() bool {
		m.Iterate(nil)
		return f.count(id) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		m.Iterate(nil)
		return m.PendingReloads() == 0 && m.TotalConsumed() == 32
	}, 5*time.Second, 10*time.Millisecond)
	f.mu.Lock()
	assert.GreaterOrEqual(t, f.released[id], 1)
	f.mu.Unlock()

	_, err = m.RegisterPath(filepath.Join(dir, "notes.txt"), 1)
	assert.Error(t, err)
}
