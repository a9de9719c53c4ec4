package assets

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-stream/engine/core"
	"github.com/spaghettifunk/anima-stream/engine/vfs"
)

type AssetManagerConfig struct {
	/** @brief Total cost in bytes resident assets may consume. */
	Budget uint64
	/** @brief Estimated cost that may be activated by one Iterate call. */
	BudgetPerIteration uint64
	/** @brief Iterations with outstanding tasks before Iterate only latches. */
	MaxPendingIterations int64
}

type assetInfo struct {
	id    AssetID
	file  vfs.File
	path  string
	class AssetClass
	prio  int

	consumed        uint64
	pendingConsumed uint64
	lastUsed        uint64
	// failed is set when instantiation reported zero cost. Failed assets are
	// not activated again until they are reloaded or reprioritized.
	failed bool
}

type costUpdate struct {
	id   AssetID
	cost uint64
}

// AssetManager decides which registered assets are resident. Iterate is meant
// to be called once per frame from a single goroutine; UpdateCost and
// MarkUsed are safe from anywhere.
type AssetManager struct {
	config AssetManagerConfig

	mu            sync.Mutex
	bank          []*assetInfo
	byPath        map[string]AssetID
	iface         Instantiator
	totalConsumed uint64
	timestamp     uint64
	inflight      atomic.Int64

	costMu      sync.Mutex
	costUpdates []costUpdate

	lruMu sync.Mutex
	lru   []AssetID

	reloadMu sync.Mutex
	reloads  map[AssetID]struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewAssetManager(config *AssetManagerConfig) (*AssetManager, error) {
	if config.MaxPendingIterations <= 0 {
		return nil, fmt.Errorf("max pending iterations must be > 0, got %d", config.MaxPendingIterations)
	}
	return &AssetManager{
		config:    *config,
		byPath:    make(map[string]AssetID),
		reloads:   make(map[AssetID]struct{}),
		timestamp: 1,
	}, nil
}

// SetInstantiator swaps the instantiator. Everything the previous one held is
// released and all accounting starts over.
func (m *AssetManager) SetInstantiator(iface Instantiator) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.iface != nil {
		for _, a := range m.bank {
			m.iface.Release(a.id)
		}
	}
	for _, a := range m.bank {
		a.consumed = 0
		a.pendingConsumed = 0
		a.lastUsed = 0
		a.failed = false
	}
	m.totalConsumed = 0

	m.iface = iface
	if iface != nil {
		iface.SetIDBounds(uint32(len(m.bank)))
		for _, a := range m.bank {
			iface.SetAssetClass(a.id, a.class)
		}
	}
}

func (m *AssetManager) SetBudget(cost uint64) {
	m.mu.Lock()
	m.config.Budget = cost
	m.mu.Unlock()
}

func (m *AssetManager) SetBudgetPerIteration(cost uint64) {
	m.mu.Lock()
	m.config.BudgetPerIteration = cost
	m.mu.Unlock()
}

// Register adds a file and returns its ID. Priority 0 means not resident.
func (m *AssetManager) Register(file vfs.File, class AssetClass, prio int) AssetID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerLocked(file, "", class, prio)
}

func (m *AssetManager) registerLocked(file vfs.File, path string, class AssetClass, prio int) AssetID {
	id := AssetID(len(m.bank))
	m.bank = append(m.bank, &assetInfo{id: id, file: file, path: path, class: class, prio: prio})
	if path != "" {
		m.byPath[path] = id
	}
	if m.iface != nil {
		m.iface.SetIDBounds(uint32(len(m.bank)))
		m.iface.SetAssetClass(id, class)
	}
	return id
}

// RegisterPath opens a file on disk and registers it with the class its
// extension suggests. Registering the same path twice returns the first ID.
func (m *AssetManager) RegisterPath(path string, prio int) (AssetID, error) {
	class, ok := ClassFromPath(path)
	if !ok {
		return InvalidAssetID, fmt.Errorf("no asset class for '%s'", path)
	}
	return m.RegisterPathAs(path, class, prio)
}

func (m *AssetManager) RegisterPathAs(path string, class AssetClass, prio int) (AssetID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return InvalidAssetID, err
	}
	file, err := vfs.Open(abs)
	if err != nil {
		return InvalidAssetID, fmt.Errorf("failed to open asset: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byPath[abs]; ok {
		return id, nil
	}
	return m.registerLocked(file, abs, class, prio), nil
}

func (m *AssetManager) SetResidencyPriority(id AssetID, prio int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.bank) {
		return false
	}
	m.bank[id].prio = prio
	m.bank[id].failed = false
	return true
}

// UpdateCost records the real cost of an asset. It is applied on the next
// Iterate.
func (m *AssetManager) UpdateCost(id AssetID, cost uint64) {
	m.costMu.Lock()
	m.costUpdates = append(m.costUpdates, costUpdate{id: id, cost: cost})
	m.costMu.Unlock()
}

// MarkUsed bumps the asset in the LRU order.
func (m *AssetManager) MarkUsed(id AssetID) {
	m.lruMu.Lock()
	m.lru = append(m.lru, id)
	m.lruMu.Unlock()
}

func (m *AssetManager) TotalConsumed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalConsumed
}

// Consumed returns the settled and the pending cost of an asset.
func (m *AssetManager) Consumed(id AssetID) (consumed, pending uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.bank) {
		return 0, 0
	}
	return m.bank[id].consumed, m.bank[id].pendingConsumed
}

func (m *AssetManager) applyCostUpdates() {
	m.costMu.Lock()
	updates := m.costUpdates
	m.costUpdates = nil
	m.costMu.Unlock()

	for _, u := range updates {
		if int(u.id) >= len(m.bank) {
			continue
		}
		a := m.bank[u.id]
		m.totalConsumed = m.totalConsumed - (a.consumed + a.pendingConsumed) + u.cost
		a.consumed = u.cost
		a.pendingConsumed = 0
		a.failed = u.cost == 0
	}
}

func (m *AssetManager) applyUsage() {
	m.lruMu.Lock()
	used := m.lru
	m.lru = nil
	m.lruMu.Unlock()

	for _, id := range used {
		if int(id) < len(m.bank) {
			m.bank[id].lastUsed = m.timestamp
		}
	}
}

// applyReloads releases assets whose files changed so the activation pass
// picks them up again. Assets still loading are retried next iteration.
func (m *AssetManager) applyReloads() {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	for id := range m.reloads {
		if int(id) >= len(m.bank) {
			delete(m.reloads, id)
			continue
		}
		a := m.bank[id]
		if a.pendingConsumed != 0 {
			continue
		}
		if a.consumed != 0 {
			m.release(a)
		}
		a.failed = false
		delete(m.reloads, id)
		core.LogInfo("reloading asset %d (%s)", id, a.path)
	}
}

func (m *AssetManager) release(a *assetInfo) {
	m.iface.Release(a.id)
	m.totalConsumed -= a.consumed
	a.consumed = 0
}

// iteration counts the tasks of one Iterate call. The counter starts at one
// for the call itself so the iteration cannot retire before it ends.
type iteration struct {
	manager   *AssetManager
	inner     TaskGroup
	remaining atomic.Int64
}

func (m *AssetManager) beginIteration(group TaskGroup) *iteration {
	it := &iteration{manager: m, inner: group}
	it.remaining.Store(1)
	m.inflight.Add(1)
	return it
}

func (it *iteration) done() {
	if it.remaining.Add(-1) == 0 {
		it.manager.inflight.Add(-1)
	}
}

func (it *iteration) Enqueue(task func()) {
	it.remaining.Add(1)
	run := func() {
		defer it.done()
		task()
	}
	if it.inner == nil {
		run()
		return
	}
	it.inner.Enqueue(run)
}

// Iterate activates assets by priority within budget, releases the least
// valuable ones when over budget and latches completed work.
func (m *AssetManager) Iterate(group TaskGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.iface == nil {
		return
	}
	if m.inflight.Load() >= m.config.MaxPendingIterations {
		m.iface.LatchHandles()
		return
	}

	m.applyCostUpdates()
	m.applyUsage()
	m.applyReloads()

	sorted := make([]*assetInfo, len(m.bank))
	copy(sorted, m.bank)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.prio != b.prio:
			return a.prio > b.prio
		case a.lastUsed != b.lastUsed:
			return a.lastUsed > b.lastUsed
		case a.consumed != b.consumed:
			return a.consumed < b.consumed
		case a.pendingConsumed != b.pendingConsumed:
			return a.pendingConsumed > b.pendingConsumed
		default:
			return a.id < b.id
		}
	})

	it := m.beginIteration(group)
	releaseIndex := len(sorted)
	activateIndex := 0
	var activated uint64

	canActivate := true
	for canActivate &&
		m.totalConsumed < m.config.Budget &&
		activated < m.config.BudgetPerIteration &&
		activateIndex != releaseIndex {
		candidate := sorted[activateIndex]
		if candidate.prio <= 0 {
			break
		}
		if candidate.consumed != 0 || candidate.pendingConsumed != 0 || candidate.failed {
			activateIndex++
			continue
		}

		estimate := m.iface.EstimateCost(candidate.id, candidate.file)
		canActivate = m.totalConsumed+estimate <= m.config.Budget
		for !canActivate && activateIndex+1 != releaseIndex {
			releaseIndex--
			if victim := sorted[releaseIndex]; victim.consumed != 0 {
				m.release(victim)
			}
			canActivate = m.totalConsumed+estimate <= m.config.Budget
		}

		if canActivate {
			m.iface.Instantiate(m, it, candidate.id, candidate.file)
			candidate.pendingConsumed = estimate
			m.totalConsumed += estimate
			// One activation may overshoot the per iteration budget so that
			// progress is made whatever the limit.
			activated += estimate
			activateIndex++
		}
	}

	for m.totalConsumed > m.config.Budget && releaseIndex != activateIndex {
		releaseIndex--
		if victim := sorted[releaseIndex]; victim.consumed != 0 {
			m.release(victim)
		}
	}

	it.done()
	m.iface.LatchHandles()
	m.timestamp++
}

// IterateBlocking starts instantiating one asset right away, ignoring budgets.
// It returns false if the asset does not exist or nothing can instantiate it.
func (m *AssetManager) IterateBlocking(group TaskGroup, id AssetID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.iface == nil || int(id) >= len(m.bank) {
		return false
	}
	a := m.bank[id]
	if a.consumed != 0 || a.pendingConsumed != 0 {
		return true
	}

	estimate := m.iface.EstimateCost(id, a.file)
	a.failed = false
	it := m.beginIteration(group)
	m.iface.Instantiate(m, it, id, a.file)
	it.done()
	a.pendingConsumed = estimate
	m.totalConsumed += estimate
	return true
}

func (m *AssetManager) requestReload(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	m.mu.Lock()
	id, ok := m.byPath[abs]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.reloadMu.Lock()
	m.reloads[id] = struct{}{}
	m.reloadMu.Unlock()
}

// PendingReloads is the number of changed files not yet reloaded.
func (m *AssetManager) PendingReloads() int {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return len(m.reloads)
}

// Shutdown stops watching and detaches the instantiator.
func (m *AssetManager) Shutdown() error {
	var err error
	if m.watcher != nil {
		close(m.done)
		m.wg.Wait()
		err = m.watcher.Close()
		m.watcher = nil
	}
	m.SetInstantiator(nil)
	return err
}
