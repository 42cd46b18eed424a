package eviction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lucasew/edgecache/internal/eviction/policy"
	"github.com/lucasew/edgecache/internal/eviction/policy/maxitems"
)

// maxRounds bounds how often BoundedInsert re-checks a partition that keeps
// growing under concurrent inserts.
const maxRounds = 8

// Manager keeps partitions within their entry limits.
type Manager struct {
	store    Store
	strategy Strategy
	interval time.Duration

	mu      sync.Mutex
	limits  map[string][]policy.Policy
	locks   map[string]*sync.Mutex
	onEvict func(partition string, n int)
}

// NewManager creates a new eviction Manager.
func NewManager(store Store, strategy Strategy, interval time.Duration) *Manager {
	return &Manager{
		store:    store,
		strategy: strategy,
		interval: interval,
		limits:   make(map[string][]policy.Policy),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetLimit registers a partition bound; the background sweep enforces it.
func (m *Manager) SetLimit(partition string, maxItems int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[partition] = []policy.Policy{&maxitems.Policy{MaxItems: maxItems}}
}

// OnEvict sets a hook called after entries are removed from a partition.
func (m *Manager) OnEvict(fn func(partition string, n int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

func (m *Manager) partitionLock(partition string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[partition]
	if !ok {
		l = &sync.Mutex{}
		m.locks[partition] = l
	}
	return l
}

// BoundedInsert is called after an insert into partition. It removes the oldest
// entries until at most maxItems remain and returns how many were evicted.
// Calling it on a partition already within the limit changes nothing.
func (m *Manager) BoundedInsert(ctx context.Context, partition string, maxItems int) (int, error) {
	return m.Enforce(ctx, partition, &maxitems.Policy{MaxItems: maxItems})
}

// Enforce applies policies to partition. Evictions for one partition are
// serialised; inserts are not, so the loop re-reads the partition until it
// converges.
func (m *Manager) Enforce(ctx context.Context, partition string, policies ...policy.Policy) (int, error) {
	l := m.partitionLock(partition)
	l.Lock()
	defer l.Unlock()

	total := 0
	for round := 0; round < maxRounds; round++ {
		keys, err := m.store.Keys(ctx, partition)
		if err != nil {
			return total, fmt.Errorf("failed to list %s: %w", partition, err)
		}

		toFree := 0
		for _, p := range policies {
			if n := p.ItemsToFree(len(keys)); n > toFree {
				toFree = n
			}
		}
		if toFree <= 0 {
			break
		}

		victims := m.strategy.GetVictims(keys, toFree)
		if len(victims) == 0 {
			break
		}

		removed := 0
		for _, victim := range victims {
			ok, err := m.store.Delete(ctx, partition, victim.Key)
			if err != nil {
				slog.Error("Failed to evict entry", "partition", partition, "key", victim.Key, "error", err)
				continue
			}
			if ok {
				removed++
			}
		}
		total += removed
		slog.Debug("Evicted entries", "partition", partition, "count", removed, "resident", len(keys)-removed)

		if removed == 0 {
			return total, fmt.Errorf("eviction in %s made no progress", partition)
		}
	}

	if total > 0 {
		m.mu.Lock()
		hook := m.onEvict
		m.mu.Unlock()
		if hook != nil {
			hook(partition, total)
		}
	}
	return total, nil
}

// Start runs the background eviction loop until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunEviction(ctx)
		}
	}
}

// RunEviction enforces every registered limit once.
func (m *Manager) RunEviction(ctx context.Context) {
	m.mu.Lock()
	partitions := make([]string, 0, len(m.limits))
	for p := range m.limits {
		partitions = append(partitions, p)
	}
	m.mu.Unlock()
	sort.Strings(partitions)

	for _, partition := range partitions {
		m.mu.Lock()
		policies := m.limits[partition]
		m.mu.Unlock()

		n, err := m.Enforce(ctx, partition, policies...)
		if err != nil {
			slog.Error("Eviction sweep failed", "partition", partition, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("Eviction sweep removed entries", "partition", partition, "count", n)
		}
	}
}
