package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository. It backs tests and the
// "memory" storage mode; nothing survives a restart.
type MemoryRepository struct {
	mu         sync.RWMutex
	seq        int64
	partitions map[string]*memPartition
}

type memPartition struct {
	created int64
	entries map[string]*Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{partitions: make(map[string]*memPartition)}
}

func (r *MemoryRepository) open(partition string) *memPartition {
	p, ok := r.partitions[partition]
	if !ok {
		r.seq++
		p = &memPartition{created: r.seq, entries: make(map[string]*Entry)}
		r.partitions[partition] = p
	}
	return p
}

func (r *MemoryRepository) Open(ctx context.Context, partition string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open(partition)
	return nil
}

func (r *MemoryRepository) Partitions(ctx context.Context) ([]PartitionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.partitionsLocked(), nil
}

func (r *MemoryRepository) partitionsLocked() []PartitionInfo {
	names := make([]string, 0, len(r.partitions))
	for name := range r.partitions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.partitions[names[i]].created < r.partitions[names[j]].created
	})
	infos := make([]PartitionInfo, len(names))
	for i, name := range names {
		infos[i] = PartitionInfo{Name: name, Entries: len(r.partitions[name].entries)}
	}
	return infos
}

func (r *MemoryRepository) DeletePartition(ctx context.Context, partition string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.partitions[partition]; !ok {
		return false, nil
	}
	delete(r.partitions, partition)
	return true, nil
}

func (r *MemoryRepository) Match(ctx context.Context, partition, key string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.partitions[partition]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := p.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return Checked(e.clone(), partition)
}

func (r *MemoryRepository) MatchAny(ctx context.Context, key string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var corrupt error
	for _, info := range r.partitionsLocked() {
		e, ok := r.partitions[info.Name].entries[key]
		if !ok {
			continue
		}
		checked, err := Checked(e.clone(), info.Name)
		if err != nil {
			corrupt = err
			continue
		}
		return checked, nil
	}
	if corrupt != nil {
		return nil, corrupt
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) Put(ctx context.Context, partition string, entries ...*Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.open(partition)
	now := time.Now()
	for _, e := range entries {
		r.seq++
		c := e.clone()
		c.Seq = r.seq
		c.StoredAt = now
		p.entries[c.Key] = c
	}
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, partition, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partitions[partition]
	if !ok {
		return false, nil
	}
	if _, ok := p.entries[key]; !ok {
		return false, nil
	}
	delete(p.entries, key)
	return true, nil
}

func (r *MemoryRepository) Keys(ctx context.Context, partition string) ([]KeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.partitions[partition]
	if !ok {
		return nil, nil
	}
	keys := make([]KeyInfo, 0, len(p.entries))
	for _, e := range p.entries {
		keys = append(keys, KeyInfo{Key: e.Key, Seq: e.Seq, StoredAt: e.StoredAt})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Seq < keys[j].Seq })
	return keys, nil
}

func (r *MemoryRepository) Count(ctx context.Context, partition string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.partitions[partition]
	if !ok {
		return 0, nil
	}
	return len(p.entries), nil
}

// Corrupt flips a byte of a stored body. Tests use it to simulate a torn write.
func (r *MemoryRepository) Corrupt(partition, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partitions[partition]
	if !ok {
		return false
	}
	e, ok := p.entries[key]
	if !ok || len(e.Body) == 0 {
		return false
	}
	e.Body[0] ^= 0xff
	return true
}
