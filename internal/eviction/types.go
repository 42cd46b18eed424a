package eviction

import (
	"context"

	"github.com/lucasew/edgecache/internal/repository"
)

// Victim is an entry chosen for removal.
type Victim struct {
	Key string
	Seq int64
}

// Strategy picks which entries to drop.
type Strategy interface {
	// GetVictims returns n entries to evict out of entries, which are listed in
	// insertion order (oldest first).
	GetVictims(entries []repository.KeyInfo, n int) []Victim
}

// Store is the part of a repository the manager needs.
type Store interface {
	Keys(ctx context.Context, partition string) ([]repository.KeyInfo, error)
	Delete(ctx context.Context, partition, key string) (bool, error)
}
