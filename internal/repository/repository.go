package repository

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key (or its partition) is not resident.
	ErrNotFound = errors.New("entry not found")

	// ErrCorrupt is returned when a stored body no longer matches its digest.
	ErrCorrupt = errors.New("entry corrupt")
)

// KeyInfo describes a resident entry without loading its body.
type KeyInfo struct {
	Key      string
	Seq      int64
	StoredAt time.Time
}

// PartitionInfo summarises a partition.
type PartitionInfo struct {
	Name    string
	Entries int
}

// Repository is a set of named, durable key->response partitions.
//
// Put is all-or-nothing: either every entry of the batch becomes visible or none
// does. Putting an existing key replaces it and assigns a fresh insertion sequence,
// so the key moves to the newest position.
type Repository interface {
	// Open creates the partition if it does not exist yet.
	Open(ctx context.Context, partition string) error
	// Partitions lists partitions in creation order.
	Partitions(ctx context.Context) ([]PartitionInfo, error)
	// DeletePartition drops a partition and all its entries.
	DeletePartition(ctx context.Context, partition string) (bool, error)

	Match(ctx context.Context, partition, key string) (*Entry, error)
	// MatchAny searches every partition, oldest partition first.
	MatchAny(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, partition string, entries ...*Entry) error
	Delete(ctx context.Context, partition, key string) (bool, error)

	// Keys lists entries in insertion order (oldest first).
	Keys(ctx context.Context, partition string) ([]KeyInfo, error)
	Count(ctx context.Context, partition string) (int, error)
}

// IsMiss reports whether err means "nothing usable is cached".
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt)
}
