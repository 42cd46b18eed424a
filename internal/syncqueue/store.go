package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrRecordNotFound is returned when a pending record is no longer stored.
var ErrRecordNotFound = errors.New("pending record not found")

// Record is a client mutation waiting to reach the origin.
//
// ID doubles as the idempotency key sent with every delivery attempt, so an
// origin that remembers keys can drop the duplicate produced by a lost ack.
type Record struct {
	ID        string          `json:"id"`
	Tag       string          `json:"tag"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the durable pending-write store. It is namespaced by tag and kept
// apart from the HTTP cache partitions.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, tag, id string) (Record, error)
	List(ctx context.Context, tag string) ([]Record, error)
	Delete(ctx context.Context, tag, id string) error
	MarkFailed(ctx context.Context, tag, id, reason string) error
	Count(ctx context.Context, tag string) (int, error)
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.records[rec.Tag]
	if !ok {
		byID = make(map[string]Record)
		s.records[rec.Tag] = byID
	}
	byID[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tag, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tag][id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(ctx context.Context, tag string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]Record, 0, len(s.records[tag]))
	for _, rec := range s.records[tag] {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func (s *MemoryStore) Delete(ctx context.Context, tag, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[tag], id)
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, tag, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tag][id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Attempts++
	rec.LastError = reason
	s.records[tag][id] = rec
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, tag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[tag]), nil
}
