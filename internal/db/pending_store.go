package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lucasew/edgecache/internal/syncqueue"
)

// PendingStore is the durable syncqueue.Store. Records live in their own table,
// separate from the HTTP cache partitions.
type PendingStore struct {
	d *DB
}

func NewPendingStore(d *DB) *PendingStore {
	return &PendingStore{d: d}
}

var _ syncqueue.Store = (*PendingStore)(nil)

func (s *PendingStore) Put(ctx context.Context, rec syncqueue.Record) error {
	_, err := s.d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_writes (tag, id, payload, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Tag, rec.ID, []byte(rec.Payload), rec.Attempts, rec.LastError, rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store pending record %s: %w", rec.ID, err)
	}
	return nil
}

const recordColumns = "tag, id, payload, attempts, last_error, created_at"

func scanRecord(row interface{ Scan(...any) error }) (syncqueue.Record, error) {
	var (
		rec       syncqueue.Record
		payload   []byte
		createdAt int64
	)
	if err := row.Scan(&rec.Tag, &rec.ID, &payload, &rec.Attempts, &rec.LastError, &createdAt); err != nil {
		return syncqueue.Record{}, err
	}
	rec.Payload = payload
	rec.CreatedAt = time.Unix(0, createdAt)
	return rec, nil
}

func (s *PendingStore) Get(ctx context.Context, tag, id string) (syncqueue.Record, error) {
	row := s.d.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM pending_writes WHERE tag = ? AND id = ?", tag, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return syncqueue.Record{}, syncqueue.ErrRecordNotFound
	}
	if err != nil {
		return syncqueue.Record{}, fmt.Errorf("failed to get pending record %s: %w", id, err)
	}
	return rec, nil
}

func (s *PendingStore) List(ctx context.Context, tag string) ([]syncqueue.Record, error) {
	rows, err := s.d.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM pending_writes WHERE tag = ? ORDER BY created_at", tag)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recs := make([]syncqueue.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *PendingStore) Delete(ctx context.Context, tag, id string) error {
	if _, err := s.d.db.ExecContext(ctx, "DELETE FROM pending_writes WHERE tag = ? AND id = ?", tag, id); err != nil {
		return fmt.Errorf("failed to delete pending record %s: %w", id, err)
	}
	return nil
}

func (s *PendingStore) MarkFailed(ctx context.Context, tag, id, reason string) error {
	res, err := s.d.db.ExecContext(ctx,
		"UPDATE pending_writes SET attempts = attempts + 1, last_error = ? WHERE tag = ? AND id = ?",
		reason, tag, id)
	if err != nil {
		return fmt.Errorf("failed to update pending record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return syncqueue.ErrRecordNotFound
	}
	return nil
}

func (s *PendingStore) Count(ctx context.Context, tag string) (int, error) {
	var n int
	if err := s.d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_writes WHERE tag = ?", tag).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return n, nil
}
