package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lucasew/edgecache/internal/repository"
)

// CacheStore is a repository.Repository persisted in SQLite. Each Put runs in
// one transaction, so a batch is either fully stored or not at all.
type CacheStore struct {
	d *DB
}

func NewCacheStore(d *DB) *CacheStore {
	return &CacheStore{d: d}
}

var _ repository.Repository = (*CacheStore)(nil)

func (s *CacheStore) Open(ctx context.Context, partition string) error {
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := openPartition(tx, partition); err != nil {
		return err
	}
	return tx.Commit()
}

func openPartition(tx *sql.Tx, partition string) error {
	var exists int
	err := tx.QueryRow("SELECT 1 FROM partitions WHERE name = ?", partition).Scan(&exists)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up partition %s: %w", partition, err)
	}
	seq, err := nextSeq(tx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO partitions (name, created_seq) VALUES (?, ?)", partition, seq); err != nil {
		return fmt.Errorf("failed to create partition %s: %w", partition, err)
	}
	return nil
}

func (s *CacheStore) Partitions(ctx context.Context) ([]repository.PartitionInfo, error) {
	rows, err := s.d.db.QueryContext(ctx, `
		SELECT p.name, COUNT(e.key)
		FROM partitions p LEFT JOIN entries e ON e.partition = p.name
		GROUP BY p.name
		ORDER BY p.created_seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []repository.PartitionInfo
	for rows.Next() {
		var info repository.PartitionInfo
		if err := rows.Scan(&info.Name, &info.Entries); err != nil {
			return nil, fmt.Errorf("failed to scan partition: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *CacheStore) DeletePartition(ctx context.Context, partition string) (bool, error) {
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE partition = ?", partition); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", partition, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM partitions WHERE name = ?", partition)
	if err != nil {
		return false, fmt.Errorf("failed to delete partition %s: %w", partition, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n > 0, nil
}

const entryColumns = "key, seq, status, header, body, digest, stored_at"

func scanEntry(row interface{ Scan(...any) error }) (*repository.Entry, error) {
	var (
		e        repository.Entry
		header   string
		storedAt int64
	)
	if err := row.Scan(&e.Key, &e.Seq, &e.Status, &header, &e.Body, &e.Digest, &storedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("%w: bad header for %s: %v", repository.ErrCorrupt, e.Key, err)
	}
	e.StoredAt = time.Unix(0, storedAt)
	return &e, nil
}

func (s *CacheStore) Match(ctx context.Context, partition, key string) (*repository.Entry, error) {
	row := s.d.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE partition = ? AND key = ?", partition, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match %s in %s: %w", key, partition, err)
	}
	return repository.Checked(e, partition)
}

func (s *CacheStore) MatchAny(ctx context.Context, key string) (*repository.Entry, error) {
	rows, err := s.d.db.QueryContext(ctx, `
		SELECT e.partition, e.key, e.seq, e.status, e.header, e.body, e.digest, e.stored_at
		FROM entries e JOIN partitions p ON p.name = e.partition
		WHERE e.key = ?
		ORDER BY p.created_seq`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to match %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	// A corrupt copy in one partition does not hide a valid one in the next.
	var corrupt error
	for rows.Next() {
		var partition string
		e, err := scanEntry(prefixedScanner{rows, &partition})
		if err == nil {
			e, err = repository.Checked(e, partition)
		}
		if errors.Is(err, repository.ErrCorrupt) {
			corrupt = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to match %s: %w", key, err)
		}
		return e, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to match %s: %w", key, err)
	}
	if corrupt != nil {
		return nil, corrupt
	}
	return nil, repository.ErrNotFound
}

// prefixedScanner scans a leading column into dest before the entry columns.
type prefixedScanner struct {
	rows *sql.Rows
	dest *string
}

func (p prefixedScanner) Scan(dest ...any) error {
	return p.rows.Scan(append([]any{p.dest}, dest...)...)
}

func (s *CacheStore) Put(ctx context.Context, partition string, entries ...*repository.Entry) error {
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := openPartition(tx, partition); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO entries (partition, `+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixNano()
	for _, e := range entries {
		header, err := json.Marshal(headerOrEmpty(e.Header))
		if err != nil {
			return fmt.Errorf("failed to encode header for %s: %w", e.Key, err)
		}
		seq, err := nextSeq(tx)
		if err != nil {
			return err
		}
		body := e.Body
		if body == nil {
			body = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, partition, e.Key, seq, e.Status, string(header), body, e.Digest, now); err != nil {
			return fmt.Errorf("failed to insert %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func headerOrEmpty(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h
}

func (s *CacheStore) Delete(ctx context.Context, partition, key string) (bool, error) {
	res, err := s.d.db.ExecContext(ctx, "DELETE FROM entries WHERE partition = ? AND key = ?", partition, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s from %s: %w", key, partition, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *CacheStore) Keys(ctx context.Context, partition string) ([]repository.KeyInfo, error) {
	rows, err := s.d.db.QueryContext(ctx,
		"SELECT key, seq, stored_at FROM entries WHERE partition = ? ORDER BY seq", partition)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of %s: %w", partition, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []repository.KeyInfo
	for rows.Next() {
		var (
			k        repository.KeyInfo
			storedAt int64
		)
		if err := rows.Scan(&k.Key, &k.Seq, &storedAt); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		k.StoredAt = time.Unix(0, storedAt)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *CacheStore) Count(ctx context.Context, partition string) (int, error) {
	var n int
	err := s.d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE partition = ?", partition).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", partition, err)
	}
	return n, nil
}
