// Package repotest holds behaviour tests every repository.Repository must pass.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lucasew/edgecache/internal/repository"
)

// TestRepository runs the full suite against a fresh repository from newRepo.
func TestRepository(t *testing.T, newRepo func(t *testing.T) repository.Repository) {
	t.Run("PutMatch", func(t *testing.T) { testPutMatch(t, newRepo(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newRepo(t)) })
	t.Run("InsertionOrder", func(t *testing.T) { testInsertionOrder(t, newRepo(t)) })
	t.Run("MatchAny", func(t *testing.T) { testMatchAny(t, newRepo(t)) })
	t.Run("Partitions", func(t *testing.T) { testPartitions(t, newRepo(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
}

// NewEntry builds an entry for key with body, failing the test on error.
func NewEntry(t *testing.T, key, body string) *repository.Entry {
	t.Helper()
	h := make(http.Header)
	h.Set("Content-Type", "text/plain")
	e, err := repository.NewEntryFromBytes(key, http.StatusOK, h, []byte(body))
	if err != nil {
		t.Fatalf("NewEntryFromBytes(%s): %v", key, err)
	}
	return e
}

func testPutMatch(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	if err := repo.Put(ctx, "p", NewEntry(t, "/a", "alpha")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, err := repo.Match(ctx, "p", "/a")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if string(e.Body) != "alpha" {
		t.Errorf("body = %q, want alpha", e.Body)
	}
	if e.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", e.Status)
	}
	if e.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("content-type = %q", e.Header.Get("Content-Type"))
	}

	if _, err := repo.Match(ctx, "p", "/missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Match(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := repo.Match(ctx, "nope", "/a"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Match(unknown partition) err = %v, want ErrNotFound", err)
	}
}

func testOverwrite(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	mustPut(t, repo, "p", "/a", "one")
	mustPut(t, repo, "p", "/b", "two")
	mustPut(t, repo, "p", "/a", "three")

	e, err := repo.Match(ctx, "p", "/a")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if string(e.Body) != "three" {
		t.Errorf("body = %q, want three", e.Body)
	}
	n, err := repo.Count(ctx, "p")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	keys, err := repo.Keys(ctx, "p")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0].Key != "/b" || keys[1].Key != "/a" {
		t.Errorf("keys = %+v, want [/b /a]", keys)
	}
}

func testInsertionOrder(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustPut(t, repo, "p", fmt.Sprintf("/%d", i), "x")
	}
	// A read must not move a key.
	if _, err := repo.Match(ctx, "p", "/0"); err != nil {
		t.Fatalf("Match: %v", err)
	}
	keys, err := repo.Keys(ctx, "p")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	for i, k := range keys {
		if k.Key != fmt.Sprintf("/%d", i) {
			t.Errorf("keys[%d] = %s, want /%d", i, k.Key, i)
		}
		if i > 0 && keys[i-1].Seq >= k.Seq {
			t.Errorf("sequence not increasing at %d", i)
		}
	}
}

func testMatchAny(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	mustPut(t, repo, "first", "/shared", "from-first")
	mustPut(t, repo, "second", "/shared", "from-second")
	mustPut(t, repo, "second", "/only", "only")

	e, err := repo.MatchAny(ctx, "/shared")
	if err != nil {
		t.Fatalf("MatchAny: %v", err)
	}
	if string(e.Body) != "from-first" {
		t.Errorf("MatchAny body = %q, want from-first", e.Body)
	}
	e, err = repo.MatchAny(ctx, "/only")
	if err != nil {
		t.Fatalf("MatchAny(/only): %v", err)
	}
	if string(e.Body) != "only" {
		t.Errorf("MatchAny(/only) body = %q", e.Body)
	}
	if _, err := repo.MatchAny(ctx, "/none"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("MatchAny(/none) err = %v, want ErrNotFound", err)
	}
}

func testPartitions(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	if err := repo.Open(ctx, "a"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustPut(t, repo, "b", "/x", "x")
	if err := repo.Open(ctx, "a"); err != nil {
		t.Fatalf("Open twice: %v", err)
	}

	infos, err := repo.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "a" || infos[1].Name != "b" {
		t.Fatalf("partitions = %+v, want [a b]", infos)
	}
	if infos[0].Entries != 0 || infos[1].Entries != 1 {
		t.Errorf("entry counts = %d,%d want 0,1", infos[0].Entries, infos[1].Entries)
	}

	deleted, err := repo.DeletePartition(ctx, "b")
	if err != nil || !deleted {
		t.Fatalf("DeletePartition(b) = %v, %v", deleted, err)
	}
	if _, err := repo.Match(ctx, "b", "/x"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("entry survived partition delete: %v", err)
	}
	deleted, err = repo.DeletePartition(ctx, "b")
	if err != nil || deleted {
		t.Errorf("second DeletePartition(b) = %v, %v", deleted, err)
	}
}

func testDelete(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	mustPut(t, repo, "p", "/a", "a")
	ok, err := repo.Delete(ctx, "p", "/a")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = repo.Delete(ctx, "p", "/a")
	if err != nil || ok {
		t.Errorf("second Delete = %v, %v", ok, err)
	}
	n, _ := repo.Count(ctx, "p")
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func mustPut(t *testing.T, repo repository.Repository, partition, key, body string) {
	t.Helper()
	if err := repo.Put(context.Background(), partition, NewEntry(t, key, body)); err != nil {
		t.Fatalf("Put(%s, %s): %v", partition, key, err)
	}
}
