// Package strategy implements the caching strategies the router dispatches to.
//
// Each strategy owns writes to its partition; no partition is written by two
// strategies. Failed cache writes are logged and swallowed: serving the
// response always wins over caching it.
package strategy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lucasew/edgecache/internal/repository"
)

// ErrNoResponse means neither the network nor any cache could answer.
var ErrNoResponse = errors.New("no response available")

// Source tells where a response came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceOfflineStub Source = "offline-stub"
	SourceOfflinePage Source = "offline-page"
)

// Request is an intercepted request after classification.
type Request struct {
	HTTP *http.Request
	// Key identifies the request inside a partition.
	Key string
	// Navigation marks a full-page load, which may fall back to the offline page.
	Navigation bool
}

// Result is the outcome of handling one request.
type Result struct {
	Response *http.Response
	Source   Source
	// Background is the revalidation spawned for this request, if any.
	// Production callers never wait on it.
	Background *Task
}

// Strategy answers one intercepted request.
type Strategy interface {
	Handle(ctx context.Context, req *Request) (*Result, error)
}

// Evictor bounds a partition after an insert.
type Evictor interface {
	BoundedInsert(ctx context.Context, partition string, maxItems int) (int, error)
}

// Metrics is the subset of metrics the strategies record.
type Metrics interface {
	Lookup(partition, result string)
	Put(partition string, err error)
	Revalidated(result string)
}

type nopMetrics struct{}

func (nopMetrics) Lookup(string, string) {}
func (nopMetrics) Put(string, error)     {}
func (nopMetrics) Revalidated(string)    {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

func isOK(status int) bool {
	return status >= 200 && status <= 299
}

// match looks key up in partition and treats any failure as a miss.
func match(ctx context.Context, repo repository.Repository, m Metrics, partition, key string) *repository.Entry {
	e, err := repo.Match(ctx, partition, key)
	switch {
	case err == nil:
		m.Lookup(partition, "hit")
		return e
	case errors.Is(err, repository.ErrNotFound):
		m.Lookup(partition, "miss")
	case errors.Is(err, repository.ErrCorrupt):
		m.Lookup(partition, "corrupt")
		slog.Warn("Ignoring corrupt cache entry", "partition", partition, "key", key, "error", err)
	default:
		m.Lookup(partition, "error")
		slog.Warn("Cache lookup failed, treating as miss", "partition", partition, "key", key, "error", err)
	}
	return nil
}

// store writes e into partition and, when maxItems > 0, bounds the partition.
// Errors are logged, never returned.
func store(ctx context.Context, repo repository.Repository, ev Evictor, m Metrics, partition string, maxItems int, e *repository.Entry) {
	err := repo.Put(ctx, partition, e)
	m.Put(partition, err)
	if err != nil {
		slog.Warn("Failed to cache response", "partition", partition, "key", e.Key, "error", err)
		return
	}
	if ev == nil || maxItems <= 0 {
		return
	}
	if _, err := ev.BoundedInsert(ctx, partition, maxItems); err != nil {
		slog.Warn("Failed to bound partition", "partition", partition, "error", err)
	}
}
