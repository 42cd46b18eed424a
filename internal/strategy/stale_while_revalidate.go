package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lucasew/edgecache/internal/fetcher"
	"github.com/lucasew/edgecache/internal/repository"
	"golang.org/x/sync/singleflight"
)

// StaleWhileRevalidate serves from its partition when it can and always
// refreshes the entry in the background.
//
// The network fetch starts right away, concurrently with the cache lookup's
// result being returned. A hit returns without waiting; a miss waits for the
// fetch. A failed refresh after a hit is swallowed.
type StaleWhileRevalidate struct {
	Repo      repository.Repository
	Network   fetcher.Fetcher
	Evictor   Evictor
	Tasks     *Tasks
	Metrics   Metrics
	Partition string
	MaxItems  int

	group singleflight.Group
}

type fetchResult struct {
	entry *repository.Entry
	err   error
}

func (s *StaleWhileRevalidate) Handle(ctx context.Context, req *Request) (*Result, error) {
	m := metricsOrNop(s.Metrics)
	cached := match(ctx, s.Repo, m, s.Partition, req.Key)

	network := make(chan fetchResult, 1)
	task := s.Tasks.Go(func(bg context.Context) error {
		v, err, _ := s.group.Do(req.Key, func() (any, error) {
			return s.revalidate(bg, req)
		})
		entry, _ := v.(*repository.Entry)
		network <- fetchResult{entry: entry, err: err}
		if err != nil {
			m.Revalidated("error")
		} else {
			m.Revalidated("ok")
		}
		return err
	})

	if cached != nil {
		return &Result{Response: cached.Response(req.HTTP), Source: SourceCache, Background: task}, nil
	}

	select {
	case r := <-network:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoResponse, r.err)
		}
		return &Result{Response: r.entry.Response(req.HTTP), Source: SourceNetwork, Background: task}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *StaleWhileRevalidate) revalidate(ctx context.Context, req *Request) (*repository.Entry, error) {
	resp, err := s.Network.Fetch(ctx, req.HTTP)
	if err != nil {
		slog.Debug("Revalidation fetch failed", "key", req.Key, "error", err)
		return nil, err
	}
	entry, err := repository.NewEntry(req.Key, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fetcher.ErrNetwork, err)
	}
	if entry.OK() {
		store(ctx, s.Repo, s.Evictor, metricsOrNop(s.Metrics), s.Partition, s.MaxItems, entry)
	}
	return entry, nil
}
