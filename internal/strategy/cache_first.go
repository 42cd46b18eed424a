package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasew/edgecache/internal/fetcher"
	"github.com/lucasew/edgecache/internal/repository"
	"golang.org/x/sync/singleflight"
)

// CacheFirst answers from its partition and only goes to the network on a
// miss. The partition is never bounded: it holds build-versioned assets that
// are dropped as a whole when the version changes.
type CacheFirst struct {
	Repo      repository.Repository
	Network   fetcher.Fetcher
	Metrics   Metrics
	Partition string
	// Timeout bounds the shared fetch of a miss (0 = no limit).
	Timeout time.Duration

	group singleflight.Group
}

func (s *CacheFirst) Handle(ctx context.Context, req *Request) (*Result, error) {
	m := metricsOrNop(s.Metrics)
	if cached := match(ctx, s.Repo, m, s.Partition, req.Key); cached != nil {
		return &Result{Response: cached.Response(req.HTTP), Source: SourceCache}, nil
	}

	// Concurrent misses for the same asset share one fetch. It runs detached
	// so a caller that goes away does not fail the others waiting on it.
	ch := s.group.DoChan(req.Key, func() (any, error) {
		fetchCtx, cancel := context.WithoutCancel(ctx), context.CancelFunc(func() {})
		if s.Timeout > 0 {
			fetchCtx, cancel = context.WithTimeout(fetchCtx, s.Timeout)
		}
		defer cancel()

		resp, err := s.Network.Fetch(fetchCtx, req.HTTP)
		if err != nil {
			return nil, err
		}
		entry, err := repository.NewEntry(req.Key, resp)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fetcher.ErrNetwork, err)
		}
		if entry.OK() {
			store(fetchCtx, s.Repo, nil, m, s.Partition, 0, entry)
		}
		return entry, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoResponse, r.Err)
		}
		return &Result{Response: r.Val.(*repository.Entry).Response(req.HTTP), Source: SourceNetwork}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, ctx.Err())
	}
}
