package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lucasew/edgecache/internal/fetcher"
	"github.com/lucasew/edgecache/internal/repository"
)

// NetworkFirst prefers a live response and falls back to whatever any
// partition holds for the key. Navigations with nothing cached get the
// offline page.
type NetworkFirst struct {
	Repo      repository.Repository
	Network   fetcher.Fetcher
	Evictor   Evictor
	Metrics   Metrics
	Partition string
	MaxItems  int
	// OfflinePage is the key of the offline fallback document.
	OfflinePage string
}

func (s *NetworkFirst) Handle(ctx context.Context, req *Request) (*Result, error) {
	m := metricsOrNop(s.Metrics)

	resp, err := s.Network.Fetch(ctx, req.HTTP)
	if err == nil {
		if !isOK(resp.StatusCode) {
			return &Result{Response: resp, Source: SourceNetwork}, nil
		}
		entry, readErr := repository.NewEntry(req.Key, resp)
		if readErr == nil {
			store(ctx, s.Repo, s.Evictor, m, s.Partition, s.MaxItems, entry)
			return &Result{Response: entry.Response(req.HTTP), Source: SourceNetwork}, nil
		}
		err = fmt.Errorf("%w: %w", fetcher.ErrNetwork, readErr)
	}

	slog.Debug("Network failed, trying cache", "key", req.Key, "error", err)

	if cached := matchAny(ctx, s.Repo, m, req.Key); cached != nil {
		return &Result{Response: cached.Response(req.HTTP), Source: SourceCache}, nil
	}

	if req.Navigation && s.OfflinePage != "" {
		if page := matchAny(ctx, s.Repo, m, s.OfflinePage); page != nil {
			return &Result{Response: page.Response(req.HTTP), Source: SourceOfflinePage}, nil
		}
		slog.Warn("Offline page is not cached", "key", s.OfflinePage)
	}

	return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
}

func matchAny(ctx context.Context, repo repository.Repository, m Metrics, key string) *repository.Entry {
	e, err := repo.MatchAny(ctx, key)
	if err != nil {
		m.Lookup("any", "miss")
		if !repository.IsMiss(err) {
			slog.Warn("Cache lookup failed, treating as miss", "key", key, "error", err)
		}
		return nil
	}
	m.Lookup("any", "hit")
	return e
}
