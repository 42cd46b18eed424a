package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lucasew/edgecache/internal/fetcher"
	"github.com/lucasew/edgecache/internal/partition"
	"github.com/lucasew/edgecache/internal/repository"
	"github.com/lucasew/edgecache/internal/repository/repotest"
)

// origin serves every asset with 200 unless listed in broken (status) or
// the whole origin is down.
type origin struct {
	down   atomic.Bool
	broken map[string]int
}

func (o *origin) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if o.down.Load() {
		return nil, fmt.Errorf("%w: connection refused", fetcher.ErrNetwork)
	}
	status := http.StatusOK
	if s, ok := o.broken[req.URL.Path]; ok {
		status = s
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("asset " + req.URL.Path)),
		Request:    req,
	}, nil
}

func names(t *testing.T, repo repository.Repository) []string {
	t.Helper()
	infos, err := repo.Partitions(context.Background())
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

func TestInstall(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	set := partition.Set{App: "aucsafe", Version: "v2"}
	m := New(repo, &origin{}, set, nil)

	if err := m.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if m.State() != StateInstalled {
		t.Errorf("state = %s, want installed", m.State())
	}
	for _, asset := range DefaultAssets {
		e, err := repo.Match(ctx, set.Static(), asset)
		if err != nil {
			t.Errorf("asset %s not cached: %v", asset, err)
			continue
		}
		if string(e.Body) != "asset "+asset {
			t.Errorf("asset %s body = %q", asset, e.Body)
		}
	}
	if n, _ := repo.Count(ctx, set.Static()); n != len(DefaultAssets) {
		t.Errorf("static count = %d, want %d", n, len(DefaultAssets))
	}
}

func TestInstall_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		org  *origin
	}{
		{"Missing Asset", &origin{broken: map[string]int{"/apple-touch-icon.png": http.StatusNotFound}}},
		{"Server Error", &origin{broken: map[string]int{"/offline.html": http.StatusInternalServerError}}},
		{"Offline", func() *origin { o := &origin{}; o.down.Store(true); return o }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryRepository()
			set := partition.Set{App: "aucsafe", Version: "v2"}
			m := New(repo, tt.org, set, nil)

			if err := m.Install(ctx); err == nil {
				t.Fatal("Install succeeded, want failure")
			}
			if m.State() != StateRedundant {
				t.Errorf("state = %s, want redundant", m.State())
			}
			if n, _ := repo.Count(ctx, set.Static()); n != 0 {
				t.Errorf("static count = %d after failed install, want 0", n)
			}
			if _, err := m.Activate(ctx); !errors.Is(err, ErrNotInstalled) {
				t.Errorf("Activate after failed install = %v, want ErrNotInstalled", err)
			}
		})
	}

	t.Run("Status Error Is Typed", func(t *testing.T) {
		m := New(repository.NewMemoryRepository(), &origin{broken: map[string]int{"/": 404}}, partition.Set{App: "a", Version: "v1"}, nil)
		var statusErr *fetcher.HTTPStatusError
		if err := m.Install(ctx); !errors.As(err, &statusErr) || statusErr.StatusCode != 404 {
			t.Errorf("err = %v, want HTTPStatusError 404", err)
		}
	})
}

func TestActivate_RequiresInstall(t *testing.T) {
	m := New(repository.NewMemoryRepository(), &origin{}, partition.Set{App: "aucsafe", Version: "v2"}, nil)
	if _, err := m.Activate(context.Background()); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("err = %v, want ErrNotInstalled", err)
	}
}

func TestUpgrade(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	v1 := partition.Set{App: "aucsafe", Version: "v1"}
	v2 := partition.Set{App: "aucsafe", Version: "v2"}

	for _, name := range v1.Names() {
		if err := repo.Put(ctx, name, repotest.NewEntry(t, "/old", "old")); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.Put(ctx, "other-app-static-v1", repotest.NewEntry(t, "/x", "x")); err != nil {
		t.Fatal(err)
	}

	m := New(repo, &origin{}, v2, nil)
	if err := m.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	// Old partitions survive until activation.
	if got := names(t, repo); len(got) != 7 {
		t.Fatalf("partitions before activate = %v", got)
	}

	deleted, err := m.Activate(ctx)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(deleted) != 3 {
		t.Errorf("deleted = %v, want the three v1 partitions", deleted)
	}
	if m.State() != StateActive {
		t.Errorf("state = %s, want active", m.State())
	}

	want := map[string]bool{"other-app-static-v1": true}
	for _, n := range v2.Names() {
		want[n] = true
	}
	got := names(t, repo)
	if len(got) != len(want) {
		t.Fatalf("partitions after activate = %v", got)
	}
	for _, n := range got {
		if !want[n] {
			t.Errorf("unexpected partition %s after activate", n)
		}
	}
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	v1 := partition.Set{App: "aucsafe", Version: "v1"}
	v2 := partition.Set{App: "aucsafe", Version: "v2"}

	t.Run("Success", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		set, err := New(repo, &origin{}, v2, nil).Start(ctx)
		if err != nil || set != v2 {
			t.Fatalf("Start = %v, %v", set, err)
		}
	})

	t.Run("Falls Back To Previous Version", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		if err := New(repo, &origin{}, v1, nil).Install(ctx); err != nil {
			t.Fatal(err)
		}
		down := &origin{}
		down.down.Store(true)

		set, err := New(repo, down, v2, nil).Start(ctx)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if set != v1 {
			t.Errorf("serving %v, want %v", set, v1)
		}
		if n, _ := repo.Count(ctx, v1.Static()); n != len(DefaultAssets) {
			t.Errorf("v1 static lost entries: %d", n)
		}
	})

	t.Run("Keeps Cached Copy Of Same Version", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		if err := New(repo, &origin{}, v1, nil).Install(ctx); err != nil {
			t.Fatal(err)
		}
		if err := New(repo, &origin{}, v2, nil).Install(ctx); err != nil {
			t.Fatal(err)
		}
		down := &origin{}
		down.down.Store(true)

		set, err := New(repo, down, v2, nil).Start(ctx)
		if err != nil || set != v2 {
			t.Errorf("Start = %v, %v; want %v", set, err, v2)
		}
	})

	t.Run("No Fallback", func(t *testing.T) {
		down := &origin{}
		down.down.Store(true)
		_, err := New(repository.NewMemoryRepository(), down, v2, nil).Start(ctx)
		if !errors.Is(err, ErrNoFallback) || !errors.Is(err, fetcher.ErrNetwork) {
			t.Errorf("err = %v, want ErrNoFallback wrapping ErrNetwork", err)
		}
	})
}
