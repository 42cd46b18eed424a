package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lucasew/edgecache/internal/lifecycle"
)

func newOrigin(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/offline.html":
			_, _ = w.Write([]byte("<h1>You are offline</h1>"))
		case "/api/favorites":
			w.WriteHeader(http.StatusCreated)
		default:
			_, _ = w.Write([]byte("origin " + r.URL.Path))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, origin string) Config {
	cfg := DefaultConfig()
	cfg.Origin = origin
	cfg.Storage = StorageMemory
	cfg.DataDir = t.TempDir()
	cfg.EvictionInterval = 0
	return cfg
}

func serve(a *App, method, target string, header map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)
	return w
}

func TestNew(t *testing.T) {
	origin := newOrigin(t)
	a, err := New(context.Background(), testConfig(t, origin.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Lifecycle.State() != lifecycle.StateActive {
		t.Errorf("state = %s, want active", a.Lifecycle.State())
	}
	if a.Partitions.Version != "v2" {
		t.Errorf("serving version %s", a.Partitions.Version)
	}
	if n, _ := a.Repo.Count(context.Background(), "aucsafe-static-v2"); n != len(lifecycle.DefaultAssets) {
		t.Errorf("static entries = %d", n)
	}

	w := serve(a, http.MethodGet, "/auctions", map[string]string{"Sec-Fetch-Mode": "navigate"}, "")
	if w.Body.String() != "origin /auctions" {
		t.Errorf("navigation body = %q", w.Body.String())
	}

	w = serve(a, http.MethodPost, "/_edgecache/queue/sync-favorites", nil, `{"auctionId":1}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue = %d %s", w.Code, w.Body.String())
	}
	w = serve(a, http.MethodPost, "/_edgecache/sync/sync-favorites", nil, "")
	if !strings.Contains(w.Body.String(), `"delivered":1`) {
		t.Errorf("sync report = %s", w.Body.String())
	}

	w = serve(a, http.MethodGet, "/_edgecache/metrics", nil, "")
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "edgecache_requests_total") {
		t.Error("metrics endpoint does not expose request counter")
	}
}

func TestNew_FallbackAcrossRestart(t *testing.T) {
	origin := newOrigin(t)
	dataDir := t.TempDir()

	cfg := testConfig(t, origin.URL)
	cfg.Storage = StorageSQLite
	cfg.DataDir = dataDir
	cfg.Version = "v1"
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New v1: %v", err)
	}
	a.Close()

	origin.Close()
	cfg.Version = "v2"
	a, err = New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New v2 with origin down: %v", err)
	}
	defer a.Close()

	if a.Partitions.Version != "v1" {
		t.Errorf("serving version %s, want v1", a.Partitions.Version)
	}
	w := serve(a, http.MethodGet, "/some/page", map[string]string{"Sec-Fetch-Mode": "navigate"}, "")
	if w.Body.String() != "<h1>You are offline</h1>" {
		t.Errorf("offline navigation body = %q", w.Body.String())
	}
}

func TestNew_Errors(t *testing.T) {
	origin := newOrigin(t)
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"Missing Origin", func(c *Config) { c.Origin = "" }},
		{"Relative Origin", func(c *Config) { c.Origin = "/just/a/path" }},
		{"Unknown Storage", func(c *Config) { c.Storage = "redis" }},
		{"Unknown Eviction Strategy", func(c *Config) { c.EvictionStrategy = "lru" }},
		{"Bad Bypass Pattern", func(c *Config) { c.Bypass = []string{"("} }},
		{"Bad Schedule", func(c *Config) { c.SyncSchedule = "every now and then" }},
		{"Install Fails Without Fallback", func(c *Config) { c.Assets = []string{"/", "/missing"}; c.Origin = "http://127.0.0.1:1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, origin.URL)
			tt.modify(&cfg)
			a, err := New(context.Background(), cfg)
			if err == nil {
				a.Close()
				t.Fatal("New succeeded, want error")
			}
		})
	}
}
