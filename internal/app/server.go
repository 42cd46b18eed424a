package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasew/edgecache/internal/db"
	"github.com/lucasew/edgecache/internal/eviction"
	_ "github.com/lucasew/edgecache/internal/eviction/fifo"
	"github.com/lucasew/edgecache/internal/fetcher"
	"github.com/lucasew/edgecache/internal/handler"
	"github.com/lucasew/edgecache/internal/httpclient"
	"github.com/lucasew/edgecache/internal/lifecycle"
	"github.com/lucasew/edgecache/internal/metrics"
	"github.com/lucasew/edgecache/internal/notify"
	"github.com/lucasew/edgecache/internal/partition"
	"github.com/lucasew/edgecache/internal/proxy"
	"github.com/lucasew/edgecache/internal/repository"
	"github.com/lucasew/edgecache/internal/router"
	"github.com/lucasew/edgecache/internal/strategy"
	"github.com/lucasew/edgecache/internal/syncqueue"
)

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

type Config struct {
	Port   int
	Origin string

	App     string
	Version string
	Assets  []string

	Storage string
	DataDir string

	APIPrefix   string
	AdminPrefix string
	OfflinePage string
	Bypass      []string

	ImagesLimit       int
	DynamicLimit      int
	EvictionStrategy  string
	EvictionInterval  time.Duration
	RevalidateTimeout time.Duration
	UpstreamTimeout   time.Duration

	SyncSchedule    string
	SyncConcurrency int

	CaCertPath    string
	CaKeyPath     string
	CaCertContent string
	CaKeyContent  string
}

// DefaultConfig returns the settings of the auction site deployment.
func DefaultConfig() Config {
	return Config{
		Port:              8080,
		App:               "aucsafe",
		Version:           "v2",
		Storage:           StorageSQLite,
		DataDir:           "./data",
		APIPrefix:         router.DefaultAPIPrefix,
		AdminPrefix:       handler.DefaultPrefix,
		OfflinePage:       "/offline.html",
		ImagesLimit:       100,
		DynamicLimit:      50,
		EvictionStrategy:  "fifo",
		EvictionInterval:  time.Minute,
		RevalidateTimeout: 30 * time.Second,
		UpstreamTimeout:   httpclient.DefaultTimeout,
		SyncConcurrency:   syncqueue.DefaultConcurrency,
	}
}

// App is a fully wired edge cache.
type App struct {
	Handler    *proxy.Server
	Admin      *handler.AdminHandler
	Repo       repository.Repository
	Queue      *syncqueue.Queue
	Lifecycle  *lifecycle.Manager
	Partitions partition.Set
	Metrics    *metrics.Metrics

	cancel  context.CancelFunc
	closers []func()
}

// Close stops background work and releases storage.
func (a *App) Close() {
	a.cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type stores struct {
	repo    repository.Repository
	pending syncqueue.Store
	close   func()
}

func openStores(cfg Config) (*stores, error) {
	switch cfg.Storage {
	case StorageMemory:
		slog.Warn("Using in-memory storage; cache and pending writes are lost on exit")
		return &stores{
			repo:    repository.NewMemoryRepository(),
			pending: syncqueue.NewMemoryStore(),
			close:   func() {},
		}, nil
	case StorageSQLite, "":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
		}
		dbPath := filepath.Join(cfg.DataDir, "edgecache.db")
		database, err := db.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
		}
		slog.Info("Opened cache database", "path", dbPath)
		return &stores{
			repo:    db.NewCacheStore(database),
			pending: db.NewPendingStore(database),
			close: func() {
				if err := database.Close(); err != nil {
					slog.Warn("Failed to close database", "error", err)
				}
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage %q (want %s or %s)", cfg.Storage, StorageSQLite, StorageMemory)
	}
}

// New wires every component, installs and activates the cache version and
// starts background work. Installation talks to the origin; when it fails the
// newest cached version is served instead.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.Origin == "" {
		return nil, errors.New("origin is required")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", cfg.Origin)
	}

	strat, err := eviction.GetStrategy(cfg.EvictionStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize eviction strategy: %w", err)
	}
	rules, err := proxy.ParseRules(cfg.Bypass)
	if err != nil {
		return nil, err
	}
	caCert, err := proxy.LoadCA(cfg.CaCertContent, cfg.CaKeyContent, cfg.CaCertPath, cfg.CaKeyPath)
	if err != nil {
		return nil, err
	}

	st, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a := &App{
		Repo:    st.repo,
		Metrics: metrics.New("edgecache"),
		cancel:  cancel,
		closers: []func(){st.close},
	}

	transport := httpclient.NewTransport(caCert)
	network := fetcher.NewHTTPFetcher(httpclient.NewClient(transport, cfg.UpstreamTimeout), origin)

	a.Lifecycle = lifecycle.New(st.repo, network, partition.Set{App: cfg.App, Version: cfg.Version}, cfg.Assets)
	set, err := a.Lifecycle.Start(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Partitions = set

	mgr := eviction.NewManager(st.repo, strat, cfg.EvictionInterval)
	mgr.SetLimit(set.Images(), cfg.ImagesLimit)
	mgr.SetLimit(set.Dynamic(), cfg.DynamicLimit)
	mgr.OnEvict(a.Metrics.Evicted)
	go mgr.Start(bgCtx)

	tasks := strategy.NewTasks(bgCtx, cfg.RevalidateTimeout)
	a.closers = append(a.closers, tasks.Close)

	rt := &router.Router{
		Origin:    origin,
		APIPrefix: cfg.APIPrefix,
		API:       &strategy.NetworkOnly{Network: network},
		Images: &strategy.StaleWhileRevalidate{
			Repo:      st.repo,
			Network:   network,
			Evictor:   mgr,
			Tasks:     tasks,
			Metrics:   a.Metrics,
			Partition: set.Images(),
			MaxItems:  cfg.ImagesLimit,
		},
		Static: &strategy.CacheFirst{
			Repo:      st.repo,
			Network:   network,
			Metrics:   a.Metrics,
			Partition: set.Static(),
			Timeout:   cfg.UpstreamTimeout,
		},
		Navigation: &strategy.NetworkFirst{
			Repo:        st.repo,
			Network:     network,
			Evictor:     mgr,
			Metrics:     a.Metrics,
			Partition:   set.Dynamic(),
			MaxItems:    cfg.DynamicLimit,
			OfflinePage: cfg.OfflinePage,
		},
		Metrics: a.Metrics,
	}

	a.Queue = syncqueue.NewQueue(st.pending, &syncqueue.HTTPDeliverer{Network: network}, syncqueue.Options{
		Concurrency: cfg.SyncConcurrency,
		Metrics:     a.Metrics,
	})
	if cfg.SyncSchedule != "" {
		sched, err := syncqueue.NewScheduler(a.Queue, cfg.SyncSchedule)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid sync schedule %q: %w", cfg.SyncSchedule, err)
		}
		go func() {
			if err := sched.Run(bgCtx); err != nil {
				slog.Error("Sync scheduler stopped", "error", err)
			}
		}()
	}

	hub := notify.NewHub()
	a.Admin = handler.NewAdminHandler(&handler.AdminHandler{
		Prefix:     cfg.AdminPrefix,
		Repo:       st.repo,
		Partitions: set,
		Queue:      a.Queue,
		Dispatcher: notify.NewDispatcher(hub, a.Metrics),
		Hub:        hub,
		Metrics:    a.Metrics.Handler(),
	})

	a.Handler = proxy.NewServer(rt, a.Admin, origin, rules, transport, caCert)
	return a, nil
}

// NewServer creates the HTTP server serving the proxy and the admin API on
// one port. The returned cleanup stops background work.
func NewServer(ctx context.Context, cfg Config) (*http.Server, func(), error) {
	a, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Starting server (reverse + forward proxy)", "addr", addr, "origin", cfg.Origin,
		"version", a.Partitions.Version, "storage", cfg.Storage, "admin", a.Admin.Prefix)

	server := &http.Server{
		Addr:              addr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server, a.Close, nil
}
