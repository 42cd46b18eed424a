// Package lifecycle installs and activates a cache version.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/lucasew/edgecache/internal/fetcher"
	"github.com/lucasew/edgecache/internal/partition"
	"github.com/lucasew/edgecache/internal/repository"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of one version.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

var (
	// ErrNotInstalled is returned by Activate before a successful Install.
	ErrNotInstalled = errors.New("version is not installed")

	// ErrNoFallback means install failed and no previous version is resident.
	ErrNoFallback = errors.New("install failed and no previous version is cached")
)

// DefaultAssets is the install manifest.
var DefaultAssets = []string{
	"/",
	"/manifest.json",
	"/favicon.png",
	"/apple-touch-icon.png",
	"/offline.html",
}

// Manager drives one version through install and activation.
type Manager struct {
	repo    repository.Repository
	network fetcher.Fetcher
	set     partition.Set
	assets  []string

	mu    sync.Mutex
	state State
}

// New creates a Manager for set. A nil assets list uses DefaultAssets.
func New(repo repository.Repository, network fetcher.Fetcher, set partition.Set, assets []string) *Manager {
	if assets == nil {
		assets = DefaultAssets
	}
	return &Manager{
		repo:    repo,
		network: network,
		set:     set,
		assets:  assets,
		state:   StateNew,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	slog.Info("Lifecycle transition", "version", m.set.Version, "from", prev, "to", s)
}

// Install fetches every manifest asset and writes them to the static
// partition in one batch. Any transport error or non-2xx status fails the
// whole install and nothing is written.
func (m *Manager) Install(ctx context.Context) error {
	m.setState(StateInstalling)

	entries := make([]*repository.Entry, len(m.assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range m.assets {
		g.Go(func() error {
			e, err := m.fetchAsset(gctx, asset)
			if err != nil {
				return fmt.Errorf("install %s: %w", asset, err)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.setState(StateRedundant)
		return err
	}

	if err := m.repo.Put(ctx, m.set.Static(), entries...); err != nil {
		m.setState(StateRedundant)
		return fmt.Errorf("install: write %s: %w", m.set.Static(), err)
	}
	for _, name := range m.set.Names() {
		if err := m.repo.Open(ctx, name); err != nil {
			m.setState(StateRedundant)
			return fmt.Errorf("install: open %s: %w", name, err)
		}
	}

	m.setState(StateInstalled)
	return nil
}

func (m *Manager) fetchAsset(ctx context.Context, asset string) (*repository.Entry, error) {
	resp, err := fetcher.Get(ctx, m.network, asset)
	if err != nil {
		return nil, err
	}
	e, err := repository.NewEntry(asset, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fetcher.ErrNetwork, err)
	}
	if !e.OK() {
		return nil, &fetcher.HTTPStatusError{URL: asset, StatusCode: e.Status}
	}
	return e, nil
}

// Activate deletes every partition of the app that is not one of the current
// three and returns the deleted names.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	if m.state != StateInstalled {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", ErrNotInstalled, state)
	}
	m.mu.Unlock()
	m.setState(StateActivating)

	infos, err := m.repo.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("activate: list partitions: %w", err)
	}
	var deleted []string
	for _, info := range infos {
		if !m.set.IsStale(info.Name) {
			continue
		}
		if _, err := m.repo.DeletePartition(ctx, info.Name); err != nil {
			return deleted, fmt.Errorf("activate: delete %s: %w", info.Name, err)
		}
		slog.Info("Deleted stale partition", "partition", info.Name, "entries", info.Entries)
		deleted = append(deleted, info.Name)
	}

	m.setState(StateActive)
	return deleted, nil
}

// Start installs and activates the version. When install fails it keeps
// serving whatever is still cached: this version if an earlier install of it
// completed, else the newest previous version. No partition is deleted then.
func (m *Manager) Start(ctx context.Context) (partition.Set, error) {
	installErr := m.Install(ctx)
	if installErr == nil {
		if _, err := m.Activate(ctx); err != nil {
			return m.set, err
		}
		return m.set, nil
	}

	infos, err := m.repo.Partitions(ctx)
	if err != nil {
		return partition.Set{}, errors.Join(installErr, err)
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	if slices.Contains(partition.Detect(m.set.App, names), m.set.Version) {
		slog.Warn("Install failed, serving cached copy of this version", "version", m.set.Version, "error", installErr)
		return m.set, nil
	}
	version, ok := partition.Latest(m.set.App, names, m.set.Version)
	if !ok {
		return partition.Set{}, fmt.Errorf("%w: %w", ErrNoFallback, installErr)
	}
	slog.Warn("Install failed, serving previous version", "version", m.set.Version, "fallback", version, "error", installErr)
	return partition.Set{App: m.set.App, Version: version}, nil
}
