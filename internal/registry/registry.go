// Package registry tracks fixture documents on disk and publishes immutable
// snapshots of the active set.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-facesync/internal/config"
	"github.com/loqalabs/loqa-facesync/internal/fixture"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	ActiveDir   = "active_models"
	InactiveDir = "inactive_models"

	// DefaultChannelBudget is reported when no fixture is active.
	DefaultChannelBudget = 512
	channelAlignment     = 64
)

var (
	ErrNotFound    = errors.New("fixture not found")
	ErrInvalidName = errors.New("invalid fixture file name")
	ErrExists      = errors.New("fixture already exists")
)

// Listing names the fixture files in each directory, sorted ascending.
type Listing struct {
	Active   []string `json:"active"`
	Inactive []string `json:"inactive"`
}

type Registry struct {
	root   string
	opts   fixture.ParseOptions
	log    *slog.Logger
	mu     sync.Mutex
	cache  map[string]*fixture.Model
	snap   atomic.Pointer[Snapshot]
	meter  metric.Meter
	active metric.Int64ObservableGauge
	budget metric.Int64ObservableGauge
}

// New creates the fixture directories when missing and loads the active set.
func New(cfg config.FixturesConfig, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		root:  cfg.Directory,
		log:   log.With(slog.String("component", "fixture-registry")),
		cache: make(map[string]*fixture.Model),
		meter: otel.Meter("github.com/loqalabs/loqa-facesync/registry"),
	}
	r.opts = fixture.ParseOptions{StateSlots: cfg.StateSlots, Logger: r.log}

	for _, dir := range []string{ActiveDir, InactiveDir} {
		if err := os.MkdirAll(filepath.Join(r.root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r, nil
}

// Snapshot returns the current immutable view of the active fixtures.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// TotalChannelBudget is the budget of the current snapshot.
func (r *Registry) TotalChannelBudget() uint32 {
	return r.Snapshot().TotalChannelBudget()
}

func (r *Registry) List() (Listing, error) {
	active, err := r.listDir(ActiveDir)
	if err != nil {
		return Listing{}, err
	}
	inactive, err := r.listDir(InactiveDir)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Active: active, Inactive: inactive}, nil
}

// Load returns the parsed fixture from either directory. Results are cached
// by file name until the next reload.
func (r *Registry) Load(name string) (*fixture.Model, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(name)
}

func (r *Registry) loadLocked(name string) (*fixture.Model, error) {
	if m, ok := r.cache[name]; ok {
		return m, nil
	}
	path, ok := r.locate(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	m, err := fixture.ParseFile(path, r.opts)
	if err != nil {
		return nil, err
	}
	r.cache[name] = m
	return m, nil
}

func (r *Registry) Activate(name string) error {
	return r.move(name, InactiveDir, ActiveDir)
}

func (r *Registry) Deactivate(name string) error {
	return r.move(name, ActiveDir, InactiveDir)
}

func (r *Registry) move(name, from, to string) error {
	if err := validName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	src := filepath.Join(r.root, from, name)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s not in %s", ErrNotFound, name, from)
		}
		return err
	}
	if err := os.Rename(src, filepath.Join(r.root, to, name)); err != nil {
		return fmt.Errorf("move %s: %w", name, err)
	}
	r.log.Info("fixture moved", slog.String("fixture", name), slog.String("to", to))
	return r.reloadLocked()
}

// Upload stores a new fixture document after checking that it parses.
func (r *Registry) Upload(name string, data []byte, activate bool) (*fixture.Model, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	m, err := fixture.Parse(bytes.NewReader(data), name, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.locate(name); exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	dir := InactiveDir
	if activate {
		dir = ActiveDir
	}
	path := filepath.Join(r.root, dir, name)
	tmp := path + ".upload"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write fixture: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("commit fixture: %w", err)
	}
	r.log.Info("fixture uploaded", slog.String("fixture", name), slog.Bool("active", activate))
	if err := r.reloadLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload drops the parse cache and rebuilds the snapshot from disk.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked()
}

func (r *Registry) reloadLocked() error {
	names, err := r.listDir(ActiveDir)
	if err != nil {
		return err
	}
	r.cache = make(map[string]*fixture.Model)
	fixtures := make([]Fixture, 0, len(names))
	for _, name := range names {
		m, err := r.loadLocked(name)
		if err != nil {
			r.log.Warn("skipping fixture", slog.String("fixture", name), slog.String("error", err.Error()))
			continue
		}
		fixtures = append(fixtures, Fixture{Model: m, Role: fixture.Categorize(m)})
	}
	version := uint64(1)
	if prev := r.snap.Load(); prev != nil {
		version = prev.Version + 1
	}
	r.snap.Store(newSnapshot(version, fixtures))
	r.log.Info("fixtures loaded",
		slog.Int("active", len(fixtures)),
		slog.Int("channel_budget", int(r.snap.Load().TotalChannelBudget())))
	return nil
}

func (r *Registry) locate(name string) (string, bool) {
	for _, dir := range []string{ActiveDir, InactiveDir} {
		path := filepath.Join(r.root, dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func (r *Registry) listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsFixtureFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// LatestTemplate returns the most recently modified .xsq sequence template
// kept next to the active fixtures.
func (r *Registry) LatestTemplate() (string, bool) {
	dir := filepath.Join(r.root, ActiveDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var (
		latest string
		newest time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xsq") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(newest) {
			latest = filepath.Join(dir, e.Name())
			newest = info.ModTime()
		}
	}
	return latest, latest != ""
}

// IsFixtureFile reports whether name has a fixture document extension.
func IsFixtureFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".xmodel" || ext == ".model"
}

func validName(name string) error {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !IsFixtureFile(name) {
		return fmt.Errorf("%w: %q needs a .xmodel or .model extension", ErrInvalidName, name)
	}
	return nil
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	active, err := r.meter.Int64ObservableGauge("facesync.fixtures.active", metric.WithDescription("Number of active fixtures"))
	if err != nil {
		return err
	}
	budget, err := r.meter.Int64ObservableGauge("facesync.fixtures.channel_budget", metric.WithDescription("Channel budget of the active fixtures"))
	if err != nil {
		return err
	}
	r.active = active
	r.budget = budget
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		snap := r.Snapshot()
		obs.ObserveInt64(active, int64(len(snap.Fixtures)))
		obs.ObserveInt64(budget, int64(snap.TotalChannelBudget()))
		return nil
	}, active, budget)
	return err
}
