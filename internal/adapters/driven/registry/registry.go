// Package registry loads the konnector catalogue from a YAML file and
// reloads it when the file changes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.Catalogue = (*Registry)(nil)

// reloadDelay coalesces the bursts of events editors produce on save.
const reloadDelay = 200 * time.Millisecond

// File is the registry document.
type File struct {
	Categories  []string            `yaml:"categories"`
	Maintenance []string            `yaml:"maintenance,omitempty"`
	Konnectors  []*domain.Konnector `yaml:"konnectors"`

	// Settings of the collect store, read once at startup
	Exclude             []string `yaml:"exclude,omitempty"`
	Debug               bool     `yaml:"debug,omitempty"`
	TriggerTimeInterval []int    `yaml:"default_trigger_time_interval,omitempty"`
}

// Parse decodes and validates a registry document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	seen := make(map[string]bool, len(f.Konnectors))
	for i, k := range f.Konnectors {
		if k == nil || k.Slug == "" {
			return nil, fmt.Errorf("konnector #%d: %w", i, domain.MissingParam("registry", "slug"))
		}
		if seen[k.Slug] {
			return nil, fmt.Errorf("konnector %s declared twice: %w", k.Slug, domain.ErrInvalidInput)
		}
		seen[k.Slug] = true
		if k.Name == "" {
			k.Name = k.Slug
		}
		k.Maintenance = k.Maintenance || slices.Contains(f.Maintenance, k.Slug)
	}
	if n := len(f.TriggerTimeInterval); n != 0 && (n != 2 || f.TriggerTimeInterval[0] >= f.TriggerTimeInterval[1]) {
		return nil, fmt.Errorf("default_trigger_time_interval must be [start, end): %w", domain.ErrInvalidInput)
	}
	return &f, nil
}

// Registry is a driven.Catalogue backed by a YAML file.
type Registry struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	file *File
}

// Load reads the registry at path.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file. The previous catalogue is kept on error.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.file = f
	r.mu.Unlock()
	return nil
}

// Settings returns the store settings declared in the file.
func (r *Registry) Settings() (exclude []string, debug bool, interval []int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.file.Exclude), r.file.Debug, slices.Clone(r.file.TriggerTimeInterval)
}

// Konnectors returns copies of the declared konnectors.
func (r *Registry) Konnectors() []*domain.Konnector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Konnector, len(r.file.Konnectors))
	for i, k := range r.file.Konnectors {
		out[i] = k.Clone()
	}
	return out
}

func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.file.Categories)
}

// Maintenance lists the konnectors under maintenance.
func (r *Registry) Maintenance() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, k := range r.file.Konnectors {
		if k.Maintenance {
			out = append(out, k.Slug)
		}
	}
	return out
}

// Watch reloads the registry when its file changes and calls onChange
// after each successful reload. It blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(r.path)
	if err != nil {
		return err
	}
	// the directory survives editors replacing the file
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	name := filepath.Base(abs)

	var (
		pending *time.Timer
		reload  = make(chan struct{}, 1)
	)
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := r.Reload(); err != nil {
				r.logger.Warn("registry reload failed, keeping previous catalogue", "path", r.path, "error", err)
				continue
			}
			r.logger.Info("registry reloaded", "path", r.path)
			if onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			r.logger.Warn("registry watcher error", "error", err)
		}
	}
}
