// Package plugin is a registry of model backends and end-of-utterance
// detectors. Backends register themselves from init() so the CLI can pick
// one by name from configuration.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chriscow/turnkit/pkg/ai/llm"
)

// Plugin kinds.
const (
	KindModel    = "model"
	KindDetector = "detector"
)

// ErrNotFound is returned when no plugin is registered under a kind/name.
var ErrNotFound = errors.New("plugin not found")

// Factory creates a provider instance from configuration.
type Factory func(cfg map[string]any) (any, error)

// Downloader is implemented by plugins that need model files on disk.
type Downloader interface {
	Download() error
}

// Plugin describes a registered provider.
type Plugin struct {
	Kind        string
	Name        string
	Factory     Factory
	Description string
	Version     string
	// Config documents the accepted configuration keys.
	Config     map[string]any
	Downloader Downloader
}

// Registry maps kind and name to plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Register adds a plugin to the global registry. It panics on duplicates.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a described plugin to the global registry.
func RegisterWithMetadata(p *Plugin) {
	globalRegistry.RegisterWithMetadata(p)
}

// Get retrieves a factory from the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// List returns the global plugins of a kind, or all when kind is empty.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// NewModel builds a model backend from the global registry.
func NewModel(name string, cfg map[string]any) (llm.Model, error) {
	return globalRegistry.NewModel(name, cfg)
}

// Downloaders returns the global plugins' downloaders keyed by kind/name.
func Downloaders() map[string]Downloader {
	return globalRegistry.Downloaders()
}

// Register adds a plugin. It panics on duplicates.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Kind: kind, Name: name, Factory: factory})
}

// RegisterWithMetadata adds a described plugin. It panics on an empty kind
// or name, a nil factory, or a duplicate registration.
func (r *Registry) RegisterWithMetadata(p *Plugin) {
	if p.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if p.Name == "" {
		panic("plugin name cannot be empty")
	}
	if p.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[p.Kind] == nil {
		r.plugins[p.Kind] = make(map[string]*Plugin)
	}
	if existing, ok := r.plugins[p.Kind][p.Name]; ok {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			p.Kind, p.Name, existing.Version, p.Version))
	}
	r.plugins[p.Kind][p.Name] = p
}

// Get retrieves a factory.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[kind][name]
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// List returns plugins sorted by kind, then name.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	for k, byName := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, p := range byName {
			plugins = append(plugins, p)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// NewModel builds the model backend registered under name.
func (r *Registry) NewModel(name string, cfg map[string]any) (llm.Model, error) {
	factory, ok := r.Get(KindModel, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, KindModel, name)
	}
	inst, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", name, err)
	}
	model, ok := inst.(llm.Model)
	if !ok {
		return nil, fmt.Errorf("backend %s returned %T, not an llm.Model", name, inst)
	}
	return model, nil
}

// Downloaders returns the downloaders of every plugin that has one.
func (r *Registry) Downloaders() map[string]Downloader {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Downloader)
	for kind, byName := range r.plugins {
		for name, p := range byName {
			if p.Downloader != nil {
				out[kind+"/"+name] = p.Downloader
			}
		}
	}
	return out
}

// Clear removes all plugins. It is meant for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}
