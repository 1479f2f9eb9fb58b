package engine

import (
	"path/filepath"
	"sort"
	"sync"
)

// Registry tracks the engines mounted by one process, keyed by device
// path. The control server resolves stream requests through it.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Add registers a mounted engine. A device can be registered once.
func (r *Registry) Add(e *Engine) error {
	path := e.Path()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[path]; ok {
		return BusyError(path)
	}
	r.engines[path] = e
	return nil
}

// Remove drops a device from the registry, typically after Unmount.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, path)
}

// Get resolves a device by full path or by base name.
func (r *Registry) Get(name string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[name]; ok {
		return e, nil
	}
	for path, e := range r.engines {
		if filepath.Base(path) == name {
			return e, nil
		}
	}
	return nil, NotMountedError(name)
}

// Paths returns the registered device paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.engines))
	for path := range r.engines {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
