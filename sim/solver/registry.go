package solver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a backend from settings.
type Factory func(Settings) (Solver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under name. It panics when called twice
// with the same name or with a nil factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("solver: Register factory is nil for " + name)
	}
	if _, dup := registry[name]; dup {
		panic("solver: Register called twice for " + name)
	}
	registry[name] = f
}

// New builds the named backend after validating s.
func New(name string, s Settings) (Solver, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("solver: unknown backend %q (registered: %s)", name, strings.Join(Names(), ", "))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return f(s)
}

// IsRegistered reports whether a backend is registered under name.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
