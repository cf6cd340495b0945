package system

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs an unconfigured adapter for one middleware kind.
type Factory func() SystemHandle

var (
	// factories is the package-level registry map
	factories = make(map[string]Factory)
	// mu protects concurrent access to factories
	mu sync.RWMutex
)

// Register adds an adapter factory under a unique middleware kind name.
// Adapter packages call this explicitly at process startup; there is no
// dynamic-loading magic behind it.
func Register(kind string, f Factory) error {
	if kind == "" {
		return fmt.Errorf("cannot register factory with empty kind")
	}
	if f == nil {
		return fmt.Errorf("cannot register nil factory for %q", kind)
	}

	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[kind]; exists {
		return fmt.Errorf("middleware kind already registered: %s", kind)
	}

	factories[kind] = f
	return nil
}

// New instantiates an unconfigured adapter of the given kind.
func New(kind string) (SystemHandle, error) {
	mu.RLock()
	f, exists := factories[kind]
	mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown middleware kind: %s", kind)
	}
	return f(), nil
}

// Has checks whether a middleware kind is registered.
func Has(kind string) bool {
	mu.RLock()
	defer mu.RUnlock()

	_, exists := factories[kind]
	return exists
}

// Kinds returns the registered middleware kind names, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for kind := range factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Unregister removes a middleware kind. Intended for tests.
func Unregister(kind string) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[kind]; !exists {
		return fmt.Errorf("middleware kind not registered: %s", kind)
	}
	delete(factories, kind)
	return nil
}
