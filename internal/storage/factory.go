// factory.go maps backend names (local, s3, azure, gcs) to constructors and
// dispatches NewStorage calls on storage.default_backend.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cct-registry/cct-registry/internal/config"
)

// FactoryFunc creates a storage backend from the application configuration
type FactoryFunc func(*config.Config) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register registers a storage backend factory. A later registration under the same
// name replaces the earlier one.
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends returns the registered backend names in sorted order
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the backend named by cfg.Storage.DefaultBackend
func NewStorage(cfg *config.Config) (Storage, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Storage.DefaultBackend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'local', 'azure', 's3', or 'gcs')", cfg.Storage.DefaultBackend)
	}

	return factory(cfg)
}
