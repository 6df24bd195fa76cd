package strategy

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
)

// Factory builds a strategy instance bound to the threshold store that
// holds its tunables.
type Factory func(logger *zap.Logger, store *config.ThresholdStore) Strategy

// Registration describes one registered strategy.
type Registration struct {
	Name    string
	Family  Family
	Factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register adds a strategy to the process-wide registry. It is called
// from init functions; registering the same name twice is a programming
// error and fails fast.
func Register(name string, family Family, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = Registration{Name: name, Family: family, Factory: factory}
}

// Lookup returns the registration for a name.
func Lookup(name string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[name]
	if !ok {
		return Registration{}, fmt.Errorf("strategy %q not registered (available: %v)", name, registeredNamesLocked())
	}
	return reg, nil
}

// RegisteredNames lists every registered strategy name, sorted.
func RegisteredNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registeredNamesLocked()
}

func registeredNamesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a name is in the registry.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}
