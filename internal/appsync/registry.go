package appsync

import (
	"fmt"
	"sync"

	"github.com/taskfuse/taskfuse/internal/credentials"
)

// AdapterConstructor creates an Adapter from a provider config and its
// credentials. Implementations register themselves with Register().
type AdapterConstructor func(cfg *Config, creds *credentials.Store) (Adapter, error)

// registry maps providers to their adapter constructors
var (
	registry      = make(map[Provider]AdapterConstructor)
	registryMutex sync.RWMutex
)

// Register registers an adapter constructor for a provider.
// This is called from init() functions in provider packages.
//
// Example:
//
//	func init() {
//	    appsync.Register(appsync.ProviderTodoist, New)
//	}
func Register(p Provider, constructor AdapterConstructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("appsync: Register constructor is nil for provider %s", p))
	}

	if _, exists := registry[p]; exists {
		panic(fmt.Sprintf("appsync: Register called twice for provider %s", p))
	}

	registry[p] = constructor
}

// getConstructor retrieves the constructor for a provider.
// Returns nil if the provider is not registered.
func getConstructor(p Provider) AdapterConstructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[p]
}

// IsRegistered returns true if a constructor is registered for the provider.
func IsRegistered(p Provider) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[p]
	return exists
}

// RegisteredProviders returns all registered providers.
// Useful for testing and the status command.
func RegisteredProviders() []Provider {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	providers := make([]Provider, 0, len(registry))
	for p := range registry {
		providers = append(providers, p)
	}
	return providers
}

// UnregisterAll clears all registered constructors.
// This is primarily useful for testing.
func UnregisterAll() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry = make(map[Provider]AdapterConstructor)
}
