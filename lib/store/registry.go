package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

var (
	registry map[string]Factory = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory builds store backends from a backend-specific JSON config blob.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Interface, error)
	Valid(config json.RawMessage) error
}

func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

// Backends returns every registered backend name, sorted, for help text
// and error messages.
func Backends() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for name := range registry {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}
