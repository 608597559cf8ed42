package dialect

import (
	"fmt"
	"sync"
)

// Factory builds a Dialect instance. Concrete per-backend packages call
// Register from an init() function, the same idiom database/sql drivers
// use with sql.Register.
type Factory func() Dialect

var (
	registryMu sync.RWMutex
	registry   = map[SupportedDatabase]Factory{}
)

// Register makes a dialect Factory available under product. Register
// panics if called twice for the same product, matching database/sql's
// sql.Register behavior for duplicate driver names.
func Register(product SupportedDatabase, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[product]; dup {
		panic(fmt.Sprintf("dialect: Register called twice for product %s", product))
	}
	registry[product] = factory
}

// Open returns a freshly constructed Dialect for product, or an error if
// no dialect package registered itself for it (the caller forgot to blank-
// import e.g. github.com/sqlcore/polydb/dialect/postgres).
func Open(product SupportedDatabase) (Dialect, error) {
	registryMu.RLock()
	factory, ok := registry[product]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dialect: no dialect registered for %s (forgot a blank import?)", product)
	}
	return factory(), nil
}

// Registered reports whether a dialect Factory is registered for product.
func Registered(product SupportedDatabase) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[product]
	return ok
}
