// Package registry is the constructor registry that resolves a
// LocalAccount's plugin name to a concrete storage.Store or
// storage.Source: a static map populated at init time, replacing the
// dynamic plugin loader and singleton factory an equivalent system
// would otherwise need.
package registry

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
	"github.com/sonroyaalmerol/pimsync/storage/ldapsource"
	"github.com/sonroyaalmerol/pimsync/storage/sqlitestore"
)

// StoreFactory builds a local storage.Store from a LocalAccount's
// flat params map.
type StoreFactory func(params map[string]string, itemType pim.Type, logger zerolog.Logger) (storage.Store, error)

// SourceFactory builds a read-only storage.Source from the same
// params shape, for local accounts that mirror an external system
// rather than storing items themselves.
type SourceFactory func(params map[string]string, itemType pim.Type, logger zerolog.Logger) (storage.Source, error)

var storeFactories = map[string]StoreFactory{
	"sqlite": newSQLiteStore,
}

var sourceFactories = map[string]SourceFactory{
	"ldap": newLDAPSource,
}

// Store resolves plugin to a registered StoreFactory and invokes it.
func Store(plugin string, params map[string]string, itemType pim.Type, logger zerolog.Logger) (storage.Store, error) {
	factory, ok := storeFactories[plugin]
	if !ok {
		return nil, fmt.Errorf("registry: no store plugin registered under %q", plugin)
	}
	return factory(params, itemType, logger)
}

// Source resolves plugin to a registered SourceFactory and invokes
// it.
func Source(plugin string, params map[string]string, itemType pim.Type, logger zerolog.Logger) (storage.Source, error) {
	factory, ok := sourceFactories[plugin]
	if !ok {
		return nil, fmt.Errorf("registry: no source plugin registered under %q", plugin)
	}
	return factory(params, itemType, logger)
}

func newSQLiteStore(params map[string]string, itemType pim.Type, logger zerolog.Logger) (storage.Store, error) {
	dsn := params["dsn"]
	if dsn == "" {
		return nil, fmt.Errorf("registry: sqlite plugin requires params.dsn")
	}
	return sqlitestore.New(dsn, itemType, logger)
}

func newLDAPSource(params map[string]string, itemType pim.Type, logger zerolog.Logger) (storage.Source, error) {
	cfg, err := ldapsource.ConfigFromParams(params)
	if err != nil {
		return nil, err
	}
	return ldapsource.New(cfg, logger)
}
