// Package routetable implements spec.md §4.g's route registry: binding URL
// paths (exact or wildcard-prefix) to a service name and default content
// type. The actual storage lives in internal/state.Store (it's one of the
// registry's top-level maps); this package is the narrow, purpose-named view
// the command router and ROUTE_REGISTER handler use.
package routetable

import "github.com/mcbrumagin/yamf/internal/state"

// Table is a route registry backed by a shared Store.
type Table struct {
	store *state.Store
}

// New wraps store as a Table.
func New(store *state.Store) *Table {
	return &Table{store: store}
}

// Register binds path (exact, or ending in "*" for a wildcard prefix) to
// service with the given default content type. Re-registering an existing
// path overwrites its prior binding (spec.md §8).
func (t *Table) Register(path, service, dataType string) {
	if dataType == "" {
		dataType = "dynamic"
	}
	t.store.SetRoute(path, state.Route{Service: service, DataType: dataType})
}

// Unregister removes path's binding.
func (t *Table) Unregister(path string) {
	t.store.DeleteRoute(path)
}

// Match finds the route bound to url: an exact match first, then the first
// wildcard prefix that matches case-insensitively (spec.md §4.g).
func (t *Table) Match(url string) (state.Route, bool) {
	return t.store.MatchRoute(url)
}
