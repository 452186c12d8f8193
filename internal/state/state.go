// Package state holds the registry's (or the gateway's mirror of the
// registry's) in-memory view of services, routes, subscriptions, and the
// bookkeeping side-tables described in spec.md §3. A single RWMutex guards
// all of the Store's maps together.
package state

import (
	"sort"
	"sync"
	"time"
)

// Metadata is the optional per-service bag of flags spec.md §3 describes.
type Metadata struct {
	Preregistered bool           `json:"preregistered,omitempty"`
	Public        bool           `json:"public,omitempty"`
	PullOnly      bool           `json:"pullOnly,omitempty"`
	Type          string         `json:"type,omitempty"`
	RegisteredAt  time.Time      `json:"registeredAt,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Route binds a path (or wildcard prefix, stored without its trailing "*")
// to a service name and a default content type (spec.md §3).
type Route struct {
	Service  string
	DataType string
}

// Store is the concurrency-safe container for every relationship spec.md §3
// names. The Registry owns the single authoritative Store; the Gateway owns
// a mirror that only its own pull loop ever writes (spec.md §5).
type Store struct {
	mu sync.RWMutex

	services     map[string]map[string]bool // service name -> set of instance URLs
	addresses    map[string]string          // instance URL -> service name (AddressIndex)
	routes       map[string]Route           // exact path -> Route
	controllers  map[string]Route           // wildcard prefix (no trailing *) -> Route
	subscribers  map[string]map[string]bool // channel -> set of subscriber URLs
	domainPorts  map[string]int             // scheme://host -> next port to allocate
	serviceAuth  map[string]string          // service name -> auth-provider service name
	serviceMeta  map[string]Metadata        // service name -> metadata
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		services:    make(map[string]map[string]bool),
		addresses:   make(map[string]string),
		routes:      make(map[string]Route),
		controllers: make(map[string]Route),
		subscribers: make(map[string]map[string]bool),
		domainPorts: make(map[string]int),
		serviceAuth: make(map[string]string),
		serviceMeta: make(map[string]Metadata),
	}
}

// Reset clears all state (used between tests; the running process never
// calls this itself, since spec.md has no persistence to reset from).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = make(map[string]map[string]bool)
	s.addresses = make(map[string]string)
	s.routes = make(map[string]Route)
	s.controllers = make(map[string]Route)
	s.subscribers = make(map[string]map[string]bool)
	s.domainPorts = make(map[string]int)
	s.serviceAuth = make(map[string]string)
	s.serviceMeta = make(map[string]Metadata)
}

// --- services ---

// AddInstance registers location under service, maintaining the reverse
// AddressIndex. It does not check whether location is already bound to a
// different service: the AddressIndex records service as the new owner, and
// any other service whose instance set already holds location keeps it.
func (s *Store) AddInstance(service, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.services[service] == nil {
		s.services[service] = make(map[string]bool)
	}
	s.services[service][location] = true
	s.addresses[location] = service
}

// RemoveInstance removes location from service. If the service's instance
// set becomes empty, the service (and its auth mapping) is deleted
// atomically, per spec.md §3's invariant.
func (s *Store) RemoveInstance(service, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if instances, ok := s.services[service]; ok {
		delete(instances, location)
		if len(instances) == 0 {
			delete(s.services, service)
			delete(s.serviceAuth, service)
			delete(s.serviceMeta, service)
		}
	}
	delete(s.addresses, location)
}

// RemoveInstanceByLocation removes whatever service owns location, using the
// AddressIndex for lookup, and returns the service name it was removed from
// (empty if location was unregistered).
func (s *Store) RemoveInstanceByLocation(location string) string {
	s.mu.Lock()
	service, ok := s.addresses[location]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	s.RemoveInstance(service, location)
	return service
}

// ServiceOf returns the service name location is currently registered under.
func (s *Store) ServiceOf(location string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.addresses[location]
	return name, ok
}

// Instances returns a snapshot slice of service's instance URLs, or nil if
// the service doesn't exist (spec.md §3: a service exists iff non-empty).
func (s *Store) Instances(service string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.services[service]
	if !ok || len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// HasService reports whether service currently has at least one instance.
func (s *Store) HasService(service string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.services[service]) > 0
}

// AllServices returns a snapshot of every service name to its instance URLs,
// the serialization spec.md §4.d's "serializer" performs for API responses.
func (s *Store) AllServices() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.services))
	for name, set := range s.services {
		addrs := make([]string, 0, len(set))
		for a := range set {
			addrs = append(addrs, a)
		}
		sort.Strings(addrs)
		out[name] = addrs
	}
	return out
}

// Addresses returns a snapshot of the full AddressIndex.
func (s *Store) Addresses() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.addresses))
	for k, v := range s.addresses {
		out[k] = v
	}
	return out
}

// --- auth mapping & metadata ---

// SetAuthProvider records which service verifies access tokens on behalf of
// service.
func (s *Store) SetAuthProvider(service, authProvider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceAuth[service] = authProvider
}

// AuthProvider returns the configured auth-provider service name for
// service, if any.
func (s *Store) AuthProvider(service string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.serviceAuth[service]
	return p, ok
}

// SetMetadata records meta for service, stamping RegisteredAt if it is zero.
func (s *Store) SetMetadata(service string, meta Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if meta.RegisteredAt.IsZero() {
		meta.RegisteredAt = time.Now()
	}
	s.serviceMeta[service] = meta
}

// GetMetadata returns the recorded metadata for service, if any.
func (s *Store) GetMetadata(service string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.serviceMeta[service]
	return m, ok
}

// AllMetadata returns a snapshot of every service's metadata.
func (s *Store) AllMetadata() map[string]Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Metadata, len(s.serviceMeta))
	for k, v := range s.serviceMeta {
		out[k] = v
	}
	return out
}

// AllAuthProviders returns a snapshot of every service's auth-provider
// mapping.
func (s *Store) AllAuthProviders() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.serviceAuth))
	for k, v := range s.serviceAuth {
		out[k] = v
	}
	return out
}

// --- routes ---

// SetRoute binds path to route. A path ending in "*" is stored in the
// controller (wildcard) table with the "*" stripped; otherwise it is an
// exact route. Re-registering the same path overwrites the prior binding
// (spec.md §8 boundary behavior).
func (s *Store) SetRoute(path string, route Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isWildcard(path) {
		s.controllers[stripWildcard(path)] = route
		return
	}
	s.routes[path] = route
}

// DeleteRoute removes path's binding (exact key match for both tables).
func (s *Store) DeleteRoute(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isWildcard(path) {
		delete(s.controllers, stripWildcard(path))
		return
	}
	delete(s.routes, path)
}

// MatchRoute finds the route bound to url: an exact match first, then the
// first controller prefix that matches case-insensitively (spec.md §4.g).
func (s *Store) MatchRoute(url string) (Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.routes[url]; ok {
		return r, true
	}
	lowerURL := lower(url)
	for prefix, r := range s.controllers {
		if hasPrefixFold(lowerURL, lower(prefix)) {
			return r, true
		}
	}
	return Route{}, false
}

func isWildcard(path string) bool {
	return len(path) > 0 && path[len(path)-1] == '*'
}

func stripWildcard(path string) string {
	return path[:len(path)-1]
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func hasPrefixFold(s, prefix string) bool {
	if len(prefix) > len(s) {
		return false
	}
	return s[:len(prefix)] == prefix
}

// --- subscriptions ---

// Subscribe adds location to channel's subscriber set.
func (s *Store) Subscribe(channel, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers[channel] == nil {
		s.subscribers[channel] = make(map[string]bool)
	}
	s.subscribers[channel][location] = true
}

// Unsubscribe removes location from channel's subscriber set, deleting the
// channel entirely if the set becomes empty (spec.md §3 invariant).
func (s *Store) Unsubscribe(channel, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subscribers[channel]; ok {
		delete(set, location)
		if len(set) == 0 {
			delete(s.subscribers, channel)
		}
	}
}

// RemoveAllSubscriptionsForLocation scans every channel and removes
// location, dropping any channel that becomes empty (spec.md §4.h).
func (s *Store) RemoveAllSubscriptionsForLocation(location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for channel, set := range s.subscribers {
		if set[location] {
			delete(set, location)
			if len(set) == 0 {
				delete(s.subscribers, channel)
			}
		}
	}
}

// Subscribers returns a snapshot slice of channel's subscriber URLs, used so
// delivery can iterate without holding the lock across HTTP calls (spec.md
// §5).
func (s *Store) Subscribers(channel string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.subscribers[channel]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// --- domain port counters ---

// NormalizeHome strips any port from a "scheme://host[:port]" string,
// leaving "scheme://host" (spec.md §4.f's deliberate fix so that
// "http://localhost" and "http://localhost:4000" share a counter).
func NormalizeHome(home string) string {
	schemeSep := "://"
	idx := indexOf(home, schemeSep)
	if idx < 0 {
		return stripPort(home)
	}
	scheme := home[:idx+len(schemeSep)]
	rest := home[idx+len(schemeSep):]
	return scheme + stripPort(rest)
}

func stripPort(hostport string) string {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i]
		}
		if hostport[i] == '/' {
			break
		}
	}
	return hostport
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// NextPort returns the next port to allocate for home (already normalized)
// and increments the counter, initializing it to defaultStartPort on first
// use. Allocation is never reclaimed during the process lifetime (spec.md
// §4.f).
func (s *Store) NextPort(home string, defaultStartPort int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	port, ok := s.domainPorts[home]
	if !ok {
		port = defaultStartPort
	}
	s.domainPorts[home] = port + 1
	return port
}

// ResetPortCounters clears the per-home port counters (used by tests, per
// spec.md §4.e's requirement that round-robin/counter state be resettable).
func (s *Store) ResetPortCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainPorts = make(map[string]int)
}

// Snapshot is the full serialized state the gateway's REGISTRY_PULL response
// carries (spec.md §4.l).
type Snapshot struct {
	Services          map[string][]string `json:"services"`
	Routes            map[string]Route    `json:"routes"`
	ControllerRoutes  map[string]Route    `json:"controllerRoutes"`
	ServiceAuth       map[string]string   `json:"serviceAuth"`
	ServiceMetadata   map[string]Metadata `json:"serviceMetadata"`
	Timestamp         int64               `json:"timestamp"`
}

// Snapshot serializes the entire Store for REGISTRY_PULL (spec.md §4.l).
func (s *Store) Snapshot(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make(map[string][]string, len(s.services))
	for name, set := range s.services {
		addrs := make([]string, 0, len(set))
		for a := range set {
			addrs = append(addrs, a)
		}
		sort.Strings(addrs)
		services[name] = addrs
	}
	routes := make(map[string]Route, len(s.routes))
	for k, v := range s.routes {
		routes[k] = v
	}
	controllers := make(map[string]Route, len(s.controllers))
	for k, v := range s.controllers {
		controllers[k] = v
	}
	auth := make(map[string]string, len(s.serviceAuth))
	for k, v := range s.serviceAuth {
		auth[k] = v
	}
	meta := make(map[string]Metadata, len(s.serviceMeta))
	for k, v := range s.serviceMeta {
		meta[k] = v
	}

	return Snapshot{
		Services:         services,
		Routes:           routes,
		ControllerRoutes: controllers,
		ServiceAuth:      auth,
		ServiceMetadata:  meta,
		Timestamp:        now.UnixMilli(),
	}
}

// Restore atomically replaces the Store's contents with snap — the only way
// the gateway's mirror is ever mutated (spec.md §4.l, §5).
func (s *Store) Restore(snap Snapshot) {
	services := make(map[string]map[string]bool, len(snap.Services))
	addresses := make(map[string]string)
	for name, addrs := range snap.Services {
		set := make(map[string]bool, len(addrs))
		for _, a := range addrs {
			set[a] = true
			addresses[a] = name
		}
		services[name] = set
	}
	routes := make(map[string]Route, len(snap.Routes))
	for k, v := range snap.Routes {
		routes[k] = v
	}
	controllers := make(map[string]Route, len(snap.ControllerRoutes))
	for k, v := range snap.ControllerRoutes {
		controllers[k] = v
	}
	auth := make(map[string]string, len(snap.ServiceAuth))
	for k, v := range snap.ServiceAuth {
		auth[k] = v
	}
	meta := make(map[string]Metadata, len(snap.ServiceMetadata))
	for k, v := range snap.ServiceMetadata {
		meta[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = services
	s.addresses = addresses
	s.routes = routes
	s.controllers = controllers
	s.serviceAuth = auth
	s.serviceMeta = meta
	// Subscriptions and domain-port counters are registry-only bookkeeping;
	// the gateway mirror never tracks them (it never accepts registrations).
}
