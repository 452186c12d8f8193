// Package balancer selects one instance address from a service's instance
// set, per spec.md §4.e. Strategies are pluggable; "random" and
// "round-robin" are implemented, least-connections/least-response-time are
// named but not implemented (spec.md explicitly scopes them as TODO
// placeholders behind the Strategy interface only).
package balancer

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/mcbrumagin/yamf/pkg/httperr"
)

// InstanceLister is the minimal view of registry state a Strategy needs: the
// current instance set for a service, fetched fresh on every call so
// concurrent add/remove is tolerated (spec.md §4.e).
type InstanceLister interface {
	Instances(service string) []string
}

// Strategy picks one address out of addrs for service. addrs is always
// non-empty when Strategy is called (Balancer.Pick checks first).
type Strategy interface {
	Pick(service string, addrs []string) (string, error)
}

// Name identifies a registered Strategy by the wire-facing string used to
// select it (e.g. from configuration).
type Name string

// Known strategy names. LeastConnections and LeastResponseTime are declared
// for forward compatibility but have no registered implementation yet
// (spec.md §4.e "TODO placeholders... interface only").
const (
	Random            Name = "random"
	RoundRobin        Name = "round-robin"
	LeastConnections  Name = "least-connections"
	LeastResponseTime Name = "least-response-time"
)

// Balancer selects an instance for a service using a named Strategy,
// sourcing the candidate set from an InstanceLister.
type Balancer struct {
	lister     InstanceLister
	strategies map[Name]Strategy
}

// New builds a Balancer backed by lister, with the random and round-robin
// strategies registered.
func New(lister InstanceLister) *Balancer {
	rr := NewRoundRobin()
	return &Balancer{
		lister: lister,
		strategies: map[Name]Strategy{
			Random:     RandomStrategy{},
			RoundRobin: rr,
		},
	}
}

// RoundRobinCounters exposes the round-robin strategy's resettable counter
// map, for tests (spec.md §4.e: "must be resettable for tests").
func (b *Balancer) RoundRobinCounters() *RoundRobinStrategy {
	return b.strategies[RoundRobin].(*RoundRobinStrategy)
}

// GetAddresses returns the current instance set for service as a list, or a
// 404 *httperr.Error if the service has no instances (spec.md §4.e).
func (b *Balancer) GetAddresses(service string) ([]string, error) {
	addrs := b.lister.Instances(service)
	if len(addrs) == 0 {
		return nil, httperr.NotFound("service %q has no instances", service)
	}
	return addrs, nil
}

// Pick selects one address for service using the named strategy.
func (b *Balancer) Pick(service string, strategy Name) (string, error) {
	addrs, err := b.GetAddresses(service)
	if err != nil {
		return "", err
	}
	s, ok := b.strategies[strategy]
	if !ok {
		return "", httperr.Internal("unknown load balancer strategy %q", strategy)
	}
	return s.Pick(service, addrs)
}

// RandomStrategy picks uniformly at random among the candidates.
type RandomStrategy struct{}

// Pick implements Strategy.
func (RandomStrategy) Pick(_ string, addrs []string) (string, error) {
	return addrs[rand.Intn(len(addrs))], nil
}

// RoundRobinStrategy keeps a per-service atomic cursor. The first call for a
// service seeds the cursor at a random start (spec.md §4.e); subsequent
// calls advance it by 1 mod the *current* candidate count, so concurrent
// instance add/remove is tolerated without the cursor ever going stale in a
// way that breaks (it's simply taken mod whatever N is now).
type RoundRobinStrategy struct {
	mu      sync.Mutex
	cursors map[string]*int64
}

// NewRoundRobin returns an empty RoundRobinStrategy.
func NewRoundRobin() *RoundRobinStrategy {
	return &RoundRobinStrategy{cursors: make(map[string]*int64)}
}

// Pick implements Strategy.
func (r *RoundRobinStrategy) Pick(service string, addrs []string) (string, error) {
	cursor := r.cursorFor(service)
	n := int64(len(addrs))
	next := atomic.AddInt64(cursor, 1) - 1
	idx := next % n
	if idx < 0 {
		idx += n
	}
	return addrs[idx], nil
}

func (r *RoundRobinStrategy) cursorFor(service string) *int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[service]
	if !ok {
		seed := rand.Int63()
		c = &seed
		r.cursors[service] = c
	}
	return c
}

// Reset clears every per-service cursor (spec.md §4.e: "must be resettable
// for tests").
func (r *RoundRobinStrategy) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors = make(map[string]*int64)
}

// ResetService clears the cursor for a single service.
func (r *RoundRobinStrategy) ResetService(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, service)
}
