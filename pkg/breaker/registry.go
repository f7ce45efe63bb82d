package breaker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// healthyErrorRateMax is the low-water mark separating healthy from
// unhealthy breakers in Partition, as a windowed failure percentage.
const healthyErrorRateMax = 10.0

// Registry maps breaker names to instances. It is an explicit, injected
// object owned by the composition root rather than package-level state, so
// tests and multi-tenant setups can hold independent registries.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   log.Logger
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// Register adds a breaker to the registry. It fails if the name is taken.
func (r *Registry) Register(b *Breaker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.breakers[b.name]; exists {
		return fmt.Errorf("circuit breaker %q already registered", b.name)
	}
	r.breakers[b.name] = b
	return nil
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// GetOrCreate returns the breaker registered under name, creating and
// registering a new one with the given config when absent.
func (r *Registry) GetOrCreate(name string, cfg Config, opts ...Option) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, cfg, r.logger, opts...)
	r.breakers[name] = b
	return b
}

// Remove deletes the breaker registered under name, if any.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns stats snapshots for every registered breaker, sorted by name.
func (r *Registry) All() []Stats {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Partition splits registered breakers into healthy and unhealthy by the
// current windowed error rate.
func (r *Registry) Partition() (healthy, unhealthy []Stats) {
	for _, s := range r.All() {
		if s.ErrorRate < healthyErrorRateMax && s.State != StateOpen.String() {
			healthy = append(healthy, s)
		} else {
			unhealthy = append(unhealthy, s)
		}
	}
	return healthy, unhealthy
}
