package breaker

import (
	"sort"
	"sync"
)

// Registry holds named breakers with init-on-first-use semantics. It is an
// explicit object meant to be injected into whatever constructs protected
// calls, not a package-level singleton. Breakers live for the process
// lifetime; there is no teardown.
type Registry struct {
	mu         sync.Mutex
	breakers   map[string]*Breaker
	defaults   Config
	configs    map[string]Config
	transition func(name string, from, to State)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBreakerConfig overrides the configuration for one named breaker.
func WithBreakerConfig(name string, cfg Config) RegistryOption {
	return func(r *Registry) {
		r.configs[name] = cfg
	}
}

// NewRegistry creates a registry. defaults applies to every breaker
// without a per-name override.
func NewRegistry(defaults Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		configs:  make(map[string]Config),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnTransition installs a registry-wide state change observer. It runs in
// addition to any per-config OnStateChange and applies to breakers
// created after the call. Successive calls chain: every installed
// observer fires, in installation order.
func (r *Registry) OnTransition(fn func(name string, from, to State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev := r.transition; prev != nil {
		r.transition = func(name string, from, to State) {
			prev(name, from, to)
			fn(name, from, to)
		}
		return
	}
	r.transition = fn
}

// Get returns the breaker for the named operation, creating it on first
// use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.defaults
	}
	if r.transition != nil {
		inner := cfg.OnStateChange
		hook := r.transition
		cfg.OnStateChange = func(name string, from, to State) {
			if inner != nil {
				inner(name, from, to)
			}
			hook(name, from, to)
		}
	}
	b := New(name, cfg)
	r.breakers[name] = b
	return b
}

// Names returns the names of all breakers created so far, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
