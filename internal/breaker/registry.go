package breaker

import "sync"

// Registry holds one breaker per fetch target, created on first use.
type Registry struct {
	mu       sync.Mutex
	config   Config
	breakers map[string]*Breaker
}

// NewRegistry creates a registry that stamps every breaker from config.
func NewRegistry(config Config) *Registry {
	config.applyDefaults()
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for target, creating it if needed.
func (r *Registry) Get(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[target]; ok {
		return b
	}

	b := New(target, r.config)
	r.breakers[target] = b
	return b
}

// States returns a snapshot of every known breaker's state.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for target, b := range r.breakers {
		states[target] = b.State()
	}
	return states
}
