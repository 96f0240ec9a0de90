package worker

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrWorkerNotFound is returned when a worker key has no registration.
var ErrWorkerNotFound = fmt.Errorf("worker not found")

// Registry maps stable worker keys to implementations and holds the
// static substitution table used for replacement on failure. Health
// marks are process-wide: a worker marked unhealthy is skipped when
// substitutes are chosen.
type Registry struct {
	mu          sync.RWMutex
	workers     map[string]Worker
	describe    map[string]string
	substitutes map[string][]string
	unhealthy   map[string]bool
	logger      *zap.Logger
}

// NewRegistry creates an empty worker registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		workers:     make(map[string]Worker),
		describe:    make(map[string]string),
		substitutes: make(map[string][]string),
		unhealthy:   make(map[string]bool),
		logger:      logger,
	}
}

// Register adds a worker under its key with a capability description.
func (r *Registry) Register(w Worker, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.Key()] = w
	r.describe[w.Key()] = description
	r.logger.Info("registered worker",
		zap.String("key", w.Key()),
		zap.String("name", w.Name()))
}

// Get returns the worker registered under key.
func (r *Registry) Get(key string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[key]
	return w, ok
}

// Keys returns all registered worker keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.workers))
	for k := range r.workers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Capabilities lists every registered worker for planning prompts.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]Capability, 0, len(r.workers))
	for k, w := range r.workers {
		caps = append(caps, Capability{
			Key:         k,
			Name:        w.Name(),
			Description: r.describe[k],
		})
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Key < caps[j].Key })
	return caps
}

// SetSubstitutes installs the key -> ordered candidate keys table,
// validating every referenced key against the registry.
func (r *Registry) SetSubstitutes(table map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, candidates := range table {
		if _, ok := r.workers[key]; !ok {
			return fmt.Errorf("substitution table references unknown worker %q", key)
		}
		for _, c := range candidates {
			if _, ok := r.workers[c]; !ok {
				return fmt.Errorf("substitute %q for worker %q is not registered", c, key)
			}
		}
	}
	r.substitutes = make(map[string][]string, len(table))
	for k, v := range table {
		r.substitutes[k] = append([]string(nil), v...)
	}
	return nil
}

// SubstituteFor returns the first healthy substitute candidate for key.
func (r *Registry) SubstituteFor(key string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.substitutes[key] {
		if r.unhealthy[c] {
			continue
		}
		if w, ok := r.workers[c]; ok {
			return w, true
		}
	}
	return nil, false
}

// MarkUnhealthy excludes a worker from substitution until marked healthy.
func (r *Registry) MarkUnhealthy(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhealthy[key] = true
	r.logger.Warn("worker marked unhealthy", zap.String("key", key))
}

// MarkHealthy restores a worker's substitution eligibility.
func (r *Registry) MarkHealthy(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unhealthy, key)
}

// Healthy reports whether a worker is currently eligible.
func (r *Registry) Healthy(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.unhealthy[key]
}
