package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes requests. Workers are
// bound by their stable key; unbound workers use the default provider,
// optionally falling through a per-key fallback chain on error.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // worker key -> provider ID
	fallbacks map[string][]string // worker key -> fallback provider chain
	defaults  string              // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first registered provider
// becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider",
		zap.String("id", p.ID()),
		zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind associates a worker key with a specific provider.
func (r *Router) Bind(workerKey, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[workerKey] = providerID
}

// SetFallbacks configures an ordered fallback provider chain for a worker key.
func (r *Router) SetFallbacks(workerKey string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[workerKey] = providerIDs
}

// Route sends a chat request through the provider bound to the worker key,
// trying fallbacks in order when the primary fails.
func (r *Router) Route(ctx context.Context, workerKey string, req *ChatRequest) (*ChatResponse, error) {
	chain := r.resolveChain(workerKey)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no provider available for %q", workerKey)
	}

	var lastErr error
	for _, p := range chain {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		r.logger.Warn("provider call failed, trying next",
			zap.String("provider", p.ID()),
			zap.String("worker", workerKey),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all providers failed for %q: %w", workerKey, lastErr)
}

func (r *Router) resolveChain(workerKey string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []Provider
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		if p, ok := r.providers[id]; ok {
			chain = append(chain, p)
			seen[id] = true
		}
	}

	add(r.bindings[workerKey])
	for _, id := range r.fallbacks[workerKey] {
		add(id)
	}
	add(r.defaults)
	return chain
}
