package llmclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// providerStats accumulates the call counters Router.ListProviders reports;
// purely observational, never consulted by Resolve.
type providerStats struct {
	mu           sync.Mutex
	requests     int64
	failures     int64
	totalLatency time.Duration
}

// Router holds a priority-ordered set of providers and picks among them
// per model, skipping any that are unavailable or circuit-open. Unlike
// the teacher's Router, it does not execute requests itself -- Resolve
// only selects a provider; Session calls OpenStream on the result and
// reports outcomes back via RecordSuccess/RecordFailure.
type Router struct {
	mu        sync.RWMutex
	providers []Provider
	stats     map[string]*providerStats
	breakers  map[string]*CircuitBreaker
	logger    *zap.Logger
}

// NewRouter creates an empty router. Providers are tried in the order
// they're added via AddProvider, so callers should add them in priority
// order (highest priority first).
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		stats:    make(map[string]*providerStats),
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// AddProvider registers a provider and wires it a fresh circuit breaker
// (5 consecutive failures trips it, 30s recovery timeout before probing).
func (r *Router) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.stats[p.Name()] = &providerStats{}
	r.breakers[p.Name()] = NewCircuitBreaker(5, 30*time.Second)
}

// Resolve returns the first registered provider that supports model, is
// currently available, and isn't circuit-open. It performs no I/O beyond
// each provider's own IsAvailable check (an API-key presence check for
// the HTTP-based providers, never a network call).
func (r *Router) Resolve(ctx context.Context, model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.providers {
		if !p.SupportsModel(model) {
			continue
		}
		if !p.IsAvailable(ctx) {
			continue
		}
		if breaker := r.breakers[p.Name()]; breaker != nil && !breaker.Allow() {
			continue
		}
		return p, nil
	}
	return nil, fmt.Errorf("llmclient: no available provider supports model %q", model)
}

// RecordSuccess reports a completed, successful stream against a named
// provider, clearing its circuit breaker's failure streak.
func (r *Router) RecordSuccess(name string, latency time.Duration) {
	r.mu.RLock()
	stats := r.stats[name]
	breaker := r.breakers[name]
	r.mu.RUnlock()

	if breaker != nil {
		breaker.RecordSuccess()
	}
	if stats != nil {
		stats.mu.Lock()
		stats.requests++
		stats.totalLatency += latency
		stats.mu.Unlock()
	}
}

// RecordFailure reports a failed stream against a named provider,
// counting toward its circuit breaker's trip threshold.
func (r *Router) RecordFailure(name string) {
	r.mu.RLock()
	stats := r.stats[name]
	breaker := r.breakers[name]
	r.mu.RUnlock()

	if breaker != nil {
		breaker.RecordFailure()
	}
	if stats != nil {
		stats.mu.Lock()
		stats.requests++
		stats.failures++
		stats.mu.Unlock()
	}
}

// ProviderStatus is one provider's health snapshot, as reported by
// ListProviders.
type ProviderStatus struct {
	Name         string
	Models       []string
	Available    bool
	CircuitState string
	Requests     int64
	Failures     int64
}

// ListProviders snapshots the health of every registered provider, in
// registration order.
func (r *Router) ListProviders(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		stats := r.stats[p.Name()]
		breaker := r.breakers[p.Name()]

		status := ProviderStatus{
			Name:      p.Name(),
			Models:    p.Models(),
			Available: p.IsAvailable(ctx),
		}
		if breaker != nil {
			status.CircuitState = breaker.State().String()
		}
		if stats != nil {
			stats.mu.Lock()
			status.Requests = stats.requests
			status.Failures = stats.failures
			stats.mu.Unlock()
		}
		out = append(out, status)
	}
	return out
}
