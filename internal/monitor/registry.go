package monitor

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry is the concurrency-safe monitor map and the sole authority for
// monitor lifetime: pipeline components look monitors up but never create
// or destroy them.
type Registry struct {
	log zerolog.Logger

	mu       sync.RWMutex
	monitors map[string]*TokenMonitor
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log.With().Str("component", "registry").Logger(),
		monitors: make(map[string]*TokenMonitor),
	}
}

// Add registers a monitor. Adding a duplicate is a warned no-op and the
// existing monitor keeps its state.
func (r *Registry) Add(m *TokenMonitor) bool {
	key := Key(m.Chain, m.TokenAddress)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.monitors[key]; exists {
		r.log.Warn().Str("key", key).Msg("monitor already registered")
		return false
	}
	r.monitors[key] = m
	return true
}

// Remove deletes a monitor and returns it, or nil when absent.
func (r *Registry) Remove(chain, address string) *TokenMonitor {
	key := Key(chain, address)
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.monitors[key]
	delete(r.monitors, key)
	return m
}

// Get looks a monitor up by chain and token address.
func (r *Registry) Get(chain, address string) *TokenMonitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.monitors[Key(chain, address)]
}

// ByCurveAddress finds the monitor subscribed to the given derived curve
// address.
func (r *Registry) ByCurveAddress(curveAddress string) *TokenMonitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.monitors {
		if m.CurveAddress == curveAddress {
			return m
		}
	}
	return nil
}

// All returns a snapshot of every monitor, safe to iterate while the
// registry is mutated concurrently.
func (r *Registry) All() []*TokenMonitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TokenMonitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	return out
}

// Addresses returns the curve address of every monitor, for transport
// resubscription after a reconnect.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.monitors))
	for _, m := range r.monitors {
		if m.CurveAddress != "" {
			out = append(out, m.CurveAddress)
		}
	}
	return out
}

// Count returns the number of registered monitors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// Clear removes every monitor.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors = make(map[string]*TokenMonitor)
}
