package courier

import (
	"context"
	"sort"
	"sync"
)

// Registry maps provider slugs to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for slug.
func (r *Registry) Register(slug string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[slug] = adapter
}

// Has reports whether an adapter is registered for slug.
func (r *Registry) Has(slug string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[slug]
	return ok
}

// Resolve returns the registered slugs that are enabled and, when requested is
// non-empty, also listed in requested. The result is sorted.
func (r *Registry) Resolve(enabled, requested []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var want map[string]struct{}
	if len(requested) > 0 {
		want = make(map[string]struct{}, len(requested))
		for _, slug := range requested {
			want[slug] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(enabled))
	out := make([]string, 0, len(enabled))
	for _, slug := range enabled {
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		if _, ok := r.adapters[slug]; !ok {
			continue
		}
		if want != nil {
			if _, ok := want[slug]; !ok {
				continue
			}
		}
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// FetchAll queries each slug in turn. Providers without data are left out of the
// results; failing providers are reported and never stop the remaining ones.
func (r *Registry) FetchAll(ctx context.Context, phone string, slugs []string) (map[string]*Payload, []*AdapterError) {
	results := make(map[string]*Payload, len(slugs))
	var failures []*AdapterError

	for _, slug := range slugs {
		if err := ctx.Err(); err != nil {
			failures = append(failures, &AdapterError{Provider: slug, Err: err})
			continue
		}

		r.mu.RLock()
		adapter, ok := r.adapters[slug]
		r.mu.RUnlock()
		if !ok {
			continue
		}

		payload, err := adapter.Fetch(ctx, phone)
		if err != nil {
			failures = append(failures, &AdapterError{Provider: slug, Err: err})
			continue
		}
		if payload == nil {
			continue
		}
		if payload.Courier == "" {
			payload.Courier = slug
		}
		if payload.Phone == "" {
			payload.Phone = phone
		}
		results[slug] = payload
	}
	return results, failures
}
