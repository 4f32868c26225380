// Package provider defines signal provider adapters and the registry the
// engines use to label them.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotRegistered is returned for a provider key with no adapter.
var ErrNotRegistered = eris.New("provider: not registered")

// Adapter is one signal provider.
type Adapter interface {
	// Key is the provider identifier used in signal rows.
	Key() string
	// DisplayName returns the human label for the provider.
	DisplayName(ctx context.Context) (string, error)
	// Segments lists the segment keys the provider publishes.
	Segments(ctx context.Context) ([]string, error)
	// ValidateSegments splits keys into those the provider publishes and
	// those it does not.
	ValidateSegments(ctx context.Context, keys []string) (valid, unknown []string, err error)
}

// Registry holds the available adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Key()] = a
}

// Get returns the adapter for key, or nil.
func (r *Registry) Get(key string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[key]
}

// List returns registered keys in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DisplayName resolves a provider label through its adapter.
func (r *Registry) DisplayName(ctx context.Context, key string) (string, error) {
	a := r.Get(key)
	if a == nil {
		return "", eris.Wrapf(ErrNotRegistered, "provider: %s", key)
	}
	return a.DisplayName(ctx)
}

// UnknownSegments returns the keys, in input order, that no registered
// provider publishes. Adapters whose lookup fails are skipped; the error is
// returned only when every adapter failed.
func (r *Registry) UnknownSegments(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	known := make(map[string]bool, len(keys))
	var lastErr error
	succeeded := 0
	for _, k := range r.List() {
		valid, _, err := r.Get(k).ValidateSegments(ctx, keys)
		if err != nil {
			zap.L().Debug("segment validation failed",
				zap.String("component", "provider"),
				zap.String("provider", k),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		succeeded++
		for _, v := range valid {
			known[v] = true
		}
	}
	if succeeded == 0 && lastErr != nil {
		return nil, eris.Wrap(lastErr, "provider: validate segments")
	}

	var unknown []string
	for _, k := range keys {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown, nil
}

// Info describes a registered provider.
type Info struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	Segments    []string `json:"segments"`
}

// Describe lists every provider with its label and segments. Lookup
// failures degrade to the raw key and an empty segment list.
func (r *Registry) Describe(ctx context.Context) []Info {
	keys := r.List()
	out := make([]Info, 0, len(keys))
	for _, k := range keys {
		a := r.Get(k)
		info := Info{Key: k, DisplayName: k, Segments: []string{}}
		if name, err := a.DisplayName(ctx); err == nil && name != "" {
			info.DisplayName = name
		}
		if segs, err := a.Segments(ctx); err == nil && segs != nil {
			info.Segments = segs
		}
		out = append(out, info)
	}
	return out
}
