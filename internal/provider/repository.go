package provider

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/resilience"
	"github.com/sells-group/audience-cli/internal/signals"
)

// RepositoryAdapter serves one provider from the signal repository. Metadata
// lookups go through a circuit breaker so a failing metadata table stops
// being queried for the rest of a build.
type RepositoryAdapter struct {
	key     string
	repo    signals.Repository
	breaker *resilience.Breaker
}

// NewRepositoryAdapter creates an adapter for key. breaker may be nil.
func NewRepositoryAdapter(key string, repo signals.Repository, breaker *resilience.Breaker) *RepositoryAdapter {
	return &RepositoryAdapter{key: key, repo: repo, breaker: breaker}
}

var _ Adapter = (*RepositoryAdapter)(nil)

// Key implements Adapter.
func (a *RepositoryAdapter) Key() string { return a.key }

// DisplayName implements Adapter.
func (a *RepositoryAdapter) DisplayName(ctx context.Context) (string, error) {
	if a.breaker == nil {
		return a.repo.ProviderName(ctx, a.key)
	}
	return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (string, error) {
		return a.repo.ProviderName(ctx, a.key)
	})
}

// Segments implements Adapter.
func (a *RepositoryAdapter) Segments(ctx context.Context) ([]string, error) {
	segs, err := a.repo.Segments(ctx, a.key)
	return segs, eris.Wrapf(err, "provider: segments for %s", a.key)
}

// ValidateSegments implements Adapter.
func (a *RepositoryAdapter) ValidateSegments(ctx context.Context, keys []string) (valid, unknown []string, err error) {
	published, err := a.Segments(ctx)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[string]bool, len(published))
	for _, s := range published {
		known[s] = true
	}
	for _, k := range keys {
		if known[k] {
			valid = append(valid, k)
		} else {
			unknown = append(unknown, k)
		}
	}
	return valid, unknown, nil
}

// LoadRegistry registers a RepositoryAdapter for every provider that has
// signal rows. Each adapter gets its own breaker from breakers.
func LoadRegistry(ctx context.Context, repo signals.Repository, breakers *resilience.Breakers) (*Registry, error) {
	keys, err := repo.Providers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "provider: list providers")
	}

	reg := NewRegistry()
	for _, k := range keys {
		var b *resilience.Breaker
		if breakers != nil {
			b = breakers.Get("provider:" + k)
		}
		reg.Register(NewRepositoryAdapter(k, repo, b))
	}
	zap.L().Debug("provider registry loaded",
		zap.String("component", "provider"),
		zap.Int("providers", len(keys)),
	)
	return reg, nil
}
