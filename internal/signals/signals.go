// Package signals reads provider district signals and reference geography.
package signals

import (
	"context"
	"sort"

	"github.com/sells-group/audience-cli/internal/district"
	"github.com/sells-group/audience-cli/internal/model"
)

// BaseThreshold is the normalized score a scored row must reach to count as
// support for the eligible universe. It is policy, not configuration.
const BaseThreshold = 0.5

// Repository supplies signal rows and reference geography. Geography takes
// a single batch of normalized keys; callers chunk larger sets.
type Repository interface {
	Signals(ctx context.Context, segmentKeys []string) ([]model.DistrictSignal, error)
	Geography(ctx context.Context, districts []string) ([]model.GeoDistrict, error)
	ProviderName(ctx context.Context, provider string) (string, error)
	Providers(ctx context.Context) ([]string, error)
	Segments(ctx context.Context, provider string) ([]string, error)
}

// ByProvider groups rows by provider, normalizing district keys.
func ByProvider(rows []model.DistrictSignal) map[string][]model.DistrictSignal {
	out := make(map[string][]model.DistrictSignal)
	for _, r := range rows {
		r.District = district.Normalize(r.District)
		if r.District == "" {
			continue
		}
		out[r.Provider] = append(out[r.Provider], r)
	}
	return out
}

// Supporting returns the normalized districts on which any of rows passes
// the threshold.
func Supporting(rows []model.DistrictSignal, threshold float64) map[string]bool {
	out := make(map[string]bool)
	for _, r := range rows {
		key := district.Normalize(r.District)
		if key != "" && r.Passes(threshold) {
			out[key] = true
		}
	}
	return out
}

// EligibleUniverse returns the sorted normalized districts where provider has
// a passing row for segment at BaseThreshold. An empty segment matches any.
func EligibleUniverse(rows []model.DistrictSignal, provider, segment string) []string {
	var own []model.DistrictSignal
	for _, r := range rows {
		if r.Provider != provider {
			continue
		}
		if segment != "" && r.SegmentKey != segment {
			continue
		}
		own = append(own, r)
	}
	return SortedKeys(Supporting(own, BaseThreshold))
}

// Providers returns the distinct providers present in rows, sorted.
func Providers(rows []model.DistrictSignal) []string {
	seen := make(map[string]bool)
	for _, r := range rows {
		seen[r.Provider] = true
	}
	return SortedKeys(seen)
}

// SortedKeys returns the keys of a set in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
