// Package extension measures how much reach each provider adds to an anchor
// segment when behaviorally adjacent segments are switched on.
package extension

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/district"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/signals"
)

// DefaultConfidenceThreshold applies when Input.ConfidenceThreshold is
// outside (0, 1].
const DefaultConfidenceThreshold = 0.5

// Namer resolves provider display names.
type Namer interface {
	DisplayName(ctx context.Context, provider string) (string, error)
}

// Input is one extension build.
type Input struct {
	AnchorKey           string
	SegmentKeys         []string
	AnchorProvider      string
	ConfidenceThreshold float64
	IncludeAnchorOnly   bool
	Signals             []model.DistrictSignal
	// Geography holds reference rows keyed by normalized district.
	Geography map[string]model.GeoDistrict
	Namer     Namer
}

type support struct {
	providers   map[string]bool
	confidences []float64
}

// Compute runs the provider impact engine. Name lookups that fail fall back
// to the provider key; nothing else can fail.
func Compute(ctx context.Context, in Input) *model.ExtensionResult {
	threshold := in.ConfidenceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	segments := SegmentSet(in.AnchorKey, in.SegmentKeys)
	inSet := make(map[string]bool, len(segments))
	for _, s := range segments {
		inSet[s] = true
	}

	eligible := signals.EligibleUniverse(in.Signals, in.AnchorProvider, in.AnchorKey)
	isEligible := make(map[string]bool, len(eligible))
	for _, d := range eligible {
		isEligible[d] = true
	}

	byDistrict := make(map[string]*support)
	providerConf := make(map[string]map[string][]float64)
	for _, s := range in.Signals {
		if !inSet[s.SegmentKey] {
			continue
		}
		if s.Provider == in.AnchorProvider && s.SegmentKey != in.AnchorKey {
			continue
		}
		key := district.Normalize(s.District)
		if !isEligible[key] || !s.Passes(threshold) {
			continue
		}

		sup := byDistrict[key]
		if sup == nil {
			sup = &support{providers: make(map[string]bool)}
			byDistrict[key] = sup
		}
		sup.providers[s.Provider] = true
		sup.confidences = append(sup.confidences, s.Confidence())

		if providerConf[s.Provider] == nil {
			providerConf[s.Provider] = make(map[string][]float64)
		}
		providerConf[s.Provider][key] = append(providerConf[s.Provider][key], s.Confidence())
	}

	res := &model.ExtensionResult{
		AnchorKey:         in.AnchorKey,
		AnchorProvider:    in.AnchorProvider,
		SegmentKeys:       segments,
		IncludedDistricts: []string{},
		Included:          []model.IncludedDistrict{},
		ProviderStats:     []model.ProviderImpact{},
	}

	included := make(map[string]bool)
	var confSum float64
	for _, d := range eligible {
		geo, joined := in.Geography[d]
		if !joined {
			res.Debug.JoinMissing++
		}

		sup := byDistrict[d]
		if sup == nil || !isIncluded(sup, in.AnchorProvider, in.IncludeAnchorOnly) {
			continue
		}
		included[d] = true
		res.IncludedDistricts = append(res.IncludedDistricts, d)
		avg := mean(sup.confidences)
		confSum += avg

		lat, lng, ok := geo.Centroid()
		if !joined || !ok {
			res.Debug.MissingCentroid++
			continue
		}
		res.Included = append(res.Included, model.IncludedDistrict{
			District:            d,
			CentroidLat:         lat,
			CentroidLng:         lng,
			SupportingProviders: signals.SortedKeys(sup.providers),
			AvgConfidence:       round(avg, 3),
		})
	}

	res.ProviderStats = providerStats(ctx, in, byDistrict, providerConf, included, &res.Debug)
	res.Totals = model.ExtensionTotals{
		BaseDistricts:     len(eligible),
		IncludedDistricts: len(res.IncludedDistricts),
	}
	if n := len(res.IncludedDistricts); n > 0 {
		res.Totals.AvgConfidence = round(confSum/float64(n), 3)
	}
	return res
}

func isIncluded(sup *support, anchor string, includeAnchorOnly bool) bool {
	for p := range sup.providers {
		if p != anchor {
			return true
		}
	}
	return includeAnchorOnly && sup.providers[anchor]
}

func providerStats(
	ctx context.Context,
	in Input,
	byDistrict map[string]*support,
	providerConf map[string]map[string][]float64,
	included map[string]bool,
	debug *model.JoinDebug,
) []model.ProviderImpact {
	stats := make([]model.ProviderImpact, 0, len(providerConf))
	for _, p := range signals.SortedKeys(providerConf) {
		stat := model.ProviderImpact{Provider: p, IsAnchor: p == in.AnchorProvider}
		var confs []float64
		for _, d := range signals.SortedKeys(providerConf[p]) {
			if !included[d] {
				continue
			}
			stat.DistrictsSupporting++
			confs = append(confs, providerConf[p][d]...)
			if otherSupporter(byDistrict[d], p, in.AnchorProvider) {
				stat.OverlapDistricts++
			} else {
				stat.IncrementalDistricts++
			}
		}
		if stat.DistrictsSupporting == 0 {
			continue
		}
		stat.OverlapPct = round(float64(stat.OverlapDistricts)/float64(stat.DistrictsSupporting), 3)
		stat.AvgConfidence = round(mean(confs), 3)
		stats = append(stats, stat)
	}

	for i := range stats {
		name, ok := displayName(ctx, in.Namer, stats[i].Provider)
		if !ok {
			debug.LabelFallbacks++
		}
		stats[i].DisplayName = name
	}

	sort.SliceStable(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if in.IncludeAnchorOnly && a.IsAnchor != b.IsAnchor {
			return a.IsAnchor
		}
		if a.IncrementalDistricts != b.IncrementalDistricts {
			return a.IncrementalDistricts > b.IncrementalDistricts
		}
		if a.DistrictsSupporting != b.DistrictsSupporting {
			return a.DistrictsSupporting > b.DistrictsSupporting
		}
		return a.Provider < b.Provider
	})
	return stats
}

// otherSupporter reports whether a non-anchor provider other than self
// supports the district.
func otherSupporter(sup *support, self, anchor string) bool {
	for p := range sup.providers {
		if p != self && p != anchor {
			return true
		}
	}
	return false
}

func displayName(ctx context.Context, namer Namer, provider string) (string, bool) {
	if namer == nil {
		return provider, true
	}
	name, err := namer.DisplayName(ctx, provider)
	if err != nil || name == "" {
		zap.L().Debug("provider label fallback",
			zap.String("component", "extension"),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return provider, false
	}
	return name, true
}

// SegmentSet returns the anchor key followed by the distinct other segment
// keys in their given order.
func SegmentSet(anchor string, segments []string) []string {
	out := []string{anchor}
	seen := map[string]bool{anchor: true}
	for _, s := range segments {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Candidates returns the anchor provider's normalized anchor-segment
// districts, a superset of the eligible universe.
func Candidates(in Input) []string {
	var keys []string
	for _, s := range in.Signals {
		if s.Provider == in.AnchorProvider && s.SegmentKey == in.AnchorKey {
			keys = append(keys, s.District)
		}
	}
	return district.NormalizeAll(keys)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
