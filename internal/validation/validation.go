// Package validation computes cross-provider agreement over an anchor
// provider's eligible districts.
package validation

import (
	"sort"

	"github.com/sells-group/audience-cli/internal/district"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/signals"
)

// Input is one validation build.
type Input struct {
	SegmentKey   string
	BaseProvider string
	// Providers restricts validating providers. Nil means every provider
	// present except the base; an empty non-nil slice means none.
	Providers    []string
	MinAgreement int
	Signals      []model.DistrictSignal
	// Geography holds reference rows keyed by normalized district.
	Geography map[string]model.GeoDistrict
}

// Compute runs the agreement engine. It never fails: missing rows and
// invalid thresholds yield empty results.
func Compute(in Input) *model.ValidationResult {
	var rows []model.DistrictSignal
	for _, s := range in.Signals {
		if in.SegmentKey == "" || s.SegmentKey == in.SegmentKey {
			rows = append(rows, s)
		}
	}
	grouped := signals.ByProvider(rows)

	eligible := signals.EligibleUniverse(grouped[in.BaseProvider], in.BaseProvider, "")
	validating := validatingProviders(grouped, in.BaseProvider, in.Providers)

	support := make(map[string]map[string]bool, len(validating))
	for _, p := range validating {
		support[p] = signals.Supporting(grouped[p], signals.BaseThreshold)
	}

	res := &model.ValidationResult{
		SegmentKey:          in.SegmentKey,
		BaseProvider:        in.BaseProvider,
		MinAgreement:        in.MinAgreement,
		EligibleDistricts:   eligible,
		IncludedDistricts:   []string{},
		AgreementByDistrict: make(map[string]int, len(eligible)),
		ProviderStats:       make(map[string]model.ValidatingProviderStat, len(validating)),
		Mapped:              []model.MappedDistrict{},
	}
	for _, p := range validating {
		res.ProviderStats[p] = model.ValidatingProviderStat{}
	}

	for _, d := range eligible {
		agreement := 0
		for _, p := range validating {
			if support[p][d] {
				agreement++
				stat := res.ProviderStats[p]
				stat.AgreeingDistricts++
				res.ProviderStats[p] = stat
			}
		}
		res.AgreementByDistrict[d] = agreement

		geo, joined := in.Geography[d]
		if !joined {
			res.Debug.JoinMissing++
		}
		if in.MinAgreement < 1 || agreement < in.MinAgreement {
			continue
		}
		res.IncludedDistricts = append(res.IncludedDistricts, d)

		lat, lng, ok := geo.Centroid()
		if !joined || !ok {
			res.Debug.MissingCentroid++
			continue
		}
		res.Mapped = append(res.Mapped, model.MappedDistrict{
			District:    d,
			CentroidLat: lat,
			CentroidLng: lng,
			Agreement:   agreement,
		})
	}

	contributing := 0
	for _, stat := range res.ProviderStats {
		if stat.AgreeingDistricts > 0 {
			contributing++
		}
	}

	res.Totals = model.ValidationTotals{
		DistrictsIncluded:          len(res.IncludedDistricts),
		EligibleDistricts:          len(eligible),
		ContributingProvidersCount: contributing,
		ValidatingProvidersCount:   len(validating),
		ConfidenceBand:             Band(in.MinAgreement, len(validating)),
	}
	return res
}

// Band maps the agreement ratio to a confidence band.
func Band(minAgreement, providerCount int) model.ConfidenceBand {
	ratio := float64(minAgreement) / float64(max(1, providerCount))
	switch {
	case ratio >= 0.7:
		return model.BandHigh
	case ratio >= 0.4:
		return model.BandMed
	default:
		return model.BandLow
	}
}

func validatingProviders(grouped map[string][]model.DistrictSignal, base string, allow []string) []string {
	var allowed map[string]bool
	if allow != nil {
		allowed = make(map[string]bool, len(allow))
		for _, p := range allow {
			allowed[p] = true
		}
	}

	var out []string
	for p := range grouped {
		if p == base {
			continue
		}
		if allowed != nil && !allowed[p] {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Candidates returns the base provider's normalized districts for the
// segment, a superset of the eligible universe. Callers use it to fetch
// geography before computing.
func Candidates(in Input) []string {
	var keys []string
	for _, s := range in.Signals {
		if s.Provider == in.BaseProvider && (in.SegmentKey == "" || s.SegmentKey == in.SegmentKey) {
			keys = append(keys, s.District)
		}
	}
	return district.NormalizeAll(keys)
}
