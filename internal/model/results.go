package model

import "time"

// ConfidenceBand is the coarse confidence label of a validation build.
type ConfidenceBand string

// Confidence bands.
const (
	BandLow  ConfidenceBand = "Low"
	BandMed  ConfidenceBand = "Med"
	BandHigh ConfidenceBand = "High"
)

// MappedDistrict is an included district with a known centroid.
type MappedDistrict struct {
	District    string  `json:"district"`
	CentroidLat float64 `json:"centroid_lat"`
	CentroidLng float64 `json:"centroid_lng"`
	Agreement   int     `json:"agreement"`
}

// JoinDebug counts districts that could not be joined to reference geography.
type JoinDebug struct {
	JoinMissing     int `json:"join_missing"`
	MissingCentroid int `json:"missing_centroid"`
	LabelFallbacks  int `json:"label_fallbacks,omitempty"`
}

// ValidatingProviderStat is one validating provider's contribution.
type ValidatingProviderStat struct {
	AgreeingDistricts int `json:"agreeing_districts"`
}

// ValidationTotals summarizes a validation build.
type ValidationTotals struct {
	DistrictsIncluded          int            `json:"districts_included"`
	EligibleDistricts          int            `json:"eligible_districts"`
	ContributingProvidersCount int            `json:"contributing_providers_count"`
	ValidatingProvidersCount   int            `json:"validating_providers_count"`
	ConfidenceBand             ConfidenceBand `json:"confidence_band"`
	EstimatedHouseholds        int64          `json:"estimated_households"`
}

// ValidationResult is the output of the agreement engine.
type ValidationResult struct {
	SegmentKey          string                            `json:"segment_key"`
	BaseProvider        string                            `json:"base_provider"`
	MinAgreement        int                               `json:"min_agreement"`
	EligibleDistricts   []string                          `json:"eligible_districts"`
	IncludedDistricts   []string                          `json:"included_districts"`
	AgreementByDistrict map[string]int                    `json:"agreement_by_district"`
	ProviderStats       map[string]ValidatingProviderStat `json:"provider_stats"`
	Mapped              []MappedDistrict                  `json:"mapped"`
	Debug               JoinDebug                         `json:"debug"`
	Totals              ValidationTotals                  `json:"totals"`
}

// IncludedDistrict is a district included by the extension engine.
type IncludedDistrict struct {
	District            string   `json:"district"`
	CentroidLat         float64  `json:"centroid_lat"`
	CentroidLng         float64  `json:"centroid_lng"`
	SupportingProviders []string `json:"supporting_providers"`
	AvgConfidence       float64  `json:"avg_confidence"`
}

// ProviderImpact is one provider's incremental and overlapping reach.
type ProviderImpact struct {
	Provider             string  `json:"provider"`
	DisplayName          string  `json:"display_name"`
	IsAnchor             bool    `json:"is_anchor"`
	DistrictsSupporting  int     `json:"districts_supporting"`
	IncrementalDistricts int     `json:"incremental_districts"`
	OverlapDistricts     int     `json:"overlap_districts"`
	OverlapPct           float64 `json:"overlap_pct"`
	AvgConfidence        float64 `json:"avg_confidence"`
}

// ExtensionTotals summarizes an extension build.
type ExtensionTotals struct {
	BaseDistricts       int     `json:"base_districts"`
	IncludedDistricts   int     `json:"included_districts"`
	EstimatedHouseholds int64   `json:"estimated_households"`
	AvgConfidence       float64 `json:"avg_confidence"`
}

// ExtensionResult is the output of the provider impact engine.
type ExtensionResult struct {
	AnchorKey         string             `json:"anchor_key"`
	AnchorProvider    string             `json:"anchor_provider"`
	SegmentKeys       []string           `json:"segment_keys"`
	IncludedDistricts []string           `json:"included_districts"`
	Included          []IncludedDistrict `json:"included"`
	ProviderStats     []ProviderImpact   `json:"provider_stats"`
	Debug             JoinDebug          `json:"debug"`
	Totals            ExtensionTotals    `json:"totals"`
}

// Build is a persisted build result. Exactly one of Validation and
// Extension is set, matching Mode.
type Build struct {
	ID                  string            `json:"id"`
	AudienceID          string            `json:"audience_id"`
	Mode                ConstructionMode  `json:"construction_mode"`
	Validation          *ValidationResult `json:"validation,omitempty"`
	Extension           *ExtensionResult  `json:"extension,omitempty"`
	EstimatedHouseholds int64             `json:"estimated_households"`
	FallbackDistricts   int               `json:"fallback_districts"`
	DurationMS          int64             `json:"duration_ms"`
	CreatedAt           time.Time         `json:"created_at"`
}
