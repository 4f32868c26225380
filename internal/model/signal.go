// Package model defines the audience construction entities shared by the
// engines, stores, and transports.
package model

import "encoding/json"

// DistrictSignal is one provider's claim about one postcode district for one
// segment. District is stored as supplied; joins go through district.Normalize.
type DistrictSignal struct {
	SegmentKey   string   `json:"segment_key" yaml:"segment_key"`
	Provider     string   `json:"provider" yaml:"provider"`
	District     string   `json:"district" yaml:"district"`
	SectorsCount int      `json:"sectors_count" yaml:"sectors_count"`
	HasScore     bool     `json:"has_score" yaml:"has_score"`
	ScoreNorm    *float64 `json:"district_score_norm" yaml:"district_score_norm"`
}

// Passes reports whether the signal counts as support at the given threshold:
// the provider must cover at least one sector, and scored rows must reach the
// threshold. A scored row with no score never passes.
func (s DistrictSignal) Passes(threshold float64) bool {
	if s.SectorsCount <= 0 {
		return false
	}
	if !s.HasScore {
		return true
	}
	return s.ScoreNorm != nil && *s.ScoreNorm >= threshold
}

// Confidence is the normalized score for scored rows and 1.0 for
// presence-only rows.
func (s DistrictSignal) Confidence() float64 {
	if s.HasScore && s.ScoreNorm != nil {
		return *s.ScoreNorm
	}
	return 1.0
}

// GeoDistrict is a reference geography row keyed by normalized district.
type GeoDistrict struct {
	District    string          `json:"district"`
	CentroidLat *float64        `json:"centroid_lat"`
	CentroidLng *float64        `json:"centroid_lng"`
	Households  *int64          `json:"households"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
}

// Centroid returns the centroid coordinates when both are present.
func (g GeoDistrict) Centroid() (lat, lng float64, ok bool) {
	if g.CentroidLat == nil || g.CentroidLng == nil {
		return 0, 0, false
	}
	return *g.CentroidLat, *g.CentroidLng, true
}

// RealHouseholds returns the household count when it is present and positive.
func (g GeoDistrict) RealHouseholds() (int64, bool) {
	if g.Households == nil || *g.Households <= 0 {
		return 0, false
	}
	return *g.Households, true
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
