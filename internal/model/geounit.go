package model

// ConfidenceTier buckets a scored unit.
type ConfidenceTier string

// Confidence tiers, from strongest to a unit with no score at all.
const (
	TierHigh      ConfidenceTier = "high"
	TierMedium    ConfidenceTier = "medium"
	TierLow       ConfidenceTier = "low"
	TierDiscarded ConfidenceTier = "discarded"
)

// SignalDriver is one signal's share of a unit score.
type SignalDriver struct {
	SignalType   string  `json:"signal_type"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Inferred     bool    `json:"inferred"`
}

// Drivers explains a unit score.
type Drivers struct {
	Signals    []SignalDriver `json:"signals"`
	TotalScore float64        `json:"total_score"`
}

// GeoUnit is a scored geographic area.
type GeoUnit struct {
	GeoID          string         `json:"geo_id"`
	Name           string         `json:"name,omitempty"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Score          float64        `json:"score"`
	ConfidenceTier ConfidenceTier `json:"confidence_tier"`
	Drivers        Drivers        `json:"drivers"`
}

// TierCounts tallies units per tier.
func TierCounts(units []GeoUnit) map[ConfidenceTier]int {
	counts := make(map[ConfidenceTier]int, 4)
	for _, u := range units {
		counts[u.ConfidenceTier]++
	}
	return counts
}
