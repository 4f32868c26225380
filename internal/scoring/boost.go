package scoring

// Band is a hashed multiplier range for one family of signals.
type Band struct {
	Name string
	Min  float64
	Max  float64
}

// Boost bands.
var (
	PropertyAgeBand         = Band{Name: "property_age", Min: 0.80, Max: 1.20}
	OwnershipConfidenceBand = Band{Name: "ownership_confidence", Min: 0.85, Max: 1.15}
	HouseholdSizeBand       = Band{Name: "household_size", Min: 0.90, Max: 1.10}
)

var signalBands = map[string]Band{
	"property_age":      PropertyAgeBand,
	"planning_approval": PropertyAgeBand,
	"homeowner":         OwnershipConfidenceBand,
	"household_size":    HouseholdSizeBand,
}

// BandFor returns the boost band of a signal id.
func BandFor(signalID string) (Band, bool) {
	b, ok := signalBands[signalID]
	return b, ok
}

// Boost returns the multiplier for signalID on geoID. Signals without a
// band get 1.0.
func Boost(geoID, signalID string) float64 {
	b, ok := BandFor(signalID)
	if !ok {
		return 1.0
	}
	return Between(geoID+"|"+b.Name, b.Min, b.Max)
}
