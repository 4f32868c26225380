package scoring

// InferenceRule derives a signal that was not switched on from one that was.
type InferenceRule struct {
	Source           string
	Target           string
	WeightFactor     float64
	ConfidenceFactor float64
}

// InferredShare is the fraction of an inferred signal's value that counts.
const InferredShare = 0.4

// Rules is the fixed inference table, applied in order in extension mode.
var Rules = []InferenceRule{
	{Source: "planning_approval", Target: "property_age", WeightFactor: 0.7, ConfidenceFactor: 0.8},
	{Source: "homeowner", Target: "household_size", WeightFactor: 0.6, ConfidenceFactor: 0.7},
	{Source: "new_movers", Target: "homeowner", WeightFactor: 0.5, ConfidenceFactor: 0.6},
}
