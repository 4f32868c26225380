package scoring

import "github.com/sells-group/audience-cli/internal/model"

// UnitBias assigns a settlement type to a geo unit: 30% urban, 50%
// suburban, 20% rural.
func UnitBias(geoID string) model.SpatialBias {
	switch b := Hash(geoID+"|spatial_bias") % 100; {
	case b < 30:
		return model.BiasUrban
	case b < 80:
		return model.BiasSuburban
	default:
		return model.BiasRural
	}
}

// SpatialMatch scores how well a signal's bias fits a unit's. A signal with
// no bias matches everything.
func SpatialMatch(signal, unit model.SpatialBias) float64 {
	if signal == model.BiasNone || signal == unit {
		return 1.0
	}
	switch pair(signal, unit) {
	case pair(model.BiasUrban, model.BiasSuburban):
		return 0.8
	case pair(model.BiasRural, model.BiasSuburban):
		return 0.7
	default:
		return 0.5
	}
}

// pair orders two biases so lookups are symmetric.
func pair(a, b model.SpatialBias) [2]model.SpatialBias {
	if a > b {
		a, b = b, a
	}
	return [2]model.SpatialBias{a, b}
}
