package scoring

import (
	"math"

	"github.com/sells-group/audience-cli/internal/model"
)

// PointsPerWeight scales a unit weight into score points.
const PointsPerWeight = 50.0

// Result is one unit's score, tier, and explanation.
type Result struct {
	Score   float64              `json:"score"`
	Tier    model.ConfidenceTier `json:"confidence_tier"`
	Drivers model.Drivers        `json:"drivers"`
}

// Score rates geoID against settings. The same inputs always produce the
// same result. scaleAccuracy is clamped to [0, 100].
func Score(geoID string, settings *model.ConstructionSettings, scaleAccuracy float64) Result {
	scale := clamp(scaleAccuracy, 0, 100)
	unitBias := UnitBias(geoID)

	drivers := model.Drivers{Signals: []model.SignalDriver{}}
	var sum float64

	if settings != nil {
		for _, id := range settings.SignalIDs() {
			cfg := settings.ActiveSignals[id]
			if !cfg.Enabled {
				continue
			}
			c := contribution(geoID, id, cfg.BaseWeight, cfg.Confidence, cfg.SpatialBias, unitBias)
			sum += c
			drivers.Signals = append(drivers.Signals, model.SignalDriver{
				SignalType:   id,
				Weight:       cfg.BaseWeight,
				Contribution: round2(c),
			})
		}

		if settings.Mode == model.ModeExtension {
			for _, d := range inferred(geoID, settings, unitBias) {
				sum += d.Contribution
				d.Contribution = round2(d.Contribution)
				drivers.Signals = append(drivers.Signals, d)
			}
		}
	}

	total := clamp(sum, 0, 100)
	drivers.TotalScore = round2(total)
	score := round2(total * scale / 100)

	return Result{
		Score:   score,
		Tier:    Tier(score, scale),
		Drivers: drivers,
	}
}

func inferred(geoID string, settings *model.ConstructionSettings, unitBias model.SpatialBias) []model.SignalDriver {
	var out []model.SignalDriver
	seen := make(map[string]bool)
	for _, rule := range Rules {
		src, ok := settings.ActiveSignals[rule.Source]
		if !ok || !src.Enabled {
			continue
		}
		if tgt, ok := settings.ActiveSignals[rule.Target]; (ok && tgt.Enabled) || seen[rule.Target] {
			continue
		}
		seen[rule.Target] = true

		bias := src.SpatialBias
		if tgt, ok := settings.ActiveSignals[rule.Target]; ok && tgt.SpatialBias != model.BiasNone {
			bias = tgt.SpatialBias
		}
		weight := src.BaseWeight * rule.WeightFactor
		conf := src.Confidence * rule.ConfidenceFactor
		out = append(out, model.SignalDriver{
			SignalType:   rule.Target,
			Weight:       round2(weight),
			Contribution: contribution(geoID, rule.Target, weight, conf, bias, unitBias) * InferredShare,
			Inferred:     true,
		})
	}
	return out
}

func contribution(geoID, signalID string, weight, confidence float64, bias, unitBias model.SpatialBias) float64 {
	return weight * PointsPerWeight * confidence * SpatialMatch(bias, unitBias) * Boost(geoID, signalID)
}

// Thresholds returns the high and medium tier cut-offs for a scale.
func Thresholds(scaleAccuracy float64) (high, medium float64) {
	s := clamp(scaleAccuracy, 0, 100)
	return 70 - (100-s)*0.3, 40 - (100-s)*0.2
}

// Tier buckets a final score. Only a zero score is discarded.
func Tier(score, scaleAccuracy float64) model.ConfidenceTier {
	high, medium := Thresholds(scaleAccuracy)
	switch {
	case score == 0:
		return model.TierDiscarded
	case score >= high:
		return model.TierHigh
	case score >= medium:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// ScoreUnits returns scored copies of units.
func ScoreUnits(units []model.GeoUnit, settings *model.ConstructionSettings, scaleAccuracy float64) []model.GeoUnit {
	out := make([]model.GeoUnit, len(units))
	for i, u := range units {
		r := Score(u.GeoID, settings, scaleAccuracy)
		u.Score = r.Score
		u.ConfidenceTier = r.Tier
		u.Drivers = r.Drivers
		out[i] = u
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
