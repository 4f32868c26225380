package scoring

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-cli/internal/model"
)

// Unit ids with known biases: unit-1 suburban, unit-5 urban, unit-19 rural.

func TestHash_KnownVectors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0x811c9dc5), Hash(""))
	assert.Equal(t, uint32(0xe40c292c), Hash("a"))
	assert.Equal(t, uint32(0xbf9cf968), Hash("foobar"))
}

func TestUnitAndBetween(t *testing.T) {
	t.Parallel()

	for i := range 200 {
		seed := fmt.Sprintf("seed-%d", i)
		u := Unit(seed)
		assert.GreaterOrEqual(t, u, 0.0)
		assert.Less(t, u, 1.0)
		b := Between(seed, 0.85, 1.15)
		assert.GreaterOrEqual(t, b, 0.85)
		assert.Less(t, b, 1.15)
	}
	assert.InDelta(t, 0.3293, Unit("unit-1|ownership_confidence"), 1e-12)
}

func TestUnitBias(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.BiasSuburban, UnitBias("unit-1"))
	assert.Equal(t, model.BiasUrban, UnitBias("unit-5"))
	assert.Equal(t, model.BiasRural, UnitBias("unit-19"))
}

func TestSpatialMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		signal, unit model.SpatialBias
		want         float64
	}{
		{model.BiasUrban, model.BiasUrban, 1.0},
		{model.BiasNone, model.BiasRural, 1.0},
		{model.BiasUrban, model.BiasSuburban, 0.8},
		{model.BiasSuburban, model.BiasUrban, 0.8},
		{model.BiasRural, model.BiasSuburban, 0.7},
		{model.BiasSuburban, model.BiasRural, 0.7},
		{model.BiasUrban, model.BiasRural, 0.5},
		{model.BiasRural, model.BiasUrban, 0.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SpatialMatch(tt.signal, tt.unit), "%s/%s", tt.signal, tt.unit)
	}
}

func TestBoost(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Boost("unit-1", "affluence"))
	assert.InDelta(t, 0.94879, Boost("unit-1", "homeowner"), 1e-9)
	assert.Equal(t, Boost("unit-1", "property_age"), Boost("unit-1", "planning_approval"))

	for i := range 100 {
		id := fmt.Sprintf("g%d", i)
		v := Boost(id, "property_age")
		assert.True(t, v >= 0.80 && v < 1.20, v)
		v = Boost(id, "household_size")
		assert.True(t, v >= 0.90 && v < 1.10, v)
	}
}

func TestScore_SingleSignalScenario(t *testing.T) {
	t.Parallel()

	settings := &model.ConstructionSettings{
		Mode: model.ModeValidation,
		ActiveSignals: map[string]model.SignalConfig{
			"homeowner": {Enabled: true, BaseWeight: 0.8, Confidence: 0.7, SpatialBias: model.BiasSuburban},
		},
	}

	r := Score("unit-1", settings, 100)
	require.Len(t, r.Drivers.Signals, 1)
	d := r.Drivers.Signals[0]
	assert.Equal(t, "homeowner", d.SignalType)
	assert.False(t, d.Inferred)
	assert.Equal(t, 0.8, d.Weight)
	assert.InDelta(t, 0.8*50*0.7*1.0*Boost("unit-1", "homeowner"), d.Contribution, 0.005)
	assert.InDelta(t, 26.57, d.Contribution, 1e-9)
	assert.InDelta(t, 26.57, r.Score, 1e-9)
	assert.Equal(t, model.TierLow, r.Tier)
}

func TestScore_DisabledAndEmpty(t *testing.T) {
	t.Parallel()

	settings := &model.ConstructionSettings{
		Mode: model.ModeExtension,
		ActiveSignals: map[string]model.SignalConfig{
			"homeowner": {Enabled: false, BaseWeight: 1, Confidence: 1},
		},
	}
	r := Score("unit-1", settings, 80)
	assert.Empty(t, r.Drivers.Signals)
	assert.Zero(t, r.Score)
	assert.Equal(t, model.TierDiscarded, r.Tier)

	r = Score("unit-1", nil, 80)
	assert.Equal(t, model.TierDiscarded, r.Tier)
}

func TestScore_InferenceOnlyInExtension(t *testing.T) {
	t.Parallel()

	signals := map[string]model.SignalConfig{
		"planning_approval": {Enabled: true, BaseWeight: 0.6, Confidence: 0.9, SpatialBias: model.BiasSuburban},
	}

	validation := Score("unit-1", &model.ConstructionSettings{Mode: model.ModeValidation, ActiveSignals: signals}, 100)
	require.Len(t, validation.Drivers.Signals, 1)
	assert.InDelta(t, 28.1, validation.Score, 1e-9)

	ext := Score("unit-1", &model.ConstructionSettings{Mode: model.ModeExtension, ActiveSignals: signals}, 100)
	require.Len(t, ext.Drivers.Signals, 2)
	inf := ext.Drivers.Signals[1]
	assert.Equal(t, "property_age", inf.SignalType)
	assert.True(t, inf.Inferred)
	assert.InDelta(t, 0.42, inf.Weight, 1e-9)
	assert.InDelta(t, 6.3, inf.Contribution, 1e-9)
	assert.InDelta(t, 34.4, ext.Score, 1e-9)
}

func TestScore_EnabledTargetIsNotInferred(t *testing.T) {
	t.Parallel()

	settings := &model.ConstructionSettings{
		Mode: model.ModeExtension,
		ActiveSignals: map[string]model.SignalConfig{
			"planning_approval": {Enabled: true, BaseWeight: 0.6, Confidence: 0.9},
			"property_age":      {Enabled: true, BaseWeight: 0.5, Confidence: 0.5},
			"new_movers":        {Enabled: true, BaseWeight: 0.5, Confidence: 0.5},
			"homeowner":         {Enabled: false, BaseWeight: 0.9, Confidence: 0.9, SpatialBias: model.BiasRural},
		},
	}
	r := Score("unit-5", settings, 100)

	var inferred []string
	for _, d := range r.Drivers.Signals {
		if d.Inferred {
			inferred = append(inferred, d.SignalType)
		}
	}
	assert.Equal(t, []string{"homeowner"}, inferred)
	assert.Equal(t, "new_movers", r.Drivers.Signals[0].SignalType)
	assert.Equal(t, "planning_approval", r.Drivers.Signals[1].SignalType)
	assert.Equal(t, "property_age", r.Drivers.Signals[2].SignalType)
}

func TestScore_ScaleAndClamp(t *testing.T) {
	t.Parallel()

	settings := &model.ConstructionSettings{
		Mode: model.ModeValidation,
		ActiveSignals: map[string]model.SignalConfig{
			"a": {Enabled: true, BaseWeight: 1, Confidence: 1},
			"b": {Enabled: true, BaseWeight: 1, Confidence: 1},
			"c": {Enabled: true, BaseWeight: 1, Confidence: 1},
		},
	}

	full := Score("unit-1", settings, 100)
	assert.Equal(t, 100.0, full.Score)
	assert.Equal(t, 100.0, full.Drivers.TotalScore)
	assert.Equal(t, model.TierHigh, full.Tier)

	half := Score("unit-1", settings, 50)
	assert.Equal(t, 50.0, half.Score)
	assert.Equal(t, model.TierMedium, half.Tier)

	over := Score("unit-1", settings, 150)
	assert.Equal(t, full, over)

	zero := Score("unit-1", settings, -10)
	assert.Zero(t, zero.Score)
	assert.Equal(t, model.TierDiscarded, zero.Tier)
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	settings := &model.ConstructionSettings{
		Mode: model.ModeExtension,
		ActiveSignals: map[string]model.SignalConfig{
			"homeowner":         {Enabled: true, BaseWeight: 0.7, Confidence: 0.6, SpatialBias: model.BiasUrban},
			"planning_approval": {Enabled: true, BaseWeight: 0.4, Confidence: 0.8, SpatialBias: model.BiasRural},
			"new_movers":        {Enabled: true, BaseWeight: 0.3, Confidence: 0.9},
		},
	}
	for i := range 50 {
		id := fmt.Sprintf("aud-1-%04d", i)
		a, err := json.Marshal(Score(id, settings, 73))
		require.NoError(t, err)
		b, err := json.Marshal(Score(id, settings, 73))
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	}
}

func TestThresholdsAndTier(t *testing.T) {
	t.Parallel()

	high, medium := Thresholds(100)
	assert.Equal(t, 70.0, high)
	assert.Equal(t, 40.0, medium)

	high, medium = Thresholds(50)
	assert.Equal(t, 55.0, high)
	assert.Equal(t, 30.0, medium)

	tests := []struct {
		score, scale float64
		want         model.ConfidenceTier
	}{
		{0, 100, model.TierDiscarded},
		{0.01, 100, model.TierLow},
		{39.99, 100, model.TierLow},
		{40, 100, model.TierMedium},
		{69.99, 100, model.TierMedium},
		{70, 100, model.TierHigh},
		{55, 50, model.TierHigh},
		{30, 50, model.TierMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tier(tt.score, tt.scale), "score %.2f scale %.0f", tt.score, tt.scale)
	}
}

func TestScoreUnits(t *testing.T) {
	t.Parallel()

	settings := &model.ConstructionSettings{
		Mode: model.ModeValidation,
		ActiveSignals: map[string]model.SignalConfig{
			"homeowner": {Enabled: true, BaseWeight: 0.8, Confidence: 0.7, SpatialBias: model.BiasSuburban},
		},
	}
	units := []model.GeoUnit{{GeoID: "unit-1", Name: "Leeds", Latitude: 53.8, Longitude: -1.55}}
	scored := ScoreUnits(units, settings, 100)

	require.Len(t, scored, 1)
	assert.Equal(t, "Leeds", scored[0].Name)
	assert.InDelta(t, 26.57, scored[0].Score, 1e-9)
	assert.Zero(t, units[0].Score, "input must not be mutated")
}
