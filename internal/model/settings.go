package model

import (
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ConstructionMode selects how an audience is built.
type ConstructionMode string

const (
	// ModeValidation includes districts on which providers agree.
	ModeValidation ConstructionMode = "validation"
	// ModeExtension includes districts reached by adjacent segments.
	ModeExtension ConstructionMode = "extension"
)

// ParseMode validates a construction mode string.
func ParseMode(s string) (ConstructionMode, error) {
	switch ConstructionMode(s) {
	case ModeValidation, ModeExtension:
		return ConstructionMode(s), nil
	default:
		return "", eris.Errorf("model: unknown construction mode %q", s)
	}
}

// SpatialBias is the settlement type a signal or unit leans towards.
type SpatialBias string

// Spatial bias values. BiasNone means the signal is not spatially biased.
const (
	BiasNone     SpatialBias = ""
	BiasUrban    SpatialBias = "urban"
	BiasSuburban SpatialBias = "suburban"
	BiasRural    SpatialBias = "rural"
)

// Valid reports whether b is a known bias (including none).
func (b SpatialBias) Valid() bool {
	switch b {
	case BiasNone, BiasUrban, BiasSuburban, BiasRural:
		return true
	}
	return false
}

// SignalConfig is one weighted signal toggle.
type SignalConfig struct {
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	BaseWeight  float64     `json:"base_weight" yaml:"base_weight"`
	Confidence  float64     `json:"confidence" yaml:"confidence"`
	SpatialBias SpatialBias `json:"spatial_bias,omitempty" yaml:"spatial_bias,omitempty"`
}

// ConstructionSettings is the per-audience scoring and mode configuration.
type ConstructionSettings struct {
	AudienceID             string                  `json:"audience_id" yaml:"audience_id"`
	Mode                   ConstructionMode        `json:"construction_mode" yaml:"construction_mode"`
	ActiveSignals          map[string]SignalConfig `json:"active_signals" yaml:"active_signals"`
	ValidationMinAgreement int                     `json:"validation_min_agreement" yaml:"validation_min_agreement"`
	UpdatedAt              time.Time               `json:"updated_at,omitzero" yaml:"-"`
}

// Validate checks the settings before they are stored. It does not clamp
// values: engines treat out-of-range agreement as "nothing qualifies".
func (s *ConstructionSettings) Validate() error {
	if s.AudienceID == "" {
		return eris.New("model: settings audience_id is required")
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	for id, sig := range s.ActiveSignals {
		if id == "" {
			return eris.New("model: signal id must not be empty")
		}
		if sig.BaseWeight < 0 || sig.BaseWeight > 1 {
			return eris.Errorf("model: signal %s base_weight %.3f outside [0,1]", id, sig.BaseWeight)
		}
		if sig.Confidence < 0 || sig.Confidence > 1 {
			return eris.Errorf("model: signal %s confidence %.3f outside [0,1]", id, sig.Confidence)
		}
		if !sig.SpatialBias.Valid() {
			return eris.Errorf("model: signal %s has unknown spatial_bias %q", id, sig.SpatialBias)
		}
	}
	return nil
}

// SignalIDs returns the configured signal ids in sorted order.
func (s *ConstructionSettings) SignalIDs() []string {
	ids := make([]string, 0, len(s.ActiveSignals))
	for id := range s.ActiveSignals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadSettingsFile reads and validates construction settings from YAML.
func LoadSettingsFile(path string) (*ConstructionSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read settings %s", path)
	}

	var s ConstructionSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "model: parse settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
