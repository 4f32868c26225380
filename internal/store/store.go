// Package store persists construction settings and derived build outputs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/audience-cli/internal/model"
)

// ErrNotConfigured is returned when an audience has no settings record.
// Callers must surface it rather than default a construction mode.
var ErrNotConfigured = eris.New("store: audience not configured")

// ErrNotFound is returned when a requested build does not exist.
var ErrNotFound = eris.New("store: not found")

// Store persists settings, builds, and scored geo units. Writes of derived
// outputs are full replacements keyed by audience.
type Store interface {
	GetSettings(ctx context.Context, audienceID string) (*model.ConstructionSettings, error)
	SaveSettings(ctx context.Context, s *model.ConstructionSettings) error
	ListAudiences(ctx context.Context) ([]string, error)

	SaveBuild(ctx context.Context, b *model.Build) error
	GetBuild(ctx context.Context, audienceID string, mode model.ConstructionMode) (*model.Build, error)

	ReplaceGeoUnits(ctx context.Context, audienceID string, scaleAccuracy float64, units []model.GeoUnit) error
	ListGeoUnits(ctx context.Context, audienceID string) ([]model.GeoUnit, error)

	Migrate(ctx context.Context) error
	Close() error
}
