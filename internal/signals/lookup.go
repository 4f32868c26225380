package signals

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/db"
	"github.com/sells-group/audience-cli/internal/district"
	"github.com/sells-group/audience-cli/internal/model"
)

// GeographyReader is the part of Repository used for keyed lookups.
type GeographyReader interface {
	Geography(ctx context.Context, districts []string) ([]model.GeoDistrict, error)
}

// LookupGeography fetches reference rows for districts in batches. A failed
// batch is logged and skipped, so its districts read as join-missing; the
// returned slice lists those districts. Only context cancellation is fatal.
func LookupGeography(ctx context.Context, repo GeographyReader, batcher db.Batcher, districts []string) (map[string]model.GeoDistrict, []string, error) {
	log := zap.L().With(zap.String("component", "signals.lookup"))

	keys := district.NormalizeAll(districts)
	out := make(map[string]model.GeoDistrict, len(keys))
	var failed []string

	for i, batch := range batcher.Batches(keys) {
		if err := batcher.Wait(ctx); err != nil {
			return nil, nil, err
		}
		rows, err := repo.Geography(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.Warn("geography batch failed",
				zap.Int("batch", i),
				zap.Int("districts", len(batch)),
				zap.Error(err),
			)
			failed = append(failed, batch...)
			continue
		}
		for _, g := range rows {
			g.District = district.Normalize(g.District)
			out[g.District] = g
		}
	}
	return out, failed, nil
}
