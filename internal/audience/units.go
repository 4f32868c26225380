package audience

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audience-cli/internal/events"
	"github.com/sells-group/audience-cli/internal/geounit"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/scoring"
)

// ScoreUnits generates and scores the audience's geo units at the given
// accuracy dial and replaces the stored set.
func (b *Builder) ScoreUnits(ctx context.Context, audienceID string, scaleAccuracy float64) ([]model.GeoUnit, error) {
	settings, err := b.store.GetSettings(ctx, audienceID)
	if err != nil {
		return nil, err
	}

	units := scoring.ScoreUnits(geounit.Generate(audienceID, b.cfg.GridSize), settings, scaleAccuracy)
	if err := b.store.ReplaceGeoUnits(ctx, audienceID, scaleAccuracy, units); err != nil {
		return nil, err
	}

	tiers := model.TierCounts(units)
	counts := make(map[string]int, len(tiers))
	for t, n := range tiers {
		counts[string(t)] = n
	}
	b.metrics.UnitsScored(counts)

	zap.L().Info("geo units scored",
		zap.String("component", "audience.score"),
		zap.String("audience_id", audienceID),
		zap.Float64("scale_accuracy", scaleAccuracy),
		zap.Int("units", len(units)),
		zap.Int("high", tiers[model.TierHigh]),
		zap.Int("medium", tiers[model.TierMedium]),
	)
	b.publisher.UnitsScored(ctx, events.UnitsScored{
		AudienceID:    audienceID,
		ScaleAccuracy: scaleAccuracy,
		Units:         len(units),
		Tiers:         tiers,
		Timestamp:     b.now().UTC(),
	})
	return units, nil
}

// Preview scores n generated units against unsaved settings. Nothing is
// persisted.
func (b *Builder) Preview(settings *model.ConstructionSettings, scaleAccuracy float64, n int) ([]model.GeoUnit, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = b.cfg.GridSize
	}
	return scoring.ScoreUnits(geounit.Generate(settings.AudienceID, n), settings, scaleAccuracy), nil
}

// RescoreResult is one audience's outcome in RescoreAll.
type RescoreResult struct {
	AudienceID string `json:"audience_id"`
	Units      int    `json:"units"`
	Error      string `json:"error,omitempty"`
}

// RescoreAll rescores several audiences concurrently. One audience failing
// does not stop the others; only context cancellation returns an error.
func (b *Builder) RescoreAll(ctx context.Context, audienceIDs []string, scaleAccuracy float64, concurrency int) ([]RescoreResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([]RescoreResult, len(audienceIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range audienceIDs {
		g.Go(func() error {
			results[i].AudienceID = id
			units, err := b.ScoreUnits(gctx, id, scaleAccuracy)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("rescore failed",
					zap.String("component", "audience.score"),
					zap.String("audience_id", id),
					zap.Error(err),
				)
				results[i].Error = err.Error()
				return nil
			}
			results[i].Units = len(units)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "audience: rescore")
	}
	return results, nil
}
