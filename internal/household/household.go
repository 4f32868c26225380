// Package household estimates household totals for a set of districts.
package household

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audience-cli/internal/db"
	"github.com/sells-group/audience-cli/internal/district"
	"github.com/sells-group/audience-cli/internal/metrics"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/resilience"
	"github.com/sells-group/audience-cli/internal/signals"
)

// DefaultFallback is the household count assumed for a district with no
// positive count on record.
const DefaultFallback int64 = 2500

// Estimate is a household total and how it was reached.
type Estimate struct {
	Total         int64 `json:"estimated_households"`
	Districts     int   `json:"districts"`
	Fallbacks     int   `json:"fallback_districts"`
	FailedBatches int   `json:"failed_batches"`
}

// Sum adds real household counts for districts found in geo and the
// fallback for every other district. Keys must already be normalized.
func Sum(districts []string, geo map[string]model.GeoDistrict, fallback int64) Estimate {
	est := Estimate{Districts: len(districts)}
	for _, d := range districts {
		if n, ok := geo[d].RealHouseholds(); ok {
			est.Total += n
			continue
		}
		est.Total += fallback
		est.Fallbacks++
	}
	return est
}

// Config tunes an Estimator.
type Config struct {
	Fallback    int64
	BatchSize   int
	Concurrency int
	RatePerSec  float64
	Retry       resilience.RetryConfig
}

// Estimator looks up household counts in batches, retrying each batch and
// falling back for batches that still fail.
type Estimator struct {
	repo    signals.GeographyReader
	cfg     Config
	batcher db.Batcher
	metrics *metrics.Recorder
}

// NewEstimator creates an Estimator. rec may be nil.
func NewEstimator(repo signals.GeographyReader, cfg Config, rec *metrics.Recorder) *Estimator {
	if cfg.Fallback <= 0 {
		cfg.Fallback = DefaultFallback
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("household", "geography batch")
	}
	return &Estimator{
		repo:    repo,
		cfg:     cfg,
		batcher: db.NewBatcher(cfg.BatchSize, cfg.RatePerSec),
		metrics: rec,
	}
}

// Fallback returns the configured fallback count.
func (e *Estimator) Fallback() int64 { return e.cfg.Fallback }

// Estimate returns the household total for districts. Batch failures are
// absorbed; only context cancellation returns an error.
func (e *Estimator) Estimate(ctx context.Context, districts []string) (Estimate, error) {
	log := zap.L().With(zap.String("component", "household"))

	keys := district.NormalizeAll(districts)
	batches := e.batcher.Batches(keys)
	results := make([]Estimate, len(batches))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			if err := e.batcher.Wait(gctx); err != nil {
				return err
			}
			rows, err := resilience.DoVal(gctx, e.cfg.Retry, func(ctx context.Context) ([]model.GeoDistrict, error) {
				return e.repo.Geography(ctx, batch)
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("household batch failed, using fallback",
					zap.Int("batch", i),
					zap.Int("districts", len(batch)),
					zap.Int64("fallback", e.cfg.Fallback),
					zap.Error(err),
				)
				failed.Add(1)
				e.metrics.FailedBatch()
				results[i] = Sum(batch, nil, e.cfg.Fallback)
				return nil
			}

			geo := make(map[string]model.GeoDistrict, len(rows))
			for _, r := range rows {
				geo[district.Normalize(r.District)] = r
			}
			results[i] = Sum(batch, geo, e.cfg.Fallback)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Estimate{}, err
	}

	var total Estimate
	for _, r := range results {
		total.Total += r.Total
		total.Districts += r.Districts
		total.Fallbacks += r.Fallbacks
	}
	total.FailedBatches = int(failed.Load())
	e.metrics.HouseholdFallbacks(total.Fallbacks)
	return total, nil
}
