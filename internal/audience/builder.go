// Package audience runs audience builds and geo unit scoring end to end:
// settings are loaded from the store, the mode's engine runs over signals
// from the repository, and outputs are persisted and announced.
package audience

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/db"
	"github.com/sells-group/audience-cli/internal/events"
	"github.com/sells-group/audience-cli/internal/extension"
	"github.com/sells-group/audience-cli/internal/geounit"
	"github.com/sells-group/audience-cli/internal/household"
	"github.com/sells-group/audience-cli/internal/metrics"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/signals"
	"github.com/sells-group/audience-cli/internal/store"
	"github.com/sells-group/audience-cli/internal/validation"
)

// DefaultAnchorProvider is the base provider when none is configured.
const DefaultAnchorProvider = "CCS"

// DefaultScaleAccuracy is the accuracy dial used when a caller gives none.
const DefaultScaleAccuracy = 100.0

// Config holds the engine defaults applied to every request.
type Config struct {
	AnchorProvider      string
	AnchorSegment       string
	ConfidenceThreshold float64
	GridSize            int
	LookupBatchSize     int
	LookupRatePerSec    float64
}

// Request describes one build. Mode and agreement come from the
// audience's stored settings.
type Request struct {
	AudienceID string `json:"audience_id"`
	// SegmentKey is the validated segment, or the anchor segment in
	// extension mode.
	SegmentKey string `json:"segment_key,omitempty"`
	// SegmentKeys are the adjacent segments considered in extension mode.
	SegmentKeys []string `json:"segment_keys,omitempty"`
	// Providers restricts validating providers; nil means all.
	Providers           []string `json:"providers,omitempty"`
	IncludeAnchorOnly   bool     `json:"include_anchor_only,omitempty"`
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
}

// SegmentValidator reports requested segment keys that no provider
// publishes. *provider.Registry implements it.
type SegmentValidator interface {
	UnknownSegments(ctx context.Context, keys []string) ([]string, error)
}

// Option configures a Builder.
type Option func(*Builder)

// WithNamer sets the provider label source for extension builds.
func WithNamer(n extension.Namer) Option {
	return func(b *Builder) { b.namer = n }
}

// WithSegmentValidator checks requested segments before signals are fetched.
func WithSegmentValidator(v SegmentValidator) Option {
	return func(b *Builder) { b.segments = v }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(b *Builder) { b.publisher = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(b *Builder) { b.metrics = r }
}

// WithConfig sets engine defaults.
func WithConfig(cfg Config) Option {
	return func(b *Builder) { b.cfg = cfg }
}

// Builder runs builds and scoring for audiences.
type Builder struct {
	store     store.Store
	repo      signals.Repository
	estimator *household.Estimator
	namer     extension.Namer
	segments  SegmentValidator
	publisher events.Publisher
	metrics   *metrics.Recorder
	cfg       Config
	batcher   db.Batcher

	now   func() time.Time
	newID func() string
}

// New creates a Builder.
func New(st store.Store, repo signals.Repository, est *household.Estimator, opts ...Option) *Builder {
	b := &Builder{
		store:     st,
		repo:      repo,
		estimator: est,
		publisher: events.NopPublisher{},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cfg.AnchorProvider == "" {
		b.cfg.AnchorProvider = DefaultAnchorProvider
	}
	if b.cfg.GridSize <= 0 {
		b.cfg.GridSize = geounit.DefaultCount
	}
	b.batcher = db.NewBatcher(b.cfg.LookupBatchSize, b.cfg.LookupRatePerSec)
	return b
}

// Build runs the audience's configured mode and persists the result,
// replacing the previous build for the same mode. An audience without
// settings returns store.ErrNotConfigured.
func (b *Builder) Build(ctx context.Context, req Request) (*model.Build, error) {
	log := zap.L().With(zap.String("component", "audience.build"), zap.String("audience_id", req.AudienceID))
	start := b.now()

	settings, err := b.store.GetSettings(ctx, req.AudienceID)
	if err != nil {
		return nil, err
	}
	mode := string(settings.Mode)

	build, err := b.run(ctx, settings, req)
	elapsed := b.now().Sub(start)
	if err != nil {
		b.metrics.Build(mode, "error", elapsed)
		log.Error("build failed", zap.String("mode", mode), zap.Error(err))
		return nil, err
	}

	build.ID = b.newID()
	build.DurationMS = elapsed.Milliseconds()
	build.CreatedAt = b.now().UTC()
	if err := b.store.SaveBuild(ctx, build); err != nil {
		b.metrics.Build(mode, "error", elapsed)
		return nil, err
	}
	b.metrics.Build(mode, "ok", elapsed)

	log.Info("build complete",
		zap.String("build_id", build.ID),
		zap.String("mode", mode),
		zap.Int("included", included(build)),
		zap.Int64("estimated_households", build.EstimatedHouseholds),
		zap.Int("fallback_districts", build.FallbackDistricts),
		zap.Duration("elapsed", elapsed),
	)
	b.publisher.BuildCompleted(ctx, events.BuildCompleted{
		BuildID:             build.ID,
		AudienceID:          build.AudienceID,
		Mode:                build.Mode,
		Included:            included(build),
		EstimatedHouseholds: build.EstimatedHouseholds,
		FallbackDistricts:   build.FallbackDistricts,
		DurationMS:          build.DurationMS,
		Timestamp:           build.CreatedAt,
	})
	return build, nil
}

func (b *Builder) run(ctx context.Context, settings *model.ConstructionSettings, req Request) (*model.Build, error) {
	segment := req.SegmentKey
	if segment == "" {
		segment = b.cfg.AnchorSegment
	}
	if segment == "" {
		return nil, eris.Errorf("audience: segment key is required for %s", req.AudienceID)
	}

	switch settings.Mode {
	case model.ModeValidation:
		return b.validate(ctx, settings, req, segment)
	case model.ModeExtension:
		return b.extend(ctx, settings, req, segment)
	default:
		return nil, eris.Errorf("audience: unknown construction mode %q for %s", settings.Mode, req.AudienceID)
	}
}

func (b *Builder) validate(ctx context.Context, settings *model.ConstructionSettings, req Request, segment string) (*model.Build, error) {
	b.unknownSegments(ctx, []string{segment})
	rows, err := b.repo.Signals(ctx, []string{segment})
	if err != nil {
		return nil, eris.Wrapf(err, "audience: load signals for %s", segment)
	}

	in := validation.Input{
		SegmentKey:   segment,
		BaseProvider: b.cfg.AnchorProvider,
		Providers:    req.Providers,
		MinAgreement: settings.ValidationMinAgreement,
		Signals:      rows,
	}
	if in.Geography, err = b.geography(ctx, validation.Candidates(in)); err != nil {
		return nil, err
	}
	res := validation.Compute(in)
	b.metrics.JoinDebug(string(model.ModeValidation), res.Debug.JoinMissing, res.Debug.MissingCentroid)

	est, err := b.estimator.Estimate(ctx, res.IncludedDistricts)
	if err != nil {
		return nil, err
	}
	res.Totals.EstimatedHouseholds = est.Total

	return &model.Build{
		AudienceID:          settings.AudienceID,
		Mode:                model.ModeValidation,
		Validation:          res,
		EstimatedHouseholds: est.Total,
		FallbackDistricts:   est.Fallbacks,
	}, nil
}

func (b *Builder) extend(ctx context.Context, settings *model.ConstructionSettings, req Request, segment string) (*model.Build, error) {
	adjacent := req.SegmentKeys
	if unknown := b.unknownSegments(ctx, extension.SegmentSet(segment, adjacent)); len(unknown) > 0 {
		adjacent = without(adjacent, unknown)
	}
	segments := extension.SegmentSet(segment, adjacent)
	rows, err := b.repo.Signals(ctx, segments)
	if err != nil {
		return nil, eris.Wrapf(err, "audience: load signals for %v", segments)
	}

	threshold := req.ConfidenceThreshold
	if threshold == 0 {
		threshold = b.cfg.ConfidenceThreshold
	}
	in := extension.Input{
		AnchorKey:           segment,
		SegmentKeys:         adjacent,
		AnchorProvider:      b.cfg.AnchorProvider,
		ConfidenceThreshold: threshold,
		IncludeAnchorOnly:   req.IncludeAnchorOnly,
		Signals:             rows,
		Namer:               b.namer,
	}
	if in.Geography, err = b.geography(ctx, extension.Candidates(in)); err != nil {
		return nil, err
	}
	res := extension.Compute(ctx, in)
	b.metrics.JoinDebug(string(model.ModeExtension), res.Debug.JoinMissing, res.Debug.MissingCentroid)
	b.metrics.LabelFallbacks(res.Debug.LabelFallbacks)

	est, err := b.estimator.Estimate(ctx, res.IncludedDistricts)
	if err != nil {
		return nil, err
	}
	res.Totals.EstimatedHouseholds = est.Total

	return &model.Build{
		AudienceID:          settings.AudienceID,
		Mode:                model.ModeExtension,
		Extension:           res,
		EstimatedHouseholds: est.Total,
		FallbackDistricts:   est.Fallbacks,
	}, nil
}

func (b *Builder) geography(ctx context.Context, districts []string) (map[string]model.GeoDistrict, error) {
	geo, failed, err := signals.LookupGeography(ctx, b.repo, b.batcher, districts)
	if err != nil {
		return nil, eris.Wrap(err, "audience: geography lookup")
	}
	if len(failed) > 0 {
		zap.L().Warn("geography lookup incomplete",
			zap.String("component", "audience.build"),
			zap.Int("failed_districts", len(failed)),
		)
	}
	return geo, nil
}

// unknownSegments logs and counts keys no provider publishes. Validation
// failures are logged and treated as all keys known.
func (b *Builder) unknownSegments(ctx context.Context, keys []string) []string {
	if b.segments == nil {
		return nil
	}
	log := zap.L().With(zap.String("component", "audience.build"))
	unknown, err := b.segments.UnknownSegments(ctx, keys)
	if err != nil {
		log.Warn("segment validation unavailable", zap.Error(err))
		return nil
	}
	if len(unknown) > 0 {
		b.metrics.UnknownSegments(len(unknown))
		log.Warn("unknown segments requested", zap.Strings("segments", unknown))
	}
	return unknown
}

func without(keys, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, k := range drop {
		skip[k] = true
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !skip[k] {
			out = append(out, k)
		}
	}
	return out
}

func included(b *model.Build) int {
	switch {
	case b.Validation != nil:
		return b.Validation.Totals.DistrictsIncluded
	case b.Extension != nil:
		return b.Extension.Totals.IncludedDistricts
	}
	return 0
}
