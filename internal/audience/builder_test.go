package audience

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/events"
	"github.com/sells-group/audience-cli/internal/household"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/resilience"
	"github.com/sells-group/audience-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRepo struct {
	signals []model.DistrictSignal
	geo     map[string]model.GeoDistrict
}

func (f *fakeRepo) Signals(_ context.Context, keys []string) ([]model.DistrictSignal, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []model.DistrictSignal
	for _, s := range f.signals {
		if want[s.SegmentKey] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) Geography(_ context.Context, districts []string) ([]model.GeoDistrict, error) {
	var out []model.GeoDistrict
	for _, d := range districts {
		if g, ok := f.geo[d]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeRepo) ProviderName(_ context.Context, p string) (string, error) { return p, nil }
func (f *fakeRepo) Providers(context.Context) ([]string, error)              { return nil, nil }
func (f *fakeRepo) Segments(context.Context, string) ([]string, error)       { return nil, nil }

type fakeNamer map[string]string

func (n fakeNamer) DisplayName(_ context.Context, p string) (string, error) {
	if name, ok := n[p]; ok {
		return name, nil
	}
	return "", errors.New("provider metadata unavailable")
}

type capturePublisher struct {
	mu     sync.Mutex
	builds []events.BuildCompleted
	scored []events.UnitsScored
}

func (c *capturePublisher) BuildCompleted(_ context.Context, ev events.BuildCompleted) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builds = append(c.builds, ev)
}

func (c *capturePublisher) UnitsScored(_ context.Context, ev events.UnitsScored) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scored = append(c.scored, ev)
}

func (c *capturePublisher) Close() {}

func presence(segment, provider, d string) model.DistrictSignal {
	return model.DistrictSignal{SegmentKey: segment, Provider: provider, District: d, SectorsCount: 1}
}

func testRepo() *fakeRepo {
	return &fakeRepo{
		signals: []model.DistrictSignal{
			presence("S", "CCS", "d1"), presence("S", "CCS", "D2"), presence("S", "CCS", "D3"),
			presence("S", "B", "D1"), presence("S", "B", "D2"),
			presence("S", "C", "D1"), presence("S", "C", "D2"),
			presence("T", "B", "D1"),
			presence("T", "C", "D2"),
		},
		geo: map[string]model.GeoDistrict{
			"D1": {District: "D1", CentroidLat: model.Float64(51.5), CentroidLng: model.Float64(-0.1), Households: model.Int64(12000)},
			"D2": {District: "D2", CentroidLat: model.Float64(53.4), CentroidLng: model.Float64(-2.2)},
		},
	}
}

func newTestBuilder(t *testing.T, repo *fakeRepo, opts ...Option) (*Builder, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audience.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	est := household.NewEstimator(repo, household.Config{
		BatchSize: 2,
		Retry:     resilience.RetryConfig{MaxAttempts: 1},
	}, nil)
	b := New(st, repo, est, opts...)
	b.newID = func() string { return "build-1" }
	return b, st
}

func saveSettings(t *testing.T, st store.Store, s *model.ConstructionSettings) {
	t.Helper()
	require.NoError(t, st.SaveSettings(context.Background(), s))
}

func TestBuild_Validation(t *testing.T) {
	pub := &capturePublisher{}
	b, st := newTestBuilder(t, testRepo(), WithPublisher(pub))
	saveSettings(t, st, &model.ConstructionSettings{
		AudienceID: "aud-1", Mode: model.ModeValidation, ValidationMinAgreement: 2,
	})

	build, err := b.Build(context.Background(), Request{AudienceID: "aud-1", SegmentKey: "S"})
	require.NoError(t, err)

	require.NotNil(t, build.Validation)
	assert.Nil(t, build.Extension)
	assert.Equal(t, "build-1", build.ID)
	assert.Equal(t, []string{"D1", "D2"}, build.Validation.IncludedDistricts)
	assert.Equal(t, model.BandHigh, build.Validation.Totals.ConfidenceBand)
	assert.Equal(t, int64(14500), build.EstimatedHouseholds)
	assert.Equal(t, int64(14500), build.Validation.Totals.EstimatedHouseholds)
	assert.Equal(t, 1, build.FallbackDistricts)
	assert.Equal(t, 1, build.Validation.Debug.JoinMissing)

	saved, err := st.GetBuild(context.Background(), "aud-1", model.ModeValidation)
	require.NoError(t, err)
	assert.Equal(t, build.Validation.IncludedDistricts, saved.Validation.IncludedDistricts)

	require.Len(t, pub.builds, 1)
	assert.Equal(t, 2, pub.builds[0].Included)
	assert.Equal(t, model.ModeValidation, pub.builds[0].Mode)
}

func TestBuild_Extension(t *testing.T) {
	b, st := newTestBuilder(t, testRepo(), WithNamer(fakeNamer{"B": "Provider B", "CCS": "CCS Segments"}))
	saveSettings(t, st, &model.ConstructionSettings{AudienceID: "aud-1", Mode: model.ModeExtension})

	build, err := b.Build(context.Background(), Request{
		AudienceID:  "aud-1",
		SegmentKey:  "S",
		SegmentKeys: []string{"T"},
	})
	require.NoError(t, err)
	require.NotNil(t, build.Extension)

	ext := build.Extension
	assert.Equal(t, []string{"S", "T"}, ext.SegmentKeys)
	assert.Equal(t, []string{"D1", "D2"}, ext.IncludedDistricts)
	assert.Equal(t, int64(14500), ext.Totals.EstimatedHouseholds)
	assert.Equal(t, 3, ext.Totals.BaseDistricts)
	assert.Equal(t, 1, ext.Debug.LabelFallbacks)

	labels := map[string]string{}
	for _, p := range ext.ProviderStats {
		labels[p.Provider] = p.DisplayName
	}
	assert.Equal(t, "Provider B", labels["B"])
	assert.Equal(t, "C", labels["C"])
}

type fakeSegments struct {
	known map[string]bool
	err   error
	calls [][]string
}

func (f *fakeSegments) UnknownSegments(_ context.Context, keys []string) ([]string, error) {
	f.calls = append(f.calls, keys)
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, k := range keys {
		if !f.known[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

type recordingRepo struct {
	*fakeRepo
	requested [][]string
}

func (r *recordingRepo) Signals(ctx context.Context, keys []string) ([]model.DistrictSignal, error) {
	r.requested = append(r.requested, keys)
	return r.fakeRepo.Signals(ctx, keys)
}

func TestBuild_ExtensionDropsUnknownSegments(t *testing.T) {
	repo := &recordingRepo{fakeRepo: testRepo()}
	segs := &fakeSegments{known: map[string]bool{"S": true, "T": true}}

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audience.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	est := household.NewEstimator(repo, household.Config{Retry: resilience.RetryConfig{MaxAttempts: 1}}, nil)
	b := New(st, repo, est, WithSegmentValidator(segs))
	saveSettings(t, st, &model.ConstructionSettings{AudienceID: "aud-1", Mode: model.ModeExtension})

	build, err := b.Build(context.Background(), Request{
		AudienceID:  "aud-1",
		SegmentKey:  "S",
		SegmentKeys: []string{"T", "X"},
	})
	require.NoError(t, err)

	require.Len(t, segs.calls, 1)
	assert.Equal(t, []string{"S", "T", "X"}, segs.calls[0])
	require.Len(t, repo.requested, 1)
	assert.Equal(t, []string{"S", "T"}, repo.requested[0])
	assert.Equal(t, []string{"S", "T"}, build.Extension.SegmentKeys)
	assert.Equal(t, []string{"D1", "D2"}, build.Extension.IncludedDistricts)
}

func TestBuild_SegmentValidationFailureKeepsKeys(t *testing.T) {
	segs := &fakeSegments{err: errors.New("metadata down")}
	b, st := newTestBuilder(t, testRepo(), WithSegmentValidator(segs))
	saveSettings(t, st, &model.ConstructionSettings{AudienceID: "aud-1", Mode: model.ModeExtension})

	build, err := b.Build(context.Background(), Request{
		AudienceID:  "aud-1",
		SegmentKey:  "S",
		SegmentKeys: []string{"T", "X"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"S", "T", "X"}, build.Extension.SegmentKeys)
}

func TestBuild_ValidationChecksSegment(t *testing.T) {
	segs := &fakeSegments{known: map[string]bool{}}
	b, st := newTestBuilder(t, testRepo(), WithSegmentValidator(segs))
	saveSettings(t, st, &model.ConstructionSettings{
		AudienceID: "aud-1", Mode: model.ModeValidation, ValidationMinAgreement: 2,
	})

	_, err := b.Build(context.Background(), Request{AudienceID: "aud-1", SegmentKey: "S"})
	require.NoError(t, err)
	require.Len(t, segs.calls, 1)
	assert.Equal(t, []string{"S"}, segs.calls[0])
}

func TestBuild_NotConfigured(t *testing.T) {
	b, _ := newTestBuilder(t, testRepo())

	_, err := b.Build(context.Background(), Request{AudienceID: "nobody", SegmentKey: "S"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotConfigured))
}

func TestBuild_SegmentRequired(t *testing.T) {
	b, st := newTestBuilder(t, testRepo())
	saveSettings(t, st, &model.ConstructionSettings{AudienceID: "aud-1", Mode: model.ModeValidation, ValidationMinAgreement: 1})

	_, err := b.Build(context.Background(), Request{AudienceID: "aud-1"})
	assert.Error(t, err)
}

func TestBuild_DefaultSegment(t *testing.T) {
	b, st := newTestBuilder(t, testRepo(), WithConfig(Config{AnchorSegment: "S"}))
	saveSettings(t, st, &model.ConstructionSettings{AudienceID: "aud-1", Mode: model.ModeValidation, ValidationMinAgreement: 1})

	build, err := b.Build(context.Background(), Request{AudienceID: "aud-1"})
	require.NoError(t, err)
	assert.Equal(t, "S", build.Validation.SegmentKey)
	assert.Equal(t, DefaultAnchorProvider, build.Validation.BaseProvider)
}

func TestBuild_Deterministic(t *testing.T) {
	b, st := newTestBuilder(t, testRepo())
	saveSettings(t, st, &model.ConstructionSettings{AudienceID: "aud-1", Mode: model.ModeValidation, ValidationMinAgreement: 2})

	first, err := b.Build(context.Background(), Request{AudienceID: "aud-1", SegmentKey: "S"})
	require.NoError(t, err)
	second, err := b.Build(context.Background(), Request{AudienceID: "aud-1", SegmentKey: "S"})
	require.NoError(t, err)
	assert.Equal(t, first.Validation, second.Validation)
}
