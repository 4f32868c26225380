package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-cli/internal/model"
)

var signalCols = []string{"segment_key", "provider", "district", "sectors_count", "has_score", "district_score_norm"}

func TestPostgresRepository_SignalsPaged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	keys := []string{"S1"}
	mock.ExpectQuery("SELECT segment_key, provider, district").
		WithArgs(keys, 2, 0).
		WillReturnRows(mock.NewRows(signalCols).
			AddRow("S1", "CCS", "D1", 3, true, model.Float64(0.8)).
			AddRow("S1", "CCS", "D2", 1, false, nil))
	mock.ExpectQuery("SELECT segment_key, provider, district").
		WithArgs(keys, 2, 2).
		WillReturnRows(mock.NewRows(signalCols).
			AddRow("S1", "EXP", "D1", 2, false, nil))

	repo := NewPostgresRepository(mock, 2)
	rows, err := repo.Signals(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "CCS", rows[0].Provider)
	require.NotNil(t, rows[0].ScoreNorm)
	assert.InDelta(t, 0.8, *rows[0].ScoreNorm, 1e-9)
	assert.Nil(t, rows[1].ScoreNorm)
	assert.Equal(t, "EXP", rows[2].Provider)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_SignalsEmptyKeys(t *testing.T) {
	repo := NewPostgresRepository(nil, 0)
	rows, err := repo.Signals(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestPostgresRepository_SignalsQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT segment_key").WillReturnError(errors.New("relation does not exist"))

	_, err = NewPostgresRepository(mock, 10).Signals(context.Background(), []string{"S1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signals: fetch signals")
}

func TestPostgresRepository_Geography(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM audience.geo_districts").
		WithArgs([]string{"D1", "D2"}).
		WillReturnRows(mock.NewRows([]string{"district", "centroid_lat", "centroid_lng", "households", "geometry"}).
			AddRow("D1", model.Float64(51.5), model.Float64(-0.12), model.Int64(12000), []byte(`{"type":"Point","coordinates":[-0.12,51.5]}`)).
			AddRow("D2", nil, nil, nil, nil))

	geos, err := NewPostgresRepository(mock, 0).Geography(context.Background(), []string{"D1", "D2"})
	require.NoError(t, err)
	require.Len(t, geos, 2)

	lat, lng, ok := geos[0].Centroid()
	assert.True(t, ok)
	assert.InDelta(t, 51.5, lat, 1e-9)
	assert.InDelta(t, -0.12, lng, 1e-9)
	assert.JSONEq(t, `{"type":"Point","coordinates":[-0.12,51.5]}`, string(geos[0].Geometry))

	_, _, ok = geos[1].Centroid()
	assert.False(t, ok)
	assert.Nil(t, geos[1].Households)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ProviderName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT display_name FROM audience.providers").
		WithArgs("EXP").
		WillReturnRows(mock.NewRows([]string{"display_name"}).AddRow("Experian Mosaic"))
	mock.ExpectQuery("SELECT display_name FROM audience.providers").
		WithArgs("ZZZ").
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepository(mock, 0)
	name, err := repo.ProviderName(context.Background(), "EXP")
	require.NoError(t, err)
	assert.Equal(t, "Experian Mosaic", name)

	_, err = repo.ProviderName(context.Background(), "ZZZ")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ProvidersAndSegments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT provider").
		WillReturnRows(mock.NewRows([]string{"provider"}).AddRow("CCS").AddRow("EXP"))
	mock.ExpectQuery("SELECT DISTINCT segment_key").
		WithArgs("CCS").
		WillReturnRows(mock.NewRows([]string{"segment_key"}).AddRow("families").AddRow("movers"))

	repo := NewPostgresRepository(mock, 0)
	providers, err := repo.Providers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CCS", "EXP"}, providers)

	segments, err := repo.Segments(context.Background(), "CCS")
	require.NoError(t, err)
	assert.Equal(t, []string{"families", "movers"}, segments)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpsertSignals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_audience_district_signals"}, signalCols).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "audience"."district_signals" .+ ON CONFLICT \("segment_key", "provider", "district"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := NewPostgresRepository(mock, 0).UpsertSignals(context.Background(), []model.DistrictSignal{
		{SegmentKey: "S1", Provider: "CCS", District: " sw1a ", SectorsCount: 2},
		{SegmentKey: "S1", Provider: "CCS", District: "   ", SectorsCount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpsertGeography(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"district", "centroid_lat", "centroid_lng", "households", "geometry"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_audience_geo_districts"}, cols).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("district"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := NewPostgresRepository(mock, 0).UpsertGeography(context.Background(), []model.GeoDistrict{
		{District: "m1", Households: model.Int64(4200)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
