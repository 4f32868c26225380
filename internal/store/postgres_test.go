package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audience-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

var settingsCols = []string{"audience_id", "construction_mode", "active_signals", "validation_min_agreement", "updated_at"}

func TestPostgres_GetSettings(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT audience_id, construction_mode").
		WithArgs("aud-1").
		WillReturnRows(mock.NewRows(settingsCols).AddRow(
			"aud-1", "extension",
			[]byte(`{"homeowner":{"enabled":true,"base_weight":0.8,"confidence":0.7}}`),
			2, now,
		))

	s, err := st.GetSettings(context.Background(), "aud-1")
	require.NoError(t, err)
	assert.Equal(t, model.ModeExtension, s.Mode)
	assert.Equal(t, 2, s.ValidationMinAgreement)
	assert.Equal(t, now, s.UpdatedAt)
	require.Contains(t, s.ActiveSignals, "homeowner")
	assert.InDelta(t, 0.8, s.ActiveSignals["homeowner"].BaseWeight, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetSettings_NotConfigured(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT audience_id, construction_mode").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetSettings(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestPostgres_GetSettings_BadMode(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT audience_id, construction_mode").
		WithArgs("aud-1").
		WillReturnRows(mock.NewRows(settingsCols).AddRow("aud-1", "lookalike", []byte(`{}`), 1, time.Now()))

	_, err := st.GetSettings(context.Background(), "aud-1")
	assert.Error(t, err)
}

func TestPostgres_SaveSettings(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO audience.construction_settings").
		WithArgs("aud-1", "validation", pgxmock.AnyArg(), 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := &model.ConstructionSettings{
		AudienceID:             "aud-1",
		Mode:                   model.ModeValidation,
		ValidationMinAgreement: 2,
		ActiveSignals: map[string]model.SignalConfig{
			"homeowner": {Enabled: true, BaseWeight: 0.8, Confidence: 0.7},
		},
	}
	require.NoError(t, st.SaveSettings(context.Background(), s))
	assert.False(t, s.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveSettings_Invalid(t *testing.T) {
	st, mock := newMockStore(t)

	err := st.SaveSettings(context.Background(), &model.ConstructionSettings{AudienceID: "aud-1", Mode: "bogus"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListAudiences(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT audience_id FROM audience.construction_settings").
		WillReturnRows(mock.NewRows([]string{"audience_id"}).AddRow("a").AddRow("b"))

	ids, err := st.ListAudiences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestPostgres_SaveAndGetBuild(t *testing.T) {
	st, mock := newMockStore(t)
	b := &model.Build{
		ID:                  "b-1",
		AudienceID:          "aud-1",
		Mode:                model.ModeValidation,
		EstimatedHouseholds: 5000,
		CreatedAt:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Validation:          &model.ValidationResult{Totals: model.ValidationTotals{DistrictsIncluded: 2}},
	}

	mock.ExpectExec("INSERT INTO audience.builds").
		WithArgs("aud-1", "validation", "b-1", pgxmock.AnyArg(), b.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, st.SaveBuild(context.Background(), b))

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT result FROM audience.builds").
		WithArgs("aud-1", "validation").
		WillReturnRows(mock.NewRows([]string{"result"}).AddRow(raw))

	got, err := st.GetBuild(context.Background(), "aud-1", model.ModeValidation)
	require.NoError(t, err)
	assert.Equal(t, "b-1", got.ID)
	assert.Equal(t, int64(5000), got.EstimatedHouseholds)
	require.NotNil(t, got.Validation)
	assert.Equal(t, 2, got.Validation.Totals.DistrictsIncluded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetBuild_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT result FROM audience.builds").
		WithArgs("aud-1", "extension").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetBuild(context.Background(), "aud-1", model.ModeExtension)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgres_ReplaceGeoUnits(t *testing.T) {
	st, mock := newMockStore(t)
	units := []model.GeoUnit{
		{GeoID: "aud-1-0000", Latitude: 51.5, Longitude: -0.12, Score: 40, ConfidenceTier: model.TierMedium},
		{GeoID: "aud-1-0001", Latitude: 53.48, Longitude: -2.24, Score: 10, ConfidenceTier: model.TierLow},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM audience.geo_units").
		WithArgs("aud-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"audience", "geo_units"}, geoUnitColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, st.ReplaceGeoUnits(context.Background(), "aud-1", 100, units))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceGeoUnits_DeleteFails(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM audience.geo_units").
		WithArgs("aud-1").
		WillReturnError(eris.New("lock timeout"))
	mock.ExpectRollback()

	err := st.ReplaceGeoUnits(context.Background(), "aud-1", 100, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear geo units")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListGeoUnits(t *testing.T) {
	st, mock := newMockStore(t)
	drivers := []byte(`{"signals":[{"signal_type":"homeowner","weight":0.8,"contribution":26.57,"inferred":false}],"total_score":26.57}`)

	mock.ExpectQuery("SELECT geo_id").
		WithArgs("aud-1").
		WillReturnRows(mock.NewRows([]string{"geo_id", "name", "latitude", "longitude", "score", "confidence_tier", "drivers"}).
			AddRow("aud-1-0000", "", 51.5, -0.12, 26.57, "low", drivers))

	units, err := st.ListGeoUnits(context.Background(), "aud-1")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, model.TierLow, units[0].ConfidenceTier)
	require.Len(t, units[0].Drivers.Signals, 1)
	assert.Equal(t, "homeowner", units[0].Drivers.Signals[0].SignalType)
}

func TestPostgres_Migrate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS audience").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM audience.schema_migrations").
		WillReturnRows(mock.NewRows([]string{"filename"}).AddRow("001_audience_schema.sql"))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audience.construction_settings").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO audience.schema_migrations").
		WithArgs("002_audience_results.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate_FailureRollsBackLock(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS audience").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM audience.schema_migrations").
		WillReturnRows(mock.NewRows([]string{"filename"}))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS postgis").
		WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := st.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_audience_schema.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationNames_Sorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_audience_schema.sql", "002_audience_results.sql"}, names)
}
