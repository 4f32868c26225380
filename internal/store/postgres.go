package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/audience-cli/internal/db"
	"github.com/sells-group/audience-cli/internal/geounit"
	"github.com/sells-group/audience-cli/internal/model"
)

// PostgresStore implements Store on Postgres with PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool sizing.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres opens a pool and verifies connectivity.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the pool for the signal repository.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

var _ Store = (*PostgresStore)(nil)

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// GetSettings implements Store.
func (s *PostgresStore) GetSettings(ctx context.Context, audienceID string) (*model.ConstructionSettings, error) {
	var (
		out     model.ConstructionSettings
		mode    string
		signals []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT audience_id, construction_mode, active_signals, validation_min_agreement, updated_at
		FROM audience.construction_settings WHERE audience_id = $1`,
		audienceID,
	).Scan(&out.AudienceID, &mode, &signals, &out.ValidationMinAgreement, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotConfigured, "postgres: settings for %s", audienceID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get settings %s", audienceID)
	}

	if out.Mode, err = model.ParseMode(mode); err != nil {
		return nil, eris.Wrapf(err, "postgres: settings for %s", audienceID)
	}
	if err := json.Unmarshal(signals, &out.ActiveSignals); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode active signals for %s", audienceID)
	}
	return &out, nil
}

// SaveSettings implements Store.
func (s *PostgresStore) SaveSettings(ctx context.Context, settings *model.ConstructionSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	signals, err := json.Marshal(settings.ActiveSignals)
	if err != nil {
		return eris.Wrap(err, "postgres: encode active signals")
	}
	settings.UpdatedAt = time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audience.construction_settings
			(audience_id, construction_mode, active_signals, validation_min_agreement, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (audience_id) DO UPDATE SET
			construction_mode = EXCLUDED.construction_mode,
			active_signals = EXCLUDED.active_signals,
			validation_min_agreement = EXCLUDED.validation_min_agreement,
			updated_at = EXCLUDED.updated_at`,
		settings.AudienceID, string(settings.Mode), signals, settings.ValidationMinAgreement, settings.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save settings %s", settings.AudienceID)
}

// ListAudiences implements Store.
func (s *PostgresStore) ListAudiences(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT audience_id FROM audience.construction_settings ORDER BY audience_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audiences")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audience")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate audiences")
}

// SaveBuild implements Store. A rebuild replaces the previous result for
// the same audience and mode.
func (s *PostgresStore) SaveBuild(ctx context.Context, b *model.Build) error {
	result, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "postgres: encode build")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audience.builds (audience_id, mode, id, result, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (audience_id, mode) DO UPDATE SET
			id = EXCLUDED.id, result = EXCLUDED.result, created_at = EXCLUDED.created_at`,
		b.AudienceID, string(b.Mode), b.ID, result, b.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save build %s", b.ID)
}

// GetBuild implements Store.
func (s *PostgresStore) GetBuild(ctx context.Context, audienceID string, mode model.ConstructionMode) (*model.Build, error) {
	var result []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM audience.builds WHERE audience_id = $1 AND mode = $2`,
		audienceID, string(mode),
	).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: %s build for %s", mode, audienceID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get build %s", audienceID)
	}

	var b model.Build
	if err := json.Unmarshal(result, &b); err != nil {
		return nil, eris.Wrap(err, "postgres: decode build")
	}
	return &b, nil
}

var geoUnitColumns = []string{
	"audience_id", "geo_id", "name", "latitude", "longitude",
	"score", "confidence_tier", "drivers", "scale_accuracy", "geom",
}

// ReplaceGeoUnits implements Store: the audience's units are deleted and
// re-copied in one transaction.
func (s *PostgresStore) ReplaceGeoUnits(ctx context.Context, audienceID string, scaleAccuracy float64, units []model.GeoUnit) error {
	rows := make([][]any, 0, len(units))
	for _, u := range units {
		drivers, err := json.Marshal(u.Drivers)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode drivers for %s", u.GeoID)
		}
		point, err := geounit.EncodeEWKB(u)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			audienceID, u.GeoID, u.Name, u.Latitude, u.Longitude,
			u.Score, string(u.ConfidenceTier), drivers, scaleAccuracy, point,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace geo units")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM audience.geo_units WHERE audience_id = $1`, audienceID); err != nil {
		return eris.Wrapf(err, "postgres: clear geo units for %s", audienceID)
	}
	if _, err := db.CopyFrom(ctx, tx, "audience.geo_units", geoUnitColumns, rows); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit geo units")
}

// ListGeoUnits implements Store.
func (s *PostgresStore) ListGeoUnits(ctx context.Context, audienceID string) ([]model.GeoUnit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geo_id, COALESCE(name, ''), latitude, longitude, score, confidence_tier, drivers
		FROM audience.geo_units WHERE audience_id = $1 ORDER BY geo_id`,
		audienceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list geo units for %s", audienceID)
	}
	defer rows.Close()

	var units []model.GeoUnit
	for rows.Next() {
		var (
			u       model.GeoUnit
			tier    string
			drivers []byte
		)
		if err := rows.Scan(&u.GeoID, &u.Name, &u.Latitude, &u.Longitude, &u.Score, &tier, &drivers); err != nil {
			return nil, eris.Wrap(err, "postgres: scan geo unit")
		}
		u.ConfidenceTier = model.ConfidenceTier(tier)
		if err := json.Unmarshal(drivers, &u.Drivers); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode drivers for %s", u.GeoID)
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "postgres: iterate geo units")
}
