package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/audience-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is intended for
// local runs; geometry columns are omitted.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS construction_settings (
	audience_id              TEXT PRIMARY KEY,
	construction_mode        TEXT NOT NULL CHECK (construction_mode IN ('validation', 'extension')),
	active_signals           TEXT NOT NULL DEFAULT '{}',
	validation_min_agreement INTEGER NOT NULL DEFAULT 1,
	updated_at               TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS builds (
	audience_id TEXT NOT NULL,
	mode        TEXT NOT NULL,
	id          TEXT NOT NULL,
	result      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (audience_id, mode)
);

CREATE TABLE IF NOT EXISTS geo_units (
	audience_id     TEXT NOT NULL,
	geo_id          TEXT NOT NULL,
	name            TEXT,
	latitude        REAL NOT NULL,
	longitude       REAL NOT NULL,
	score           REAL NOT NULL,
	confidence_tier TEXT NOT NULL,
	drivers         TEXT NOT NULL,
	scale_accuracy  REAL NOT NULL,
	PRIMARY KEY (audience_id, geo_id)
);
`

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSettings implements Store.
func (s *SQLiteStore) GetSettings(ctx context.Context, audienceID string) (*model.ConstructionSettings, error) {
	var (
		out       model.ConstructionSettings
		mode      string
		signals   string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT audience_id, construction_mode, active_signals, validation_min_agreement, updated_at
		FROM construction_settings WHERE audience_id = ?`,
		audienceID,
	).Scan(&out.AudienceID, &mode, &signals, &out.ValidationMinAgreement, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotConfigured, "sqlite: settings for %s", audienceID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get settings %s", audienceID)
	}

	if out.Mode, err = model.ParseMode(mode); err != nil {
		return nil, eris.Wrapf(err, "sqlite: settings for %s", audienceID)
	}
	if err := json.Unmarshal([]byte(signals), &out.ActiveSignals); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode active signals for %s", audienceID)
	}
	if out.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse updated_at")
	}
	return &out, nil
}

// SaveSettings implements Store.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *model.ConstructionSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	signals, err := json.Marshal(settings.ActiveSignals)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode active signals")
	}
	settings.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO construction_settings
			(audience_id, construction_mode, active_signals, validation_min_agreement, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (audience_id) DO UPDATE SET
			construction_mode = excluded.construction_mode,
			active_signals = excluded.active_signals,
			validation_min_agreement = excluded.validation_min_agreement,
			updated_at = excluded.updated_at`,
		settings.AudienceID, string(settings.Mode), string(signals),
		settings.ValidationMinAgreement, settings.UpdatedAt.Format(time.RFC3339Nano),
	)
	return eris.Wrapf(err, "sqlite: save settings %s", settings.AudienceID)
}

// ListAudiences implements Store.
func (s *SQLiteStore) ListAudiences(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT audience_id FROM construction_settings ORDER BY audience_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audiences")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audience")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate audiences")
}

// SaveBuild implements Store.
func (s *SQLiteStore) SaveBuild(ctx context.Context, b *model.Build) error {
	result, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode build")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO builds (audience_id, mode, id, result, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (audience_id, mode) DO UPDATE SET
			id = excluded.id, result = excluded.result, created_at = excluded.created_at`,
		b.AudienceID, string(b.Mode), b.ID, string(result), b.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return eris.Wrapf(err, "sqlite: save build %s", b.ID)
}

// GetBuild implements Store.
func (s *SQLiteStore) GetBuild(ctx context.Context, audienceID string, mode model.ConstructionMode) (*model.Build, error) {
	var result string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM builds WHERE audience_id = ? AND mode = ?`,
		audienceID, string(mode),
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: %s build for %s", mode, audienceID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get build %s", audienceID)
	}

	var b model.Build
	if err := json.Unmarshal([]byte(result), &b); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode build")
	}
	return &b, nil
}

// ReplaceGeoUnits implements Store.
func (s *SQLiteStore) ReplaceGeoUnits(ctx context.Context, audienceID string, scaleAccuracy float64, units []model.GeoUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace geo units")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM geo_units WHERE audience_id = ?`, audienceID); err != nil {
		return eris.Wrapf(err, "sqlite: clear geo units for %s", audienceID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO geo_units
			(audience_id, geo_id, name, latitude, longitude, score, confidence_tier, drivers, scale_accuracy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare geo unit insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, u := range units {
		drivers, err := json.Marshal(u.Drivers)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode drivers for %s", u.GeoID)
		}
		if _, err := stmt.ExecContext(ctx,
			audienceID, u.GeoID, u.Name, u.Latitude, u.Longitude,
			u.Score, string(u.ConfidenceTier), string(drivers), scaleAccuracy,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert geo unit %s", u.GeoID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit geo units")
}

// ListGeoUnits implements Store.
func (s *SQLiteStore) ListGeoUnits(ctx context.Context, audienceID string) ([]model.GeoUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geo_id, COALESCE(name, ''), latitude, longitude, score, confidence_tier, drivers
		FROM geo_units WHERE audience_id = ? ORDER BY geo_id`,
		audienceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list geo units for %s", audienceID)
	}
	defer rows.Close() //nolint:errcheck

	var units []model.GeoUnit
	for rows.Next() {
		var (
			u       model.GeoUnit
			tier    string
			drivers string
		)
		if err := rows.Scan(&u.GeoID, &u.Name, &u.Latitude, &u.Longitude, &u.Score, &tier, &drivers); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan geo unit")
		}
		u.ConfidenceTier = model.ConfidenceTier(tier)
		if err := json.Unmarshal([]byte(drivers), &u.Drivers); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode drivers for %s", u.GeoID)
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "sqlite: iterate geo units")
}
