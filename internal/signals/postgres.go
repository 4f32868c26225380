package signals

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/audience-cli/internal/db"
	"github.com/sells-group/audience-cli/internal/district"
	"github.com/sells-group/audience-cli/internal/model"
)

// ErrUnknownProvider is returned when provider metadata has no row.
var ErrUnknownProvider = eris.New("signals: unknown provider")

const (
	signalsTable   = "audience.district_signals"
	geographyTable = "audience.geo_districts"
)

// PostgresRepository reads and writes the audience signal tables.
type PostgresRepository struct {
	pool     db.Pool
	pageSize int
}

// NewPostgresRepository creates a repository that reads signals in pages of
// pageSize rows.
func NewPostgresRepository(pool db.Pool, pageSize int) *PostgresRepository {
	if pageSize <= 0 {
		pageSize = db.DefaultPageSize
	}
	return &PostgresRepository{pool: pool, pageSize: pageSize}
}

var _ Repository = (*PostgresRepository)(nil)

// Signals returns every row for segmentKeys, read in stable pages.
func (r *PostgresRepository) Signals(ctx context.Context, segmentKeys []string) ([]model.DistrictSignal, error) {
	if len(segmentKeys) == 0 {
		return nil, nil
	}
	rows, err := db.FetchPaged(ctx, r.pageSize, func(ctx context.Context, limit, offset int) ([]model.DistrictSignal, error) {
		return r.signalPage(ctx, segmentKeys, limit, offset)
	})
	if err != nil {
		return nil, eris.Wrap(err, "signals: fetch signals")
	}
	return rows, nil
}

func (r *PostgresRepository) signalPage(ctx context.Context, segmentKeys []string, limit, offset int) ([]model.DistrictSignal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT segment_key, provider, district, sectors_count, has_score, district_score_norm
		FROM audience.district_signals
		WHERE segment_key = ANY($1)
		ORDER BY segment_key, provider, district
		LIMIT $2 OFFSET $3`,
		segmentKeys, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "signals: query signal page")
	}
	defer rows.Close()

	var out []model.DistrictSignal
	for rows.Next() {
		var s model.DistrictSignal
		if err := rows.Scan(&s.SegmentKey, &s.Provider, &s.District, &s.SectorsCount, &s.HasScore, &s.ScoreNorm); err != nil {
			return nil, eris.Wrap(err, "signals: scan signal row")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "signals: iterate signal rows")
}

// Geography returns reference rows for one batch of normalized districts.
func (r *PostgresRepository) Geography(ctx context.Context, districts []string) ([]model.GeoDistrict, error) {
	if len(districts) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT district, centroid_lat, centroid_lng, households, geometry
		FROM audience.geo_districts
		WHERE district = ANY($1)`,
		districts,
	)
	if err != nil {
		return nil, eris.Wrap(err, "signals: query geography")
	}
	defer rows.Close()

	var out []model.GeoDistrict
	for rows.Next() {
		var g model.GeoDistrict
		var geometry []byte
		if err := rows.Scan(&g.District, &g.CentroidLat, &g.CentroidLng, &g.Households, &geometry); err != nil {
			return nil, eris.Wrap(err, "signals: scan geography row")
		}
		if len(geometry) > 0 {
			g.Geometry = json.RawMessage(geometry)
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "signals: iterate geography rows")
}

// ProviderName returns the display name recorded for provider.
func (r *PostgresRepository) ProviderName(ctx context.Context, provider string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx,
		`SELECT display_name FROM audience.providers WHERE key = $1`, provider,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrapf(ErrUnknownProvider, "signals: provider %s", provider)
	}
	if err != nil {
		return "", eris.Wrapf(err, "signals: provider name %s", provider)
	}
	return name, nil
}

// Providers lists providers with at least one signal row.
func (r *PostgresRepository) Providers(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT provider FROM audience.district_signals ORDER BY provider`)
}

// Segments lists the segment keys a provider has rows for.
func (r *PostgresRepository) Segments(ctx context.Context, provider string) ([]string, error) {
	return r.distinct(ctx,
		`SELECT DISTINCT segment_key FROM audience.district_signals WHERE provider = $1 ORDER BY segment_key`,
		provider,
	)
}

func (r *PostgresRepository) distinct(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "signals: query distinct")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "signals: scan distinct")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "signals: iterate distinct")
}

// UpsertSignals merges rows keyed by (segment_key, provider, district).
// Districts are stored normalized.
func (r *PostgresRepository) UpsertSignals(ctx context.Context, signals []model.DistrictSignal) (int64, error) {
	rows := make([][]any, 0, len(signals))
	for _, s := range signals {
		key := district.Normalize(s.District)
		if key == "" {
			continue
		}
		rows = append(rows, []any{s.SegmentKey, s.Provider, key, s.SectorsCount, s.HasScore, s.ScoreNorm})
	}
	n, err := db.BulkUpsert(ctx, r.pool, db.UpsertConfig{
		Table:        signalsTable,
		Columns:      []string{"segment_key", "provider", "district", "sectors_count", "has_score", "district_score_norm"},
		ConflictKeys: []string{"segment_key", "provider", "district"},
	}, rows)
	return n, eris.Wrap(err, "signals: upsert signals")
}

// UpsertGeography merges reference rows keyed by normalized district.
func (r *PostgresRepository) UpsertGeography(ctx context.Context, geos []model.GeoDistrict) (int64, error) {
	rows := make([][]any, 0, len(geos))
	for _, g := range geos {
		key := district.Normalize(g.District)
		if key == "" {
			continue
		}
		var geometry []byte
		if len(g.Geometry) > 0 {
			geometry = g.Geometry
		}
		rows = append(rows, []any{key, g.CentroidLat, g.CentroidLng, g.Households, geometry})
	}
	n, err := db.BulkUpsert(ctx, r.pool, db.UpsertConfig{
		Table:        geographyTable,
		Columns:      []string{"district", "centroid_lat", "centroid_lng", "households", "geometry"},
		ConflictKeys: []string{"district"},
	}, rows)
	return n, eris.Wrap(err, "signals: upsert geography")
}
