package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/district"
	"github.com/sells-group/audience-cli/internal/model"
)

// GeographyWriter persists reference geography rows.
type GeographyWriter interface {
	UpsertGeography(ctx context.Context, rows []model.GeoDistrict) (int64, error)
}

// GeographyOptions names the shapefile attribute columns.
type GeographyOptions struct {
	DistrictField   string // default "district"
	HouseholdsField string // default "households"
	BatchSize       int
}

// GeographyResult summarises a shapefile load.
type GeographyResult struct {
	Records  int   `json:"records"`
	Loaded   int64 `json:"loaded"`
	Skipped  int   `json:"skipped"`
	Centroid int   `json:"with_centroid"`
}

// LoadGeographyShapefile reads district polygons, computes their centroids,
// and upserts them with GeoJSON geometry and household counts. Records with
// no district key are skipped; a shape that cannot be converted keeps its
// households but has no centroid.
func LoadGeographyShapefile(ctx context.Context, path string, w GeographyWriter, opts GeographyOptions) (GeographyResult, error) {
	log := zap.L().With(zap.String("component", "ingest.geography"), zap.String("path", path))

	if opts.DistrictField == "" {
		opts.DistrictField = "district"
	}
	if opts.HouseholdsField == "" {
		opts.HouseholdsField = "households"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	reader, err := shp.Open(path)
	if err != nil {
		return GeographyResult{}, eris.Wrapf(err, "ingest: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	districtIdx, ok := fieldIdx[strings.ToLower(opts.DistrictField)]
	if !ok {
		return GeographyResult{}, eris.Errorf("ingest: shapefile has no %q field", opts.DistrictField)
	}
	householdsIdx, hasHouseholds := fieldIdx[strings.ToLower(opts.HouseholdsField)]

	var (
		res   GeographyResult
		batch = make([]model.GeoDistrict, 0, opts.BatchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := w.UpsertGeography(ctx, batch)
		if err != nil {
			return err
		}
		res.Loaded += n
		batch = batch[:0]
		return nil
	}

	for reader.Next() {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "ingest: context cancelled")
		}
		res.Records++
		_, shape := reader.Shape()

		key := district.Normalize(attribute(reader, districtIdx))
		if key == "" {
			res.Skipped++
			continue
		}
		row := model.GeoDistrict{District: key}
		if hasHouseholds {
			if n, err := strconv.ParseInt(attribute(reader, householdsIdx), 10, 64); err == nil {
				row.Households = &n
			}
		}

		if g := shapeToGeom(shape); g != nil {
			if c, err := xy.Centroid(g); err == nil {
				row.CentroidLng = model.Float64(c.X())
				row.CentroidLat = model.Float64(c.Y())
				res.Centroid++
			} else {
				log.Debug("centroid failed", zap.String("district", key), zap.Error(err))
			}
			if data, err := geojson.Marshal(g); err == nil {
				row.Geometry = json.RawMessage(data)
			}
		}

		batch = append(batch, row)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	log.Info("geography loaded",
		zap.Int("records", res.Records),
		zap.Int64("loaded", res.Loaded),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func attribute(r *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(idx), "\x00"))
}

// shapeToGeom converts points and polygons to go-geom. A single-ring
// polygon becomes a Polygon; multi-part shapes become a MultiPolygon with
// one polygon per ring.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(4326)
	case *shp.Polygon:
		return polygonToGeom(s)
	default:
		return nil
	}
}

// polygonToGeom groups shapefile rings into polygons. Clockwise rings are
// outer boundaries; counter-clockwise rings are holes and attach to the outer
// ring containing them. A hole with no enclosing outer ring is kept as its own
// polygon.
func polygonToGeom(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var outers [][][]float64
	var holes [][]float64
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}
		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if xy.IsRingCounterClockwise(geom.XY, flat) {
			holes = append(holes, flat)
		} else {
			outers = append(outers, [][]float64{flat})
		}
	}

	for _, h := range holes {
		owner := -1
		for i, rings := range outers {
			if xy.IsPointInRing(geom.XY, geom.Coord{h[0], h[1]}, rings[0]) {
				owner = i
				break
			}
		}
		if owner < 0 {
			outers = append(outers, [][]float64{h})
			continue
		}
		outers[owner] = append(outers[owner], h)
	}

	polys := make([]*geom.Polygon, 0, len(outers))
	for _, rings := range outers {
		var flat []float64
		ends := make([]int, 0, len(rings))
		for _, r := range rings {
			flat = append(flat, r...)
			ends = append(ends, len(flat))
		}
		polys = append(polys, geom.NewPolygonFlat(geom.XY, flat, ends))
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0].SetSRID(4326)
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, poly := range polys {
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("ingest: skipping malformed polygon part", zap.Error(err))
		}
	}
	return mp
}
