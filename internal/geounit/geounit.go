// Package geounit generates the synthetic unit grid scored for an audience.
package geounit

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/scoring"
)

// DefaultCount is the grid size when none is configured.
const DefaultCount = 200

// SRID of generated points (WGS 84).
const SRID = 4326

// Centre is a population centre units are scattered around. Spread is the
// maximum offset in degrees on each axis.
type Centre struct {
	Name   string
	Lat    float64
	Lng    float64
	Spread float64
}

// Centres are the UK population centres used for the grid.
var Centres = []Centre{
	{Name: "London", Lat: 51.5074, Lng: -0.1278, Spread: 0.30},
	{Name: "Birmingham", Lat: 52.4862, Lng: -1.8904, Spread: 0.15},
	{Name: "Manchester", Lat: 53.4808, Lng: -2.2426, Spread: 0.15},
	{Name: "Leeds", Lat: 53.8008, Lng: -1.5491, Spread: 0.12},
	{Name: "Glasgow", Lat: 55.8642, Lng: -4.2518, Spread: 0.12},
	{Name: "Liverpool", Lat: 53.4084, Lng: -2.9916, Spread: 0.10},
	{Name: "Bristol", Lat: 51.4545, Lng: -2.5879, Spread: 0.10},
	{Name: "Sheffield", Lat: 53.3811, Lng: -1.4701, Spread: 0.10},
	{Name: "Edinburgh", Lat: 55.9533, Lng: -3.1883, Spread: 0.10},
	{Name: "Cardiff", Lat: 51.4816, Lng: -3.1791, Spread: 0.08},
	{Name: "Newcastle", Lat: 54.9783, Lng: -1.6178, Spread: 0.08},
	{Name: "Nottingham", Lat: 52.9548, Lng: -1.1581, Spread: 0.08},
}

// Generate returns n unscored units for audienceID. Centre choice and
// offsets are seeded from (audienceID, index), so the grid is stable.
func Generate(audienceID string, n int) []model.GeoUnit {
	if n <= 0 {
		n = DefaultCount
	}
	units := make([]model.GeoUnit, n)
	for i := range n {
		seed := fmt.Sprintf("%s|%d", audienceID, i)
		c := Centres[scoring.Hash(seed+"|centre")%uint32(len(Centres))]
		units[i] = model.GeoUnit{
			GeoID:     fmt.Sprintf("%s-%04d", audienceID, i),
			Name:      fmt.Sprintf("%s %d", c.Name, i+1),
			Latitude:  round6(c.Lat + scoring.Between(seed+"|lat", -c.Spread, c.Spread)),
			Longitude: round6(c.Lng + scoring.Between(seed+"|lng", -c.Spread, c.Spread)),
		}
	}
	return units
}

// Point returns the unit location as a WGS 84 point.
func Point(u model.GeoUnit) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{u.Longitude, u.Latitude}).SetSRID(SRID)
}

// EncodeEWKB encodes the unit location for PostGIS.
func EncodeEWKB(u model.GeoUnit) ([]byte, error) {
	data, err := ewkb.Marshal(Point(u), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "geounit: encode %s", u.GeoID)
	}
	return data, nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
