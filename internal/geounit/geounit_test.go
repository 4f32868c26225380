package geounit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/audience-cli/internal/model"
)

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()

	a := Generate("aud-1", 50)
	b := Generate("aud-1", 50)
	assert.Equal(t, a, b)

	other := Generate("aud-2", 50)
	assert.NotEqual(t, a, other)
}

func TestGenerate_DefaultCountAndIDs(t *testing.T) {
	t.Parallel()

	units := Generate("aud-1", 0)
	require.Len(t, units, DefaultCount)
	assert.Equal(t, "aud-1-0000", units[0].GeoID)
	assert.Equal(t, "aud-1-0199", units[199].GeoID)

	seen := make(map[string]bool)
	for _, u := range units {
		assert.False(t, seen[u.GeoID], u.GeoID)
		seen[u.GeoID] = true
		assert.Zero(t, u.Score)
	}
}

func TestGenerate_NearCentres(t *testing.T) {
	t.Parallel()

	for _, u := range Generate("aud-geo", 300) {
		near := false
		for _, c := range Centres {
			if abs(u.Latitude-c.Lat) <= c.Spread+1e-6 && abs(u.Longitude-c.Lng) <= c.Spread+1e-6 {
				near = true
				break
			}
		}
		assert.True(t, near, "%s at %.4f,%.4f", u.GeoID, u.Latitude, u.Longitude)
		assert.True(t, u.Latitude > 49 && u.Latitude < 61)
	}
}

func TestPointAndEWKB(t *testing.T) {
	t.Parallel()

	u := model.GeoUnit{GeoID: "u1", Latitude: 51.5, Longitude: -0.12}
	p := Point(u)
	assert.Equal(t, SRID, p.SRID())
	assert.Equal(t, []float64{-0.12, 51.5}, p.FlatCoords())

	data, err := EncodeEWKB(u)
	require.NoError(t, err)

	decoded, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	pt, ok := decoded.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, SRID, pt.SRID())
	assert.InDelta(t, 51.5, pt.Y(), 1e-12)
	assert.InDelta(t, -0.12, pt.X(), 1e-12)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
