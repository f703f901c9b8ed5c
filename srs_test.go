// Copyright 2021 Airbus Defence and Space
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package geoloc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpatialRef(t *testing.T) {
	for _, tc := range []struct {
		def  string
		epsg int
	}{
		{"EPSG:4326", 4326},
		{"epsg:4979", 4326},
		{"WGS84", 4326},
		{"OGC:CRS84", 4326},
		{"urn:ogc:def:crs:EPSG::4326", 4326},
		{"+proj=longlat +datum=WGS84 +no_defs", 4326},
		{"+init=epsg:3857", 3857},
		{"EPSG:900913", 3857},
		{"+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs", 3857},
		{WKTWGS84, 4326},
		{WKTWebMercator, 3857},
		{`GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]`, 4326},
		{`GEOGCRS["WGS 84",DATUM["World Geodetic System 1984",ELLIPSOID["WGS 84",6378137,298.257223563]],CS[ellipsoidal,2],AXIS["latitude",north],AXIS["longitude",east],ANGLEUNIT["degree",0.0174532925199433],ID["EPSG",4326]]`, 4326},
		{`PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]]],PROJECTION["Mercator_1SP"]]`, 3857},
	} {
		sr, err := NewSpatialRef(tc.def)
		if assert.NoError(t, err, tc.def) {
			assert.Equal(t, tc.epsg, sr.EPSG(), tc.def)
			assert.Equal(t, tc.epsg == 4326, sr.Geographic(), tc.def)
		}
	}

	for _, def := range []string{
		"EPSG:2154",
		"EPSG:abc",
		"+proj=utm +zone=31 +datum=WGS84",
		`PROJCS["RGF93 / Lambert-93",GEOGCS["RGF93"],PROJECTION["Lambert_Conformal_Conic_2SP"],AUTHORITY["EPSG","2154"]]`,
		`GEOGCS["grads",UNIT["grad",0.015707963267949]]`,
		`GEOGCS["unterminated"`,
		`LOCAL_CS["engineering"]`,
	} {
		_, err := NewSpatialRef(def)
		assert.Error(t, err, def)
	}
	_, err := NewSpatialRef("EPSG:2154")
	assert.ErrorIs(t, err, ErrUnsupportedSRS)
}

func TestSpatialRefMethods(t *testing.T) {
	geo, _ := NewSpatialRefFromEPSG(4326)
	merc, _ := NewSpatialRefFromEPSG(3857)
	assert.True(t, geo.IsSame(geo))
	assert.False(t, geo.IsSame(merc))
	assert.False(t, geo.IsSame(nil))
	assert.Equal(t, "EPSG:3857", merc.String())

	// the WKT forms parse back to the same system
	for _, sr := range []*SpatialRef{geo, merc} {
		back, err := NewSpatialRefFromWKT(sr.WKT())
		require.NoError(t, err)
		assert.True(t, sr.IsSame(back))
	}
}

func TestCoordTransform(t *testing.T) {
	geo, _ := NewSpatialRefFromEPSG(4326)
	merc, _ := NewSpatialRefFromEPSG(3857)
	fwd, err := NewTransform(geo, merc)
	require.NoError(t, err)
	rev, err := NewTransform(merc, geo)
	require.NoError(t, err)
	_, err = NewTransform(geo, nil)
	assert.Error(t, err)

	x, y, ok := fwd.TransformPoint(-80, 50)
	require.True(t, ok)
	assert.InDelta(t, -8905559.26346189, x, 1e-3)
	assert.InDelta(t, 6446275.84101716, y, 1e-3)
	x, y, ok = fwd.TransformPoint(-70, 40)
	require.True(t, ok)
	assert.InDelta(t, -7792364.35552915, x, 1e-3)
	assert.InDelta(t, 4865942.27950318, y, 1e-3)

	lon, lat, ok := rev.TransformPoint(-8905559.26346189, 6446275.84101716)
	require.True(t, ok)
	assert.InDelta(t, -80, lon, 1e-9)
	assert.InDelta(t, 50, lat, 1e-9)

	// longitudes beyond the antimeridian are wrapped first
	x, _, ok = fwd.TransformPoint(280, 50)
	require.True(t, ok)
	assert.InDelta(t, -8905559.26346189, x, 1e-3)

	_, _, ok = fwd.TransformPoint(0, 90)
	assert.False(t, ok)
	_, _, ok = fwd.TransformPoint(math.NaN(), 0)
	assert.False(t, ok)

	xs := []float64{-80, 0}
	ys := []float64{50, 95}
	oks := make([]bool, 2)
	assert.Error(t, fwd.TransformEx(xs, ys, nil, oks))
	assert.Equal(t, []bool{true, false}, oks)
	assert.InDelta(t, -8905559.26346189, xs[0], 1e-3)

	same, _ := NewTransform(geo, geo)
	x, y, ok = same.TransformPoint(12, 34)
	assert.True(t, ok)
	assert.Equal(t, 12.0, x)
	assert.Equal(t, 34.0, y)
}

func TestOpaqueSpatialRef(t *testing.T) {
	geo, err := NewOpaqueSpatialRef("EPSG:4326")
	require.NoError(t, err)
	assert.True(t, geo.Geographic())

	lambert, err := NewOpaqueSpatialRef("EPSG:2154")
	require.NoError(t, err)
	assert.False(t, lambert.Geographic())
	assert.Equal(t, 2154, lambert.EPSG())
	assert.Equal(t, "EPSG:2154", lambert.String())
	assert.Equal(t, "EPSG:2154", lambert.WKT())

	wkt, err := NewOpaqueSpatialRef(`PROJCS["RGF93 / Lambert-93",GEOGCS["RGF93"],PROJECTION["Lambert_Conformal_Conic_2SP"],AUTHORITY["EPSG","2154"]]`)
	require.NoError(t, err)
	urn, err := NewOpaqueSpatialRef("urn:ogc:def:crs:EPSG::2154")
	require.NoError(t, err)
	assert.True(t, lambert.IsSame(wkt))
	assert.True(t, lambert.IsSame(urn))
	assert.False(t, lambert.IsSame(geo))

	utm, err := NewOpaqueSpatialRef("+proj=utm +zone=31 +datum=WGS84")
	require.NoError(t, err)
	assert.Equal(t, 0, utm.EPSG())
	assert.Equal(t, "+proj=utm +zone=31 +datum=WGS84", utm.String())
	local, err := NewOpaqueSpatialRef(`LOCAL_CS["engineering"]`)
	require.NoError(t, err)
	assert.True(t, utm.IsSame(utm))
	assert.False(t, utm.IsSame(local))
	assert.False(t, utm.IsSame(lambert))

	for _, def := range []string{"EPSG:abc", `GEOGCS["unterminated"`, "urn:ogc:def:crs:EPSG::x"} {
		_, err := NewOpaqueSpatialRef(def)
		assert.Error(t, err, def)
	}

	_, err = NewTransform(lambert, geo)
	assert.ErrorIs(t, err, ErrUnsupportedSRS)
	_, err = NewTransform(geo, utm)
	assert.ErrorIs(t, err, ErrUnsupportedSRS)
	same, err := NewTransform(lambert, wkt)
	require.NoError(t, err)
	x, y, ok := same.TransformPoint(700000, 6600000)
	assert.True(t, ok)
	assert.Equal(t, 700000.0, x)
	assert.Equal(t, 6600000.0, y)
}
