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
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexGrid(t *testing.T, w, h int) *SampleGrid {
	t.Helper()
	x := make([]float64, w*h)
	y := make([]float64, w*h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			x[j*w+i], y[j*w+i] = float64(i), float64(j)
		}
	}
	g, err := NewSampleGrid(w, h, x, y, false)
	require.NoError(t, err)
	return g
}

func TestFootprint(t *testing.T) {
	g := indexGrid(t, 4, 3)
	poly, err := Footprint(g, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, poly.NumLinearRings())
	assert.Equal(t, []float64{
		0, 0, 1, 0, 2, 0,
		3, 0, 3, 1,
		3, 2, 2, 2, 1, 2,
		0, 2, 0, 1,
		0, 0,
	}, poly.FlatCoords())

	poly, err = Footprint(g, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 2, 0, 3, 0, 3, 2, 1, 2, 0, 2, 0, 0}, poly.FlatCoords())

	_, err = Footprint(indexGrid(t, 4, 1), 0)
	assert.Error(t, err)
	_, err = Footprint(&SampleGrid{Width: 2, Height: 2, X: []float64{nan, nan, nan, 1}, Y: []float64{nan, nan, nan, 1}}, 0)
	assert.Error(t, err)
}

func TestFootprintAntimeridian(t *testing.T) {
	g, err := NewSampleGrid(3, 2, []float64{179, 180, -179, 179, 180, -179}, []float64{1, 1, 1, 0, 0, 0}, true)
	require.NoError(t, err)
	poly, err := Footprint(g, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{179, 1, 180, 1, 181, 1, 181, 0, 180, 0, 179, 0, 179, 1}, poly.FlatCoords())
}

func TestFootprintGeoJSON(t *testing.T) {
	b, err := FootprintGeoJSON(indexGrid(t, 4, 3), 0)
	require.NoError(t, err)
	var f struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string        `json:"type"`
			Coordinates [][][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]int `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(b, &f))
	assert.Equal(t, "Feature", f.Type)
	assert.Equal(t, "Polygon", f.Geometry.Type)
	require.Len(t, f.Geometry.Coordinates, 1)
	assert.Len(t, f.Geometry.Coordinates[0], 11)
	assert.Equal(t, map[string]int{"width": 4, "height": 3, "valid": 12}, f.Properties)

	_, err = FootprintGeoJSON(indexGrid(t, 1, 1), 0)
	assert.Error(t, err)
}

func TestFootprintPolar(t *testing.T) {
	// 3x3 samples 5 degrees apart in the polar plane, centred on the north pole
	x := make([]float64, 9)
	y := make([]float64, 9)
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			px, py := float64(i-1)*5, float64(j-1)*5
			x[j*3+i] = math.Atan2(px, -py) * 180 / math.Pi
			y[j*3+i] = 90 - math.Hypot(px, py)
		}
	}
	g, err := NewSampleGrid(3, 3, x, y, true)
	require.NoError(t, err)
	poly, err := Footprint(g, 0)
	require.NoError(t, err)
	c := poly.FlatCoords()
	require.Len(t, c, 24)
	corner := 90 - math.Hypot(5, 5)
	assert.InDelta(t, -45, c[0], 1e-9)
	assert.InDelta(t, corner, c[1], 1e-9)
	// the outline turns once around the pole
	for k := 2; k < 16; k += 2 {
		assert.InDelta(t, 45, c[k]-c[k-2], 1e-9)
	}
	assert.InDelta(t, 270, c[14], 1e-9)
	assert.InDeltaSlice(t, []float64{c[0] + 360, c[1], c[0] + 360, 90, c[0], 90, c[0], c[1]}, c[16:], 1e-9)

	s, err := NewSampleGrid(3, 3, x, negate(y), true)
	require.NoError(t, err)
	poly, err = Footprint(s, 0)
	require.NoError(t, err)
	assert.Equal(t, -90.0, poly.FlatCoords()[19])
}

func negate(v []float64) []float64 {
	ret := make([]float64, len(v))
	for i := range v {
		ret[i] = -v[i]
	}
	return ret
}
