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
	"fmt"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skewedGrid is a projected grid whose quads are neither parallelograms nor
// axis aligned
func skewedGrid(t *testing.T, w, h int) *SampleGrid {
	t.Helper()
	x := make([]float64, w*h)
	y := make([]float64, w*h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			fi, fj := float64(i), float64(j)
			x[j*w+i] = 100*fi + 20*fj + 3*fi*fj
			y[j*w+i] = 50*fj - 10*fi
		}
	}
	g, err := NewSampleGrid(w, h, x, y, false)
	require.NoError(t, err)
	return g
}

func TestBuildIndex(t *testing.T) {
	g := skewedGrid(t, 6, 4)
	ix := BuildIndex(g)
	assert.Equal(t, 15, ix.Quads())
	assert.Same(t, g, ix.Grid())
	b, _ := g.Extent()
	assert.Equal(t, b, ix.Bounds())

	// building is deterministic and leaves the grid untouched
	before := g.Clone()
	ix2 := BuildIndex(g, CellLoad(4))
	assert.Equal(t, before, g)
	for _, p := range [][2]float64{{0, 0}, {123, 45}, {250, 20}, {-30, -20}, {700, 300}, {444, 111}} {
		l1, ok1 := ix.Locate(p[0], p[1])
		l2, ok2 := ix2.Locate(p[0], p[1])
		assert.Equal(t, ok1, ok2, "%v", p)
		assert.Equal(t, l1, l2, "%v", p)
	}
}

func TestIndexDegenerate(t *testing.T) {
	nx := []float64{nan, nan, nan, nan, nan, nan, nan, nan, nan}
	ny := []float64{nan, nan, nan, nan, nan, nan, nan, nan, nan}
	g, _ := NewSampleGrid(3, 3, nx, ny, true)
	ix := BuildIndex(g)
	assert.Equal(t, 0, ix.Quads())
	assert.Equal(t, geographicDomain, ix.Bounds())
	_, ok := ix.Locate(0, 0)
	assert.False(t, ok)
	_, _, ok = ix.Coordinate(1, 1)
	assert.False(t, ok)

	// a quad with two invalid corners is left out
	g, _ = NewSampleGrid(2, 2, []float64{0, 1, nan, nan}, []float64{0, 0, nan, nan}, false)
	ix = BuildIndex(g)
	assert.Equal(t, 0, ix.Quads())
	_, ok = ix.Locate(0.5, 0)
	assert.False(t, ok)
}

func TestIndexSingleRow(t *testing.T) {
	g, _ := NewSampleGrid(3, 1, []float64{0, 10, 20}, []float64{0, 0, 0}, false)
	ix := BuildIndex(g)
	assert.Equal(t, 0, ix.Quads())
	loc, ok := ix.Locate(10, 0)
	require.True(t, ok)
	assert.Equal(t, Location{Col: 1, Row: 0, Quad: -1, Inside: true}, loc)
	_, ok = ix.Locate(10.5, 0)
	assert.False(t, ok)

	x, y, ok := ix.Coordinate(1, 0)
	require.True(t, ok)
	assert.Equal(t, 10.0, x)
	assert.Equal(t, 0.0, y)
	x, _, ok = ix.Coordinate(1.4, 0)
	require.True(t, ok)
	assert.Equal(t, 10.0, x)
	_, _, ok = ix.Coordinate(3, 0)
	assert.False(t, ok)

	g, _ = NewSampleGrid(1, 1, []float64{5}, []float64{7}, false)
	ix = BuildIndex(g)
	loc, ok = ix.Locate(5, 7)
	require.True(t, ok)
	assert.Equal(t, 0.0, loc.Col)
	assert.Equal(t, 0.0, loc.Row)
	_, ok = ix.Locate(5, 8)
	assert.False(t, ok)
}

func TestLocateRoundTrip(t *testing.T) {
	g := skewedGrid(t, 6, 4)
	ix := BuildIndex(g)
	for _, cr := range [][2]float64{
		{0, 0}, {1, 1}, {5, 3}, {2.5, 1.5}, {0.1, 2.9}, {4.75, 0.25},
		{-0.25, 1.5}, {5.4, 2}, {3, -0.45}, {2, 3.45},
	} {
		x, y, ok := ix.Coordinate(cr[0], cr[1])
		require.True(t, ok, "%v", cr)
		loc, ok := ix.Locate(x, y)
		require.True(t, ok, "%v", cr)
		assert.InDelta(t, cr[0], loc.Col, 1e-9, "%v", cr)
		assert.InDelta(t, cr[1], loc.Row, 1e-9, "%v", cr)
		switch {
		case cr[0] < 0 || cr[0] > 5 || cr[1] < 0 || cr[1] > 3:
			assert.False(t, loc.Inside, "%v", cr)
		case cr[0] != math.Trunc(cr[0]) && cr[1] != math.Trunc(cr[1]):
			assert.True(t, loc.Inside, "%v", cr)
		}
	}

	// beyond the extrapolation margin
	_, _, ok := ix.Coordinate(-0.75, 1)
	assert.False(t, ok)
	c := [4]r2.Point{{X: g.X[0], Y: g.Y[0]}, {X: g.X[1], Y: g.Y[1]}, {X: g.X[6], Y: g.Y[6]}, {X: g.X[7], Y: g.Y[7]}}
	p := bilinear(c, -0.75, 0.5)
	_, ok = ix.Locate(p.X, p.Y)
	assert.False(t, ok)

	ix = BuildIndex(g, EdgeExtrapolation(0))
	x, y, ok := BuildIndex(g).Coordinate(-0.25, 1.5)
	require.True(t, ok)
	_, ok = ix.Locate(x, y)
	assert.False(t, ok)
}

func TestLocateAntimeridian(t *testing.T) {
	w, h := 20, 5
	x := make([]float64, w*h)
	y := make([]float64, w*h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			x[j*w+i] = wrapLon(170 + float64(i))
			y[j*w+i] = 10 - float64(j)
		}
	}
	g, err := NewSampleGrid(w, h, x, y, true)
	require.NoError(t, err)
	ix := BuildIndex(g)
	assert.Equal(t, 19*4, ix.Quads())

	for _, tc := range []struct {
		lon, lat, col, row float64
	}{
		{179.5, 8, 9.5, 2},
		{-179.5, 8, 10.5, 2},
		{180, 7.25, 10, 2.75},
		{-180, 7.25, 10, 2.75},
		{540, 7.25, 10, 2.75},
		{-171, 6, 19, 4},
		{170, 10, 0, 0},
	} {
		loc, ok := ix.Locate(tc.lon, tc.lat)
		require.True(t, ok, "%v", tc)
		assert.InDelta(t, tc.col, loc.Col, 1e-9, "%v", tc)
		assert.InDelta(t, tc.row, loc.Row, 1e-9, "%v", tc)
	}
	_, ok := ix.Locate(0, 8)
	assert.False(t, ok)
	_, ok = ix.Locate(175, 95)
	assert.False(t, ok)

	lon, lat, ok := ix.Coordinate(10.5, 2)
	require.True(t, ok)
	assert.InDelta(t, -179.5, lon, 1e-9)
	assert.InDelta(t, 8, lat, 1e-9)
	lon, _, ok = ix.Coordinate(9.5, 2)
	require.True(t, ok)
	assert.InDelta(t, 179.5, lon, 1e-9)
}

func TestLocatePolar(t *testing.T) {
	for _, south := range []bool{false, true} {
		t.Run(fmt.Sprintf("south=%v", south), func(t *testing.T) {
			w, h := 36, 6
			x := make([]float64, w*h)
			y := make([]float64, w*h)
			sign := 1.0
			if south {
				sign = -1
			}
			for j := 0; j < h; j++ {
				for i := 0; i < w; i++ {
					x[j*w+i] = wrapLon(10 * float64(i))
					y[j*w+i] = sign * (84 + float64(j))
				}
			}
			g, err := NewSampleGrid(w, h, x, y, true)
			require.NoError(t, err)
			ix := BuildIndex(g)
			assert.Equal(t, 35*5, ix.Quads())

			lon, lat, ok := ix.Coordinate(3, 2)
			require.True(t, ok)
			assert.InDelta(t, 30, lon, 1e-9)
			assert.InDelta(t, sign*86, lat, 1e-9)

			for _, cr := range [][2]float64{{0.5, 0.5}, {2.25, 2.5}, {17.5, 4.25}, {20.5, 1}, {34.75, 3.5}, {10, 4.9}} {
				x, y, ok := ix.Coordinate(cr[0], cr[1])
				require.True(t, ok, "%v", cr)
				loc, ok := ix.Locate(x, y)
				require.True(t, ok, "%v", cr)
				assert.InDelta(t, cr[0], loc.Col, 1e-6, "%v", cr)
				assert.InDelta(t, cr[1], loc.Row, 1e-6, "%v", cr)
			}
			_, ok = ix.Locate(100, sign*70)
			assert.False(t, ok)
		})
	}

	// the same grid solved in longitude/latitude, then in a polar plane
	x, y := regularGrid(10, 10, 0, 1, 70, 1)
	g, _ := NewSampleGrid(10, 10, x.Data, y.Data, true)
	for _, pl := range []float64{80, 50} {
		ix := BuildIndex(g, PolarLatitude(pl))
		loc, ok := ix.Locate(2.5, 66.5)
		require.True(t, ok)
		assert.InDelta(t, 2.5, loc.Col, 1e-2)
		assert.InDelta(t, 3.5, loc.Row, 1e-2)
	}
}

// overPole returns the position of a swath crossing the north pole, 1 degree
// between samples along and across track, at fractional pixel col,row
func overPole(col, row float64) (lon, lat float64) {
	px, py := col-5.5, row-5.5
	return math.Atan2(px, -py) * 180 / math.Pi, 90 - math.Hypot(px, py)
}

func TestLocatePolarFilled(t *testing.T) {
	w, h := 12, 12
	x := make([]float64, w*h)
	y := make([]float64, w*h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			x[j*w+i], y[j*w+i] = overPole(float64(i), float64(j))
		}
	}
	// interior runs, a hole next to the pole and single samples on each edge
	for _, ij := range [][2]int{{3, 1}, {4, 1}, {3, 2}, {4, 2}, {11, 2}, {6, 4}, {0, 9}} {
		x[ij[1]*w+ij[0]], y[ij[1]*w+ij[0]] = math.NaN(), math.NaN()
	}
	g, err := NewSampleGrid(w, h, x, y, true)
	require.NoError(t, err)

	lon, lat := overPole(3.5, 1.5)
	_, ok := BuildIndex(g).Locate(lon, lat)
	assert.False(t, ok)

	st := FillGaps(g)
	assert.Equal(t, FillStats{Filled: 7, Rows: 4}, st)
	assert.Equal(t, w*h, g.ValidCount())
	ix := BuildIndex(g)
	assert.Equal(t, 11*11, ix.Quads())

	n := 0
	for _, col := range []float64{0.75, 2.6, 3.5, 4.45, 6.3, 8.15, 10, 10.75} {
		for _, row := range []float64{0.5, 1.5, 2.25, 4.1, 5.9, 7.7, 9.6, 10.5} {
			lon, lat := overPole(col, row)
			loc, ok := ix.Locate(lon, lat)
			if !assert.True(t, ok, "%v,%v", col, row) {
				continue
			}
			assert.InDelta(t, col, loc.Col, 0.5, "%v,%v", col, row)
			assert.InDelta(t, row, loc.Row, 0.5, "%v,%v", col, row)
			n++
		}
	}
	assert.Equal(t, 64, n)
}

func TestLocateTriangle(t *testing.T) {
	// sample (1,1) is missing, the quad is solved on its 3 valid corners
	g, _ := NewSampleGrid(2, 2, []float64{0, 10, 0, nan}, []float64{0, 0, 10, nan}, false)
	ix := BuildIndex(g)
	require.Equal(t, 1, ix.Quads())
	loc, ok := ix.Locate(2, 3)
	require.True(t, ok)
	assert.True(t, loc.Inside)
	assert.InDelta(t, 0.2, loc.Col, 1e-9)
	assert.InDelta(t, 0.3, loc.Row, 1e-9)
	// beyond the missing corner's diagonal
	loc, ok = ix.Locate(8, 8)
	if ok {
		assert.False(t, loc.Inside)
	}
	x, y, ok := ix.Coordinate(0.2, 0.3)
	require.True(t, ok)
	assert.InDelta(t, 2, x, 1e-9)
	assert.InDelta(t, 3, y, 1e-9)
}

func TestCandidateOrder(t *testing.T) {
	in := candidate{loc: Location{Quad: 5, Inside: true}, dist: 10}
	out := candidate{loc: Location{Quad: 1, Inside: false}, dist: 1}
	assert.True(t, in.better(out))
	assert.False(t, out.better(in))

	near := candidate{loc: Location{Quad: 7, Inside: true}, dist: 2}
	assert.True(t, near.better(in))

	same := candidate{loc: Location{Quad: 3, Inside: true}, dist: 10}
	assert.True(t, same.better(in))
	assert.False(t, in.better(same))
	assert.False(t, in.better(in))
}

func TestLocateNaN(t *testing.T) {
	ix := BuildIndex(skewedGrid(t, 3, 3))
	_, ok := ix.Locate(math.NaN(), 0)
	assert.False(t, ok)
	_, _, ok = ix.Coordinate(0, math.NaN())
	assert.False(t, ok)
}
