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

var nan = math.NaN()

func TestFillGaps(t *testing.T) {
	x := []float64{
		0, nan, nan, 3,
		nan, 1, 2, nan,
		nan, 5, nan, nan,
		nan, nan, nan, nan,
		0, 1, 2, 3,
	}
	y := []float64{
		10, nan, nan, 13,
		nan, 21, 22, nan,
		nan, 30, nan, nan,
		nan, nan, nan, nan,
		40, 41, 42, 43,
	}
	g, err := NewSampleGrid(4, 5, x, y, false)
	require.NoError(t, err)
	st := FillGaps(g)
	assert.Equal(t, FillStats{Filled: 7, Rows: 3}, st)

	assert.InDeltaSlice(t, []float64{0, 1, 2, 3}, g.X[0:4], 1e-12)
	assert.InDeltaSlice(t, []float64{10, 11, 12, 13}, g.Y[0:4], 1e-12)
	assert.InDeltaSlice(t, []float64{0, 1, 2, 3}, g.X[4:8], 1e-12)
	assert.InDeltaSlice(t, []float64{20, 21, 22, 23}, g.Y[4:8], 1e-12)
	assert.Equal(t, []float64{5, 5, 5, 5}, g.X[8:12])
	assert.Equal(t, []float64{30, 30, 30, 30}, g.Y[8:12])
	for i := 12; i < 16; i++ {
		assert.True(t, math.IsNaN(g.X[i]), "empty rows are left untouched")
	}
	assert.Equal(t, []float64{0, 1, 2, 3}, g.X[16:20])

	// filling again is a no-op
	assert.Equal(t, FillStats{}, FillGaps(g))
}

func TestFillGapsAntimeridian(t *testing.T) {
	g, err := NewSampleGrid(4, 1,
		[]float64{179, nan, nan, -179},
		[]float64{0, nan, nan, 3}, true)
	require.NoError(t, err)
	FillGaps(g)
	assert.InDelta(t, 179+2.0/3, g.X[1], 1e-9)
	assert.InDelta(t, -179-2.0/3, g.X[2], 1e-9)
	assert.InDelta(t, 1, g.Y[1], 1e-9)
	assert.InDelta(t, 2, g.Y[2], 1e-9)

	// projected grids are not unwrapped
	g, _ = NewSampleGrid(4, 1, []float64{179, nan, nan, -179}, []float64{0, 0, 0, 0}, false)
	FillGaps(g)
	assert.InDelta(t, 179-358.0/3, g.X[1], 1e-9)
}

func TestFillGapsLatitudeClamp(t *testing.T) {
	g, err := NewSampleGrid(5, 1,
		[]float64{nan, 0, 1, nan, nan},
		[]float64{nan, 88, 89, nan, nan}, true)
	require.NoError(t, err)
	st := FillGaps(g)
	assert.Equal(t, 3, st.Filled)
	assert.InDelta(t, -1, g.X[0], 1e-9)
	assert.InDelta(t, 87, g.Y[0], 1e-9)
	assert.InDelta(t, 90, g.Y[3], 1e-9)
	assert.Equal(t, 90.0, g.Y[4])
	assert.InDelta(t, 3, g.X[4], 1e-9)
}
