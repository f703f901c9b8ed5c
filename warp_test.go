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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	a := NewArray(10, 10)
	a.Fill(1)
	assert.Equal(t, 100, Checksum(a))
	assert.Equal(t, 16, Checksum(&Array{Width: 3, Height: 1, Data: []float64{10, 20, 30}}))
	assert.Equal(t, 0, Checksum(&Array{Width: 2, Height: 1, Data: []float64{nan, 0}}))
	assert.Equal(t, 3, Checksum(&Array{Width: 1, Height: 1, Data: []float64{9.6}}))
}

func TestSuggestedWarpOutput(t *testing.T) {
	ctx := context.Background()
	sr, _ := NewSpatialRefFromEPSG(3857)
	tr, err := NewTransformer(ctx, GeoTransformed{GeoTransform: GeoTransform{0, 10, 0, 100, 0, -10}, SRS: sr, Width: 20, Height: 10}, nil)
	require.NoError(t, err)
	gt, w, h, err := SuggestedWarpOutput(tr)
	require.NoError(t, err)
	assert.Equal(t, 20, w)
	assert.Equal(t, 10, h)
	assert.InDeltaSlice(t, []float64{0, 10, 0, 100, 0, -10}, gt[:], 1e-9)

	tr, err = NewTransformer(ctx, nil, GeoTransformed{GeoTransform: GeoTransform{0, 1, 0, 0, 0, 1}, SRS: sr, Width: 1, Height: 1})
	require.NoError(t, err)
	_, _, _, err = SuggestedWarpOutput(tr)
	assert.Error(t, err)

	// regular geolocation grid: the extent covers the pixels, not just the samples
	x, y := regularGrid(10, 10, -80, 1, 50, 1)
	tr, err = NewTransformer(ctx, Geolocated{Metadata: map[string]string{
		"X_DATASET": "lon", "Y_DATASET": "lat",
		"PIXEL_OFFSET": "0", "PIXEL_STEP": "1", "LINE_OFFSET": "0", "LINE_STEP": "1",
	}}, nil, Opener(arrays{"lon": x, "lat": y}))
	require.NoError(t, err)
	gt, w, h, err = SuggestedWarpOutput(tr)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-80.5, 1, 0, 50.5, 0, -1}, gt[:], 1e-9)
	assert.Equal(t, 10, w)
	assert.Equal(t, 10, h)
}

func TestWarp(t *testing.T) {
	ctx := context.Background()
	sr, _ := NewSpatialRefFromEPSG(4326)
	src := NewArray(10, 10)
	for j := 0; j < 10; j++ {
		for i := 0; i < 10; i++ {
			src.Data[j*10+i] = float64(i)
		}
	}
	src.NoData, src.HasNoData = 9, true
	tr, err := NewTransformer(ctx,
		GeoTransformed{GeoTransform: GeoTransform{0, 1, 0, 10, 0, -1}, SRS: sr, Width: 10, Height: 10},
		GeoTransformed{GeoTransform: GeoTransform{5, 1, 0, 10, 0, -1}, SRS: sr, Width: 10, Height: 40})
	require.NoError(t, err)

	dst := NewArray(10, 40)
	dst.Fill(42)
	require.NoError(t, Warp(ctx, src, dst, tr, Concurrency(3)))
	assert.Equal(t, []float64{5, 6, 7, 8, 42, 42, 42, 42, 42, 42}, dst.Data[0:10])
	assert.Equal(t, []float64{5, 6, 7, 8, 42, 42, 42, 42, 42, 42}, dst.Data[90:100])
	for _, v := range dst.Data[100:] {
		require.Equal(t, 42.0, v)
	}

	dst.Fill(42)
	require.NoError(t, Warp(ctx, src, dst, tr, DstNoData(-1), Concurrency(0)))
	assert.Equal(t, []float64{5, 6, 7, 8, -1, -1, -1, -1, -1, -1}, dst.Data[0:10])
	assert.Equal(t, -1.0, dst.Data[399])

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, Warp(cctx, src, dst, tr), context.Canceled)

	assert.Error(t, Warp(ctx, &Array{Width: 2, Height: 2}, dst, tr))
}

func TestWarpUntransformed(t *testing.T) {
	ctx := context.Background()
	x, y := regularGrid(4, 4, 0, 1, 10, 1)
	dst := Geolocated{Metadata: map[string]string{
		"X_DATASET": "lon", "Y_DATASET": "lat",
		"PIXEL_OFFSET": "0", "PIXEL_STEP": "1", "LINE_OFFSET": "0", "LINE_STEP": "1",
	}}
	sr, _ := NewSpatialRefFromEPSG(4326)
	tr, err := NewTransformer(ctx,
		GeoTransformed{GeoTransform: GeoTransform{0, 1, 0, 10, 0, -1}, SRS: sr, Width: 4, Height: 4},
		dst, Opener(arrays{"lon": x, "lat": y}))
	require.NoError(t, err)
	src := NewArray(4, 4)
	src.Fill(3)

	// a destination larger than the grid has pixels with no coordinate
	out := NewArray(8, 4)
	ec := eh()
	err = Warp(ctx, src, out, tr, ErrLogger(ec.ErrorHandler), DstNoData(0))
	assert.Error(t, err)
	assert.Equal(t, 1, ec.errs)
	assert.Contains(t, ec.msgs[0], "16 destination pixels")
	assert.Equal(t, []float64{3, 3, 3, 3, 0, 0, 0, 0}, out.Data[:8])

	col := &collector{}
	assert.NoError(t, Warp(ctx, src, out, tr, ErrLogger(col.ErrorHandler)))
	assert.Len(t, col.msgs, 1)
}
