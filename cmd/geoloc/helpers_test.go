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

package main

import (
	"bytes"
	"testing"

	"github.com/airbusgeo/geoloc"
	"github.com/stretchr/testify/require"
)

// memGrid writes a 10x10 regular lon/lat grid to /vsimem, sample (i,j) being
// at lon -80+i, lat 50-j, and returns its geolocation metadata
func memGrid(t *testing.T, prefix string) []string {
	t.Helper()
	write := func(name string, f func(i, j int) float64) {
		a := geoloc.NewArray(10, 10)
		for j := 0; j < 10; j++ {
			for i := 0; i < 10; i++ {
				a.Data[j*10+i] = f(i, j)
			}
		}
		buf := bytes.Buffer{}
		require.NoError(t, geoloc.WriteTIFF(&buf, a, geoloc.TileSize(16)))
		geoloc.DefaultSources.Mem().WriteFile(name, buf.Bytes())
		t.Cleanup(func() { _ = geoloc.DefaultSources.Mem().Unlink(name) })
	}
	lon, lat := "/vsimem/"+prefix+"lon.tif", "/vsimem/"+prefix+"lat.tif"
	write(lon, func(i, j int) float64 { return -80 + float64(i) })
	write(lat, func(i, j int) float64 { return 50 - float64(j) })
	return []string{
		"X_DATASET=" + lon, "Y_DATASET=" + lat,
		"PIXEL_OFFSET=0", "PIXEL_STEP=1", "LINE_OFFSET=0", "LINE_STEP=1",
	}
}
