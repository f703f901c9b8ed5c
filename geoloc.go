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
	"fmt"
	"log/slog"
)

// GeolocTransformer converts between source pixel/line and the coordinates of
// a geolocation grid
type GeolocTransformer struct {
	md    Metadata
	srs   *SpatialRef
	grid  *SampleGrid
	index *Index
	fill  FillStats
}

// NewGeolocTransformer loads the X/Y arrays described by md, fills their gaps
// and indexes them.
//
// Construction fails with an error wrapping ErrUnreadableSource when the arrays
// cannot be read, or ErrInvalidMetadata when they are inconsistent. A grid
// without any usable quadrilateral is not an error: an ErrDegenerateGrid
// warning is passed to the ErrLogger handler, which may turn it into one.
func NewGeolocTransformer(ctx context.Context, md Metadata, opts ...GeolocOption) (*GeolocTransformer, error) {
	o := geolocOpts{indexOpts: defaultIndexOpts()}
	for _, opt := range opts {
		opt.setGeolocOpt(&o)
	}
	if o.opener == nil {
		o.opener = DefaultSources
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	rep := reporter{eh: o.errorHandler, logger: o.logger}

	srs, err := metadataSRS(md)
	if err != nil {
		return nil, err
	}
	grid, err := LoadGrid(ctx, md, o.opener, srs.Geographic())
	if err != nil {
		return nil, err
	}
	gt := &GeolocTransformer{md: md, srs: srs, grid: grid}
	if !o.noFill {
		gt.fill = FillGaps(grid)
		if gt.fill.Filled > 0 {
			if err := rep.warnf(CodeAppDefined, "filled %d invalid geolocation samples over %d lines",
				gt.fill.Filled, gt.fill.Rows); err != nil {
				return nil, err
			}
		}
	}
	gt.index = BuildIndex(grid, o.indexOpts)
	if gt.index.Quads() == 0 && (grid.Width > 1 && grid.Height > 1 || grid.ValidCount() == 0) {
		if err := rep.warnf(CodeAppDefined, "%v: %dx%d grid with %d valid samples",
			ErrDegenerateGrid, grid.Width, grid.Height, grid.ValidCount()); err != nil {
			return nil, err
		}
	}
	o.logger.Debug("geolocation grid indexed",
		"x_dataset", md.XDataset, "y_dataset", md.YDataset,
		"width", grid.Width, "height", grid.Height,
		"valid", grid.ValidCount(), "quads", gt.index.Quads(), "srs", srs.String())
	return gt, nil
}

func metadataSRS(md Metadata) (*SpatialRef, error) {
	if md.SRS == "" {
		return NewSpatialRefFromEPSG(4326)
	}
	srs, err := NewOpaqueSpatialRef(md.SRS)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetadata, KeySRS, err)
	}
	return srs, nil
}

// PixelToCoord returns the coordinate of source pixel/line. Pixels beyond the
// outer samples are extrapolated up to the EdgeExtrapolation margin.
func (gt *GeolocTransformer) PixelToCoord(pixel, line float64) (x, y float64, ok bool) {
	col, row := gt.md.pixelToGrid(pixel, line)
	return gt.index.Coordinate(col, row)
}

// CoordToPixel returns the source pixel/line at coordinate x,y
func (gt *GeolocTransformer) CoordToPixel(x, y float64) (pixel, line float64, ok bool) {
	loc, ok := gt.index.Locate(x, y)
	if !ok {
		return 0, 0, false
	}
	pixel, line = gt.md.gridToPixel(loc.Col, loc.Row)
	return pixel, line, true
}

// Locate returns where coordinate x,y falls in the sample grid. The error
// wraps ErrNoBracket when no quadrilateral brackets it.
func (gt *GeolocTransformer) Locate(x, y float64) (Location, error) {
	loc, ok := gt.index.Locate(x, y)
	if !ok {
		return loc, fmt.Errorf("%w at %g,%g", ErrNoBracket, x, y)
	}
	return loc, nil
}

// Metadata returns the geolocation metadata the transformer was built from
func (gt *GeolocTransformer) Metadata() Metadata {
	return gt.md
}

// SpatialRef returns the reference system of the X/Y arrays
func (gt *GeolocTransformer) SpatialRef() *SpatialRef {
	return gt.srs
}

// Grid returns the (filled) sample grid
func (gt *GeolocTransformer) Grid() *SampleGrid {
	return gt.grid
}

// Index returns the spatial index over the sample grid
func (gt *GeolocTransformer) Index() *Index {
	return gt.index
}

// FillStats returns what gap filling changed in the grid
func (gt *GeolocTransformer) FillStats() FillStats {
	return gt.fill
}

// RasterSize returns the size of the source raster covered by the grid, i.e.
// the smallest raster whose every pixel has a geolocation sample
func (gt *GeolocTransformer) RasterSize() (width, height int) {
	return gt.md.PixelOffset + gt.grid.Width*gt.md.PixelStep,
		gt.md.LineOffset + gt.grid.Height*gt.md.LineStep
}
