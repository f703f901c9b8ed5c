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
	"errors"
	"fmt"
	"log/slog"
)

// Referenced is a raster whose pixels can be located in a coordinate
// reference system: either a GeoTransformed or a Geolocated raster.
type Referenced interface {
	referenced()
}

// GeoTransformed is a raster georeferenced by an affine geotransform
type GeoTransformed struct {
	GeoTransform GeoTransform
	// SRS of the geotransform. nil means the same system as the other side of
	// the Transformer.
	SRS           *SpatialRef
	Width, Height int
}

// Geolocated is a raster georeferenced by geolocation arrays
type Geolocated struct {
	// Metadata is the content of the GEOLOCATION metadata domain of the raster
	Metadata map[string]string
	// Width, Height of the raster. When zero, the size covered by the
	// geolocation arrays is used.
	Width, Height int
}

func (GeoTransformed) referenced() {}
func (Geolocated) referenced()     {}

// refSide is one end of a Transformer
type refSide struct {
	gt, inv GeoTransform
	geoloc  *GeolocTransformer
	srs     *SpatialRef
	// coords is set when the side was nil: its pixels are the coordinates
	// of its reference system
	coords        bool
	width, height int
}

func (s *refSide) toCoord(pixel, line float64) (x, y float64, ok bool) {
	switch {
	case s.coords:
		return pixel, line, true
	case s.geoloc != nil:
		return s.geoloc.PixelToCoord(pixel, line)
	}
	x, y = s.gt.Apply(pixel, line)
	return x, y, true
}

func (s *refSide) toPixel(x, y float64) (pixel, line float64, ok bool) {
	switch {
	case s.coords:
		return x, y, true
	case s.geoloc != nil:
		return s.geoloc.CoordToPixel(x, y)
	}
	pixel, line = s.inv.Apply(x, y)
	return pixel, line, true
}

// Transformer maps pixel/line positions of a source raster to pixel/line
// positions of a destination raster, and back, reprojecting in between when
// both are expressed in different systems. It is safe for concurrent use.
type Transformer struct {
	src, dst refSide
	// fwd reprojects from src to dst, rev from dst to src. Both nil when no
	// reprojection is needed.
	fwd, rev *CoordTransform
	logger   *slog.Logger
}

// NewTransformer creates a transformer from src to dst. Either side may be
// nil, in which case its pixel/line positions are the coordinates of the
// other side's reference system, but not both.
//
// Construction fails when the geolocation metadata of a side is invalid
// (the error wraps ErrInvalidMetadata) or when its arrays cannot be read
// (ErrUnreadableSource). TransformerOptions configure the geolocated side(s).
func NewTransformer(ctx context.Context, src, dst Referenced, opts ...TransformerOption) (*Transformer, error) {
	o := transformerOpts{geolocOpts{indexOpts: defaultIndexOpts()}}
	for _, opt := range opts {
		opt.setTransformerOpt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if src == nil && dst == nil {
		return nil, errors.New("source and destination cannot both be nil")
	}
	tr := &Transformer{logger: o.logger}
	var err error
	if tr.src, err = newRefSide(ctx, src, o.geolocOpts); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if tr.dst, err = newRefSide(ctx, dst, o.geolocOpts); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	switch {
	case tr.src.srs == nil:
		tr.src.srs = tr.dst.srs
	case tr.dst.srs == nil:
		tr.dst.srs = tr.src.srs
	}
	if !tr.src.srs.IsSame(tr.dst.srs) {
		if tr.fwd, err = NewTransform(tr.src.srs, tr.dst.srs); err != nil {
			return nil, err
		}
		if tr.rev, err = NewTransform(tr.dst.srs, tr.src.srs); err != nil {
			return nil, err
		}
		o.logger.Debug("transformer reprojects", "src", tr.src.srs.String(), "dst", tr.dst.srs.String())
	}
	return tr, nil
}

func newRefSide(ctx context.Context, r Referenced, o geolocOpts) (refSide, error) {
	switch ref := r.(type) {
	case nil:
		return refSide{coords: true}, nil
	case *GeoTransformed:
		if ref == nil {
			return refSide{coords: true}, nil
		}
		return newRefSide(ctx, *ref, o)
	case *Geolocated:
		if ref == nil {
			return refSide{coords: true}, nil
		}
		return newRefSide(ctx, *ref, o)
	case GeoTransformed:
		inv, err := ref.GeoTransform.Invert()
		if err != nil {
			return refSide{}, err
		}
		return refSide{gt: ref.GeoTransform, inv: inv, srs: ref.SRS, width: ref.Width, height: ref.Height}, nil
	case Geolocated:
		md, err := ParseMetadata(ref.Metadata)
		if err != nil {
			return refSide{}, err
		}
		gl, err := NewGeolocTransformer(ctx, md, o)
		if err != nil {
			return refSide{}, err
		}
		s := refSide{geoloc: gl, srs: gl.SpatialRef(), width: ref.Width, height: ref.Height}
		if s.width <= 0 || s.height <= 0 {
			s.width, s.height = gl.RasterSize()
		}
		return s, nil
	}
	return refSide{}, fmt.Errorf("unsupported referenced raster %T", r)
}

// TransformPoint transforms a single pixel/line position, from source to
// destination or from destination to source when dstToSrc is set. z is
// passed through. The returned bool is false when the position has no image
// on the other side.
func (tr *Transformer) TransformPoint(dstToSrc bool, x, y, z float64) (bool, [3]float64) {
	from, to, ct := &tr.src, &tr.dst, tr.fwd
	if dstToSrc {
		from, to, ct = &tr.dst, &tr.src, tr.rev
	}
	cx, cy, ok := from.toCoord(x, y)
	if !ok {
		return false, [3]float64{x, y, z}
	}
	if ct != nil {
		if cx, cy, ok = ct.TransformPoint(cx, cy); !ok {
			return false, [3]float64{x, y, z}
		}
	}
	px, py, ok := to.toPixel(cx, cy)
	if !ok {
		return false, [3]float64{x, y, z}
	}
	return true, [3]float64{px, py, z}
}

// TransformEx transforms positions in place. z may be nil. successful, when
// not nil, receives the per point status; an error is returned when any point
// failed, after every point has been processed.
func (tr *Transformer) TransformEx(dstToSrc bool, x []float64, y []float64, z []float64, successful []bool) error {
	if len(x) != len(y) || (z != nil && len(z) != len(x)) || (successful != nil && len(successful) != len(x)) {
		return errors.New("mismatched slice lengths")
	}
	failed := false
	for i := range x {
		zi := 0.0
		if z != nil {
			zi = z[i]
		}
		ok, p := tr.TransformPoint(dstToSrc, x[i], y[i], zi)
		if ok {
			x[i], y[i] = p[0], p[1]
			if z != nil {
				z[i] = p[2]
			}
		}
		if successful != nil {
			successful[i] = ok
		}
		failed = failed || !ok
	}
	if failed {
		return errors.New("some or all points failed to transform")
	}
	return nil
}

// SourceSRS returns the reference system of the source side
func (tr *Transformer) SourceSRS() *SpatialRef {
	return tr.src.srs
}

// DestinationSRS returns the reference system of the destination side
func (tr *Transformer) DestinationSRS() *SpatialRef {
	return tr.dst.srs
}

// SourceGeoloc returns the geolocation transformer of the source side, or nil
func (tr *Transformer) SourceGeoloc() *GeolocTransformer {
	return tr.src.geoloc
}

// DestinationGeoloc returns the geolocation transformer of the destination
// side, or nil
func (tr *Transformer) DestinationGeoloc() *GeolocTransformer {
	return tr.dst.geoloc
}
