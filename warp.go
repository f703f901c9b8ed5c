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
	"math"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// edgeSteps is the number of intervals each raster edge is sampled with when
// computing a warp output extent
const edgeSteps = 20

// warpBlockLines is the number of destination lines handled by a single warp task
const warpBlockLines = 16

// toDstCoord maps a source pixel/line to a coordinate of the destination
// reference system
func (tr *Transformer) toDstCoord(pixel, line float64) (x, y float64, ok bool) {
	x, y, ok = tr.src.toCoord(pixel, line)
	if !ok {
		return
	}
	if tr.fwd != nil {
		x, y, ok = tr.fwd.TransformPoint(x, y)
	}
	return
}

// SuggestedWarpOutput computes the geotransform and size of a north-up raster,
// in the destination reference system of tr, covering the whole source
// raster. The extent takes every geolocation sample of a geolocated source
// into account, along with its edges. Like GDAL, the resolution is chosen so
// that the output has as many pixels along its diagonal as the source.
func SuggestedWarpOutput(tr *Transformer) (gt GeoTransform, width, height int, err error) {
	src := &tr.src
	if src.coords {
		return gt, 0, 0, errors.New("source raster has no georeferencing")
	}
	if src.width <= 0 || src.height <= 0 {
		return gt, 0, 0, fmt.Errorf("invalid source raster size %dx%d", src.width, src.height)
	}
	geographic := tr.dst.srs != nil && tr.dst.srs.Geographic()
	b := emptyBounds()
	add := func(x, y float64) {
		if geographic {
			x = wrapLon(x)
		}
		if finite(x) && finite(y) {
			b = b.extend(x, y)
		}
	}
	w, h := float64(src.width), float64(src.height)
	for k := 0; k <= edgeSteps; k++ {
		f := float64(k) / edgeSteps
		for _, p := range [4][2]float64{{f * w, 0}, {f * w, h}, {0, f * h}, {w, f * h}} {
			if x, y, ok := tr.toDstCoord(p[0], p[1]); ok {
				add(x, y)
			}
		}
	}
	if src.geoloc != nil {
		g := src.geoloc.Grid()
		for k := range g.X {
			x, y := g.X[k], g.Y[k]
			if math.IsNaN(x) || math.IsNaN(y) {
				continue
			}
			ok := true
			if tr.fwd != nil {
				x, y, ok = tr.fwd.TransformPoint(x, y)
			}
			if ok {
				add(x, y)
			}
		}
	} else {
		for j := 1; j < edgeSteps; j++ {
			for i := 1; i < edgeSteps; i++ {
				if x, y, ok := tr.toDstCoord(float64(i)*w/edgeSteps, float64(j)*h/edgeSteps); ok {
					add(x, y)
				}
			}
		}
	}
	if b.empty() {
		return gt, 0, 0, errors.New("no source pixel could be transformed")
	}
	diag := math.Hypot(b.Width(), b.Height())
	res := diag / math.Hypot(w, h)
	if res == 0 {
		return gt, 0, 0, errors.New("degenerate output extent")
	}
	width = int(b.Width()/res + 0.5)
	height = int(b.Height()/res + 0.5)
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	gt = GeoTransform{b.MinX(), res, 0, b.MaxY(), 0, -res}
	return gt, width, height, nil
}

// Warp resamples src into dst with nearest neighbour sampling, where tr maps
// src pixels to dst pixels. Destination pixels with no valid source pixel are
// set to the DstNoData value if any, and left untouched otherwise. Lines are
// processed in parallel blocks sharing tr.
//
// Points that fail to reproject are counted and reported as a single warning
// through the ErrLogger handler once the warp is complete.
func Warp(ctx context.Context, src, dst *Array, tr *Transformer, opts ...WarpOption) error {
	o := warpOpts{concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt.setWarpOpt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if len(src.Data) != src.Width*src.Height || len(dst.Data) != dst.Width*dst.Height {
		return errors.New("array size does not match its data")
	}
	var failed, written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for l0 := 0; l0 < dst.Height; l0 += warpBlockLines {
		l0 := l0
		l1 := l0 + warpBlockLines
		if l1 > dst.Height {
			l1 = dst.Height
		}
		g.Go(func() error {
			xs := make([]float64, dst.Width)
			ys := make([]float64, dst.Width)
			ok := make([]bool, dst.Width)
			for l := l0; l < l1; l++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for p := range xs {
					xs[p], ys[p] = float64(p)+0.5, float64(l)+0.5
				}
				_ = tr.TransformEx(true, xs, ys, nil, ok)
				row := dst.Data[l*dst.Width : (l+1)*dst.Width]
				n := 0
				for p := range row {
					v, valid := math.NaN(), false
					if ok[p] {
						sx, sy := int(math.Floor(xs[p])), int(math.Floor(ys[p]))
						if sx >= 0 && sy >= 0 && sx < src.Width && sy < src.Height {
							v = src.Data[sy*src.Width+sx]
							valid = src.Valid(v)
						}
					} else {
						failed.Add(1)
					}
					switch {
					case valid:
						row[p] = v
						n++
					case o.hasDstNoData:
						row[p] = o.dstNoData
					}
				}
				written.Add(int64(n))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	o.logger.Debug("warp done", "width", dst.Width, "height", dst.Height,
		"written", written.Load(), "untransformed", failed.Load())
	if n := failed.Load(); n > 0 {
		rep := reporter{eh: o.errorHandler, logger: o.logger}
		if err := rep.warnf(CodeAppDefined, "%d destination pixels could not be transformed", n); err != nil {
			return err
		}
	}
	return nil
}

var checksumPrimes = [11]int{7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43}

// Checksum computes GDAL's 16 bit checksum of the array. Samples are rounded
// to the nearest integer; NaN and infinite samples count as 0.
func Checksum(a *Array) int {
	sum, prime := 0, 0
	for _, v := range a.Data {
		iv := 0
		if finite(v) {
			iv = int(math.Floor(v + 0.5))
		}
		sum += iv % checksumPrimes[prime]
		prime++
		if prime > 10 {
			prime = 0
		}
		sum &= 0xffff
	}
	return sum
}
