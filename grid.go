package geoloc

import (
	"context"
	"fmt"
	"math"
)

// SampleGrid holds the X/Y coordinates of the geolocation samples, row-major.
// A sample is valid when both its X and Y are set; invalid samples hold NaN in
// both arrays.
type SampleGrid struct {
	Width, Height int
	X, Y          []float64
	// Geographic is set when X/Y are longitudes/latitudes in degrees
	Geographic bool
}

// NewSampleGrid creates a grid from row-major X/Y values. NaN marks invalid
// samples. On geographic grids, samples with |lat|>90 or |lon|>360 are out of
// domain and invalidated. The slices are used in place.
func NewSampleGrid(width, height int, x, y []float64, geographic bool) (*SampleGrid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: empty %dx%d grid", ErrInvalidMetadata, width, height)
	}
	if len(x) != width*height || len(y) != width*height {
		return nil, fmt.Errorf("%w: %dx%d grid with %d/%d values", ErrInvalidMetadata, width, height, len(x), len(y))
	}
	g := &SampleGrid{Width: width, Height: height, X: x, Y: y, Geographic: geographic}
	for i := range x {
		if !g.inDomain(x[i], y[i]) {
			x[i], y[i] = math.NaN(), math.NaN()
		}
	}
	return g, nil
}

func (g *SampleGrid) inDomain(x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}
	if g.Geographic {
		return math.Abs(y) <= 90 && math.Abs(x) <= 360
	}
	return true
}

// LoadGrid reads the X/Y arrays described by md through opener. When both
// arrays are a single line high, they are taken as the regular case where X
// holds one value per column and Y one value per row, whatever their widths.
// Otherwise both arrays must share their dimensions.
func LoadGrid(ctx context.Context, md Metadata, opener SourceOpener, geographic bool) (*SampleGrid, error) {
	xa, err := opener.Open(ctx, md.XDataset, md.XBand)
	if err != nil {
		return nil, fmt.Errorf("%w: x: %v", ErrUnreadableSource, err)
	}
	ya, err := opener.Open(ctx, md.YDataset, md.YBand)
	if err != nil {
		return nil, fmt.Errorf("%w: y: %v", ErrUnreadableSource, err)
	}
	if md.SwapXY {
		xa, ya = ya, xa
	}
	x := maskedCopy(xa)
	y := maskedCopy(ya)
	switch {
	case xa.Height == 1 && ya.Height == 1:
		w, h := xa.Width, ya.Width
		gx := make([]float64, w*h)
		gy := make([]float64, w*h)
		for j := 0; j < h; j++ {
			copy(gx[j*w:(j+1)*w], x)
			for i := 0; i < w; i++ {
				gy[j*w+i] = y[j]
			}
		}
		return NewSampleGrid(w, h, gx, gy, geographic)
	case xa.Width == ya.Width && xa.Height == ya.Height:
		return NewSampleGrid(xa.Width, xa.Height, x, y, geographic)
	}
	return nil, fmt.Errorf("%w: x array is %dx%d, y array is %dx%d", ErrInvalidMetadata,
		xa.Width, xa.Height, ya.Width, ya.Height)
}

// maskedCopy returns the samples of a with nodata replaced by NaN
func maskedCopy(a *Array) []float64 {
	ret := make([]float64, len(a.Data))
	for i, v := range a.Data {
		if a.Valid(v) {
			ret[i] = v
		} else {
			ret[i] = math.NaN()
		}
	}
	return ret
}

func (g *SampleGrid) idx(i, j int) int {
	return j*g.Width + i
}

// At returns the coordinates of sample (i,j)
func (g *SampleGrid) At(i, j int) (x, y float64) {
	k := g.idx(i, j)
	return g.X[k], g.Y[k]
}

// Valid reports wether sample (i,j) holds a coordinate
func (g *SampleGrid) Valid(i, j int) bool {
	k := g.idx(i, j)
	return !math.IsNaN(g.X[k]) && !math.IsNaN(g.Y[k])
}

// ValidCount returns the number of valid samples
func (g *SampleGrid) ValidCount() int {
	n := 0
	for k := range g.X {
		if !math.IsNaN(g.X[k]) && !math.IsNaN(g.Y[k]) {
			n++
		}
	}
	return n
}

// Extent returns the bounds of the valid samples. Longitudes are taken as
// stored, so a grid crossing the antimeridian spans [-180,180]. ok is false
// when the grid holds no valid sample.
func (g *SampleGrid) Extent() (b Bounds, ok bool) {
	b = emptyBounds()
	for k := range g.X {
		if math.IsNaN(g.X[k]) || math.IsNaN(g.Y[k]) {
			continue
		}
		x := g.X[k]
		if g.Geographic {
			x = wrapLon(x)
		}
		b = b.extend(x, g.Y[k])
	}
	return b, !b.empty()
}

// Clone returns a deep copy of the grid
func (g *SampleGrid) Clone() *SampleGrid {
	c := &SampleGrid{Width: g.Width, Height: g.Height, Geographic: g.Geographic}
	c.X = append([]float64(nil), g.X...)
	c.Y = append([]float64(nil), g.Y...)
	return c
}
