package geoloc

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Footprint returns the outline of the valid samples of g, walking its outer
// rows and columns clockwise from the first sample. maxPoints bounds the
// number of vertices taken along each side (0 keeps every sample). Longitudes
// of geographic grids are unwrapped along the ring, so a footprint crossing
// the antimeridian has longitudes beyond 180, and one enclosing a pole is
// closed through it.
func Footprint(g *SampleGrid, maxPoints int) (*geom.Polygon, error) {
	if g.Width < 2 || g.Height < 2 {
		return nil, errors.New("footprint needs at least 2x2 samples")
	}
	var ring []float64
	prev := math.NaN()
	push := func(i, j int) {
		if !g.Valid(i, j) {
			return
		}
		x, y := g.At(i, j)
		if g.Geographic && !math.IsNaN(prev) {
			x = prev + math.Remainder(x-prev, 360)
		}
		prev = x
		ring = append(ring, x, y)
	}
	stepOf := func(n int) int {
		if maxPoints <= 0 || n <= maxPoints {
			return 1
		}
		return (n + maxPoints - 1) / maxPoints
	}
	w, h := g.Width, g.Height
	sx, sy := stepOf(w), stepOf(h)
	for i := 0; i < w-1; i += sx {
		push(i, 0)
	}
	for j := 0; j < h-1; j += sy {
		push(w-1, j)
	}
	for i := w - 1; i > 0; i -= sx {
		push(i, h-1)
	}
	for j := h - 1; j > 0; j -= sy {
		push(0, j)
	}
	if len(ring) < 6 {
		return nil, errors.New("not enough valid samples on the grid outline")
	}
	if g.Geographic {
		// an outline around a pole ends a full turn away from its start: it
		// is closed along the pole line
		x0, y0 := ring[0], ring[1]
		xc := prev + math.Remainder(x0-prev, 360)
		if math.Abs(xc-x0) > 180 {
			pole, sum := 90.0, 0.0
			for k := 1; k < len(ring); k += 2 {
				sum += ring[k]
			}
			if sum < 0 {
				pole = -90
			}
			ring = append(ring, xc, y0, xc, pole, x0, pole)
		}
	}
	ring = append(ring, ring[0], ring[1])
	return geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)}), nil
}

// FootprintGeoJSON returns the footprint of g as a GeoJSON feature, carrying
// the grid size and valid sample count as properties
func FootprintGeoJSON(g *SampleGrid, maxPoints int) ([]byte, error) {
	poly, err := Footprint(g, maxPoints)
	if err != nil {
		return nil, err
	}
	f := &geojson.Feature{
		Geometry: poly,
		Properties: map[string]interface{}{
			"width":  g.Width,
			"height": g.Height,
			"valid":  g.ValidCount(),
		},
	}
	return json.Marshal(f)
}
