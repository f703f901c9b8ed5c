package geoloc

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s2"
)

// Location is the position of a coordinate in the sample grid
type Location struct {
	// Col, Row is the fractional sample position, i.e. Col=2.5 lies halfway
	// between the samples of columns 2 and 3
	Col, Row float64
	// Quad is the index (row-major over the Width-1 x Height-1 quads) of the
	// quadrilateral the coordinate was found in, or -1 on single row/column
	// grids where only samples can be matched
	Quad int
	// U, V are the bilinear weights of the coordinate inside Quad
	U, V float64
	// Inside is false when the coordinate lies outside Quad but within the
	// tolerance (or the border extrapolation margin)
	Inside bool
}

type candidate struct {
	loc  Location
	dist float64
}

func (c candidate) better(o candidate) bool {
	if c.loc.Inside != o.loc.Inside {
		return c.loc.Inside
	}
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.loc.Quad < o.loc.Quad
}

// Locate finds the fractional sample position of coordinate x,y. ok is false
// when no quadrilateral contains the coordinate. When several do (folded or
// overlapping grids), the one strictly containing it is preferred, then the
// one with the closest centroid, then the lowest quad index.
func (ix *Index) Locate(x, y float64) (Location, bool) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return Location{}, false
	}
	g := ix.grid
	if ix.quads == nil {
		return ix.locateNode(x, y)
	}
	var cands []int32
	if g.Geographic {
		if math.Abs(y) > 90 {
			return Location{}, false
		}
		lon := wrapLon(x)
		if ix.flat != nil {
			fx := lon
			if !ix.flat.wrapX {
				fx = ix.frameX(lon)
			}
			cands = append(cands, ix.flat.lookup(r2.Point{X: fx, Y: y})...)
		}
		if ix.north != nil {
			cands = append(cands, ix.north.lookup(polarPoint(planeNorth, lon, y))...)
		}
		if ix.south != nil {
			cands = append(cands, ix.south.lookup(polarPoint(planeSouth, lon, y))...)
		}
	} else if ix.flat != nil {
		cands = ix.flat.lookup(r2.Point{X: x, Y: y})
	}

	var best candidate
	found := false
	for _, id := range cands {
		q := &ix.quads[id]
		c := q.corners(g)
		t := q.toPlane(x, y)
		u, v, inside, ok := q.solve(c, t, ix.opts.tolerance, ix.opts.edgeMargin)
		if !ok {
			continue
		}
		cand := candidate{
			loc: Location{
				Col:    float64(q.i) + u,
				Row:    float64(q.j) + v,
				Quad:   int(id),
				U:      u,
				V:      v,
				Inside: inside,
			},
			dist: ix.distance(q, q.centroid(c), x, y),
		}
		if !found || cand.better(best) {
			best = cand
			found = true
		}
	}
	return best.loc, found
}

// distance from a point of the quad's plane to coordinate x,y: great circle
// angle in radians on geographic grids, planar distance otherwise
func (ix *Index) distance(q *quad, p r2.Point, x, y float64) float64 {
	if !ix.grid.Geographic {
		return p.Sub(r2.Point{X: x, Y: y}).Norm()
	}
	px, py := q.fromPlane(p)
	a := s2.LatLngFromDegrees(py, px)
	b := s2.LatLngFromDegrees(y, x)
	return a.Distance(b).Radians()
}

// locateNode matches x,y against the samples of a grid too thin to hold
// quadrilaterals. The match tolerance is scaled by the grid's extent.
func (ix *Index) locateNode(x, y float64) (Location, bool) {
	g := ix.grid
	scale := 1.0
	if !ix.bounds.empty() && !math.IsInf(ix.bounds.Width(), 0) {
		scale = math.Max(ix.bounds.Width(), ix.bounds.Height())
		if scale == 0 {
			scale = 1
		}
	}
	tol := ix.opts.tolerance * scale
	bestD := math.Inf(1)
	loc := Location{Quad: -1, Inside: true}
	for j := 0; j < g.Height; j++ {
		for i := 0; i < g.Width; i++ {
			if !g.Valid(i, j) {
				continue
			}
			sx, sy := g.At(i, j)
			dx := sx - x
			if g.Geographic {
				dx = math.Remainder(dx, 360)
			}
			d := math.Hypot(dx, sy-y)
			if d <= tol && d < bestD {
				bestD = d
				loc.Col, loc.Row = float64(i), float64(j)
			}
		}
	}
	return loc, !math.IsInf(bestD, 1)
}

// Coordinate returns the coordinate at fractional sample position col,row by
// bilinear interpolation of the enclosing quadrilateral. Positions beyond the
// outer samples are extrapolated from the border quadrilaterals, up to the
// extrapolation margin. ok is false when the quadrilateral is not usable.
func (ix *Index) Coordinate(col, row float64) (x, y float64, ok bool) {
	if math.IsNaN(col) || math.IsNaN(row) {
		return 0, 0, false
	}
	g := ix.grid
	if ix.quads == nil {
		i, j := int(math.Round(col)), int(math.Round(row))
		m := math.Max(ix.opts.edgeMargin, ix.opts.tolerance)
		if math.Abs(col-float64(i)) > m || math.Abs(row-float64(j)) > m ||
			i < 0 || j < 0 || i >= g.Width || j >= g.Height || !g.Valid(i, j) {
			return 0, 0, false
		}
		x, y = g.At(i, j)
		return x, y, true
	}
	qw, qh := g.Width-1, g.Height-1
	i := clampInt(int(math.Floor(col)), 0, qw-1)
	j := clampInt(int(math.Floor(row)), 0, qh-1)
	q := &ix.quads[j*qw+i]
	if !q.usable {
		return 0, 0, false
	}
	u, v := col-float64(i), row-float64(j)
	lo, hi := q.paramBox(ix.opts.tolerance, ix.opts.edgeMargin)
	if u < lo.X || u > hi.X || v < lo.Y || v > hi.Y {
		return 0, 0, false
	}
	c := q.corners(g)
	x, y = q.fromPlane(q.eval(c, u, v))
	if g.Geographic && (math.Abs(y) > 90 || math.IsNaN(x)) {
		return 0, 0, false
	}
	return x, y, true
}
