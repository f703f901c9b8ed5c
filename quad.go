package geoloc

import (
	"math"

	"github.com/golang/geo/r2"
)

// planeKind is the 2-D space in which a quadrilateral is solved
type planeKind uint8

const (
	// planeFlat: projected coordinates, used as is
	planeFlat planeKind = iota
	// planeLonLat: longitude unwrapped around the quad's reference, latitude
	planeLonLat
	// planeNorth, planeSouth: polar azimuthal plane centered on the pole,
	// radius in degrees of colatitude
	planeNorth
	planeSouth
)

// border flags of a quad lying on the outer rows/columns of the grid
const (
	borderLeft uint8 = 1 << iota
	borderRight
	borderTop
	borderBottom
)

// quad is the cell between samples (i,j), (i+1,j), (i,j+1), (i+1,j+1).
// Corner k has bilinear parameters cornerUV[k].
type quad struct {
	i, j    int32
	plane   planeKind
	border  uint8
	missing int8
	usable  bool
	// ref is the longitude around which corners are unwrapped (planeLonLat)
	ref float64
}

var cornerUV = [4]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}

func (q *quad) cornerIJ(k int) (int, int) {
	return int(q.i) + k%2, int(q.j) + k/2
}

// toPlane maps a grid coordinate into the plane of the quad
func (q *quad) toPlane(x, y float64) r2.Point {
	switch q.plane {
	case planeLonLat:
		return r2.Point{X: q.ref + math.Remainder(x-q.ref, 360), Y: y}
	case planeNorth, planeSouth:
		return polarPoint(q.plane, x, y)
	}
	return r2.Point{X: x, Y: y}
}

// fromPlane is the inverse of toPlane
func (q *quad) fromPlane(p r2.Point) (x, y float64) {
	switch q.plane {
	case planeLonLat:
		return wrapLon(p.X), p.Y
	case planeNorth, planeSouth:
		return polarCoord(q.plane, p)
	}
	return p.X, p.Y
}

func polarPoint(pl planeKind, lon, lat float64) r2.Point {
	r := 90 - lat
	if pl == planeSouth {
		r = 90 + lat
	}
	s, c := math.Sincos(lon * math.Pi / 180)
	return r2.Point{X: r * c, Y: r * s}
}

func polarCoord(pl planeKind, p r2.Point) (lon, lat float64) {
	r := p.Norm()
	if r > 0 {
		lon = math.Atan2(p.Y, p.X) * 180 / math.Pi
	}
	if pl == planeSouth {
		return lon, r - 90
	}
	return lon, 90 - r
}

// corners returns the four corners in the quad's plane. Invalid corners are NaN.
func (q *quad) corners(g *SampleGrid) [4]r2.Point {
	var c [4]r2.Point
	for k := 0; k < 4; k++ {
		i, j := q.cornerIJ(k)
		if !g.Valid(i, j) {
			c[k] = r2.Point{X: math.NaN(), Y: math.NaN()}
			continue
		}
		c[k] = q.toPlane(g.At(i, j))
	}
	return c
}

// paramBox returns the accepted range of the bilinear parameters. Borders of
// the grid are extended outwards by margin.
func (q *quad) paramBox(tol, margin float64) (lo, hi r2.Point) {
	lo = r2.Point{X: -tol, Y: -tol}
	hi = r2.Point{X: 1 + tol, Y: 1 + tol}
	if margin < tol {
		margin = tol
	}
	if q.border&borderLeft != 0 {
		lo.X = -margin
	}
	if q.border&borderRight != 0 {
		hi.X = 1 + margin
	}
	if q.border&borderTop != 0 {
		lo.Y = -margin
	}
	if q.border&borderBottom != 0 {
		hi.Y = 1 + margin
	}
	return lo, hi
}

func bilinear(c [4]r2.Point, u, v float64) r2.Point {
	return c[0].Mul((1 - u) * (1 - v)).
		Add(c[1].Mul(u * (1 - v))).
		Add(c[2].Mul((1 - u) * v)).
		Add(c[3].Mul(u * v))
}

const (
	newtonIterations = 32
	newtonEpsilon    = 1e-12
)

// invertBilinear finds u,v such that bilinear(c,u,v) == t with Newton's method
// started at the quad center
func invertBilinear(c [4]r2.Point, t r2.Point) (u, v float64, ok bool) {
	u, v = 0.5, 0.5
	scale := math.Max(c[3].Sub(c[0]).Norm(), c[2].Sub(c[1]).Norm())
	if scale == 0 || math.IsNaN(scale) {
		return 0, 0, false
	}
	converged := false
	for it := 0; it < newtonIterations; it++ {
		f := bilinear(c, u, v).Sub(t)
		du := c[1].Sub(c[0]).Mul(1 - v).Add(c[3].Sub(c[2]).Mul(v))
		dv := c[2].Sub(c[0]).Mul(1 - u).Add(c[3].Sub(c[1]).Mul(u))
		det := du.Cross(dv)
		if det == 0 || math.IsNaN(det) {
			return 0, 0, false
		}
		deltaU := -f.Cross(dv) / det
		deltaV := -du.Cross(f) / det
		u += deltaU
		v += deltaV
		if math.Abs(deltaU)+math.Abs(deltaV) < newtonEpsilon {
			converged = true
			break
		}
	}
	if !converged && bilinear(c, u, v).Sub(t).Norm() > 1e-9*scale {
		return 0, 0, false
	}
	return u, v, !math.IsNaN(u) && !math.IsNaN(v)
}

// triangle returns the three valid corners of a quad missing corner k
func triangle(missing int8) [3]int {
	switch missing {
	case 0:
		return [3]int{1, 3, 2}
	case 1:
		return [3]int{0, 3, 2}
	case 2:
		return [3]int{0, 1, 3}
	}
	return [3]int{0, 1, 2}
}

// inTriangleHalf reports wether u,v lies (within tol) on the side of the unit
// square covered by the triangle left when corner missing is dropped
func inTriangleHalf(missing int8, u, v, tol float64) bool {
	switch missing {
	case 0:
		return u+v >= 1-tol
	case 1:
		return v-u >= -tol
	case 2:
		return u-v >= -tol
	}
	return u+v <= 1+tol
}

// invertAffine solves t = A + s(B-A) + r(C-A) over the triangle's corners and
// maps the result to bilinear parameters
func invertAffine(c [4]r2.Point, missing int8, t r2.Point) (u, v float64, ok bool) {
	tri := triangle(missing)
	a, b, cc := c[tri[0]], c[tri[1]], c[tri[2]]
	ab, ac, at := b.Sub(a), cc.Sub(a), t.Sub(a)
	det := ab.Cross(ac)
	if det == 0 || math.IsNaN(det) {
		return 0, 0, false
	}
	s := at.Cross(ac) / det
	r := ab.Cross(at) / det
	uv := cornerUV[tri[0]].
		Add(cornerUV[tri[1]].Sub(cornerUV[tri[0]]).Mul(s)).
		Add(cornerUV[tri[2]].Sub(cornerUV[tri[0]]).Mul(r))
	return uv.X, uv.Y, true
}

// forwardAffine evaluates the triangle's affine map at bilinear parameters u,v
func forwardAffine(c [4]r2.Point, missing int8, u, v float64) r2.Point {
	tri := triangle(missing)
	e1 := cornerUV[tri[1]].Sub(cornerUV[tri[0]])
	e2 := cornerUV[tri[2]].Sub(cornerUV[tri[0]])
	d := r2.Point{X: u, Y: v}.Sub(cornerUV[tri[0]])
	det := e1.Cross(e2)
	s := d.Cross(e2) / det
	r := e1.Cross(d) / det
	return c[tri[0]].Add(c[tri[1]].Sub(c[tri[0]]).Mul(s)).Add(c[tri[2]].Sub(c[tri[0]]).Mul(r))
}

// solve returns the bilinear parameters of t (given in the quad's plane).
// ok is false when t lies outside the quad's accepted parameter range.
// inside is set when u,v lie in [0,1] without any tolerance.
func (q *quad) solve(c [4]r2.Point, t r2.Point, tol, margin float64) (u, v float64, inside, ok bool) {
	if q.missing < 0 {
		u, v, ok = invertBilinear(c, t)
	} else {
		u, v, ok = invertAffine(c, q.missing, t)
		if ok && !inTriangleHalf(q.missing, u, v, tol) {
			ok = false
		}
	}
	if !ok {
		return 0, 0, false, false
	}
	lo, hi := q.paramBox(tol, margin)
	if u < lo.X || u > hi.X || v < lo.Y || v > hi.Y {
		return 0, 0, false, false
	}
	inside = u >= 0 && u <= 1 && v >= 0 && v <= 1
	if q.missing >= 0 {
		inside = inside && inTriangleHalf(q.missing, u, v, 0)
	}
	return u, v, inside, true
}

// eval returns the point of the quad's plane at bilinear parameters u,v
func (q *quad) eval(c [4]r2.Point, u, v float64) r2.Point {
	if q.missing < 0 {
		return bilinear(c, u, v)
	}
	return forwardAffine(c, q.missing, u, v)
}

// centroid returns the mean of the quad's valid corners, in the plane
func (q *quad) centroid(c [4]r2.Point) r2.Point {
	var sum r2.Point
	n := 0.0
	for k := 0; k < 4; k++ {
		if int8(k) == q.missing {
			continue
		}
		sum = sum.Add(c[k])
		n++
	}
	return sum.Mul(1 / n)
}

// planeRect returns the bounding rectangle, in the quad's plane, of the region
// where solve can succeed. Both maps are linear along u and v so the extremes
// lie on the corners of the parameter box.
func (q *quad) planeRect(c [4]r2.Point, tol, margin float64) r2.Rect {
	lo, hi := q.paramBox(tol, margin)
	rect := r2.EmptyRect()
	for _, uv := range [4]r2.Point{lo, {X: hi.X, Y: lo.Y}, {X: lo.X, Y: hi.Y}, hi} {
		rect = rect.AddPoint(q.eval(c, uv.X, uv.Y))
	}
	ext := rect.Size()
	return rect.ExpandedByMargin(tol * math.Max(ext.X, ext.Y))
}
