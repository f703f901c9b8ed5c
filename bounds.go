package geoloc

import "math"

// Bounds represents an envelope in the order minx,miny,maxx,maxy
type Bounds [4]float64

// geographicDomain is the full extent of a longitude/latitude grid
var geographicDomain = Bounds{-180, -90, 180, 90}

func (b Bounds) MinX() float64 {
	return b[0]
}

func (b Bounds) MinY() float64 {
	return b[1]
}

func (b Bounds) MaxX() float64 {
	return b[2]
}

func (b Bounds) MaxY() float64 {
	return b[3]
}

func (b Bounds) Width() float64 {
	return b[2] - b[0]
}

func (b Bounds) Height() float64 {
	return b[3] - b[1]
}

// Union returns the union of these bounds with other ones
func (b Bounds) Union(other Bounds) Bounds {
	return [4]float64{
		math.Min(b.MinX(), other.MinX()),
		math.Min(b.MinY(), other.MinY()),
		math.Max(b.MaxX(), other.MaxX()),
		math.Max(b.MaxY(), other.MaxY()),
	}
}

// Contains reports wether x,y lies inside (or on the border of) the bounds
func (b Bounds) Contains(x, y float64) bool {
	return x >= b[0] && x <= b[2] && y >= b[1] && y <= b[3]
}

// emptyBounds is the neutral element of extend
func emptyBounds() Bounds {
	return Bounds{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
}

func (b Bounds) extend(x, y float64) Bounds {
	return Bounds{
		math.Min(b[0], x),
		math.Min(b[1], y),
		math.Max(b[2], x),
		math.Max(b[3], y),
	}
}

func (b Bounds) empty() bool {
	return b[0] > b[2] || b[1] > b[3]
}
