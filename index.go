package geoloc

import (
	"math"

	"github.com/golang/geo/r2"
)

// maxCells caps the number of cells of a single cell grid
const maxCells = 1 << 22

// lonBins is the resolution of the longitude occupancy used to find the
// longitude range covered by a geographic grid
const lonBins = 3600

// cellGrid is a uniform grid of cells over a rectangle of a plane. Each cell
// lists the quads whose rectangle overlaps it, stored in compressed rows:
// the quads of cell k are items[offsets[k]:offsets[k+1]].
type cellGrid struct {
	rect       r2.Rect
	cols, rows int
	cw, ch     float64
	// wrapX makes columns cyclic, for longitude frames spanning 360 degrees
	wrapX   bool
	offsets []int32
	items   []int32
}

func newCellGrid(rect r2.Rect, nquads, load int, wrapX bool) *cellGrid {
	n := nquads / load
	if n < 1 {
		n = 1
	}
	if n > maxCells {
		n = maxCells
	}
	size := rect.Size()
	cols, rows := 1, 1
	switch {
	case size.X <= 0 && size.Y <= 0:
	case size.X <= 0:
		rows = n
	case size.Y <= 0:
		cols = n
	default:
		cols = int(math.Round(math.Sqrt(float64(n) * size.X / size.Y)))
		if cols < 1 {
			cols = 1
		}
		if cols > n {
			cols = n
		}
		rows = (n + cols - 1) / cols
	}
	cg := &cellGrid{rect: rect, cols: cols, rows: rows, wrapX: wrapX}
	cg.cw = size.X / float64(cols)
	cg.ch = size.Y / float64(rows)
	if cg.cw <= 0 {
		cg.cw = 1
	}
	if cg.ch <= 0 {
		cg.ch = 1
	}
	return cg
}

func (cg *cellGrid) col(x float64) int {
	return int(math.Floor((x - cg.rect.X.Lo) / cg.cw))
}

func (cg *cellGrid) row(y float64) int {
	return int(math.Floor((y - cg.rect.Y.Lo) / cg.ch))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (cg *cellGrid) forEachCell(r r2.Rect, fn func(cell int)) {
	r0 := clampInt(cg.row(r.Y.Lo), 0, cg.rows-1)
	r1 := clampInt(cg.row(r.Y.Hi), 0, cg.rows-1)
	c0, c1 := cg.col(r.X.Lo), cg.col(r.X.Hi)
	if cg.wrapX {
		if c1-c0+1 >= cg.cols {
			c0, c1 = 0, cg.cols-1
		}
	} else {
		c0 = clampInt(c0, 0, cg.cols-1)
		c1 = clampInt(c1, 0, cg.cols-1)
	}
	for rr := r0; rr <= r1; rr++ {
		for c := c0; c <= c1; c++ {
			cc := c
			if cg.wrapX {
				cc = ((c % cg.cols) + cg.cols) % cg.cols
			}
			fn(rr*cg.cols + cc)
		}
	}
}

// fill assigns quad ids[k] to every cell overlapped by rects[k]
func (cg *cellGrid) fill(rects []r2.Rect, ids []int32) {
	counts := make([]int32, cg.cols*cg.rows+1)
	for k := range rects {
		cg.forEachCell(rects[k], func(cell int) { counts[cell+1]++ })
	}
	for k := 1; k < len(counts); k++ {
		counts[k] += counts[k-1]
	}
	cg.offsets = counts
	cg.items = make([]int32, counts[len(counts)-1])
	next := make([]int32, cg.cols*cg.rows)
	copy(next, counts[:len(counts)-1])
	for k := range rects {
		id := ids[k]
		cg.forEachCell(rects[k], func(cell int) {
			cg.items[next[cell]] = id
			next[cell]++
		})
	}
}

// lookup returns the quads of the cell containing p
func (cg *cellGrid) lookup(p r2.Point) []int32 {
	if cg == nil {
		return nil
	}
	r := cg.row(p.Y)
	if r < 0 || r >= cg.rows {
		if p.Y != cg.rect.Y.Hi {
			return nil
		}
		r = cg.rows - 1
	}
	c := cg.col(p.X)
	if cg.wrapX {
		c = ((c % cg.cols) + cg.cols) % cg.cols
	} else if c < 0 || c >= cg.cols {
		if p.X != cg.rect.X.Hi {
			return nil
		}
		c = cg.cols - 1
	}
	cell := r*cg.cols + c
	return cg.items[cg.offsets[cell]:cg.offsets[cell+1]]
}

// Index is a spatial index over the quadrilaterals formed by adjacent samples
// of a SampleGrid. It is immutable once built and safe for concurrent use.
type Index struct {
	grid  *SampleGrid
	opts  indexOpts
	quads []quad
	// flat indexes planeFlat and planeLonLat quads, north and south the polar ones
	flat, north, south *cellGrid
	// lonLo is the start of the longitude frame of flat on geographic grids
	lonLo  float64
	bounds Bounds
	usable int
}

// BuildIndex builds the spatial index of g. Invalid samples are skipped:
// quads with one invalid corner are solved as the triangle of their three
// valid corners, quads with more are left out. Building never fails; a grid
// without any usable quad results in an index answering every Locate with
// not found (or, for single row/column grids, matching nodes only).
func BuildIndex(g *SampleGrid, opts ...IndexOption) *Index {
	o := defaultIndexOpts()
	for _, opt := range opts {
		opt.setIndexOpt(&o)
	}
	ix := &Index{grid: g, opts: o}
	if b, ok := g.Extent(); ok {
		ix.bounds = b
	} else if g.Geographic {
		ix.bounds = geographicDomain
	} else {
		ix.bounds = Bounds{math.Inf(-1), math.Inf(-1), math.Inf(1), math.Inf(1)}
	}
	if g.Width < 2 || g.Height < 2 {
		return ix
	}
	qw, qh := g.Width-1, g.Height-1
	ix.quads = make([]quad, qw*qh)
	rects := make([]r2.Rect, len(ix.quads))
	for j := 0; j < qh; j++ {
		for i := 0; i < qw; i++ {
			id := j*qw + i
			q := &ix.quads[id]
			q.i, q.j = int32(i), int32(j)
			q.missing = -1
			if i == 0 {
				q.border |= borderLeft
			}
			if i == qw-1 {
				q.border |= borderRight
			}
			if j == 0 {
				q.border |= borderTop
			}
			if j == qh-1 {
				q.border |= borderBottom
			}
			invalid := 0
			for k := 0; k < 4; k++ {
				if ci, cj := q.cornerIJ(k); !g.Valid(ci, cj) {
					invalid++
					q.missing = int8(k)
				}
			}
			if invalid > 1 {
				continue
			}
			if invalid == 0 {
				q.missing = -1
			}
			if g.Geographic {
				ix.classify(q)
			}
			c := q.corners(g)
			rect := q.planeRect(c, o.tolerance, o.edgeMargin)
			if rect.IsEmpty() || math.IsNaN(rect.X.Lo) || math.IsNaN(rect.Y.Lo) ||
				math.IsInf(rect.X.Lo, 0) || math.IsInf(rect.Y.Hi, 0) {
				continue
			}
			q.usable = true
			rects[id] = rect
			ix.usable++
		}
	}
	if ix.usable == 0 {
		return ix
	}

	wrap := false
	if g.Geographic {
		wrap = ix.frameLongitudes(rects)
	}
	var flatIDs, northIDs, southIDs []int32
	var flatRects, northRects, southRects []r2.Rect
	flatR, northR, southR := r2.EmptyRect(), r2.EmptyRect(), r2.EmptyRect()
	for id := range ix.quads {
		q := &ix.quads[id]
		if !q.usable {
			continue
		}
		switch q.plane {
		case planeNorth:
			northIDs = append(northIDs, int32(id))
			northRects = append(northRects, rects[id])
			northR = northR.Union(rects[id])
		case planeSouth:
			southIDs = append(southIDs, int32(id))
			southRects = append(southRects, rects[id])
			southR = southR.Union(rects[id])
		default:
			flatIDs = append(flatIDs, int32(id))
			flatRects = append(flatRects, rects[id])
			flatR = flatR.Union(rects[id])
		}
	}
	if len(flatIDs) > 0 {
		if wrap {
			flatR = r2.RectFromPoints(r2.Point{X: -180, Y: flatR.Y.Lo}, r2.Point{X: 180, Y: flatR.Y.Hi})
		}
		ix.flat = newCellGrid(flatR, len(flatIDs), o.cellLoad, wrap)
		ix.flat.fill(flatRects, flatIDs)
	}
	if len(northIDs) > 0 {
		ix.north = newCellGrid(northR, len(northIDs), o.cellLoad, false)
		ix.north.fill(northRects, northIDs)
	}
	if len(southIDs) > 0 {
		ix.south = newCellGrid(southR, len(southIDs), o.cellLoad, false)
		ix.south.fill(southRects, southIDs)
	}
	return ix
}

// classify picks the plane of a quad of a geographic grid, and its unwrapping
// reference
func (ix *Index) classify(q *quad) {
	g := ix.grid
	var lons [4]float64
	n := 0
	maxLat, sumLat := 0.0, 0.0
	ref := math.NaN()
	for k := 0; k < 4; k++ {
		ci, cj := q.cornerIJ(k)
		if !g.Valid(ci, cj) {
			continue
		}
		x, y := g.At(ci, cj)
		if math.IsNaN(ref) {
			ref = x
		}
		lons[n] = ref + math.Remainder(x-ref, 360)
		n++
		maxLat = math.Max(maxLat, math.Abs(y))
		sumLat += y
	}
	lo, hi := lons[0], lons[0]
	for k := 1; k < n; k++ {
		lo = math.Min(lo, lons[k])
		hi = math.Max(hi, lons[k])
	}
	switch {
	case maxLat >= ix.opts.polarLatitude || hi-lo > 180:
		if sumLat >= 0 {
			q.plane = planeNorth
		} else {
			q.plane = planeSouth
		}
	default:
		q.plane = planeLonLat
		q.ref = wrapLon((lo + hi) / 2)
	}
}

// frameLongitudes finds the smallest longitude range covering every planeLonLat
// quad and shifts the quads into it. It returns true when the quads cover
// every longitude, in which case the frame is [-180,180) and cyclic.
func (ix *Index) frameLongitudes(rects []r2.Rect) bool {
	var occupied [lonBins]bool
	found := false
	for id := range ix.quads {
		q := &ix.quads[id]
		if !q.usable || q.plane != planeLonLat {
			continue
		}
		found = true
		r := rects[id]
		if r.X.Hi-r.X.Lo >= 360 {
			for b := range occupied {
				occupied[b] = true
			}
			break
		}
		b0 := int(math.Floor((r.X.Lo + 180) * lonBins / 360))
		b1 := int(math.Floor((r.X.Hi + 180) * lonBins / 360))
		for b := b0; b <= b1; b++ {
			occupied[((b%lonBins)+lonBins)%lonBins] = true
		}
	}
	if !found {
		return false
	}
	// longest cyclic run of empty bins
	bestLen, bestEnd := 0, -1
	run := 0
	for k := 0; k < 2*lonBins; k++ {
		if occupied[k%lonBins] {
			run = 0
			continue
		}
		run++
		if run > bestLen && run <= lonBins {
			bestLen, bestEnd = run, k%lonBins
		}
	}
	if bestLen == 0 {
		ix.lonLo = -180
		return true
	}
	ix.lonLo = -180 + float64((bestEnd+1)%lonBins)*360/lonBins
	for id := range ix.quads {
		q := &ix.quads[id]
		if !q.usable || q.plane != planeLonLat {
			continue
		}
		r := rects[id]
		shift := r.X.Lo - ix.frameX(r.X.Lo)
		if shift != 0 {
			q.ref -= shift
			rects[id] = r2.RectFromPoints(
				r2.Point{X: r.X.Lo - shift, Y: r.Y.Lo},
				r2.Point{X: r.X.Hi - shift, Y: r.Y.Hi})
		}
	}
	return false
}

// frameX brings a longitude into [lonLo,lonLo+360)
func (ix *Index) frameX(lon float64) float64 {
	d := math.Mod(lon-ix.lonLo, 360)
	if d < 0 {
		d += 360
	}
	return ix.lonLo + d
}

// Bounds returns the extent of the valid samples of the indexed grid. It
// defaults to the full coordinate domain when the grid holds no valid sample.
func (ix *Index) Bounds() Bounds {
	return ix.bounds
}

// Grid returns the indexed grid
func (ix *Index) Grid() *SampleGrid {
	return ix.grid
}

// Quads returns the number of quadrilaterals taking part in the index
func (ix *Index) Quads() int {
	return ix.usable
}
