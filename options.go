package geoloc

import (
	"log/slog"
	"math"
)

type indexOpts struct {
	tolerance     float64
	polarLatitude float64
	edgeMargin    float64
	cellLoad      int
}

func defaultIndexOpts() indexOpts {
	return indexOpts{
		tolerance:     1e-6,
		polarLatitude: 80,
		edgeMargin:    0.5,
		cellLoad:      1,
	}
}

// IndexOption is an option that can be passed to BuildIndex
//
// Available IndexOptions are:
//
// • Tolerance
//
// • PolarLatitude
//
// • EdgeExtrapolation
//
// • CellLoad
type IndexOption interface {
	setIndexOpt(o *indexOpts)
}

// an indexOpts forwards a whole option set
func (o indexOpts) setIndexOpt(io *indexOpts) {
	*io = o
}

type geolocOpts struct {
	indexOpts
	opener       SourceOpener
	errorHandler ErrorHandler
	logger       *slog.Logger
	noFill       bool
}

// GeolocOption is an option that can be passed to NewGeolocTransformer
//
// Available GeolocOptions are:
//
// • Tolerance, PolarLatitude, EdgeExtrapolation, CellLoad
//
// • Opener to read the X/Y arrays from something else than the default Sources
//
// • NoFill to leave invalid samples as they are
//
// • Logger
//
// • ErrLogger
type GeolocOption interface {
	setGeolocOpt(o *geolocOpts)
}

// a geolocOpts forwards a whole option set
func (o geolocOpts) setGeolocOpt(g *geolocOpts) {
	*g = o
}

type transformerOpts struct {
	geolocOpts
}

// TransformerOption is an option that can be passed to NewTransformer. Every
// GeolocOption is also a TransformerOption and is forwarded to the geolocated
// side(s) of the transformer.
type TransformerOption interface {
	setTransformerOpt(o *transformerOpts)
}

type warpOpts struct {
	dstNoData    float64
	hasDstNoData bool
	concurrency  int
	errorHandler ErrorHandler
	logger       *slog.Logger
}

// WarpOption is an option that can be passed to Warp
//
// Available WarpOptions are:
//
// • DstNoData
//
// • Concurrency
//
// • Logger
//
// • ErrLogger
type WarpOption interface {
	setWarpOpt(o *warpOpts)
}

type toleranceOpt struct {
	tol float64
}

// Tolerance sets how far outside of [0,1] the bilinear weights of a
// quadrilateral may lie for a coordinate to still be considered inside it.
// Defaults to 1e-6.
func Tolerance(tol float64) interface {
	IndexOption
	GeolocOption
	TransformerOption
} {
	return toleranceOpt{math.Abs(tol)}
}

func (o toleranceOpt) setIndexOpt(io *indexOpts) {
	io.tolerance = o.tol
}
func (o toleranceOpt) setGeolocOpt(g *geolocOpts) {
	o.setIndexOpt(&g.indexOpts)
}
func (o toleranceOpt) setTransformerOpt(t *transformerOpts) {
	o.setGeolocOpt(&t.geolocOpts)
}

type polarOpt struct {
	lat float64
}

// PolarLatitude sets the absolute latitude poleward of which quadrilaterals
// of a geographic grid are solved in a polar azimuthal plane instead of in
// longitude/latitude. Defaults to 80.
func PolarLatitude(lat float64) interface {
	IndexOption
	GeolocOption
	TransformerOption
} {
	return polarOpt{math.Abs(lat)}
}

func (o polarOpt) setIndexOpt(io *indexOpts) {
	io.polarLatitude = o.lat
}
func (o polarOpt) setGeolocOpt(g *geolocOpts) {
	o.setIndexOpt(&g.indexOpts)
}
func (o polarOpt) setTransformerOpt(t *transformerOpts) {
	o.setGeolocOpt(&t.geolocOpts)
}

type edgeOpt struct {
	margin float64
}

// EdgeExtrapolation sets how far (in grid cells) coordinates lying beyond the
// outer samples of the grid are still resolved by extrapolating the border
// quadrilaterals. Defaults to 0.5, i.e. half a pixel around pixel-centered
// samples, so that the whole raster extent is covered.
func EdgeExtrapolation(cells float64) interface {
	IndexOption
	GeolocOption
	TransformerOption
} {
	return edgeOpt{math.Abs(cells)}
}

func (o edgeOpt) setIndexOpt(io *indexOpts) {
	io.edgeMargin = o.margin
}
func (o edgeOpt) setGeolocOpt(g *geolocOpts) {
	o.setIndexOpt(&g.indexOpts)
}
func (o edgeOpt) setTransformerOpt(t *transformerOpts) {
	o.setGeolocOpt(&t.geolocOpts)
}

type cellLoadOpt struct {
	n int
}

// CellLoad sets the targeted average number of quadrilaterals per index cell.
// Defaults to 1.
func CellLoad(n int) interface {
	IndexOption
	GeolocOption
	TransformerOption
} {
	if n < 1 {
		n = 1
	}
	return cellLoadOpt{n}
}

func (o cellLoadOpt) setIndexOpt(io *indexOpts) {
	io.cellLoad = o.n
}
func (o cellLoadOpt) setGeolocOpt(g *geolocOpts) {
	o.setIndexOpt(&g.indexOpts)
}
func (o cellLoadOpt) setTransformerOpt(t *transformerOpts) {
	o.setGeolocOpt(&t.geolocOpts)
}

type openerOpt struct {
	opener SourceOpener
}

// Opener sets the SourceOpener used to read the X/Y sample arrays. Defaults
// to the package level Sources registry.
func Opener(opener SourceOpener) interface {
	GeolocOption
	TransformerOption
} {
	return openerOpt{opener}
}

func (o openerOpt) setGeolocOpt(g *geolocOpts) {
	g.opener = o.opener
}
func (o openerOpt) setTransformerOpt(t *transformerOpts) {
	o.setGeolocOpt(&t.geolocOpts)
}

type noFillOpt struct{}

// NoFill disables the filling of invalid samples before the index is built
func NoFill() interface {
	GeolocOption
	TransformerOption
} {
	return noFillOpt{}
}

func (o noFillOpt) setGeolocOpt(g *geolocOpts) {
	g.noFill = true
}
func (o noFillOpt) setTransformerOpt(t *transformerOpts) {
	o.setGeolocOpt(&t.geolocOpts)
}

type loggerOpt struct {
	l *slog.Logger
}

// Logger sets the logger used for debug messages and for warnings that are not
// intercepted by an ErrLogger. Defaults to slog.Default().
func Logger(l *slog.Logger) interface {
	GeolocOption
	TransformerOption
	WarpOption
} {
	return loggerOpt{l}
}

func (o loggerOpt) setGeolocOpt(g *geolocOpts) {
	g.logger = o.l
}
func (o loggerOpt) setTransformerOpt(t *transformerOpts) {
	o.setGeolocOpt(&t.geolocOpts)
}
func (o loggerOpt) setWarpOpt(w *warpOpts) {
	w.logger = o.l
}

type dstNoDataOpt struct {
	v float64
}

// DstNoData sets the value written to destination pixels that do not map
// to a valid source pixel. Without it such pixels are left untouched.
func DstNoData(v float64) interface {
	WarpOption
} {
	return dstNoDataOpt{v}
}

func (o dstNoDataOpt) setWarpOpt(w *warpOpts) {
	w.dstNoData = o.v
	w.hasDstNoData = true
}

type concurrencyOpt struct {
	n int
}

// Concurrency sets the number of scanline blocks warped in parallel.
// Defaults to runtime.GOMAXPROCS(0).
func Concurrency(n int) interface {
	WarpOption
} {
	return concurrencyOpt{n}
}

func (o concurrencyOpt) setWarpOpt(w *warpOpts) {
	w.concurrency = o.n
}
