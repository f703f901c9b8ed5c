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
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/tiff"
	"github.com/hhrutter/lzw"
)

// TIFF compression schemes handled by ReadBand
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateAdob = 32946
)

// GeoTIFF keys needed to recover the EPSG code of a raster
const (
	geoKeyGeographicType  = 2048
	geoKeyProjectedCSType = 3072
	userDefined           = 32767
)

type tiffIFD struct {
	ImageWidth          uint64    `tiff:"field,tag=256"`
	ImageLength         uint64    `tiff:"field,tag=257"`
	BitsPerSample       []uint16  `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	StripOffsets        []uint32  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        *uint32   `tiff:"field,tag=278"`
	StripByteCounts     []uint32  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint16    `tiff:"field,tag=322"`
	TileLength          uint16    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        []uint16  `tiff:"field,tag=339"`
	ModelPixelScale     []float64 `tiff:"field,tag=33550"`
	ModelTiePoint       []float64 `tiff:"field,tag=33922"`
	ModelTransformation []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectory     []uint16  `tiff:"field,tag=34735"`
	NoData              string    `tiff:"field,tag=42113"`
}

func parseFirstIFD(r tiff.ReadAtReadSeeker) (*tiffIFD, tiff.BReader, error) {
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("tiff.parse: %w", err)
	}
	ifds := tif.IFDs()
	if len(ifds) == 0 {
		return nil, nil, errors.New("no image file directory")
	}
	ifd := &tiffIFD{}
	if err := tiff.UnmarshalIFD(ifds[0], ifd); err != nil {
		return nil, nil, fmt.Errorf("tiff.unmarshal: %w", err)
	}
	if ifd.SamplesPerPixel == 0 {
		ifd.SamplesPerPixel = 1
	}
	if ifd.PlanarConfiguration == 0 {
		ifd.PlanarConfiguration = 1
	}
	if ifd.Compression == 0 {
		ifd.Compression = compressionNone
	}
	return ifd, tif.R(), nil
}

// storedNoData rounds nd to the sample type so that it compares equal to the
// samples carrying it once they are widened to float64
func storedNoData(nd float64, format uint16, bits int) float64 {
	if math.IsNaN(nd) || math.IsInf(nd, 0) {
		return nd
	}
	if format == 3 {
		if bits == 32 {
			return float64(float32(nd))
		}
		return nd
	}
	var lo, hi float64
	if format == 2 {
		lo, hi = -math.Ldexp(1, bits-1), math.Ldexp(1, bits-1)-1
	} else {
		lo, hi = 0, math.Ldexp(1, bits)-1
	}
	return math.Max(lo, math.Min(hi, math.Round(nd)))
}

// ReadBand decodes the given (1-based) band of the first image of a TIFF
// file. Uncompressed, LZW and deflate encoded strips or tiles of integer or
// floating point samples are supported. The GDAL_NODATA tag, when present,
// is reported through the returned Array's NoData.
func ReadBand(r tiff.ReadAtReadSeeker, band int) (*Array, error) {
	ifd, br, err := parseFirstIFD(r)
	if err != nil {
		return nil, err
	}
	if band < 1 || band > int(ifd.SamplesPerPixel) {
		return nil, fmt.Errorf("band %d out of range [1,%d]", band, ifd.SamplesPerPixel)
	}
	if len(ifd.BitsPerSample) == 0 {
		return nil, errors.New("missing BitsPerSample")
	}
	bits := int(ifd.BitsPerSample[0])
	if bits != 8 && bits != 16 && bits != 32 && bits != 64 {
		return nil, fmt.Errorf("unsupported %d bits per sample", bits)
	}
	format := uint16(1)
	if len(ifd.SampleFormat) > 0 {
		format = ifd.SampleFormat[0]
	}
	if format == 3 && bits < 32 {
		return nil, fmt.Errorf("unsupported %d bits floating point samples", bits)
	}
	width, height := int(ifd.ImageWidth), int(ifd.ImageLength)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}

	var offsets, counts []uint64
	blockW, blockH := width, height
	if ifd.TileWidth > 0 && ifd.TileLength > 0 {
		blockW, blockH = int(ifd.TileWidth), int(ifd.TileLength)
		offsets, counts = ifd.TileOffsets, ifd.TileByteCounts
	} else {
		if ifd.RowsPerStrip != nil && int(*ifd.RowsPerStrip) < height && *ifd.RowsPerStrip > 0 {
			blockH = int(*ifd.RowsPerStrip)
		}
		offsets = make([]uint64, len(ifd.StripOffsets))
		counts = make([]uint64, len(ifd.StripByteCounts))
		for i := range ifd.StripOffsets {
			offsets[i] = uint64(ifd.StripOffsets[i])
		}
		for i := range ifd.StripByteCounts {
			counts[i] = uint64(ifd.StripByteCounts[i])
		}
	}
	across := (width + blockW - 1) / blockW
	down := (height + blockH - 1) / blockH
	spp := int(ifd.SamplesPerPixel)
	planes := 1
	pixelStride := spp
	sampleInPixel := band - 1
	if ifd.PlanarConfiguration == 2 {
		planes = spp
		pixelStride = 1
		sampleInPixel = 0
	}
	if len(offsets) < across*down*planes || len(counts) < len(offsets) {
		return nil, fmt.Errorf("expected %d blocks, got %d offsets", across*down*planes, len(offsets))
	}
	plane := 0
	if planes > 1 {
		plane = band - 1
	}

	arr := NewArray(width, height)
	if ifd.NoData != "" {
		nd, err := strconv.ParseFloat(strings.Trim(ifd.NoData, " \x00"), 64)
		if err == nil {
			arr.NoData = storedNoData(nd, format, bits)
			arr.HasNoData = true
		}
	}
	bps := bits / 8
	rowBytes := blockW * pixelStride * bps
	order := br.ByteOrder()
	for by := 0; by < down; by++ {
		for bx := 0; bx < across; bx++ {
			idx := plane*across*down + by*across + bx
			raw := make([]byte, counts[idx])
			if _, err := br.ReadAt(raw, int64(offsets[idx])); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read block %d: %w", idx, err)
			}
			data, err := decompress(ifd.Compression, raw)
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", idx, err)
			}
			rows := blockH
			if ifd.TileWidth == 0 && (by+1)*blockH > height {
				rows = height - by*blockH
			}
			if len(data) < rows*rowBytes {
				return nil, fmt.Errorf("block %d: short data (%d<%d)", idx, len(data), rows*rowBytes)
			}
			blockOrder := order
			switch ifd.Predictor {
			case 0, 1:
			case 2:
				for y := 0; y < rows; y++ {
					undoHorizontalPredictor(data[y*rowBytes:(y+1)*rowBytes], bps, pixelStride, order)
				}
			case 3:
				for y := 0; y < rows; y++ {
					undoFloatPredictor(data[y*rowBytes:(y+1)*rowBytes], bps, pixelStride)
				}
				blockOrder = binary.BigEndian
			default:
				return nil, fmt.Errorf("unsupported predictor %d", ifd.Predictor)
			}
			for y := 0; y < rows; y++ {
				iy := by*blockH + y
				if iy >= height {
					break
				}
				for x := 0; x < blockW; x++ {
					ix := bx*blockW + x
					if ix >= width {
						break
					}
					off := y*rowBytes + (x*pixelStride+sampleInPixel)*bps
					arr.Data[iy*width+ix] = decodeSample(data[off:off+bps], format, blockOrder)
				}
			}
		}
	}
	return arr, nil
}

func decompress(compression uint16, raw []byte) ([]byte, error) {
	switch compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), true)
		defer rc.Close()
		return io.ReadAll(rc)
	case compressionDeflate, compressionDeflateAdob:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return nil, fmt.Errorf("unsupported compression %d", compression)
}

func undoHorizontalPredictor(row []byte, bps, stride int, order binary.ByteOrder) {
	n := len(row) / bps
	for i := stride; i < n; i++ {
		cur, prev := row[i*bps:(i+1)*bps], row[(i-stride)*bps:(i-stride+1)*bps]
		switch bps {
		case 1:
			cur[0] += prev[0]
		case 2:
			order.PutUint16(cur, order.Uint16(cur)+order.Uint16(prev))
		case 4:
			order.PutUint32(cur, order.Uint32(cur)+order.Uint32(prev))
		case 8:
			order.PutUint64(cur, order.Uint64(cur)+order.Uint64(prev))
		}
	}
}

// undoFloatPredictor reverts the floating point predictor: bytes are
// differenced then stored as planes of most to least significant byte.
// The row is left holding big endian samples.
func undoFloatPredictor(row []byte, bps, stride int) {
	for i := stride; i < len(row); i++ {
		row[i] += row[i-stride]
	}
	wc := len(row) / bps
	tmp := make([]byte, len(row))
	copy(tmp, row)
	for count := 0; count < wc; count++ {
		for b := 0; b < bps; b++ {
			row[bps*count+b] = tmp[b*wc+count]
		}
	}
}

func decodeSample(b []byte, format uint16, order binary.ByteOrder) float64 {
	switch len(b) {
	case 1:
		if format == 2 {
			return float64(int8(b[0]))
		}
		return float64(b[0])
	case 2:
		v := order.Uint16(b)
		if format == 2 {
			return float64(int16(v))
		}
		return float64(v)
	case 4:
		v := order.Uint32(b)
		switch format {
		case 3:
			return float64(math.Float32frombits(v))
		case 2:
			return float64(int32(v))
		}
		return float64(v)
	default:
		v := order.Uint64(b)
		switch format {
		case 3:
			return math.Float64frombits(v)
		case 2:
			return float64(int64(v))
		}
		return float64(v)
	}
}

// ReadGeoReference returns the geotransform and spatial reference of the
// first image of a GeoTIFF file. The spatial reference is nil when the file
// carries no EPSG code. Projected codes other than Web Mercator are returned
// as opaque systems.
func ReadGeoReference(r tiff.ReadAtReadSeeker) (GeoTransform, *SpatialRef, error) {
	ifd, _, err := parseFirstIFD(r)
	if err != nil {
		return GeoTransform{}, nil, err
	}
	gt := GeoTransform{0, 1, 0, 0, 0, 1}
	switch {
	case len(ifd.ModelPixelScale) >= 2 && ifd.ModelPixelScale[0] != 0 && ifd.ModelPixelScale[1] != 0:
		gt[1] = ifd.ModelPixelScale[0]
		gt[5] = -ifd.ModelPixelScale[1]
		if len(ifd.ModelTiePoint) >= 6 {
			gt[0] = ifd.ModelTiePoint[3] - ifd.ModelTiePoint[0]*gt[1]
			gt[3] = ifd.ModelTiePoint[4] - ifd.ModelTiePoint[1]*gt[5]
		}
	case len(ifd.ModelTransformation) == 16:
		gt = GeoTransform{
			ifd.ModelTransformation[3], ifd.ModelTransformation[0], ifd.ModelTransformation[1],
			ifd.ModelTransformation[7], ifd.ModelTransformation[4], ifd.ModelTransformation[5],
		}
	default:
		return gt, nil, errors.New("no geotiff referencing found")
	}
	var sr *SpatialRef
	gk := ifd.GeoKeyDirectory
	if len(gk) >= 4 {
		nkeys := int(gk[3])
		for k := 0; k < nkeys && 4+k*4+3 < len(gk); k++ {
			id, loc, val := gk[4+k*4], gk[4+k*4+1], gk[4+k*4+3]
			if loc != 0 || (id != geoKeyGeographicType && id != geoKeyProjectedCSType) {
				continue
			}
			if s, err := NewSpatialRefFromEPSG(int(val)); err == nil {
				sr = s
				if id == geoKeyProjectedCSType {
					break
				}
			} else if id == geoKeyProjectedCSType && val != userDefined {
				sr, _ = NewOpaqueSpatialRef(fmt.Sprintf("EPSG:%d", val))
				break
			}
		}
	}
	return gt, sr, nil
}

type tiffWriteOpts struct {
	tileSize int
	gt       *GeoTransform
	srs      *SpatialRef
	lzw      bool
}

// TIFFOption is an option that can be passed to WriteTIFF
//
// Available TIFFOptions are:
//
// • TileSize
//
// • GeoReference
//
// • LZWCompression
type TIFFOption interface {
	setTIFFOpt(o *tiffWriteOpts)
}

type tileSizeOpt struct{ n int }

// TileSize sets the width and height of the written tiles. It must be a
// multiple of 16, and defaults to 256.
func TileSize(n int) interface {
	TIFFOption
} {
	return tileSizeOpt{n}
}

func (o tileSizeOpt) setTIFFOpt(to *tiffWriteOpts) {
	to.tileSize = o.n
}

type geoRefOpt struct {
	gt  GeoTransform
	srs *SpatialRef
}

// GeoReference writes the geotransform (which must not be rotated) and the
// spatial reference (which may be nil) as GeoTIFF tags
func GeoReference(gt GeoTransform, srs *SpatialRef) interface {
	TIFFOption
} {
	return geoRefOpt{gt, srs}
}

func (o geoRefOpt) setTIFFOpt(to *tiffWriteOpts) {
	gt := o.gt
	to.gt = &gt
	to.srs = o.srs
}

type lzwOpt struct{}

// LZWCompression compresses the written tiles with LZW
func LZWCompression() interface {
	TIFFOption
} {
	return lzwOpt{}
}

func (lzwOpt) setTIFFOpt(to *tiffWriteOpts) {
	to.lzw = true
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

const (
	tiffASCII  = 2
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
)

var le = binary.LittleEndian

func shortEntry(tag uint16, vals ...uint16) tiffEntry {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		le.PutUint16(b[2*i:], v)
	}
	return tiffEntry{tag, tiffShort, uint32(len(vals)), b}
}

func longEntry(tag uint16, vals ...uint32) tiffEntry {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		le.PutUint32(b[4*i:], v)
	}
	return tiffEntry{tag, tiffLong, uint32(len(vals)), b}
}

func doubleEntry(tag uint16, vals ...float64) tiffEntry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		le.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return tiffEntry{tag, tiffDouble, uint32(len(vals)), b}
}

func asciiEntry(tag uint16, s string) tiffEntry {
	b := append([]byte(s), 0)
	return tiffEntry{tag, tiffASCII, uint32(len(b)), b}
}

// WriteTIFF encodes the array as a single band, tiled, little endian float32
// TIFF. The array's nodata value is written in the GDAL_NODATA tag.
func WriteTIFF(w io.Writer, a *Array, opts ...TIFFOption) error {
	to := tiffWriteOpts{tileSize: 256}
	for _, o := range opts {
		o.setTIFFOpt(&to)
	}
	if to.tileSize <= 0 || to.tileSize%16 != 0 {
		return fmt.Errorf("invalid tile size %d", to.tileSize)
	}
	if a.Width <= 0 || a.Height <= 0 || len(a.Data) != a.Width*a.Height {
		return fmt.Errorf("invalid array %dx%d with %d samples", a.Width, a.Height, len(a.Data))
	}
	ts := to.tileSize
	across := (a.Width + ts - 1) / ts
	down := (a.Height + ts - 1) / ts
	tiles := make([][]byte, 0, across*down)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			buf := make([]byte, ts*ts*4)
			for y := 0; y < ts && ty*ts+y < a.Height; y++ {
				for x := 0; x < ts && tx*ts+x < a.Width; x++ {
					v := a.Data[(ty*ts+y)*a.Width+tx*ts+x]
					le.PutUint32(buf[(y*ts+x)*4:], math.Float32bits(float32(v)))
				}
			}
			if to.lzw {
				var cbuf bytes.Buffer
				lw := lzw.NewWriter(&cbuf, true)
				if _, err := lw.Write(buf); err != nil {
					return fmt.Errorf("lzw: %w", err)
				}
				if err := lw.Close(); err != nil {
					return fmt.Errorf("lzw: %w", err)
				}
				buf = cbuf.Bytes()
			}
			tiles = append(tiles, buf)
		}
	}

	compression := uint16(compressionNone)
	if to.lzw {
		compression = compressionLZW
	}
	counts := make([]uint32, len(tiles))
	for i, t := range tiles {
		counts[i] = uint32(len(t))
	}
	entries := []tiffEntry{
		longEntry(256, uint32(a.Width)),
		longEntry(257, uint32(a.Height)),
		shortEntry(258, 32),
		shortEntry(259, compression),
		shortEntry(262, 1),
		shortEntry(277, 1),
		shortEntry(284, 1),
		shortEntry(322, uint16(ts)),
		shortEntry(323, uint16(ts)),
		longEntry(324, make([]uint32, len(tiles))...),
		longEntry(325, counts...),
		shortEntry(339, 3),
	}
	if to.gt != nil {
		gt := *to.gt
		if gt[2] != 0 || gt[4] != 0 {
			return errors.New("rotated geotransforms are not supported")
		}
		entries = append(entries,
			doubleEntry(33550, gt[1], -gt[5], 0),
			doubleEntry(33922, 0, 0, 0, gt[0], gt[3], 0),
		)
		keys := []uint16{1, 1, 0, 0}
		addKey := func(id, val uint16) {
			keys = append(keys, id, 0, 1, val)
			keys[3]++
		}
		if to.srs != nil {
			if to.srs.Geographic() {
				addKey(1024, 2)
				addKey(1025, 1)
				addKey(geoKeyGeographicType, uint16(to.srs.EPSG()))
			} else {
				addKey(1024, 1)
				addKey(1025, 1)
				code := to.srs.EPSG()
				if code <= 0 || code >= userDefined {
					code = userDefined
				}
				addKey(geoKeyProjectedCSType, uint16(code))
			}
		} else {
			addKey(1025, 1)
		}
		entries = append(entries, shortEntry(34735, keys...))
	}
	if a.HasNoData {
		entries = append(entries, asciiEntry(42113, strconv.FormatFloat(a.NoData, 'g', -1, 64)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdLen := int64(2 + 12*len(entries) + 4)
	pos := 8 + ifdLen
	extOffsets := make([]int64, len(entries))
	var tileOffsetsIdx int
	for i, e := range entries {
		if e.tag == 324 {
			tileOffsetsIdx = i
		}
		if len(e.data) > 4 {
			pos += pos % 2
			extOffsets[i] = pos
			pos += int64(len(e.data))
		}
	}
	pos += pos % 2
	for i, t := range tiles {
		if pos > math.MaxUint32 {
			return errors.New("file too large for classic tiff")
		}
		le.PutUint32(entries[tileOffsetsIdx].data[4*i:], uint32(pos))
		pos += int64(len(t))
	}

	var out bytes.Buffer
	out.WriteString("II")
	_ = binary.Write(&out, le, uint16(42))
	_ = binary.Write(&out, le, uint32(8))
	_ = binary.Write(&out, le, uint16(len(entries)))
	for i, e := range entries {
		_ = binary.Write(&out, le, e.tag)
		_ = binary.Write(&out, le, e.typ)
		_ = binary.Write(&out, le, e.count)
		if len(e.data) > 4 {
			_ = binary.Write(&out, le, uint32(extOffsets[i]))
		} else {
			v := make([]byte, 4)
			copy(v, e.data)
			out.Write(v)
		}
	}
	_ = binary.Write(&out, le, uint32(0))
	for i, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		for int64(out.Len()) < extOffsets[i] {
			out.WriteByte(0)
		}
		out.Write(e.data)
	}
	if out.Len()%2 == 1 {
		out.WriteByte(0)
	}
	if _, err := w.Write(out.Bytes()); err != nil {
		return err
	}
	for _, t := range tiles {
		if _, err := w.Write(t); err != nil {
			return err
		}
	}
	return nil
}
