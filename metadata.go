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
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Domain is the metadata domain holding the geolocation keys of a raster
const Domain = "GEOLOCATION"

// Geolocation metadata keys
const (
	KeyXDataset    = "X_DATASET"
	KeyXBand       = "X_BAND"
	KeyYDataset    = "Y_DATASET"
	KeyYBand       = "Y_BAND"
	KeyPixelOffset = "PIXEL_OFFSET"
	KeyPixelStep   = "PIXEL_STEP"
	KeyLineOffset  = "LINE_OFFSET"
	KeyLineStep    = "LINE_STEP"
	KeySRS         = "SRS"
	KeyConvention  = "GEOREFERENCING_CONVENTION"
	KeySwapXY      = "SWAP_XY"
)

// Convention tells which point of a source pixel a geolocation sample refers to
type Convention int

const (
	// PixelCenter samples locate the center of their pixel (default)
	PixelCenter Convention = iota
	// TopLeftCorner samples locate the top left corner of their pixel
	TopLeftCorner
)

func (c Convention) String() string {
	if c == TopLeftCorner {
		return "TOP_LEFT_CORNER"
	}
	return "PIXEL_CENTER"
}

// Metadata is the parsed content of the GEOLOCATION metadata domain. Sample
// (i,j) of the X/Y arrays locates source pixel
//
//	PixelOffset + i*PixelStep, LineOffset + j*LineStep
//
// shifted by half a pixel when Convention is PixelCenter.
type Metadata struct {
	XDataset    string
	XBand       int
	YDataset    string
	YBand       int
	PixelOffset int
	PixelStep   int
	LineOffset  int
	LineStep    int
	// SRS of the X/Y values, as WKT, "EPSG:n" or a proj4 string. Empty means WGS84.
	SRS        string
	Convention Convention
	// SwapXY is set when X_DATASET holds latitudes (or northings)
	SwapXY bool
}

// ParseMetadata validates a GEOLOCATION metadata map. Keys are matched case
// insensitively and unknown keys are ignored. The returned error wraps
// ErrInvalidMetadata.
func ParseMetadata(md map[string]string) (Metadata, error) {
	kv := make(map[string]string, len(md))
	for k, v := range md {
		kv[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	missing := []string{}
	for _, k := range []string{KeyXDataset, KeyYDataset, KeyPixelOffset, KeyPixelStep, KeyLineOffset, KeyLineStep} {
		if kv[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Metadata{}, fmt.Errorf("%w: missing %s", ErrInvalidMetadata, strings.Join(missing, ","))
	}
	m := Metadata{
		XDataset: kv[KeyXDataset],
		YDataset: kv[KeyYDataset],
		XBand:    1,
		YBand:    1,
		SRS:      kv[KeySRS],
	}
	var err error
	ints := []struct {
		key string
		dst *int
		min int
	}{
		{KeyPixelOffset, &m.PixelOffset, 0},
		{KeyLineOffset, &m.LineOffset, 0},
		{KeyPixelStep, &m.PixelStep, 1},
		{KeyLineStep, &m.LineStep, 1},
		{KeyXBand, &m.XBand, 1},
		{KeyYBand, &m.YBand, 1},
	}
	for _, f := range ints {
		s, ok := kv[f.key]
		if !ok || s == "" {
			continue
		}
		if *f.dst, err = parseInt(s); err != nil {
			return Metadata{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidMetadata, f.key, s, err)
		}
		if *f.dst < f.min {
			return Metadata{}, fmt.Errorf("%w: %s must be >= %d, got %d", ErrInvalidMetadata, f.key, f.min, *f.dst)
		}
	}
	switch strings.ToUpper(kv[KeyConvention]) {
	case "", "PIXEL_CENTER":
		m.Convention = PixelCenter
	case "TOP_LEFT_CORNER":
		m.Convention = TopLeftCorner
	default:
		return Metadata{}, fmt.Errorf("%w: unknown %s %q", ErrInvalidMetadata, KeyConvention, kv[KeyConvention])
	}
	if s := kv[KeySwapXY]; s != "" {
		if m.SwapXY, err = parseBool(s); err != nil {
			return Metadata{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidMetadata, KeySwapXY, s, err)
		}
	}
	return m, nil
}

// parseInt accepts integers, including integral floats such as "1.0"
func parseInt(s string) (int, error) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("not an integer")
	}
	return int(f), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "YES", "TRUE", "ON", "1":
		return true, nil
	case "NO", "FALSE", "OFF", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}

// Map returns the metadata as GEOLOCATION key/values
func (m Metadata) Map() map[string]string {
	md := map[string]string{
		KeyXDataset:    m.XDataset,
		KeyXBand:       strconv.Itoa(m.XBand),
		KeyYDataset:    m.YDataset,
		KeyYBand:       strconv.Itoa(m.YBand),
		KeyPixelOffset: strconv.Itoa(m.PixelOffset),
		KeyPixelStep:   strconv.Itoa(m.PixelStep),
		KeyLineOffset:  strconv.Itoa(m.LineOffset),
		KeyLineStep:    strconv.Itoa(m.LineStep),
	}
	if m.SRS != "" {
		md[KeySRS] = m.SRS
	}
	if m.Convention != PixelCenter {
		md[KeyConvention] = m.Convention.String()
	}
	if m.SwapXY {
		md[KeySwapXY] = "YES"
	}
	return md
}

// MetadataFromList converts a list of KEY=VALUE strings into a map suitable for
// ParseMetadata. Entries without '=' are ignored.
func MetadataFromList(kvs []string) map[string]string {
	md := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			continue
		}
		md[kv[:idx]] = kv[idx+1:]
	}
	return md
}

// List returns the metadata as sorted KEY=VALUE strings
func (m Metadata) List() []string {
	md := m.Map()
	ret := make([]string, 0, len(md))
	for k, v := range md {
		ret = append(ret, k+"="+v)
	}
	sort.Strings(ret)
	return ret
}

func (m Metadata) centerShift() float64 {
	if m.Convention == PixelCenter {
		return 0.5
	}
	return 0
}

// gridToPixel converts a fractional sample position to source pixel/line
func (m Metadata) gridToPixel(col, row float64) (pixel, line float64) {
	s := m.centerShift()
	return float64(m.PixelOffset) + col*float64(m.PixelStep) + s,
		float64(m.LineOffset) + row*float64(m.LineStep) + s
}

// pixelToGrid converts a source pixel/line to a fractional sample position
func (m Metadata) pixelToGrid(pixel, line float64) (col, row float64) {
	s := m.centerShift()
	return (pixel - s - float64(m.PixelOffset)) / float64(m.PixelStep),
		(line - s - float64(m.LineOffset)) / float64(m.LineStep)
}
