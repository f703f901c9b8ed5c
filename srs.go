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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

type crsKind int

const (
	kindGeographic crsKind = iota + 1
	kindWebMercator
	// kindOpaque is a well-formed system that cannot be reprojected. Its
	// coordinates are usable as long as both ends of a transformation share it.
	kindOpaque
)

// WKT definitions returned by SpatialRef.WKT for the supported systems
const (
	WKTWGS84       = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AXIS["Latitude",NORTH],AXIS["Longitude",EAST],AUTHORITY["EPSG","4326"]]`
	WKTWebMercator = `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs"],AUTHORITY["EPSG","3857"]]`
)

// ErrUnsupportedSRS is returned when a spatial reference is neither a
// WGS84-based geographic system nor Web Mercator
var ErrUnsupportedSRS = errors.New("unsupported spatial reference")

var webMercatorCodes = map[int]bool{3857: true, 900913: true, 3785: true, 102100: true, 102113: true}
var geographicCodes = map[int]bool{4326: true, 4979: true}

// SpatialRef is a coordinate reference system. Only longitude/latitude on
// WGS84 and spherical (Web) Mercator can be reprojected between. Other systems
// obtained through NewOpaqueSpatialRef are identified by their definition and
// only transform to themselves. Coordinates are always in longitude/latitude
// (easting/northing) order.
type SpatialRef struct {
	kind crsKind
	epsg int
	def  string
}

// NewSpatialRefFromEPSG creates a SpatialRef from an epsg code
func NewSpatialRefFromEPSG(code int) (*SpatialRef, error) {
	switch {
	case geographicCodes[code]:
		return &SpatialRef{kind: kindGeographic, epsg: 4326}, nil
	case webMercatorCodes[code]:
		return &SpatialRef{kind: kindWebMercator, epsg: 3857}, nil
	}
	return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedSRS, code)
}

// NewSpatialRefFromWKT creates a SpatialRef from an opengis WKT (1 or 2) description
func NewSpatialRefFromWKT(wkt string) (*SpatialRef, error) {
	root, err := parseWKT(wkt)
	if err != nil {
		return nil, err
	}
	if code, ok := root.epsg(); ok {
		if sr, err := NewSpatialRefFromEPSG(code); err == nil {
			sr.def = wkt
			return sr, nil
		}
	}
	switch root.keyword {
	case "GEOGCS", "GEOGCRS", "GEODCRS", "GEOGRAPHICCRS", "GEODETICCRS":
		if unit := root.child("UNIT", "ANGLEUNIT"); unit != nil && len(unit.args) > 1 {
			f, err := strconv.ParseFloat(unit.args[1].text, 64)
			if err == nil && math.Abs(f-math.Pi/180) > 1e-9 {
				return nil, fmt.Errorf("%w: angular unit %q", ErrUnsupportedSRS, unit.name())
			}
		}
		return &SpatialRef{kind: kindGeographic, epsg: 4326, def: wkt}, nil
	case "PROJCS", "PROJCRS", "PROJECTEDCRS":
		if strings.Contains(strings.ToLower(root.name()), "pseudo-mercator") ||
			strings.Contains(strings.ToLower(root.name()), "pseudo mercator") {
			return &SpatialRef{kind: kindWebMercator, epsg: 3857, def: wkt}, nil
		}
		if proj := root.child("PROJECTION"); proj != nil && proj.name() == "Popular_Visualisation_Pseudo_Mercator" {
			return &SpatialRef{kind: kindWebMercator, epsg: 3857, def: wkt}, nil
		}
		if ext := root.child("EXTENSION"); ext != nil && len(ext.args) > 1 && ext.name() == "PROJ4" {
			if sr, err := NewSpatialRefFromProj4(ext.args[1].text); err == nil {
				sr.def = wkt
				return sr, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSRS, root.name())
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedSRS, root.keyword)
}

// NewSpatialRefFromProj4 creates a SpatialRef from a proj4 string
func NewSpatialRefFromProj4(proj string) (*SpatialRef, error) {
	params := map[string]string{}
	for _, tok := range strings.Fields(proj) {
		tok = strings.TrimPrefix(tok, "+")
		k, v, _ := strings.Cut(tok, "=")
		params[strings.ToLower(k)] = v
	}
	if init := params["init"]; init != "" {
		auth, code, _ := strings.Cut(init, ":")
		if strings.EqualFold(auth, "epsg") {
			c, err := strconv.Atoi(code)
			if err != nil {
				return nil, fmt.Errorf("invalid proj4 init %q", init)
			}
			return NewSpatialRefFromEPSG(c)
		}
	}
	switch params["proj"] {
	case "longlat", "latlong", "lonlat", "latlon":
		return &SpatialRef{kind: kindGeographic, epsg: 4326, def: proj}, nil
	case "merc":
		if params["a"] == "6378137" && params["b"] == "6378137" {
			return &SpatialRef{kind: kindWebMercator, epsg: 3857, def: proj}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSRS, proj)
}

// NewSpatialRef creates a SpatialRef from any of the user input forms
// accepted by GDAL that are meaningful here: "EPSG:n", an OGC urn,
// "WGS84"/"CRS84", a proj4 string or a WKT definition.
func NewSpatialRef(def string) (*SpatialRef, error) {
	d := strings.TrimSpace(def)
	up := strings.ToUpper(d)
	switch {
	case up == "WGS84" || up == "CRS84" || up == "OGC:CRS84":
		return NewSpatialRefFromEPSG(4326)
	case strings.HasPrefix(up, "EPSG:"):
		code, err := strconv.Atoi(strings.TrimSpace(d[5:]))
		if err != nil {
			return nil, fmt.Errorf("invalid epsg definition %q", def)
		}
		return NewSpatialRefFromEPSG(code)
	case strings.HasPrefix(up, "URN:OGC:DEF:CRS:EPSG:"):
		parts := strings.Split(d, ":")
		code, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid urn %q", def)
		}
		return NewSpatialRefFromEPSG(code)
	case strings.HasPrefix(d, "+"):
		return NewSpatialRefFromProj4(d)
	}
	return NewSpatialRefFromWKT(d)
}

// NewOpaqueSpatialRef accepts any definition NewSpatialRef accepts, and
// well-formed definitions of other systems, which are returned as projected
// systems that cannot be reprojected. Malformed definitions are rejected.
func NewOpaqueSpatialRef(def string) (*SpatialRef, error) {
	sr, err := NewSpatialRef(def)
	if err == nil {
		return sr, nil
	}
	if !errors.Is(err, ErrUnsupportedSRS) {
		return nil, err
	}
	d := strings.TrimSpace(def)
	return &SpatialRef{kind: kindOpaque, epsg: definitionEPSG(d), def: d}, nil
}

// definitionEPSG extracts the epsg code of a definition, or 0
func definitionEPSG(def string) int {
	up := strings.ToUpper(def)
	var code string
	switch {
	case strings.HasPrefix(up, "EPSG:"):
		code = def[5:]
	case strings.HasPrefix(up, "URN:OGC:DEF:CRS:EPSG:"):
		code = def[strings.LastIndex(def, ":")+1:]
	case strings.HasPrefix(def, "+"):
		if i := strings.Index(strings.ToLower(def), "+init=epsg:"); i >= 0 {
			code, _, _ = strings.Cut(def[i+len("+init=epsg:"):], " ")
		}
	default:
		if root, err := parseWKT(def); err == nil {
			if c, ok := root.epsg(); ok {
				return c
			}
		}
	}
	c, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || c <= 0 {
		return 0
	}
	return c
}

// EPSG returns the epsg code of the spatial reference, or 0 when unknown
func (sr *SpatialRef) EPSG() int {
	return sr.epsg
}

// Geographic returns wether the spatial reference is a longitude/latitude system
func (sr *SpatialRef) Geographic() bool {
	return sr.kind == kindGeographic
}

// WKT returns the spatial reference as WKT. Opaque systems return the
// definition they were created from.
func (sr *SpatialRef) WKT() string {
	if sr.kind == kindOpaque {
		return sr.def
	}
	if sr.kind == kindWebMercator {
		return WKTWebMercator
	}
	return WKTWGS84
}

// IsSame returns whether two SpatialRefs describe the same projection.
func (sr *SpatialRef) IsSame(other *SpatialRef) bool {
	if sr == nil || other == nil {
		return sr == other
	}
	if sr.kind != other.kind {
		return false
	}
	if sr.kind != kindOpaque {
		return true
	}
	if sr.epsg != 0 || other.epsg != 0 {
		return sr.epsg == other.epsg
	}
	return sr.def == other.def
}

func (sr *SpatialRef) String() string {
	if sr.kind == kindOpaque && sr.epsg == 0 {
		return sr.def
	}
	return fmt.Sprintf("EPSG:%d", sr.epsg)
}

// CoordTransform transforms coordinates from one SpatialRef to another
type CoordTransform struct {
	src, dst *SpatialRef
}

// NewTransform creates a transformation object from src to dst. Opaque
// systems can only be transformed to themselves.
func NewTransform(src, dst *SpatialRef) (*CoordTransform, error) {
	if src == nil || dst == nil {
		return nil, errors.New("nil spatial reference")
	}
	if (src.kind == kindOpaque || dst.kind == kindOpaque) && !src.IsSame(dst) {
		return nil, fmt.Errorf("%w: no transformation from %s to %s", ErrUnsupportedSRS, src, dst)
	}
	return &CoordTransform{src: src, dst: dst}, nil
}

// TransformPoint transforms a single point. ok is false when the point has
// no image in the destination system.
func (trn *CoordTransform) TransformPoint(x, y float64) (float64, float64, bool) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return x, y, false
	}
	switch {
	case trn.src.IsSame(trn.dst):
		return x, y, true
	case trn.src.kind == kindGeographic:
		if math.Abs(y) >= 90 {
			return x, y, false
		}
		p := project.WGS84.ToMercator(orb.Point{wrapLon(x), y})
		return p[0], p[1], finite(p[0]) && finite(p[1])
	default:
		p := project.Mercator.ToWGS84(orb.Point{x, y})
		return wrapLon(p[0]), p[1], finite(p[0]) && finite(p[1])
	}
}

// TransformEx transforms coordinates in place. z is left untouched and may be
// nil. successful, when not nil, receives the per point status.
func (trn *CoordTransform) TransformEx(x []float64, y []float64, z []float64, successful []bool) error {
	if len(x) != len(y) || (z != nil && len(z) != len(x)) || (successful != nil && len(successful) != len(x)) {
		return errors.New("mismatched slice lengths")
	}
	failed := false
	for i := range x {
		var ok bool
		x[i], y[i], ok = trn.TransformPoint(x[i], y[i])
		if successful != nil {
			successful[i] = ok
		}
		failed = failed || !ok
	}
	if failed {
		return errors.New("some or all points failed to transform")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// wrapLon brings a longitude back into [-180,180]
func wrapLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	return math.Remainder(lon, 360)
}
