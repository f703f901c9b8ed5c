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


/*
Package geoloc transforms between the pixel/line positions of a raster
georeferenced by geolocation arrays and the coordinates of its reference
system.

A geolocation raster carries, in its GEOLOCATION metadata domain, the names of
two arrays holding the X (longitude) and Y (latitude) coordinate of a
subsampled set of its pixels. NewGeolocTransformer reads those arrays through
a SourceOpener, fills their gaps row by row and builds a spatial index of the
quadrilaterals formed by adjacent samples. The forward direction is a bilinear
interpolation of the samples, the inverse direction locates the quadrilateral
containing a coordinate and inverts its interpolation.

NewTransformer combines a geolocated or geotransformed source with a
destination of either kind, reprojecting between EPSG:4326 and EPSG:3857 when
both sides differ. SuggestedWarpOutput and Warp build on it to resample a
source array onto a regular grid.

Arrays are read from GeoTIFF files, either local, in the in-memory store
exposed by DefaultSources.Mem() under the /vsimem/ prefix, or through any
handler registered with Sources.Register, such as the gcs package.
*/
package geoloc
