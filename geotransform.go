package geoloc

import (
	"errors"
	"math"
)

// GeoTransform is an affine pixel/line to coordinate mapping, in GDAL's order:
//
//	x = gt[0] + pixel*gt[1] + line*gt[2]
//	y = gt[3] + pixel*gt[4] + line*gt[5]
type GeoTransform [6]float64

// Apply returns the coordinates of the given pixel/line position
func (gt GeoTransform) Apply(pixel, line float64) (x, y float64) {
	return gt[0] + pixel*gt[1] + line*gt[2],
		gt[3] + pixel*gt[4] + line*gt[5]
}

// Invert returns the geotransform mapping coordinates back to pixel/line
func (gt GeoTransform) Invert() (GeoTransform, error) {
	// no rotation: avoids the precision loss of the general case
	if gt[2] == 0 && gt[4] == 0 && gt[1] != 0 && gt[5] != 0 {
		return GeoTransform{
			-gt[0] / gt[1], 1 / gt[1], 0,
			-gt[3] / gt[5], 0, 1 / gt[5],
		}, nil
	}
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if math.Abs(det) < 1e-15 {
		return GeoTransform{}, errors.New("geotransform is not invertible")
	}
	inv := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * inv,
		gt[5] * inv,
		-gt[2] * inv,
		(-gt[1]*gt[3] + gt[0]*gt[4]) * inv,
		-gt[4] * inv,
		gt[1] * inv,
	}, nil
}

// Origin returns the coordinates of the top left corner of the raster
func (gt GeoTransform) Origin() (float64, float64) {
	return gt[0], gt[3]
}

// Bounds returns the extent covered by a raster of the given size
func (gt GeoTransform) Bounds(width, height int) Bounds {
	b := emptyBounds()
	for _, c := range [][2]float64{{0, 0}, {float64(width), 0}, {0, float64(height)}, {float64(width), float64(height)}} {
		x, y := gt.Apply(c[0], c[1])
		b = b.extend(x, y)
	}
	return b
}
