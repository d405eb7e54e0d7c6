// Package geo builds and validates the pixel-grid metadata behind every
// imagery request: an affine transform anchored in a projected CRS, plus
// the grid dimensions.
package geo

import (
	"fmt"
)

// Coordinate validity ranges (WGS84 degrees).
const (
	MinLon = -180.0
	MaxLon = 180.0
	MinLat = -90.0
	MaxLat = 90.0
)

// InvalidGeometryError reports a coordinate outside its valid range.
type InvalidGeometryError struct {
	Field string
	Value float64
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid geometry: %s %g out of range", e.Field, e.Value)
}

// Geotransform maps pixel coordinates to projected map coordinates:
//
//	x = TranslateX + col*ScaleX + row*ShearX
//	y = TranslateY + col*ShearY + row*ScaleY
//
// North-up rasters have ScaleX > 0 and ScaleY < 0.
type Geotransform struct {
	ScaleX     float64
	ShearX     float64
	TranslateX float64
	ShearY     float64
	ScaleY     float64
	TranslateY float64

	CRS    string // "EPSG:nnnnn"
	Width  int
	Height int
}

// Validate checks the north-up convention and grid dimensions.
func (g Geotransform) Validate() error {
	if g.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", g.Width)
	}
	if g.Height <= 0 {
		return fmt.Errorf("height must be positive, got %d", g.Height)
	}
	if g.ScaleX <= 0 {
		return fmt.Errorf("scaleX must be positive, got %g", g.ScaleX)
	}
	if g.ScaleY >= 0 {
		return fmt.Errorf("scaleY must be negative, got %g", g.ScaleY)
	}
	if _, err := ParseEPSG(g.CRS); err != nil {
		return err
	}
	return nil
}

// Centroid returns the projected coordinates of the grid's center pixel.
func (g Geotransform) Centroid() (x, y float64) {
	col := float64(g.Width-1) / 2
	row := float64(g.Height-1) / 2
	x = g.TranslateX + col*g.ScaleX + row*g.ShearX
	y = g.TranslateY + col*g.ShearY + row*g.ScaleY
	return x, y
}

// LonLatCentroid returns the grid's center in WGS84 degrees by inverting
// the UTM projection named by the CRS.
func (g Geotransform) LonLatCentroid() (lon, lat float64, err error) {
	epsg, err := ParseEPSG(g.CRS)
	if err != nil {
		return 0, 0, err
	}
	zone, northern, err := utmZone(epsg)
	if err != nil {
		return 0, 0, err
	}
	x, y := g.Centroid()
	lon, lat = utmInverse(x, y, zone, northern)
	return lon, lat, nil
}

// BuildGeotransform centers an edgeSize×edgeSize grid on the given point.
// resolution is the pixel size in meters; the origin sits half a footprint
// northwest of the projected point so the point lands in the grid center.
func BuildGeotransform(lon, lat float64, edgeSize int, resolution float64) (Geotransform, error) {
	return BuildGeotransformWith(UTM{}, lon, lat, edgeSize, resolution)
}

// BuildGeotransformWith is BuildGeotransform with a caller-supplied
// projection capability.
func BuildGeotransformWith(p Projector, lon, lat float64, edgeSize int, resolution float64) (Geotransform, error) {
	if edgeSize <= 0 {
		return Geotransform{}, fmt.Errorf("edge size must be positive, got %d", edgeSize)
	}
	if resolution <= 0 {
		return Geotransform{}, fmt.Errorf("resolution must be positive, got %g", resolution)
	}

	x, y, epsg, err := p.Project(lon, lat)
	if err != nil {
		return Geotransform{}, err
	}

	halfExtent := float64(edgeSize) * resolution / 2
	gt := Geotransform{
		ScaleX:     resolution,
		ShearX:     0,
		TranslateX: x - halfExtent,
		ShearY:     0,
		ScaleY:     -resolution, // y axis is inverted in north-up rasters
		TranslateY: y + halfExtent,
		CRS:        epsg,
		Width:      edgeSize,
		Height:     edgeSize,
	}
	if err := gt.Validate(); err != nil {
		return Geotransform{}, err
	}
	return gt, nil
}
