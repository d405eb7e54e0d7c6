package cube

import (
	"fmt"
	"os"

	"cubefetch/geo"
	"cubefetch/pkg/geotiff"
)

// RasterWriter persists an assembled pixel block with its georeferencing.
// Writes must be atomic: the file either appears complete or not at all.
type RasterWriter interface {
	Write(path string, block *geotiff.Block, gt geo.Geotransform) error
}

// GeoTIFFWriter writes blocks as GeoTIFF files via a temp-file rename.
type GeoTIFFWriter struct{}

func (GeoTIFFWriter) Write(path string, block *geotiff.Block, gt geo.Geotransform) error {
	epsg, err := geo.ParseEPSG(gt.CRS)
	if err != nil {
		return err
	}
	meta := &geotiff.GeoMeta{
		OriginX: gt.TranslateX,
		OriginY: gt.TranslateY,
		ScaleX:  gt.ScaleX,
		ScaleY:  gt.ScaleY,
		EPSG:    epsg,
	}

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if err := geotiff.Encode(f, block, meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}
