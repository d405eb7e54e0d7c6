package request

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"cubefetch/geo"
)

// FileFormatGeoTIFF is the only pixel encoding the service is asked for.
const FileFormatGeoTIFF = "GEO_TIFF"

// Dimensions is the wire form of a pixel grid's size.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Affine is the wire form of the pixel-to-map transform.
type Affine struct {
	ScaleX     float64 `json:"scaleX"`
	ShearX     float64 `json:"shearX"`
	TranslateX float64 `json:"translateX"`
	ShearY     float64 `json:"shearY"`
	ScaleY     float64 `json:"scaleY"`
	TranslateY float64 `json:"translateY"`
}

// Grid is the wire form of the requested pixel grid.
type Grid struct {
	Dimensions      Dimensions `json:"dimensions"`
	AffineTransform Affine     `json:"affineTransform"`
	CRSCode         string     `json:"crsCode"`
}

// PixelManifest is the verbatim description of one service call. Field
// order is fixed by the struct, so serializing the same manifest always
// yields the same bytes.
type PixelManifest struct {
	AssetID    string   `json:"assetId,omitempty"`
	Expression string   `json:"expression,omitempty"`
	FileFormat string   `json:"fileFormat"`
	BandIDs    []string `json:"bandIds"`
	Grid       Grid     `json:"grid"`
}

// EncodeJSON serializes the manifest. Identical manifests serialize to
// identical bytes.
func (m PixelManifest) EncodeJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Geotransform reconstructs the grid metadata described by the manifest.
func (m PixelManifest) Geotransform() geo.Geotransform {
	return geo.Geotransform{
		ScaleX:     m.Grid.AffineTransform.ScaleX,
		ShearX:     m.Grid.AffineTransform.ShearX,
		TranslateX: m.Grid.AffineTransform.TranslateX,
		ShearY:     m.Grid.AffineTransform.ShearY,
		ScaleY:     m.Grid.AffineTransform.ScaleY,
		TranslateY: m.Grid.AffineTransform.TranslateY,
		CRS:        m.Grid.CRSCode,
		Width:      m.Grid.Dimensions.Width,
		Height:     m.Grid.Dimensions.Height,
	}
}

func manifestFor(r Request) PixelManifest {
	gt := r.gt
	m := PixelManifest{
		FileFormat: FileFormatGeoTIFF,
		BandIDs:    append([]string(nil), r.bands...),
		Grid: Grid{
			Dimensions: Dimensions{Width: gt.Width, Height: gt.Height},
			AffineTransform: Affine{
				ScaleX:     gt.ScaleX,
				ShearX:     gt.ShearX,
				TranslateX: gt.TranslateX,
				ShearY:     gt.ShearY,
				ScaleY:     gt.ScaleY,
				TranslateY: gt.TranslateY,
			},
			CRSCode: gt.CRS,
		},
	}
	if r.image.IsAsset() {
		m.AssetID = r.image.Ref()
	} else {
		m.Expression = r.image.Ref()
	}
	return m
}

// ManifestRow is one flattened entry of a RequestSet: the exact service
// call to make plus the derived columns callers filter and join on.
type ManifestRow struct {
	ID         string
	Lon        float64
	Lat        float64
	X          float64
	Y          float64
	EPSG       string
	Image      string
	Bands      []string
	EdgeSize   int
	Resolution float64
	ImageID    string
	ImageDate  string
	Manifest   PixelManifest
	JSON       []byte
	Outname    string
}

// Set is a validated, immutable collection of Requests and their derived
// manifest rows.
type Set struct {
	entries []Request
	rows    []ManifestRow
}

// NewSet validates the requests (unique ids) and builds the manifest.
// Row order equals input order.
func NewSet(reqs ...Request) (*Set, error) {
	if len(reqs) == 0 {
		return nil, validationf("request set is empty")
	}

	seen := make(map[string]struct{}, len(reqs))
	rows := make([]ManifestRow, 0, len(reqs))
	for _, r := range reqs {
		if _, dup := seen[r.id]; dup {
			return nil, &DuplicateIDError{ID: r.id}
		}
		seen[r.id] = struct{}{}

		row, err := buildRow(r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	return &Set{
		entries: append([]Request(nil), reqs...),
		rows:    rows,
	}, nil
}

func buildRow(r Request) (ManifestRow, error) {
	x, y := r.gt.Centroid()
	lon, lat, err := r.gt.LonLatCentroid()
	if err != nil {
		return ManifestRow{}, fmt.Errorf("request %q: %w", r.id, err)
	}

	m := manifestFor(r)
	raw, err := m.EncodeJSON()
	if err != nil {
		return ManifestRow{}, fmt.Errorf("request %q: encode manifest: %w", r.id, err)
	}

	return ManifestRow{
		ID:         r.id,
		Lon:        lon,
		Lat:        lat,
		X:          x,
		Y:          y,
		EPSG:       r.gt.CRS,
		Image:      r.image.Ref(),
		Bands:      r.Bands(),
		EdgeSize:   r.gt.Width,
		Resolution: r.gt.ScaleX,
		ImageID:    r.imgID,
		ImageDate:  r.imgDate,
		Manifest:   m,
		JSON:       raw,
		Outname:    r.id + ".tif",
	}, nil
}

// Len returns the number of requests in the set.
func (s *Set) Len() int { return len(s.entries) }

// Requests returns a copy of the set's entries in input order.
func (s *Set) Requests() []Request { return append([]Request(nil), s.entries...) }

// Manifest returns the flattened download rows, one per request, in
// input order. The rows are read-only after construction.
func (s *Set) Manifest() []ManifestRow { return append([]ManifestRow(nil), s.rows...) }

// FromPoints builds one centered request per (lon, lat) point, all sharing
// the same image, bands, edge size and resolution. Ids follow the
// "<collection>__NNNN" scheme so output files sort with their inputs.
func FromPoints(points [][2]float64, image ImageRef, bands []string, edgeSize int, resolution float64) (*Set, error) {
	if len(points) == 0 {
		return nil, validationf("no points given")
	}

	base := "image"
	if image.IsAsset() {
		base = strings.ReplaceAll(image.Ref(), "/", "_")
	}

	reqs := make([]Request, 0, len(points))
	for i, p := range points {
		gt, err := geo.BuildGeotransform(p[0], p[1], edgeSize, resolution)
		if err != nil {
			return nil, fmt.Errorf("point %d (%g, %g): %w", i, p[0], p[1], err)
		}
		r, err := New(fmt.Sprintf("%s__%04d", base, i), image, bands, gt)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return NewSet(reqs...)
}
