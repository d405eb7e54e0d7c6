package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// Minimal TIFF constants. Defining our own set avoids pulling in an image
// library that cannot represent multiband float rasters anyway.
const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
	dtDouble   = 12

	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	// GeoTIFF tags
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735

	// GeoTIFF keys
	keyModelType    = 1024
	keyRasterType   = 1025
	keyProjectedCRS = 3072

	compressionNone   = 1
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
	planarChunky      = 1
	planarSeparate    = 2
)

var enc = binary.LittleEndian

// GeoMeta is the georeferencing carried by a GeoTIFF: the affine anchor of
// the top-left corner plus the pixel size and the projected CRS code.
type GeoMeta struct {
	OriginX float64
	OriginY float64
	ScaleX  float64
	ScaleY  float64 // negative for north-up rasters
	EPSG    int
}

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
	offset   uint32 // set when data does not fit the value field
}

type byTag []ifdEntry

func (d byTag) Len() int           { return len(d) }
func (d byTag) Less(i, j int) bool { return d[i].tag < d[j].tag }
func (d byTag) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// Encode writes b to w as an uncompressed band-planar float64 GeoTIFF:
// little-endian, one strip per band, 64-bit IEEE samples. geo is optional;
// when nil the file carries no georeferencing tags.
func Encode(w io.Writer, b *Block, geo *GeoMeta) error {
	if b == nil || b.Width <= 0 || b.Height <= 0 || b.Bands <= 0 {
		return fmt.Errorf("geotiff: cannot encode empty block")
	}
	if len(b.Samples) != b.Width*b.Height*b.Bands {
		return fmt.Errorf("geotiff: sample buffer has %d values, want %d",
			len(b.Samples), b.Width*b.Height*b.Bands)
	}

	var entries []ifdEntry
	addEntry := func(tag, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag: tag, datatype: datatype, count: count, data: data})
	}

	bands := b.Bands
	bits := make([]uint16, bands)
	formats := make([]uint16, bands)
	for i := range bits {
		bits[i] = 64
		formats[i] = sampleFormatFloat
	}

	addEntry(tagImageWidth, dtLong, 1, enc32(uint32(b.Width)))
	addEntry(tagImageLength, dtLong, 1, enc32(uint32(b.Height)))
	addEntry(tagBitsPerSample, dtShort, uint32(bands), enc16s(bits))
	addEntry(tagCompression, dtShort, 1, enc16(compressionNone))
	addEntry(tagPhotometric, dtShort, 1, enc16(1)) // BlackIsZero
	addEntry(tagSamplesPerPixel, dtShort, 1, enc16(uint16(bands)))
	addEntry(tagRowsPerStrip, dtLong, 1, enc32(uint32(b.Height)))
	addEntry(tagPlanarConfig, dtShort, 1, enc16(planarSeparate))
	addEntry(tagSampleFormat, dtShort, uint32(bands), enc16s(formats))

	// One strip per band; offsets patched once the layout is known.
	stripSize := uint32(b.Width * b.Height * 8)
	counts := make([]uint32, bands)
	for i := range counts {
		counts[i] = stripSize
	}
	addEntry(tagStripOffsets, dtLong, uint32(bands), make([]byte, 4*bands))
	addEntry(tagStripByteCounts, dtLong, uint32(bands), enc32s(counts))

	if geo != nil {
		scale := []float64{geo.ScaleX, math.Abs(geo.ScaleY), 0}
		tiepoint := []float64{0, 0, 0, geo.OriginX, geo.OriginY, 0}
		keys := []uint16{
			1, 1, 0, 3,
			keyModelType, 0, 1, 1, // projected
			keyRasterType, 0, 1, 1, // PixelIsArea
			keyProjectedCRS, 0, 1, uint16(geo.EPSG),
		}
		addEntry(tagModelPixelScale, dtDouble, 3, encDoubles(scale))
		addEntry(tagModelTiepoint, dtDouble, 6, encDoubles(tiepoint))
		addEntry(tagGeoKeyDirectory, dtShort, uint32(len(keys)), enc16s(keys))
	}

	sort.Sort(byTag(entries))

	// Layout: header (8) | IFD | out-of-line values | strips.
	ifdSize := 2 + 12*len(entries) + 4
	largeSize := 0
	for i := range entries {
		if len(entries[i].data) > 4 {
			entries[i].offset = uint32(8 + ifdSize + largeSize)
			largeSize += len(entries[i].data)
		}
	}
	pixelsOffset := uint32(8 + ifdSize + largeSize)

	offsets := make([]uint32, bands)
	for i := range offsets {
		offsets[i] = pixelsOffset + uint32(i)*stripSize
	}
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			// Same length as the placeholder, so the layout holds.
			entries[i].data = enc32s(offsets)
		}
	}

	if _, err := w.Write([]byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}); err != nil {
		return err
	}
	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, enc, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.datatype); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.count); err != nil {
			return err
		}
		var val [4]byte
		if len(e.data) <= 4 {
			copy(val[:], e.data)
		} else {
			enc.PutUint32(val[:], e.offset)
		}
		if _, err := w.Write(val[:]); err != nil {
			return err
		}
	}
	if err := binary.Write(w, enc, uint32(0)); err != nil { // next IFD
		return err
	}
	for _, e := range entries {
		if len(e.data) > 4 {
			if _, err := w.Write(e.data); err != nil {
				return err
			}
		}
	}

	// Strips: samples are already band-planar, write them straight through.
	buf := make([]byte, 0, 8*4096)
	sample := make([]byte, 8)
	for _, v := range b.Samples {
		enc.PutUint64(sample, math.Float64bits(v))
		buf = append(buf, sample...)
		if len(buf) == cap(buf) {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}

	return nil
}

// Helpers

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func enc32s(vs []uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		enc.PutUint32(b[i*4:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}
