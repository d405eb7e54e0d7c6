package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"
)

type rawEntry struct {
	datatype uint16
	count    uint32
	value    [4]byte
}

type ifd struct {
	order   binary.ByteOrder
	data    []byte
	entries map[uint16]rawEntry
}

func parseIFD(data []byte) (*ifd, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("geotiff: truncated header")
	}

	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("geotiff: bad byte-order mark %q", data[:2])
	}
	if order.Uint16(data[2:]) != 42 {
		return nil, fmt.Errorf("geotiff: bad magic number")
	}

	off := order.Uint32(data[4:])
	if int64(off)+2 > int64(len(data)) {
		return nil, fmt.Errorf("geotiff: IFD offset %d out of range", off)
	}

	count := int(order.Uint16(data[off:]))
	if int64(off)+2+int64(count)*12 > int64(len(data)) {
		return nil, fmt.Errorf("geotiff: truncated IFD (%d entries)", count)
	}

	d := &ifd{order: order, data: data, entries: make(map[uint16]rawEntry, count)}
	for i := 0; i < count; i++ {
		base := int(off) + 2 + i*12
		e := rawEntry{
			datatype: order.Uint16(data[base+2:]),
			count:    order.Uint32(data[base+4:]),
		}
		copy(e.value[:], data[base+8:base+12])
		d.entries[order.Uint16(data[base:])] = e
	}
	return d, nil
}

func typeSize(datatype uint16) int {
	switch datatype {
	case dtByte, dtASCII:
		return 1
	case dtShort:
		return 2
	case dtLong:
		return 4
	case dtRational, dtDouble:
		return 8
	default:
		return 0
	}
}

// valueBytes returns the raw value data of an entry, following the offset
// indirection when the value does not fit the 4-byte field.
func (d *ifd) valueBytes(e rawEntry) ([]byte, error) {
	size := typeSize(e.datatype)
	if size == 0 {
		return nil, fmt.Errorf("geotiff: unsupported data type %d", e.datatype)
	}
	total := size * int(e.count)
	if total <= 4 {
		return e.value[:total], nil
	}
	off := d.order.Uint32(e.value[:])
	if int64(off)+int64(total) > int64(len(d.data)) {
		return nil, fmt.Errorf("geotiff: value at offset %d runs past end of file", off)
	}
	return d.data[off : int(off)+total], nil
}

func (d *ifd) ints(tag uint16) ([]int, bool, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, false, nil
	}
	raw, err := d.valueBytes(e)
	if err != nil {
		return nil, false, err
	}
	size := typeSize(e.datatype)
	out := make([]int, e.count)
	for i := range out {
		switch size {
		case 1:
			out[i] = int(raw[i])
		case 2:
			out[i] = int(d.order.Uint16(raw[i*2:]))
		case 4:
			out[i] = int(d.order.Uint32(raw[i*4:]))
		default:
			return nil, false, fmt.Errorf("geotiff: tag %d is not integer-typed", tag)
		}
	}
	return out, true, nil
}

func (d *ifd) firstInt(tag uint16, def int) (int, error) {
	vs, ok, err := d.ints(tag)
	if err != nil {
		return 0, err
	}
	if !ok || len(vs) == 0 {
		return def, nil
	}
	return vs[0], nil
}

func (d *ifd) doubles(tag uint16) ([]float64, bool, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, false, nil
	}
	if e.datatype != dtDouble {
		return nil, false, fmt.Errorf("geotiff: tag %d is not DOUBLE-typed", tag)
	}
	raw, err := d.valueBytes(e)
	if err != nil {
		return nil, false, err
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(raw[i*8:]))
	}
	return out, true, nil
}

// Decode reads an uncompressed strip TIFF into a Block. Chunky and
// band-planar layouts are supported, with 8/16/32/64-bit integer or
// IEEE-float samples; everything is widened to float64.
func Decode(data []byte) (*Block, error) {
	d, err := parseIFD(data)
	if err != nil {
		return nil, err
	}

	width, err := d.firstInt(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.firstInt(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("geotiff: invalid dimensions %dx%d", width, height)
	}

	compression, err := d.firstInt(tagCompression, compressionNone)
	if err != nil {
		return nil, err
	}
	if compression != compressionNone {
		return nil, fmt.Errorf("geotiff: unsupported compression %d", compression)
	}

	bands, err := d.firstInt(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	bits, err := d.firstInt(tagBitsPerSample, 1)
	if err != nil {
		return nil, err
	}
	format, err := d.firstInt(tagSampleFormat, sampleFormatUint)
	if err != nil {
		return nil, err
	}
	planar, err := d.firstInt(tagPlanarConfig, planarChunky)
	if err != nil {
		return nil, err
	}
	rowsPerStrip, err := d.firstInt(tagRowsPerStrip, height)
	if err != nil {
		return nil, err
	}
	if rowsPerStrip <= 0 || rowsPerStrip > height {
		rowsPerStrip = height
	}

	switch bits {
	case 8, 16, 32, 64:
	default:
		return nil, fmt.Errorf("geotiff: unsupported bit depth %d", bits)
	}
	if format == sampleFormatFloat && bits < 32 {
		return nil, fmt.Errorf("geotiff: %d-bit float samples are not valid", bits)
	}
	if format != sampleFormatUint && format != sampleFormatInt && format != sampleFormatFloat {
		return nil, fmt.Errorf("geotiff: unsupported sample format %d", format)
	}

	offsets, ok, err := d.ints(tagStripOffsets)
	if err != nil {
		return nil, err
	}
	if !ok || len(offsets) == 0 {
		return nil, fmt.Errorf("geotiff: missing strip offsets")
	}

	stripsPerBand := (height + rowsPerStrip - 1) / rowsPerStrip
	wantStrips := stripsPerBand
	if planar == planarSeparate {
		wantStrips = stripsPerBand * bands
	}
	if len(offsets) != wantStrips {
		return nil, fmt.Errorf("geotiff: have %d strips, want %d", len(offsets), wantStrips)
	}

	b := NewBlock(width, height, bands)
	byteSize := bits / 8

	readSample := func(raw []byte, i int) float64 {
		off := i * byteSize
		switch bits {
		case 8:
			if format == sampleFormatInt {
				return float64(int8(raw[off]))
			}
			return float64(raw[off])
		case 16:
			v := d.order.Uint16(raw[off:])
			if format == sampleFormatInt {
				return float64(int16(v))
			}
			return float64(v)
		case 32:
			v := d.order.Uint32(raw[off:])
			switch format {
			case sampleFormatFloat:
				return float64(math.Float32frombits(v))
			case sampleFormatInt:
				return float64(int32(v))
			}
			return float64(v)
		default: // 64
			v := d.order.Uint64(raw[off:])
			switch format {
			case sampleFormatFloat:
				return math.Float64frombits(v)
			case sampleFormatInt:
				return float64(int64(v))
			}
			return float64(v)
		}
	}

	for s, off := range offsets {
		band0, rowStart := 0, s*rowsPerStrip
		if planar == planarSeparate {
			band0 = s / stripsPerBand
			rowStart = (s % stripsPerBand) * rowsPerStrip
		}
		rows := rowsPerStrip
		if rowStart+rows > height {
			rows = height - rowStart
		}

		samplesPerRow := width
		if planar == planarChunky {
			samplesPerRow = width * bands
		}
		stripBytes := rows * samplesPerRow * byteSize
		if int64(off)+int64(stripBytes) > int64(len(data)) {
			return nil, fmt.Errorf("geotiff: strip %d runs past end of file", s)
		}
		raw := data[off : off+stripBytes]

		i := 0
		for row := rowStart; row < rowStart+rows; row++ {
			for col := 0; col < width; col++ {
				if planar == planarChunky {
					for band := 0; band < bands; band++ {
						b.Set(band, row, col, readSample(raw, i))
						i++
					}
				} else {
					b.Set(band0, row, col, readSample(raw, i))
					i++
				}
			}
		}
	}

	return b, nil
}

// DecodeGeo reads the georeferencing tags of a GeoTIFF. Files without
// pixel-scale or tiepoint tags yield a zero-valued GeoMeta.
func DecodeGeo(data []byte) (*GeoMeta, error) {
	d, err := parseIFD(data)
	if err != nil {
		return nil, err
	}

	meta := &GeoMeta{}

	if scale, ok, err := d.doubles(tagModelPixelScale); err != nil {
		return nil, err
	} else if ok && len(scale) >= 2 {
		meta.ScaleX = scale[0]
		meta.ScaleY = -scale[1]
	}

	if tie, ok, err := d.doubles(tagModelTiepoint); err != nil {
		return nil, err
	} else if ok && len(tie) >= 6 {
		meta.OriginX = tie[3]
		meta.OriginY = tie[4]
	}

	if keys, ok, err := d.ints(tagGeoKeyDirectory); err != nil {
		return nil, err
	} else if ok {
		// Directory header is 4 shorts, then one 4-short record per key.
		for i := 4; i+3 < len(keys); i += 4 {
			if keys[i] == keyProjectedCRS && keys[i+1] == 0 {
				meta.EPSG = keys[i+3]
			}
		}
	}

	return meta, nil
}
