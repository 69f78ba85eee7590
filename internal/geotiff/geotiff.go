/*
Copyright © 2025 the IBF river flood pipeline authors.
This file is part of the IBF river flood pipeline.

The IBF river flood pipeline is free software: you can redistribute it
and/or modify it under the terms of the GNU General Public License as
published by the Free Software Foundation, either version 3 of the License,
or (at your option) any later version.

The IBF river flood pipeline is distributed in the hope that it will be
useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with the IBF river flood pipeline.  If not, see
<http://www.gnu.org/licenses/>.
*/

// Package geotiff reads and writes single-band floating-point GeoTIFF
// rasters of the kind produced by GDAL: strip-organized, north-up, with
// ModelPixelScale/ModelTiepoint georeferencing and a GDAL_NODATA marker.
// Tiled files, multi-band files and predictors are not supported.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"strconv"
	"strings"
)

// EPSGWGS84 is the EPSG code of the WGS84 geographic coordinate system.
const EPSGWGS84 = 4326

// Image is a decoded single-band raster. Row 0 is the northernmost row;
// X0 is the west edge and Y0 the north edge of the grid; Dx and Dy are
// positive cell sizes.
type Image struct {
	Nx, Ny int
	X0, Y0 float64
	Dx, Dy float64
	EPSG   int
	Nodata float64
	Data   []float64 // row-major, length Nx*Ny
}

// TIFF tag IDs.
const (
	tImageWidth       = 256
	tImageLength      = 257
	tBitsPerSample    = 258
	tCompression      = 259
	tPhotometric      = 262
	tStripOffsets     = 273
	tSamplesPerPixel  = 277
	tRowsPerStrip     = 278
	tStripByteCounts  = 279
	tPredictor        = 317
	tTileWidth        = 322
	tSampleFormat     = 339
	tModelPixelScale  = 33550
	tModelTiepoint    = 33922
	tGeoKeyDirectory  = 34735
	tGDALNodata       = 42113
)

// TIFF compression schemes.
const (
	cNone     = 1
	cLZW      = 5
	cDeflate  = 8
	cPackBits = 32773
)

// TIFF field types.
const (
	ftByte     = 1
	ftASCII    = 2
	ftShort    = 3
	ftLong     = 4
	ftRational = 5
	ftDouble   = 12
)

var fieldSize = map[uint16]int{
	ftByte: 1, ftASCII: 1, ftShort: 2, ftLong: 4, ftRational: 8, ftDouble: 8,
}

type field struct {
	typ    uint16
	count  uint32
	data   []byte // raw value bytes
	border binary.ByteOrder
}

func (f *field) ints() []int {
	out := make([]int, f.count)
	for i := range out {
		switch f.typ {
		case ftByte:
			out[i] = int(f.data[i])
		case ftShort:
			out[i] = int(f.border.Uint16(f.data[2*i:]))
		case ftLong:
			out[i] = int(f.border.Uint32(f.data[4*i:]))
		}
	}
	return out
}

func (f *field) doubles() []float64 {
	out := make([]float64, f.count)
	for i := range out {
		out[i] = math.Float64frombits(f.border.Uint64(f.data[8*i:]))
	}
	return out
}

func (f *field) ascii() string {
	return strings.TrimRight(string(f.data), "\x00")
}

// Decode reads a GeoTIFF from r.
func Decode(r io.Reader) (*Image, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("geotiff: %v", err)
	}
	if len(b) < 8 {
		return nil, fmt.Errorf("geotiff: file too short")
	}
	var border binary.ByteOrder
	switch string(b[0:2]) {
	case "II":
		border = binary.LittleEndian
	case "MM":
		border = binary.BigEndian
	default:
		return nil, fmt.Errorf("geotiff: invalid byte order mark %q", b[0:2])
	}
	if border.Uint16(b[2:]) != 42 {
		return nil, fmt.Errorf("geotiff: not a classic TIFF")
	}
	ifdOffset := border.Uint32(b[4:])
	if int(ifdOffset)+2 > len(b) {
		return nil, fmt.Errorf("geotiff: IFD offset out of range")
	}

	nEntries := int(border.Uint16(b[ifdOffset:]))
	fields := make(map[uint16]*field)
	for i := 0; i < nEntries; i++ {
		e := b[int(ifdOffset)+2+12*i:]
		tag := border.Uint16(e)
		typ := border.Uint16(e[2:])
		count := border.Uint32(e[4:])
		size, ok := fieldSize[typ]
		if !ok { // unknown field type, skip
			continue
		}
		n := size * int(count)
		var data []byte
		if n <= 4 {
			data = e[8 : 8+n]
		} else {
			off := border.Uint32(e[8:])
			if int(off)+n > len(b) {
				return nil, fmt.Errorf("geotiff: tag %d value out of range", tag)
			}
			data = b[off : int(off)+n]
		}
		fields[tag] = &field{typ: typ, count: count, data: data, border: border}
	}

	if _, tiled := fields[tTileWidth]; tiled {
		return nil, fmt.Errorf("geotiff: tiled files are not supported")
	}
	intTag := func(tag uint16, dflt int) int {
		f, ok := fields[tag]
		if !ok || f.count == 0 {
			return dflt
		}
		return f.ints()[0]
	}
	nx := intTag(tImageWidth, 0)
	ny := intTag(tImageLength, 0)
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("geotiff: missing image dimensions")
	}
	if spp := intTag(tSamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("geotiff: %d samples per pixel; only single-band rasters are supported", spp)
	}
	if p := intTag(tPredictor, 1); p != 1 {
		return nil, fmt.Errorf("geotiff: predictor %d is not supported", p)
	}
	bits := intTag(tBitsPerSample, 1)
	if bits != 32 && bits != 64 {
		return nil, fmt.Errorf("geotiff: %d bits per sample; only 32- and 64-bit floats are supported", bits)
	}
	if sf := intTag(tSampleFormat, 1); sf != 3 {
		return nil, fmt.Errorf("geotiff: sample format %d; only IEEE float rasters are supported", sf)
	}
	compression := intTag(tCompression, cNone)

	offsetsF, ok1 := fields[tStripOffsets]
	countsF, ok2 := fields[tStripByteCounts]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("geotiff: missing strip layout")
	}
	offsets := offsetsF.ints()
	counts := countsF.ints()
	if len(offsets) != len(counts) {
		return nil, fmt.Errorf("geotiff: strip offset/count mismatch")
	}
	rowsPerStrip := intTag(tRowsPerStrip, ny)

	im := &Image{Nx: nx, Ny: ny, Data: make([]float64, nx*ny)}

	bytesPerSample := bits / 8
	rowBytes := nx * bytesPerSample
	row := 0
	for i, off := range offsets {
		if off+counts[i] > len(b) {
			return nil, fmt.Errorf("geotiff: strip %d out of range", i)
		}
		raw, err := decompress(b[off:off+counts[i]], compression)
		if err != nil {
			return nil, err
		}
		stripRows := rowsPerStrip
		if row+stripRows > ny {
			stripRows = ny - row
		}
		if len(raw) < stripRows*rowBytes {
			return nil, fmt.Errorf("geotiff: strip %d too short: %d < %d", i, len(raw), stripRows*rowBytes)
		}
		for j := 0; j < stripRows*nx; j++ {
			var v float64
			if bits == 32 {
				v = float64(math.Float32frombits(border.Uint32(raw[j*4:])))
			} else {
				v = math.Float64frombits(border.Uint64(raw[j*8:]))
			}
			im.Data[row*nx+j] = v
		}
		row += stripRows
	}

	// Georeferencing.
	scaleF, okS := fields[tModelPixelScale]
	tieF, okT := fields[tModelTiepoint]
	if !okS || !okT || scaleF.count < 2 || tieF.count < 6 {
		return nil, fmt.Errorf("geotiff: missing georeferencing tags")
	}
	scale := scaleF.doubles()
	tie := tieF.doubles()
	im.Dx = scale[0]
	im.Dy = scale[1]
	// Tiepoint maps raster (i, j) to model (x, y); GDAL ties (0, 0).
	im.X0 = tie[3] - tie[0]*im.Dx
	im.Y0 = tie[4] + tie[1]*im.Dy

	if geoF, ok := fields[tGeoKeyDirectory]; ok {
		keys := geoF.ints()
		for i := 4; i+3 < len(keys); i += 4 {
			// keyID, location, count, value
			if keys[i] == 2048 && keys[i+1] == 0 {
				im.EPSG = keys[i+3]
			}
		}
	}
	if ndF, ok := fields[tGDALNodata]; ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(ndF.ascii()), 64); err == nil {
			im.Nodata = v
		}
	}
	return im, nil
}

func decompress(b []byte, compression int) ([]byte, error) {
	switch compression {
	case cNone:
		return b, nil
	case cLZW:
		return lzwDecode(b)
	case cDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("geotiff: %v", err)
		}
		defer zr.Close()
		out, err := ioutil.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("geotiff: %v", err)
		}
		return out, nil
	case cPackBits:
		return packBitsDecode(b), nil
	}
	return nil, fmt.Errorf("geotiff: compression scheme %d is not supported", compression)
}

func packBitsDecode(b []byte) []byte {
	var out []byte
	for i := 0; i < len(b); {
		n := int(int8(b[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(b) {
				end = len(b)
			}
			out = append(out, b[i:end]...)
			i = end
		case n != -128:
			if i < len(b) {
				for j := 0; j < 1-n; j++ {
					out = append(out, b[i])
				}
				i++
			}
		}
	}
	return out
}

// Encode writes im to w as a little-endian, LZW-compressed float32
// GeoTIFF with a single sample per pixel.
func Encode(w io.Writer, im *Image) error {
	if im.Nx <= 0 || im.Ny <= 0 || len(im.Data) != im.Nx*im.Ny {
		return fmt.Errorf("geotiff: inconsistent image dimensions")
	}
	border := binary.LittleEndian

	raw := make([]byte, 4*len(im.Data))
	for i, v := range im.Data {
		border.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
	}
	strip := lzwEncode(raw)

	nodata := strconv.FormatFloat(im.Nodata, 'g', -1, 64) + "\x00"
	pixelScale := []float64{im.Dx, im.Dy, 0}
	tiepoint := []float64{0, 0, 0, im.X0, im.Y0, 0}
	epsg := im.EPSG
	if epsg == 0 {
		epsg = EPSGWGS84
	}
	// GTModelTypeGeoKey=2 (geographic), GTRasterTypeGeoKey=1 (area),
	// GeographicTypeGeoKey=EPSG.
	geoKeys := []uint16{1, 1, 0, 3,
		1024, 0, 1, 2,
		1025, 0, 1, 1,
		2048, 0, 1, uint16(epsg)}

	// Layout: header | strip | pixel scale | tiepoint | geo keys |
	// nodata | IFD.
	stripOff := uint32(8)
	scaleOff := stripOff + uint32(len(strip))
	tieOff := scaleOff + 3*8
	geoOff := tieOff + 6*8
	nodataOff := geoOff + uint32(len(geoKeys))*2
	ifdOff := nodataOff + uint32(len(nodata))
	if ifdOff%2 != 0 { // IFDs must be word-aligned
		nodata += "\x00"
		ifdOff++
	}

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	entries := []entry{
		{tImageWidth, ftLong, 1, uint32(im.Nx)},
		{tImageLength, ftLong, 1, uint32(im.Ny)},
		{tBitsPerSample, ftShort, 1, 32},
		{tCompression, ftShort, 1, cLZW},
		{tPhotometric, ftShort, 1, 1},
		{tStripOffsets, ftLong, 1, stripOff},
		{tSamplesPerPixel, ftShort, 1, 1},
		{tRowsPerStrip, ftLong, 1, uint32(im.Ny)},
		{tStripByteCounts, ftLong, 1, uint32(len(strip))},
		{tSampleFormat, ftShort, 1, 3},
		{tModelPixelScale, ftDouble, 3, scaleOff},
		{tModelTiepoint, ftDouble, 6, tieOff},
		{tGeoKeyDirectory, ftShort, uint32(len(geoKeys)), geoOff},
		{tGDALNodata, ftASCII, uint32(len(nodata)), nodataOff},
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, border, uint16(42))
	binary.Write(&buf, border, ifdOff)
	buf.Write(strip)
	for _, v := range pixelScale {
		binary.Write(&buf, border, v)
	}
	for _, v := range tiepoint {
		binary.Write(&buf, border, v)
	}
	for _, v := range geoKeys {
		binary.Write(&buf, border, v)
	}
	buf.WriteString(nodata)
	binary.Write(&buf, border, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, border, e.tag)
		binary.Write(&buf, border, e.typ)
		binary.Write(&buf, border, e.count)
		size := fieldSize[e.typ] * int(e.count)
		if size <= 4 {
			// Inline values are left-justified in the 4-byte slot.
			switch e.typ {
			case ftShort:
				binary.Write(&buf, border, uint16(e.value))
				binary.Write(&buf, border, uint16(0))
			case ftASCII:
				// The only ASCII entry is the nodata string; a short
				// one is stored in the slot itself, not at an offset.
				slot := make([]byte, 4)
				copy(slot, nodata)
				buf.Write(slot)
			default:
				binary.Write(&buf, border, e.value)
			}
		} else {
			binary.Write(&buf, border, e.value)
		}
	}
	binary.Write(&buf, border, uint32(0)) // no next IFD

	_, err := w.Write(buf.Bytes())
	return err
}
