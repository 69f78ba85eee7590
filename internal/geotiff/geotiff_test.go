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

package geotiff

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
)

func testImage() *Image {
	im := &Image{
		Nx: 5, Ny: 4,
		X0: 29.5, Y0: 4.3,
		Dx: 0.1, Dy: 0.1,
		EPSG:   EPSGWGS84,
		Nodata: -9999,
		Data:   make([]float64, 20),
	}
	for i := range im.Data {
		im.Data[i] = float64(i) / 4
	}
	return im
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	im := testImage()
	var buf bytes.Buffer
	if err := Encode(&buf, im); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Nx != im.Nx || got.Ny != im.Ny {
		t.Fatalf("size = %dx%d, want %dx%d", got.Nx, got.Ny, im.Nx, im.Ny)
	}
	const eps = 1.e-6
	if math.Abs(got.X0-im.X0) > eps || math.Abs(got.Y0-im.Y0) > eps ||
		math.Abs(got.Dx-im.Dx) > eps || math.Abs(got.Dy-im.Dy) > eps {
		t.Errorf("georeferencing = (%g, %g, %g, %g), want (%g, %g, %g, %g)",
			got.X0, got.Y0, got.Dx, got.Dy, im.X0, im.Y0, im.Dx, im.Dy)
	}
	if got.EPSG != EPSGWGS84 {
		t.Errorf("EPSG = %d, want %d", got.EPSG, EPSGWGS84)
	}
	if got.Nodata != im.Nodata {
		t.Errorf("nodata = %g, want %g", got.Nodata, im.Nodata)
	}
	for i, v := range got.Data {
		// The pixels travel as 32-bit floats.
		if math.Abs(v-im.Data[i]) > 1.e-6 {
			t.Fatalf("pixel %d = %g, want %g", i, v, im.Data[i])
		}
	}
}

func TestEncodeDecodeShortNodata(t *testing.T) {
	// Nodata values with a short decimal form fit in the 4-byte IFD slot
	// and are stored inline rather than at an offset.
	for _, nodata := range []float64{-1, 0, 9, -99} {
		im := &Image{
			Nx: 2, Ny: 2,
			X0: 0, Y0: 2,
			Dx: 1, Dy: 1,
			Nodata: nodata,
			Data:   []float64{nodata, 1, 2, 3},
		}
		var buf bytes.Buffer
		if err := Encode(&buf, im); err != nil {
			t.Fatalf("nodata %g: %v", nodata, err)
		}
		got, err := Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("nodata %g: %v", nodata, err)
		}
		if got.Nodata != nodata {
			t.Errorf("nodata round trip = %g, want %g", got.Nodata, nodata)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not a TIFF file"))); err == nil {
		t.Error("expected an error for a non-TIFF input")
	}
}

func TestLZWRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"single byte", []byte{7}},
		{"repetitive", bytes.Repeat([]byte{0, 0, 1, 1, 2}, 1000)},
		{"all zeros", make([]byte, 10000)},
	}
	for _, test := range tests {
		got, err := lzwDecode(lzwEncode(test.data))
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if !bytes.Equal(got, test.data) {
			t.Errorf("%s: round trip changed the data (%d bytes in, %d out)",
				test.name, len(test.data), len(got))
		}
	}
}

func TestLZWRoundTripRandom(t *testing.T) {
	// Random data forces the code width through the full 9..12 range and
	// across table resets.
	r := rand.New(rand.NewSource(3))
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(r.Intn(256))
	}
	got, err := lzwDecode(lzwEncode(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round trip changed the data")
	}
}

func TestLZWRoundTripFloatPixels(t *testing.T) {
	// The byte pattern of little-endian float32 pixels, as produced by
	// the encoder.
	data := make([]byte, 0, 4000)
	for i := 0; i < 1000; i++ {
		data = append(data, byte(i), byte(i>>8), 0, 0x3f)
	}
	got, err := lzwDecode(lzwEncode(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round trip changed the data")
	}
}
