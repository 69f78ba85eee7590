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

import "fmt"

// TIFF uses the "early change" LZW variant: the code width grows one code
// earlier than in the LZW implemented by compress/lzw, which is why the
// codec is implemented here.

const (
	lzwClear = 256
	lzwEOI   = 257
)

// lzwDecode decompresses a TIFF LZW strip.
func lzwDecode(data []byte) ([]byte, error) {
	var out []byte
	table := make([][]byte, 4096)
	for i := 0; i < 256; i++ {
		table[i] = []byte{byte(i)}
	}
	next := 258
	width := 9
	bitpos := 0
	read := func() (int, bool) {
		if bitpos+width > len(data)*8 {
			return 0, false
		}
		v := 0
		for i := 0; i < width; i++ {
			v = v<<1 | int(data[bitpos>>3]>>uint(7-bitpos&7))&1
			bitpos++
		}
		return v, true
	}

	var prev []byte
	for {
		code, ok := read()
		if !ok || code == lzwEOI {
			break
		}
		if code == lzwClear {
			for i := 258; i < next; i++ {
				table[i] = nil
			}
			next = 258
			width = 9
			prev = nil
			continue
		}
		var entry []byte
		switch {
		case code < next && table[code] != nil:
			entry = table[code]
		case code == next && prev != nil:
			entry = append(append([]byte{}, prev...), prev[0])
		default:
			return nil, fmt.Errorf("geotiff: corrupt LZW stream (code %d, table size %d)", code, next)
		}
		out = append(out, entry...)
		if prev != nil && next < 4096 {
			table[next] = append(append([]byte{}, prev...), entry[0])
			next++
			if next == 1<<uint(width)-1 && width < 12 {
				width++
			}
		}
		prev = entry
	}
	return out, nil
}

// lzwEncode compresses data as a TIFF LZW strip.
func lzwEncode(data []byte) []byte {
	var out []byte
	var acc uint32
	var nbits uint
	width := uint(9)
	emit := func(code int) {
		acc = acc<<width | uint32(code)
		nbits += width
		for nbits >= 8 {
			out = append(out, byte(acc>>(nbits-8)))
			nbits -= 8
		}
	}

	table := make(map[uint32]int)
	next := 258
	emit(lzwClear)
	prefix := -1
	for _, b := range data {
		if prefix < 0 {
			prefix = int(b)
			continue
		}
		key := uint32(prefix)<<8 | uint32(b)
		if code, ok := table[key]; ok {
			prefix = code
			continue
		}
		emit(prefix)
		table[key] = next
		next++
		// The encoder's table runs one entry ahead of the decoder's, so
		// the early-change switch happens here at 1<<width, matching the
		// decoder's switch at 1<<width - 1.
		if next == 1<<width && width < 12 {
			width++
		}
		if next == 4094 {
			emit(lzwClear)
			table = make(map[uint32]int)
			next = 258
			width = 9
		}
		prefix = int(b)
	}
	if prefix >= 0 {
		emit(prefix)
	}
	emit(lzwEOI)
	if nbits > 0 {
		out = append(out, byte(acc<<(8-nbits)))
	}
	return out
}
