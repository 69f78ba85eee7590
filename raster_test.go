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

package floodpipeline

import (
	"math"
	"testing"

	"github.com/ctessum/geom"
)

// testRaster returns a 4x4 grid spanning (0, 0)..(4, 4) with one unit
// cells, filled row by row from the north with 0..15.
func testRaster() *Raster {
	r := NewRaster(0, 4, 1, 1, 4, 4)
	for i := range r.Data.Elements {
		r.Data.Elements[i] = float64(i)
	}
	return r
}

func square(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

func TestZonalMax(t *testing.T) {
	r := testRaster()
	// The south-west quadrant holds cells 8, 9, 12, 13.
	if got := r.ZonalMax(square(0, 0, 2, 2)); got != 13 {
		t.Errorf("zonal max = %g, want 13", got)
	}
	// All-touched: a polygon partly overlapping a cell includes it.
	if got := r.ZonalMax(square(0.5, 0.5, 1.5, 1.5)); got != 13 {
		t.Errorf("zonal max (partial overlap) = %g, want 13", got)
	}
	if got := r.ZonalMax(square(10, 10, 12, 12)); !math.IsNaN(got) {
		t.Errorf("zonal max outside the grid = %g, want NaN", got)
	}
}

func TestZonalMaxSkipsNodata(t *testing.T) {
	r := testRaster()
	r.Nodata = 13
	if got := r.ZonalMax(square(0, 0, 2, 2)); got != 12 {
		t.Errorf("zonal max = %g, want 12 (13 is nodata)", got)
	}
}

func TestZonalSum(t *testing.T) {
	r := testRaster()
	if got := r.ZonalSum(square(0, 0, 2, 2)); got != 8+9+12+13 {
		t.Errorf("zonal sum = %g, want %d", got, 8+9+12+13)
	}
	if got := r.ZonalSum(square(10, 10, 12, 12)); got != 0 {
		t.Errorf("zonal sum outside the grid = %g, want 0", got)
	}
}

func TestSample(t *testing.T) {
	r := testRaster()
	if got := r.Sample(0.5, 3.5); got != 0 {
		t.Errorf("sample north-west = %g, want 0", got)
	}
	if got := r.Sample(3.5, 0.5); got != 15 {
		t.Errorf("sample south-east = %g, want 15", got)
	}
	if got := r.Sample(-1, 1); !math.IsNaN(got) {
		t.Errorf("sample outside the grid = %g, want NaN", got)
	}
}

func TestMaskTo(t *testing.T) {
	r := testRaster()
	masked := r.MaskTo(square(0, 0, 2, 2))
	if got := masked.Data.Get(3, 0); got != 12 {
		t.Errorf("masked cell inside = %g, want 12", got)
	}
	if got := masked.Data.Get(0, 3); got != 0 {
		t.Errorf("masked cell outside = %g, want 0", got)
	}
}

func TestMergeMax(t *testing.T) {
	a := NewRaster(0, 4, 1, 1, 4, 4)
	b := a.Clone()
	a.Data.Set(2, 1, 1)
	b.Data.Set(5, 1, 1)
	b.Data.Set(1, 2, 2)
	if err := a.MergeMax(b); err != nil {
		t.Fatal(err)
	}
	if got := a.Data.Get(1, 1); got != 5 {
		t.Errorf("merged cell = %g, want 5", got)
	}
	if got := a.Data.Get(2, 2); got != 1 {
		t.Errorf("merged cell = %g, want 1", got)
	}

	c := NewRaster(0, 4, 1, 1, 2, 2)
	if err := a.MergeMax(c); err == nil {
		t.Error("expected an error for mismatched grids")
	}
}

func TestMaskFloodedCrossGrid(t *testing.T) {
	// A coarse flood extent with one wet cell over (1, 2)..(2, 3) is
	// applied to a finer population grid.
	flood := NewRaster(0, 4, 1, 1, 4, 4)
	flood.Data.Set(0.8, 1, 1)

	pop := NewRaster(0, 4, 0.5, 0.5, 8, 8)
	for i := range pop.Data.Elements {
		pop.Data.Elements[i] = 10
	}

	masked := pop.MaskFlooded(flood.FloodedIndex(0))
	var sum float64
	for _, v := range masked.Data.Elements {
		sum += v
	}
	// Four fine cells lie under the wet coarse cell.
	if sum != 40 {
		t.Errorf("masked population = %g, want 40", sum)
	}
}

func TestFloodedIndexMinDepth(t *testing.T) {
	flood := NewRaster(0, 4, 1, 1, 4, 4)
	flood.Data.Set(0.05, 0, 0)
	flood.Data.Set(0.5, 1, 1)

	pop := NewRaster(0, 4, 1, 1, 4, 4)
	for i := range pop.Data.Elements {
		pop.Data.Elements[i] = 1
	}
	masked := pop.MaskFlooded(flood.FloodedIndex(0.1))
	var sum float64
	for _, v := range masked.Data.Elements {
		sum += v
	}
	if sum != 1 {
		t.Errorf("masked population = %g, want 1 (shallow cell below the depth cutoff)", sum)
	}
}

func TestGeoTIFFRoundTrip(t *testing.T) {
	r := testRaster()
	r.Nodata = -9999
	im := r.ToGeoTIFF()
	back := FromGeoTIFF(im)
	if !r.SameGrid(back) {
		t.Error("grid changed in GeoTIFF round trip")
	}
	for i, v := range back.Data.Elements {
		if v != r.Data.Elements[i] {
			t.Fatalf("cell %d = %g, want %g", i, v, r.Data.Elements[i])
		}
	}
	if back.Nodata != r.Nodata {
		t.Errorf("nodata = %g, want %g", back.Nodata, r.Nodata)
	}
}
